package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/fleetd"
	"github.com/loykin/fleetd/internal/logger"
)

// ServeFlags holds serve-specific flags.
type ServeFlags struct {
	Listen string
	Debug  bool
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the fleetd daemon",
		Long: `Start the fleetd daemon. The fleet definition and all daemon settings
are loaded from the TOML config file.

Examples:
  fleetd serve --config=fleet.toml
  fleetd serve fleet.toml
  fleetd serve fleet.toml --listen=:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("config file required: use --config=fleet.toml or pass it as an argument")
			}
			return runServe(path, serveFlags)
		},
	}

	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "HTTP API listen address (overrides [server].listen)")
	cmd.Flags().BoolVar(&serveFlags.Debug, "debug", false, "enable debug logging")
	return cmd
}

func runServe(configPath string, flags *ServeFlags) error {
	level := slog.LevelInfo
	if flags.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(logger.NewColorTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}, true))
	slog.SetDefault(log)

	cfg, err := fleetd.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	specs, err := cfg.Specs()
	if err != nil {
		return fmt.Errorf("invalid service config: %w", err)
	}
	globalEnv, err := cfg.GlobalEnv()
	if err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	if err := fleetd.RegisterMetricsDefault(); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	st, err := fleetd.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = st.EnsureSchema(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("store schema: %w", err)
	}
	defer func() { _ = st.Close() }()

	opts := fleetd.Options{
		Tick:          cfg.Scheduler.Tick,
		FlushInterval: cfg.Scheduler.FlushInterval,
		RingSize:      cfg.Scheduler.RingSize,
		GlobalEnv:     globalEnv,
		UseOSEnv:      cfg.UseOSEnv,
		Store:         st,
		Logger:        log,
	}
	sink, err := fleetd.NewHistorySink(cfg.History)
	if err != nil {
		return fmt.Errorf("history sink: %w", err)
	}
	if sink != nil {
		opts.Sinks = []fleetd.HistorySink{sink}
	}

	orch, err := fleetd.New(specs, opts)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	listen := flags.Listen
	if listen == "" {
		listen = cfg.Server.Listen
	}
	if listen == "" {
		listen = ":8080"
	}
	srv, err := fleetd.NewHTTPServer(listen, "/api", orch)
	if err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	log.Info("api server listening", "addr", listen)

	var lst interface{ Stop() }
	if cfg.Trigger.Dir != "" {
		tl, err := fleetd.NewTriggerListener(cfg.Trigger.Dir, cfg.Trigger.RescanPeriod, orch)
		if err != nil {
			return fmt.Errorf("trigger listener: %w", err)
		}
		if err := tl.Start(); err != nil {
			return fmt.Errorf("trigger listener: %w", err)
		}
		log.Info("trigger listener watching", "dir", cfg.Trigger.Dir)
		lst = tl
	}

	if err := orch.StartAll(); err != nil {
		return fmt.Errorf("start fleet: %w", err)
	}
	log.Info("fleet starting", "services", len(specs))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	if lst != nil {
		lst.Stop()
	}
	shCtx, shCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shCancel()
	if err := orch.Shutdown(shCtx, 0); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
	srvCtx, srvCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer srvCancel()
	if err := srv.Shutdown(srvCtx); err != nil {
		_ = srv.Close()
	}
	return nil
}
