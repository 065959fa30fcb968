package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/fleetd/pkg/client"
)

func apiClient(flags *APIFlags) *client.Client {
	return client.New(client.Config{
		BaseURL: flags.URL,
		Timeout: flags.Timeout,
	})
}

func apiContext(flags *APIFlags) (context.Context, context.CancelFunc) {
	timeout := flags.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func createStatusCommand(apiFlags *APIFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show fleet status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(apiFlags)
			ctx, cancel := apiContext(apiFlags)
			defer cancel()
			if name != "" {
				st, err := c.StatusOne(ctx, name)
				if err != nil {
					return err
				}
				printStatuses([]client.ServiceStatus{st})
				return nil
			}
			sts, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printStatuses(sts)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "show one service only")
	return cmd
}

func printStatuses(sts []client.ServiceStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSTATE\tPID\tUPTIME\tRESTARTS\tREASON")
	for _, st := range sts {
		uptime := "-"
		if st.Uptime > 0 {
			uptime = st.Uptime.Round(time.Second).String()
		}
		reason := st.ExitReason
		if reason == "" {
			reason = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
			st.Name, st.State, st.PID, uptime, st.Restarts, reason)
	}
	_ = w.Flush()
}

func createStartCommand(apiFlags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the fleet in dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(apiFlags)
			ctx, cancel := apiContext(apiFlags)
			defer cancel()
			if err := c.StartAll(ctx); err != nil {
				return err
			}
			fmt.Println("fleet start initiated")
			return nil
		},
	}
}

func createStopCommand(apiFlags *APIFlags) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the fleet in reverse dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(apiFlags)
			// Stop waits for full fleet shutdown; give it headroom past grace.
			timeout := apiFlags.Timeout
			if timeout < grace+30*time.Second {
				timeout = grace + 30*time.Second
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := c.StopAll(ctx, grace); err != nil {
				return err
			}
			fmt.Println("fleet stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "per-service grace before SIGKILL (0 = configured default)")
	return cmd
}

func createRestartCommand(apiFlags *APIFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart one service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			c := apiClient(apiFlags)
			ctx, cancel := apiContext(apiFlags)
			defer cancel()
			if err := c.Restart(ctx, name); err != nil {
				return err
			}
			fmt.Printf("restart of %s initiated\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "service name (required)")
	return cmd
}

func createLogsCommand(apiFlags *APIFlags) *cobra.Command {
	var name string
	var n int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent captured output of a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			c := apiClient(apiFlags)
			ctx, cancel := apiContext(apiFlags)
			defer cancel()
			resp, err := c.Logs(ctx, name, n)
			if err != nil {
				return err
			}
			for _, line := range resp.Lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "service name (required)")
	cmd.Flags().IntVarP(&n, "lines", "n", 100, "number of lines")
	return cmd
}

func createHistoryCommand(apiFlags *APIFlags) *cobra.Command {
	var name string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent lifecycle transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(apiFlags)
			ctx, cancel := apiContext(apiFlags)
			defer cancel()
			events, err := c.History(ctx, name, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "AT\tNAME\tFROM\tTO\tREASON\tPID")
			for _, ev := range events {
				reason := ev.Reason
				if reason == "" {
					reason = "-"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					ev.At.Local().Format(time.RFC3339), ev.Name, ev.From, ev.To, reason, ev.PID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "filter by service name")
	cmd.Flags().IntVar(&limit, "limit", 100, "max events")
	return cmd
}
