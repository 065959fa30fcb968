package service

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/fleetd/internal/logger"
)

// Default spec values applied by Normalize.
const (
	DefaultProbeInterval = 500 * time.Millisecond
	DefaultProbeAttempts = 60
	DefaultGraceTimeout  = 5 * time.Second
	DefaultDepTimeout    = 60 * time.Second
)

// RestartPolicy controls watchdog-driven restarts after a failure.
// Delay grows exponentially from BaseDelay up to MaxDelay; after
// MaxAttempts consecutive failures the service stays failed until an
// operator restart.
type RestartPolicy struct {
	Enabled     bool          `json:"enabled" mapstructure:"enabled"`
	BaseDelay   time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay" mapstructure:"max_delay"`
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
}

// Spec describes one service to be managed. Specs are immutable once the
// orchestrator is constructed.
type Spec struct {
	Name          string        `json:"name" mapstructure:"name"`
	Command       string        `json:"command" mapstructure:"command"`
	WorkDir       string        `json:"work_dir" mapstructure:"workdir"`
	Env           []string      `json:"env" mapstructure:"env"`
	Port          int           `json:"port" mapstructure:"port"`
	HealthPath    string        `json:"health_path" mapstructure:"health_path"`
	DependsOn     []string      `json:"depends_on" mapstructure:"depends_on"`
	Restart       RestartPolicy `json:"restart" mapstructure:"restart"`
	GraceTimeout  time.Duration `json:"grace_timeout" mapstructure:"grace_timeout"`
	DepTimeout    time.Duration `json:"dep_timeout" mapstructure:"dep_timeout"`
	ProbeInterval time.Duration `json:"probe_interval" mapstructure:"probe_interval"`
	ProbeAttempts int           `json:"probe_attempts" mapstructure:"probe_attempts"`
	Log           logger.Config `json:"log" mapstructure:"log"`
}

// Normalize fills zero-valued tuning fields with defaults. It does not
// validate; call Validate separately.
func (s *Spec) Normalize() {
	if s.ProbeInterval <= 0 {
		s.ProbeInterval = DefaultProbeInterval
	}
	if s.ProbeAttempts <= 0 {
		s.ProbeAttempts = DefaultProbeAttempts
	}
	if s.GraceTimeout <= 0 {
		s.GraceTimeout = DefaultGraceTimeout
	}
	if s.DepTimeout <= 0 {
		s.DepTimeout = DefaultDepTimeout
	}
	if s.Restart.Enabled {
		if s.Restart.BaseDelay <= 0 {
			s.Restart.BaseDelay = time.Second
		}
		if s.Restart.MaxDelay < s.Restart.BaseDelay {
			s.Restart.MaxDelay = s.Restart.BaseDelay
		}
		if s.Restart.MaxAttempts <= 0 {
			s.Restart.MaxAttempts = 5
		}
	}
}

// Validate checks basic spec invariants. Dependency resolution (unknown
// references, cycles) is validated by the manager against the full set.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("service requires a name")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("service %s requires a command", s.Name)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("service %s: invalid port %d", s.Name, s.Port)
	}
	if s.HealthPath != "" {
		if s.Port == 0 {
			return fmt.Errorf("service %s: health_path requires a port", s.Name)
		}
		if !strings.HasPrefix(s.HealthPath, "/") {
			return fmt.Errorf("service %s: health_path must start with '/'", s.Name)
		}
	}
	for _, dep := range s.DependsOn {
		if dep == s.Name {
			return fmt.Errorf("service %s depends on itself", s.Name)
		}
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec's command line.
// Plain argv commands are executed directly; anything containing shell
// metacharacters goes through /bin/sh -c so redirection and pipes work.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command(shellPath, shellFlag, cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}
