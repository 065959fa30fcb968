package service

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	s := Spec{Name: "a", Command: "sleep 1"}
	s.Normalize()
	if s.ProbeInterval != DefaultProbeInterval {
		t.Fatalf("ProbeInterval = %v", s.ProbeInterval)
	}
	if s.ProbeAttempts != DefaultProbeAttempts {
		t.Fatalf("ProbeAttempts = %d", s.ProbeAttempts)
	}
	if s.GraceTimeout != DefaultGraceTimeout {
		t.Fatalf("GraceTimeout = %v", s.GraceTimeout)
	}
	if s.DepTimeout != DefaultDepTimeout {
		t.Fatalf("DepTimeout = %v", s.DepTimeout)
	}
}

func TestNormalizeRestartPolicy(t *testing.T) {
	s := Spec{Name: "a", Command: "sleep 1", Restart: RestartPolicy{Enabled: true}}
	s.Normalize()
	if s.Restart.BaseDelay != time.Second {
		t.Fatalf("BaseDelay = %v", s.Restart.BaseDelay)
	}
	if s.Restart.MaxDelay < s.Restart.BaseDelay {
		t.Fatalf("MaxDelay %v < BaseDelay %v", s.Restart.MaxDelay, s.Restart.BaseDelay)
	}
	if s.Restart.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts = %d", s.Restart.MaxAttempts)
	}
	// disabled policy stays untouched
	d := Spec{Name: "b", Command: "sleep 1"}
	d.Normalize()
	if d.Restart.BaseDelay != 0 || d.Restart.MaxAttempts != 0 {
		t.Fatalf("disabled policy normalized: %+v", d.Restart)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		ok   bool
	}{
		{"valid", Spec{Name: "a", Command: "sleep 1"}, true},
		{"valid with probe", Spec{Name: "a", Command: "x", Port: 8080, HealthPath: "/healthz"}, true},
		{"missing name", Spec{Command: "sleep 1"}, false},
		{"missing command", Spec{Name: "a"}, false},
		{"bad port", Spec{Name: "a", Command: "x", Port: 70000}, false},
		{"health path without port", Spec{Name: "a", Command: "x", HealthPath: "/hc"}, false},
		{"health path without slash", Spec{Name: "a", Command: "x", Port: 80, HealthPath: "hc"}, false},
		{"self dependency", Spec{Name: "a", Command: "x", DependsOn: []string{"a"}}, false},
	}
	for _, tc := range cases {
		err := tc.spec.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestBuildCommandArgv(t *testing.T) {
	s := Spec{Name: "a", Command: "sleep 0.1"}
	cmd := s.BuildCommand()
	if len(cmd.Args) != 2 || cmd.Args[0] != "sleep" || cmd.Args[1] != "0.1" {
		t.Fatalf("args = %v", cmd.Args)
	}
}

func TestBuildCommandShellMetachars(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell path differs on windows")
	}
	s := Spec{Name: "a", Command: "echo hi && sleep 0.1"}
	cmd := s.BuildCommand()
	if !strings.HasSuffix(cmd.Path, "sh") {
		t.Fatalf("expected shell execution, got %q %v", cmd.Path, cmd.Args)
	}
	if cmd.Args[len(cmd.Args)-1] != "echo hi && sleep 0.1" {
		t.Fatalf("command line not passed through: %v", cmd.Args)
	}
}
