// Package env merges environment layers for spawned services:
// OS environment (opt-in) < orchestrator globals < per-service overrides.
package env

import (
	"os"
	"sort"
	"strings"
)

type Env struct {
	global []string
	useOS  bool
}

func New(global []string, useOS bool) *Env {
	return &Env{global: append([]string(nil), global...), useOS: useOS}
}

// Merge layers extra on top of the globals (and optionally the OS
// environment). Later layers win per key. The result is sorted for
// deterministic spawn environments.
func (e *Env) Merge(extra []string) []string {
	m := make(map[string]string)
	if e.useOS {
		apply(m, os.Environ())
	}
	apply(m, e.global)
	apply(m, extra)
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func apply(m map[string]string, kvs []string) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
}
