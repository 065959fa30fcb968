//go:build !windows

package service

const (
	shellPath = "/bin/sh"
	shellFlag = "-c"
)
