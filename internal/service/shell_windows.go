//go:build windows

package service

const (
	shellPath = "cmd"
	shellFlag = "/C"
)
