//go:build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - socket option stub for platforms without the Linux path.

package tcp

import "syscall"

// control is a no-op; Go already sets SO_REUSEADDR on Unix listeners.
func control(Config) func(network, address string, c syscall.RawConn) error {
	return nil
}
