// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the process-wide slog logger.
//
// Records use an event name as the message and key/value attributes for
// the details:
//
//	slog.Info("SERVER_START", "addr", addr)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// SinkEnv selects where logs go. "stderr" (default), "stdout" or
// "file:/path/to/log".
const SinkEnv = "CHATRELAY_LOG_SINK"

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs a text handler at the given level as the default logger and
// returns it.
func Init(level string) *slog.Logger {
	return InitWriter(sink(), level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level string) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	slog.SetDefault(logger)
	return logger
}

// sink resolves SinkEnv. The chat REPL owns stdout, so stderr is the default.
func sink() io.Writer {
	target := os.Getenv(SinkEnv)
	switch {
	case target == "stdout":
		return os.Stdout
	case strings.HasPrefix(target, "file:"):
		path := strings.TrimPrefix(target, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err == nil {
			return f
		}
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
	}
	return os.Stderr
}
