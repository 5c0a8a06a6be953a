// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" DEBUG ": slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitWriter_FiltersByLevel(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	InitWriter(&buf, "warn")

	slog.Info("IGNORED")
	slog.Warn("SERVER_SHUTDOWN", "phase", "draining")

	out := buf.String()
	if strings.Contains(out, "IGNORED") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, "msg=SERVER_SHUTDOWN") || !strings.Contains(out, "phase=draining") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestInit_FileSink(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	path := filepath.Join(t.TempDir(), "chatrelay.log")
	t.Setenv(SinkEnv, "file:"+path)

	Init("info").Info("FILE_SINK", "ok", true)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "FILE_SINK") {
		t.Errorf("log file = %q, want FILE_SINK record", data)
	}
}
