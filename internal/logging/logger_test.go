package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "dirwatcher.log")

	logger, closer, err := New(Options{Level: "info", Format: "json", File: path, Console: &console})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("file a.txt was created", slog.String("file", "a.txt"))
	logger.Debug("hidden")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var rec map[string]any
	if err := json.Unmarshal(console.Bytes(), &rec); err != nil {
		t.Fatalf("console output is not one JSON record: %v\n%s", err, console.String())
	}
	if rec["msg"] != "file a.txt was created" {
		t.Errorf("console msg = %v", rec["msg"])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	for _, want := range []string{"time=", "level=INFO", `msg="file a.txt was created"`, "file=a.txt"} {
		if !strings.Contains(out, want) {
			t.Errorf("log file %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug record written at info level")
	}
}

func TestNew_FileDisabled(t *testing.T) {
	var console bytes.Buffer
	logger, closer, err := New(Options{Format: "text", File: "-", Console: &console})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()

	logger.Warn("careful")
	if !strings.Contains(console.String(), "level=WARN") {
		t.Errorf("console = %q, want text WARN record", console.String())
	}
}

func TestNew_BadFilePath(t *testing.T) {
	_, _, err := New(Options{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	if err == nil {
		t.Fatal("expected error for unwritable log path")
	}
}

func TestConsoleFormat_AutoOnBufferIsJSON(t *testing.T) {
	if got := consoleFormat("auto", &bytes.Buffer{}); got != "json" {
		t.Errorf("consoleFormat(auto, buffer) = %q, want json", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFanout_HonoursPerHandlerLevels(t *testing.T) {
	var infoBuf, errBuf bytes.Buffer
	h := newFanoutHandler(
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&errBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(h).With(slog.String("component", "test"))

	logger.Info("only info")
	logger.Error("both")

	if !strings.Contains(infoBuf.String(), "only info") || !strings.Contains(infoBuf.String(), "both") {
		t.Errorf("info handler output = %q", infoBuf.String())
	}
	if strings.Contains(errBuf.String(), "only info") {
		t.Errorf("error handler received info record: %q", errBuf.String())
	}
	if !strings.Contains(errBuf.String(), "component=test") {
		t.Errorf("WithAttrs not propagated: %q", errBuf.String())
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("fanout should be enabled at info")
	}
}
