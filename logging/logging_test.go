package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c0deZ3R0/go-crdt-kit/errors"
)

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("ENVIRONMENT", "production")

	config := GetConfigFromEnv()
	if config.Level != "warn" {
		t.Errorf("level = %q", config.Level)
	}
	if config.Format != "text" {
		t.Errorf("format = %q", config.Format)
	}
	if config.AddSource {
		t.Error("production config should disable source info")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logging.yaml")
	content := "level: debug\nformat: text\nenvironment: test\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.Level != "debug" || config.Format != "text" || config.Environment != "test" {
		t.Errorf("config = %+v", config)
	}
	// Unset fields keep defaults.
	if config.AddSource != DefaultConfig.AddSource {
		t.Errorf("add_source = %v", config.AddSource)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(buf, nil))}
}

func TestLogOperationTracksOutcome(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	err := logger.WithComponent("store").LogOperation(context.Background(), "compact", func() error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"operation started", "operation completed", "operation=compact", "component=store", "success=true"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	fail := fmt.Errorf("disk full")
	if got := logger.LogOperation(context.Background(), "compact", func() error { return fail }); got != fail {
		t.Errorf("LogOperation returned %v, want the callback error", got)
	}
	if !strings.Contains(buf.String(), "operation failed") {
		t.Errorf("failure not logged:\n%s", buf.String())
	}
}

func TestLogErrorStructuresKitError(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	kitErr := errors.NewDecodingError(errors.OpApplyUpdate, "document", fmt.Errorf("bad bytes"))
	logger.LogError(context.Background(), kitErr, "apply failed")

	out := buf.String()
	for _, want := range []string{"DECODING_FAILURE", "apply_update", "bad bytes", "caller"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDynamicLevelVar(t *testing.T) {
	d := NewDynamicLevelVar(0)
	for _, level := range []string{"debug", "info", "warn", "warning", "error"} {
		if !d.SetFromString(level) {
			t.Errorf("SetFromString(%q) = false", level)
		}
	}
	if d.SetFromString("nope") {
		t.Error("accepted invalid level")
	}
}
