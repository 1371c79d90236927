package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sbl-ops/dumpguard/internal/types"
)

func TestBootstrapFlushReplaysLeveledEntries(t *testing.T) {
	b := NewBootstrapLogger()
	if b.minLevel != types.LogLevelInfo {
		t.Fatalf("default minLevel should be INFO, got %v", b.minLevel)
	}

	b.Println("banner line")
	b.Printf("banner-%d", 2)
	b.Info("info entry")
	b.Warning("warn entry")
	b.Error("err entry")

	if len(b.entries) != 5 {
		t.Fatalf("expected 5 recorded entries, got %d", len(b.entries))
	}

	var buf bytes.Buffer
	logger := New(types.LogLevelDebug, false)
	logger.SetOutput(&buf)

	b.Flush(logger)

	out := buf.String()
	for _, msg := range []string{"info entry", "warn entry", "err entry"} {
		if !strings.Contains(out, msg) {
			t.Fatalf("flushed output missing %q, got %q", msg, out)
		}
	}
	// Raw banners were already printed at bootstrap time; the flush must not
	// repeat them on the console.
	if strings.Contains(out, "banner") {
		t.Fatalf("raw entries should not reach the console on flush: %q", out)
	}

	// A second flush is a no-op.
	buf.Reset()
	b.Flush(logger)
	if buf.Len() != 0 {
		t.Fatalf("second flush should not emit anything, got %q", buf.String())
	}
}

func TestBootstrapFlushRawEntriesGoToLogFile(t *testing.T) {
	b := NewBootstrapLogger()
	b.Println("early banner")
	b.Info("early info")

	logger := New(types.LogLevelDebug, false)
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logPath := filepath.Join(t.TempDir(), "flush.log")
	if err := logger.OpenLogFile(logPath); err != nil {
		t.Fatalf("OpenLogFile: %v", err)
	}
	defer logger.CloseLogFile()

	b.Flush(logger)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "early banner") {
		t.Fatalf("expected raw entry in log file, got %q", string(data))
	}
	if !strings.Contains(string(data), "early info") {
		t.Fatalf("expected leveled entry in log file, got %q", string(data))
	}
	if strings.Contains(buf.String(), "early banner") {
		t.Fatalf("raw entry duplicated on the console: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "early info") {
		t.Fatalf("leveled entry missing from the console: %q", buf.String())
	}
}

func TestBootstrapFlushLevelFiltering(t *testing.T) {
	b := NewBootstrapLogger()
	b.SetLevel(types.LogLevelWarning)
	b.Info("info skipped")
	b.Warning("warn kept")
	b.Error("err kept")

	var buf bytes.Buffer
	logger := New(types.LogLevelDebug, false)
	logger.SetOutput(&buf)

	b.Flush(logger)
	out := buf.String()
	if strings.Contains(out, "info skipped") {
		t.Fatalf("info should have been filtered out")
	}
	if !strings.Contains(out, "warn kept") || !strings.Contains(out, "err kept") {
		t.Fatalf("expected warn and err to be emitted, got %q", out)
	}
}

func TestBootstrapDebugMirrorsAndFlushesAtDebugLevel(t *testing.T) {
	b := NewBootstrapLogger()
	b.SetLevel(types.LogLevelDebug)

	var mirrorBuf bytes.Buffer
	mirror := New(types.LogLevelDebug, false)
	mirror.SetOutput(&mirrorBuf)
	b.SetMirrorLogger(mirror)

	b.Debug("debug-%d", 1)
	if !strings.Contains(mirrorBuf.String(), "debug-1") {
		t.Fatalf("expected mirror logger to receive debug message, got %q", mirrorBuf.String())
	}

	var flushBuf bytes.Buffer
	logger := New(types.LogLevelDebug, false)
	logger.SetOutput(&flushBuf)
	b.Flush(logger)
	if !strings.Contains(flushBuf.String(), "debug-1") {
		t.Fatalf("expected debug message to be flushed, got %q", flushBuf.String())
	}
}
