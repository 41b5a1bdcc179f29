package infra

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNewLogger_ConsoleAndFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "info"
	cfg.Logging.File = filepath.Join(t.TempDir(), "logs", "trader.log")

	var console bytes.Buffer
	logger := newLogger(cfg, &console)
	logger.Info("cycle finished", slog.String("symbol", "QRL/USDT"))
	logger.Debug("filtered")

	var entry map[string]any
	if err := json.Unmarshal(console.Bytes(), &entry); err != nil {
		t.Fatalf("Expected one JSON line on the console, got %q: %v", console.String(), err)
	}
	if entry["msg"] != "cycle finished" || entry["symbol"] != "QRL/USDT" {
		t.Errorf("Unexpected console entry %v", entry)
	}

	data, err := os.ReadFile(cfg.Logging.File)
	if err != nil {
		t.Fatalf("Expected log file to exist: %v", err)
	}
	if !bytes.Equal(data, console.Bytes()) {
		t.Errorf("Expected file to mirror console, got %q", data)
	}
}

func TestNewLogger_ConsoleOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.File = ""

	var console bytes.Buffer
	newLogger(cfg, &console).Warn("cache degraded")

	if !bytes.Contains(console.Bytes(), []byte(`"level":"WARN"`)) {
		t.Errorf("Expected warn entry on the console, got %q", console.String())
	}
}
