package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"feedsync/internal/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_PATH", "")
	os.Unsetenv("DB_PATH")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DBPath != "feedsync.sqlite" {
		t.Fatalf("unexpected DB path: %q", cfg.DBPath)
	}

	if cfg.BackfillBatchSize != 5 {
		t.Fatalf("unexpected backfill batch size: %d", cfg.BackfillBatchSize)
	}

	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected log level: %v", cfg.LogLevel)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/reader.sqlite")
	t.Setenv("SYNC_TIMEOUT", "90s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DBPath != "/tmp/reader.sqlite" {
		t.Fatalf("unexpected DB path: %q", cfg.DBPath)
	}

	if cfg.SyncTimeout != 90*time.Second {
		t.Fatalf("unexpected sync timeout: %v", cfg.SyncTimeout)
	}

	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected log level: %v", cfg.LogLevel)
	}
}
