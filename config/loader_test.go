package config

import (
	"os"
	"path/filepath"
	"testing"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restore wd: %v", err)
		}
	})
}

func writeConfig(t *testing.T, contents string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	chdir(t, dir)
}

func TestLoadAppConfig(t *testing.T) {
	writeConfig(t, `
server:
  port: 8080
tracking:
  accuracyCeilingMeters: 150
  maxClockSkewSec: 60
  dedupWindowSec: 20
  queueCapacity: 128
  catchUpLimit: 500
  ackGraceSec: 120
history:
  maxEventsPerTrack: 5000
  retentionDays: 30
  archivePath: /var/lib/tracking/history.db
feed:
  natsURL: nats://localhost:4222
  subject: tracking.reports
`)

	if err := LoadAppConfig(); err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if Config.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", Config.Server.Port)
	}
	if Config.Tracking.AccuracyCeilingMeters != 150 {
		t.Errorf("expected accuracy ceiling 150, got %f", Config.Tracking.AccuracyCeilingMeters)
	}
	if Config.Tracking.QueueCapacity != 128 {
		t.Errorf("expected queue capacity 128, got %d", Config.Tracking.QueueCapacity)
	}
	if Config.History.MaxEventsPerTrack != 5000 {
		t.Errorf("expected 5000 events per track, got %d", Config.History.MaxEventsPerTrack)
	}
	if Config.History.ArchivePath != "/var/lib/tracking/history.db" {
		t.Errorf("unexpected archive path %q", Config.History.ArchivePath)
	}
	if Config.Feed.NATSURL != "nats://localhost:4222" {
		t.Errorf("unexpected feed URL %q", Config.Feed.NATSURL)
	}
	t.Logf("✓ full config loads")
}

func TestLoadAppConfigDefaultPort(t *testing.T) {
	writeConfig(t, `
server: {}
`)
	if err := LoadAppConfig(); err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if Config.Server.Port != 16180 {
		t.Errorf("expected default port 16180, got %d", Config.Server.Port)
	}
}

func TestLoadAppConfigMissingFile(t *testing.T) {
	chdir(t, t.TempDir())
	if err := LoadAppConfig(); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestLoadAppConfigInvalidYAML(t *testing.T) {
	writeConfig(t, "server: [not a mapping")
	if err := LoadAppConfig(); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestLoadAppConfigRejectsNegativeValues(t *testing.T) {
	writeConfig(t, `
server:
  port: 8080
tracking:
  queueCapacity: -1
`)
	if err := LoadAppConfig(); err == nil {
		t.Fatalf("expected a validation error for a negative queue capacity")
	}
}
