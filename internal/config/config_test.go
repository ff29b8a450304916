package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ImageMountDir != "/mnt/bootstick_iso" {
		t.Errorf("Expected default image mount dir, got %s", cfg.ImageMountDir)
	}
	if cfg.SplitSizeMB != 3800 {
		t.Errorf("Expected split size 3800, got %d", cfg.SplitSizeMB)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
image_mount_dir: /tmp/iso
device_mount_dir: /tmp/usb
command_timeout: 90s
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ImageMountDir != "/tmp/iso" || cfg.DeviceMountDir != "/tmp/usb" {
		t.Errorf("Mount dirs not loaded: %+v", cfg)
	}
	if cfg.CommandTimeout != 90*time.Second {
		t.Errorf("Expected 90s timeout, got %s", cfg.CommandTimeout)
	}
	if cfg.Level() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", cfg.Level())
	}
	// untouched keys keep their defaults
	if cfg.DeviceLimit != 16 {
		t.Errorf("Expected default device limit, got %d", cfg.DeviceLimit)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("device_limit: [oops"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected an error for malformed YAML")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.DeviceLimit = 4

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DeviceLimit != 4 {
		t.Errorf("Expected device limit 4, got %d", loaded.DeviceLimit)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"same mount dirs", func(c *Config) { c.DeviceMountDir = c.ImageMountDir + "/" }},
		{"empty image dir", func(c *Config) { c.ImageMountDir = "" }},
		{"zero limit", func(c *Config) { c.DeviceLimit = 0 }},
		{"zero split size", func(c *Config) { c.SplitSizeMB = 0 }},
		{"negative timeout", func(c *Config) { c.CommandTimeout = -time.Second }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"empty offset", func(c *Config) { c.PartitionOffset = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
