package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "/etc/bootstick/config.yaml"

// Config represents the bootstick configuration
type Config struct {
	// Private mount points used while building a drive
	ImageMountDir  string `yaml:"image_mount_dir"`
	DeviceMountDir string `yaml:"device_mount_dir"`

	// Maximum number of devices reported by an enumeration
	DeviceLimit int `yaml:"device_limit"`

	// Upper bound for a single external command; zero waits forever
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// Start of the ESP partition, in parted units
	PartitionOffset string `yaml:"partition_offset"`

	// Size of each install.swm part in MiB
	SplitSizeMB int `yaml:"split_size_mb"`

	// Check the partition table after a successful run
	VerifyLayout bool `yaml:"verify_layout"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		ImageMountDir:   "/mnt/bootstick_iso",
		DeviceMountDir:  "/mnt/bootstick_usb",
		DeviceLimit:     16,
		PartitionOffset: "4MiB",
		SplitSizeMB:     3800,
		VerifyLayout:    true,
		LogLevel:        "info",
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return config, nil
}

// Save writes the configuration to a YAML file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.ImageMountDir == "" || c.DeviceMountDir == "" {
		return fmt.Errorf("image_mount_dir and device_mount_dir are required")
	}
	if filepath.Clean(c.ImageMountDir) == filepath.Clean(c.DeviceMountDir) {
		return fmt.Errorf("image_mount_dir and device_mount_dir must differ (both are %s)", c.ImageMountDir)
	}
	if c.DeviceLimit < 1 {
		return fmt.Errorf("device_limit must be positive")
	}
	if c.SplitSizeMB < 1 {
		return fmt.Errorf("split_size_mb must be positive")
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("command_timeout cannot be negative")
	}
	if c.PartitionOffset == "" {
		return fmt.Errorf("partition_offset is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

// Level returns the configured log level, falling back to info
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
