// internal/config/config.go
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration paths and settings
type Config struct {
	HomeDir       string
	CopperlineDir string
	DatabasePath  string
	SnapshotDir   string
	LogDir        string

	Settings Settings
}

// Settings is the user-editable part, read from settings.yaml.
type Settings struct {
	RoutingServiceURL string   `yaml:"routing_service_url"`
	BoardFile         string   `yaml:"board_file"`
	DefaultLayer      string   `yaml:"default_layer"`
	DefaultWidth      float64  `yaml:"default_width"`
	ViaSize           float64  `yaml:"via_size"`
	DrillSize         float64  `yaml:"drill_size"`
	Layers            []string `yaml:"layers"`
}

func defaultSettings() Settings {
	return Settings{
		RoutingServiceURL: "http://127.0.0.1:7070",
		DefaultLayer:      "top",
		DefaultWidth:      0.3,
		ViaSize:           0.6,
		DrillSize:         0.3,
		Layers:            []string{"top", "bottom"},
	}
}

// Default returns an in-memory config with default settings and no
// durable paths, for running without a usable home directory. Nothing
// is persisted in this mode.
func Default() *Config {
	return &Config{Settings: defaultSettings()}
}

// Load creates a Config instance with resolved paths
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return loadFrom(home)
}

func loadFrom(home string) (*Config, error) {
	appDir := filepath.Join(home, ".copperline")
	logDir := filepath.Join(appDir, "logs")
	snapshotDir := filepath.Join(appDir, "snapshots")

	// Ensure directories exist
	for _, dir := range []string{appDir, logDir, snapshotDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	settings, err := loadSettings(filepath.Join(appDir, "settings.yaml"))
	if err != nil {
		return nil, err
	}

	return &Config{
		HomeDir:       home,
		CopperlineDir: appDir,
		DatabasePath:  filepath.Join(appDir, "traces.db"),
		SnapshotDir:   snapshotDir,
		LogDir:        logDir,
		Settings:      settings,
	}, nil
}

// loadSettings reads settings.yaml, falling back to defaults for a
// missing file or missing keys.
func loadSettings(path string) (Settings, error) {
	settings := defaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, err
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, err
	}

	if settings.DefaultLayer == "" {
		settings.DefaultLayer = "top"
	}
	if settings.DefaultWidth <= 0 {
		settings.DefaultWidth = 0.3
	}
	if settings.ViaSize <= 0 {
		settings.ViaSize = 0.6
	}
	if settings.DrillSize <= 0 {
		settings.DrillSize = 0.3
	}
	if len(settings.Layers) == 0 {
		settings.Layers = []string{"top", "bottom"}
	}

	return settings, nil
}
