// Package config loads, validates and persists the TOML configuration.
// The rest of the server consumes the parsed AppConfig; nothing outside
// this package touches the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vyrti/vuio/platform"
)

// AppConfig is the root of the configuration file.
type AppConfig struct {
	Server   ServerConfig   `toml:"server"`
	Network  NetworkConfig  `toml:"network"`
	Media    MediaConfig    `toml:"media"`
	Database DatabaseConfig `toml:"database"`
}

// ServerConfig covers the HTTP surface and the DLNA identity.
type ServerConfig struct {
	Port      int    `toml:"port"`
	Interface string `toml:"interface"`
	Name      string `toml:"name"`
	UUID      string `toml:"uuid"`
}

// NetworkConfig covers SSDP behavior.
type NetworkConfig struct {
	SSDPPort                int    `toml:"ssdp_port"`
	InterfaceSelection      string `toml:"interface_selection"` // "auto", "all", or an interface name
	MulticastTTL            int    `toml:"multicast_ttl"`
	AnnounceIntervalSeconds int    `toml:"announce_interval_seconds"`
}

// MediaConfig covers the index sources.
type MediaConfig struct {
	Directories         []MonitoredDirectory `toml:"directories"`
	ScanOnStartup       bool                 `toml:"scan_on_startup"`
	WatchForChanges     bool                 `toml:"watch_for_changes"`
	CleanupDeletedFiles bool                 `toml:"cleanup_deleted_files"`
	SupportedExtensions []string             `toml:"supported_extensions"`
}

// MonitoredDirectory is one configured media root.
type MonitoredDirectory struct {
	Path            string   `toml:"path"`
	Recursive       bool     `toml:"recursive"`
	Extensions      []string `toml:"extensions,omitempty"`
	ExcludePatterns []string `toml:"exclude_patterns,omitempty"`
}

// DatabaseConfig covers the sqlite store.
type DatabaseConfig struct {
	Path            string `toml:"path"`
	VacuumOnStartup bool   `toml:"vacuum_on_startup"`
	BackupEnabled   bool   `toml:"backup_enabled"`
}

// Default returns a configuration seeded with platform conventions and a
// freshly generated UUID. Callers persist it so the UUID stays stable.
func Default() *AppConfig {
	var dirs []MonitoredDirectory
	for _, d := range platform.DefaultMediaDirs() {
		dirs = append(dirs, MonitoredDirectory{Path: d, Recursive: true})
	}
	return &AppConfig{
		Server: ServerConfig{
			Port:      8080,
			Interface: "0.0.0.0",
			Name:      "VuIO Server",
			UUID:      uuid.NewString(),
		},
		Network: NetworkConfig{
			SSDPPort:                1900,
			InterfaceSelection:      "auto",
			MulticastTTL:            4,
			AnnounceIntervalSeconds: 300,
		},
		Media: MediaConfig{
			Directories:         dirs,
			ScanOnStartup:       true,
			WatchForChanges:     true,
			CleanupDeletedFiles: true,
		},
		Database: DatabaseConfig{
			VacuumOnStartup: false,
			BackupEnabled:   true,
		},
	}
}

// DefaultPath returns the conventional config file location for this OS.
func DefaultPath() string {
	return filepath.Join(platform.DefaultConfigDir(), "vuio.toml")
}

// LoadOrCreate reads the file at path, creating it with defaults first if
// it does not exist. A config created this way persists its generated UUID
// immediately, so the device identity survives restarts.
func LoadOrCreate(path string) (*AppConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		logrus.WithField("path", path).Info("created default configuration")
		return cfg, nil
	}
	return Load(path)
}

// Load reads and validates an existing config file.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	// Decode over defaults so missing keys keep their default values.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config atomically: temp file in the same directory, then
// rename over the target.
func (c *AppConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vuio-*.toml")
	if err != nil {
		return err
	}
	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(c); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Validate checks the parts that would make the server misbehave silently.
// Directory paths get format validation only; existence is checked by the
// scanner, which reports unreachable roots per directory.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Network.SSDPPort <= 0 || c.Network.SSDPPort > 65535 {
		return fmt.Errorf("network.ssdp_port %d out of range", c.Network.SSDPPort)
	}
	if c.Network.AnnounceIntervalSeconds <= 0 {
		return fmt.Errorf("network.announce_interval_seconds must be positive")
	}
	if c.Server.UUID == "" {
		c.Server.UUID = uuid.NewString()
	} else if _, err := uuid.Parse(c.Server.UUID); err != nil {
		return fmt.Errorf("server.uuid %q is not a valid UUID: %w", c.Server.UUID, err)
	}
	if c.Server.Name == "" {
		c.Server.Name = "VuIO Server"
	}
	// An invalid directory is fatal for that directory only; the process
	// gives up when every configured root is unusable.
	if len(c.Media.Directories) > 0 {
		valid := c.Media.Directories[:0]
		var lastErr error
		for _, d := range c.Media.Directories {
			if err := platform.ValidatePath(d.Path); err != nil {
				lastErr = err
				logrus.WithError(err).WithField("dir", d.Path).Error("dropping invalid media directory")
				continue
			}
			valid = append(valid, d)
		}
		c.Media.Directories = valid
		if len(valid) == 0 {
			return fmt.Errorf("no usable media directories: %w", lastErr)
		}
	}
	return nil
}

// DatabasePath returns the configured store location or the platform
// default.
func (c *AppConfig) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(platform.DefaultDataDir(), "vuio.db")
}

// BackupDir returns where shutdown backups are written.
func (c *AppConfig) BackupDir() string {
	return filepath.Join(filepath.Dir(c.DatabasePath()), "backups")
}

// MonitoredPaths returns the configured directory paths.
func (c *AppConfig) MonitoredPaths() []string {
	out := make([]string, 0, len(c.Media.Directories))
	for _, d := range c.Media.Directories {
		out = append(out, d.Path)
	}
	return out
}

// ExtensionsFor returns the effective extension list for a directory: its
// own override, else the global override, else nil (the canonical table).
func (c *AppConfig) ExtensionsFor(dir string) []string {
	for _, d := range c.Media.Directories {
		if platform.PathsEqual(d.Path, dir) && len(d.Extensions) > 0 {
			return d.Extensions
		}
	}
	return c.Media.SupportedExtensions
}

// ExcludePatternsFor returns the exclude patterns for a directory.
func (c *AppConfig) ExcludePatternsFor(dir string) []string {
	for _, d := range c.Media.Directories {
		if platform.PathsEqual(d.Path, dir) {
			return d.ExcludePatterns
		}
	}
	return nil
}

// DirectoryFor finds the configured root containing path, if any.
func (c *AppConfig) DirectoryFor(path string) (MonitoredDirectory, bool) {
	folded := platform.CaseFoldForPrefix(path)
	for _, d := range c.Media.Directories {
		root := platform.CaseFoldForPrefix(d.Path)
		if folded == root || strings.HasPrefix(folded, strings.TrimRight(root, string(os.PathSeparator))+string(os.PathSeparator)) {
			return d, true
		}
	}
	return MonitoredDirectory{}, false
}
