//go:build darwin

package platform

import (
	"os"
	"path/filepath"
)

func detectCapabilities() Capabilities {
	return Capabilities{
		CanBindPrivilegedPorts: os.Geteuid() == 0,
		SupportsMulticast:      true,
		// The application firewall ships enabled-by-default on recent
		// releases; treat it as present.
		HasFirewall:                true,
		CaseSensitiveFS:            false,
		SupportsNetworkPaths:       true,
		RequiresNetworkPermissions: true,
	}
}

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() string {
	home := os.Getenv("HOME")
	return filepath.Join(home, "Library", "Application Support", "vuio")
}

// DefaultDataDir returns where the media index database lives.
func DefaultDataDir() string {
	return DefaultConfigDir()
}

// DefaultMediaDirs lists conventional media locations to seed a fresh
// configuration with.
func DefaultMediaDirs() []string {
	home := os.Getenv("HOME")
	return []string{
		filepath.Join(home, "Movies"),
		filepath.Join(home, "Music"),
		filepath.Join(home, "Pictures"),
	}
}
