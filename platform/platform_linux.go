//go:build linux

package platform

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

func detectCapabilities() Capabilities {
	return Capabilities{
		CanBindPrivilegedPorts:     os.Geteuid() == 0 || hasNetBindCapability(),
		SupportsMulticast:          true,
		HasFirewall:                detectFirewall(),
		CaseSensitiveFS:            true,
		SupportsNetworkPaths:       false,
		RequiresNetworkPermissions: false,
	}
}

// hasNetBindCapability checks CAP_NET_BIND_SERVICE on the current thread.
func hasNetBindCapability() bool {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false
	}
	const capNetBindService = 10
	return data[0].Effective&(1<<capNetBindService) != 0
}

// detectFirewall looks for the usual suspects. Presence of the tooling is
// treated as "a firewall may filter us"; the diagnostics report tells the
// operator what to open.
func detectFirewall() bool {
	for _, p := range []string{"/usr/sbin/ufw", "/usr/bin/firewall-cmd", "/usr/sbin/nft"} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "vuio")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "vuio")
}

// DefaultDataDir returns where the media index database lives.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "vuio")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "vuio")
}

// DefaultMediaDirs lists conventional media locations to seed a fresh
// configuration with.
func DefaultMediaDirs() []string {
	home := os.Getenv("HOME")
	return []string{
		filepath.Join(home, "Videos"),
		filepath.Join(home, "Music"),
		filepath.Join(home, "Pictures"),
	}
}
