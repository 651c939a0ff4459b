//go:build windows

package platform

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

func detectCapabilities() Capabilities {
	return Capabilities{
		// Windows does not reserve ports below 1024 for elevated
		// processes; binding 1900 works for regular users.
		CanBindPrivilegedPorts:     true,
		SupportsMulticast:          true,
		HasFirewall:                true,
		CaseSensitiveFS:            false,
		SupportsNetworkPaths:       true,
		RequiresNetworkPermissions: false,
	}
}

// IsElevated reports whether the process runs with an elevated token.
func IsElevated() bool {
	var token windows.Token
	if err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_QUERY, &token); err != nil {
		return false
	}
	defer token.Close()
	return token.IsElevated()
}

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() string {
	if dir := os.Getenv("APPDATA"); dir != "" {
		return filepath.Join(dir, "vuio")
	}
	return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming", "vuio")
}

// DefaultDataDir returns where the media index database lives.
func DefaultDataDir() string {
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		return filepath.Join(dir, "vuio")
	}
	return DefaultConfigDir()
}

// DefaultMediaDirs lists conventional media locations to seed a fresh
// configuration with.
func DefaultMediaDirs() []string {
	profile := os.Getenv("USERPROFILE")
	return []string{
		filepath.Join(profile, "Videos"),
		filepath.Join(profile, "Music"),
		filepath.Join(profile, "Pictures"),
	}
}
