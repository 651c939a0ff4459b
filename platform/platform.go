// Package platform hides OS differences behind a stable capability surface.
// Upper layers never branch on the operating system except through this
// package: path rules, interface enumeration, socket options and the
// privileged port policy all live here.
package platform

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/sirupsen/logrus"
)

// Capabilities is the fixed record of what the current OS lets us do.
type Capabilities struct {
	CanBindPrivilegedPorts     bool
	SupportsMulticast          bool
	HasFirewall                bool
	CaseSensitiveFS            bool
	SupportsNetworkPaths       bool
	RequiresNetworkPermissions bool
}

// Info is the result of platform detection.
type Info struct {
	OS           string
	Version      string
	Capabilities Capabilities
	Interfaces   []NetworkInterface
	Metadata     map[string]string
}

// ServerToken returns the OS identifier used in SSDP SERVER headers,
// e.g. "Linux/6.1" or "Windows/10.0".
func (i *Info) ServerToken() string {
	if i.Version == "" {
		return i.OS
	}
	return i.OS + "/" + i.Version
}

// Detect inspects the host and returns its platform description. Interface
// enumeration failures are logged and yield an empty list; they never fail
// detection.
func Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:           osName(),
		Capabilities: detectCapabilities(),
		Metadata:     map[string]string{"arch": runtime.GOARCH},
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.Version = hi.PlatformVersion
		info.Metadata["platform"] = hi.Platform
		info.Metadata["kernel"] = hi.KernelVersion
		info.Metadata["hostname"] = hi.Hostname
	} else {
		logrus.WithError(err).Debug("host info unavailable")
	}

	ifs, err := EnumerateInterfaces()
	if err != nil {
		logrus.WithError(err).Warn("failed to enumerate network interfaces")
		ifs = nil
	}
	info.Interfaces = ifs

	return info, nil
}

func osName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	}
	return runtime.GOOS
}
