package platform

import (
	"fmt"
	"strings"
)

// Diagnostics renders a human readable report of the detected platform,
// logged at startup in debug mode. Operators paste this into bug reports,
// so keep it plain text and stable.
func (i *Info) Diagnostics() string {
	var b strings.Builder
	fmt.Fprintf(&b, "platform: %s %s (%s)\n", i.OS, i.Version, i.Metadata["arch"])
	if k := i.Metadata["kernel"]; k != "" {
		fmt.Fprintf(&b, "kernel: %s\n", k)
	}
	c := i.Capabilities
	fmt.Fprintf(&b, "capabilities: privileged-ports=%v multicast=%v firewall=%v case-sensitive-fs=%v network-paths=%v network-permissions=%v\n",
		c.CanBindPrivilegedPorts, c.SupportsMulticast, c.HasFirewall,
		c.CaseSensitiveFS, c.SupportsNetworkPaths, c.RequiresNetworkPermissions)
	if len(i.Interfaces) == 0 {
		b.WriteString("interfaces: none detected\n")
	}
	for _, ifi := range i.Interfaces {
		fmt.Fprintf(&b, "interface: %-12s %-15s kind=%s up=%v loopback=%v multicast=%v\n",
			ifi.Name, ifi.IPAddress, ifi.Kind, ifi.IsUp, ifi.IsLoopback, ifi.SupportsMulticast)
	}
	if primary, ok := ChoosePrimaryInterface(i.Interfaces); ok {
		fmt.Fprintf(&b, "primary interface: %s (%s)\n", primary.Name, primary.IPAddress)
	} else {
		b.WriteString("primary interface: none usable, falling back to loopback\n")
	}
	if c.HasFirewall {
		b.WriteString("note: a host firewall was detected; allow UDP 1900 and the configured HTTP port\n")
	}
	return b.String()
}
