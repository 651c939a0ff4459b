package platform

import (
	"net"
	"runtime"
	"sort"
	"strings"
)

// InterfaceKind is a coarse classification used to rank candidate
// interfaces for SSDP and HTTP binding.
type InterfaceKind int

const (
	KindEthernet InterfaceKind = iota
	KindWiFi
	KindVPN
	KindLoopback
	KindOther
)

func (k InterfaceKind) String() string {
	switch k {
	case KindEthernet:
		return "ethernet"
	case KindWiFi:
		return "wifi"
	case KindVPN:
		return "vpn"
	case KindLoopback:
		return "loopback"
	}
	return "other"
}

// NetworkInterface describes one NIC with a usable IPv4 address.
type NetworkInterface struct {
	Name              string
	IPAddress         net.IP
	IsLoopback        bool
	IsUp              bool
	SupportsMulticast bool
	Kind              InterfaceKind
}

// EnumerateInterfaces lists all interfaces that carry an IPv4 address.
// Virtual container bridges are classified but not removed; callers filter
// with ChoosePrimaryInterface.
func EnumerateInterfaces() ([]NetworkInterface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, &Error{
			Kind:        InterfaceUnavailable,
			Reason:      "interface enumeration failed",
			Remediation: "check that the network stack is up; the server will fall back to 0.0.0.0",
			Err:         err,
		}
	}

	var out []NetworkInterface
	for _, ifi := range ifs {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			out = append(out, NetworkInterface{
				Name:              ifi.Name,
				IPAddress:         ipnet.IP.To4(),
				IsLoopback:        ifi.Flags&net.FlagLoopback != 0,
				IsUp:              ifi.Flags&net.FlagUp != 0,
				SupportsMulticast: ifi.Flags&net.FlagMulticast != 0,
				Kind:              classifyInterface(ifi),
			})
			break
		}
	}
	return out, nil
}

// classifyInterface guesses the interface kind from its name and flags.
// Naming conventions differ per OS; these prefixes cover the common cases
// on Linux, macOS and Windows.
func classifyInterface(ifi net.Interface) InterfaceKind {
	if ifi.Flags&net.FlagLoopback != 0 {
		return KindLoopback
	}
	name := strings.ToLower(ifi.Name)
	switch {
	case strings.HasPrefix(name, "eth"), strings.HasPrefix(name, "en"),
		strings.HasPrefix(name, "em"), strings.Contains(name, "ethernet"):
		// macOS en0 is usually WiFi on laptops, but it still ranks first
		// there via the explicit en0 tie break below.
		return KindEthernet
	case strings.HasPrefix(name, "wl"), strings.HasPrefix(name, "wi-fi"),
		strings.Contains(name, "wireless"), strings.HasPrefix(name, "ath"):
		return KindWiFi
	case strings.HasPrefix(name, "tun"), strings.HasPrefix(name, "tap"),
		strings.HasPrefix(name, "utun"), strings.HasPrefix(name, "wg"),
		strings.HasPrefix(name, "ppp"), strings.Contains(name, "vpn"):
		return KindVPN
	}
	return KindOther
}

// ChoosePrimaryInterface picks the interface SSDP and LOCATION URLs should
// use: the first candidate that is up, non-loopback and multicast capable,
// preferring Ethernet over WiFi over VPN over anything else. On macOS en0
// wins ties within a kind.
func ChoosePrimaryInterface(ifs []NetworkInterface) (NetworkInterface, bool) {
	candidates := make([]NetworkInterface, 0, len(ifs))
	for _, ifi := range ifs {
		if ifi.IsUp && !ifi.IsLoopback && ifi.SupportsMulticast && ifi.IPAddress != nil {
			candidates = append(candidates, ifi)
		}
	}
	if len(candidates) == 0 {
		return NetworkInterface{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := kindRank(candidates[i].Kind), kindRank(candidates[j].Kind)
		if ri != rj {
			return ri < rj
		}
		if runtime.GOOS == "darwin" {
			if candidates[i].Name == "en0" && candidates[j].Name != "en0" {
				return true
			}
			if candidates[j].Name == "en0" && candidates[i].Name != "en0" {
				return false
			}
		}
		return false
	})
	return candidates[0], true
}

func kindRank(k InterfaceKind) int {
	switch k {
	case KindEthernet:
		return 0
	case KindWiFi:
		return 1
	case KindVPN:
		return 2
	case KindLoopback:
		return 4
	}
	return 3
}
