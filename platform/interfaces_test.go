package platform

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInterface(name, ip string, kind InterfaceKind) NetworkInterface {
	return NetworkInterface{
		Name:              name,
		IPAddress:         net.ParseIP(ip).To4(),
		IsUp:              true,
		SupportsMulticast: true,
		Kind:              kind,
	}
}

func TestChoosePrimaryInterfacePrefersEthernet(t *testing.T) {
	ifs := []NetworkInterface{
		testInterface("vpn0", "10.0.0.1", KindVPN),
		testInterface("wlan0", "192.168.1.100", KindWiFi),
		testInterface("eth0", "192.168.1.101", KindEthernet),
	}
	primary, ok := ChoosePrimaryInterface(ifs)
	require.True(t, ok)
	assert.Equal(t, "eth0", primary.Name)
}

func TestChoosePrimaryInterfaceSkipsUnusable(t *testing.T) {
	down := testInterface("eth0", "192.168.1.1", KindEthernet)
	down.IsUp = false
	lo := testInterface("lo", "127.0.0.1", KindLoopback)
	lo.IsLoopback = true
	noMulticast := testInterface("eth1", "192.168.1.2", KindEthernet)
	noMulticast.SupportsMulticast = false

	_, ok := ChoosePrimaryInterface([]NetworkInterface{down, lo, noMulticast})
	assert.False(t, ok)

	wifi := testInterface("wlan0", "192.168.1.3", KindWiFi)
	primary, ok := ChoosePrimaryInterface([]NetworkInterface{down, lo, wifi})
	require.True(t, ok)
	assert.Equal(t, "wlan0", primary.Name)
}

func TestChoosePrimaryInterfaceEmpty(t *testing.T) {
	_, ok := ChoosePrimaryInterface(nil)
	assert.False(t, ok)
}

func TestClassifyInterface(t *testing.T) {
	assert.Equal(t, KindLoopback, classifyInterface(net.Interface{Name: "lo", Flags: net.FlagLoopback}))
	assert.Equal(t, KindEthernet, classifyInterface(net.Interface{Name: "eth0"}))
	assert.Equal(t, KindEthernet, classifyInterface(net.Interface{Name: "enp3s0"}))
	assert.Equal(t, KindWiFi, classifyInterface(net.Interface{Name: "wlan0"}))
	assert.Equal(t, KindVPN, classifyInterface(net.Interface{Name: "tun0"}))
	assert.Equal(t, KindVPN, classifyInterface(net.Interface{Name: "wg0"}))
	assert.Equal(t, KindOther, classifyInterface(net.Interface{Name: "docker0"}))
}

func TestEnumerateInterfacesDoesNotFail(t *testing.T) {
	ifs, err := EnumerateInterfaces()
	require.NoError(t, err)
	// Whatever the host looks like, every returned entry must carry an
	// IPv4 address.
	for _, ifi := range ifs {
		assert.NotNil(t, ifi.IPAddress.To4(), ifi.Name)
	}
}

func TestDetect(t *testing.T) {
	info, err := Detect(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, info.OS)
	assert.NotNil(t, info.Metadata)
	assert.NotEmpty(t, info.Diagnostics())
}
