package ssdp

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		UUID:             "00000000-0000-0000-0000-000000000001",
		FriendlyName:     "VuIO Test",
		HostIP:           "192.0.2.10",
		HTTPPort:         8200,
		AnnounceInterval: time.Hour,
		ServerToken:      "Linux/6.1",
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, pc.Close())
	return port
}

func TestSearchResponseTemplate(t *testing.T) {
	e := New(testConfig(), nil)
	resp := e.searchResponse()

	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, resp, "CACHE-CONTROL: max-age=1800\r\n")
	assert.Contains(t, resp, "EXT:\r\n")
	assert.Contains(t, resp, "LOCATION: http://192.0.2.10:8200/description.xml\r\n")
	assert.Contains(t, resp, "SERVER: Linux/6.1 UPnP/1.0 VuIO/1.0\r\n")
	assert.Contains(t, resp, "ST: urn:schemas-upnp-org:device:MediaServer:1\r\n")
	assert.Contains(t, resp,
		"USN: uuid:00000000-0000-0000-0000-000000000001::urn:schemas-upnp-org:device:MediaServer:1\r\n")
	assert.True(t, strings.HasSuffix(resp, "\r\n\r\n"))
}

func TestNotifyTemplate(t *testing.T) {
	e := New(testConfig(), nil)
	msg := e.notifyMessage("ssdp:alive")

	assert.True(t, strings.HasPrefix(msg, "NOTIFY * HTTP/1.1\r\n"))
	assert.Contains(t, msg, "HOST: 239.255.255.250:1900\r\n")
	assert.Contains(t, msg, "NT: urn:schemas-upnp-org:device:MediaServer:1\r\n")
	assert.Contains(t, msg, "NTS: ssdp:alive\r\n")
	assert.Contains(t, msg, "LOCATION: http://192.0.2.10:8200/description.xml\r\n")
	assert.Contains(t, msg,
		"USN: uuid:00000000-0000-0000-0000-000000000001::urn:schemas-upnp-org:device:MediaServer:1\r\n")
}

func TestMSearchRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.SSDPPort = freePort(t)

	e := New(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	client, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	search := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 1\r\n" +
		"ST: urn:schemas-upnp-org:device:MediaServer:1\r\n\r\n"
	_, err = client.WriteTo([]byte(search), &net.UDPAddr{
		IP: net.IPv4(127, 0, 0, 1), Port: e.boundPort(),
	})
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 4096)
	n, _, err := client.ReadFrom(buf)
	require.NoError(t, err)
	resp := string(buf[:n])

	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK"))
	assert.Contains(t, resp, "LOCATION: http://192.0.2.10:8200/description.xml")
	assert.Contains(t, resp,
		"USN: uuid:00000000-0000-0000-0000-000000000001::urn:schemas-upnp-org:device:MediaServer:1")
}

func TestResponderIgnoresNonDiscover(t *testing.T) {
	cfg := testConfig()
	cfg.SSDPPort = freePort(t)

	e := New(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	client, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: e.boundPort()}
	_, err = client.WriteTo([]byte("NOTIFY * HTTP/1.1\r\nNTS: ssdp:alive\r\n\r\n"), dst)
	require.NoError(t, err)
	// M-SEARCH without the discover MAN header is also ignored.
	_, err = client.WriteTo([]byte("M-SEARCH * HTTP/1.1\r\nST: ssdp:all\r\n\r\n"), dst)
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(700*time.Millisecond)))
	buf := make([]byte, 4096)
	_, _, err = client.ReadFrom(buf)
	assert.Error(t, err, "no reply expected")
}

func TestBindFallsBackToNextPort(t *testing.T) {
	// Occupy a port, then hand it to the engine as primary with a free
	// fallback.
	taken, err := net.ListenPacket("udp4", "0.0.0.0:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig()
	cfg.SSDPPort = taken.LocalAddr().(*net.UDPAddr).Port
	cfg.FallbackPorts = []int{freePort(t)}

	e := New(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	assert.Equal(t, cfg.FallbackPorts[0], e.boundPort())
}

func TestSearchTargetParsing(t *testing.T) {
	req := "M-SEARCH * HTTP/1.1\r\nHOST: x\r\nst: ssdp:all\r\n\r\n"
	assert.Equal(t, "ssdp:all", searchTarget(req))
	assert.Equal(t, "", searchTarget("M-SEARCH * HTTP/1.1\r\n\r\n"))
}

func TestAnswersTarget(t *testing.T) {
	e := New(testConfig(), nil)
	assert.True(t, e.answersTarget("ssdp:all"))
	assert.True(t, e.answersTarget("upnp:rootdevice"))
	assert.True(t, e.answersTarget(DeviceType))
	assert.False(t, e.answersTarget("urn:schemas-upnp-org:device:MediaRenderer:1"))
}
