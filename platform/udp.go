package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/net/ipv4"
)

// BindUDP binds a UDP socket on addr:port with SO_REUSEADDR set, so the
// SSDP responder can share port 1900 with other UPnP stacks on the host.
// A refused privileged port surfaces as a PrivilegedPortDenied error so
// the caller can walk its fallback list.
func BindUDP(addr string, port int) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return setReuseAddr(c)
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		if port < 1024 && errors.Is(err, os.ErrPermission) {
			return nil, privilegedPortError(port, err)
		}
		return nil, err
	}
	return pc, nil
}

// JoinMulticastV4 joins group on ifi and pins outgoing multicast traffic
// to that interface with the given TTL. The returned ipv4.PacketConn
// wraps pc and stays valid until pc closes.
func JoinMulticastV4(pc net.PacketConn, group net.IP, ifi *net.Interface, ttl int) (*ipv4.PacketConn, error) {
	p := ipv4.NewPacketConn(pc)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return nil, &Error{
			Kind:        InterfaceUnavailable,
			Reason:      fmt.Sprintf("multicast join on %s failed", ifName(ifi)),
			Remediation: "check that the interface is up and multicast capable; SSDP degrades to unicast without it",
			Err:         err,
		}
	}
	if err := p.SetMulticastInterface(ifi); err != nil {
		return nil, &Error{
			Kind:        InterfaceUnavailable,
			Reason:      fmt.Sprintf("cannot set outgoing multicast interface %s", ifName(ifi)),
			Remediation: "check the interface configuration",
			Err:         err,
		}
	}
	if ttl > 0 {
		// Best effort: some stacks refuse TTL changes on bound sockets.
		_ = p.SetMulticastTTL(ttl)
	}
	return p, nil
}

func ifName(ifi *net.Interface) string {
	if ifi == nil {
		return "default"
	}
	return ifi.Name
}
