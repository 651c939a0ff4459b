// Package ssdp implements the discovery half of the media server: an
// M-SEARCH responder joined to the SSDP multicast group and a periodic
// NOTIFY ssdp:alive announcer. When no interface accepts the multicast
// join, both degrade to a unicast-only mode that still answers searches
// that reach the socket and best-effort broadcasts the announcements.
package ssdp

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vyrti/vuio/lib/retry"
	"github.com/vyrti/vuio/platform"
)

const (
	// MulticastAddr is the well-known SSDP IPv4 group.
	MulticastAddr = "239.255.255.250:1900"
	// DeviceType is the search target this server answers for.
	DeviceType = "urn:schemas-upnp-org:device:MediaServer:1"

	maxAge        = 1800
	readBufferLen = 2048
)

var multicastGroup = net.IPv4(239, 255, 255, 250)

// Config carries the identity the engine advertises.
type Config struct {
	UUID             string
	FriendlyName     string
	HostIP           string // IP clients can reach the HTTP server on
	HTTPPort         int
	SSDPPort         int
	FallbackPorts    []int
	AnnounceInterval time.Duration
	MulticastTTL     int
	// ServerToken is the OS identifier, e.g. "Linux/6.1".
	ServerToken string
}

func (c Config) serverField() string {
	return fmt.Sprintf("%s UPnP/1.0 VuIO/1.0", c.ServerToken)
}

func (c Config) location() string {
	return fmt.Sprintf("http://%s:%d/description.xml", c.HostIP, c.HTTPPort)
}

// Engine runs the responder and announcer tasks.
type Engine struct {
	cfg Config
	ifi *net.Interface
	log *logrus.Entry

	conn        net.PacketConn
	unicastOnly bool
	broadcasts  []net.IP // directed broadcast targets for degraded mode
}

// New prepares an engine bound to the chosen interface. ifi may be nil,
// in which case the OS picks the outgoing interface for the join.
func New(cfg Config, ifi *net.Interface) *Engine {
	if cfg.SSDPPort == 0 {
		cfg.SSDPPort = 1900
	}
	if len(cfg.FallbackPorts) == 0 {
		cfg.FallbackPorts = []int{8080, 8081, 8082, 9090}
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = 300 * time.Second
	}
	return &Engine{
		cfg: cfg,
		ifi: ifi,
		log: logrus.WithField("component", "ssdp"),
	}
}

// Start binds the socket, joins the multicast group and launches the
// responder and announcer. It returns once both tasks are running; they
// stop when ctx is canceled, sending a byebye on the way out.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.bind(); err != nil {
		return err
	}

	go e.respondLoop(ctx)
	go e.announceLoop(ctx)

	mode := "multicast"
	if e.unicastOnly {
		mode = "unicast-only"
	}
	e.log.WithFields(logrus.Fields{
		"port": e.boundPort(), "mode": mode, "location": e.cfg.location(),
	}).Info("SSDP service started")
	return nil
}

// bind walks the port candidates until one accepts, then attempts the
// multicast join. Join failure is not fatal: the engine degrades to
// unicast mode per the error model.
func (e *Engine) bind() error {
	ports := append([]int{e.cfg.SSDPPort}, e.cfg.FallbackPorts...)
	var lastErr error
	for _, port := range ports {
		pc, err := platform.BindUDP("0.0.0.0", port)
		if err == nil {
			e.conn = pc
			if port != e.cfg.SSDPPort {
				e.log.WithField("port", port).Warn("SSDP bound to fallback port")
			}
			break
		}
		lastErr = err
		if platform.IsKind(err, platform.PrivilegedPortDenied) || platform.IsAddrInUse(err) {
			e.log.WithError(err).WithField("port", port).Debug("SSDP port unavailable, trying next")
			continue
		}
		return err
	}
	if e.conn == nil {
		return fmt.Errorf("no usable SSDP port: %w", lastErr)
	}

	if _, err := platform.JoinMulticastV4(e.conn, multicastGroup, e.ifi, e.cfg.MulticastTTL); err != nil {
		e.log.WithError(err).Warn("multicast join failed, degrading to unicast mode")
		e.unicastOnly = true
		e.broadcasts = broadcastAddrs()
	}
	return nil
}

func (e *Engine) boundPort() int {
	if addr, ok := e.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Stop sends byebye and closes the socket. Usually driven by ctx
// cancellation inside the loops; calling it directly is also safe.
func (e *Engine) Stop() {
	e.sendByeBye()
	if e.conn != nil {
		_ = e.conn.Close()
	}
}

// respondLoop answers M-SEARCH datagrams with the canonical 200 OK,
// unicast to the sender.
func (e *Engine) respondLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = e.conn.Close()
	}()

	buf := make([]byte, readBufferLen)
	for {
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			e.log.WithError(err).Debug("SSDP read failed, responder exiting")
			return
		}
		req := string(buf[:n])
		if !isDiscoverRequest(req) {
			continue
		}
		if !e.answersTarget(searchTarget(req)) {
			continue
		}
		e.log.WithField("from", addr.String()).Debug("answering M-SEARCH")
		if _, err := e.conn.WriteTo([]byte(e.searchResponse()), addr); err != nil {
			e.log.WithError(err).Debug("M-SEARCH reply failed")
		}
	}
}

// isDiscoverRequest matches the M-SEARCH shape without a full HTTP parse;
// the header set in the wild is too sloppy to be strict about.
func isDiscoverRequest(req string) bool {
	return strings.HasPrefix(req, "M-SEARCH") && strings.Contains(req, "ssdp:discover")
}

func searchTarget(req string) string {
	for _, line := range strings.Split(req, "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), "ST") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (e *Engine) answersTarget(st string) bool {
	switch st {
	case "", "ssdp:all", "upnp:rootdevice", DeviceType:
		return true
	}
	return false
}

// searchResponse renders the canonical M-SEARCH reply. The header set and
// order are part of the interop contract; clients parse this with varying
// rigor.
func (e *Engine) searchResponse() string {
	return "HTTP/1.1 200 OK\r\n" +
		fmt.Sprintf("CACHE-CONTROL: max-age=%d\r\n", maxAge) +
		"EXT:\r\n" +
		fmt.Sprintf("LOCATION: %s\r\n", e.cfg.location()) +
		fmt.Sprintf("SERVER: %s\r\n", e.cfg.serverField()) +
		fmt.Sprintf("ST: %s\r\n", DeviceType) +
		fmt.Sprintf("USN: uuid:%s::%s\r\n", e.cfg.UUID, DeviceType) +
		"\r\n"
}

func (e *Engine) notifyMessage(nts string) string {
	return "NOTIFY * HTTP/1.1\r\n" +
		fmt.Sprintf("HOST: %s\r\n", MulticastAddr) +
		fmt.Sprintf("CACHE-CONTROL: max-age=%d\r\n", maxAge) +
		fmt.Sprintf("LOCATION: %s\r\n", e.cfg.location()) +
		fmt.Sprintf("NT: %s\r\n", DeviceType) +
		fmt.Sprintf("NTS: %s\r\n", nts) +
		fmt.Sprintf("SERVER: %s\r\n", e.cfg.serverField()) +
		fmt.Sprintf("USN: uuid:%s::%s\r\n", e.cfg.UUID, DeviceType) +
		"\r\n"
}

// announceLoop multicasts NOTIFY ssdp:alive every announce interval from a
// freshly bound ephemeral socket, so announcements keep flowing even if
// the responder socket wedges.
func (e *Engine) announceLoop(ctx context.Context) {
	// First announcement goes out immediately; discovery should not wait
	// out a full interval after startup.
	e.announce()

	ticker := time.NewTicker(e.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.sendByeBye()
			return
		case <-ticker.C:
			e.announceCtx(ctx)
		}
	}
}

func (e *Engine) announce() { e.announceCtx(context.Background()) }

func (e *Engine) announceCtx(ctx context.Context) {
	err := retry.Do(ctx, 3, func() error {
		return e.sendNotify("ssdp:alive")
	})
	if err != nil {
		e.log.WithError(err).Warn("SSDP announce failed")
	} else {
		e.log.Debug("sent SSDP alive announcement")
	}
}

func (e *Engine) sendByeBye() {
	if err := e.sendNotify("ssdp:byebye"); err != nil {
		e.log.WithError(err).Debug("SSDP byebye failed")
	}
}

func (e *Engine) sendNotify(nts string) error {
	msg := []byte(e.notifyMessage(nts))

	if e.unicastOnly {
		// Best effort substitute: directed broadcast on each interface.
		conn, err := net.ListenPacket("udp4", ":0")
		if err != nil {
			return err
		}
		defer conn.Close()
		for _, bcast := range e.broadcasts {
			_, _ = conn.WriteTo(msg, &net.UDPAddr{IP: bcast, Port: 1900})
		}
		return nil
	}

	conn, err := net.Dial("udp4", MulticastAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(msg)
	return err
}

// broadcastAddrs computes the directed broadcast address of every up
// IPv4 interface.
func broadcastAddrs() []net.IP {
	var out []net.IP
	ifs, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, ifi := range ifs {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			ip := ipnet.IP.To4()
			mask := ipnet.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}
			bcast := make(net.IP, net.IPv4len)
			for i := range bcast {
				bcast[i] = ip[i] | ^mask[i]
			}
			out = append(out, bcast)
		}
	}
	return out
}
