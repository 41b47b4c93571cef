// Package transport provides a concrete adapters.Transport over UDP, for
// running real mvccpnode processes on a LAN rather than only in-process
// tests. Structurally grounded on ptp4u/server.Server's
// ListenUDP-plus-receive-loop shape, stripped of the PTP teacher's raw
// socket timestamping (golang.org/x/sys, the timestamp package): MVCCP's
// Transport contract needs send/receive only, no RX hardware timestamps.
package transport

import (
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
)

// maxFrameSize bounds a single recvfrom; MVCCP frames are small
// (header + a handful of TLVs), well under a UDP datagram's practical limit.
const maxFrameSize = 2048

// UDP broadcasts wire frames to a fixed address (typically a subnet
// broadcast or multicast group address) and listens on the same port for
// inbound frames, handing each to the installed receiver callback.
type UDP struct {
	conn     *net.UDPConn
	sendAddr *net.UDPAddr
	receiver func([]byte)
}

// NewUDP opens a UDP socket bound to listenAddr (host:port, host empty
// meaning all interfaces) and resolves sendAddr (typically the subnet
// broadcast address on the same port) as the destination for Broadcast.
func NewUDP(listenAddr, sendAddr string) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolving listen address %q: %w", listenAddr, err)
	}
	saddr, err := net.ResolveUDPAddr("udp", sendAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolving send address %q: %w", sendAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %q: %w", listenAddr, err)
	}
	return &UDP{conn: conn, sendAddr: saddr}, nil
}

// Broadcast implements adapters.Transport.
func (u *UDP) Broadcast(frame []byte) error {
	if _, err := u.conn.WriteToUDP(frame, u.sendAddr); err != nil {
		return fmt.Errorf("transport: broadcasting frame: %w", err)
	}
	return nil
}

// SetReceiver implements adapters.Transport. Must be called before Listen.
func (u *UDP) SetReceiver(fn func([]byte)) {
	u.receiver = fn
}

// Listen reads inbound datagrams until the socket is closed, handing each
// to the installed receiver. Meant to run in its own goroutine, the same
// way Server.startGeneralListener dedicates a goroutine to its accept loop.
func (u *UDP) Listen() error {
	buf := make([]byte, maxFrameSize)
	for {
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Errorf("transport: reading packet: %v", err)
			continue
		}
		if u.receiver == nil {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		u.receiver(frame)
	}
}

// Close shuts down the underlying socket, unblocking Listen.
func (u *UDP) Close() error {
	return u.conn.Close()
}
