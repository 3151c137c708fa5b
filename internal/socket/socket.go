// Package socket wraps a UDP connection behind the small capability
// surface the core transport needs: send, receive-with-timeout, and
// timeout adjustment. It is the "datagram-socket capability" collaborator
// named in the protocol design — the core engines send and receive only
// through this interface.
package socket

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Socket is the capability the handshake, sender and receiver engines
// depend on. A *UDP satisfies it; tests may substitute any implementation.
type Socket interface {
	// Send writes b to the current peer address.
	Send(b []byte) error
	// SendTo writes b to an explicit address, bypassing the current peer.
	SendTo(addr *net.UDPAddr, b []byte) error
	// RecvTimeout blocks for at most timeout waiting for a datagram,
	// returning its bytes and source address.
	RecvTimeout(timeout time.Duration, bufSize int) ([]byte, *net.UDPAddr, error)
	// SetTimeout sets the read deadline to now+d. RecvTimeout replaces
	// the deadline with its own timeout argument on every call.
	SetTimeout(d time.Duration) error
	// SetPeer updates the address future Send calls target; used to
	// follow symmetric-NAT source-port changes.
	SetPeer(addr *net.UDPAddr)
	// Peer returns the current target address.
	Peer() *net.UDPAddr
	LocalAddr() *net.UDPAddr
	Close() error
}

// UDP implements Socket over a bound *net.UDPConn.
type UDP struct {
	conn *net.UDPConn
	peer atomic.Pointer[net.UDPAddr]
}

// NewUDP wraps an already-bound UDP connection.
func NewUDP(conn *net.UDPConn) *UDP {
	return &UDP{conn: conn}
}

// Listen binds a new UDP socket on addr ("host:port", port 0 for ephemeral).
func Listen(addr string) (*UDP, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("socket: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("socket: listen %q: %w", addr, err)
	}
	return NewUDP(conn), nil
}

func (s *UDP) SetPeer(addr *net.UDPAddr) { s.peer.Store(addr) }
func (s *UDP) Peer() *net.UDPAddr        { return s.peer.Load() }

func (s *UDP) Send(b []byte) error {
	peer := s.peer.Load()
	if peer == nil {
		return fmt.Errorf("socket: Send called with no peer set")
	}
	return s.SendTo(peer, b)
}

func (s *UDP) SendTo(addr *net.UDPAddr, b []byte) error {
	_, err := s.conn.WriteToUDP(b, addr)
	return err
}

func (s *UDP) RecvTimeout(timeout time.Duration, bufSize int) ([]byte, *net.UDPAddr, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, bufSize)
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, addr, err
	}
	return buf[:n], addr, nil
}

func (s *UDP) SetTimeout(d time.Duration) error {
	return s.conn.SetReadDeadline(time.Now().Add(d))
}

func (s *UDP) LocalAddr() *net.UDPAddr { return s.conn.LocalAddr().(*net.UDPAddr) }
func (s *UDP) Close() error            { return s.conn.Close() }

// IsTimeout reports whether err is a network read-deadline timeout.
func IsTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
