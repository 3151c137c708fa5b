// Package session carries the identifiers shared across the dispatcher,
// handshake, sender, and receiver packages: the wire-level sign and a
// process-local correlation id used only for logs and telemetry.
package session

import (
	"net"

	"github.com/rs/xid"
)

// ID is an observational correlation id minted once per session, by the
// dispatcher at allocation time or by the client for its own side of a
// push. It never appears on the wire — it exists
// purely so a session's log lines and telemetry samples can be joined,
// which the 16-bit wire Sign (reused across the handshake and data phase
// but otherwise opaque) is too small and collision-prone to guarantee.
type ID = xid.ID

// NewID mints a new correlation id.
func NewID() ID { return xid.New() }

// Session holds the identity shared by every task cooperating on one
// transfer: the wire sign, the peer address the REQUESTPORT came from,
// the negotiated MSS, and the correlation id for logs.
type Session struct {
	Sign   uint16
	Peer   *net.UDPAddr
	MSS    int
	Corr   ID
}

// String renders the correlation id, the only thing that should ever
// reach a log line or telemetry label.
func (s *Session) String() string { return s.Corr.String() }
