// Package protocol defines the wire format of the reliable-transport engine:
// the fixed binary data/ACK frame, the port-request frame, and the
// handshake field grammar. Every constant here is part of the wire
// contract and must not be changed without a protocol version bump.
package protocol

import "time"

// Segment sizing.
const (
	// MSS is the default data payload cap, in bytes.
	MSS = 5120
	// ReMSS is the payload cap of the dispatcher's port-request frame.
	ReMSS = 64
	// StartSeq is the initial sequence number used by both endpoints.
	StartSeq uint32 = 0
	// DefaultRwnd is the initial advertised receive window, in frames.
	DefaultRwnd uint16 = 128
)

// Sentinel values carried in the overloaded wnd field of sender->receiver
// data frames.
const (
	// Done marks the terminal FIN frame; payload is empty.
	Done uint16 = 65532
	// GetWindow marks a probe frame requesting a fresh rwnd advertisement.
	GetWindow uint16 = 65534
)

// Internal-only ACK classification events; these never appear on the wire.
const (
	TimeoutAck = -1
	DupAck     = -2
)

// Retry and timing budgets.
const (
	// TimeoutCount is the number of consecutive sender ACK timeouts that
	// aborts a data-phase transfer.
	TimeoutCount = 5
	// TimeLimit is the receiver's idle-read timeout.
	TimeLimit = 10 * time.Second
	// MinimumRTO floors the sender's computed retransmission timeout.
	MinimumRTO = 500 * time.Millisecond
	// HandshakeTimeout is the per-leg receive timeout during the handshake.
	HandshakeTimeout = 5 * time.Second
	// HandshakeRetries is the number of consecutive handshake-leg timeouts
	// that aborts the session.
	HandshakeRetries = 5
)

// Jacobson/Karels RTO estimation parameters.
const (
	Alpha = 0.125
	Beta  = 0.25
	Mu    = 1.0
	Rho   = 4.0
)

// Congestion control starting points.
const (
	InitialCwnd    = 1.0
	InitialSsthresh = 32.0
)

// Spliter separates fields within handshake payloads.
const Spliter = "$^!&"

// Handshake and control command tokens, carried as ASCII text inside
// handshake and dispatcher payloads.
const (
	CommandSend         = "s"
	CommandReceive      = "r"
	CommandResend       = "0"
	CommandCosend       = "1"
	CommandReset        = "-1"
	CommandFileNotFound = "2"
	CommandOK           = "3"
	CommandRequestPort  = "4"
)

// Dispatcher defaults.
const (
	WellKnownPort  = 22222
	StartPort      = 12000
	PortWrapFloor  = 10001
	PortWrapCeil   = 65535
	SignLowerBound = 1
	SignUpperBound = 60000
)
