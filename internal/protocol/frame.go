package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrShortFrame is returned when a raw buffer's length does not match the
// expected on-wire frame size for the configured MSS. Callers MUST drop
// and log on this error, never abort the session.
var ErrShortFrame = errors.New("protocol: frame length does not match configured MSS")

// Kind tags the semantics actually carried by a decoded frame, resolving
// the wire's overloaded wnd field into a small closed set of variants
// instead of forcing every caller to re-derive it from sentinel values.
type Kind int

const (
	KindData Kind = iota
	KindFin
	KindProbe
	KindAck
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindFin:
		return "FIN"
	case KindProbe:
		return "PROBE"
	case KindAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

// Frame is the decoded, tagged-variant view of a wire frame. Only the
// fields relevant to Kind are meaningful: Payload for KindData, Rwnd for
// KindAck; KindFin and KindProbe carry neither.
type Frame struct {
	Sign    uint16
	Seq     uint32
	Kind    Kind
	Payload []byte // trimmed to its true length for KindData, nil otherwise
	Rwnd    uint16 // advertised receive window in frames, KindAck only
}

const headerSize = 2 + 2 + 4 // sign, wnd, seq

// FrameSize returns the total on-wire length of a frame for the given MSS.
func FrameSize(mss int) int { return headerSize + mss }

func encode(sign uint16, wnd uint16, seq uint32, payload []byte, mss int) []byte {
	buf := make([]byte, FrameSize(mss))
	binary.BigEndian.PutUint16(buf[0:2], sign)
	binary.BigEndian.PutUint16(buf[2:4], wnd)
	binary.BigEndian.PutUint32(buf[4:8], seq)
	copy(buf[8:], payload)
	return buf
}

// EncodeData builds a sender->receiver data frame. payload must be at most
// mss bytes; it is zero-padded on the wire, its true length carried in wnd.
func EncodeData(sign uint16, seq uint32, payload []byte, mss int) []byte {
	return encode(sign, uint16(len(payload)), seq, payload, mss)
}

// EncodeFin builds the terminal FIN frame (empty payload, wnd=Done).
func EncodeFin(sign uint16, seq uint32, mss int) []byte {
	return encode(sign, Done, seq, nil, mss)
}

// EncodeProbe builds a GETWINDOW probe frame requesting a fresh rwnd
// advertisement; it carries no file bytes.
func EncodeProbe(sign uint16, seq uint32, mss int) []byte {
	return encode(sign, GetWindow, seq, nil, mss)
}

// EncodeAck builds a receiver->sender ACK frame. rwndFrames is the
// advertised receive window, in frames (0..65531).
func EncodeAck(sign uint16, seq uint32, rwndFrames uint16, mss int) []byte {
	return encode(sign, rwndFrames, seq, nil, mss)
}

// DecodeDataDirection decodes a frame sent from the sender to the
// receiver, interpreting wnd per the sender->receiver overload (payload
// length, FIN marker, or probe marker).
func DecodeDataDirection(b []byte, mss int) (Frame, error) {
	if len(b) != FrameSize(mss) {
		return Frame{}, ErrShortFrame
	}
	sign := binary.BigEndian.Uint16(b[0:2])
	wnd := binary.BigEndian.Uint16(b[2:4])
	seq := binary.BigEndian.Uint32(b[4:8])
	switch wnd {
	case Done:
		return Frame{Sign: sign, Seq: seq, Kind: KindFin}, nil
	case GetWindow:
		return Frame{Sign: sign, Seq: seq, Kind: KindProbe}, nil
	default:
		if int(wnd) > mss {
			return Frame{}, errors.New("protocol: data frame wnd exceeds MSS")
		}
		payload := append([]byte(nil), b[8:8+int(wnd)]...)
		return Frame{Sign: sign, Seq: seq, Kind: KindData, Payload: payload}, nil
	}
}

// DecodeAckDirection decodes a frame sent from the receiver to the sender,
// interpreting wnd as the advertised receive window in frames.
func DecodeAckDirection(b []byte, mss int) (Frame, error) {
	if len(b) != FrameSize(mss) {
		return Frame{}, ErrShortFrame
	}
	sign := binary.BigEndian.Uint16(b[0:2])
	rwnd := binary.BigEndian.Uint16(b[2:4])
	seq := binary.BigEndian.Uint32(b[4:8])
	return Frame{Sign: sign, Seq: seq, Kind: KindAck, Rwnd: rwnd}, nil
}
