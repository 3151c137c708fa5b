package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// HandshakeFrame is a decoded handshake-leg frame: the same wire layout as
// a data/ACK frame, but wnd carries a plain advertised rwnd value and the
// payload is ASCII grammar text instead of file bytes or a sentinel.
type HandshakeFrame struct {
	Sign uint16
	Rwnd uint16
	Seq  uint32
	Text string
}

// EncodeHandshake builds a handshake-leg frame for the given session MSS.
func EncodeHandshake(sign uint16, rwnd uint16, seq uint32, text string, mss int) []byte {
	return encode(sign, rwnd, seq, []byte(text), mss)
}

// DecodeHandshake decodes a handshake-leg frame.
func DecodeHandshake(b []byte, mss int) (HandshakeFrame, error) {
	if len(b) != FrameSize(mss) {
		return HandshakeFrame{}, ErrShortFrame
	}
	return HandshakeFrame{
		Sign: binary.BigEndian.Uint16(b[0:2]),
		Rwnd: binary.BigEndian.Uint16(b[2:4]),
		Seq:  binary.BigEndian.Uint32(b[4:8]),
		Text: trimZero(b[8 : 8+mss]),
	}, nil
}

// EncodeIntent builds the C->S intent payload: command, filename, size,
// md5hex joined by Spliter.
func EncodeIntent(command, filename string, size int64, md5hex string) string {
	return strings.Join([]string{command, filename, strconv.FormatInt(size, 10), md5hex}, Spliter)
}

// ParseIntent parses an intent payload.
func ParseIntent(s string) (command, filename string, size int64, md5hex string, err error) {
	parts := strings.Split(s, Spliter)
	if len(parts) != 4 {
		return "", "", 0, "", fmt.Errorf("protocol: malformed intent payload %q", s)
	}
	if parts[0] != CommandSend && parts[0] != CommandReceive {
		return "", "", 0, "", fmt.Errorf("protocol: unknown intent command %q", parts[0])
	}
	n, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", 0, "", fmt.Errorf("protocol: bad size in intent: %w", err)
	}
	return parts[0], parts[1], n, parts[3], nil
}

// EncodeInfoReply builds the S->C info_reply payload: a resend/cosend/
// filenotfound command followed by S's own file size and md5.
func EncodeInfoReply(command string, size int64, md5hex string) string {
	return strings.Join([]string{command, strconv.FormatInt(size, 10), md5hex}, Spliter)
}

// ParseInfoReply parses an info_reply payload.
func ParseInfoReply(s string) (command string, size int64, md5hex string, err error) {
	if strings.HasPrefix(s, CommandFileNotFound) && !strings.Contains(s, Spliter) {
		return CommandFileNotFound, 0, "", nil
	}
	parts := strings.Split(s, Spliter)
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("protocol: malformed info_reply payload %q", s)
	}
	if parts[0] != CommandResend && parts[0] != CommandCosend {
		return "", 0, "", fmt.Errorf("protocol: unknown info_reply command %q", parts[0])
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, "", fmt.Errorf("protocol: bad size in info_reply: %w", err)
	}
	return parts[0], n, parts[2], nil
}

// ParseDecision parses C's final resend/cosend decision.
func ParseDecision(s string) (string, error) {
	if s != CommandResend && s != CommandCosend {
		return "", fmt.Errorf("protocol: unknown decision %q", s)
	}
	return s, nil
}
