package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Port-request frames share the data/ACK header layout but use ReMSS as
// their payload cap and carry ASCII text instead of file bytes.

// EncodeRequestPort builds the client's REQUESTPORT frame: command "4"
// followed by the client's proposed MSS.
func EncodeRequestPort(sign uint16, proposedMSS int) []byte {
	payload := []byte(CommandRequestPort + Spliter + strconv.Itoa(proposedMSS))
	return encode(sign, DefaultRwnd, StartSeq, payload, ReMSS)
}

// DecodeRequestPort parses the payload of a REQUESTPORT frame.
func DecodeRequestPort(b []byte) (sign uint16, proposedMSS int, err error) {
	if len(b) != FrameSize(ReMSS) {
		return 0, 0, ErrShortFrame
	}
	sign = binary.BigEndian.Uint16(b[0:2])
	seq := binary.BigEndian.Uint32(b[4:8])
	if seq != StartSeq {
		return 0, 0, fmt.Errorf("protocol: REQUESTPORT seq %d != %d", seq, StartSeq)
	}
	text := trimZero(b[8 : 8+ReMSS])
	fields := strings.SplitN(text, Spliter, 2)
	if len(fields) != 2 || fields[0] != CommandRequestPort {
		return 0, 0, fmt.Errorf("protocol: malformed REQUESTPORT payload %q", text)
	}
	mss, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("protocol: bad MSS in REQUESTPORT: %w", err)
	}
	return sign, mss, nil
}

// EncodePortReply builds the dispatcher's reply carrying the allocated
// port as decimal ASCII, echoing sign/wnd/seq per the wire contract.
func EncodePortReply(sign uint16, port int) []byte {
	payload := []byte(strconv.Itoa(port))
	return encode(sign, DefaultRwnd, StartSeq, payload, ReMSS)
}

// EncodeReset builds the dispatcher's RESET reply on a sign collision.
func EncodeReset(sign uint16) []byte {
	payload := []byte(CommandReset)
	return encode(sign, DefaultRwnd, StartSeq, payload, ReMSS)
}

// DecodePortReply parses a dispatcher reply, returning either an
// allocated port or ErrReset.
func DecodePortReply(b []byte) (sign uint16, port int, err error) {
	if len(b) != FrameSize(ReMSS) {
		return 0, 0, ErrShortFrame
	}
	sign = binary.BigEndian.Uint16(b[0:2])
	text := trimZero(b[8 : 8+ReMSS])
	if text == CommandReset {
		return sign, 0, ErrReset
	}
	port, convErr := strconv.Atoi(text)
	if convErr != nil {
		return 0, 0, fmt.Errorf("protocol: malformed port reply %q: %w", text, convErr)
	}
	return sign, port, nil
}

func trimZero(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
