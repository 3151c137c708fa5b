// Package handshake implements the two-leg negotiation (H0..H3) that
// decides which peer sends and which receives, and whether the transfer
// resumes or overwrites. Either side can play either role, instead of
// duplicating the negotiation logic once per role.
package handshake

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/iLukSbr/filexfer/internal/fileinfo"
	"github.com/iLukSbr/filexfer/internal/protocol"
	"github.com/iLukSbr/filexfer/internal/rxlog"
	"github.com/iLukSbr/filexfer/internal/socket"
)

// Sentinel errors surfaced to the CLI so it can choose distinct exit codes.
var (
	ErrFileNotFound = errors.New("handshake: peer reports file not found")
	ErrReset        = errors.New("handshake: sign rejected by dispatcher, retry with a new sign")
	ErrTimeout      = errors.New("handshake: retry budget exhausted")
	ErrUnexpected   = errors.New("handshake: unexpected or malformed response")
)

const (
	legTimeout = protocol.HandshakeTimeout
	legRetries = protocol.HandshakeRetries
)

// Decision is the resume/overwrite choice, distinct from fileinfo.Decision
// so a caller can express "the peer is cosend-eligible but chose to
// overwrite anyway" without conflating classification and choice.
type Decision int

const (
	DecisionResend Decision = iota
	DecisionCosend
)

func (d Decision) wire() string {
	if d == DecisionCosend {
		return protocol.CommandCosend
	}
	return protocol.CommandResend
}

// ResumeDecider is supplied by the caller (ultimately the CLI) to decide
// whether to resume or overwrite when resumption is possible. This is the
// only place user interaction enters the core.
type ResumeDecider func(local fileinfo.Info, peer fileinfo.Info) Decision

// NonInteractive returns a ResumeDecider that always answers with a fixed
// decision, for batch or CI use where no prompt is available.
func NonInteractive(d Decision) ResumeDecider {
	return func(fileinfo.Info, fileinfo.Info) Decision { return d }
}

// Outcome is the result of a completed handshake: who sends in the data
// phase, at what offset, and the size/md5 the two sides agreed on.
type Outcome struct {
	IsSender  bool
	Offset    int64
	FileSize  int64
	PeerMD5   string
	Rwnd      uint16
	LocalPath string // resolved on the responder side from the peer's requested filename
}

// Config bundles the fixed parameters of one handshake run.
type Config struct {
	Sock    socket.Socket
	Peer    *net.UDPAddr
	Sign    uint16
	MSS     int
	LocalPath  string // where this side reads/writes the file on disk
	RemoteName string // filename advertised to the peer in the intent leg
	Log        *rxlog.Logger

	// ResolvePath lets a responder (a dispatcher worker, which has no
	// filename until the intent leg names one) turn the initiator's
	// requested filename into a local path. Left nil for the initiating
	// side, which already knows LocalPath before the handshake starts.
	ResolvePath func(remoteName string) string
}

// RunAsSender executes the handshake from the initiating side that will
// push the file (command "s").
func RunAsSender(cfg Config, decide ResumeDecider) (Outcome, error) {
	// The initiator knows its own role up front, so a missing local file
	// is rejected before any network traffic is sent.
	local, err := fileinfo.Get(cfg.LocalPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("handshake: stat local file: %w", err)
	}
	if local.Absent() && local.MD5 == "" {
		return Outcome{}, ErrFileNotFound
	}
	return runInitiatorSend(cfg, local, decide)
}

// RunAsReceiver executes the handshake from the initiating side that will
// pull the file (command "r"). localPath is where the data will land
// (possibly partially written already, for resume).
func RunAsReceiver(cfg Config, decide ResumeDecider) (Outcome, error) {
	local, err := fileinfo.Get(cfg.LocalPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("handshake: stat local file: %w", err)
	}
	return runInitiatorReceive(cfg, local, decide)
}

// RunResponder executes the non-initiating side of a handshake: it awaits
// the initiator's intent leg exactly once, and only then learns from the
// decoded command whether this session casts it as sender ("r", the
// initiator wants to pull) or receiver ("s", the initiator wants to
// push). This single read replaces the separate per-role responder paths
// the original distillation duplicates once per role, since the
// dispatcher cannot know which role a freshly allocated worker port will
// play until that first frame names it.
func RunResponder(cfg Config, decide ResumeDecider) (Outcome, error) {
	buf, from, err := cfg.Sock.RecvTimeout(legTimeout, protocol.FrameSize(cfg.MSS))
	if err != nil {
		return Outcome{}, fmt.Errorf("handshake: await intent: %w", err)
	}
	cfg.Peer = from
	cfg.Sock.SetPeer(from)

	hf, err := protocol.DecodeHandshake(buf, cfg.MSS)
	if err != nil || hf.Sign != cfg.Sign {
		return Outcome{}, fmt.Errorf("%w: bad intent frame", ErrUnexpected)
	}
	command, filename, peerSize, peerMD5, err := protocol.ParseIntent(hf.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrUnexpected, err)
	}
	if cfg.ResolvePath != nil {
		cfg.LocalPath = cfg.ResolvePath(filename)
	}
	peer := fileinfo.Info{Size: peerSize, MD5: peerMD5}

	switch command {
	case protocol.CommandSend:
		// The initiator pushes, so this side receives.
		return runResponderReceive(cfg, hf, peer)
	case protocol.CommandReceive:
		// The initiator pulls, so this side sends.
		return runResponderSend(cfg, hf, peer, decide)
	default:
		return Outcome{}, fmt.Errorf("%w: unknown intent command %q", ErrUnexpected, command)
	}
}

// sendLegWithRetry transmits payload repeatedly (on each timeout) until a
// validly-signed, validly-sequenced reply arrives, or the retry budget is
// exhausted. It drops and silently ignores frames with mismatched sign or
// seq, which never counts against the retry budget.
func sendLegWithRetry(cfg Config, seq uint32, payload string) (protocol.HandshakeFrame, error) {
	raw := protocol.EncodeHandshake(cfg.Sign, protocol.DefaultRwnd, seq, payload, cfg.MSS)

	for attempt := 0; attempt < legRetries; attempt++ {
		if err := cfg.Sock.SendTo(cfg.Peer, raw); err != nil {
			return protocol.HandshakeFrame{}, fmt.Errorf("handshake: send leg: %w", err)
		}

		deadline := time.Now().Add(legTimeout)
		for time.Now().Before(deadline) {
			buf, from, err := cfg.Sock.RecvTimeout(time.Until(deadline), protocol.FrameSize(cfg.MSS))
			if err != nil {
				if socket.IsTimeout(err) {
					break
				}
				return protocol.HandshakeFrame{}, fmt.Errorf("handshake: recv leg: %w", err)
			}
			hf, err := protocol.DecodeHandshake(buf, cfg.MSS)
			if err != nil {
				continue
			}
			if hf.Sign != cfg.Sign || hf.Seq != seq {
				if cfg.Log != nil {
					cfg.Log.Debugf("handshake: dropping frame with sign=%d seq=%d, want sign=%d seq=%d",
						hf.Sign, hf.Seq, cfg.Sign, seq)
				}
				continue
			}
			cfg.Peer = from
			return hf, nil
		}
	}
	return protocol.HandshakeFrame{}, ErrTimeout
}

func runInitiatorSend(cfg Config, local fileinfo.Info, decide ResumeDecider) (Outcome, error) {
	intent := protocol.EncodeIntent(protocol.CommandSend, cfg.RemoteName, local.Size, local.MD5)
	reply, err := sendLegWithRetry(cfg, 1, intent)
	if err != nil {
		return Outcome{}, err
	}
	cmd, size, md5hex, err := protocol.ParseInfoReply(reply.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrUnexpected, err)
	}
	if cmd == protocol.CommandFileNotFound {
		return Outcome{}, ErrFileNotFound
	}

	peer := fileinfo.Info{Size: size, MD5: md5hex}
	decision, offset := resolveSenderDecision(cfg.LocalPath, peer, decide)

	finalReply, err := sendLegWithRetry(cfg, 2, decision.wire())
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{IsSender: true, Offset: offset, FileSize: local.Size, PeerMD5: peer.MD5, Rwnd: finalReply.Rwnd, LocalPath: cfg.LocalPath}, nil
}

// runResponderSend completes the handshake for a responder cast as sender
// (the initiator's intent carried command "r"). hf is the already-decoded
// intent frame; peer is the initiator's reported file state.
func runResponderSend(cfg Config, hf protocol.HandshakeFrame, peer fileinfo.Info, decide ResumeDecider) (Outcome, error) {
	local, err := fileinfo.Get(cfg.LocalPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("handshake: stat local file: %w", err)
	}
	if local.Absent() && local.MD5 == "" {
		nf := protocol.EncodeHandshake(cfg.Sign, protocol.DefaultRwnd, hf.Seq+1, protocol.CommandFileNotFound, cfg.MSS)
		_ = cfg.Sock.SendTo(cfg.Peer, nf)
		return Outcome{}, ErrFileNotFound
	}

	decision, offset := resolveSenderDecision(cfg.LocalPath, peer, decide)
	infoReply := protocol.EncodeInfoReply(decision.wire(), local.Size, local.MD5)
	ackFrame, err := sendLegWithRetry(cfg, hf.Seq+1, infoReply)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{IsSender: true, Offset: offset, FileSize: local.Size, PeerMD5: peer.MD5, Rwnd: ackFrame.Rwnd, LocalPath: cfg.LocalPath}, nil
}

func runInitiatorReceive(cfg Config, local fileinfo.Info, decide ResumeDecider) (Outcome, error) {
	intent := protocol.EncodeIntent(protocol.CommandReceive, cfg.RemoteName, local.Size, local.MD5)
	reply, err := sendLegWithRetry(cfg, 1, intent)
	if err != nil {
		return Outcome{}, err
	}
	cmd, size, md5hex, err := protocol.ParseInfoReply(reply.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrUnexpected, err)
	}
	if cmd == protocol.CommandFileNotFound {
		return Outcome{}, ErrFileNotFound
	}
	decision := Decision(0)
	if cmd == protocol.CommandCosend {
		decision = DecisionCosend
	} else {
		decision = DecisionResend
	}
	offset := int64(0)
	if decision == DecisionCosend {
		offset = local.Size
	}

	ackFrame, err := sendLegWithRetry(cfg, 2, decision.wire())
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{IsSender: false, Offset: offset, FileSize: size, PeerMD5: md5hex, Rwnd: ackFrame.Rwnd, LocalPath: cfg.LocalPath}, nil
}

// runResponderReceive completes the handshake for a responder cast as
// receiver (the initiator's intent carried command "s", a push). hf is
// the already-decoded intent frame; peer is the initiator's reported
// file state, the full copy it intends to push.
func runResponderReceive(cfg Config, hf protocol.HandshakeFrame, peer fileinfo.Info) (Outcome, error) {
	local, err := fileinfo.Get(cfg.LocalPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("handshake: stat local file: %w", err)
	}

	// The sender classifies resend vs cosend against its own full copy,
	// so this leg's reply just reports the receiver's own (possibly
	// partial, possibly absent) file state; the command field here is a
	// placeholder the sender ignores, since filenotfound never applies
	// to a receiver's not-yet-created output file.
	infoReply := protocol.EncodeInfoReply(protocol.CommandResend, local.Size, local.MD5)
	ackFrame, err := sendLegWithRetry(cfg, hf.Seq+1, infoReply)
	if err != nil {
		return Outcome{}, err
	}
	decision, err := protocol.ParseDecision(ackFrame.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrUnexpected, err)
	}
	offset := int64(0)
	if decision == protocol.CommandCosend {
		offset = local.Size
	}
	return Outcome{IsSender: false, Offset: offset, FileSize: peer.Size, PeerMD5: peer.MD5, Rwnd: ackFrame.Rwnd, LocalPath: cfg.LocalPath}, nil
}

// resolveSenderDecision classifies the peer's reported state against the
// sender's own local file and, when cosend-eligible, consults decide.
func resolveSenderDecision(localPath string, peer fileinfo.Info, decide ResumeDecider) (Decision, int64) {
	class, err := fileinfo.Classify(localPath, peer)
	if err != nil || class == fileinfo.Resend {
		return DecisionResend, 0
	}
	local, _ := fileinfo.Get(localPath)
	if decide(local, peer) == DecisionCosend {
		return DecisionCosend, peer.Size
	}
	return DecisionResend, 0
}
