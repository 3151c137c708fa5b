// Package dispatcher implements the Session Dispatcher: a single
// well-known-port listener that demultiplexes REQUESTPORT frames to
// fresh per-session worker ports, generalized from a single shared socket
// serving every client to a per-session port allocator.
package dispatcher

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/iLukSbr/filexfer/internal/handshake"
	"github.com/iLukSbr/filexfer/internal/protocol"
	"github.com/iLukSbr/filexfer/internal/receiver"
	"github.com/iLukSbr/filexfer/internal/rxlog"
	"github.com/iLukSbr/filexfer/internal/sender"
	"github.com/iLukSbr/filexfer/internal/session"
	"github.com/iLukSbr/filexfer/internal/socket"
	"github.com/iLukSbr/filexfer/internal/telemetry"
)

// acceptPoll bounds each Serve blocking read, letting the loop notice a
// closed listener promptly instead of blocking indefinitely.
const acceptPoll = 1 * time.Second

// SessionHooks lets the caller (cmd/filexferd) plug in telemetry and a
// resume decision policy without the dispatcher depending on the CLI.
type SessionHooks struct {
	Observer      telemetry.Observer
	ResumeDecider handshake.ResumeDecider
	BaseDir       string
}

// Dispatcher owns the well-known port and the in-use sign/port bookkeeping.
type Dispatcher struct {
	listenSock socket.Socket
	log        *rxlog.Logger
	hooks      SessionHooks

	mu       sync.Mutex
	bySign   map[uint16]*session.Session // live sessions, keyed by wire sign
	nextPort int
}

// New binds the well-known port and starts the wrapping port counter at
// StartPort. Allocated ports are not tracked or returned on release.
func New(log *rxlog.Logger, hooks SessionHooks) (*Dispatcher, error) {
	sock, err := socket.Listen(fmt.Sprintf(":%d", protocol.WellKnownPort))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: listen well-known port: %w", err)
	}
	return &Dispatcher{
		listenSock: sock,
		log:        log,
		hooks:      hooks,
		bySign:     make(map[uint16]*session.Session),
		nextPort:   protocol.StartPort,
	}, nil
}

// Close releases the well-known-port socket.
func (d *Dispatcher) Close() error { return d.listenSock.Close() }

// Serve blocks, handling REQUESTPORT frames until the listener is closed.
func (d *Dispatcher) Serve() error {
	buf := make([]byte, protocol.FrameSize(protocol.ReMSS))
	for {
		raw, from, err := d.listenSock.RecvTimeout(acceptPoll, len(buf))
		if err != nil {
			if socket.IsTimeout(err) {
				continue
			}
			return err
		}
		sign, mss, err := protocol.DecodeRequestPort(raw)
		if err != nil {
			d.log.Debugf("dispatcher: dropping malformed request from %s: %v", from, err)
			continue
		}
		d.handleRequest(sign, mss, from)
	}
}

func (d *Dispatcher) handleRequest(sign uint16, mss int, from *net.UDPAddr) {
	d.mu.Lock()
	existing, inUse := d.bySign[sign]
	if inUse {
		samePeer := existing.Peer.String() == from.String()
		d.mu.Unlock()
		if samePeer {
			d.log.Debugf("dispatcher: duplicate REQUESTPORT for sign=%d from %s, ignoring", sign, from)
			return
		}
		reset := protocol.EncodeReset(sign)
		_ = d.listenSock.SendTo(from, reset)
		d.log.Infof("dispatcher: sign=%d collision, sent RESET to %s", sign, from)
		return
	}

	port := d.nextPort
	d.nextPort++
	if d.nextPort > protocol.PortWrapCeil {
		d.nextPort = protocol.PortWrapFloor
	}

	sess := &session.Session{Sign: sign, Peer: from, MSS: mss, Corr: session.NewID()}
	d.bySign[sign] = sess
	d.mu.Unlock()

	reply := protocol.EncodePortReply(sign, port)
	if err := d.listenSock.SendTo(from, reply); err != nil {
		d.log.Errorf("dispatcher: reply to %s: %v", from, err)
		d.release(sess)
		return
	}

	go d.runWorker(sess, port)
}

// remover is implemented by telemetry sinks that track live sessions by
// correlation id (currently telemetry.PrometheusCollector) and need to
// drop their entry once a worker's session ends and its sign is released.
type remover interface {
	Remove(session string)
}

func (d *Dispatcher) release(sess *session.Session) {
	d.mu.Lock()
	delete(d.bySign, sess.Sign)
	d.mu.Unlock()

	if rm, ok := d.hooks.Observer.(remover); ok {
		rm.Remove(sess.Corr.String())
	}
}

// runWorker binds the allocated port, runs the handshake, then the
// appropriate engine, releasing the sign on any exit path.
func (d *Dispatcher) runWorker(sess *session.Session, port int) {
	defer d.release(sess)

	workerLog := d.log.WithFields(map[string]interface{}{
		"session": sess.Corr.String(),
		"sign":    sess.Sign,
	})

	sock, err := socket.Listen(fmt.Sprintf(":%d", port))
	if err != nil {
		workerLog.Errorf("bind worker port %d: %v", port, err)
		return
	}
	defer sock.Close()
	sock.SetPeer(sess.Peer)

	cfg := handshake.Config{
		Sock: sock, Peer: sess.Peer, Sign: sess.Sign, MSS: sess.MSS,
		Log: workerLog, ResolvePath: d.resolvePath,
	}

	outcome, err := handshake.RunResponder(cfg, d.hooks.ResumeDecider)
	if err != nil {
		workerLog.Warnf("handshake failed: %v", err)
		return
	}

	if outcome.IsSender {
		s := sender.New(sender.Config{
			Sock: sock, Sign: sess.Sign, MSS: sess.MSS,
			StartSeq: protocol.StartSeq + 1, Offset: outcome.Offset,
			FileSize: outcome.FileSize, SrcPath: outcome.LocalPath,
			Observer: d.hooks.Observer, Log: workerLog, Session: sess.Corr.String(),
		})
		if err := s.Run(); err != nil {
			workerLog.Warnf("sender run: %v", err)
		}
		return
	}

	r := receiver.New(receiver.Config{
		Sock: sock, Sign: sess.Sign, MSS: sess.MSS,
		StartSeq: protocol.StartSeq + 1, Offset: outcome.Offset,
		FileSize: outcome.FileSize, FileMD5: outcome.PeerMD5,
		OutPath: outcome.LocalPath, Log: workerLog,
	})
	if err := r.Run(); err != nil {
		workerLog.Warnf("receiver run: %v", err)
	}
}

// resolvePath joins the dispatcher's base directory with a peer-requested
// filename, rejecting any path component that would escape it.
func (d *Dispatcher) resolvePath(remoteName string) string {
	clean := filepath.Clean(strings.TrimPrefix(remoteName, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		clean = "unnamed.transfer"
	}
	return filepath.Join(d.hooks.BaseDir, clean)
}
