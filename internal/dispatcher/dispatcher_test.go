package dispatcher

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/iLukSbr/filexfer/internal/handshake"
	"github.com/iLukSbr/filexfer/internal/protocol"
	"github.com/iLukSbr/filexfer/internal/rxlog"
	"github.com/iLukSbr/filexfer/internal/session"
	"github.com/iLukSbr/filexfer/internal/socket"
	"github.com/iLukSbr/filexfer/internal/telemetry"
)

// newTestDispatcher builds a Dispatcher bound to an ephemeral port rather
// than the real well-known port, since handleRequest/resolvePath/release
// are what implement the allocation policy under test and don't require
// binding 22222.
func newTestDispatcher(t *testing.T, baseDir string) *Dispatcher {
	t.Helper()
	sock, err := socket.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sock.Close() })
	return &Dispatcher{
		listenSock: sock,
		log:        rxlog.New(),
		hooks: SessionHooks{
			ResumeDecider: handshake.NonInteractive(handshake.DecisionCosend),
			BaseDir:       baseDir,
		},
		bySign:   make(map[uint16]*session.Session),
		nextPort: protocol.StartPort,
	}
}

func TestDispatcherSignCollisionFromDifferentPeerGetsReset(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)

	clientA, err := socket.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer clientA.Close()
	clientB, err := socket.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer clientB.Close()

	d.handleRequest(42, protocol.MSS, clientA.LocalAddr())
	time.Sleep(50 * time.Millisecond) // let the worker goroutine bind its port

	raw, _, err := clientA.RecvTimeout(2*time.Second, protocol.FrameSize(protocol.ReMSS))
	if err != nil {
		t.Fatalf("client A expected a port reply: %v", err)
	}
	if _, _, err := protocol.DecodePortReply(raw); err != nil {
		t.Fatalf("client A expected a valid port reply, got decode error: %v", err)
	}

	// A different peer address reusing sign=42 must be rejected with RESET.
	d.handleRequest(42, protocol.MSS, clientB.LocalAddr())

	reply, _, err := clientB.RecvTimeout(2*time.Second, protocol.FrameSize(protocol.ReMSS))
	if err != nil {
		t.Fatalf("client B expected a reply: %v", err)
	}
	if _, _, err := protocol.DecodePortReply(reply); err != protocol.ErrReset {
		t.Fatalf("expected ErrReset for sign collision, got %v", err)
	}
}

func TestDispatcherSignCollisionFromSamePeerIsIgnored(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)

	client, err := socket.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	d.handleRequest(7, protocol.MSS, client.LocalAddr())
	time.Sleep(50 * time.Millisecond)
	if _, _, err := client.RecvTimeout(2*time.Second, protocol.FrameSize(protocol.ReMSS)); err != nil {
		t.Fatalf("expected first port reply: %v", err)
	}

	// Same peer, same sign: a duplicate REQUESTPORT, dropped silently.
	d.handleRequest(7, protocol.MSS, client.LocalAddr())
	if _, _, err := client.RecvTimeout(200*time.Millisecond, protocol.FrameSize(protocol.ReMSS)); !socket.IsTimeout(err) {
		t.Fatalf("expected no second reply for a duplicate request, got err=%v", err)
	}
}

func TestDispatcherResolvePathRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)

	escaped := d.resolvePath("../../etc/passwd")
	if filepath.Dir(escaped) != dir {
		t.Fatalf("expected escape attempt to resolve under base dir, got %s", escaped)
	}

	normal := d.resolvePath("subdir/file.bin")
	want := filepath.Join(dir, "subdir/file.bin")
	if normal != want {
		t.Fatalf("resolvePath(%q) = %q, want %q", "subdir/file.bin", normal, want)
	}
}

type recordingRemover struct{ removed string }

func (r *recordingRemover) Observe(telemetry.Sample) {}
func (r *recordingRemover) Finish(telemetry.Summary) {}
func (r *recordingRemover) Remove(session string)    { r.removed = session }

func TestDispatcherReleaseRemovesSignAndTelemetryEntry(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)
	rec := &recordingRemover{}
	d.hooks.Observer = rec

	sess := &session.Session{Sign: 99, Corr: session.NewID()}
	d.bySign[99] = sess
	d.release(sess)

	if _, ok := d.bySign[99]; ok {
		t.Fatal("expected sign to be released")
	}
	if rec.removed != sess.Corr.String() {
		t.Fatalf("expected Remove called with %s, got %s", sess.Corr.String(), rec.removed)
	}
}
