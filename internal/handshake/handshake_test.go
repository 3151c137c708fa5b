package handshake

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iLukSbr/filexfer/internal/protocol"
	"github.com/iLukSbr/filexfer/internal/socket"
)

func pairedSockets(t *testing.T) (*socket.UDP, *socket.UDP) {
	t.Helper()
	a, err := socket.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	b, err := socket.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	a.SetPeer(b.LocalAddr())
	b.SetPeer(a.LocalAddr())
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestHandshakeSendFreshFileResendsFromZero(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(srcPath, []byte("payload bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	dstPath := filepath.Join(dir, "dst.bin")

	initiatorSock, responderSock := pairedSockets(t)

	type result struct {
		out Outcome
		err error
	}
	initCh := make(chan result, 1)
	respCh := make(chan result, 1)

	go func() {
		out, err := RunAsSender(Config{
			Sock: initiatorSock, Peer: initiatorSock.Peer(), Sign: 7, MSS: 64,
			LocalPath: srcPath, RemoteName: "src.bin",
		}, NonInteractive(DecisionResend))
		initCh <- result{out, err}
	}()
	go func() {
		out, err := RunResponder(Config{
			Sock: responderSock, Peer: responderSock.Peer(), Sign: 7, MSS: 64,
			LocalPath: dstPath, RemoteName: "src.bin",
		}, NonInteractive(DecisionResend))
		respCh <- result{out, err}
	}()

	var initRes, respRes result
	select {
	case initRes = <-initCh:
	case <-time.After(3 * time.Second):
		t.Fatal("initiator timed out")
	}
	select {
	case respRes = <-respCh:
	case <-time.After(3 * time.Second):
		t.Fatal("responder timed out")
	}

	if initRes.err != nil {
		t.Fatalf("initiator error: %v", initRes.err)
	}
	if respRes.err != nil {
		t.Fatalf("responder error: %v", respRes.err)
	}
	if !initRes.out.IsSender {
		t.Fatal("expected initiator to be sender")
	}
	if respRes.out.IsSender {
		t.Fatal("expected responder to be receiver")
	}
	if initRes.out.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", initRes.out.Offset)
	}
}

func TestHandshakeReceiveFileNotFound(t *testing.T) {
	dir := t.TempDir()
	missingPath := filepath.Join(dir, "gone.bin")
	localPath := filepath.Join(dir, "local.bin")
	if err := os.WriteFile(localPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	initiatorSock, responderSock := pairedSockets(t)

	errCh := make(chan error, 2)
	go func() {
		_, err := RunAsReceiver(Config{
			Sock: initiatorSock, Peer: initiatorSock.Peer(), Sign: 3, MSS: 64,
			LocalPath: localPath, RemoteName: "gone.bin",
		}, NonInteractive(DecisionResend))
		errCh <- err
	}()
	go func() {
		_, err := RunResponder(Config{
			Sock: responderSock, Peer: responderSock.Peer(), Sign: 3, MSS: 64,
			LocalPath: missingPath, RemoteName: "gone.bin",
		}, NonInteractive(DecisionResend))
		errCh <- err
	}()

	seen := 0
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				seen++
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for handshake completion")
		}
	}
	if seen == 0 {
		t.Fatal("expected at least one side to observe FILENOTFOUND")
	}
}

func TestProtocolFrameSizeMatchesConfiguredMSS(t *testing.T) {
	if protocol.FrameSize(64) != 8+64 {
		t.Fatalf("unexpected frame size")
	}
}
