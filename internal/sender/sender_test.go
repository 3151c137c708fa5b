package sender

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iLukSbr/filexfer/internal/protocol"
	"github.com/iLukSbr/filexfer/internal/socket"
)

// fakeReceiver models a well-behaved peer: it ACKs every data/probe/fin
// frame with the frame's own seq as the "last received" value and a
// constant advertised rwnd, collecting every payload it sees.
func fakeReceiver(t *testing.T, sock socket.Socket, sign uint16, mss int, out chan<- []byte) {
	t.Helper()
	for {
		raw, from, err := sock.RecvTimeout(2*time.Second, protocol.FrameSize(mss))
		if err != nil {
			close(out)
			return
		}
		sock.SetPeer(from)
		f, err := protocol.DecodeDataDirection(raw, mss)
		if err != nil || f.Sign != sign {
			continue
		}
		ack := protocol.EncodeAck(sign, f.Seq, 64, mss)
		_ = sock.Send(ack)
		if f.Kind == protocol.KindData {
			out <- append([]byte(nil), f.Payload...)
		}
		if f.Kind == protocol.KindFin {
			close(out)
			return
		}
	}
}

func TestSenderLosslessTransferReachesFin(t *testing.T) {
	mss := 8
	sign := uint16(21)

	senderSock, err := socket.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer senderSock.Close()
	peerSock, err := socket.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer peerSock.Close()
	senderSock.SetPeer(peerSock.LocalAddr())

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	content := []byte("abcdefghijklmnop") // exactly two MSS-sized frames
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	received := make(chan []byte, 16)
	go fakeReceiver(t, peerSock, sign, mss, received)

	s := New(Config{
		Sock: senderSock, Sign: sign, MSS: mss,
		StartSeq: 0, FileSize: int64(len(content)), SrcPath: srcPath,
	})

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sender run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not complete")
	}

	var got []byte
	for payload := range received {
		got = append(got, payload...)
	}
	if string(got) != string(content) {
		t.Fatalf("receiver saw %q, want %q", got, content)
	}
}
