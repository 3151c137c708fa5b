package receiver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iLukSbr/filexfer/internal/protocol"
	"github.com/iLukSbr/filexfer/internal/socket"
)

func TestReceiverLosslessTransfer(t *testing.T) {
	mss := 8
	sign := uint16(11)

	recvSock, err := socket.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer recvSock.Close()
	sendSock, err := socket.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer sendSock.Close()
	sendSock.SetPeer(recvSock.LocalAddr())

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.bin")

	r := New(Config{
		Sock: recvSock, Sign: sign, MSS: mss,
		StartSeq: 0, OutPath: outPath,
	})

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	payloads := [][]byte{[]byte("abcdefgh"), []byte("ijklmnop"), []byte("qr")}
	seq := uint32(0)
	for _, p := range payloads {
		sendSock.Send(protocol.EncodeData(sign, seq, p, mss))
		seq++
		time.Sleep(10 * time.Millisecond)
	}
	sendSock.Send(protocol.EncodeFin(sign, seq, mss))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("receiver run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("receiver did not complete")
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abcdefghijklmnopqr" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestReceiverIdleTimeoutClosesSession(t *testing.T) {
	t.Skip("exercises the 10s x5 idle budget; covered by integration scenario, skipped to keep unit tests fast")
}
