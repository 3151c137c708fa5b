package protocol

import "testing"

func TestEncodeDecodeDataRoundTrip(t *testing.T) {
	mss := 16
	payload := []byte("hello world")
	raw := EncodeData(42, 7, payload, mss)
	if len(raw) != FrameSize(mss) {
		t.Fatalf("encoded frame length = %d, want %d", len(raw), FrameSize(mss))
	}
	f, err := DecodeDataDirection(raw, mss)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Kind != KindData || f.Sign != 42 || f.Seq != 7 {
		t.Fatalf("unexpected frame %+v", f)
	}
	if string(f.Payload) != string(payload) {
		t.Fatalf("payload = %q, want %q", f.Payload, payload)
	}
}

func TestDecodeFinAndProbe(t *testing.T) {
	mss := 8
	fin, err := DecodeDataDirection(EncodeFin(1, 3, mss), mss)
	if err != nil || fin.Kind != KindFin {
		t.Fatalf("fin decode = %+v, %v", fin, err)
	}
	probe, err := DecodeDataDirection(EncodeProbe(1, 4, mss), mss)
	if err != nil || probe.Kind != KindProbe {
		t.Fatalf("probe decode = %+v, %v", probe, err)
	}
}

func TestDecodeAckDirection(t *testing.T) {
	mss := 8
	raw := EncodeAck(9, 5, 100, mss)
	f, err := DecodeAckDirection(raw, mss)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Kind != KindAck || f.Rwnd != 100 || f.Seq != 5 || f.Sign != 9 {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestShortFrameRejected(t *testing.T) {
	mss := 8
	raw := EncodeData(1, 0, []byte("x"), mss)
	if _, err := DecodeDataDirection(raw[:len(raw)-1], mss); err != ErrShortFrame {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}

func TestHandshakeIntentRoundTrip(t *testing.T) {
	s := EncodeIntent(CommandSend, "foo.bin", 12345, "deadbeef")
	cmd, name, size, md5hex, err := ParseIntent(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd != CommandSend || name != "foo.bin" || size != 12345 || md5hex != "deadbeef" {
		t.Fatalf("unexpected parse result: %s %s %d %s", cmd, name, size, md5hex)
	}
}

func TestHandshakeFrameRoundTrip(t *testing.T) {
	mss := 32
	raw := EncodeHandshake(5, 128, 0, EncodeIntent(CommandReceive, "a.bin", 0, ""), mss)
	hf, err := DecodeHandshake(raw, mss)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hf.Sign != 5 || hf.Rwnd != 128 {
		t.Fatalf("unexpected %+v", hf)
	}
	cmd, name, size, _, err := ParseIntent(hf.Text)
	if err != nil || cmd != CommandReceive || name != "a.bin" || size != 0 {
		t.Fatalf("parsed intent mismatch: %s %s %d %v", cmd, name, size, err)
	}
}
