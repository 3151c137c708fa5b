// Package receiver implements the in-order reassembly side of a data
// transfer: a network task that owns the socket and admission rule, and
// a writer task that owns the output file, connected by a bounded queue.
// The net task and the writer task each own a disjoint slice of the
// shared state, coordinated with Go channels and atomics.
package receiver

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iLukSbr/filexfer/internal/fileinfo"
	"github.com/iLukSbr/filexfer/internal/iofile"
	"github.com/iLukSbr/filexfer/internal/protocol"
	"github.com/iLukSbr/filexfer/internal/rxlog"
	"github.com/iLukSbr/filexfer/internal/socket"
)

const (
	queueCapacity     = int(protocol.DefaultRwnd)
	backpressureSleep = 50 * time.Millisecond
	idleTimeouts      = 5
)

// Config bundles one receive session's fixed parameters, computed by the
// handshake.
type Config struct {
	Sock     socket.Socket
	Sign     uint16
	MSS      int
	StartSeq uint32
	Offset   int64 // file offset to begin writing at (0 on RESEND)
	FileSize int64
	FileMD5  string
	OutPath  string
	Log      *rxlog.Logger
}

// chunk is one payload handed from the network task to the writer task.
type chunk struct {
	offset int64
	data   []byte
}

// Receiver runs one inbound transfer to completion.
type Receiver struct {
	cfg Config

	expectedSeq uint32
	rwnd        int64 // atomic: frames of queue capacity remaining
	cachedAck   []byte
	dupAckCount int // gap/stale frames seen in the current episode

	queue  chan chunk
	closed int32 // atomic bool

	writeOffset int64
}

// New constructs a Receiver ready to Run.
func New(cfg Config) *Receiver {
	return &Receiver{
		cfg:         cfg,
		expectedSeq: cfg.StartSeq,
		rwnd:        int64(queueCapacity),
		queue:       make(chan chunk, queueCapacity),
		writeOffset: cfg.Offset,
	}
}

// Run drives the network and writer tasks to completion, returning once
// the transfer closes (normally or via the idle-timeout retry budget).
func (r *Receiver) Run() error {
	var writer *iofile.Writer
	var err error
	if r.cfg.Offset > 0 {
		writer, err = iofile.OpenWriterForResume(r.cfg.OutPath)
	} else {
		writer, err = iofile.CreateWriter(r.cfg.OutPath)
	}
	if err != nil {
		return fmt.Errorf("receiver: open output: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	var netErr, writeErr error
	go func() {
		defer wg.Done()
		netErr = r.netTask()
	}()
	go func() {
		defer wg.Done()
		writeErr = r.writerTask(writer)
	}()
	wg.Wait()

	// Resend the final ACK once after both tasks join, covering a lost
	// terminal ACK the sender never saw.
	if r.cachedAck != nil {
		_ = r.cfg.Sock.Send(r.cachedAck)
	}

	if closeErr := writer.Close(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}
	if netErr != nil {
		return netErr
	}
	return writeErr
}

func (r *Receiver) netTask() error {
	idle := 0
	for atomic.LoadInt32(&r.closed) == 0 {
		if atomic.LoadInt64(&r.rwnd) <= 0 {
			time.Sleep(backpressureSleep)
			continue
		}

		raw, from, err := r.cfg.Sock.RecvTimeout(protocol.TimeLimit, protocol.FrameSize(r.cfg.MSS))
		if err != nil {
			if !socket.IsTimeout(err) {
				return fmt.Errorf("receiver: recv: %w", err)
			}
			idle++
			if r.cachedAck != nil {
				_ = r.cfg.Sock.Send(r.cachedAck)
			}
			if idle >= idleTimeouts {
				atomic.StoreInt32(&r.closed, 1)
				close(r.queue)
				return nil
			}
			continue
		}
		idle = 0
		r.cfg.Sock.SetPeer(from)

		f, err := protocol.DecodeDataDirection(raw, r.cfg.MSS)
		if err != nil || f.Sign != r.cfg.Sign {
			continue
		}

		switch {
		case f.Seq > r.expectedSeq:
			r.dupAckCount++
			if r.dupAckCount <= 3 && r.cachedAck != nil {
				_ = r.cfg.Sock.Send(r.cachedAck)
			}
		case f.Seq < r.expectedSeq:
			r.dupAckCount++
			if r.dupAckCount <= 1 && r.cachedAck != nil {
				_ = r.cfg.Sock.Send(r.cachedAck)
			}
		default:
			if r.handleInOrderFrame(f) {
				atomic.StoreInt32(&r.closed, 1)
				close(r.queue)
				return nil
			}
		}
	}
	return nil
}

// handleInOrderFrame processes a frame at exactly expectedSeq, returning
// true when the session should close (a FIN was observed). Any in-order
// frame resets the gap/stale dup-resend counter: a fresh expected_seq was
// observed, so the damping episode is over.
func (r *Receiver) handleInOrderFrame(f protocol.Frame) bool {
	r.dupAckCount = 0

	switch f.Kind {
	case protocol.KindFin:
		ack := protocol.EncodeAck(r.cfg.Sign, r.expectedSeq, currentRwndFrames(r), r.cfg.MSS)
		r.cachedAck = ack
		_ = r.cfg.Sock.Send(ack)
		return true

	case protocol.KindProbe:
		r.expectedSeq++
		ack := protocol.EncodeAck(r.cfg.Sign, r.expectedSeq-1, currentRwndFrames(r), r.cfg.MSS)
		r.cachedAck = ack
		_ = r.cfg.Sock.Send(ack)
		return false

	default:
		atomic.AddInt64(&r.rwnd, -1)
		r.queue <- chunk{offset: r.writeOffset, data: append([]byte(nil), f.Payload...)}
		r.writeOffset += int64(len(f.Payload))
		r.expectedSeq++
		ack := protocol.EncodeAck(r.cfg.Sign, r.expectedSeq-1, currentRwndFrames(r), r.cfg.MSS)
		r.cachedAck = ack
		_ = r.cfg.Sock.Send(ack)
		return false
	}
}

func currentRwndFrames(r *Receiver) uint16 {
	v := atomic.LoadInt64(&r.rwnd)
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

func (r *Receiver) writerTask(w *iofile.Writer) error {
	for c := range r.queue {
		if err := w.WriteAt(c.data, c.offset); err != nil {
			return err
		}
		atomic.AddInt64(&r.rwnd, 1)
	}
	if err := w.Sync(); err != nil {
		return err
	}

	got, _, err := fileinfo.PrefixMD5(r.cfg.OutPath, r.writeOffset)
	if err != nil {
		return fmt.Errorf("receiver: verify: %w", err)
	}
	if r.cfg.FileMD5 != "" && got != r.cfg.FileMD5 {
		if r.cfg.Log != nil {
			r.cfg.Log.Warnf("receiver: md5 mismatch for %s: got %s want %s", r.cfg.OutPath, got, r.cfg.FileMD5)
		}
		return fmt.Errorf("receiver: md5 mismatch for %s: got %s want %s", r.cfg.OutPath, got, r.cfg.FileMD5)
	}
	return nil
}
