// Package sender implements the windowed transmit side of a data
// transfer: a tx task producing frames under the admission rule, and an
// rx task consuming ACKs and driving congestion control, RTO estimation,
// and retransmission. Congestion state transitions are factored out into
// internal/congestion so they can be unit-tested alone.
package sender

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/iLukSbr/filexfer/internal/congestion"
	"github.com/iLukSbr/filexfer/internal/iofile"
	"github.com/iLukSbr/filexfer/internal/protocol"
	"github.com/iLukSbr/filexfer/internal/rxlog"
	"github.com/iLukSbr/filexfer/internal/socket"
	"github.com/iLukSbr/filexfer/internal/telemetry"
)

const (
	windowSleep    = 200 * time.Millisecond
	fastResendWait = 500 * time.Millisecond
)

// Config bundles one send session's fixed parameters, computed by the
// handshake.
type Config struct {
	Sock     socket.Socket
	Sign     uint16
	MSS      int
	StartSeq uint32
	Offset   int64
	FileSize int64
	SrcPath  string
	Observer telemetry.Observer
	Log      *rxlog.Logger
	Session  string // correlation id for telemetry labels
}

// bufEntry is one unacked frame kept for possible retransmission.
type bufEntry struct {
	seq uint32
	raw []byte
}

// sendBuffer is the FIFO of unacked frames: appended by the tx task,
// popped by the rx task, serialized by a mutex since both tasks touch it.
type sendBuffer struct {
	mu      sync.Mutex
	entries []bufEntry
}

func (b *sendBuffer) append(e bufEntry) {
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

func (b *sendBuffer) popFront(n int) {
	b.mu.Lock()
	if n > len(b.entries) {
		n = len(b.entries)
	}
	b.entries = b.entries[n:]
	b.mu.Unlock()
}

func (b *sendBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// retransmit resends up to n buffered frames in order without mutating
// the buffer.
func (b *sendBuffer) retransmit(sock socket.Socket, n int) {
	b.mu.Lock()
	entries := append([]bufEntry(nil), b.entries...)
	b.mu.Unlock()
	for i, e := range entries {
		if i >= n {
			break
		}
		_ = sock.Send(e.raw)
	}
}

// shared is the window state both tasks touch, guarded by a mutex. The rx
// task updates unackedSeq, rwnd and dupAck; either task sets closeSignal
// (the tx task after sending FIN, the rx task on retry-budget exhaustion).
type shared struct {
	mu          sync.Mutex
	status      congestion.State
	unackedSeq  uint32
	rwnd        uint16
	dupAck      int
	closeSignal bool
}

func (s *shared) snapshot() (status congestion.State, unackedSeq uint32, rwnd uint16, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.unackedSeq, s.rwnd, s.closeSignal
}

func (s *shared) setClosed() {
	s.mu.Lock()
	s.closeSignal = true
	s.mu.Unlock()
}

// Sender runs one outbound transfer to completion.
type Sender struct {
	cfg   Config
	buf   *sendBuffer
	state *shared
	fsm   *congestion.Machine

	nextSeq      uint32
	totalPackage int64
	currentRTO   time.Duration

	totalTimeouts        int
	totalFastResends     int
	consecutiveTimeouts  int
}

// New constructs a Sender ready to Run.
func New(cfg Config) *Sender {
	return &Sender{
		cfg:   cfg,
		buf:   &sendBuffer{},
		state: &shared{status: congestion.SlowStart, unackedSeq: cfg.StartSeq, rwnd: protocol.DefaultRwnd},
		fsm:   congestion.New(protocol.InitialCwnd, protocol.InitialSsthresh),
		nextSeq: cfg.StartSeq,
	}
}

// Run drives the tx and rx tasks to completion.
func (s *Sender) Run() error {
	reader, err := iofile.OpenReader(s.cfg.SrcPath)
	if err != nil {
		return fmt.Errorf("sender: open source: %w", err)
	}
	defer reader.Close()

	s.totalPackage = int64(math.Ceil(float64(s.cfg.FileSize-s.cfg.Offset)/float64(s.cfg.MSS))) + int64(s.cfg.StartSeq)

	var wg sync.WaitGroup
	wg.Add(2)

	var txErr, rxErr error
	go func() {
		defer wg.Done()
		txErr = s.txTask(reader)
	}()
	go func() {
		defer wg.Done()
		rxErr = s.rxTask()
	}()
	wg.Wait()

	if s.nextSeq-1 != uint32(s.totalPackage) && s.cfg.Log != nil {
		s.cfg.Log.Warnf("sender: next_seq-1 (%d) != total_package (%d), transfer may be incomplete",
			s.nextSeq-1, s.totalPackage)
	}

	if s.cfg.Observer != nil {
		s.cfg.Observer.Finish(telemetry.Summary{
			Session:          s.cfg.Session,
			TotalTimeouts:    s.totalTimeouts,
			TotalFastResends: s.totalFastResends,
		})
	}

	if txErr != nil {
		return txErr
	}
	return rxErr
}

func (s *Sender) txTask(reader *iofile.Reader) error {
	offset := s.cfg.Offset
	for {
		status, unackedSeq, rwnd, closed := s.state.snapshot()
		_ = status
		for int64(s.nextSeq-unackedSeq) >= int64(congestion.EffectiveWindow(rwnd, s.fsm.Cwnd)) && !closed {
			if int64(s.nextSeq-unackedSeq) >= int64(rwnd) {
				probe := protocol.EncodeProbe(s.cfg.Sign, s.nextSeq, s.cfg.MSS)
				s.buf.append(bufEntry{seq: s.nextSeq, raw: probe})
				_ = s.cfg.Sock.Send(probe)
				s.nextSeq++
				s.totalPackage++
			}
			time.Sleep(windowSleep)
			_, unackedSeq, rwnd, closed = s.state.snapshot()
		}
		if closed {
			return nil
		}

		buf := make([]byte, s.cfg.MSS)
		n, err := reader.ReadAt(buf, offset)
		if err != nil {
			return fmt.Errorf("sender: read source: %w", err)
		}

		if n == 0 {
			fin := protocol.EncodeFin(s.cfg.Sign, s.nextSeq, s.cfg.MSS)
			s.buf.append(bufEntry{seq: s.nextSeq, raw: fin})
			_ = s.cfg.Sock.Send(fin)
			s.nextSeq++
			s.state.setClosed()
			return nil
		}

		data := protocol.EncodeData(s.cfg.Sign, s.nextSeq, buf[:n], s.cfg.MSS)
		s.buf.append(bufEntry{seq: s.nextSeq, raw: data})
		_ = s.cfg.Sock.Send(data)
		s.nextSeq++
		offset += int64(n)
	}
}

func (s *Sender) rxTask() error {
	rto := 100 * time.Millisecond
	srtt := 0.0
	devRTT := 1.0
	s.currentRTO = rto

	for {
		_, unackedSeq, _, closed := s.state.snapshot()
		if closed && s.buf.len() == 0 {
			return nil
		}

		start := time.Now()
		raw, _, err := s.cfg.Sock.RecvTimeout(rto, protocol.FrameSize(s.cfg.MSS))
		if err != nil {
			if !socket.IsTimeout(err) {
				return fmt.Errorf("sender: recv ack: %w", err)
			}
			if s.nextSeq == unackedSeq {
				continue // no frames in flight, a timeout is not meaningful
			}
			s.totalTimeouts++
			s.consecutiveTimeoutCheck()
			if s.timeoutBudgetExhausted() {
				s.state.setClosed()
				return nil
			}
			// Retransmit burst uses the pre-timeout cwnd: the window that
			// was in effect when the loss was detected, not the window
			// OnEvent is about to reset it to.
			w := congestion.EffectiveWindow(s.currentRwnd(), s.fsm.Cwnd)
			s.buf.retransmit(s.cfg.Sock, w)
			tr := s.fsm.OnEvent(congestion.Event{Kind: congestion.EventTimeout})
			s.observe(tr)
			continue
		}
		rtt := time.Since(start).Seconds()
		srtt = srtt + protocol.Alpha*(rtt-srtt)
		devRTT = (1-protocol.Beta)*devRTT + protocol.Beta*math.Abs(rtt-srtt)
		rto = time.Duration(math.Max(protocol.Mu*srtt+protocol.Rho*devRTT, protocol.MinimumRTO.Seconds()) * float64(time.Second))
		s.currentRTO = rto
		s.resetConsecutiveTimeouts()

		f, err := protocol.DecodeAckDirection(raw, s.cfg.MSS)
		if err != nil || f.Sign != s.cfg.Sign {
			continue
		}

		s.handleAck(f)
	}
}

func (s *Sender) handleAck(f protocol.Frame) {
	s.state.mu.Lock()
	unacked := s.state.unackedSeq
	switch {
	case f.Seq == unacked-1:
		s.state.dupAck++
		dup := s.state.dupAck
		s.state.mu.Unlock()
		if dup == 3 {
			time.Sleep(fastResendWait)
			s.totalFastResends++
			w := congestion.EffectiveWindow(s.currentRwnd(), s.fsm.Cwnd)
			s.buf.retransmit(s.cfg.Sock, w)
			tr := s.fsm.OnEvent(congestion.Event{Kind: congestion.EventDupThird})
			s.observe(tr)
			s.state.mu.Lock()
			s.state.dupAck = 0
			s.state.mu.Unlock()
		}

	case f.Seq >= unacked:
		steps := int(f.Seq - unacked + 1)
		s.state.unackedSeq = f.Seq + 1
		s.state.rwnd = f.Rwnd
		s.state.dupAck = 0
		s.state.mu.Unlock()
		s.buf.popFront(steps)
		tr := s.fsm.OnEvent(congestion.Event{Kind: congestion.EventAdvance, NewAdvance: steps})
		s.observe(tr)

	default:
		s.state.dupAck = 0
		s.state.mu.Unlock()
	}
}

func (s *Sender) currentRwnd() uint16 {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.rwnd
}

func (s *Sender) observe(tr congestion.Transition) {
	if s.cfg.Observer == nil {
		return
	}
	s.cfg.Observer.Observe(telemetry.Sample{
		Session:   s.cfg.Session,
		Rwnd:      s.currentRwnd(),
		Cwnd:      tr.Cwnd,
		Ssthresh:  tr.Ssthresh,
		RTO:       s.currentRTO,
		State:     tr.To.String(),
		Timestamp: time.Time{},
	})
}

func (s *Sender) consecutiveTimeoutCheck()     { s.consecutiveTimeouts++ }
func (s *Sender) resetConsecutiveTimeouts()    { s.consecutiveTimeouts = 0 }
func (s *Sender) timeoutBudgetExhausted() bool { return s.consecutiveTimeouts >= protocol.TimeoutCount }
