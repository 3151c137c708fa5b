package congestion

import "testing"

func TestTimeoutResetsToSlowStartWithCwndOne(t *testing.T) {
	m := New(16, 8)
	m.State = Avoid
	tr := m.OnEvent(Event{Kind: EventTimeout})
	if tr.To != SlowStart {
		t.Fatalf("state = %v, want SLOW_START", tr.To)
	}
	if m.Cwnd != 1 {
		t.Fatalf("cwnd = %v, want 1", m.Cwnd)
	}
	if m.Ssthresh != 8 {
		t.Fatalf("ssthresh = %v, want 8 (max(16/2,1))", m.Ssthresh)
	}
}

func TestThirdDupAckEntersFastRecovery(t *testing.T) {
	m := New(10, 32)
	tr := m.OnEvent(Event{Kind: EventDupThird})
	if tr.To != FastRecovery {
		t.Fatalf("state = %v, want FAST_RECOVERY", tr.To)
	}
	if m.Ssthresh != 5 {
		t.Fatalf("ssthresh = %v, want 5", m.Ssthresh)
	}
	if m.Cwnd != 5 {
		t.Fatalf("cwnd = %v, want ssthresh", m.Cwnd)
	}
}

func TestSlowStartGrowsThenPromotesToAvoid(t *testing.T) {
	m := New(1, 4)
	for i := 0; i < 3; i++ {
		m.OnEvent(Event{Kind: EventAdvance, NewAdvance: 1})
	}
	if m.State != Avoid {
		t.Fatalf("state = %v, want AVOID after reaching ssthresh", m.State)
	}
	if m.Cwnd != 4 {
		t.Fatalf("cwnd = %v, want 4", m.Cwnd)
	}
}

func TestAvoidGrowsFractionally(t *testing.T) {
	m := &Machine{State: Avoid, Cwnd: 4, Ssthresh: 4}
	m.OnEvent(Event{Kind: EventAdvance, NewAdvance: 1})
	want := 4 + 1.0/4.0
	if m.Cwnd != want {
		t.Fatalf("cwnd = %v, want %v", m.Cwnd, want)
	}
}

func TestFastRecoveryAdvancesToAvoidOnNewAck(t *testing.T) {
	m := &Machine{State: FastRecovery, Cwnd: 16, Ssthresh: 16}
	tr := m.OnEvent(Event{Kind: EventAdvance, NewAdvance: 1})
	if tr.To != Avoid {
		t.Fatalf("state = %v, want AVOID", tr.To)
	}
	if m.Cwnd != 17 {
		t.Fatalf("cwnd = %v, want 17", m.Cwnd)
	}
}

func TestEffectiveWindowTakesCeilOfMin(t *testing.T) {
	if w := EffectiveWindow(10, 3.2); w != 4 {
		t.Fatalf("W = %d, want 4", w)
	}
	if w := EffectiveWindow(2, 30); w != 2 {
		t.Fatalf("W = %d, want 2", w)
	}
}
