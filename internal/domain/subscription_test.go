package domain

import (
	"testing"
	"time"
)

func TestRaiseState_NeverLowers(t *testing.T) {
	tests := []struct {
		name    string
		from    SubState
		to      SubState
		want    SubState
		changed bool
	}{
		{"acceptable to expecting pay", StateAcceptable, StateExpectingPay, StateExpectingPay, true},
		{"expecting pay to confirmed", StateExpectingPay, StateConfirmed, StateConfirmed, true},
		{"confirmed stays confirmed", StateConfirmed, StateExpectingPay, StateConfirmed, false},
		{"same state is a no-op", StateQueuedForPay, StateQueuedForPay, StateQueuedForPay, false},
		{"denied never rises via raise target below", StateAcceptable, StateDenied, StateAcceptable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Subscription{State: tt.from}
			changed := s.RaiseState(tt.to)
			if changed != tt.changed {
				t.Fatalf("expected changed=%t, got %t", tt.changed, changed)
			}
			if s.State != tt.want {
				t.Fatalf("expected state %s, got %s", tt.want, s.State)
			}
		})
	}
}

func TestIsWaiting(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name      string
		waitUntil *time.Time
		want      bool
	}{
		{"no deadline", nil, false},
		{"deadline in the future", &future, true},
		{"deadline in the past", &past, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Subscription{WaitUntil: tt.waitUntil}
			if got := s.IsWaiting(now); got != tt.want {
				t.Fatalf("expected %t, got %t", tt.want, got)
			}
		})
	}
}

func TestSetWaiting_DoesNotExtendRunningDeadline(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	s := Subscription{}

	s.SetWaiting(true, 48, now)
	first := *s.WaitUntil
	if !first.Equal(now.Add(48 * time.Hour)) {
		t.Fatalf("expected deadline 48h out, got %v", first)
	}

	s.SetWaiting(true, 48, now.Add(time.Hour))
	if !s.WaitUntil.Equal(first) {
		t.Fatalf("repeat SetWaiting must not extend the deadline, got %v", s.WaitUntil)
	}

	s.SetWaiting(false, 0, now)
	if s.WaitUntil != nil {
		t.Fatal("expected deadline cleared")
	}

	// Once cleared, a new deadline can start.
	later := now.Add(2 * time.Hour)
	s.SetWaiting(true, 24, later)
	if s.WaitUntil == nil || !s.WaitUntil.Equal(later.Add(24*time.Hour)) {
		t.Fatalf("expected fresh deadline, got %v", s.WaitUntil)
	}
}

func TestSetWaiting_RestartsAfterExpiry(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	s := Subscription{WaitUntil: &expired}

	s.SetWaiting(true, 48, now)
	if s.WaitUntil == nil || !s.WaitUntil.Equal(now.Add(48*time.Hour)) {
		t.Fatalf("expected expired deadline replaced, got %v", s.WaitUntil)
	}
}

func TestTerminal(t *testing.T) {
	for _, state := range []SubState{StateNew, StateAcceptable, StateQueuedForPay, StateExpectingPay, StateVerifyingPay, StatePartiallyPaid, StateUnpaidStaff, StateVerifyingData} {
		if state.Terminal() {
			t.Fatalf("expected %s to be non-terminal", state)
		}
	}
	for _, state := range []SubState{StateConfirmed, StateDenied} {
		if !state.Terminal() {
			t.Fatalf("expected %s to be terminal", state)
		}
	}
}
