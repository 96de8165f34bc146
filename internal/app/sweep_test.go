package app

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/esupa/admission-service/internal/domain"
)

func TestSweep_ExpiresOverduePayerAndPromotesNext(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	defer fixClock(now)()

	repo := newFakeRepo()
	event := testEvent()
	event.Capacity = 1
	event.SalesOpen = false // sold out earlier; keeps this test about expiry and promotion
	repo.addEvent(event)

	overdue := now.Add(-time.Hour)
	posA, posB := 0, 1
	repo.addSub(domain.Subscription{ID: 100, EventID: 1, State: domain.StateExpectingPay, WaitUntil: &overdue, Position: &posA, Badge: "A"})
	repo.addSub(domain.Subscription{ID: 101, EventID: 1, State: domain.StateQueuedForPay, Position: &posB, Badge: "B"})
	repo.queues[1] = []int64{100, 101}

	sink := &fakeSink{}
	svc := newTestService(repo, sink)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	expired := repo.subs[100]
	if expired.State != domain.StateAcceptable {
		t.Fatalf("expected overdue payer demoted, got %s", expired.State)
	}
	if expired.Position != nil || expired.WaitUntil != nil {
		t.Fatal("expected expired subscription's slot cleared")
	}

	promoted := repo.subs[101]
	if promoted.State != domain.StateExpectingPay {
		t.Fatalf("expected next in line promoted, got %s", promoted.State)
	}
	if promoted.Position == nil || *promoted.Position != 0 {
		t.Fatalf("expected promoted subscription at position 0, got %v", promoted.Position)
	}
	if promoted.WaitUntil == nil || !promoted.WaitUntil.Equal(now.Add(48*time.Hour)) {
		t.Fatalf("expected fresh 48h deadline, got %v", promoted.WaitUntil)
	}

	if !reflect.DeepEqual(repo.queues[1], []int64{101}) {
		t.Fatalf("expected queue [101], got %v", repo.queues[1])
	}

	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[0] != domain.NotifyExpired || kinds[1] != domain.NotifyCanPay {
		t.Fatalf("expected [expired can_pay], got %v", kinds)
	}
}

func TestSweep_HoldsQueueWhenCapacityFull(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	defer fixClock(now)()

	repo := newFakeRepo()
	event := testEvent()
	event.Capacity = 1
	event.SalesOpen = false
	repo.addEvent(event)

	deadline := now.Add(12 * time.Hour)
	repo.addSub(domain.Subscription{ID: 100, EventID: 1, State: domain.StateExpectingPay, WaitUntil: &deadline})
	repo.addSub(domain.Subscription{ID: 101, EventID: 1, State: domain.StateQueuedForPay})
	repo.queues[1] = []int64{100, 101}

	sink := &fakeSink{}
	svc := newTestService(repo, sink)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	if repo.subs[101].State != domain.StateQueuedForPay {
		t.Fatalf("expected second subscription to stay queued, got %s", repo.subs[101].State)
	}
	if repo.subs[101].Position == nil || *repo.subs[101].Position != 1 {
		t.Fatalf("expected refreshed position 1, got %v", repo.subs[101].Position)
	}
	if !reflect.DeepEqual(repo.queues[1], []int64{100, 101}) {
		t.Fatalf("expected queue unchanged, got %v", repo.queues[1])
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no notifications, got %v", sink.kinds())
	}
}

func TestSweep_DropsStaleAndDemotedEntries(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	defer fixClock(now)()

	repo := newFakeRepo()
	event := testEvent()
	event.SalesOpen = false
	repo.addEvent(event)

	pos := 1
	repo.addSub(domain.Subscription{ID: 101, EventID: 1, State: domain.StateAcceptable, Position: &pos})
	// id 999 has no subscription row at all.
	repo.queues[1] = []int64{999, 101}

	svc := newTestService(repo, &fakeSink{})
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	if len(repo.queues[1]) != 0 {
		t.Fatalf("expected empty queue, got %v", repo.queues[1])
	}
	if repo.subs[101].Position != nil {
		t.Fatal("expected demoted entry's stale position cleared")
	}
}

func TestSweep_AppendsStaffConfirmedAndClearsStalePositions(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	defer fixClock(now)()

	repo := newFakeRepo()
	event := testEvent()
	event.Capacity = 5
	event.SalesOpen = false
	repo.addEvent(event)

	deadline := now.Add(12 * time.Hour)
	repo.addSub(domain.Subscription{ID: 100, EventID: 1, State: domain.StateExpectingPay, WaitUntil: &deadline})
	// Confirmed by staff without ever queueing.
	repo.addSub(domain.Subscription{ID: 200, EventID: 1, State: domain.StateUnpaidStaff})
	// Left the flow but still carries a stale position.
	stale := 3
	repo.addSub(domain.Subscription{ID: 300, EventID: 1, State: domain.StateAcceptable, Position: &stale})
	repo.queues[1] = []int64{100}

	svc := newTestService(repo, &fakeSink{})
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	if !reflect.DeepEqual(repo.queues[1], []int64{100, 200}) {
		t.Fatalf("expected staff-confirmed appended, got %v", repo.queues[1])
	}
	if repo.subs[200].Position == nil || *repo.subs[200].Position != 1 {
		t.Fatalf("expected appended entry at position 1, got %v", repo.subs[200].Position)
	}
	if repo.subs[300].Position != nil {
		t.Fatal("expected stale position cleared")
	}
}

func TestSweep_ClosesSalesWhenCapacityExhausted(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	defer fixClock(now)()

	repo := newFakeRepo()
	event := testEvent()
	event.Capacity = 1
	repo.addEvent(event)

	repo.addSub(domain.Subscription{ID: 100, EventID: 1, State: domain.StateConfirmed})
	repo.queues[1] = []int64{100}

	sink := &fakeSink{}
	svc := newTestService(repo, sink)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	if repo.events[1].SalesOpen {
		t.Fatal("expected sales closed once capacity filled")
	}
	kinds := sink.kinds()
	if len(kinds) != 1 || kinds[0] != domain.NotifySalesClosed {
		t.Fatalf("expected [sales_closed], got %v", kinds)
	}
}

func TestSweep_AppliesScheduledToggles(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	defer fixClock(now)()

	repo := newFakeRepo()
	event := testEvent()
	event.SubsOpen = false
	event.SubsToggle = ptrTime(now.Add(-time.Minute))
	event.SalesOpen = false
	repo.addEvent(event)

	svc := newTestService(repo, &fakeSink{})
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	saved := repo.events[1]
	if !saved.SubsOpen || saved.SubsToggle != nil {
		t.Fatalf("expected toggle applied, got open=%t toggle=%v", saved.SubsOpen, saved.SubsToggle)
	}
}

func TestSweep_SkipsEventThatNeverQueued(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	defer fixClock(now)()

	repo := newFakeRepo()
	repo.addEvent(testEvent())
	// Staff-confirmed without a public queue; nothing to repair yet.
	repo.addSub(domain.Subscription{ID: 200, EventID: 1, State: domain.StateUnpaidStaff})

	sink := &fakeSink{}
	svc := newTestService(repo, sink)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	if _, ok := repo.queues[1]; ok {
		t.Fatalf("sweep must not create a snapshot for an unqueued event, got %v", repo.queues[1])
	}
	if repo.subs[200].Position != nil {
		t.Fatalf("expected no position assigned, got %d", *repo.subs[200].Position)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no notifications, got %v", sink.kinds())
	}
}
