package app

import (
	"context"
	"sort"
	"time"

	"github.com/esupa/admission-service/internal/domain"
	"github.com/esupa/admission-service/internal/store"
)

// fakeRepo is an in-memory store.Repository used across the app tests.
type fakeRepo struct {
	events   map[int64]*domain.Event
	subs     map[int64]*domain.Subscription
	txs      map[int64]*domain.Transaction
	queues   map[int64][]int64
	nextTxID int64

	// afterFindSub runs after each subscription read, letting tests interleave
	// concurrent writes between a caller's read and its locked section.
	afterFindSub func(id int64)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		events: make(map[int64]*domain.Event),
		subs:   make(map[int64]*domain.Subscription),
		txs:    make(map[int64]*domain.Transaction),
		queues: make(map[int64][]int64),
	}
}

func (f *fakeRepo) addEvent(e domain.Event) {
	f.events[e.ID] = &e
}

func (f *fakeRepo) addSub(s domain.Subscription) {
	f.subs[s.ID] = &s
}

func (f *fakeRepo) addTx(t domain.Transaction) {
	if t.ID >= f.nextTxID {
		f.nextTxID = t.ID
	}
	f.txs[t.ID] = &t
}

func (f *fakeRepo) FindEventByID(ctx context.Context, eventID int64) (*domain.Event, error) {
	e, ok := f.events[eventID]
	if !ok {
		return nil, store.ErrEventNotFound
	}
	copy := *e
	return &copy, nil
}

func (f *fakeRepo) FindEventBySlug(ctx context.Context, slug string) (*domain.Event, error) {
	for _, e := range f.events {
		if e.Slug == slug {
			copy := *e
			return &copy, nil
		}
	}
	return nil, store.ErrEventNotFound
}

func (f *fakeRepo) ListUpcomingEvents(ctx context.Context, after time.Time) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range f.events {
		if e.StartsAt.After(after) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (f *fakeRepo) SaveEventFlags(ctx context.Context, event *domain.Event) error {
	stored, ok := f.events[event.ID]
	if !ok {
		return store.ErrEventNotFound
	}
	stored.SubsOpen = event.SubsOpen
	stored.SubsToggle = event.SubsToggle
	stored.SalesOpen = event.SalesOpen
	stored.SalesToggle = event.SalesToggle
	stored.PartialPaymentOpen = event.PartialPaymentOpen
	stored.PartialToggle = event.PartialToggle
	return nil
}

func (f *fakeRepo) CountSubscriptionsAtLeast(ctx context.Context, eventID int64, state domain.SubState) (int, error) {
	count := 0
	for _, s := range f.subs {
		if s.EventID == eventID && s.State >= state {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) CountPendingSubscriptions(ctx context.Context, eventID int64) (int, error) {
	count := 0
	for _, s := range f.subs {
		if s.EventID == eventID && s.State > domain.StateAcceptable && s.State < domain.StateUnpaidStaff {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) FindSubscriptionByID(ctx context.Context, subscriptionID int64) (*domain.Subscription, error) {
	s, ok := f.subs[subscriptionID]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	copy := *s
	if f.afterFindSub != nil {
		f.afterFindSub(subscriptionID)
	}
	return &copy, nil
}

func (f *fakeRepo) SaveSubscriptionState(ctx context.Context, sub *domain.Subscription) error {
	stored, ok := f.subs[sub.ID]
	if !ok {
		return store.ErrSubscriptionNotFound
	}
	stored.State = sub.State
	stored.WaitUntil = sub.WaitUntil
	stored.Position = sub.Position
	return nil
}

func (f *fakeRepo) ListEventSubscriptionsExcluding(ctx context.Context, eventID int64, exclude []int64) ([]domain.Subscription, error) {
	excluded := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	var out []domain.Subscription
	for _, s := range f.subs {
		if s.EventID == eventID && !excluded[s.ID] {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	f.nextTxID++
	tx.ID = f.nextTxID
	tx.CreatedAt = time.Now()
	copy := *tx
	f.txs[tx.ID] = &copy
	return nil
}

func (f *fakeRepo) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if _, ok := f.txs[tx.ID]; !ok {
		return store.ErrTransactionNotFound
	}
	copy := *tx
	f.txs[tx.ID] = &copy
	return nil
}

func (f *fakeRepo) FindTransactionByID(ctx context.Context, transactionID int64) (*domain.Transaction, error) {
	t, ok := f.txs[transactionID]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	copy := *t
	return &copy, nil
}

func (f *fakeRepo) FindTransactionByRemoteID(ctx context.Context, method domain.PayMethod, remoteID string) (*domain.Transaction, error) {
	for _, t := range f.txs {
		if t.Method == method && t.RemoteID != nil && *t.RemoteID == remoteID {
			copy := *t
			return &copy, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (f *fakeRepo) FindOpenTransaction(ctx context.Context, subscriptionID int64, method domain.PayMethod) (*domain.Transaction, error) {
	var best *domain.Transaction
	for _, t := range f.txs {
		if t.SubscriptionID == subscriptionID && t.Method == method && t.EndedAt == nil {
			if best == nil || t.ID < best.ID {
				best = t
			}
		}
	}
	if best == nil {
		return nil, store.ErrTransactionNotFound
	}
	copy := *best
	return &copy, nil
}

func (f *fakeRepo) HasOtherOpenTransaction(ctx context.Context, subscriptionID int64, method domain.PayMethod, excludeID int64) (bool, error) {
	for _, t := range f.txs {
		if t.SubscriptionID == subscriptionID && t.Method == method && t.EndedAt == nil && t.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) SumAcceptedPayments(ctx context.Context, subscriptionID int64) (int64, error) {
	var total int64
	for _, t := range f.txs {
		if t.SubscriptionID == subscriptionID && t.Accepted && t.EndedAt != nil {
			total += t.Amount
		}
	}
	return total, nil
}

func (f *fakeRepo) HasAcceptedPayment(ctx context.Context, subscriptionID int64) (bool, error) {
	for _, t := range f.txs {
		if t.SubscriptionID == subscriptionID && t.Accepted && t.EndedAt != nil && t.Amount > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) GetQueue(ctx context.Context, eventID int64) ([]int64, bool, error) {
	entries, ok := f.queues[eventID]
	if !ok {
		return nil, false, nil
	}
	return append([]int64{}, entries...), true, nil
}

func (f *fakeRepo) SaveQueue(ctx context.Context, eventID int64, entries []int64) error {
	f.queues[eventID] = append([]int64{}, entries...)
	return nil
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	return fn(f)
}

// fakeSink records every notification it receives.
type fakeSink struct {
	events []domain.NotificationEvent
}

func (s *fakeSink) Notify(ctx context.Context, event domain.NotificationEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSink) kinds() []domain.NotificationKind {
	out := make([]domain.NotificationKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func ptrString(value string) *string {
	return &value
}

func ptrTime(value time.Time) *time.Time {
	return &value
}

// fixClock pins the service clock for a test and restores it afterwards.
func fixClock(now time.Time) func() {
	prev := timeNow
	timeNow = func() time.Time { return now }
	return func() { timeNow = prev }
}
