/**
 * @description
 * This file implements the per-event admission queue. The queue is an ordered list of
 * subscription ids persisted as one snapshot per event; all mutations re-read the
 * snapshot under an in-process per-event lock and write it back inside one database
 * transaction, so concurrent admission decisions for the same event serialize.
 *
 * @notes
 * - Position reads (Peek) briefly ghost-add the subscription to compute the slot it
 *   would occupy, without persisting the addition.
 * - Locks are created lazily per event id and never removed; the set of live events
 *   is small and bounded.
 */

package app

import (
	"context"
	"sync"

	"github.com/esupa/admission-service/internal/store"
)

// queueIndex returns the zero-based position of id in entries, or -1.
func queueIndex(entries []int64, id int64) int {
	for i, e := range entries {
		if e == id {
			return i
		}
	}
	return -1
}

// queueAdd appends id unless already present and returns the resulting list and the
// zero-based position of id.
func queueAdd(entries []int64, id int64) ([]int64, int) {
	if i := queueIndex(entries, id); i >= 0 {
		return entries, i
	}
	entries = append(entries, id)
	return entries, len(entries) - 1
}

// queueRemove drops id from entries if present.
func queueRemove(entries []int64, id int64) []int64 {
	i := queueIndex(entries, id)
	if i < 0 {
		return entries
	}
	return append(entries[:i:i], entries[i+1:]...)
}

// AdmissionQueue coordinates access to the persisted admission queues.
type AdmissionQueue struct {
	repo store.Repository

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewAdmissionQueue creates an AdmissionQueue backed by the given repository.
func NewAdmissionQueue(repo store.Repository) *AdmissionQueue {
	return &AdmissionQueue{
		repo:  repo,
		locks: make(map[int64]*sync.Mutex),
	}
}

func (q *AdmissionQueue) eventLock(eventID int64) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.locks[eventID]
	if !ok {
		l = &sync.Mutex{}
		q.locks[eventID] = l
	}
	return l
}

// WithEventLock runs fn while holding the in-process lock for eventID. Callers that
// walk or rewrite a whole queue use this to serialize with the point operations.
func (q *AdmissionQueue) WithEventLock(eventID int64, fn func() error) error {
	l := q.eventLock(eventID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// Add appends subscriptionID to the event's queue and returns its zero-based
// position. Adding an id already queued returns its existing position.
func (q *AdmissionQueue) Add(ctx context.Context, eventID, subscriptionID int64) (int, error) {
	var pos int
	err := q.WithEventLock(eventID, func() error {
		return q.repo.WithTx(ctx, func(r store.Repository) error {
			entries, _, err := r.GetQueue(ctx, eventID)
			if err != nil {
				return err
			}
			entries, pos = queueAdd(entries, subscriptionID)
			return r.SaveQueue(ctx, eventID, entries)
		})
	})
	return pos, err
}

// Remove drops subscriptionID from the event's queue. Removing an id that is not
// queued is a no-op.
func (q *AdmissionQueue) Remove(ctx context.Context, eventID, subscriptionID int64) error {
	return q.WithEventLock(eventID, func() error {
		return q.repo.WithTx(ctx, func(r store.Repository) error {
			entries, found, err := r.GetQueue(ctx, eventID)
			if err != nil {
				return err
			}
			if !found || queueIndex(entries, subscriptionID) < 0 {
				return nil
			}
			return r.SaveQueue(ctx, eventID, queueRemove(entries, subscriptionID))
		})
	})
}

// Peek returns the zero-based position subscriptionID holds in the event's queue, or
// the position it would receive if it joined now. The queue is not modified.
func (q *AdmissionQueue) Peek(ctx context.Context, eventID, subscriptionID int64) (int, error) {
	var pos int
	err := q.WithEventLock(eventID, func() error {
		entries, _, err := q.repo.GetQueue(ctx, eventID)
		if err != nil {
			return err
		}
		_, pos = queueAdd(entries, subscriptionID)
		return nil
	})
	return pos, err
}

// WithinCapacity reports whether subscriptionID holds, or would receive on joining,
// a position inside the first capacity slots of the event's queue.
func (q *AdmissionQueue) WithinCapacity(ctx context.Context, eventID, subscriptionID int64, capacity int) (bool, error) {
	pos, err := q.Peek(ctx, eventID, subscriptionID)
	if err != nil {
		return false, err
	}
	return pos < capacity, nil
}

// Snapshot returns a copy of the event's queue in order.
func (q *AdmissionQueue) Snapshot(ctx context.Context, eventID int64) ([]int64, error) {
	var out []int64
	err := q.WithEventLock(eventID, func() error {
		entries, _, err := q.repo.GetQueue(ctx, eventID)
		if err != nil {
			return err
		}
		out = append([]int64{}, entries...)
		return nil
	})
	return out, err
}
