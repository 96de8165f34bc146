/**
 * @description
 * This file implements the periodic reconciliation sweep. The sweep walks every
 * upcoming event and repairs its admission queue: scheduled flag toggles are applied,
 * stale queue entries dropped, overdue payers expired, waiting subscriptions promoted
 * into freed capacity, and sales closed once capacity is exhausted.
 *
 * @notes
 * - Each event is swept under its admission lock inside one database transaction, so
 *   the sweep serializes with the point operations on the same event.
 * - Notifications raised during a sweep are buffered and flushed after the lock is
 *   released.
 */

package app

import (
	"context"
	"errors"
	"log"

	"github.com/esupa/admission-service/internal/domain"
	"github.com/esupa/admission-service/internal/store"
)

// Sweep reconciles every upcoming event. Per-event failures are logged and do not
// stop the remaining events.
func (s *Service) Sweep(ctx context.Context) error {
	now := timeNow()
	events, err := s.repo.ListUpcomingEvents(ctx, now)
	if err != nil {
		return err
	}

	var firstErr error
	for i := range events {
		event := events[i]
		if err := s.sweepEvent(ctx, &event); err != nil {
			log.Printf("level=error component=sweep event_id=%d msg=\"sweep failed\" err=%v", event.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	log.Printf("level=info component=sweep msg=\"sweep finished\" events=%d", len(events))
	return firstErr
}

// sweepEvent reconciles one event's queue and flags.
func (s *Service) sweepEvent(ctx context.Context, event *domain.Event) error {
	notifier := NewBatchNotifier(s.sink)
	err := s.queue.WithEventLock(event.ID, func() error {
		return s.repo.WithTx(ctx, func(r store.Repository) error {
			return s.sweepEventLocked(ctx, r, notifier, event)
		})
	})
	if err != nil {
		return err
	}
	notifier.Flush(ctx)
	return nil
}

func (s *Service) sweepEventLocked(ctx context.Context, r store.Repository, notifier Sink, event *domain.Event) error {
	now := timeNow()
	if event.ApplyToggles(now) {
		if err := r.SaveEventFlags(ctx, event); err != nil {
			return err
		}
		log.Printf("level=info component=sweep event_id=%d msg=\"scheduled toggles applied\" subs_open=%t sales_open=%t partial_payment_open=%t",
			event.ID, event.SubsOpen, event.SalesOpen, event.PartialPaymentOpen)
	}

	entries, found, err := r.GetQueue(ctx, event.ID)
	if err != nil {
		return err
	}
	if !found {
		// Nobody has ever queued for this event; there is no snapshot to repair.
		return nil
	}

	kept := make([]int64, 0, len(entries))
	occupied := 0 // entries currently holding a capacity slot

	for _, id := range entries {
		sub, err := r.FindSubscriptionByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrSubscriptionNotFound) {
				log.Printf("level=warn component=sweep event_id=%d msg=\"dropping stale queue entry\" subscription_id=%d", event.ID, id)
				continue
			}
			return err
		}

		switch {
		case sub.State == domain.StateExpectingPay && !sub.IsWaiting(now):
			// Payment deadline passed without a settled payment: the slot frees up for
			// whoever is next in line.
			sub.State = domain.StateAcceptable
			sub.ClearSlot()
			if err := r.SaveSubscriptionState(ctx, sub); err != nil {
				return err
			}
			log.Printf("level=info component=sweep event_id=%d op=expire subscription_id=%d", event.ID, sub.ID)
			notifier.Notify(ctx, domain.NotificationEvent{
				Kind:           domain.NotifyExpired,
				EventID:        event.ID,
				EventName:      event.Name,
				SubscriptionID: sub.ID,
				Badge:          sub.Badge,
				Email:          sub.Email,
				Timestamp:      now,
			})

		case sub.State < domain.StateQueuedForPay:
			// Demoted or denied since it queued; it no longer belongs in line.
			sub.ClearSlot()
			if err := r.SaveSubscriptionState(ctx, sub); err != nil {
				return err
			}

		case sub.State == domain.StateQueuedForPay && occupied < event.Capacity:
			sub.RaiseState(domain.StateExpectingPay)
			sub.SetPosition(len(kept))
			sub.SetWaiting(true, s.paymentWaitHours(event), now)
			if err := r.SaveSubscriptionState(ctx, sub); err != nil {
				return err
			}
			kept = append(kept, sub.ID)
			occupied++
			log.Printf("level=info component=sweep event_id=%d op=promote subscription_id=%d position=%d", event.ID, sub.ID, *sub.Position)
			notifier.Notify(ctx, domain.NotificationEvent{
				Kind:           domain.NotifyCanPay,
				EventID:        event.ID,
				EventName:      event.Name,
				SubscriptionID: sub.ID,
				Badge:          sub.Badge,
				Email:          sub.Email,
				Timestamp:      now,
			})

		case sub.State == domain.StateQueuedForPay:
			// Still waiting for capacity; refresh its position in line.
			sub.SetPosition(len(kept))
			if err := r.SaveSubscriptionState(ctx, sub); err != nil {
				return err
			}
			kept = append(kept, sub.ID)

		default:
			// Paying, verifying or confirmed: the entry keeps its slot.
			sub.SetPosition(len(kept))
			if err := r.SaveSubscriptionState(ctx, sub); err != nil {
				return err
			}
			kept = append(kept, sub.ID)
			occupied++
		}
	}

	// Staff-confirmed subscriptions that bypassed the queue still hold capacity;
	// append them so counts and positions stay truthful. Anything else off the queue
	// must not carry a stale slot.
	others, err := r.ListEventSubscriptionsExcluding(ctx, event.ID, kept)
	if err != nil {
		return err
	}
	for i := range others {
		sub := &others[i]
		if sub.State >= domain.StateUnpaidStaff {
			sub.SetPosition(len(kept))
			if err := r.SaveSubscriptionState(ctx, sub); err != nil {
				return err
			}
			kept = append(kept, sub.ID)
			occupied++
			continue
		}
		if sub.Position != nil || sub.WaitUntil != nil {
			sub.ClearSlot()
			if err := r.SaveSubscriptionState(ctx, sub); err != nil {
				return err
			}
		}
	}

	if err := r.SaveQueue(ctx, event.ID, kept); err != nil {
		return err
	}

	if event.SalesOpen && occupied >= event.Capacity {
		event.SalesOpen = false
		if err := r.SaveEventFlags(ctx, event); err != nil {
			return err
		}
		log.Printf("level=info component=sweep event_id=%d msg=\"capacity exhausted, sales closed\"", event.ID)
		notifier.Notify(ctx, domain.NotificationEvent{
			Kind:      domain.NotifySalesClosed,
			EventID:   event.ID,
			EventName: event.Name,
			Detail:    "capacity exhausted",
			Timestamp: now,
		})
	}
	return nil
}
