/**
 * @description
 * This file implements payment reconciliation: closing payment attempts and moving
 * their subscriptions through the admission state machine. All external payment
 * signals (processor callbacks, deposit proofs, staff decisions) funnel into
 * EndTransaction, which applies the accept and reject transitions.
 *
 * @notes
 * - EndTransaction persists the closed transaction before touching subscription or
 *   queue state. A crash in between leaves a closed transaction that the periodic
 *   sweep reconciles.
 * - Every entry point is idempotent: a transaction that is already closed absorbs
 *   repeated signals without effect.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/esupa/admission-service/internal/domain"
	"github.com/esupa/admission-service/internal/store"
)

// ErrTransactionClosed is returned when an operation requires an open transaction.
var ErrTransactionClosed = errors.New("transaction is already closed")

// ErrStatusHeldForReview is returned when a processor callback carries a status the
// service does not recognize. The payment is parked for staff instead of guessing a
// transition.
var ErrStatusHeldForReview = errors.New("processor status held for staff review")

// EndTransaction closes a payment attempt and applies the outcome to its
// subscription. A transaction that is already closed is left untouched.
func (s *Service) EndTransaction(ctx context.Context, tx *domain.Transaction, accepted bool, note string) error {
	if !tx.Open() {
		log.Printf("level=info component=reconcile op=end_transaction transaction_id=%d msg=\"already closed, ignoring\"", tx.ID)
		return nil
	}

	sub, err := s.repo.FindSubscriptionByID(ctx, tx.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.State == domain.StateDenied {
		return ErrSubscriptionDenied
	}
	event, err := s.repo.FindEventByID(ctx, sub.EventID)
	if err != nil {
		return err
	}

	now := timeNow()
	tx.Accepted = accepted
	tx.EndedAt = &now
	if tx.FilledAt == nil {
		tx.FilledAt = tx.EndedAt
	}
	if note != "" {
		tx.AppendNote(now, note)
	}
	// The closed transaction is the durable fact; subscription and queue state follow
	// from it and can be rebuilt by the sweep if we fail past this point.
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to close transaction %d: %w", tx.ID, err)
	}

	notifier := NewBatchNotifier(s.sink)
	err = s.queue.WithEventLock(event.ID, func() error {
		return s.repo.WithTx(ctx, func(r store.Repository) error {
			// The sweep competes for the same lock; settle from the state as it
			// is now, not from the pre-lock read.
			sub, err := r.FindSubscriptionByID(ctx, tx.SubscriptionID)
			if err != nil {
				return err
			}
			if sub.State == domain.StateDenied {
				return ErrSubscriptionDenied
			}
			if accepted {
				return s.settleAccepted(ctx, r, notifier, event, sub)
			}
			return s.settleRejected(ctx, r, notifier, event, sub, tx)
		})
	})
	if err != nil {
		return err
	}
	notifier.Flush(ctx)
	return nil
}

// settleAccepted applies an accepted payment: partially paid while a balance
// remains, confirmed once the balance reaches zero.
func (s *Service) settleAccepted(ctx context.Context, r store.Repository, notifier Sink, event *domain.Event, sub *domain.Subscription) error {
	if sub.State == domain.StateConfirmed {
		return nil
	}

	owed, err := s.owedIn(ctx, r, event, sub)
	if err != nil {
		return err
	}
	target := domain.StateConfirmed
	if owed > 0 {
		target = domain.StatePartiallyPaid
	}
	if !sub.RaiseState(target) {
		return nil
	}
	if target == domain.StateConfirmed {
		sub.SetWaiting(false, 0, timeNow())
	}
	if err := r.SaveSubscriptionState(ctx, sub); err != nil {
		return err
	}
	// A settled payment keeps the subscription's queue slot.
	entries, _, err := r.GetQueue(ctx, event.ID)
	if err != nil {
		return err
	}
	entries, _ = queueAdd(entries, sub.ID)
	if err := r.SaveQueue(ctx, event.ID, entries); err != nil {
		return err
	}
	log.Printf("level=info component=reconcile op=settle_accepted subscription_id=%d state=%s owed=%d", sub.ID, sub.State, owed)
	notifier.Notify(ctx, domain.NotificationEvent{
		Kind:           domain.NotifyConfirmed,
		EventID:        event.ID,
		EventName:      event.Name,
		SubscriptionID: sub.ID,
		Badge:          sub.Badge,
		Email:          sub.Email,
		Timestamp:      timeNow(),
	})
	return nil
}

// settleRejected applies a rejected payment. The subscription keeps its slot while
// it has settled money or another open attempt of the same method; otherwise it
// falls back to acceptable and leaves the queue.
func (s *Service) settleRejected(ctx context.Context, r store.Repository, notifier Sink, event *domain.Event, sub *domain.Subscription, tx *domain.Transaction) error {
	if sub.State >= domain.StatePartiallyPaid {
		log.Printf("level=info component=reconcile op=settle_rejected subscription_id=%d state=%s msg=\"keeping slot, prior payment settled\"", sub.ID, sub.State)
		return nil
	}
	otherOpen, err := r.HasOtherOpenTransaction(ctx, sub.ID, tx.Method, tx.ID)
	if err != nil {
		return err
	}
	if otherOpen {
		log.Printf("level=info component=reconcile op=settle_rejected subscription_id=%d msg=\"keeping slot, another attempt still open\"", sub.ID)
		return nil
	}

	sub.State = domain.StateAcceptable
	sub.ClearSlot()
	if err := r.SaveSubscriptionState(ctx, sub); err != nil {
		return err
	}
	entries, found, err := r.GetQueue(ctx, event.ID)
	if err != nil {
		return err
	}
	if found {
		if err := r.SaveQueue(ctx, event.ID, queueRemove(entries, sub.ID)); err != nil {
			return err
		}
	}
	log.Printf("level=info component=reconcile op=settle_rejected subscription_id=%d state=%s", sub.ID, sub.State)
	notifier.Notify(ctx, domain.NotificationEvent{
		Kind:           domain.NotifyDenied,
		EventID:        event.ID,
		EventName:      event.Name,
		SubscriptionID: sub.ID,
		Badge:          sub.Badge,
		Email:          sub.Email,
		Timestamp:      timeNow(),
	})
	return nil
}

// HandleProcessorCallback processes a payment processor callback. The callback body
// only carries a notification code; the payment status is always pulled from the
// processor, never trusted from the request.
func (s *Service) HandleProcessorCallback(ctx context.Context, code string) error {
	notification, err := s.processor.GetNotification(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to fetch processor notification %s: %w", code, err)
	}

	tx, err := s.repo.FindTransactionByRemoteID(ctx, domain.MethodProcessor, notification.Reference)
	if err != nil {
		return fmt.Errorf("no transaction for processor reference %s: %w", notification.Reference, err)
	}

	status := strings.ToLower(notification.Status)
	log.Printf("level=info component=reconcile op=processor_callback transaction_id=%d status=%s", tx.ID, status)

	switch status {
	case "pending", "in_analysis", "in-analysis":
		if !tx.Open() {
			return nil
		}
		// Under review by the processor: keep the slot and restart the deadline.
		return s.extendDeadline(ctx, tx, "processor reviewing payment, status "+status)

	case "paid", "available":
		return s.EndTransaction(ctx, tx, true, "processor settled payment, status "+status)

	case "disputed":
		tx.EndedAt = nil
		tx.Accepted = false
		tx.AppendNote(timeNow(), "processor opened a dispute")
		if err := s.repo.SaveTransaction(ctx, tx); err != nil {
			return err
		}
		return s.extendDeadline(ctx, tx, "")

	case "refunded", "cancelled", "canceled":
		return s.EndTransaction(ctx, tx, false, "processor closed payment, status "+status)

	default:
		log.Printf("level=warn component=reconcile op=processor_callback transaction_id=%d msg=\"unknown status, holding for staff review\" status=%s", tx.ID, status)
		if err := s.sink.Notify(ctx, domain.NotificationEvent{
			Kind:           domain.NotifyStaffReviewNeeded,
			SubscriptionID: tx.SubscriptionID,
			Detail:         fmt.Sprintf("processor reported unknown status %q for transaction %d", notification.Status, tx.ID),
			Timestamp:      timeNow(),
		}); err != nil {
			log.Printf("level=warn component=reconcile op=processor_callback msg=\"staff notification failed\" err=%v", err)
		}
		return ErrStatusHeldForReview
	}
}

// extendDeadline restarts the payment deadline of the transaction's subscription so
// the sweep does not expire it while the payment is still moving.
func (s *Service) extendDeadline(ctx context.Context, tx *domain.Transaction, note string) error {
	if note != "" {
		tx.AppendNote(timeNow(), note)
		if err := s.repo.SaveTransaction(ctx, tx); err != nil {
			return err
		}
	}
	sub, err := s.repo.FindSubscriptionByID(ctx, tx.SubscriptionID)
	if err != nil {
		return err
	}
	event, err := s.repo.FindEventByID(ctx, sub.EventID)
	if err != nil {
		return err
	}
	now := timeNow()
	sub.SetWaiting(false, 0, now)
	sub.SetWaiting(true, s.paymentWaitHours(event), now)
	return s.repo.SaveSubscriptionState(ctx, sub)
}

// RecordDeposit attaches an uploaded deposit proof to the subscription's open
// deposit attempt and hands it to staff for verification.
func (s *Service) RecordDeposit(ctx context.Context, subscriptionID, amount int64, mimetype, slipReference string) (*domain.Transaction, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.State == domain.StateDenied {
		return nil, ErrSubscriptionDenied
	}

	var tx *domain.Transaction
	err = s.repo.WithTx(ctx, func(r store.Repository) error {
		tx, err = openOrCreateTransaction(ctx, r, sub, domain.MethodDeposit, amount)
		if err != nil {
			return err
		}
		now := timeNow()
		if amount > 0 {
			tx.Amount = amount
		}
		tx.Mimetype = mimetype
		if slipReference != "" {
			tx.RemoteID = &slipReference
		}
		tx.FilledAt = &now
		tx.AppendNote(now, "deposit proof uploaded")
		if err := r.SaveTransaction(ctx, tx); err != nil {
			return err
		}
		sub.RaiseState(domain.StateVerifyingPay)
		return r.SaveSubscriptionState(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=reconcile op=record_deposit subscription_id=%d transaction_id=%d amount=%d", sub.ID, tx.ID, tx.Amount)
	if err := s.sink.Notify(ctx, domain.NotificationEvent{
		Kind:           domain.NotifyStaffReviewNeeded,
		EventID:        sub.EventID,
		SubscriptionID: sub.ID,
		Badge:          sub.Badge,
		Email:          sub.Email,
		Detail:         fmt.Sprintf("deposit proof awaiting verification on transaction %d", tx.ID),
		Timestamp:      timeNow(),
	}); err != nil {
		log.Printf("level=warn component=reconcile op=record_deposit msg=\"staff notification failed\" err=%v", err)
	}
	return tx, nil
}

// RecordManualTransaction lets staff register an out-of-band payment for a
// subscription. The attempt stays open until a decision closes it.
func (s *Service) RecordManualTransaction(ctx context.Context, subscriptionID, amount int64, notes string) (*domain.Transaction, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.State == domain.StateDenied {
		return nil, ErrSubscriptionDenied
	}

	var tx *domain.Transaction
	err = s.repo.WithTx(ctx, func(r store.Repository) error {
		tx, err = openOrCreateTransaction(ctx, r, sub, domain.MethodManual, amount)
		if err != nil {
			return err
		}
		now := timeNow()
		if amount > 0 {
			tx.Amount = amount
		}
		if tx.FilledAt == nil {
			tx.FilledAt = &now
		}
		if notes != "" {
			tx.AppendNote(now, notes)
		}
		return r.SaveTransaction(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=reconcile op=record_manual subscription_id=%d transaction_id=%d amount=%d", sub.ID, tx.ID, amount)
	return tx, nil
}

// DecideTransaction records a staff verdict on an open payment attempt. Deciding a
// closed transaction returns ErrTransactionClosed without changing anything.
func (s *Service) DecideTransaction(ctx context.Context, transactionID, verifierID int64, accepted bool, notes string) (*domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !tx.Open() {
		return nil, ErrTransactionClosed
	}

	tx.VerifierID = &verifierID
	verdict := "rejected"
	if accepted {
		verdict = "accepted"
	}
	note := "staff " + verdict
	if notes != "" {
		note += ": " + notes
	}
	if err := s.EndTransaction(ctx, tx, accepted, note); err != nil {
		return nil, err
	}
	return tx, nil
}
