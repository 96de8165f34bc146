/**
 * @description
 * This file contains the core business logic for the admission-service. The `Service`
 * struct orchestrates capacity-limited admission, coordinating between the database
 * repository, the per-event admission queue, the payment method registry, and the
 * notification sink.
 *
 * Key features:
 * - Starts payment attempts, admitting subscriptions while capacity remains and
 *   queueing the rest in arrival order.
 * - Computes the outstanding balance of a subscription from its accepted payments.
 * - Exposes availability snapshots with openings obscured above a reveal threshold.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/esupa/admission-service/internal/domain"
	"github.com/esupa/admission-service/internal/store"
	"github.com/esupa/admission-service/pkg/processorclient"
)

// timeNow is the service clock. Tests substitute it to pin time-dependent behavior.
var timeNow = time.Now

var (
	ErrSubscriptionDenied    = errors.New("subscription is denied")
	ErrSubscriptionConfirmed = errors.New("subscription is already confirmed")
	ErrSalesClosed           = errors.New("sales are closed for this event")
	ErrPartialPaymentClosed  = errors.New("partial payment is not open for this event")
)

// Service provides the core business logic for admission.
type Service struct {
	repo      store.Repository
	queue     *AdmissionQueue
	sink      Sink
	payments  *PaymentRegistry
	processor NotificationFetcher

	// defaultWaitHours backs the payment deadline of events that carry none.
	defaultWaitHours int
}

// NotificationFetcher pulls the authoritative state of a payment notification from
// the processor. Satisfied by *processorclient.Client.
type NotificationFetcher interface {
	GetNotification(ctx context.Context, code string) (*processorclient.Notification, error)
}

// NewService creates a new admission service instance.
func NewService(repo store.Repository, queue *AdmissionQueue, sink Sink, payments *PaymentRegistry, processor NotificationFetcher, defaultWaitHours int) *Service {
	return &Service{
		repo:             repo,
		queue:            queue,
		sink:             sink,
		payments:         payments,
		processor:        processor,
		defaultWaitHours: defaultWaitHours,
	}
}

// paymentWaitHours returns the event's payment deadline length, falling back to the
// service default for events configured without one.
func (s *Service) paymentWaitHours(event *domain.Event) int {
	if event.PaymentWaitHours > 0 {
		return event.PaymentWaitHours
	}
	return s.defaultWaitHours
}

// PaymentOutcome is the result of starting a payment attempt. Either the
// subscription was admitted and Instruction tells the payer how to proceed, or it was
// queued and Position reports its zero-based place in line.
type PaymentOutcome struct {
	Queued      bool                `json:"queued"`
	Position    int                 `json:"position"`
	Instruction *PaymentInstruction `json:"instruction,omitempty"`
}

// Owed returns the outstanding balance of a subscription in cents. The balance is
// the event price plus the subscription's addon total, minus accepted payments.
func (s *Service) Owed(ctx context.Context, event *domain.Event, sub *domain.Subscription) (int64, error) {
	paid, err := s.repo.SumAcceptedPayments(ctx, sub.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum accepted payments: %w", err)
	}
	owed := event.Price + sub.AddonTotal - paid
	if owed < 0 {
		owed = 0
	}
	return owed, nil
}

// PaidAny reports whether the subscription has at least one accepted payment with a
// positive amount.
func (s *Service) PaidAny(ctx context.Context, subscriptionID int64) (bool, error) {
	return s.repo.HasAcceptedPayment(ctx, subscriptionID)
}

// BeginPayment starts a payment attempt for a subscription. The subscription joins
// the event's admission queue; while its position fits within capacity it is
// admitted and the chosen payment method is started, otherwise it waits in line.
// A positive amount below the outstanding balance starts a partial payment, which
// requires the event to have partial payment open. Zero means pay the full balance.
func (s *Service) BeginPayment(ctx context.Context, subscriptionID int64, method domain.PayMethod, amount int64) (*PaymentOutcome, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	switch {
	case sub.State == domain.StateDenied:
		return nil, ErrSubscriptionDenied
	case sub.State == domain.StateConfirmed:
		return nil, ErrSubscriptionConfirmed
	}

	event, err := s.repo.FindEventByID(ctx, sub.EventID)
	if err != nil {
		return nil, err
	}
	if err := s.applyToggles(ctx, event); err != nil {
		return nil, err
	}
	if !event.SalesOpen {
		return nil, ErrSalesClosed
	}

	payMethod, err := s.payments.Get(method)
	if err != nil {
		return nil, err
	}

	var outcome *PaymentOutcome
	err = s.queue.WithEventLock(event.ID, func() error {
		return s.repo.WithTx(ctx, func(r store.Repository) error {
			// State may have moved while waiting for the lock; re-read and
			// re-check before touching the queue.
			sub, err = r.FindSubscriptionByID(ctx, subscriptionID)
			if err != nil {
				return err
			}
			switch {
			case sub.State == domain.StateDenied:
				return ErrSubscriptionDenied
			case sub.State == domain.StateConfirmed:
				return ErrSubscriptionConfirmed
			}

			entries, _, err := r.GetQueue(ctx, event.ID)
			if err != nil {
				return err
			}
			entries, pos := queueAdd(entries, sub.ID)
			if err := r.SaveQueue(ctx, event.ID, entries); err != nil {
				return err
			}

			now := timeNow()
			if pos >= event.Capacity {
				// Over capacity: hold a place in line until the sweep promotes it.
				sub.RaiseState(domain.StateQueuedForPay)
				sub.SetPosition(pos)
				if err := r.SaveSubscriptionState(ctx, sub); err != nil {
					return err
				}
				outcome = &PaymentOutcome{Queued: true, Position: pos}
				return nil
			}

			sub.RaiseState(domain.StateExpectingPay)
			sub.SetPosition(pos)
			sub.SetWaiting(true, s.paymentWaitHours(event), now)
			if err := r.SaveSubscriptionState(ctx, sub); err != nil {
				return err
			}

			owed, err := s.owedIn(ctx, r, event, sub)
			if err != nil {
				return err
			}
			requested := owed
			if amount > 0 && amount < owed {
				if !event.PartialPaymentOpen {
					return ErrPartialPaymentClosed
				}
				requested = amount
			}
			instruction, err := payMethod.Begin(ctx, r, event, sub, requested)
			if err != nil {
				return err
			}
			outcome = &PaymentOutcome{Position: pos, Instruction: instruction}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=service op=begin_payment subscription_id=%d method=%s queued=%t position=%d",
		sub.ID, method, outcome.Queued, outcome.Position)
	return outcome, nil
}

// owedIn computes the outstanding balance using a transaction-bound repository.
func (s *Service) owedIn(ctx context.Context, r store.Repository, event *domain.Event, sub *domain.Subscription) (int64, error) {
	paid, err := r.SumAcceptedPayments(ctx, sub.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum accepted payments: %w", err)
	}
	owed := event.Price + sub.AddonTotal - paid
	if owed < 0 {
		owed = 0
	}
	return owed, nil
}

// applyToggles flips any event flag whose scheduled toggle time has passed and
// persists the change.
func (s *Service) applyToggles(ctx context.Context, event *domain.Event) error {
	if !event.ApplyToggles(timeNow()) {
		return nil
	}
	log.Printf("level=info component=service op=apply_toggles event_id=%d subs_open=%t sales_open=%t partial_payment_open=%t",
		event.ID, event.SubsOpen, event.SalesOpen, event.PartialPaymentOpen)
	return s.repo.SaveEventFlags(ctx, event)
}

// EventAvailability returns the public availability snapshot for an event slug.
// A missing event yields Exists=false rather than an error so the endpoint does not
// leak which slugs are real.
func (s *Service) EventAvailability(ctx context.Context, slug string) (*domain.EventAvailability, error) {
	event, err := s.repo.FindEventBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			return &domain.EventAvailability{Exists: false}, nil
		}
		return nil, err
	}
	if err := s.applyToggles(ctx, event); err != nil {
		return nil, err
	}

	admitted, err := s.repo.CountSubscriptionsAtLeast(ctx, event.ID, domain.StateUnpaidStaff)
	if err != nil {
		return nil, err
	}
	pending, err := s.repo.CountPendingSubscriptions(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	potentially := event.Capacity - admitted
	if potentially < 0 {
		potentially = 0
	}
	currently := potentially - pending
	if currently < 0 {
		currently = 0
	}

	return &domain.EventAvailability{
		Exists:               true,
		Slug:                 event.Slug,
		ID:                   event.ID,
		RegistrationOpen:     event.SubsOpen,
		SalesOpen:            event.SalesOpen,
		PotentiallyAvailable: obscureOpenings(potentially, event.RevealOpeningsUnder),
		CurrentlyAvailable:   obscureOpenings(currently, event.RevealOpeningsUnder),
	}, nil
}

// obscureOpenings renders an openings count, capping it at the reveal threshold so
// large remaining capacity reads as "N+" instead of an exact figure.
func obscureOpenings(count, revealUnder int) string {
	if revealUnder > 0 && count >= revealUnder {
		return strconv.Itoa(revealUnder) + "+"
	}
	return strconv.Itoa(count)
}

// QueueSnapshot returns the ordered subscription ids of an event's admission queue.
func (s *Service) QueueSnapshot(ctx context.Context, eventID int64) ([]int64, error) {
	if _, err := s.repo.FindEventByID(ctx, eventID); err != nil {
		return nil, err
	}
	return s.queue.Snapshot(ctx, eventID)
}
