/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the admission-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/esupa/admission-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Event methods
	FindEventByID(ctx context.Context, eventID int64) (*domain.Event, error)
	FindEventBySlug(ctx context.Context, slug string) (*domain.Event, error)
	ListUpcomingEvents(ctx context.Context, after time.Time) ([]domain.Event, error)
	SaveEventFlags(ctx context.Context, event *domain.Event) error
	// CountSubscriptionsAtLeast counts subscriptions of an event whose state rank is
	// at or above the given state.
	CountSubscriptionsAtLeast(ctx context.Context, eventID int64, state domain.SubState) (int, error)
	// CountPendingSubscriptions counts subscriptions currently in the payment
	// pipeline: past Acceptable but not yet staff-confirmed.
	CountPendingSubscriptions(ctx context.Context, eventID int64) (int, error)

	// Subscription methods
	FindSubscriptionByID(ctx context.Context, subscriptionID int64) (*domain.Subscription, error)
	// SaveSubscriptionState persists the mutable state-machine fields: state,
	// wait_until and position.
	SaveSubscriptionState(ctx context.Context, sub *domain.Subscription) error
	// ListEventSubscriptionsExcluding returns every subscription of an event whose id
	// is not in the exclude list. Used by the sweep to find staff-confirmed entries
	// missing from the queue snapshot.
	ListEventSubscriptionsExcluding(ctx context.Context, eventID int64, exclude []int64) ([]domain.Subscription, error)

	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	SaveTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, transactionID int64) (*domain.Transaction, error)
	FindTransactionByRemoteID(ctx context.Context, method domain.PayMethod, remoteID string) (*domain.Transaction, error)
	// FindOpenTransaction returns the single open (ended_at IS NULL) transaction of
	// the given method for a subscription, or ErrTransactionNotFound.
	FindOpenTransaction(ctx context.Context, subscriptionID int64, method domain.PayMethod) (*domain.Transaction, error)
	// HasOtherOpenTransaction reports whether another open transaction of the same
	// method exists besides the one being closed.
	HasOtherOpenTransaction(ctx context.Context, subscriptionID int64, method domain.PayMethod, excludeID int64) (bool, error)
	// SumAcceptedPayments totals the amounts of accepted, closed transactions.
	SumAcceptedPayments(ctx context.Context, subscriptionID int64) (int64, error)
	// HasAcceptedPayment reports whether any accepted, closed transaction with a
	// positive amount exists.
	HasAcceptedPayment(ctx context.Context, subscriptionID int64) (bool, error)

	// Queue snapshot methods. The snapshot is the authoritative admission order for
	// one event, replaced as a whole document.
	GetQueue(ctx context.Context, eventID int64) (entries []int64, found bool, err error)
	SaveQueue(ctx context.Context, eventID int64, entries []int64) error

	// WithTx runs fn against a repository bound to a single database transaction.
	// Calling WithTx on an already transaction-bound repository joins the outer
	// transaction instead of opening a nested one.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
