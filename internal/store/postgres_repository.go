/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables for
 * events, subscriptions, transactions and the per-event admission queue snapshot.
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/esupa/admission-service/internal/domain"
)

var (
	ErrEventNotFound        = errors.New("event not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same query methods
// serve pooled and transaction-bound repositories.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool // nil when bound to a transaction
	q    querier
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, q: pool}
}

// WithTx runs fn against a repository bound to one database transaction. A repository
// that is already transaction-bound joins the outer transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresRepository{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const eventColumns = `id, slug, name, starts_at, min_age, price, capacity, reveal_openings_under,
	subs_open, subs_toggle, sales_open, sales_toggle, partial_payment_open, partial_toggle,
	deposit_info, payment_wait_hours`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(
		&e.ID, &e.Slug, &e.Name, &e.StartsAt, &e.MinAge, &e.Price, &e.Capacity,
		&e.RevealOpeningsUnder, &e.SubsOpen, &e.SubsToggle, &e.SalesOpen, &e.SalesToggle,
		&e.PartialPaymentOpen, &e.PartialToggle, &e.DepositInfo, &e.PaymentWaitHours,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &e, nil
}

// FindEventByID retrieves an event by its primary key.
func (r *PostgresRepository) FindEventByID(ctx context.Context, eventID int64) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	return scanEvent(r.q.QueryRow(ctx, query, eventID))
}

// FindEventBySlug retrieves an event by its URL slug.
func (r *PostgresRepository) FindEventBySlug(ctx context.Context, slug string) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE slug = $1`
	return scanEvent(r.q.QueryRow(ctx, query, slug))
}

// ListUpcomingEvents returns every event whose start time is after the given moment.
func (r *PostgresRepository) ListUpcomingEvents(ctx context.Context, after time.Time) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE starts_at > $1 ORDER BY starts_at`
	rows, err := r.q.Query(ctx, query, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// SaveEventFlags persists the open/closed flags and their toggle timestamps.
func (r *PostgresRepository) SaveEventFlags(ctx context.Context, event *domain.Event) error {
	query := `
		UPDATE events
		SET subs_open = $2, subs_toggle = $3,
		    sales_open = $4, sales_toggle = $5,
		    partial_payment_open = $6, partial_toggle = $7
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query,
		event.ID,
		event.SubsOpen, event.SubsToggle,
		event.SalesOpen, event.SalesToggle,
		event.PartialPaymentOpen, event.PartialToggle,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// CountSubscriptionsAtLeast counts subscriptions of an event at or above a state rank.
func (r *PostgresRepository) CountSubscriptionsAtLeast(ctx context.Context, eventID int64, state domain.SubState) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM subscriptions WHERE event_id = $1 AND state >= $2`
	if err := r.q.QueryRow(ctx, query, eventID, int16(state)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountPendingSubscriptions counts subscriptions between Acceptable and UnpaidStaff,
// exclusive on both ends: the ones currently moving through the payment pipeline.
func (r *PostgresRepository) CountPendingSubscriptions(ctx context.Context, eventID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM subscriptions WHERE event_id = $1 AND state > $2 AND state < $3`
	err := r.q.QueryRow(ctx, query, eventID, int16(domain.StateAcceptable), int16(domain.StateUnpaidStaff)).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

const subscriptionColumns = `id, event_id, user_id, state, wait_until, position,
	full_name, badge, email, addon_total, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(
		&s.ID, &s.EventID, &s.UserID, &s.State, &s.WaitUntil, &s.Position,
		&s.FullName, &s.Badge, &s.Email, &s.AddonTotal, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindSubscriptionByID retrieves a subscription by its primary key.
func (r *PostgresRepository) FindSubscriptionByID(ctx context.Context, subscriptionID int64) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return scanSubscription(r.q.QueryRow(ctx, query, subscriptionID))
}

// SaveSubscriptionState persists the state-machine fields of a subscription.
func (r *PostgresRepository) SaveSubscriptionState(ctx context.Context, sub *domain.Subscription) error {
	query := `
		UPDATE subscriptions
		SET state = $2, wait_until = $3, position = $4, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query, sub.ID, int16(sub.State), sub.WaitUntil, sub.Position)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListEventSubscriptionsExcluding returns an event's subscriptions whose ids are not
// in the exclude list.
func (r *PostgresRepository) ListEventSubscriptionsExcluding(ctx context.Context, eventID int64, exclude []int64) ([]domain.Subscription, error) {
	if exclude == nil {
		exclude = []int64{}
	}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE event_id = $1 AND NOT (id = ANY($2)) ORDER BY id`
	rows, err := r.q.Query(ctx, query, eventID, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

const transactionColumns = `id, subscription_id, amount, method, remote_id, mimetype,
	filled_at, ended_at, accepted, verifier_id, notes, created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.SubscriptionID, &t.Amount, &t.Method, &t.RemoteID, &t.Mimetype,
		&t.FilledAt, &t.EndedAt, &t.Accepted, &t.VerifierID, &t.Notes, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateTransaction inserts a new payment attempt and fills in its generated id.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
			(subscription_id, amount, method, remote_id, mimetype, filled_at, ended_at, accepted, verifier_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	return r.q.QueryRow(ctx, query,
		tx.SubscriptionID, tx.Amount, int16(tx.Method), tx.RemoteID, tx.Mimetype,
		tx.FilledAt, tx.EndedAt, tx.Accepted, tx.VerifierID, tx.Notes,
	).Scan(&tx.ID, &tx.CreatedAt)
}

// SaveTransaction persists the mutable fields of an existing payment attempt.
func (r *PostgresRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		UPDATE transactions
		SET amount = $2, remote_id = $3, mimetype = $4, filled_at = $5,
		    ended_at = $6, accepted = $7, verifier_id = $8, notes = $9
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query,
		tx.ID, tx.Amount, tx.RemoteID, tx.Mimetype, tx.FilledAt,
		tx.EndedAt, tx.Accepted, tx.VerifierID, tx.Notes,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// FindTransactionByID retrieves a payment attempt by its primary key.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID int64) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.q.QueryRow(ctx, query, transactionID))
}

// FindTransactionByRemoteID retrieves the payment attempt carrying a processor
// correlation id.
func (r *PostgresRepository) FindTransactionByRemoteID(ctx context.Context, method domain.PayMethod, remoteID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE method = $1 AND remote_id = $2`
	return scanTransaction(r.q.QueryRow(ctx, query, int16(method), remoteID))
}

// FindOpenTransaction retrieves the open payment attempt of one method for a
// subscription. The at-most-one-open invariant makes LIMIT 1 deterministic.
func (r *PostgresRepository) FindOpenTransaction(ctx context.Context, subscriptionID int64, method domain.PayMethod) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE subscription_id = $1 AND method = $2 AND ended_at IS NULL
		ORDER BY id
		LIMIT 1
	`
	return scanTransaction(r.q.QueryRow(ctx, query, subscriptionID, int16(method)))
}

// HasOtherOpenTransaction reports whether an open payment attempt of the same method
// exists besides the given one.
func (r *PostgresRepository) HasOtherOpenTransaction(ctx context.Context, subscriptionID int64, method domain.PayMethod, excludeID int64) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE subscription_id = $1 AND method = $2 AND ended_at IS NULL AND id <> $3
		)
	`
	if err := r.q.QueryRow(ctx, query, subscriptionID, int16(method), excludeID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// SumAcceptedPayments totals the accepted, closed transaction amounts of a subscription.
func (r *PostgresRepository) SumAcceptedPayments(ctx context.Context, subscriptionID int64) (int64, error) {
	var total int64
	query := `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE subscription_id = $1 AND accepted = true AND ended_at IS NOT NULL
	`
	if err := r.q.QueryRow(ctx, query, subscriptionID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// HasAcceptedPayment reports whether any accepted, closed transaction with a positive
// amount exists for a subscription.
func (r *PostgresRepository) HasAcceptedPayment(ctx context.Context, subscriptionID int64) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE subscription_id = $1 AND accepted = true AND ended_at IS NOT NULL AND amount > 0
		)
	`
	if err := r.q.QueryRow(ctx, query, subscriptionID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// GetQueue loads the admission queue snapshot for an event. found is false when no
// snapshot row exists yet (nothing has ever queued).
func (r *PostgresRepository) GetQueue(ctx context.Context, eventID int64) ([]int64, bool, error) {
	var raw []byte
	query := `SELECT entries FROM admission_queues WHERE event_id = $1`
	err := r.q.QueryRow(ctx, query, eventID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	entries := []int64{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, false, fmt.Errorf("decode queue snapshot for event %d: %w", eventID, err)
		}
	}
	return entries, true, nil
}

// SaveQueue replaces the admission queue snapshot for an event as a whole document.
func (r *PostgresRepository) SaveQueue(ctx context.Context, eventID int64, entries []int64) error {
	if entries == nil {
		entries = []int64{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode queue snapshot for event %d: %w", eventID, err)
	}
	query := `
		INSERT INTO admission_queues (event_id, entries)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO UPDATE SET entries = EXCLUDED.entries
	`
	_, err = r.q.Exec(ctx, query, eventID, raw)
	return err
}
