/**
 * @description
 * This file defines the Transaction domain model: one payment attempt against a
 * subscription. Transactions are created when a payment starts, optionally gain an
 * external correlation id once a processor assigns one, and are closed exactly once
 * with an accepted/rejected outcome. After closing they are immutable apart from
 * staff notes.
 *
 * @notes
 * - At most one open transaction (EndedAt == nil) may exist per (subscription,
 *   method); payment flows reuse the open one instead of creating a sibling.
 * - The receipt blob itself lives in external file storage; only its content type is
 *   recorded here.
 */

package domain

import (
	"time"
)

// PayMethod identifies how a payment attempt is made.
type PayMethod int16

const (
	MethodManual    PayMethod = 0 // cash or staff-entered payment
	MethodDeposit   PayMethod = 1 // bank deposit with uploaded receipt
	MethodProcessor PayMethod = 2 // redirect-based payment processor
)

var payMethodNames = map[PayMethod]string{
	MethodManual:    "Manual",
	MethodDeposit:   "Bank deposit",
	MethodProcessor: "Payment processor",
}

func (m PayMethod) String() string {
	if name, ok := payMethodNames[m]; ok {
		return name
	}
	return "Unknown"
}

// Transaction represents one payment attempt against a subscription.
// This struct maps directly to the `transactions` table in the database.
type Transaction struct {
	ID             int64      `json:"id"`
	SubscriptionID int64      `json:"subscription_id"`
	Amount         int64      `json:"amount"` // in cents
	Method         PayMethod  `json:"method"`
	RemoteID       *string    `json:"remote_id,omitempty"` // processor correlation id
	Mimetype       string     `json:"mimetype,omitempty"`  // content type of the uploaded receipt
	FilledAt       *time.Time `json:"filled_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Accepted       bool       `json:"accepted"`
	VerifierID     *int64     `json:"verifier_id,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Open reports whether the transaction is still awaiting an outcome.
func (t *Transaction) Open() bool {
	return t.EndedAt == nil
}

// AppendNote adds one line to the audit trail. Notes are append-only; nothing ever
// rewrites earlier lines.
func (t *Transaction) AppendNote(when time.Time, line string) {
	entry := "[" + when.UTC().Format(time.RFC3339) + "] " + line
	if t.Notes == "" {
		t.Notes = entry
		return
	}
	t.Notes += "\n" + entry
}
