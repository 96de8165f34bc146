/**
 * @description
 * This file defines the Subscription domain model and its state machine. A Subscription
 * is one person's claim on one Event slot; its state advances monotonically through the
 * payment pipeline and is only ever lowered by explicit, contextually-justified
 * assignments (rejection, expiry, demotion to partially-paid).
 *
 * @notes
 * - The numeric rank values are load-bearing: persisted rows and rank comparisons
 *   (`state >= StatePartiallyPaid`) depend on them, so they must not be renumbered.
 * - `Position` is non-nil exactly while the subscription occupies a slot in the
 *   admission queue for its event; it is a cached projection of the queue index.
 */

package domain

import "time"

// SubState is the rank-ordered state of a subscription. Higher means further along
// the payment pipeline; the two negative states are review/rejection branches.
type SubState int16

const (
	StateNew           SubState = 0
	StateAcceptable    SubState = 11
	StateQueuedForPay  SubState = 33
	StateExpectingPay  SubState = 55
	StateVerifyingPay  SubState = 66
	StatePartiallyPaid SubState = 77
	StateUnpaidStaff   SubState = 88
	StateConfirmed     SubState = 99
	StateVerifyingData SubState = -1
	StateDenied        SubState = -9
)

var subStateNames = map[SubState]string{
	StateNew:           "New",
	StateAcceptable:    "Filled",
	StateQueuedForPay:  "Queued for pay",
	StateExpectingPay:  "Expecting payment",
	StateVerifyingPay:  "Verifying payment",
	StatePartiallyPaid: "Partially paid",
	StateUnpaidStaff:   "Unpaid staff",
	StateConfirmed:     "Confirmed",
	StateVerifyingData: "Checking data",
	StateDenied:        "Rejected",
}

// String returns the display name for a state, or "Unknown" for values that do not
// correspond to a defined state.
func (s SubState) String() string {
	if name, ok := subStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether a subscription in this state is finished: Confirmed keeps
// its slot forever, Denied blocks all further action.
func (s SubState) Terminal() bool {
	return s == StateConfirmed || s == StateDenied
}

// Subscription represents one person's registration for an event.
// This struct maps directly to the `subscriptions` table in the database.
type Subscription struct {
	ID         int64      `json:"id"`
	EventID    int64      `json:"event_id"`
	UserID     *int64     `json:"user_id,omitempty"` // nil for staff-created entries
	State      SubState   `json:"state"`
	WaitUntil  *time.Time `json:"wait_until,omitempty"`
	Position   *int       `json:"position,omitempty"`
	FullName   string     `json:"full_name"`
	Badge      string     `json:"badge"`
	Email      string     `json:"email"`
	AddonTotal int64      `json:"addon_total"` // in cents, sum of selected add-on prices
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RaiseState moves the subscription forward to target only if target outranks the
// current state. It never lowers state; demotions are explicit assignments by callers
// that can justify them. Returns whether the state changed.
func (s *Subscription) RaiseState(target SubState) bool {
	if s.State < target {
		s.State = target
		return true
	}
	return false
}

// IsWaiting reports whether a payment deadline is currently running: wait_until is
// set and still in the future.
func (s *Subscription) IsWaiting(now time.Time) bool {
	return s.WaitUntil != nil && s.WaitUntil.After(now)
}

// SetWaiting starts or clears the payment deadline. Starting while a deadline is
// already running is a no-op so repeated navigation cannot extend the clock; callers
// that genuinely need a fresh deadline clear first.
func (s *Subscription) SetWaiting(on bool, waitHours int, now time.Time) {
	if !on {
		s.WaitUntil = nil
		return
	}
	if s.IsWaiting(now) {
		return
	}
	deadline := now.Add(time.Duration(waitHours) * time.Hour)
	s.WaitUntil = &deadline
}

// ClearSlot drops the cached queue position and any running deadline. Used when the
// subscription leaves the admission queue.
func (s *Subscription) ClearSlot() {
	s.Position = nil
	s.WaitUntil = nil
}

// SetPosition stores the queue index projection.
func (s *Subscription) SetPosition(pos int) {
	s.Position = &pos
}
