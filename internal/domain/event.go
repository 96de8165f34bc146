/**
 * @description
 * This file defines the Event domain model for the admission-service. An Event is the
 * capacity-limited resource subscribers compete for: it owns a price, a start time, the
 * payment deadline length, and the open/closed flags that gate registration and sales.
 *
 * @notes
 * - Amounts are stored as `int64` in cents to avoid floating-point inaccuracies.
 * - The subs/sales/partial flags each carry an optional toggle timestamp; once that
 *   timestamp passes, the sweep flips the flag and clears the timestamp.
 */

package domain

import "time"

// Event represents one paid event with a fixed number of admission slots.
// This struct maps directly to the `events` table in the database.
type Event struct {
	ID                  int64      `json:"id"`
	Slug                string     `json:"slug"`
	Name                string     `json:"name"`
	StartsAt            time.Time  `json:"starts_at"`
	MinAge              int        `json:"min_age"`
	Price               int64      `json:"price"` // in cents
	Capacity            int        `json:"capacity"`
	RevealOpeningsUnder int        `json:"reveal_openings_under"`
	SubsOpen            bool       `json:"subs_open"`
	SubsToggle          *time.Time `json:"subs_toggle,omitempty"`
	SalesOpen           bool       `json:"sales_open"`
	SalesToggle         *time.Time `json:"sales_toggle,omitempty"`
	PartialPaymentOpen  bool       `json:"partial_payment_open"`
	PartialToggle       *time.Time `json:"partial_toggle,omitempty"`
	DepositInfo         string     `json:"deposit_info"`
	PaymentWaitHours    int        `json:"payment_wait_hours"`
}

// ApplyToggles flips each boolean flag whose toggle timestamp has passed and clears
// that timestamp. It returns true if anything changed so callers know to persist.
func (e *Event) ApplyToggles(now time.Time) bool {
	changed := false
	if e.SubsToggle != nil && e.SubsToggle.Before(now) {
		e.SubsToggle = nil
		e.SubsOpen = !e.SubsOpen
		changed = true
	}
	if e.SalesToggle != nil && e.SalesToggle.Before(now) {
		e.SalesToggle = nil
		e.SalesOpen = !e.SalesOpen
		changed = true
	}
	if e.PartialToggle != nil && e.PartialToggle.Before(now) {
		e.PartialToggle = nil
		e.PartialPaymentOpen = !e.PartialPaymentOpen
		changed = true
	}
	return changed
}

// EventAvailability is the public availability snapshot for an event's state endpoint.
// Opening counts are reported as strings because the reveal threshold can obscure the
// exact number (e.g. "10+").
type EventAvailability struct {
	Exists               bool   `json:"exists"`
	Slug                 string `json:"slug"`
	ID                   int64  `json:"id,omitempty"`
	RegistrationOpen     bool   `json:"registrationOpen,omitempty"`
	SalesOpen            bool   `json:"salesOpen,omitempty"`
	PotentiallyAvailable string `json:"potentiallyAvailable,omitempty"`
	CurrentlyAvailable   string `json:"currentlyAvailable,omitempty"`
}
