/**
 * @description
 * This file defines the abstract notification events the core emits. Actual delivery
 * (email, push, admin dashboards) happens in a separate consumer; the core only
 * decides that and what to notify, and publishes the event out-of-band.
 */

package domain

import "time"

// NotificationKind enumerates the notification events the core can emit.
type NotificationKind string

const (
	NotifyCanPay            NotificationKind = "can_pay"
	NotifyExpired           NotificationKind = "expired"
	NotifyConfirmed         NotificationKind = "confirmed"
	NotifyDenied            NotificationKind = "denied"
	NotifySalesClosed       NotificationKind = "sales_closed"
	NotifyStaffReviewNeeded NotificationKind = "staff_review_needed"
)

// NotificationEvent is the message payload published to the notification exchange.
// Subscription fields are zero for event-scoped kinds such as sales_closed.
type NotificationEvent struct {
	Kind           NotificationKind `json:"kind"`
	EventID        int64            `json:"event_id"`
	EventName      string           `json:"event_name,omitempty"`
	SubscriptionID int64            `json:"subscription_id,omitempty"`
	Badge          string           `json:"badge,omitempty"`
	Email          string           `json:"email,omitempty"`
	Detail         string           `json:"detail,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}
