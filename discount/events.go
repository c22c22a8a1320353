/*
events.go - Decoupled observer for discount lifecycle events

PURPOSE:
  Assignment, revocation, and application notifications are expressed as a
  capability-typed listener injected into the Engine. The core stays
  testable without a live notification channel, and delivery is
  best-effort: Notify returns nothing, so a listener can never fail a
  transaction.

USAGE:
  engine := discount.NewEngine(store, cfg,
      discount.ListenerFunc(func(e discount.Event) {
          log.WithField("kind", e.Kind).Info("discount event")
      }))
*/
package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EVENTS
// =============================================================================

type EventKind string

const (
	EventAssigned EventKind = "discount.assigned"
	EventRevoked  EventKind = "discount.revoked"
	EventApplied  EventKind = "discount.applied"
)

// Event is the payload delivered to listeners. Amount is set only for
// EventApplied and is the pre-rounding amount taken by that discount.
type Event struct {
	Kind          EventKind
	UserID        UserID
	DiscountID    DiscountID
	Code          string
	AssignmentID  string
	TransactionID TransactionID
	Amount        *decimal.Decimal
	At            time.Time
}

// Listener observes lifecycle events. Implementations must not block;
// the engine calls Notify synchronously.
type Listener interface {
	Notify(e Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

func (f ListenerFunc) Notify(e Event) { f(e) }

// NopListener discards all events.
type NopListener struct{}

func (NopListener) Notify(Event) {}
