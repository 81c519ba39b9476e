/**
 * @description
 * Event payloads exchanged over RabbitMQ between the sweep jobs and the
 * recurring transaction processor.
 *
 * The transport delivers events at-least-once and possibly out of order, so
 * payloads carry only identifiers; consumers re-read authoritative state from
 * the database before acting.
 */
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RoutingKeyRecurringDue is the routing key for due-transaction events on the
// transaction_events exchange.
const RoutingKeyRecurringDue = "transaction.recurring.due"

// ErrInvalidEvent marks a malformed event payload. Such events are logged and
// dropped rather than retried.
var ErrInvalidEvent = errors.New("invalid due-transaction event")

// DueTransactionEvent is the work item emitted by the transaction sweep for
// each due recurring template.
type DueTransactionEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	UserID        uuid.UUID `json:"user_id"`
	EmittedAt     time.Time `json:"emitted_at"`
}

// Validate rejects events missing either required identifier.
func (e DueTransactionEvent) Validate() error {
	if e.TransactionID == uuid.Nil || e.UserID == uuid.Nil {
		return ErrInvalidEvent
	}
	return nil
}
