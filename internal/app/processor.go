/**
 * @description
 * This file contains the consumer-side logic that materializes one due
 * recurring transaction. It is the idempotent core of the engine: the event
 * only names the template, every decision is re-derived from persisted state,
 * and all mutations commit as a single unit in the store.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wealthos/recurring-service/internal/domain"
	"github.com/wealthos/recurring-service/internal/store"
)

// recurringDescriptionSuffix marks generated ledger entries as instances of a
// recurring template.
const recurringDescriptionSuffix = " (Recurring)"

// errInvalidTemplate marks templates the processor can never fire (unknown
// interval, negative amount). Fatal for the item only, never retried.
var errInvalidTemplate = errors.New("invalid recurring template")

// TemplateStore defines database operations needed by the processor.
type TemplateStore interface {
	FindRecurringTransaction(ctx context.Context, id, userID uuid.UUID) (*domain.RecurringTransaction, error)
	CommitRecurringRun(ctx context.Context, params store.RecurringRunParams) error
}

// Processor consumes due-transaction events and performs the atomic
// create-transaction + update-balance + reschedule sequence.
type Processor struct {
	repo    TemplateStore
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
	newID   func() uuid.UUID
}

// NewProcessor creates a processor with the given per-event deadline.
func NewProcessor(repo TemplateStore, logger *slog.Logger, timeout time.Duration) *Processor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Processor{
		repo:    repo,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
		newID:   uuid.New,
	}
}

// HandleDueTransaction is the message handler bound to the due-transaction
// routing key. It returns true to acknowledge the delivery and false to
// requeue it. Malformed payloads and permanently unprocessable templates are
// acknowledged so the broker never redelivers them; transient store failures
// are requeued and retried, which is safe because processing re-checks
// due-ness against persisted state every time.
func (p *Processor) HandleDueTransaction(body []byte) bool {
	var event domain.DueTransactionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		p.logger.Error("dropping malformed due-transaction payload", "error", err)
		return true
	}
	if err := event.Validate(); err != nil {
		p.logger.Error("dropping due-transaction event with missing identifiers",
			"transaction_id", event.TransactionID, "user_id", event.UserID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.process(ctx, event); err != nil {
		if errors.Is(err, errInvalidTemplate) || errors.Is(err, store.ErrAccountNotFound) {
			p.logger.Error("skipping unprocessable recurring transaction",
				"transaction_id", event.TransactionID, "user_id", event.UserID, "error", err)
			return true
		}
		p.logger.Error("recurring transaction processing failed, requeueing",
			"transaction_id", event.TransactionID, "user_id", event.UserID, "error", err)
		return false
	}
	return true
}

func (p *Processor) process(ctx context.Context, event domain.DueTransactionEvent) error {
	now := p.now().UTC()

	template, err := p.repo.FindRecurringTransaction(ctx, event.TransactionID, event.UserID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			// Deleted between sweep and processing.
			p.logger.Info("recurring transaction no longer exists, skipping",
				"transaction_id", event.TransactionID, "user_id", event.UserID)
			return nil
		}
		return fmt.Errorf("load recurring transaction: %w", err)
	}

	// The persisted state, not the event, decides whether to fire. A duplicate
	// delivery finds the template already advanced and no-ops here.
	if !template.IsDue(now) {
		p.logger.Info("recurring transaction not due, skipping",
			"transaction_id", template.ID, "next_recurring_date", template.NextRecurringDate)
		return nil
	}

	if template.Amount.IsNegative() {
		return fmt.Errorf("%w: negative amount %s", errInvalidTemplate, template.Amount)
	}
	nextDate, err := NextRecurringDate(now, template.RecurringInterval)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidTemplate, err)
	}

	params := store.RecurringRunParams{
		TemplateID: template.ID,
		UserID:     template.UserID,
		AccountID:  template.AccountID,
		Generated: domain.GeneratedTransaction{
			ID:          p.newID(),
			UserID:      template.UserID,
			AccountID:   template.AccountID,
			Type:        template.Type,
			Amount:      template.Amount,
			Description: template.Description + recurringDescriptionSuffix,
			Category:    template.Category,
			Date:        now,
			Status:      domain.TransactionStatusCompleted,
		},
		BalanceChange:     template.BalanceChange(),
		ProcessedAt:       now,
		NextRecurringDate: nextDate,
	}

	if err := p.repo.CommitRecurringRun(ctx, params); err != nil {
		switch {
		case errors.Is(err, store.ErrTemplateNotDue):
			// A concurrent duplicate won the row lock and advanced the
			// template first.
			p.logger.Info("recurring transaction already processed, skipping",
				"transaction_id", template.ID)
			return nil
		case errors.Is(err, store.ErrTransactionNotFound):
			return nil
		default:
			return fmt.Errorf("commit recurring run: %w", err)
		}
	}

	p.logger.Info("recurring transaction processed",
		"transaction_id", template.ID,
		"user_id", template.UserID,
		"generated_transaction_id", params.Generated.ID,
		"balance_change", params.BalanceChange.String(),
		"next_recurring_date", nextDate.Format(time.RFC3339))
	return nil
}
