/**
 * @description
 * Scheduled sweep implementations for the recurring-service.
 *
 * The transaction sweep only discovers work: it queries for due templates and
 * publishes one event per template, leaving all mutation to the consumer so a
 * slow processor cannot block the next tick's discovery. The budget sweep
 * evaluates budgets inline through the alert evaluator.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/wealthos/recurring-service/internal/domain"
)

// SweepStore defines database operations needed by the sweep jobs.
type SweepStore interface {
	FindDueRecurringTransactions(ctx context.Context, now time.Time) ([]domain.RecurringTransaction, error)
	FindBudgetsWithDefaultAccounts(ctx context.Context) ([]domain.BudgetWithAccount, error)
}

// EventPublisher publishes due-transaction events to the broker.
type EventPublisher interface {
	PublishDueTransaction(ctx context.Context, event domain.DueTransactionEvent) error
}

// Jobs contains the logic for all scheduled sweeps.
type Jobs struct {
	repo      SweepStore
	publisher EventPublisher
	budgets   *BudgetAlertEvaluator
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// NewJobs creates a new Jobs runner with the given per-sweep deadline.
func NewJobs(repo SweepStore, publisher EventPublisher, budgets *BudgetAlertEvaluator, logger *slog.Logger, timeout time.Duration) *Jobs {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Jobs{
		repo:      repo,
		publisher: publisher,
		budgets:   budgets,
		logger:    logger,
		timeout:   timeout,
		now:       time.Now,
	}
}

// TriggerRecurringTransactions finds every due recurring template and emits
// one due-transaction event per match. It mutates nothing itself.
func (j *Jobs) TriggerRecurringTransactions() {
	j.logger.Info("starting recurring transaction sweep")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	now := j.now().UTC()
	templates, err := j.repo.FindDueRecurringTransactions(ctx, now)
	if err != nil {
		j.logger.Error("failed to query due recurring transactions", "error", err)
		return
	}

	if len(templates) == 0 {
		j.logger.Info("no due recurring transactions")
		return
	}

	triggered := 0
	for _, template := range templates {
		event := domain.DueTransactionEvent{
			TransactionID: template.ID,
			UserID:        template.UserID,
			EmittedAt:     now,
		}
		if err := j.publisher.PublishDueTransaction(ctx, event); err != nil {
			// The template stays due; the next sweep picks it up again.
			j.logger.Error("failed to publish due-transaction event",
				"transaction_id", template.ID, "user_id", template.UserID, "error", err)
			continue
		}
		triggered++
	}

	j.logger.Info("recurring transaction sweep finished",
		"due", len(templates), "triggered", triggered)
}

// CheckBudgetAlerts evaluates every budget with a default account. One bad
// budget never aborts the rest of the batch.
func (j *Jobs) CheckBudgetAlerts() {
	j.logger.Info("starting budget alert sweep")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	budgets, err := j.repo.FindBudgetsWithDefaultAccounts(ctx)
	if err != nil {
		j.logger.Error("failed to query budgets", "error", err)
		return
	}

	now := j.now().UTC()
	evaluated := 0
	for _, budget := range budgets {
		if err := j.budgets.Evaluate(ctx, budget, now); err != nil {
			j.logger.Error("budget evaluation failed",
				"budget_id", budget.ID, "user_id", budget.UserID, "error", err)
			continue
		}
		evaluated++
	}

	j.logger.Info("budget alert sweep finished",
		"budgets", len(budgets), "evaluated", evaluated)
}
