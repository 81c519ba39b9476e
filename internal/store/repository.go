/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the recurring-service. The app
 * layer depends on this interface (or narrower slices of it), decoupling the
 * sweep/processing logic from PostgreSQL and making it testable with stubs.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wealthos/recurring-service/internal/domain"
)

var (
	// ErrTransactionNotFound is returned when a recurring template no longer
	// exists. Consumers treat this as an already-deleted no-op.
	ErrTransactionNotFound = errors.New("recurring transaction not found")

	// ErrAccountNotFound is returned when the template's account is missing,
	// which would leave a generated transaction without a balance effect.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTemplateNotDue is returned by CommitRecurringRun when the locked
	// template is no longer due, e.g. because a duplicate delivery already
	// advanced it. Callers treat it as a successful no-op.
	ErrTemplateNotDue = errors.New("recurring template is not due")
)

// RecurringRunParams carries every mutation of one recurring firing. The
// repository applies them as a single all-or-nothing unit.
type RecurringRunParams struct {
	TemplateID uuid.UUID
	UserID     uuid.UUID
	AccountID  uuid.UUID

	Generated         domain.GeneratedTransaction
	BalanceChange     decimal.Decimal
	ProcessedAt       time.Time
	NextRecurringDate time.Time
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Recurring transaction methods
	FindDueRecurringTransactions(ctx context.Context, now time.Time) ([]domain.RecurringTransaction, error)
	FindRecurringTransaction(ctx context.Context, id, userID uuid.UUID) (*domain.RecurringTransaction, error)
	// CommitRecurringRun re-locks the template, re-verifies due-ness under the
	// lock, and then creates the generated transaction, applies the balance
	// change and advances the template in one database transaction.
	CommitRecurringRun(ctx context.Context, params RecurringRunParams) error

	// Budget methods
	FindBudgetsWithDefaultAccounts(ctx context.Context) ([]domain.BudgetWithAccount, error)
	SumExpensesForAccountSince(ctx context.Context, accountID, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
	UpdateBudgetLastAlertSent(ctx context.Context, budgetID uuid.UUID, sentAt time.Time) error
}
