/**
 * @description
 * This file defines the core domain models needed by the recurring-service:
 * recurring transaction templates, the concrete ledger entries they generate,
 * and budgets with their owning user's default account.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType distinguishes money leaving an account from money entering it.
type TransactionType string

const (
	TransactionTypeExpense TransactionType = "EXPENSE"
	TransactionTypeIncome  TransactionType = "INCOME"
)

// TransactionStatus is the lifecycle state of a transaction. Only COMPLETED
// recurring templates are eligible for processing.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// RecurringTransaction is a template transaction that fires on a schedule.
// Only the processor mutates it, and only by advancing LastProcessed and
// NextRecurringDate forward.
type RecurringTransaction struct {
	ID                uuid.UUID         `json:"id"`
	UserID            uuid.UUID         `json:"user_id"`
	AccountID         uuid.UUID         `json:"account_id"`
	Type              TransactionType   `json:"type"`
	Amount            decimal.Decimal   `json:"amount"`
	Description       string            `json:"description"`
	Category          string            `json:"category"`
	Status            TransactionStatus `json:"status"`
	IsRecurring       bool              `json:"is_recurring"`
	RecurringInterval RecurringInterval `json:"recurring_interval"`
	LastProcessed     *time.Time        `json:"last_processed"`
	NextRecurringDate *time.Time        `json:"next_recurring_date"`
}

// IsDue reports whether the template should fire. The persisted state, not the
// delivered event, is authoritative: a template that has never been processed
// is due, otherwise it is due once its next recurring date has passed.
func (t *RecurringTransaction) IsDue(now time.Time) bool {
	if t.LastProcessed == nil {
		return true
	}
	if t.NextRecurringDate == nil {
		return false
	}
	return !t.NextRecurringDate.After(now)
}

// BalanceChange returns the signed effect one firing has on the account
// balance: negative for expenses, positive otherwise.
func (t *RecurringTransaction) BalanceChange() decimal.Decimal {
	if t.Type == TransactionTypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// GeneratedTransaction is the concrete, non-recurring ledger entry created
// each time a template fires. It is created exactly once per firing and never
// mutated afterwards.
type GeneratedTransaction struct {
	ID          uuid.UUID         `json:"id"`
	UserID      uuid.UUID         `json:"user_id"`
	AccountID   uuid.UUID         `json:"account_id"`
	Type        TransactionType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Date        time.Time         `json:"date"`
	Status      TransactionStatus `json:"status"`
}

// Budget is a per-user monthly spending limit. LastAlertSent, once set,
// reflects the most recent month in which an alert went out.
type Budget struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	LastAlertSent *time.Time      `json:"last_alert_sent"`
}

// BudgetWithAccount is a budget joined to its owning user and that user's
// default account, as returned by the budget sweep query. Budgets whose user
// has no default account never appear here.
type BudgetWithAccount struct {
	Budget
	UserName    string    `json:"user_name"`
	UserEmail   string    `json:"user_email"`
	AccountID   uuid.UUID `json:"account_id"`
	AccountName string    `json:"account_name"`
}
