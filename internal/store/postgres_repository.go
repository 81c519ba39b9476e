/**
 * @description
 * This file implements the data access layer for the recurring-service on top
 * of PostgreSQL. It contains all the SQL for the sweep queries and the atomic
 * commit of one recurring firing.
 *
 * Concurrency notes:
 * - CommitRecurringRun locks the template row with FOR UPDATE before
 *   re-checking due-ness, so concurrent duplicate deliveries serialize on the
 *   row and the loser sees an already-advanced template.
 * - Balance updates are relative (`balance = balance + delta`) inside the same
 *   transaction, so the row lock taken by the UPDATE is the unit of mutual
 *   exclusion for an account's balance.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/wealthos/recurring-service/internal/domain"
)

// PostgresRepository handles database operations for the recurring engine.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recurringTransactionColumns = `
	id, user_id, account_id, type, amount, description, category,
	status, is_recurring, recurring_interval, last_processed, next_recurring_date
`

// FindDueRecurringTransactions fetches every COMPLETED recurring template that
// has never been processed or whose next recurring date has passed.
func (r *PostgresRepository) FindDueRecurringTransactions(ctx context.Context, now time.Time) ([]domain.RecurringTransaction, error) {
	query := `
        SELECT ` + recurringTransactionColumns + `
        FROM transactions
        WHERE is_recurring = TRUE
          AND status = 'COMPLETED'
          AND (last_processed IS NULL OR next_recurring_date <= $1)
    `
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []domain.RecurringTransaction
	for rows.Next() {
		tx, err := scanRecurringTransaction(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tx)
	}
	return templates, rows.Err()
}

// FindRecurringTransaction loads a single template by id scoped to its owner.
func (r *PostgresRepository) FindRecurringTransaction(ctx context.Context, id, userID uuid.UUID) (*domain.RecurringTransaction, error) {
	query := `
        SELECT ` + recurringTransactionColumns + `
        FROM transactions
        WHERE id = $1 AND user_id = $2 AND is_recurring = TRUE
    `
	row := r.db.QueryRow(ctx, query, id, userID)
	tx, err := scanRecurringTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// CommitRecurringRun applies all mutations of one firing atomically: insert
// the generated transaction, apply the balance change, advance the template.
// A crash or error at any step leaves the pre-processing state intact.
func (r *PostgresRepository) CommitRecurringRun(ctx context.Context, params RecurringRunParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Lock the template row, preventing race conditions with duplicate
	// deliveries, then re-check due-ness against the locked state.
	var lastProcessed, nextRecurringDate *time.Time
	err = tx.QueryRow(ctx, `
        SELECT last_processed, next_recurring_date
        FROM transactions
        WHERE id = $1 AND user_id = $2 AND is_recurring = TRUE
        FOR UPDATE
    `, params.TemplateID, params.UserID).Scan(&lastProcessed, &nextRecurringDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return fmt.Errorf("lock recurring template: %w", err)
	}

	stillDue := lastProcessed == nil ||
		(nextRecurringDate != nil && !nextRecurringDate.After(params.ProcessedAt))
	if !stillDue {
		return ErrTemplateNotDue
	}

	g := params.Generated
	_, err = tx.Exec(ctx, `
        INSERT INTO transactions (
            id, user_id, account_id, type, amount, description, category,
            date, status, is_recurring, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, NOW(), NOW())
    `, g.ID, g.UserID, g.AccountID, g.Type, g.Amount, g.Description, g.Category, g.Date, g.Status)
	if err != nil {
		return fmt.Errorf("insert generated transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, `
        UPDATE accounts
        SET balance = balance + $1, updated_at = NOW()
        WHERE id = $2 AND user_id = $3
    `, params.BalanceChange, params.AccountID, params.UserID)
	if err != nil {
		return fmt.Errorf("apply balance change: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	_, err = tx.Exec(ctx, `
        UPDATE transactions
        SET last_processed = $1, next_recurring_date = $2, updated_at = NOW()
        WHERE id = $3 AND user_id = $4
    `, params.ProcessedAt, params.NextRecurringDate, params.TemplateID, params.UserID)
	if err != nil {
		return fmt.Errorf("advance recurring template: %w", err)
	}

	return tx.Commit(ctx)
}

// FindBudgetsWithDefaultAccounts fetches every budget joined to its user and
// the user's default account. The inner join drops budgets whose user has no
// default account, which the sweep treats as a skip rather than an error.
func (r *PostgresRepository) FindBudgetsWithDefaultAccounts(ctx context.Context) ([]domain.BudgetWithAccount, error) {
	query := `
        SELECT b.id, b.user_id, b.amount, b.last_alert_sent,
               u.name, u.email, a.id, a.name
        FROM budgets b
        JOIN users u ON u.id = b.user_id
        JOIN accounts a ON a.user_id = u.id AND a.is_default = TRUE
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var budgets []domain.BudgetWithAccount
	for rows.Next() {
		var b domain.BudgetWithAccount
		err := rows.Scan(
			&b.ID, &b.UserID, &b.Amount, &b.LastAlertSent,
			&b.UserName, &b.UserEmail, &b.AccountID, &b.AccountName)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// SumExpensesForAccountSince totals EXPENSE transactions against one account
// from the given instant onward.
func (r *PostgresRepository) SumExpensesForAccountSince(ctx context.Context, accountID, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `
        SELECT COALESCE(SUM(amount), 0)
        FROM transactions
        WHERE account_id = $1 AND user_id = $2 AND type = 'EXPENSE' AND date >= $3
    `
	if err := r.db.QueryRow(ctx, query, accountID, userID, since).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// UpdateBudgetLastAlertSent records the moment an alert was confirmed sent.
func (r *PostgresRepository) UpdateBudgetLastAlertSent(ctx context.Context, budgetID uuid.UUID, sentAt time.Time) error {
	query := `UPDATE budgets SET last_alert_sent = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, sentAt, budgetID)
	return err
}

func scanRecurringTransaction(row pgx.Row) (domain.RecurringTransaction, error) {
	var tx domain.RecurringTransaction
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.AccountID, &tx.Type, &tx.Amount,
		&tx.Description, &tx.Category, &tx.Status, &tx.IsRecurring,
		&tx.RecurringInterval, &tx.LastProcessed, &tx.NextRecurringDate)
	return tx, err
}

var _ Repository = (*PostgresRepository)(nil)
