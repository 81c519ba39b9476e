/**
 * @description
 * Budget alert evaluation. For each budget produced by the sweep, computes the
 * share of the monthly budget already spent on the user's default account and
 * fires at most one alert email per budget per calendar month.
 *
 * lastAlertSent only advances after a confirmed send: a failed delivery is
 * retried by the next sweep until one succeeds, after which the calendar-month
 * condition suppresses re-fires.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wealthos/recurring-service/internal/domain"
)

// BudgetStore defines database operations needed by the alert evaluator.
type BudgetStore interface {
	SumExpensesForAccountSince(ctx context.Context, accountID, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
	UpdateBudgetLastAlertSent(ctx context.Context, budgetID uuid.UUID, sentAt time.Time) error
}

// AlertMailer delivers budget alert emails.
type AlertMailer interface {
	SendBudgetAlert(ctx context.Context, alert domain.BudgetAlert) error
}

// BudgetAlertEvaluator decides whether a budget crossed its alert threshold
// this month and, if so, notifies the user.
type BudgetAlertEvaluator struct {
	repo      BudgetStore
	mailer    AlertMailer
	threshold decimal.Decimal
	logger    *slog.Logger
}

// NewBudgetAlertEvaluator creates an evaluator firing at thresholdPercent
// (e.g. 80 for 80%) of the budget amount.
func NewBudgetAlertEvaluator(repo BudgetStore, mailer AlertMailer, thresholdPercent int64, logger *slog.Logger) *BudgetAlertEvaluator {
	if thresholdPercent <= 0 {
		thresholdPercent = 80
	}
	return &BudgetAlertEvaluator{
		repo:      repo,
		mailer:    mailer,
		threshold: decimal.NewFromInt(thresholdPercent),
		logger:    logger,
	}
}

// Evaluate checks one budget against this month's spend and sends the alert
// when warranted. It returns an error only for failures worth surfacing to the
// sweep's per-item error handling; "threshold not crossed" and "already
// alerted this month" are quiet successes.
func (e *BudgetAlertEvaluator) Evaluate(ctx context.Context, row domain.BudgetWithAccount, now time.Time) error {
	if row.Amount.Sign() <= 0 {
		return fmt.Errorf("budget %s has non-positive amount %s", row.ID, row.Amount)
	}

	now = now.UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	totalExpenses, err := e.repo.SumExpensesForAccountSince(ctx, row.AccountID, row.UserID, monthStart)
	if err != nil {
		return fmt.Errorf("sum expenses for budget %s: %w", row.ID, err)
	}

	percentUsed := totalExpenses.Div(row.Amount).Mul(decimal.NewFromInt(100))
	if percentUsed.LessThan(e.threshold) {
		return nil
	}
	if !e.alertableThisMonth(row.LastAlertSent, now) {
		return nil
	}

	alert := domain.BudgetAlert{
		UserName:      row.UserName,
		UserEmail:     row.UserEmail,
		AccountName:   row.AccountName,
		BudgetAmount:  row.Amount,
		TotalExpenses: totalExpenses,
		PercentUsed:   percentUsed,
	}
	if err := e.mailer.SendBudgetAlert(ctx, alert); err != nil {
		// Do not advance lastAlertSent: the next sweep retries delivery.
		return fmt.Errorf("send budget alert for budget %s: %w", row.ID, err)
	}

	if err := e.repo.UpdateBudgetLastAlertSent(ctx, row.ID, now); err != nil {
		return fmt.Errorf("record alert timestamp for budget %s: %w", row.ID, err)
	}

	e.logger.Info("budget alert sent",
		"budget_id", row.ID,
		"user_id", row.UserID,
		"account_name", row.AccountName,
		"percent_used", percentUsed.StringFixed(1))
	return nil
}

// alertableThisMonth applies the once-per-calendar-month rule: fire when no
// alert was ever sent, or the last one went out in a different month or year.
func (e *BudgetAlertEvaluator) alertableThisMonth(lastAlertSent *time.Time, now time.Time) bool {
	if lastAlertSent == nil {
		return true
	}
	last := lastAlertSent.UTC()
	return last.Month() != now.Month() || last.Year() != now.Year()
}
