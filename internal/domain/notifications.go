package domain

import "github.com/shopspring/decimal"

// BudgetAlert is the payload handed to the mailer when a budget crosses its
// monthly spending threshold.
type BudgetAlert struct {
	UserName      string          `json:"user_name"`
	UserEmail     string          `json:"user_email"`
	AccountName   string          `json:"account_name"`
	BudgetAmount  decimal.Decimal `json:"budget_amount"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
	PercentUsed   decimal.Decimal `json:"percent_used"`
}
