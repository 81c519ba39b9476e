package domain

import "fmt"

// RecurringInterval is the cadence of a recurring transaction template.
type RecurringInterval string

const (
	IntervalDaily   RecurringInterval = "DAILY"
	IntervalWeekly  RecurringInterval = "WEEKLY"
	IntervalMonthly RecurringInterval = "MONTHLY"
	IntervalYearly  RecurringInterval = "YEARLY"
)

// Validate returns an error for intervals the calculator does not understand.
// An unknown interval is an input-validation error, never a silent no-op.
func (i RecurringInterval) Validate() error {
	switch i {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return nil
	default:
		return fmt.Errorf("unknown recurring interval %q", string(i))
	}
}
