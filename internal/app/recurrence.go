/**
 * @description
 * Calendar arithmetic for recurring transaction templates. Given the moment a
 * template fired and its interval, NextRecurringDate computes when it fires
 * next. All arithmetic happens in UTC so results do not depend on the host
 * timezone.
 */
package app

import (
	"fmt"
	"time"

	"github.com/wealthos/recurring-service/internal/domain"
)

// NextRecurringDate returns the next occurrence strictly after t.
//
// DAILY adds one day and WEEKLY seven. MONTHLY adds one calendar month keeping
// the day of month; when the target month is shorter the day clamps to its
// last day (Jan 31 -> Feb 28/29). YEARLY adds one year; Feb 29 clamps to
// Feb 28 on non-leap years.
func NextRecurringDate(t time.Time, interval domain.RecurringInterval) (time.Time, error) {
	t = t.UTC()
	switch interval {
	case domain.IntervalDaily:
		return t.AddDate(0, 0, 1), nil
	case domain.IntervalWeekly:
		return t.AddDate(0, 0, 7), nil
	case domain.IntervalMonthly:
		return addMonthsClamped(t, 1), nil
	case domain.IntervalYearly:
		return addYearsClamped(t, 1), nil
	default:
		return time.Time{}, fmt.Errorf("next recurring date: %w", interval.Validate())
	}
}

// addMonthsClamped advances by whole calendar months without the day-overflow
// normalization of time.AddDate (which would turn Jan 31 + 1 month into Mar 3).
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	targetFirst := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := lastDayOfMonth(targetFirst.Year(), targetFirst.Month()); day > last {
		day = last
	}
	return time.Date(targetFirst.Year(), targetFirst.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func addYearsClamped(t time.Time, years int) time.Time {
	year, month, day := t.Date()
	if last := lastDayOfMonth(year+years, month); day > last {
		day = last
	}
	return time.Date(year+years, month, day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// lastDayOfMonth exploits time.Date's normalization: day zero of the following
// month is the last day of this one.
func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
