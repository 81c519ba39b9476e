package app

import (
	"testing"
	"time"

	"github.com/wealthos/recurring-service/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextRecurringDate_Intervals(t *testing.T) {
	cases := []struct {
		name     string
		start    time.Time
		interval domain.RecurringInterval
		want     time.Time
	}{
		{"daily", date(2025, time.March, 14), domain.IntervalDaily, date(2025, time.March, 15)},
		{"daily across month end", date(2025, time.January, 31), domain.IntervalDaily, date(2025, time.February, 1)},
		{"weekly", date(2025, time.March, 14), domain.IntervalWeekly, date(2025, time.March, 21)},
		{"weekly across year end", date(2024, time.December, 30), domain.IntervalWeekly, date(2025, time.January, 6)},
		{"monthly plain", date(2025, time.March, 14), domain.IntervalMonthly, date(2025, time.April, 14)},
		{"monthly jan 31 clamps to feb 28", date(2025, time.January, 31), domain.IntervalMonthly, date(2025, time.February, 28)},
		{"monthly jan 31 clamps to feb 29 in leap year", date(2024, time.January, 31), domain.IntervalMonthly, date(2024, time.February, 29)},
		{"monthly mar 31 clamps to apr 30", date(2025, time.March, 31), domain.IntervalMonthly, date(2025, time.April, 30)},
		{"monthly dec rolls into next year", date(2024, time.December, 15), domain.IntervalMonthly, date(2025, time.January, 15)},
		{"yearly plain", date(2025, time.June, 10), domain.IntervalYearly, date(2026, time.June, 10)},
		{"yearly feb 29 clamps to feb 28", date(2024, time.February, 29), domain.IntervalYearly, date(2025, time.February, 28)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextRecurringDate(tc.start, tc.interval)
			if err != nil {
				t.Fatalf("NextRecurringDate returned error: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("NextRecurringDate(%s, %s) = %s, want %s",
					tc.start.Format(time.RFC3339), tc.interval, got.Format(time.RFC3339), tc.want.Format(time.RFC3339))
			}
		})
	}
}

func TestNextRecurringDate_StrictlyAfterInput(t *testing.T) {
	starts := []time.Time{
		date(2024, time.February, 29),
		date(2025, time.January, 31),
		date(2025, time.December, 31),
		time.Date(2025, time.July, 4, 23, 59, 59, 0, time.UTC),
	}
	intervals := []domain.RecurringInterval{
		domain.IntervalDaily, domain.IntervalWeekly, domain.IntervalMonthly, domain.IntervalYearly,
	}

	for _, start := range starts {
		for _, interval := range intervals {
			got, err := NextRecurringDate(start, interval)
			if err != nil {
				t.Fatalf("NextRecurringDate(%s, %s) returned error: %v", start, interval, err)
			}
			if !got.After(start) {
				t.Fatalf("NextRecurringDate(%s, %s) = %s is not strictly after input", start, interval, got)
			}
		}
	}
}

func TestNextRecurringDate_PreservesTimeOfDay(t *testing.T) {
	start := time.Date(2025, time.January, 31, 9, 30, 15, 0, time.UTC)
	got, err := NextRecurringDate(start, domain.IntervalMonthly)
	if err != nil {
		t.Fatalf("NextRecurringDate returned error: %v", err)
	}
	want := time.Date(2025, time.February, 28, 9, 30, 15, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestNextRecurringDate_OperatesInUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	start := time.Date(2025, time.February, 1, 5, 0, 0, 0, loc) // Jan 31 19:00 UTC
	got, err := NextRecurringDate(start, domain.IntervalMonthly)
	if err != nil {
		t.Fatalf("NextRecurringDate returned error: %v", err)
	}
	want := time.Date(2025, time.February, 28, 19, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestNextRecurringDate_UnknownIntervalIsError(t *testing.T) {
	_, err := NextRecurringDate(date(2025, time.March, 14), domain.RecurringInterval("FORTNIGHTLY"))
	if err == nil {
		t.Fatal("expected error for unknown interval")
	}
}
