package billing

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
)

const periodKeyLayout = "2006-01"

// Period is a UTC calendar month. Day-of-month never matters.
type Period struct {
	year  int
	month time.Month
}

func NewPeriod(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{year: start.Year(), month: start.Month()}
}

// PeriodOf returns the month containing t, in UTC.
func PeriodOf(t time.Time) Period {
	u := t.UTC()
	return Period{year: u.Year(), month: u.Month()}
}

// CurrentPeriod is the UTC month containing now.
func CurrentPeriod(now time.Time) Period {
	return PeriodOf(now)
}

// ParsePeriod accepts an RFC 3339 timestamp, a YYYY-MM-DD date or a YYYY-MM key.
func ParsePeriod(value string) (Period, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Period{}, pkgerrors.New(pkgerrors.CodeValidation, "billing period required")
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly, periodKeyLayout} {
		if t, err := time.Parse(layout, value); err == nil {
			return PeriodOf(t), nil
		}
	}
	return Period{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid billing period %q", value))
}

func (p Period) Year() int         { return p.year }
func (p Period) Month() time.Month { return p.month }
func (p Period) IsZero() bool      { return p.year == 0 }
func (p Period) String() string    { return p.Key() }
func (p Period) Next() Period      { return NewPeriod(p.year, p.month+1) }
func (p Period) Prev() Period      { return NewPeriod(p.year, p.month-1) }
func (p Period) Contains(t time.Time) bool {
	u := t.UTC()
	return !u.Before(p.Start()) && u.Before(p.End())
}

// Key is the YYYY-MM billing key.
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.year, int(p.month))
}

// Start is midnight UTC on the first day of the month.
func (p Period) Start() time.Time {
	return time.Date(p.year, p.month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the exclusive upper bound: the start of the next month.
func (p Period) End() time.Time {
	return time.Date(p.year, p.month+1, 1, 0, 0, 0, 0, time.UTC)
}

// DueDate is the last calendar day of the month.
func (p Period) DueDate() time.Time {
	return DueDate(p.year, p.month)
}

// DueDate returns midnight UTC on the last day of month; day zero of the
// following month normalizes to it, leap years included.
func DueDate(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
}
