package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
)

func TestBillingKeyIsStableWithinMonth(t *testing.T) {
	first, err := ParsePeriod("2025-06-01T00:00:00Z")
	require.NoError(t, err)
	last, err := ParsePeriod("2025-06-30T23:59:59.999Z")
	require.NoError(t, err)

	require.Equal(t, "2025-06", first.Key())
	require.Equal(t, first, last)
}

func TestParsePeriodFormats(t *testing.T) {
	cases := map[string]string{
		"2025-06":                   "2025-06",
		"2025-06-15":                "2025-06",
		"2025-01-31T23:30:00-03:00": "2025-02",
		"2024-12-31T23:59:59Z":      "2024-12",
	}
	for input, want := range cases {
		p, err := ParsePeriod(input)
		require.NoError(t, err, input)
		require.Equal(t, want, p.Key(), input)
	}

	for _, bad := range []string{"", "June", "2025-13", "2025/06"} {
		_, err := ParsePeriod(bad)
		require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), bad)
	}
}

func TestDueDate(t *testing.T) {
	require.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), DueDate(2025, time.February))
	require.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), DueDate(2024, time.February))
	require.Equal(t, time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), DueDate(2025, time.April))
	require.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), NewPeriod(2025, time.December).DueDate())
}

func TestPeriodBounds(t *testing.T) {
	p := NewPeriod(2025, time.December)
	require.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), p.Start())
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), p.End())
	require.Equal(t, "2026-01", p.Next().Key())
	require.Equal(t, "2025-11", p.Prev().Key())
	require.Equal(t, "2025-12", p.Next().Prev().Key())
	require.True(t, p.Contains(p.DueDate()))
	require.False(t, p.Contains(p.End()))
	require.Equal(t, "2025-12", NewPeriod(2024, 24).Key())
}

func TestCurrentPeriodUsesUTC(t *testing.T) {
	saoPaulo := time.FixedZone("BRT", -3*60*60)
	now := time.Date(2025, 6, 30, 22, 0, 0, 0, saoPaulo)
	require.Equal(t, "2025-07", CurrentPeriod(now).Key())
}
