package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockAdvance(t *testing.T) {
	start := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	m := NewMock(start)
	m.Advance(36 * time.Hour)
	require.Equal(t, start.Add(36*time.Hour), m.Now())

	m.Set(start)
	require.Equal(t, start, m.Now())
}

func TestDaysBetween(t *testing.T) {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 0, DaysBetween(base, base.Add(23*time.Hour)))
	require.Equal(t, 2, DaysBetween(base, base.Add(49*time.Hour)))
	require.Equal(t, -1, DaysBetween(base, base.Add(-time.Hour)))
	require.Equal(t, -2, DaysBetween(base, base.Add(-48*time.Hour)))
}

func TestDateTruncates(t *testing.T) {
	in := time.Date(2026, 3, 5, 23, 59, 59, 0, time.FixedZone("IST", 5*3600+1800))
	require.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), Date(in))
}
