package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type localClock struct{}

func (localClock) Now() time.Time { return time.Now().In(time.FixedZone("CET", 3600)) }

func TestSystem(t *testing.T) {
	now := System().Now()
	require.Equal(t, time.UTC, now.Location())
	require.Zero(t, now.Nanosecond()%1000)
	require.NoError(t, Validate(System()))
}

func TestFixed(t *testing.T) {
	c := NewFixed(time.Date(2024, 2, 29, 12, 0, 0, 0, time.FixedZone("X", 7200)))
	require.Equal(t, time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC), c.Now())

	c.Advance(time.Hour)
	require.Equal(t, 11, c.Now().Hour())
	require.NoError(t, Validate(c))
}

func TestValidate(t *testing.T) {
	require.ErrorIs(t, Validate(localClock{}), ErrNotUTC)

	require.NoError(t, ValidateTimezone("UTC"))
	require.ErrorIs(t, ValidateTimezone("Europe/Berlin"), ErrNotUTC)
	require.ErrorIs(t, ValidateTimezone("Not/AZone"), ErrNotUTC)
}
