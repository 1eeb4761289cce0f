package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServerClock_Next(t *testing.T) {
	req := require.New(t)
	now := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	clock := newServerClock(func() time.Time { return now })

	first := clock.next("c1", time.Time{})
	second := clock.next("c1", time.Time{})
	other := clock.next("c2", time.Time{})

	req.Equal(now, first)
	req.Equal(now.Add(time.Nanosecond), second)
	// Conversations do not share a sequence
	req.Equal(now, other)

	// A floor from disk ahead of the wall clock wins
	floor := now.Add(time.Hour)
	req.Equal(floor.Add(time.Nanosecond), clock.next("c3", floor))
	req.True(clock.known("c3"))
	req.False(clock.known("c4"))
}
