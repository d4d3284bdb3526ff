package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOfDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 02:30 UTC on Mar 5 is still Mar 4 in New York.
	ts := time.Date(2026, 3, 5, 2, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), StartOfDay(ts, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, ny), StartOfDay(ts, ny))
}

func TestQuotaCounter_CountToday(t *testing.T) {
	now := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	log := &fakeLog{}
	log.seed("alice", 3, now.Add(-time.Hour))
	log.seed("alice", 2, now.Add(-24*time.Hour)) // yesterday
	log.seed("bob", 4, now.Add(-time.Minute))
	log.seed("alice", 1, now) // not before now

	q := NewQuotaCounter(log, clock, time.UTC)
	got, err := q.CountToday(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	from, to := q.Window()
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, now, to)
}

func TestQuotaCounter_Timezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 16:00 UTC is 01:00 next day in Tokyo, so the Tokyo day began at 15:00 UTC.
	now := time.Date(2026, 10, 16, 16, 0, 0, 0, time.UTC)
	log := &fakeLog{}
	log.seed("alice", 1, time.Date(2026, 10, 16, 14, 59, 0, 0, time.UTC))
	log.seed("alice", 2, time.Date(2026, 10, 16, 15, 30, 0, 0, time.UTC))

	q := NewQuotaCounter(log, clockwork.NewFakeClockAt(now), tokyo)
	got, err := q.CountToday(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}

func TestQuotaCounter_PropagatesError(t *testing.T) {
	log := &fakeLog{countErr: errors.New("db down")}
	q := NewQuotaCounter(log, nil, nil)
	_, err := q.CountToday(context.Background(), "alice")
	require.EqualError(t, err, "db down")
}
