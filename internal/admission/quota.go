package admission

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// RecordCounter counts a user's evaluations created in [from, to).
type RecordCounter interface {
	CountEvaluations(ctx context.Context, userID string, from, to time.Time) (int64, error)
}

// QuotaCounter derives today's accepted-evaluation count for a user.
// It reads the store on every call; nothing is cached.
type QuotaCounter struct {
	counter RecordCounter
	clock   clockwork.Clock
	loc     *time.Location
}

// NewQuotaCounter returns a QuotaCounter whose day starts at midnight in loc.
// A nil clock uses the real clock and a nil loc means UTC.
func NewQuotaCounter(counter RecordCounter, clock clockwork.Clock, loc *time.Location) *QuotaCounter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &QuotaCounter{counter: counter, clock: clock, loc: loc}
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	y, m, d := lt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Window returns the current quota window [startOfToday, now).
func (q *QuotaCounter) Window() (time.Time, time.Time) {
	now := q.clock.Now()
	return StartOfDay(now, q.loc), now
}

// CountToday returns the number of userID's evaluations created today.
func (q *QuotaCounter) CountToday(ctx context.Context, userID string) (int64, error) {
	from, to := q.Window()
	return q.counter.CountEvaluations(ctx, userID, from, to)
}
