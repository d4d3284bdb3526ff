package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/evalboard/evalboard/internal/models"
)

var errBadToken = errors.New("bad token")

type fakeVerifier struct {
	tokens map[string]string
	calls  int
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (string, error) {
	f.calls++
	if u, ok := f.tokens[token]; ok {
		return u, nil
	}
	return "", errBadToken
}

type fakeConfigs struct {
	configs map[string]models.EvalConfig
	err     error
	calls   int
}

func (f *fakeConfigs) GetEvalConfig(_ context.Context, userID string) (models.EvalConfig, error) {
	f.calls++
	if f.err != nil {
		return models.EvalConfig{}, f.err
	}
	cfg, ok := f.configs[userID]
	if !ok {
		return models.EvalConfig{}, fmt.Errorf("store: eval config %s: %w", userID, ErrNotFound)
	}
	return cfg, nil
}

// fakeLog is an in-memory evaluation log implementing RecordCounter,
// EvaluationWriter and QuotaWriter.
type fakeLog struct {
	mu          sync.Mutex
	records     []models.EvaluationRecord
	countErr    error
	appendErr   error
	countCalls  int
	appendCalls int
	strictCalls int
	nextID      int
}

func (f *fakeLog) CountEvaluations(_ context.Context, userID string, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	if f.countErr != nil {
		return 0, f.countErr
	}
	var n int64
	for _, r := range f.records {
		if r.UserID == userID && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (f *fakeLog) AppendEvaluation(_ context.Context, rec models.EvaluationRecord) (models.EvaluationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	return f.appendLocked(rec)
}

func (f *fakeLog) AppendWithinQuota(_ context.Context, rec models.EvaluationRecord, limit int, since time.Time) (models.EvaluationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strictCalls++
	n := 0
	for _, r := range f.records {
		if r.UserID == rec.UserID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	if n >= limit {
		return models.EvaluationRecord{}, ErrQuotaExceeded
	}
	return f.appendLocked(rec)
}

func (f *fakeLog) appendLocked(rec models.EvaluationRecord) (models.EvaluationRecord, error) {
	if f.appendErr != nil {
		return models.EvaluationRecord{}, f.appendErr
	}
	f.nextID++
	rec.ID = fmt.Sprintf("rec-%d", f.nextID)
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeLog) seed(userID string, n int, at time.Time) {
	for i := 0; i < n; i++ {
		f.records = append(f.records, models.EvaluationRecord{
			ID:        fmt.Sprintf("seed-%d", i),
			UserID:    userID,
			CreatedAt: at,
		})
	}
}

// fixedSource returns the same draw every time and counts calls.
type fixedSource struct {
	v     float64
	calls int
}

func (s *fixedSource) Float64() float64 {
	s.calls++
	return s.v
}

type recordingObserver struct {
	results []Result
	errs    []error
}

func (o *recordingObserver) ObserveAdmission(res Result, err error, _ time.Duration) {
	o.results = append(o.results, res)
	o.errs = append(o.errs, err)
}
