package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalboard/evalboard/internal/admission"
	"github.com/evalboard/evalboard/internal/auth"
	"github.com/evalboard/evalboard/internal/models"
)

type fakeAdmitter struct {
	res     admission.Result
	err     error
	token   string
	payload models.EvalPayload
	calls   int
}

// AdmitRequest returns the canned err before decoding, the way the controller
// rejects an unidentified caller without reading the body.
func (f *fakeAdmitter) AdmitRequest(_ context.Context, token string, decode admission.DecodeFunc) (admission.Result, error) {
	f.calls++
	f.token = token
	if f.err != nil {
		return admission.Result{}, f.err
	}
	if err := decode(&f.payload); err != nil {
		return admission.Result{}, &admission.Error{Kind: admission.InvalidPayload, Msg: admission.MsgInvalidJSON, Err: err}
	}
	return f.res, nil
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func evalRouter(ac Admitter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterEvaluationRoutes(r, ac)
	return r
}

func TestEvaluations_Accepted(t *testing.T) {
	score := 0.9
	rec := models.EvaluationRecord{
		ID:            "rec-1",
		UserID:        "alice",
		InteractionID: "int-1",
		Score:         &score,
		Flags:         []string{},
		CreatedAt:     time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
	ac := &fakeAdmitter{res: admission.Result{Decision: admission.Accepted, Record: &rec}}

	body := `{"interaction_id":"int-1","prompt":"p","response":"r","score":0.9,"latency_ms":12,"flags":["x"],"pii_tokens_redacted":2,"user_id":"mallory"}`
	w := do(evalRouter(ac), http.MethodPost, "/evaluations", body, map[string]string{"Authorization": "Bearer tok"})

	require.Equal(t, http.StatusCreated, w.Code)
	var got models.EvalIngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Equal(t, "rec-1", got.Evaluation.ID)
	assert.Equal(t, "alice", got.Evaluation.UserID)

	assert.Equal(t, "tok", ac.token)
	assert.Equal(t, "int-1", ac.payload.InteractionID)
	assert.Equal(t, int64(12), ac.payload.LatencyMS)
	require.NotNil(t, ac.payload.PIITokensRedacted)
	assert.Equal(t, 2, *ac.payload.PIITokensRedacted)
	assert.Equal(t, []string{"x"}, ac.payload.Flags)
}

func TestEvaluations_AbsentOptionalFieldsStayNil(t *testing.T) {
	ac := &fakeAdmitter{res: admission.Result{Decision: admission.Skipped, Reason: admission.ReasonSampledOut}}
	w := do(evalRouter(ac), http.MethodPost, "/evaluations", `{"interaction_id":"i","latency_ms":1}`, map[string]string{"X-API-Key": "k"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"skipped"}`, w.Body.String())
	assert.Nil(t, ac.payload.Score)
	assert.Nil(t, ac.payload.PIITokensRedacted)
	assert.Nil(t, ac.payload.Flags)
	assert.Equal(t, "k", ac.token)
}

func TestEvaluations_UnscoredRecordSerializesNull(t *testing.T) {
	rec := models.EvaluationRecord{ID: "rec-1", Flags: []string{}}
	ac := &fakeAdmitter{res: admission.Result{Decision: admission.Accepted, Record: &rec}}
	w := do(evalRouter(ac), http.MethodPost, "/evaluations", `{"interaction_id":"i"}`, nil)

	require.Equal(t, http.StatusCreated, w.Code)
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	score, present := raw["evaluation"]["score"]
	assert.True(t, present)
	assert.Nil(t, score)
}

func TestEvaluations_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "unauthorized",
			err:    &admission.Error{Kind: admission.Unauthorized, Msg: "invalid credential"},
			status: http.StatusUnauthorized,
			body:   `{"error":"unauthorized"}`,
		},
		{
			name:   "no config",
			err:    &admission.Error{Kind: admission.NoConfig, Msg: "no config"},
			status: http.StatusBadRequest,
			body:   `{"error":"no config"}`,
		},
		{
			name:   "invalid payload",
			err:    &admission.Error{Kind: admission.InvalidPayload, Msg: "latency_ms must be >= 0"},
			status: http.StatusBadRequest,
			body:   `{"error":"latency_ms must be >= 0"}`,
		},
		{
			name:   "quota exceeded",
			err:    &admission.Error{Kind: admission.QuotaExceeded, Msg: "quota exceeded"},
			status: http.StatusTooManyRequests,
			body:   `{"error":"quota exceeded"}`,
		},
		{
			name:   "persistence error",
			err:    &admission.Error{Kind: admission.PersistenceError, Msg: "failed to persist evaluation", Err: errors.New("disk")},
			status: http.StatusInternalServerError,
			body:   `{"error":"failed to persist evaluation"}`,
		},
		{
			name:   "unexpected error",
			err:    fmt.Errorf("boom"),
			status: http.StatusInternalServerError,
			body:   `{"error":"internal error"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ac := &fakeAdmitter{err: tt.err}
			w := do(evalRouter(ac), http.MethodPost, "/evaluations", `{"interaction_id":"i"}`, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestEvaluations_InvalidJSON(t *testing.T) {
	ac := &fakeAdmitter{}
	bodies := []string{`{`, `{"latency_ms":"fast"}`, `[]`, ``}
	for _, body := range bodies {
		w := do(evalRouter(ac), http.MethodPost, "/evaluations", body, map[string]string{"Authorization": "Bearer tok"})
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.JSONEq(t, `{"error":"invalid JSON payload"}`, w.Body.String())
	}
	assert.Equal(t, len(bodies), ac.calls)
}

func TestEvaluations_CredentialCheckedBeforeBody(t *testing.T) {
	ac := &fakeAdmitter{err: &admission.Error{Kind: admission.Unauthorized, Msg: "missing credential"}}
	for _, body := range []string{`{`, `{"latency_ms":"fast"}`} {
		w := do(evalRouter(ac), http.MethodPost, "/evaluations", body, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, body)
		assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
	}
	assert.Zero(t, ac.payload.InteractionID)
}

// --- stats & config ---

type fakeStatsStore struct {
	configs  map[string]models.EvalConfig
	count    int64
	countErr error
	cfgErr   error
	from, to time.Time
}

func (f *fakeStatsStore) GetEvalConfig(_ context.Context, userID string) (models.EvalConfig, error) {
	if f.cfgErr != nil {
		return models.EvalConfig{}, f.cfgErr
	}
	cfg, ok := f.configs[userID]
	if !ok {
		return models.EvalConfig{}, admission.ErrNotFound
	}
	return cfg, nil
}

func (f *fakeStatsStore) CountEvaluations(_ context.Context, _ string, from, to time.Time) (int64, error) {
	f.from, f.to = from, to
	return f.count, f.countErr
}

type fixedWindow struct{ from, to time.Time }

func (w fixedWindow) Window() (time.Time, time.Time) { return w.from, w.to }

var (
	windowFrom = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	windowTo   = time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)
)

func readRouter(st *fakeStatsStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/")
	g.Use(auth.Middleware(auth.NewAPIKeyVerifier(map[string]string{"k1": "alice"})))
	RegisterStatsRoutes(g, st, fixedWindow{from: windowFrom, to: windowTo})
	RegisterConfigRoutes(g, st)
	return r
}

var aliceKey = map[string]string{"X-API-Key": "k1"}

func TestStats_TodayIncludesQuota(t *testing.T) {
	st := &fakeStatsStore{
		configs: map[string]models.EvalConfig{"alice": {UserID: "alice", MaxEvalPerDay: 10}},
		count:   4,
	}
	w := do(readRouter(st), http.MethodGet, "/evaluations/stats", "", aliceKey)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"count": 4,
		"from": "2026-10-16T00:00:00Z",
		"to": "2026-10-16T15:00:00Z",
		"quota": {"used": 4, "limit": 10, "remaining": 6}
	}`, w.Body.String())
	assert.Equal(t, windowFrom, st.from)
	assert.Equal(t, windowTo, st.to)
}

func TestStats_RemainingNeverNegative(t *testing.T) {
	st := &fakeStatsStore{
		configs: map[string]models.EvalConfig{"alice": {UserID: "alice", MaxEvalPerDay: 2}},
		count:   3,
	}
	w := do(readRouter(st), http.MethodGet, "/evaluations/stats", "", aliceKey)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.EvalStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotNil(t, got.Quota)
	assert.Equal(t, int64(0), got.Quota.Remaining)
}

func TestStats_TodayWithoutConfigOmitsQuota(t *testing.T) {
	st := &fakeStatsStore{count: 1}
	w := do(readRouter(st), http.MethodGet, "/evaluations/stats", "", aliceKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "quota")
}

func TestStats_ExplicitWindow(t *testing.T) {
	st := &fakeStatsStore{count: 9}
	w := do(readRouter(st), http.MethodGet,
		"/evaluations/stats?from=2026-10-01T00:00:00%2B02:00&to=2026-10-02T00:00:00Z", "", aliceKey)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":9,"from":"2026-09-30T22:00:00Z","to":"2026-10-02T00:00:00Z"}`, w.Body.String())
}

func TestStats_BadRequests(t *testing.T) {
	tests := []struct {
		query string
		body  string
	}{
		{query: "?from=yesterday", body: `{"error":"from must be RFC3339"}`},
		{query: "?to=tomorrow", body: `{"error":"to must be RFC3339"}`},
		{query: "?from=2026-10-02T00:00:00Z&to=2026-10-01T00:00:00Z", body: `{"error":"from must be < to"}`},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := do(readRouter(&fakeStatsStore{}), http.MethodGet, "/evaluations/stats"+tt.query, "", aliceKey)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestStats_StoreErrors(t *testing.T) {
	w := do(readRouter(&fakeStatsStore{countErr: errors.New("down")}), http.MethodGet, "/evaluations/stats", "", aliceKey)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(readRouter(&fakeStatsStore{cfgErr: errors.New("down")}), http.MethodGet, "/evaluations/stats", "", aliceKey)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStats_Unauthorized(t *testing.T) {
	w := do(readRouter(&fakeStatsStore{}), http.MethodGet, "/evaluations/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConfig(t *testing.T) {
	st := &fakeStatsStore{configs: map[string]models.EvalConfig{"alice": {
		UserID: "alice", RunPolicy: models.RunPolicySampled, SampleRatePercent: 20, ObfuscatePII: true, MaxEvalPerDay: 50,
	}}}
	w := do(readRouter(st), http.MethodGet, "/config", "", aliceKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"alice","run_policy":"sampled","sample_rate_percent":20,"obfuscate_pii":true,"max_eval_per_day":50}`, w.Body.String())

	w = do(readRouter(&fakeStatsStore{}), http.MethodGet, "/config", "", aliceKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"no config"}`, w.Body.String())

	w = do(readRouter(&fakeStatsStore{cfgErr: errors.New("down")}), http.MethodGet, "/config", "", aliceKey)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
