// Package admission decides whether an incoming evaluation is accepted,
// sampled away or rejected, and persists accepted ones.
package admission

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/evalboard/evalboard/internal/logging"
	"github.com/evalboard/evalboard/internal/models"
)

// ErrNotFound is returned by a ConfigStore when the user has no EvalConfig.
var ErrNotFound = errors.New("not found")

// ErrQuotaExceeded is returned by a QuotaWriter that refused the insert.
var ErrQuotaExceeded = errors.New("quota exceeded")

// IdentityVerifier resolves a caller credential to a user id.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// ConfigStore reads a user's evaluation policy. A missing policy must be
// reported as ErrNotFound (possibly wrapped).
type ConfigStore interface {
	GetEvalConfig(ctx context.Context, userID string) (models.EvalConfig, error)
}

// EvaluationWriter appends an accepted record to the evaluation log.
type EvaluationWriter interface {
	AppendEvaluation(ctx context.Context, rec models.EvaluationRecord) (models.EvaluationRecord, error)
}

// QuotaWriter appends rec only while the user has fewer than limit records
// created at or after since, as one atomic operation. Refusal is reported as
// ErrQuotaExceeded (possibly wrapped).
type QuotaWriter interface {
	AppendWithinQuota(ctx context.Context, rec models.EvaluationRecord, limit int, since time.Time) (models.EvaluationRecord, error)
}

// MsgInvalidJSON is the rejection message for a body that does not decode.
const MsgInvalidJSON = "invalid JSON payload"

// Decision is the non-error outcome of Admit.
type Decision string

const (
	Accepted Decision = "accepted"
	Skipped  Decision = "skipped"
)

// ReasonSampledOut is the only reason a request is skipped.
const ReasonSampledOut = "sampled_out"

// Result is returned by Admit when the request was not rejected.
type Result struct {
	Decision Decision
	// Record is set when Decision is Accepted.
	Record *models.EvaluationRecord
	// Reason is set when Decision is Skipped.
	Reason string
}

// Observer is notified of every admission outcome. err is nil unless the
// request was rejected.
type Observer interface {
	ObserveAdmission(res Result, err error, elapsed time.Duration)
}

// Options configures a Controller.
type Options struct {
	Verifier IdentityVerifier
	Configs  ConfigStore
	Counter  RecordCounter
	Writer   EvaluationWriter
	Sampler  *Sampler
	Clock    clockwork.Clock
	Location *time.Location
	// Strict performs the quota gate and persistence atomically when Writer
	// also implements QuotaWriter.
	Strict   bool
	Observer Observer
}

// Controller runs the ingestion state machine: identity, validation, policy,
// sampling, quota, persistence. It holds no per-call state.
//
// In the default mode the quota gate is advisory: concurrent calls for the
// same user may both pass it before either persists.
type Controller struct {
	verifier IdentityVerifier
	configs  ConfigStore
	writer   EvaluationWriter
	quota    *QuotaCounter
	sampler  *Sampler
	clock    clockwork.Clock
	strict   QuotaWriter
	observer Observer
}

// NewController builds a Controller from opts.
func NewController(opts Options) *Controller {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sampler := opts.Sampler
	if sampler == nil {
		sampler = NewSampler(nil)
	}
	c := &Controller{
		verifier: opts.Verifier,
		configs:  opts.Configs,
		writer:   opts.Writer,
		quota:    NewQuotaCounter(opts.Counter, clock, opts.Location),
		sampler:  sampler,
		clock:    clock,
		observer: opts.Observer,
	}
	if opts.Strict {
		if qw, ok := opts.Writer.(QuotaWriter); ok {
			c.strict = qw
		}
	}
	return c
}

// DecodeFunc fills the payload of one ingestion call. It runs only after the
// caller's identity is resolved.
type DecodeFunc func(p *models.EvalPayload) error

// Admit decides the fate of one ingestion call whose payload is already
// decoded. It returns a Result for accepted and skipped requests and an
// *Error for rejected ones.
func (c *Controller) Admit(ctx context.Context, token string, payload models.EvalPayload) (Result, error) {
	return c.AdmitRequest(ctx, token, func(p *models.EvalPayload) error {
		*p = payload
		return nil
	})
}

// AdmitRequest is Admit for a payload that still has to be decoded. A decode
// failure is rejected as InvalidPayload, and only for an identified caller.
func (c *Controller) AdmitRequest(ctx context.Context, token string, decode DecodeFunc) (Result, error) {
	start := c.clock.Now()
	res, err := c.admit(ctx, token, decode)
	if c.observer != nil {
		c.observer.ObserveAdmission(res, err, c.clock.Since(start))
	}
	return res, err
}

func (c *Controller) admit(ctx context.Context, token string, decode DecodeFunc) (Result, error) {
	logger := logging.FromContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return Result{}, reject(Unauthorized, "missing credential", nil)
	}
	userID, err := c.verifier.Verify(ctx, token)
	if err != nil || userID == "" {
		logger.V(logging.VERBOSE).Info("Identity resolution failed", "error", err)
		return Result{}, reject(Unauthorized, "invalid credential", err)
	}
	logger = logger.WithValues("userID", userID)

	var payload models.EvalPayload
	if err := decode(&payload); err != nil {
		logger.V(logging.VERBOSE).Info("Payload decode failed", "error", err.Error())
		return Result{}, reject(InvalidPayload, MsgInvalidJSON, err)
	}
	logger = logger.WithValues("interactionID", payload.InteractionID)

	if msg := validatePayload(payload); msg != "" {
		return Result{}, reject(InvalidPayload, msg, nil)
	}

	cfg, err := c.configs.GetEvalConfig(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Info("No evaluation config for user")
			return Result{}, reject(NoConfig, "no config", err)
		}
		return Result{}, reject(PersistenceError, "config lookup failed", err)
	}

	if cfg.RunPolicy == models.RunPolicySampled && !c.sampler.Decide(cfg.SampleRatePercent) {
		logger.V(logging.DEBUG).Info("Request sampled out", "sampleRatePercent", cfg.SampleRatePercent)
		return Result{Decision: Skipped, Reason: ReasonSampledOut}, nil
	}

	rec := newRecord(userID, payload, c.clock.Now())

	if c.strict != nil {
		since, _ := c.quota.Window()
		saved, err := c.strict.AppendWithinQuota(ctx, rec, cfg.MaxEvalPerDay, since)
		if err != nil {
			if errors.Is(err, ErrQuotaExceeded) {
				logger.V(logging.DEBUG).Info("Quota exceeded", "maxEvalPerDay", cfg.MaxEvalPerDay)
				return Result{}, reject(QuotaExceeded, "quota exceeded", err)
			}
			logger.Error(err, "Failed to persist evaluation")
			return Result{}, reject(PersistenceError, "failed to persist evaluation", err)
		}
		logger.V(logging.DEBUG).Info("Evaluation accepted", "id", saved.ID)
		return Result{Decision: Accepted, Record: &saved}, nil
	}

	count, err := c.quota.CountToday(ctx, userID)
	if err != nil {
		return Result{}, reject(PersistenceError, "quota count failed", err)
	}
	if count >= int64(cfg.MaxEvalPerDay) {
		logger.V(logging.DEBUG).Info("Quota exceeded", "count", count, "maxEvalPerDay", cfg.MaxEvalPerDay)
		return Result{}, reject(QuotaExceeded, "quota exceeded", nil)
	}

	// No retry: a blind rewrite could duplicate the record.
	saved, err := c.writer.AppendEvaluation(ctx, rec)
	if err != nil {
		logger.Error(err, "Failed to persist evaluation")
		return Result{}, reject(PersistenceError, "failed to persist evaluation", err)
	}
	logger.V(logging.DEBUG).Info("Evaluation accepted", "id", saved.ID, "count", count+1)
	return Result{Decision: Accepted, Record: &saved}, nil
}

// validatePayload returns a client-facing message, or "" when p is valid.
func validatePayload(p models.EvalPayload) string {
	switch {
	case strings.TrimSpace(p.InteractionID) == "":
		return "interaction_id required"
	case p.LatencyMS < 0:
		return "latency_ms must be >= 0"
	case p.Score != nil && (*p.Score < 0 || *p.Score > 1):
		return "score must be between 0 and 1"
	case p.PIITokensRedacted != nil && *p.PIITokensRedacted < 0:
		return "pii_tokens_redacted must be >= 0"
	}
	return ""
}

// newRecord stamps owner and creation time server-side and fills defaults.
// created_at is truncated, never rounded, so it is never after now.
func newRecord(userID string, p models.EvalPayload, now time.Time) models.EvaluationRecord {
	flags := p.Flags
	if flags == nil {
		flags = []string{}
	}
	pii := 0
	if p.PIITokensRedacted != nil {
		pii = *p.PIITokensRedacted
	}
	return models.EvaluationRecord{
		UserID:            userID,
		InteractionID:     p.InteractionID,
		Prompt:            p.Prompt,
		Response:          p.Response,
		Score:             p.Score,
		LatencyMS:         p.LatencyMS,
		Flags:             flags,
		PIITokensRedacted: pii,
		CreatedAt:         now.UTC().Truncate(models.CreatedAtPrecision),
	}
}
