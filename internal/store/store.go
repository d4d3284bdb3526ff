// Package store persists evaluation policies and the evaluation log.
package store

import (
	"context"
	"fmt"

	"github.com/evalboard/evalboard/internal/admission"
	"github.com/evalboard/evalboard/internal/config"
	"github.com/evalboard/evalboard/internal/models"
)

// Sentinels shared with the admission layer.
var (
	ErrNotFound      = admission.ErrNotFound
	ErrQuotaExceeded = admission.ErrQuotaExceeded
)

// Store is the full persistence surface used by the service.
type Store interface {
	admission.ConfigStore
	admission.RecordCounter
	admission.EvaluationWriter
	admission.QuotaWriter

	// ProvisionEvalConfig creates cfg if the user has none. Existing
	// configs are left untouched.
	ProvisionEvalConfig(ctx context.Context, cfg models.EvalConfig) error
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*GormStore)(nil)
)

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.URL)
	case config.DriverSQLite, config.DriverMySQL:
		return OpenGorm(cfg.Driver, cfg.URL)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

// withDefaults fills the columns the caller may leave empty.
func withDefaults(cfg models.EvalConfig) models.EvalConfig {
	if cfg.RunPolicy == "" {
		cfg.RunPolicy = models.RunPolicyAlways
	}
	if cfg.MaxEvalPerDay == 0 {
		cfg.MaxEvalPerDay = models.DefaultMaxEvalPerDay
	}
	return cfg
}

func validateConfig(cfg models.EvalConfig) error {
	switch {
	case cfg.UserID == "":
		return fmt.Errorf("store: eval config: user id required")
	case !cfg.RunPolicy.Valid():
		return fmt.Errorf("store: eval config: unknown run policy %q", cfg.RunPolicy)
	case cfg.SampleRatePercent < 0 || cfg.SampleRatePercent > 100:
		return fmt.Errorf("store: eval config: sample rate %d out of range", cfg.SampleRatePercent)
	case cfg.MaxEvalPerDay <= 0:
		return fmt.Errorf("store: eval config: max evals per day must be > 0")
	}
	return nil
}
