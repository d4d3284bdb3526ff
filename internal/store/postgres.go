package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalboard/evalboard/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is the durable persistence layer backed by PostgreSQL.
// Every operation runs in a transaction scoped to one user so row-level
// security policies apply.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   pgBeginner
	now  func() time.Time
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &PostgresStore{pool: pool, db: pool, now: time.Now}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// inUserTx runs fn in a transaction whose row-level security context is userID.
func (p *PostgresStore) inUserTx(ctx context.Context, userID string, fn func(tx pgx.Tx) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_user', $1, true);`, userID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetEvalConfig returns the user's policy or ErrNotFound.
func (p *PostgresStore) GetEvalConfig(ctx context.Context, userID string) (models.EvalConfig, error) {
	cfg := models.EvalConfig{UserID: userID}
	err := p.inUserTx(ctx, userID, func(tx pgx.Tx) error {
		var policy string
		if err := tx.QueryRow(ctx, `
			SELECT run_policy, sample_rate_percent, obfuscate_pii, max_eval_per_day
			FROM eval_configs
			WHERE user_id = $1
		`, userID).Scan(&policy, &cfg.SampleRatePercent, &cfg.ObfuscatePII, &cfg.MaxEvalPerDay); err != nil {
			return err
		}
		cfg.RunPolicy = models.RunPolicy(policy)
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EvalConfig{}, fmt.Errorf("store: eval config %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return models.EvalConfig{}, fmt.Errorf("store: eval config %s: %w", userID, err)
	}
	return cfg, nil
}

// ProvisionEvalConfig inserts cfg unless the user already has a policy.
func (p *PostgresStore) ProvisionEvalConfig(ctx context.Context, cfg models.EvalConfig) error {
	cfg = withDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return err
	}
	err := p.inUserTx(ctx, cfg.UserID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO eval_configs(user_id, run_policy, sample_rate_percent, obfuscate_pii, max_eval_per_day)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (user_id) DO NOTHING
		`, cfg.UserID, string(cfg.RunPolicy), cfg.SampleRatePercent, cfg.ObfuscatePII, cfg.MaxEvalPerDay)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: provision eval config %s: %w", cfg.UserID, err)
	}
	return nil
}

// CountEvaluations returns the number of userID's evaluations in the window [from,to).
// Using a half-open interval avoids double counting at window boundaries.
func (p *PostgresStore) CountEvaluations(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	var count int64
	err := p.inUserTx(ctx, userID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM evaluations
			WHERE user_id = $1
			  AND created_at >= $2
			  AND created_at <  $3
		`, userID, from.UTC(), to.UTC()).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("store: count evaluations: %w", err)
	}
	return count, nil
}

// AppendEvaluation persists rec, assigning its id (and creation time when unset).
func (p *PostgresStore) AppendEvaluation(ctx context.Context, rec models.EvaluationRecord) (models.EvaluationRecord, error) {
	rec = p.prepare(rec)
	err := p.inUserTx(ctx, rec.UserID, func(tx pgx.Tx) error {
		return insertEvaluation(ctx, tx, rec)
	})
	if err != nil {
		return models.EvaluationRecord{}, fmt.Errorf("store: append evaluation: %w", err)
	}
	return rec, nil
}

// AppendWithinQuota persists rec only if the user has fewer than limit
// evaluations since the given instant. A per-user advisory lock serializes
// concurrent callers for the same user until the transaction ends.
func (p *PostgresStore) AppendWithinQuota(ctx context.Context, rec models.EvaluationRecord, limit int, since time.Time) (models.EvaluationRecord, error) {
	rec = p.prepare(rec)
	err := p.inUserTx(ctx, rec.UserID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1));`, rec.UserID); err != nil {
			return err
		}
		var count int64
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM evaluations
			WHERE user_id = $1
			  AND created_at >= $2
		`, rec.UserID, since.UTC()).Scan(&count); err != nil {
			return err
		}
		if count >= int64(limit) {
			return ErrQuotaExceeded
		}
		return insertEvaluation(ctx, tx, rec)
	})
	if err != nil {
		return models.EvaluationRecord{}, fmt.Errorf("store: append evaluation within quota: %w", err)
	}
	return rec, nil
}

func (p *PostgresStore) prepare(rec models.EvaluationRecord) models.EvaluationRecord {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = p.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(models.CreatedAtPrecision)
	if rec.Flags == nil {
		rec.Flags = []string{}
	}
	return rec
}

func insertEvaluation(ctx context.Context, tx pgx.Tx, rec models.EvaluationRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO evaluations(
			id, user_id, interaction_id, prompt, response,
			score, latency_ms, flags, pii_tokens_redacted, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, rec.UserID, rec.InteractionID, rec.Prompt, rec.Response,
		rec.Score, rec.LatencyMS, rec.Flags, rec.PIITokensRedacted, rec.CreatedAt)
	return err
}
