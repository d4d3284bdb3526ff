package models

import "time"

// RunPolicy controls how ingestion requests for a user are admitted.
type RunPolicy string

const (
	// RunPolicyAlways accepts every well-formed request (subject to quota).
	RunPolicyAlways RunPolicy = "always"
	// RunPolicySampled accepts a request with probability SampleRatePercent/100.
	RunPolicySampled RunPolicy = "sampled"
)

// Valid reports whether p is a known policy.
func (p RunPolicy) Valid() bool {
	return p == RunPolicyAlways || p == RunPolicySampled
}

// DefaultMaxEvalPerDay is used when provisioning new accounts.
const DefaultMaxEvalPerDay = 10000

// EvalConfig is the per-user evaluation policy. Exactly one exists per user;
// ingestion only ever reads it.
type EvalConfig struct {
	UserID            string    `json:"user_id" gorm:"primaryKey;size:128"`
	RunPolicy         RunPolicy `json:"run_policy" gorm:"size:16;not null"`
	SampleRatePercent int       `json:"sample_rate_percent" gorm:"not null"`
	ObfuscatePII      bool      `json:"obfuscate_pii" gorm:"not null"`
	MaxEvalPerDay     int       `json:"max_eval_per_day" gorm:"not null"`
}

// TableName keeps the table name identical across the pgx and GORM stores.
func (EvalConfig) TableName() string { return "eval_configs" }

// CreatedAtPrecision is the resolution every backend stores created_at at
// exactly (MySQL DATETIME(3) rounds finer values, possibly upward).
const CreatedAtPrecision = time.Millisecond

// EvaluationRecord is one accepted evaluation event.
// UserID and CreatedAt are always set server-side.
type EvaluationRecord struct {
	ID                string    `json:"id" gorm:"primaryKey;size:36"`
	UserID            string    `json:"user_id" gorm:"size:128;not null;index:idx_evaluations_user_created,priority:1"`
	InteractionID     string    `json:"interaction_id" gorm:"size:256;not null"`
	Prompt            string    `json:"prompt" gorm:"type:text"`
	Response          string    `json:"response" gorm:"type:text"`
	Score             *float64  `json:"score"`
	LatencyMS         int64     `json:"latency_ms" gorm:"not null"`
	Flags             []string  `json:"flags" gorm:"serializer:json"`
	PIITokensRedacted int       `json:"pii_tokens_redacted" gorm:"not null"`
	CreatedAt         time.Time `json:"created_at" gorm:"not null;index:idx_evaluations_user_created,priority:2"`
}

// TableName keeps the table name identical across the pgx and GORM stores.
func (EvaluationRecord) TableName() string { return "evaluations" }
