package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/evalboard/evalboard/internal/config"
	"github.com/evalboard/evalboard/internal/models"
)

// GormStore persists through GORM. It backs local development (sqlite) and
// MySQL deployments. Isolation is enforced by scoping every query to the
// caller's user id.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenGorm opens a GORM connection for the sqlite or mysql driver.
func OpenGorm(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	case config.DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("store: gorm: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: gorm: connect %s: %w", driver, err)
	}
	return NewGormStore(db), nil
}

// NewGormStore wraps an existing GORM handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// EnsureSchema creates or updates the tables.
func (s *GormStore) EnsureSchema(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.EvalConfig{}, &models.EvaluationRecord{}); err != nil {
		return fmt.Errorf("store: gorm: auto-migrate: %w", err)
	}
	return nil
}

// Ping validates connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// GetEvalConfig returns the user's policy or ErrNotFound.
func (s *GormStore) GetEvalConfig(ctx context.Context, userID string) (models.EvalConfig, error) {
	var cfg models.EvalConfig
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.EvalConfig{}, fmt.Errorf("store: eval config %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return models.EvalConfig{}, fmt.Errorf("store: eval config %s: %w", userID, err)
	}
	return cfg, nil
}

// ProvisionEvalConfig inserts cfg unless the user already has a policy.
func (s *GormStore) ProvisionEvalConfig(ctx context.Context, cfg models.EvalConfig) error {
	cfg = withDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&cfg).Error
	if err != nil {
		return fmt.Errorf("store: provision eval config %s: %w", cfg.UserID, err)
	}
	return nil
}

// CountEvaluations returns the number of userID's evaluations in [from,to).
func (s *GormStore) CountEvaluations(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.EvaluationRecord{}).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from.UTC(), to.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("store: count evaluations: %w", err)
	}
	return count, nil
}

// AppendEvaluation persists rec, assigning its id (and creation time when unset).
func (s *GormStore) AppendEvaluation(ctx context.Context, rec models.EvaluationRecord) (models.EvaluationRecord, error) {
	rec = s.prepare(rec)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return models.EvaluationRecord{}, fmt.Errorf("store: append evaluation: %w", err)
	}
	return rec, nil
}

// AppendWithinQuota counts and inserts in one transaction.
func (s *GormStore) AppendWithinQuota(ctx context.Context, rec models.EvaluationRecord, limit int, since time.Time) (models.EvaluationRecord, error) {
	rec = s.prepare(rec)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.EvaluationRecord{}).Where("user_id = ? AND created_at >= ?", rec.UserID, since.UTC())
		if tx.Dialector.Name() == config.DriverMySQL {
			// Lock the user's index range so concurrent inserts wait.
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var count int64
		if err := q.Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(limit) {
			return ErrQuotaExceeded
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return models.EvaluationRecord{}, fmt.Errorf("store: append evaluation within quota: %w", err)
	}
	return rec, nil
}

func (s *GormStore) prepare(rec models.EvaluationRecord) models.EvaluationRecord {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(models.CreatedAtPrecision)
	if rec.Flags == nil {
		rec.Flags = []string{}
	}
	return rec
}
