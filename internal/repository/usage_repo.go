package repository

import (
	"context"
	"errors"

	"github.com/tidepress/mail-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UsageRepository interface {
	Get(ctx context.Context, day string) (*domain.DailyUsage, error)
	RecordAttempt(ctx context.Context, day string, success bool) error
}

type GormUsageRepo struct {
	db *gorm.DB
}

func NewGormUsageRepo(db *gorm.DB) *GormUsageRepo {
	return &GormUsageRepo{db: db}
}

func (r *GormUsageRepo) Get(ctx context.Context, day string) (*domain.DailyUsage, error) {
	var model DailyUsageModel
	err := r.db.WithContext(ctx).First(&model, "day = ?", day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dailyUsageModelToDomain(&model), nil
}

// RecordAttempt upserts today's row and increments attempted plus exactly one
// of succeeded/failed in a single statement. Concurrent callers racing on the
// same day rely on the database's ON CONFLICT increment, never on a
// read-then-write in application code.
func (r *GormUsageRepo) RecordAttempt(ctx context.Context, day string, success bool) error {
	model := &DailyUsageModel{Day: day, Attempted: 1}
	assignments := map[string]any{
		"attempted":  gorm.Expr("email_usage.attempted + 1"),
		"updated_at": gorm.Expr("now()"),
	}
	if success {
		model.Succeeded = 1
		assignments["succeeded"] = gorm.Expr("email_usage.succeeded + 1")
	} else {
		model.Failed = 1
		assignments["failed"] = gorm.Expr("email_usage.failed + 1")
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "day"}},
			DoUpdates: clause.Assignments(assignments),
		}).
		Create(model).Error
}
