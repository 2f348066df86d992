package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tidepress/mail-dispatch/internal/domain"
	"gorm.io/gorm"
)

// priorityRank orders HIGH before MEDIUM before LOW in due-message scans.
const priorityRank = `CASE priority WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 ELSE 1 END`

type ListParams struct {
	Status   *domain.QueueStatus
	Class    *domain.MessageClass
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type QueueRepository interface {
	Enqueue(ctx context.Context, m *domain.QueuedEmail) error
	Due(ctx context.Context, now time.Time, limit int) ([]domain.QueuedEmail, error)
	GetByID(ctx context.Context, id string) (*domain.QueuedEmail, error)
	List(ctx context.Context, params ListParams) ([]domain.QueuedEmail, int64, error)
	Remove(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string, nextAttemptAt time.Time) error
	MarkDead(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, status domain.QueueStatus) (int64, error)
}

type GormQueueRepo struct {
	db *gorm.DB
}

func NewGormQueueRepo(db *gorm.DB) *GormQueueRepo {
	return &GormQueueRepo{db: db}
}

func (r *GormQueueRepo) Enqueue(ctx context.Context, m *domain.QueuedEmail) error {
	model := queuedEmailModelFromDomain(m)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if m != nil {
		*m = *queuedEmailModelToDomain(model)
	}
	return nil
}

// Due returns pending messages eligible for draining: scheduled at or before
// now and under the retry limit, highest priority first, oldest first within a
// priority tier.
func (r *GormQueueRepo) Due(ctx context.Context, now time.Time, limit int) ([]domain.QueuedEmail, error) {
	var models []QueuedEmailModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ? AND retry_count < ?",
			domain.QueueStatusPending, now, domain.MaxRetries).
		Order(priorityRank + " DESC").
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	messages := make([]domain.QueuedEmail, 0, len(models))
	for i := range models {
		messages = append(messages, *queuedEmailModelToDomain(&models[i]))
	}

	return messages, nil
}

func (r *GormQueueRepo) GetByID(ctx context.Context, id string) (*domain.QueuedEmail, error) {
	var model QueuedEmailModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return queuedEmailModelToDomain(&model), nil
}

func (r *GormQueueRepo) List(ctx context.Context, params ListParams) ([]domain.QueuedEmail, int64, error) {
	query := r.db.WithContext(ctx).Model(&QueuedEmailModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Class != nil {
		query = query.Where("class = ?", *params.Class)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []QueuedEmailModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	messages := make([]domain.QueuedEmail, 0, len(models))
	for i := range models {
		messages = append(messages, *queuedEmailModelToDomain(&models[i]))
	}

	return messages, total, nil
}

func (r *GormQueueRepo) Remove(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&QueuedEmailModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementRetry bumps the retry counter and reschedules the message. A bump
// that reaches the retry limit flips the row to DEAD in the same statement, so
// exhausted messages can never race back into a drain pass.
func (r *GormQueueRepo) IncrementRetry(ctx context.Context, id string, nextAttemptAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&QueuedEmailModel{}).
		Where("id = ? AND status = ?", id, domain.QueueStatusPending).
		Updates(map[string]any{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"scheduled_for": nextAttemptAt,
			"status": gorm.Expr(
				"CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END",
				domain.MaxRetries, domain.QueueStatusDead, domain.QueueStatusPending,
			),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormQueueRepo) MarkDead(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&QueuedEmailModel{}).
		Where("id = ?", id).
		Update("status", domain.QueueStatusDead)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormQueueRepo) CountByStatus(ctx context.Context, status domain.QueueStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&QueuedEmailModel{}).
		Where("status = ?", status).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
