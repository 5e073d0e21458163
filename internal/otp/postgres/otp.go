package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/otp"
	otppkg "github.com/frahmantamala/land-payment/internal/otp"
)

type CodeRepository struct {
	db *gorm.DB
}

func NewCodeRepository(db *gorm.DB) otppkg.RepositoryAPI {
	return &CodeRepository{db: db}
}

func (r *CodeRepository) Create(ctx context.Context, code *otp.Code) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *CodeRepository) InvalidateLive(ctx context.Context, userID int64, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&otp.Code{}).
		Where("user_id = ? AND is_used = ? AND expires_at > ?", userID, false, at).
		Update("expires_at", at)
	return res.RowsAffected, res.Error
}

func (r *CodeRepository) Latest(ctx context.Context, userID int64) (*otp.Code, error) {
	var c otp.Code
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrOTPNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *CodeRepository) RecordFailure(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&otp.Code{}).
			Where("id = ?", id).
			UpdateColumn("attempts", gorm.Expr("attempts + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return internal.ErrOTPNotFound
		}
		return tx.Model(&otp.Code{}).Select("attempts").Where("id = ?", id).Scan(&attempts).Error
	})
	return attempts, err
}

func (r *CodeRepository) MarkUsed(ctx context.Context, id int64, maxAttempts int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&otp.Code{}).
		Where("id = ? AND is_used = ? AND attempts < ?", id, false, maxAttempts).
		Updates(map[string]interface{}{"is_used": true, "used_at": at})
	return res.RowsAffected == 1, res.Error
}
