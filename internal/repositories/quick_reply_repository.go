package repositories

import (
	"context"
	"fmt"
	"strings"

	"whatsapp-hub/internal/models"

	"gorm.io/gorm"
)

type QuickReplyRepository struct {
	db    *gorm.DB
	retry RetryPolicy
}

func (r *QuickReplyRepository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *QuickReplyRepository) Create(ctx context.Context, reply *models.QuickReply) error {
	return r.retry.Do(ctx, func() error {
		if err := r.conn(ctx).Create(reply).Error; err != nil {
			return fmt.Errorf("error saving quick reply: %w", err)
		}
		return nil
	})
}

func (r *QuickReplyRepository) GetByID(ctx context.Context, id string) (*models.QuickReply, error) {
	var reply models.QuickReply
	err := r.retry.Do(ctx, func() error {
		return r.conn(ctx).Where("id = ?", id).First(&reply).Error
	})
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

func (r *QuickReplyRepository) List(ctx context.Context, companyID, category, search string) ([]models.QuickReply, error) {
	var replies []models.QuickReply
	err := r.retry.Do(ctx, func() error {
		q := r.conn(ctx).Where("company_id = ?", companyID)
		if category != "" {
			q = q.Where("category = ?", category)
		}
		if s := strings.TrimSpace(search); s != "" {
			like := "%" + strings.ToLower(s) + "%"
			q = q.Where("(LOWER(title) LIKE ? OR LOWER(shortcut) LIKE ? OR LOWER(body) LIKE ?)", like, like, like)
		}
		replies = nil
		return q.Order("usage_count DESC").Order("title ASC").Find(&replies).Error
	})
	return replies, err
}

func (r *QuickReplyRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.retry.Do(ctx, func() error {
		var count int64
		if err := r.conn(ctx).Model(&models.QuickReply{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: quick reply %s", models.ErrNotFound, id)
		}
		return r.conn(ctx).Model(&models.QuickReply{}).Where("id = ?", id).Updates(fields).Error
	})
}

func (r *QuickReplyRepository) Delete(ctx context.Context, id string) error {
	return r.retry.Do(ctx, func() error {
		res := r.conn(ctx).Where("id = ?", id).Delete(&models.QuickReply{})
		if res.Error != nil {
			return fmt.Errorf("error deleting quick reply: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: quick reply %s", models.ErrNotFound, id)
		}
		return nil
	})
}

// IncrementUsage soma um ao contador de uso de forma atômica.
func (r *QuickReplyRepository) IncrementUsage(ctx context.Context, id string) error {
	return r.retry.Do(ctx, func() error {
		return r.conn(ctx).Model(&models.QuickReply{}).Where("id = ?", id).
			UpdateColumn("usage_count", gorm.Expr("usage_count + 1")).Error
	})
}
