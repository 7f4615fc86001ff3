package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-hub/internal/models"

	"gorm.io/gorm"
)

type SessionRepository struct {
	db    *gorm.DB
	retry RetryPolicy
}

func (r *SessionRepository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Create grava a sessão; com IsDefault ligado as demais sessões da empresa perdem o flag.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	return r.retry.Do(ctx, func() error {
		return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
			if session.IsDefault {
				if err := clearDefault(tx, session.CompanyID, session.ID); err != nil {
					return err
				}
			}
			if err := tx.Create(session).Error; err != nil {
				return fmt.Errorf("error saving session: %w", err)
			}
			return nil
		})
	})
}

func clearDefault(tx *gorm.DB, companyID, keepID string) error {
	err := tx.Model(&models.Session{}).
		Where("company_id = ? AND id <> ? AND is_default = ?", companyID, keepID, true).
		Update("is_default", false).Error
	if err != nil {
		return fmt.Errorf("error clearing default session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := r.retry.Do(ctx, func() error {
		return r.conn(ctx).Where("id = ?", id).First(&session).Error
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) ListByCompany(ctx context.Context, companyID string) ([]models.Session, error) {
	var sessions []models.Session
	err := r.retry.Do(ctx, func() error {
		return r.conn(ctx).Where("company_id = ?", companyID).Order("created_at ASC").Find(&sessions).Error
	})
	return sessions, err
}

func (r *SessionRepository) CountByCompany(ctx context.Context, companyID string) (int64, error) {
	var count int64
	err := r.retry.Do(ctx, func() error {
		return r.conn(ctx).Model(&models.Session{}).Where("company_id = ?", companyID).Count(&count).Error
	})
	return count, err
}

// Update aplica os campos informados. is_default=true limpa as demais sessões da empresa.
func (r *SessionRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.retry.Do(ctx, func() error {
		return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
			var session models.Session
			if err := tx.Select("id", "company_id").Where("id = ?", id).First(&session).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
				}
				return err
			}
			if v, ok := fields["is_default"].(bool); ok && v {
				if err := clearDefault(tx, session.CompanyID, id); err != nil {
					return err
				}
			}
			return tx.Model(&models.Session{}).Where("id = ?", id).Updates(fields).Error
		})
	})
}

// UpdateStatus grava o status e campos associados (qr_code, phone, last_error...).
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status models.SessionStatus, extra map[string]interface{}) error {
	fields := map[string]interface{}{"status": status}
	for k, v := range extra {
		fields[k] = v
	}
	now := time.Now().UTC()
	switch status {
	case models.SessionConnected:
		fields["last_connected_at"] = now
		fields["qr_code"] = nil
	case models.SessionDisconnected:
		fields["last_disconnected_at"] = now
		fields["qr_code"] = nil
	}
	return r.retry.Do(ctx, func() error {
		return r.conn(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(fields).Error
	})
}

func (r *SessionRepository) SaveQRCode(ctx context.Context, id, qrCode string) error {
	return r.retry.Do(ctx, func() error {
		return r.conn(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(map[string]interface{}{
			"qr_code":         qrCode,
			"qr_generated_at": time.Now().UTC(),
			"status":          models.SessionQRPending,
		}).Error
	})
}

// SaveAuthState substitui o blob de credenciais. nil limpa as credenciais.
func (r *SessionRepository) SaveAuthState(ctx context.Context, id string, raw []byte) error {
	var value interface{}
	if len(raw) > 0 {
		value = string(raw)
	}
	return r.retry.Do(ctx, func() error {
		return r.conn(ctx).Model(&models.Session{}).Where("id = ?", id).Update("auth_state", value).Error
	})
}

// ResetAllStatuses marca todas as sessões como desconectadas (execução na inicialização).
func (r *SessionRepository) ResetAllStatuses(ctx context.Context) (int64, error) {
	var affected int64
	err := r.retry.Do(ctx, func() error {
		res := r.conn(ctx).Model(&models.Session{}).
			Where("status <> ? OR qr_code IS NOT NULL", models.SessionDisconnected).
			Updates(map[string]interface{}{"status": models.SessionDisconnected, "qr_code": nil})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// Delete remove a sessão com seus contatos e mensagens numa única transação.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	return r.retry.Do(ctx, func() error {
		return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("session_id = ?", id).Delete(&models.Message{}).Error; err != nil {
				return fmt.Errorf("error deleting messages: %w", err)
			}
			if err := tx.Where("session_id = ?", id).Delete(&models.Contact{}).Error; err != nil {
				return fmt.Errorf("error deleting contacts: %w", err)
			}
			res := tx.Where("id = ?", id).Delete(&models.Session{})
			if res.Error != nil {
				return fmt.Errorf("error deleting session: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
			}
			return nil
		})
	})
}
