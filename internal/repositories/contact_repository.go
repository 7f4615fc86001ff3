package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-hub/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContactRepository struct {
	db    *gorm.DB
	retry RetryPolicy
}

func (r *ContactRepository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// ContactSeed são os dados mínimos de um contato criado sob demanda.
type ContactSeed struct {
	SessionID string
	CompanyID string
	RemoteJID string
	PushName  string
	IsGroup   bool
	At        time.Time
}

// Ensure cria o contato (sessão, JID remoto) se ainda não existir e devolve o registro atual.
func (r *ContactRepository) Ensure(ctx context.Context, seed ContactSeed) (*models.Contact, bool, error) {
	var contact models.Contact
	created := false
	err := r.retry.Do(ctx, func() error {
		at := seed.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		candidate := models.Contact{
			SessionID:     seed.SessionID,
			CompanyID:     seed.CompanyID,
			RemoteJID:     seed.RemoteJID,
			PushName:      seed.PushName,
			IsGroup:       seed.IsGroup,
			LastMessageAt: at,
		}
		res := r.conn(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "remote_jid"}},
			DoNothing: true,
		}).Create(&candidate)
		if res.Error != nil {
			return fmt.Errorf("error creating contact: %w", res.Error)
		}
		created = res.RowsAffected > 0

		contact = models.Contact{}
		if err := r.conn(ctx).Where("session_id = ? AND remote_jid = ?", seed.SessionID, seed.RemoteJID).
			First(&contact).Error; err != nil {
			return err
		}
		if !created && contact.PushName == "" && seed.PushName != "" {
			contact.PushName = seed.PushName
			return r.conn(ctx).Model(&models.Contact{}).Where("id = ?", contact.ID).
				Update("push_name", seed.PushName).Error
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &contact, created, nil
}

func (r *ContactRepository) GetByID(ctx context.Context, id uint) (*models.Contact, error) {
	var contact models.Contact
	err := r.retry.Do(ctx, func() error {
		return r.conn(ctx).Where("id = ?", id).First(&contact).Error
	})
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *ContactRepository) GetBySessionRemote(ctx context.Context, sessionID, remoteJID string) (*models.Contact, error) {
	var contact models.Contact
	err := r.retry.Do(ctx, func() error {
		return r.conn(ctx).Where("session_id = ? AND remote_jid = ?", sessionID, remoteJID).First(&contact).Error
	})
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// lastMessageExpr mantém last_message_at sem regredir quando chegam mensagens antigas.
func lastMessageExpr(at time.Time) clause.Expr {
	return gorm.Expr("CASE WHEN last_message_at < ? THEN ? ELSE last_message_at END", at, at)
}

// RecordInbound incrementa o contador de não lidas (quando countUnread) e atualiza a última mensagem.
func (r *ContactRepository) RecordInbound(ctx context.Context, id uint, at time.Time, countUnread bool) error {
	fields := map[string]interface{}{"last_message_at": lastMessageExpr(at)}
	if countUnread {
		fields["unread_count"] = gorm.Expr("unread_count + 1")
	}
	return r.updates(ctx, id, fields)
}

// RecordOutbound atualiza apenas a última mensagem; não lidas não mudam.
func (r *ContactRepository) RecordOutbound(ctx context.Context, id uint, at time.Time) error {
	return r.updates(ctx, id, map[string]interface{}{"last_message_at": lastMessageExpr(at)})
}

var contactFlags = map[string]bool{"is_archived": true, "is_pinned": true, "is_muted": true}

func (r *ContactRepository) SetFlag(ctx context.Context, id uint, column string, value bool) error {
	if !contactFlags[column] {
		return fmt.Errorf("%w: unknown flag %s", models.ErrInvalidPayload, column)
	}
	return r.updates(ctx, id, map[string]interface{}{column: value})
}

func (r *ContactRepository) ResetUnread(ctx context.Context, id uint) error {
	return r.updates(ctx, id, map[string]interface{}{"unread_count": 0})
}

// MarkUnread garante pelo menos uma não lida sem inflar o contador em cliques repetidos.
func (r *ContactRepository) MarkUnread(ctx context.Context, id uint) error {
	if err := r.exists(ctx, id); err != nil {
		return err
	}
	return r.retry.Do(ctx, func() error {
		return r.conn(ctx).Model(&models.Contact{}).
			Where("id = ? AND unread_count = 0", id).
			Update("unread_count", 1).Error
	})
}

func (r *ContactRepository) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return r.exists(ctx, id)
	}
	return r.updates(ctx, id, fields)
}

func (r *ContactRepository) updates(ctx context.Context, id uint, fields map[string]interface{}) error {
	return r.retry.Do(ctx, func() error {
		res := r.conn(ctx).Model(&models.Contact{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("error updating contact: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return r.existsOnce(ctx, id)
		}
		return nil
	})
}

func (r *ContactRepository) exists(ctx context.Context, id uint) error {
	return r.retry.Do(ctx, func() error { return r.existsOnce(ctx, id) })
}

// existsOnce distingue "nada mudou" de "contato inexistente" (alguns drivers retornam 0 linhas afetadas em no-op).
func (r *ContactRepository) existsOnce(ctx context.Context, id uint) error {
	var count int64
	if err := r.conn(ctx).Model(&models.Contact{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: contact %d", models.ErrNotFound, id)
	}
	return nil
}

// List devolve a página de conversas: fixadas primeiro, depois pela última mensagem (mais recente primeiro).
func (r *ContactRepository) List(ctx context.Context, filter models.ConversationFilter, offset, limit int) ([]models.Contact, int64, error) {
	var (
		contacts []models.Contact
		total    int64
	)
	build := func() *gorm.DB {
		q := r.conn(ctx).Model(&models.Contact{})
		if filter.CompanyID != "" {
			q = q.Where("company_id = ?", filter.CompanyID)
		}
		if filter.SessionID != "" {
			q = q.Where("session_id = ?", filter.SessionID)
		}
		if filter.Category != "" {
			q = q.Where("category = ?", filter.Category)
		}
		if filter.Archived != nil {
			q = q.Where("is_archived = ?", *filter.Archived)
		}
		if s := strings.TrimSpace(filter.Search); s != "" {
			like := "%" + strings.ToLower(s) + "%"
			q = q.Where("(LOWER(name) LIKE ? OR LOWER(push_name) LIKE ? OR remote_jid LIKE ?)", like, like, like)
		}
		return q
	}
	err := r.retry.Do(ctx, func() error {
		if err := build().Count(&total).Error; err != nil {
			return err
		}
		contacts = nil
		return build().Order("is_pinned DESC").Order("last_message_at DESC").Order("id DESC").
			Offset(offset).Limit(limit).Find(&contacts).Error
	})
	return contacts, total, err
}

// Delete remove o contato e todas as suas mensagens na mesma transação.
func (r *ContactRepository) Delete(ctx context.Context, id uint) error {
	return r.retry.Do(ctx, func() error {
		return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("contact_id = ?", id).Delete(&models.Message{}).Error; err != nil {
				return fmt.Errorf("error deleting messages: %w", err)
			}
			res := tx.Where("id = ?", id).Delete(&models.Contact{})
			if res.Error != nil {
				return fmt.Errorf("error deleting contact: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: contact %d", models.ErrNotFound, id)
			}
			return nil
		})
	})
}

// Clear apaga as mensagens da conversa e zera as não lidas, mantendo o contato.
func (r *ContactRepository) Clear(ctx context.Context, id uint) error {
	return r.retry.Do(ctx, func() error {
		return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
			var contact models.Contact
			if err := tx.Select("id").Where("id = ?", id).First(&contact).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: contact %d", models.ErrNotFound, id)
				}
				return err
			}
			if err := tx.Where("contact_id = ?", id).Delete(&models.Message{}).Error; err != nil {
				return fmt.Errorf("error clearing messages: %w", err)
			}
			return tx.Model(&models.Contact{}).Where("id = ?", id).Update("unread_count", 0).Error
		})
	})
}
