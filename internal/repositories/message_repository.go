package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"whatsapp-hub/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRepository struct {
	db    *gorm.DB
	retry RetryPolicy
}

func (r *MessageRepository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Insert grava a mensagem. Devolve false quando o id de protocolo já existia na conversa.
func (r *MessageRepository) Insert(ctx context.Context, message *models.Message) (bool, error) {
	created := false
	err := r.retry.Do(ctx, func() error {
		res := r.conn(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "remote_jid"}, {Name: "protocol_id"}},
			DoNothing: true,
		}).Create(message)
		if res.Error != nil {
			return fmt.Errorf("error saving message: %w", res.Error)
		}
		created = res.RowsAffected > 0
		return nil
	})
	return created, err
}

func (r *MessageRepository) Exists(ctx context.Context, sessionID, remoteJID, protocolID string) (bool, error) {
	var count int64
	err := r.retry.Do(ctx, func() error {
		return r.conn(ctx).Model(&models.Message{}).
			Where("session_id = ? AND remote_jid = ? AND protocol_id = ?", sessionID, remoteJID, protocolID).
			Count(&count).Error
	})
	return count > 0, err
}

func (r *MessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	err := r.retry.Do(ctx, func() error {
		return r.conn(ctx).Where("id = ?", id).First(&message).Error
	})
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) GetByProtocolID(ctx context.Context, sessionID, remoteJID, protocolID string) (*models.Message, error) {
	var message models.Message
	err := r.retry.Do(ctx, func() error {
		return r.conn(ctx).
			Where("session_id = ? AND remote_jid = ? AND protocol_id = ?", sessionID, remoteJID, protocolID).
			First(&message).Error
	})
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// AdvanceStatus aplica next somente se o status atual for anterior a ele.
// Devolve a mensagem atualizada, ou nil quando o evento foi ignorado.
func (r *MessageRepository) AdvanceStatus(ctx context.Context, sessionID, remoteJID, protocolID string, next models.MessageStatus) (*models.Message, error) {
	allowed := models.PredecessorsOf(next)
	if len(allowed) == 0 {
		return nil, nil
	}

	var updated *models.Message
	err := r.retry.Do(ctx, func() error {
		updated = nil
		res := r.conn(ctx).Model(&models.Message{}).
			Where("session_id = ? AND remote_jid = ? AND protocol_id = ? AND status IN ?", sessionID, remoteJID, protocolID, allowed).
			Update("status", next)
		if res.Error != nil {
			return fmt.Errorf("error updating message status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		var message models.Message
		if err := r.conn(ctx).
			Where("session_id = ? AND remote_jid = ? AND protocol_id = ?", sessionID, remoteJID, protocolID).
			First(&message).Error; err != nil {
			return err
		}
		updated = &message
		return nil
	})
	return updated, err
}

// ListByContact pagina as mensagens da conversa, mais recentes primeiro.
func (r *MessageRepository) ListByContact(ctx context.Context, contactID uint, offset, limit int) ([]models.Message, int64, error) {
	var (
		messages []models.Message
		total    int64
	)
	err := r.retry.Do(ctx, func() error {
		if err := r.conn(ctx).Model(&models.Message{}).Where("contact_id = ?", contactID).Count(&total).Error; err != nil {
			return err
		}
		messages = nil
		return r.conn(ctx).Where("contact_id = ?", contactID).
			Order("sent_at DESC").Order("id DESC").
			Offset(offset).Limit(limit).Find(&messages).Error
	})
	return messages, total, err
}

// Latest devolve a mensagem mais recente da conversa (models.ErrNotFound quando vazia).
func (r *MessageRepository) Latest(ctx context.Context, contactID uint) (*models.Message, error) {
	var message models.Message
	err := r.retry.Do(ctx, func() error {
		return r.conn(ctx).Where("contact_id = ?", contactID).
			Order("sent_at DESC").Order("id DESC").First(&message).Error
	})
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// RecentByDirection lista as últimas mensagens enviadas (fromMe) ou recebidas da conversa.
func (r *MessageRepository) RecentByDirection(ctx context.Context, contactID uint, fromMe bool, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := r.retry.Do(ctx, func() error {
		messages = nil
		return r.conn(ctx).Where("contact_id = ? AND from_me = ?", contactID, fromMe).
			Order("sent_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error
	})
	return messages, err
}

func (r *MessageRepository) UpdateContent(ctx context.Context, id uint, content string, editedAt time.Time) error {
	return r.retry.Do(ctx, func() error {
		res := r.conn(ctx).Model(&models.Message{}).Where("id = ?", id).Updates(map[string]interface{}{
			"content":   content,
			"edited_at": editedAt,
		})
		if res.Error != nil {
			return fmt.Errorf("error updating message: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: message %d", models.ErrNotFound, id)
		}
		return nil
	})
}

func (r *MessageRepository) Delete(ctx context.Context, id uint) error {
	return r.retry.Do(ctx, func() error {
		res := r.conn(ctx).Where("id = ?", id).Delete(&models.Message{})
		if res.Error != nil {
			return fmt.Errorf("error deleting message: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: message %d", models.ErrNotFound, id)
		}
		return nil
	})
}

// StatRow é a projeção mínima usada na agregação de estatísticas.
type StatRow struct {
	ContactID     uint
	FromMe        bool
	IsAIGenerated bool
	Timestamp     time.Time
}

// ScanWindow percorre as mensagens da empresa em [from, to) sem carregar tudo em memória.
// Só a abertura da consulta é repetida; uma falha no meio da leitura é devolvida.
func (r *MessageRepository) ScanWindow(ctx context.Context, companyID, sessionID string, from, to time.Time, fn func(StatRow)) error {
	var rows *sql.Rows
	err := r.retry.Do(ctx, func() error {
		q := r.conn(ctx).Model(&models.Message{}).
			Select("contact_id", "from_me", "is_ai_generated", "sent_at").
			Where("company_id = ? AND sent_at >= ? AND sent_at < ?", companyID, from, to)
		if sessionID != "" {
			q = q.Where("session_id = ?", sessionID)
		}
		var err error
		rows, err = q.Rows()
		return err
	})
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var row StatRow
		if err := rows.Scan(&row.ContactID, &row.FromMe, &row.IsAIGenerated, &row.Timestamp); err != nil {
			return translate(err)
		}
		fn(row)
	}
	return translate(rows.Err())
}
