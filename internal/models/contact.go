package models

import (
	"time"

	"gorm.io/datatypes"
)

// Contact representa uma conversa: um registro por (sessão, JID remoto).
type Contact struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	SessionID     string         `gorm:"size:40;not null;uniqueIndex:idx_contact_session_remote" json:"session_id"`
	CompanyID     string         `gorm:"size:64;not null;index" json:"company_id"`
	RemoteJID     string         `gorm:"column:remote_jid;size:128;not null;uniqueIndex:idx_contact_session_remote" json:"remote_jid"`
	Name          string         `gorm:"size:160" json:"name"`
	PushName      string         `gorm:"size:160" json:"push_name"`
	AvatarURL     *string        `gorm:"type:text" json:"avatar_url,omitempty"`
	IsGroup       bool           `json:"is_group"`
	Category      *string        `gorm:"size:64;index" json:"category,omitempty"`
	Tags          datatypes.JSON `json:"tags,omitempty"`
	UnreadCount   int            `gorm:"not null" json:"unread_count"`
	LastMessageAt time.Time      `gorm:"not null;index" json:"last_message_at"`
	IsArchived    bool           `json:"is_archived"`
	IsPinned      bool           `gorm:"index" json:"is_pinned"`
	IsMuted       bool           `json:"is_muted"`
	CustomerID    *string        `gorm:"size:64" json:"customer_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (Contact) TableName() string { return "whatsapp_contacts" }

// DisplayName usa o nome salvo, depois o push name e por fim o número.
func (c *Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.PushName != "" {
		return c.PushName
	}
	return c.RemoteJID
}

type ConversationFilter struct {
	CompanyID string
	SessionID string
	Search    string
	Category  string
	Archived  *bool
	Page      int
	Limit     int
}

// Conversation é um item da listagem: o contato mais a última mensagem da conversa.
type Conversation struct {
	Contact
	LastMessage *Message `json:"last_message"`
}
