package models

import (
	"time"

	"gorm.io/datatypes"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindLocation MessageKind = "location"
	KindReaction MessageKind = "reaction"
	KindPoll     MessageKind = "poll"
	KindList     MessageKind = "list"
	KindButtons  MessageKind = "buttons"
	KindProduct  MessageKind = "product"
)

func (k MessageKind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindDocument:
		return true
	}
	return false
}

// Status de entrega: PENDING -> SENT -> DELIVERED -> READ, ou ERROR.
type MessageStatus string

const (
	MessagePending   MessageStatus = "PENDING"
	MessageSent      MessageStatus = "SENT"
	MessageDelivered MessageStatus = "DELIVERED"
	MessageRead      MessageStatus = "READ"
	MessageError     MessageStatus = "ERROR"
)

var statusRank = map[MessageStatus]int{
	MessagePending:   0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
}

// PredecessorsOf lista os status a partir dos quais next pode ser aplicado.
// ERROR só é alcançável antes da confirmação de entrega.
func PredecessorsOf(next MessageStatus) []MessageStatus {
	if next == MessageError {
		return []MessageStatus{MessagePending, MessageSent}
	}
	rank, ok := statusRank[next]
	if !ok {
		return nil
	}
	var out []MessageStatus
	for _, s := range []MessageStatus{MessagePending, MessageSent, MessageDelivered, MessageRead} {
		if statusRank[s] < rank {
			out = append(out, s)
		}
	}
	return out
}

// CanAdvance informa se a transição current -> next avança o status.
func (current MessageStatus) CanAdvance(next MessageStatus) bool {
	for _, s := range PredecessorsOf(next) {
		if s == current {
			return true
		}
	}
	return false
}

type Message struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	SessionID     string         `gorm:"size:40;not null;uniqueIndex:idx_message_protocol;index:idx_message_session_ts" json:"session_id"`
	CompanyID     string         `gorm:"size:64;not null;index" json:"company_id"`
	ContactID     uint           `gorm:"not null;index" json:"contact_id"`
	RemoteJID     string         `gorm:"column:remote_jid;size:128;not null;uniqueIndex:idx_message_protocol" json:"remote_jid"`
	ProtocolID    string         `gorm:"size:128;not null;uniqueIndex:idx_message_protocol" json:"protocol_id"`
	FromMe        bool           `json:"from_me"`
	SenderJID     string         `gorm:"column:sender_jid;size:128" json:"sender_jid,omitempty"`
	Kind          MessageKind    `gorm:"size:20;not null" json:"kind"`
	Content       *string        `gorm:"type:text" json:"content,omitempty"`
	MediaURL      *string        `gorm:"type:text" json:"media_url,omitempty"`
	MimeType      *string        `gorm:"size:128" json:"mime_type,omitempty"`
	FileName      *string        `gorm:"size:255" json:"file_name,omitempty"`
	QuotedID      *string        `gorm:"size:128" json:"quoted_id,omitempty"`
	Status        MessageStatus  `gorm:"size:12;not null;index" json:"status"`
	Timestamp     time.Time      `gorm:"column:sent_at;not null;index:idx_message_session_ts" json:"timestamp"`
	IsAIGenerated bool           `json:"is_ai_generated"`
	AIConfidence  *float64       `json:"ai_confidence,omitempty"`
	Payload       datatypes.JSON `json:"payload,omitempty"`
	EditedAt      *time.Time     `json:"edited_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (Message) TableName() string { return "whatsapp_messages" }

// All lista os modelos migrados pelo AutoMigrate.
func All() []interface{} {
	return []interface{}{&Session{}, &Contact{}, &Message{}, &QuickReply{}, &Settings{}}
}
