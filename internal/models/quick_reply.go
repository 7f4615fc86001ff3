package models

import "time"

type QuickReply struct {
	ID         string    `gorm:"primaryKey;size:40" json:"id"`
	CompanyID  string    `gorm:"size:64;not null;index" json:"company_id"`
	Title      string    `gorm:"size:160;not null" json:"title"`
	Shortcut   *string   `gorm:"size:64" json:"shortcut,omitempty"`
	Body       string    `gorm:"type:text;not null" json:"body"`
	Category   *string   `gorm:"size:64;index" json:"category,omitempty"`
	UsageCount int       `gorm:"not null" json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (QuickReply) TableName() string { return "whatsapp_quick_replies" }

type DailyStats struct {
	Date       string `json:"date"`
	Sent       int64  `json:"sent"`
	Received   int64  `json:"received"`
	AIAssisted int64  `json:"ai_assisted"`
}

type Stats struct {
	From                time.Time    `json:"from"`
	To                  time.Time    `json:"to"`
	Sent                int64        `json:"sent"`
	Received            int64        `json:"received"`
	AIAssisted          int64        `json:"ai_assisted"`
	ActiveConversations int64        `json:"active_conversations"`
	Daily               []DailyStats `json:"daily"`
}
