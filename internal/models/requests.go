package models

import "encoding/json"

type CreateSessionRequest struct {
	CompanyID    string          `json:"company_id" example:"acme" swagger:"required" description:"ID da empresa"`
	Name         string          `json:"name" example:"Atendimento"`
	AIEnabled    bool            `json:"ai_enabled"`
	AIMode       string          `json:"ai_mode" example:"off"`
	WorkingHours json.RawMessage `json:"working_hours,omitempty"`
	IsDefault    bool            `json:"is_default"`
	Connect      bool            `json:"connect" description:"Inicia a conexão logo após criar"`
}

type UpdateSessionRequest struct {
	Name         *string         `json:"name,omitempty"`
	AIEnabled    *bool           `json:"ai_enabled,omitempty"`
	AIMode       *string         `json:"ai_mode,omitempty"`
	WorkingHours json.RawMessage `json:"working_hours,omitempty"`
	IsDefault    *bool           `json:"is_default,omitempty"`
}

type SendMessageRequest struct {
	SessionID     string          `json:"session_id" swagger:"required"`
	To            string          `json:"to" example:"5511999999999" swagger:"required" description:"Número ou JID do destinatário"`
	Payload       OutboundPayload `json:"payload" swagger:"required"`
	QuickReplyID  string          `json:"quick_reply_id,omitempty"`
	IsAIGenerated bool            `json:"is_ai_generated,omitempty"`
	AIConfidence  *float64        `json:"ai_confidence,omitempty"`
}

type EditMessageRequest struct {
	Text string `json:"text"`
}

type ForwardMessageRequest struct {
	SessionID string `json:"session_id,omitempty" description:"Sessão de saída; padrão é a sessão da mensagem original"`
	To        string `json:"to"`
}

type TypingRequest struct {
	SessionID string `json:"session_id"`
	To        string `json:"to" example:"5511999999999"`
	Composing bool   `json:"composing" default:"true"`
}

type ToggleRequest struct {
	Value bool `json:"value"`
}

type ActiveThreadRequest struct {
	Active bool `json:"active"`
}

type UpdateContactRequest struct {
	Name       *string  `json:"name,omitempty"`
	Category   *string  `json:"category,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	CustomerID *string  `json:"customer_id,omitempty"`
}

type QuickReplyRequest struct {
	CompanyID string  `json:"company_id"`
	Title     string  `json:"title"`
	Shortcut  *string `json:"shortcut,omitempty"`
	Body      string  `json:"body"`
	Category  *string `json:"category,omitempty"`
}

type SendQuickReplyRequest struct {
	SessionID string            `json:"session_id"`
	To        string            `json:"to"`
	Variables map[string]string `json:"variables,omitempty"`
}

type UpdateSettingsRequest struct {
	Enabled           *bool   `json:"enabled,omitempty"`
	MaxSessions       *int    `json:"max_sessions,omitempty"`
	NotifyNewMessage  *bool   `json:"notify_new_message,omitempty"`
	NotifyDisconnect  *bool   `json:"notify_disconnect,omitempty"`
	DefaultAIMode     *string `json:"default_ai_mode,omitempty"`
	MaxImageSizeMB    *int    `json:"max_image_size_mb,omitempty"`
	MaxVideoSizeMB    *int    `json:"max_video_size_mb,omitempty"`
	MaxAudioSizeMB    *int    `json:"max_audio_size_mb,omitempty"`
	MaxDocumentSizeMB *int    `json:"max_document_size_mb,omitempty"`
}

type MigrationResult struct {
	SessionID string   `json:"session_id"`
	Migrated  bool     `json:"migrated"`
	Files     int      `json:"files"`
	Skipped   []string `json:"skipped,omitempty"`
	Error     string   `json:"error,omitempty"`
}
