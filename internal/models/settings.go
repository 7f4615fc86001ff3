package models

import "time"

// Settings guarda a configuração de mensageria de uma empresa.
type Settings struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	CompanyID         string    `gorm:"size:64;not null;uniqueIndex" json:"company_id"`
	Enabled           bool      `json:"enabled"`
	MaxSessions       int       `json:"max_sessions"`
	NotifyNewMessage  bool      `json:"notify_new_message"`
	NotifyDisconnect  bool      `json:"notify_disconnect"`
	DefaultAIMode     string    `gorm:"size:20" json:"default_ai_mode"`
	MaxImageSizeMB    int       `json:"max_image_size_mb"`
	MaxVideoSizeMB    int       `json:"max_video_size_mb"`
	MaxAudioSizeMB    int       `json:"max_audio_size_mb"`
	MaxDocumentSizeMB int       `json:"max_document_size_mb"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Settings) TableName() string { return "whatsapp_settings" }

func DefaultSettings(companyID string, maxSessions int) Settings {
	return Settings{
		CompanyID:         companyID,
		Enabled:           true,
		MaxSessions:       maxSessions,
		NotifyNewMessage:  true,
		NotifyDisconnect:  true,
		DefaultAIMode:     "off",
		MaxImageSizeMB:    16,
		MaxVideoSizeMB:    64,
		MaxAudioSizeMB:    16,
		MaxDocumentSizeMB: 100,
	}
}

// EffectiveMaxSessions é 0 quando a mensageria está desativada para a empresa.
func (s *Settings) EffectiveMaxSessions() int {
	if !s.Enabled {
		return 0
	}
	return s.MaxSessions
}

// MediaLimitBytes devolve o teto em bytes para o tipo de mídia, ou 0 quando não se aplica.
func (s *Settings) MediaLimitBytes(kind MessageKind) int64 {
	var mb int
	switch kind {
	case KindImage:
		mb = s.MaxImageSizeMB
	case KindVideo:
		mb = s.MaxVideoSizeMB
	case KindAudio:
		mb = s.MaxAudioSizeMB
	case KindDocument:
		mb = s.MaxDocumentSizeMB
	}
	return int64(mb) << 20
}
