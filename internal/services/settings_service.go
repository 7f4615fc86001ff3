package services

import (
	"context"
	"fmt"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/repositories"
)

type SettingsService struct {
	store              *repositories.Store
	defaultMaxSessions int
}

func NewSettingsService(store *repositories.Store, defaultMaxSessions int) *SettingsService {
	return &SettingsService{store: store, defaultMaxSessions: defaultMaxSessions}
}

// Get devolve as configurações da empresa, criando os defaults na primeira leitura.
func (s *SettingsService) Get(ctx context.Context, companyID string) (*models.Settings, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: company_id is required", models.ErrInvalidPayload)
	}
	return s.store.Settings.GetOrCreate(ctx, models.DefaultSettings(companyID, s.defaultMaxSessions))
}

func (s *SettingsService) Update(ctx context.Context, companyID string, req models.UpdateSettingsRequest) (*models.Settings, error) {
	if req.MaxSessions != nil && *req.MaxSessions < 0 {
		return nil, fmt.Errorf("%w: max_sessions must be >= 0", models.ErrInvalidPayload)
	}
	for name, v := range map[string]*int{
		"max_image_size_mb":    req.MaxImageSizeMB,
		"max_video_size_mb":    req.MaxVideoSizeMB,
		"max_audio_size_mb":    req.MaxAudioSizeMB,
		"max_document_size_mb": req.MaxDocumentSizeMB,
	} {
		if v != nil && *v <= 0 {
			return nil, fmt.Errorf("%w: %s must be > 0", models.ErrInvalidPayload, name)
		}
	}

	settings, err := s.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}
	if req.MaxSessions != nil {
		settings.MaxSessions = *req.MaxSessions
	}
	if req.NotifyNewMessage != nil {
		settings.NotifyNewMessage = *req.NotifyNewMessage
	}
	if req.NotifyDisconnect != nil {
		settings.NotifyDisconnect = *req.NotifyDisconnect
	}
	if req.DefaultAIMode != nil {
		settings.DefaultAIMode = *req.DefaultAIMode
	}
	if req.MaxImageSizeMB != nil {
		settings.MaxImageSizeMB = *req.MaxImageSizeMB
	}
	if req.MaxVideoSizeMB != nil {
		settings.MaxVideoSizeMB = *req.MaxVideoSizeMB
	}
	if req.MaxAudioSizeMB != nil {
		settings.MaxAudioSizeMB = *req.MaxAudioSizeMB
	}
	if req.MaxDocumentSizeMB != nil {
		settings.MaxDocumentSizeMB = *req.MaxDocumentSizeMB
	}

	if err := s.store.Settings.Save(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}
