package services

import (
	"context"
	"errors"
	"testing"

	"whatsapp-hub/internal/models"
)

func TestSettingsDefaultsAndUpdate(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()

	settings, err := env.settings.Get(ctx, testCompany)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if settings.MaxSessions != 4 || !settings.Enabled || !settings.NotifyNewMessage {
		t.Fatalf("unexpected defaults %+v", settings)
	}

	negative, zero := -1, 0
	if _, err := env.settings.Update(ctx, testCompany, models.UpdateSettingsRequest{MaxSessions: &negative}); !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := env.settings.Update(ctx, testCompany, models.UpdateSettingsRequest{MaxVideoSizeMB: &zero}); !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}

	two, off := 2, false
	if _, err := env.settings.Update(ctx, testCompany, models.UpdateSettingsRequest{MaxSessions: &two, NotifyNewMessage: &off}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	settings, _ = env.settings.Get(ctx, testCompany)
	if settings.MaxSessions != 2 || settings.NotifyNewMessage {
		t.Fatalf("update not persisted: %+v", settings)
	}
	if _, err := env.settings.Get(ctx, ""); !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload without company, got %v", err)
	}
}
