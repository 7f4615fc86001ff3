package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"whatsapp-hub/internal/models"
)

func writeLegacyFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s failed: %v", name, err)
		}
	}
}

func TestMigrateSession(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	base := t.TempDir()
	for _, id := range []string{"ses_1", "ses_2"} {
		if err := env.store.Sessions.Create(ctx, &models.Session{ID: id, CompanyID: testCompany, Name: id, Status: models.SessionDisconnected}); err != nil {
			t.Fatalf("Create session failed: %v", err)
		}
	}
	writeLegacyFiles(t, filepath.Join(base, "ses_1"), map[string]string{
		"creds.json":                `{ "noiseKey": "abc" }`,
		"pre-key-1.json":            `{"k": 1}`,
		"sender-key-memory-g1.json": `{"g": true}`,
		"readme.txt":                "ignore",
		"unknown-x.json":            `{}`,
		"session-bad.json":          `{not json`,
	})
	migrations := NewMigrationService(env.store, base)

	result, err := migrations.MigrateSession(ctx, "ses_1")
	if err != nil {
		t.Fatalf("MigrateSession failed: %v", err)
	}
	if !result.Migrated || result.Files != 3 || result.Error != "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Skipped) != 3 {
		t.Fatalf("expected 3 skipped files, got %v", result.Skipped)
	}

	session, _ := env.store.Sessions.GetByID(ctx, "ses_1")
	first := string(session.AuthState)
	state, err := models.ParseAuthState(session.AuthState)
	if err != nil {
		t.Fatalf("stored auth state is invalid: %v", err)
	}
	if string(state.Creds) != `{"noiseKey":"abc"}` {
		t.Fatalf("unexpected creds %s", state.Creds)
	}
	if string(state.Keys["pre-key"]["1"]) != `{"k":1}` || string(state.Keys["sender-key-memory"]["g1"]) != `{"g":true}` {
		t.Fatalf("unexpected keys %+v", state.Keys)
	}

	// repetir produz o mesmo blob
	if _, err := migrations.MigrateSession(ctx, "ses_1"); err != nil {
		t.Fatalf("second MigrateSession failed: %v", err)
	}
	session, _ = env.store.Sessions.GetByID(ctx, "ses_1")
	if string(session.AuthState) != first {
		t.Fatalf("migration must be idempotent:\n%s\n%s", first, session.AuthState)
	}

	results, err := migrations.MigrateCompany(ctx, testCompany)
	if err != nil || len(results) != 2 {
		t.Fatalf("expected 2 results, got %d err=%v", len(results), err)
	}
	for _, r := range results {
		if r.SessionID == "ses_2" && (r.Migrated || r.Error != "") {
			t.Fatalf("session without legacy dir must be skipped, got %+v", r)
		}
	}

	if _, err := migrations.MigrateSession(ctx, "missing"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
