package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/repositories"
	"whatsapp-hub/internal/utils"
)

const legacyCredsFile = "creds.json"

// Prefixos mais longos primeiro: "sender-key-memory-" também começa com "sender-key-".
var legacyKeyPrefixes = []struct {
	prefix   string
	category string
}{
	{"app-state-sync-version-", "app-state-sync-version"},
	{"app-state-sync-key-", "app-state-sync-key"},
	{"sender-key-memory-", "sender-key-memory"},
	{"sender-key-", "sender-key"},
	{"pre-key-", "pre-key"},
	{"session-", "session"},
}

// MigrationService move as credenciais do layout antigo (um arquivo por chave)
// para o campo auth_state da sessão.
type MigrationService struct {
	store   *repositories.Store
	baseDir string
}

func NewMigrationService(store *repositories.Store, baseDir string) *MigrationService {
	return &MigrationService{store: store, baseDir: baseDir}
}

// MigrateSession pode ser repetido; o resultado gravado é sempre o mesmo para os mesmos arquivos.
func (s *MigrationService) MigrateSession(ctx context.Context, sessionID string) (*models.MigrationResult, error) {
	session, err := s.store.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.migrate(ctx, session.ID), nil
}

func (s *MigrationService) MigrateCompany(ctx context.Context, companyID string) ([]models.MigrationResult, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: company_id is required", models.ErrInvalidPayload)
	}
	sessions, err := s.store.Sessions.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	results := make([]models.MigrationResult, 0, len(sessions))
	for _, session := range sessions {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, *s.migrate(ctx, session.ID))
	}
	return results, nil
}

func (s *MigrationService) migrate(ctx context.Context, sessionID string) *models.MigrationResult {
	result := &models.MigrationResult{SessionID: sessionID}
	dir := filepath.Join(s.baseDir, sessionID)

	state, files, skipped, err := readLegacyDir(dir)
	result.Skipped = skipped
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if files == 0 {
		utils.LogDebug("Nenhuma credencial antiga para a sessão %s", sessionID)
		return result
	}

	raw, err := state.Marshal()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if err := s.store.Sessions.SaveAuthState(ctx, sessionID, raw); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Migrated = true
	result.Files = files
	utils.LogInfo("Credenciais da sessão %s migradas (%d arquivos, %d ignorados)", sessionID, files, len(skipped))
	return result
}

// readLegacyDir monta o blob a partir do diretório. Diretório ausente não é erro.
func readLegacyDir(dir string) (*models.AuthState, int, []string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, []string{dir}, nil
	}
	if err != nil {
		return nil, 0, nil, fmt.Errorf("erro ao ler %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	state := &models.AuthState{}
	var skipped []string
	files := 0
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			skipped = append(skipped, name)
			continue
		}
		category, id, ok := classifyLegacyFile(name)
		if !ok {
			skipped = append(skipped, name)
			continue
		}

		content, err := readCompactJSON(filepath.Join(dir, name))
		if err != nil {
			utils.LogWarning("Ignorando credencial %s: %v", name, err)
			skipped = append(skipped, name)
			continue
		}

		if category == "" {
			state.Creds = content
		} else {
			if state.Keys == nil {
				state.Keys = map[string]map[string]json.RawMessage{}
			}
			if state.Keys[category] == nil {
				state.Keys[category] = map[string]json.RawMessage{}
			}
			state.Keys[category][id] = content
		}
		files++
	}
	return state, files, skipped, nil
}

// classifyLegacyFile devolve categoria vazia para creds.json.
func classifyLegacyFile(name string) (category, id string, ok bool) {
	if name == legacyCredsFile {
		return "", "", true
	}
	base := strings.TrimSuffix(name, ".json")
	for _, p := range legacyKeyPrefixes {
		if strings.HasPrefix(base, p.prefix) {
			id = strings.TrimPrefix(base, p.prefix)
			if id == "" {
				return "", "", false
			}
			return p.category, id, true
		}
	}
	return "", "", false
}

func readCompactJSON(path string) (json.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}
