package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/repositories"
	"whatsapp-hub/internal/services"
	"whatsapp-hub/internal/utils"
	"whatsapp-hub/internal/wsnotify"

	"github.com/gorilla/mux"
)

// HTTPHandler reúne os serviços expostos pela API.
type HTTPHandler struct {
	sessions     *services.ConnectionManager
	router       *services.MessageRouter
	contacts     *services.ContactService
	quickReplies *services.QuickReplyService
	settings     *services.SettingsService
	stats        *services.StatsService
	migration    *services.MigrationService
	store        *repositories.Store
	hub          *wsnotify.Hub
}

type Dependencies struct {
	Sessions     *services.ConnectionManager
	Router       *services.MessageRouter
	Contacts     *services.ContactService
	QuickReplies *services.QuickReplyService
	Settings     *services.SettingsService
	Stats        *services.StatsService
	Migration    *services.MigrationService
	Store        *repositories.Store
	Hub          *wsnotify.Hub
}

func NewHTTPHandler(deps Dependencies) *HTTPHandler {
	return &HTTPHandler{
		sessions:     deps.Sessions,
		router:       deps.Router,
		contacts:     deps.Contacts,
		quickReplies: deps.QuickReplies,
		settings:     deps.Settings,
		stats:        deps.Stats,
		migration:    deps.Migration,
		store:        deps.Store,
		hub:          deps.Hub,
	}
}

// Register monta as rotas no subrouter /api/v1.
func (h *HTTPHandler) Register(r *mux.Router) {
	// Sessões
	r.HandleFunc("/sessions", h.CreateSession).Methods("POST", "OPTIONS")
	r.HandleFunc("/sessions", h.ListSessions).Methods("GET", "OPTIONS")
	r.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET", "OPTIONS")
	r.HandleFunc("/sessions/{id}", h.UpdateSession).Methods("PUT", "OPTIONS")
	r.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE", "OPTIONS")
	r.HandleFunc("/sessions/{id}/connect", h.ConnectSession).Methods("POST", "OPTIONS")
	r.HandleFunc("/sessions/{id}/disconnect", h.DisconnectSession).Methods("POST", "OPTIONS")
	r.HandleFunc("/sessions/{id}/logout", h.LogoutSession).Methods("POST", "OPTIONS")
	r.HandleFunc("/sessions/{id}/qrcode", h.GetQRCode).Methods("GET", "OPTIONS")

	// Conversas
	r.HandleFunc("/conversations", h.ListConversations).Methods("GET", "OPTIONS")
	r.HandleFunc("/conversations/{id}", h.UpdateConversation).Methods("PUT", "OPTIONS")
	r.HandleFunc("/conversations/{id}", h.DeleteConversation).Methods("DELETE", "OPTIONS")
	r.HandleFunc("/conversations/{id}/archive", h.ArchiveConversation).Methods("POST", "OPTIONS")
	r.HandleFunc("/conversations/{id}/pin", h.PinConversation).Methods("POST", "OPTIONS")
	r.HandleFunc("/conversations/{id}/mute", h.MuteConversation).Methods("POST", "OPTIONS")
	r.HandleFunc("/conversations/{id}/mark-read", h.MarkConversationRead).Methods("POST", "OPTIONS")
	r.HandleFunc("/conversations/{id}/mark-unread", h.MarkConversationUnread).Methods("POST", "OPTIONS")
	r.HandleFunc("/conversations/{id}/clear", h.ClearConversation).Methods("POST", "OPTIONS")
	r.HandleFunc("/conversations/{id}/active", h.SetActiveConversation).Methods("POST", "OPTIONS")
	r.HandleFunc("/conversations/{id}/messages", h.ListMessages).Methods("GET", "OPTIONS")

	// Mensagens
	r.HandleFunc("/messages/send", h.SendMessage).Methods("POST", "OPTIONS")
	r.HandleFunc("/messages/typing", h.SendTyping).Methods("POST", "OPTIONS")
	r.HandleFunc("/messages/{id}", h.EditMessage).Methods("PUT", "OPTIONS")
	r.HandleFunc("/messages/{id}", h.DeleteMessage).Methods("DELETE", "OPTIONS")
	r.HandleFunc("/messages/{id}/forward", h.ForwardMessage).Methods("POST", "OPTIONS")

	// Respostas rápidas
	r.HandleFunc("/quick-replies", h.ListQuickReplies).Methods("GET", "OPTIONS")
	r.HandleFunc("/quick-replies", h.CreateQuickReply).Methods("POST", "OPTIONS")
	r.HandleFunc("/quick-replies/{id}", h.UpdateQuickReply).Methods("PUT", "OPTIONS")
	r.HandleFunc("/quick-replies/{id}", h.DeleteQuickReply).Methods("DELETE", "OPTIONS")
	r.HandleFunc("/quick-replies/{id}/send", h.SendQuickReply).Methods("POST", "OPTIONS")

	r.HandleFunc("/settings", h.GetSettings).Methods("GET", "OPTIONS")
	r.HandleFunc("/settings", h.UpdateSettings).Methods("PUT", "OPTIONS")
	r.HandleFunc("/stats", h.GetStats).Methods("GET", "OPTIONS")

	r.HandleFunc("/migrations/auth/sessions/{id}", h.MigrateSession).Methods("POST", "OPTIONS")
	r.HandleFunc("/migrations/auth/companies/{companyID}", h.MigrateCompany).Methods("POST", "OPTIONS")

	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.HandleFunc("/readyz", h.Readyz).Methods("GET")

	// Rota WebSocket
	r.HandleFunc("/ws", h.WebSocket)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: erro ao decodificar requisição: %v", models.ErrInvalidPayload, err)
	}
	return nil
}

func pathUint(r *http.Request, key string) (uint, error) {
	raw := mux.Vars(r)[key]
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: %s inválido: %q", models.ErrInvalidPayload, key, raw)
	}
	return uint(v), nil
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s deve ser RFC3339 ou AAAA-MM-DD", models.ErrInvalidPayload, key)
}

// fail registra o erro da rota e responde com o status do tipo de erro.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	utils.LogError("Erro em %s %s: %v", r.Method, r.URL.Path, err)
	models.RespondWithError(w, err)
}

// @Summary Liveness
// @Tags ops
// @Produce json
// @Success 200 {object} models.APIResponse
// @Router /healthz [get]
func (h *HTTPHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("ok", nil))
}

// @Summary Readiness (ping no banco)
// @Tags ops
// @Produce json
// @Success 200 {object} models.APIResponse
// @Failure 503 {object} models.APIResponse
// @Router /readyz [get]
func (h *HTTPHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		utils.LogError("Banco indisponível no /readyz: %v", err)
		models.RespondWithJSON(w, http.StatusServiceUnavailable, models.NewErrorResponse("banco indisponível"))
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("ready", nil))
}
