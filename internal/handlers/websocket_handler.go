package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/utils"
	"whatsapp-hub/internal/wsnotify"
)

const (
	commandThreadOpen  = "thread.open"
	commandThreadClose = "thread.close"
)

// wsCommand é a mensagem enviada pelo cliente. A conversa pode ser indicada
// pelo id do contato ou pelo par sessão e JID remoto.
type wsCommand struct {
	Type      string `json:"type"`
	ContactID uint   `json:"contactId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	RemoteJID string `json:"remoteJid,omitempty"`
}

// @Summary Canal de eventos em tempo real da empresa
// @Tags realtime
// @Param company_id query string true "ID da empresa"
// @Router /ws [get]
func (h *HTTPHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("company_id é obrigatório"))
		return
	}
	conn, err := wsnotify.Upgrader().Upgrade(w, r, nil)
	if err != nil {
		utils.LogError("Erro ao abrir websocket: %v", err)
		return
	}

	client := h.hub.Attach(conn, companyID)
	defer h.hub.Detach(client)

	// Conversas abertas por este cliente são liberadas quando ele sai.
	opened := map[wsCommand]struct{}{}
	defer func() {
		for cmd := range opened {
			h.applyThread(context.Background(), cmd, false)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			utils.LogDebug("Comando websocket inválido do cliente %s: %v", client.ID, err)
			continue
		}
		key := wsCommand{ContactID: cmd.ContactID, SessionID: cmd.SessionID, RemoteJID: cmd.RemoteJID}
		switch cmd.Type {
		case commandThreadOpen:
			if h.applyThread(r.Context(), key, true) {
				opened[key] = struct{}{}
			}
		case commandThreadClose:
			h.applyThread(r.Context(), key, false)
			delete(opened, key)
		default:
			utils.LogDebug("Comando websocket desconhecido: %s", cmd.Type)
		}
	}
}

func (h *HTTPHandler) applyThread(ctx context.Context, cmd wsCommand, active bool) bool {
	if cmd.ContactID != 0 {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := h.contacts.SetActiveByContact(ctx, cmd.ContactID, active); err != nil {
			utils.LogWarning("Erro ao marcar conversa %d: %v", cmd.ContactID, err)
			return false
		}
		return true
	}
	if cmd.SessionID == "" || cmd.RemoteJID == "" {
		return false
	}
	h.contacts.SetActiveThread(cmd.SessionID, cmd.RemoteJID, active)
	return true
}
