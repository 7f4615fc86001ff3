package handlers

import (
	"fmt"
	"net/http"

	"whatsapp-hub/internal/models"

	"github.com/gorilla/mux"
)

// @Summary Cria uma sessão
// @Description Cria a sessão da empresa e, com connect=true, inicia a conexão
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body models.CreateSessionRequest true "Dados da sessão"
// @Success 201 {object} models.APIResponse
// @Failure 400 {object} models.APIResponse
// @Failure 409 {object} models.APIResponse
// @Router /sessions [post]
func (h *HTTPHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	session, err := h.sessions.CreateSession(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusCreated, models.NewSuccessResponse("Sessão criada com sucesso", session))
}

// @Summary Lista as sessões da empresa
// @Tags sessions
// @Produce json
// @Param company_id query string true "ID da empresa"
// @Success 200 {object} models.APIResponse
// @Router /sessions [get]
func (h *HTTPHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		fail(w, r, fmt.Errorf("%w: company_id é obrigatório", models.ErrInvalidPayload))
		return
	}
	sessions, err := h.sessions.ListSessions(r.Context(), companyID)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Sessões encontradas", sessions))
}

// @Summary Detalha uma sessão
// @Tags sessions
// @Produce json
// @Param id path string true "ID da sessão"
// @Success 200 {object} models.APIResponse
// @Failure 404 {object} models.APIResponse
// @Router /sessions/{id} [get]
func (h *HTTPHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Sessão encontrada", session))
}

// @Summary Atualiza nome, flags de IA e sessão padrão
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "ID da sessão"
// @Param request body models.UpdateSessionRequest true "Campos a alterar"
// @Success 200 {object} models.APIResponse
// @Router /sessions/{id} [put]
func (h *HTTPHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	session, err := h.sessions.UpdateSession(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Sessão atualizada", session))
}

// @Summary Remove a sessão, encerrando a conexão antes
// @Tags sessions
// @Param id path string true "ID da sessão"
// @Success 200 {object} models.APIResponse
// @Router /sessions/{id} [delete]
func (h *HTTPHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Sessão removida", nil))
}

// @Summary Conecta a sessão (idempotente)
// @Tags sessions
// @Param id path string true "ID da sessão"
// @Param company_id query string false "Empresa, obrigatória quando a sessão ainda não existe"
// @Success 200 {object} models.APIResponse
// @Failure 409 {object} models.APIResponse
// @Failure 502 {object} models.APIResponse
// @Router /sessions/{id}/connect [post]
func (h *HTTPHandler) ConnectSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.CreateOrConnect(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("company_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Conexão iniciada", session))
}

// @Summary Desconecta a sessão
// @Tags sessions
// @Param id path string true "ID da sessão"
// @Success 200 {object} models.APIResponse
// @Router /sessions/{id}/disconnect [post]
func (h *HTTPHandler) DisconnectSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Disconnect(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Sessão desconectada", session))
}

// @Summary Faz logout e descarta as credenciais
// @Tags sessions
// @Param id path string true "ID da sessão"
// @Success 200 {object} models.APIResponse
// @Router /sessions/{id}/logout [post]
func (h *HTTPHandler) LogoutSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), mux.Vars(r)["id"]); err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Logout realizado", nil))
}

// @Summary QR code atual da sessão
// @Description Inicia a conexão se necessário. Responde "waiting" enquanto o QR não foi gerado
// @Tags sessions
// @Produce json
// @Param id path string true "ID da sessão"
// @Success 200 {object} models.APIResponse
// @Router /sessions/{id}/qrcode [get]
func (h *HTTPHandler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	qr, status, err := h.sessions.GetQRCode(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}

	data := map[string]interface{}{"status": status}
	switch {
	case status == models.SessionConnected:
		models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Sessão já conectada", data))
	case qr == "":
		models.RespondWithJSON(w, http.StatusOK, models.NewWaitingResponse("Aguardando geração do QR code", data))
	default:
		data["qr_code"] = qr
		models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("QR code gerado", data))
	}
}
