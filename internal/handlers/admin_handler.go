package handlers

import (
	"net/http"

	"whatsapp-hub/internal/models"

	"github.com/gorilla/mux"
)

// @Summary Lista respostas rápidas
// @Tags quick-replies
// @Param company_id query string true "ID da empresa"
// @Param category query string false "Categoria"
// @Param search query string false "Busca"
// @Success 200 {object} models.APIResponse
// @Router /quick-replies [get]
func (h *HTTPHandler) ListQuickReplies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	replies, err := h.quickReplies.List(r.Context(), q.Get("company_id"), q.Get("category"), q.Get("search"))
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Respostas rápidas encontradas", replies))
}

// @Summary Cria resposta rápida
// @Tags quick-replies
// @Accept json
// @Param request body models.QuickReplyRequest true "Modelo"
// @Success 201 {object} models.APIResponse
// @Router /quick-replies [post]
func (h *HTTPHandler) CreateQuickReply(w http.ResponseWriter, r *http.Request) {
	var req models.QuickReplyRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	reply, err := h.quickReplies.Create(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusCreated, models.NewSuccessResponse("Resposta rápida criada", reply))
}

// @Summary Atualiza resposta rápida
// @Tags quick-replies
// @Accept json
// @Param id path string true "ID"
// @Param request body models.QuickReplyRequest true "Campos"
// @Success 200 {object} models.APIResponse
// @Router /quick-replies/{id} [put]
func (h *HTTPHandler) UpdateQuickReply(w http.ResponseWriter, r *http.Request) {
	var req models.QuickReplyRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	reply, err := h.quickReplies.Update(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Resposta rápida atualizada", reply))
}

// @Summary Remove resposta rápida
// @Tags quick-replies
// @Param id path string true "ID"
// @Success 200 {object} models.APIResponse
// @Router /quick-replies/{id} [delete]
func (h *HTTPHandler) DeleteQuickReply(w http.ResponseWriter, r *http.Request) {
	if err := h.quickReplies.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Resposta rápida removida", nil))
}

// @Summary Envia resposta rápida com substituição de variáveis
// @Tags quick-replies
// @Accept json
// @Param id path string true "ID"
// @Param request body models.SendQuickReplyRequest true "Destino e variáveis"
// @Success 200 {object} models.APIResponse
// @Router /quick-replies/{id}/send [post]
func (h *HTTPHandler) SendQuickReply(w http.ResponseWriter, r *http.Request) {
	var req models.SendQuickReplyRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	message, err := h.quickReplies.Send(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Resposta rápida enviada", message))
}

// @Summary Configurações da empresa
// @Tags settings
// @Param company_id query string true "ID da empresa"
// @Success 200 {object} models.APIResponse
// @Router /settings [get]
func (h *HTTPHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context(), r.URL.Query().Get("company_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Configurações", settings))
}

// @Summary Atualiza configurações
// @Tags settings
// @Accept json
// @Param company_id query string true "ID da empresa"
// @Param request body models.UpdateSettingsRequest true "Campos"
// @Success 200 {object} models.APIResponse
// @Router /settings [put]
func (h *HTTPHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	settings, err := h.settings.Update(r.Context(), r.URL.Query().Get("company_id"), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Configurações atualizadas", settings))
}

// @Summary Estatísticas de mensagens
// @Tags stats
// @Param company_id query string true "ID da empresa"
// @Param session_id query string false "Sessão"
// @Param from query string false "Início (RFC3339 ou AAAA-MM-DD)"
// @Param to query string false "Fim (RFC3339 ou AAAA-MM-DD)"
// @Success 200 {object} models.APIResponse
// @Router /stats [get]
func (h *HTTPHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		fail(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		fail(w, r, err)
		return
	}
	q := r.URL.Query()
	stats, err := h.stats.Compute(r.Context(), q.Get("company_id"), q.Get("session_id"), from, to)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Estatísticas", stats))
}

// @Summary Migra credenciais antigas de uma sessão
// @Tags migrations
// @Param id path string true "ID da sessão"
// @Success 200 {object} models.APIResponse
// @Router /migrations/auth/sessions/{id} [post]
func (h *HTTPHandler) MigrateSession(w http.ResponseWriter, r *http.Request) {
	result, err := h.migration.MigrateSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Migração concluída", result))
}

// @Summary Migra credenciais antigas de todas as sessões da empresa
// @Tags migrations
// @Param companyID path string true "ID da empresa"
// @Success 200 {object} models.APIResponse
// @Router /migrations/auth/companies/{companyID} [post]
func (h *HTTPHandler) MigrateCompany(w http.ResponseWriter, r *http.Request) {
	results, err := h.migration.MigrateCompany(r.Context(), mux.Vars(r)["companyID"])
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Migração concluída", results))
}
