package handlers

import (
	"context"
	"net/http"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/utils"
)

// @Summary Lista conversas
// @Description Fixadas primeiro, depois pela última mensagem
// @Tags conversations
// @Produce json
// @Param company_id query string true "ID da empresa"
// @Param session_id query string false "Filtra por sessão"
// @Param search query string false "Busca por nome ou número"
// @Param category query string false "Categoria"
// @Param archived query bool false "Arquivadas"
// @Param page query int false "Página" default(1)
// @Param limit query int false "Itens por página" default(20)
// @Success 200 {object} models.APIResponse
// @Router /conversations [get]
func (h *HTTPHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ConversationFilter{
		CompanyID: q.Get("company_id"),
		SessionID: q.Get("session_id"),
		Search:    q.Get("search"),
		Category:  q.Get("category"),
		Archived:  utils.QueryBool(r, "archived"),
		Page:      utils.QueryInt(r, "page", 1),
		Limit:     utils.QueryInt(r, "limit", 20),
	}
	conversations, total, err := h.contacts.ListConversations(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Conversas encontradas", map[string]interface{}{
		"items": conversations,
		"total": total,
	}))
}

// @Summary Atualiza dados do contato
// @Tags conversations
// @Accept json
// @Param id path int true "ID do contato"
// @Param request body models.UpdateContactRequest true "Campos"
// @Success 200 {object} models.APIResponse
// @Router /conversations/{id} [put]
func (h *HTTPHandler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req models.UpdateContactRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	contact, err := h.contacts.UpdateContact(r.Context(), id, req)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Contato atualizado", contact))
}

// @Summary Remove o contato e suas mensagens
// @Tags conversations
// @Param id path int true "ID do contato"
// @Success 200 {object} models.APIResponse
// @Router /conversations/{id} [delete]
func (h *HTTPHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	h.contactAction(w, r, "Conversa removida", h.contacts.DeleteContact)
}

// @Summary Limpa as mensagens da conversa
// @Tags conversations
// @Param id path int true "ID do contato"
// @Success 200 {object} models.APIResponse
// @Router /conversations/{id}/clear [post]
func (h *HTTPHandler) ClearConversation(w http.ResponseWriter, r *http.Request) {
	h.contactAction(w, r, "Conversa limpa", h.contacts.ClearChat)
}

// @Summary Marca como lida
// @Tags conversations
// @Param id path int true "ID do contato"
// @Success 200 {object} models.APIResponse
// @Router /conversations/{id}/mark-read [post]
func (h *HTTPHandler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	h.contactAction(w, r, "Conversa marcada como lida", h.contacts.MarkRead)
}

// @Summary Marca como não lida
// @Tags conversations
// @Param id path int true "ID do contato"
// @Success 200 {object} models.APIResponse
// @Router /conversations/{id}/mark-unread [post]
func (h *HTTPHandler) MarkConversationUnread(w http.ResponseWriter, r *http.Request) {
	h.contactAction(w, r, "Conversa marcada como não lida", h.contacts.MarkUnread)
}

// @Summary Arquiva ou desarquiva
// @Tags conversations
// @Accept json
// @Param id path int true "ID do contato"
// @Param request body models.ToggleRequest true "Valor"
// @Success 200 {object} models.APIResponse
// @Router /conversations/{id}/archive [post]
func (h *HTTPHandler) ArchiveConversation(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "Conversa atualizada", h.contacts.Archive)
}

// @Summary Fixa ou desafixa
// @Tags conversations
// @Accept json
// @Param id path int true "ID do contato"
// @Param request body models.ToggleRequest true "Valor"
// @Success 200 {object} models.APIResponse
// @Router /conversations/{id}/pin [post]
func (h *HTTPHandler) PinConversation(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "Conversa atualizada", h.contacts.Pin)
}

// @Summary Silencia ou reativa
// @Tags conversations
// @Accept json
// @Param id path int true "ID do contato"
// @Param request body models.ToggleRequest true "Valor"
// @Success 200 {object} models.APIResponse
// @Router /conversations/{id}/mute [post]
func (h *HTTPHandler) MuteConversation(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "Conversa atualizada", h.contacts.Mute)
}

// @Summary Indica que a conversa está aberta na tela
// @Description Enquanto ativa, mensagens recebidas não contam como não lidas
// @Tags conversations
// @Accept json
// @Param id path int true "ID do contato"
// @Param request body models.ActiveThreadRequest true "Ativa"
// @Success 200 {object} models.APIResponse
// @Router /conversations/{id}/active [post]
func (h *HTTPHandler) SetActiveConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req models.ActiveThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.contacts.SetActiveByContact(r.Context(), id, req.Active); err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Conversa atualizada", nil))
}

func (h *HTTPHandler) contactAction(w http.ResponseWriter, r *http.Request, message string, action func(ctx context.Context, id uint) error) {
	id, err := pathUint(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := action(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse(message, nil))
}

func (h *HTTPHandler) toggle(w http.ResponseWriter, r *http.Request, message string, action func(ctx context.Context, id uint, value bool) error) {
	id, err := pathUint(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req models.ToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if err := action(r.Context(), id, req.Value); err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse(message, map[string]bool{"value": req.Value}))
}
