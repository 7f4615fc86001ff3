package handlers

import (
	"net/http"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/utils"
)

// @Summary Mensagens da conversa
// @Tags messages
// @Produce json
// @Param id path int true "ID do contato"
// @Param page query int false "Página" default(1)
// @Param limit query int false "Itens por página" default(50)
// @Success 200 {object} models.APIResponse
// @Router /conversations/{id}/messages [get]
func (h *HTTPHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	messages, total, err := h.router.ListMessages(r.Context(), id, utils.QueryInt(r, "page", 1), utils.QueryInt(r, "limit", 50))
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Mensagens encontradas", map[string]interface{}{
		"items": messages,
		"total": total,
	}))
}

// @Summary Envia uma mensagem
// @Description payload.kind: text, image, video, audio, document, location, reaction, poll, list, buttons, product
// @Tags messages
// @Accept json
// @Produce json
// @Param request body models.SendMessageRequest true "Mensagem"
// @Success 200 {object} models.APIResponse
// @Failure 400 {object} models.APIResponse
// @Failure 409 {object} models.APIResponse
// @Failure 502 {object} models.APIResponse
// @Router /messages/send [post]
func (h *HTTPHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	message, err := h.router.Send(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Mensagem enviada com sucesso", message))
}

// @Summary Edita o texto de uma mensagem enviada
// @Tags messages
// @Accept json
// @Param id path int true "ID da mensagem"
// @Param request body models.EditMessageRequest true "Novo texto"
// @Success 200 {object} models.APIResponse
// @Router /messages/{id} [put]
func (h *HTTPHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req models.EditMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	message, err := h.router.EditMessage(r.Context(), id, req.Text)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Mensagem editada", message))
}

// @Summary Apaga uma mensagem
// @Tags messages
// @Param id path int true "ID da mensagem"
// @Success 200 {object} models.APIResponse
// @Router /messages/{id} [delete]
func (h *HTTPHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.router.DeleteMessage(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Mensagem apagada", nil))
}

// @Summary Encaminha uma mensagem
// @Tags messages
// @Accept json
// @Param id path int true "ID da mensagem"
// @Param request body models.ForwardMessageRequest true "Destino"
// @Success 200 {object} models.APIResponse
// @Router /messages/{id}/forward [post]
func (h *HTTPHandler) ForwardMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req models.ForwardMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	message, err := h.router.ForwardMessage(r.Context(), id, req)
	if err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Mensagem encaminhada", message))
}

// @Summary Envia o estado "digitando"
// @Tags messages
// @Accept json
// @Param request body models.TypingRequest true "Destino"
// @Success 200 {object} models.APIResponse
// @Router /messages/typing [post]
func (h *HTTPHandler) SendTyping(w http.ResponseWriter, r *http.Request) {
	var req models.TypingRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.router.SendTyping(r.Context(), req); err != nil {
		fail(w, r, err)
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Status de digitação enviado", nil))
}
