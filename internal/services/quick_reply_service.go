package services

import (
	"context"
	"fmt"
	"strings"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/repositories"
	"whatsapp-hub/internal/utils"
)

type QuickReplyService struct {
	store  *repositories.Store
	router *MessageRouter
}

func NewQuickReplyService(store *repositories.Store, router *MessageRouter) *QuickReplyService {
	return &QuickReplyService{store: store, router: router}
}

func (s *QuickReplyService) List(ctx context.Context, companyID, category, search string) ([]models.QuickReply, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: company_id is required", models.ErrInvalidPayload)
	}
	return s.store.QuickReplies.List(ctx, companyID, category, search)
}

func (s *QuickReplyService) Create(ctx context.Context, req models.QuickReplyRequest) (*models.QuickReply, error) {
	if req.CompanyID == "" || strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Body) == "" {
		return nil, fmt.Errorf("%w: company_id, title and body are required", models.ErrInvalidPayload)
	}
	reply := &models.QuickReply{
		ID:        utils.NewID("qr_"),
		CompanyID: req.CompanyID,
		Title:     strings.TrimSpace(req.Title),
		Shortcut:  req.Shortcut,
		Body:      req.Body,
		Category:  req.Category,
	}
	if err := s.store.QuickReplies.Create(ctx, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *QuickReplyService) Update(ctx context.Context, id string, req models.QuickReplyRequest) (*models.QuickReply, error) {
	fields := map[string]interface{}{}
	if t := strings.TrimSpace(req.Title); t != "" {
		fields["title"] = t
	}
	if strings.TrimSpace(req.Body) != "" {
		fields["body"] = req.Body
	}
	if req.Shortcut != nil {
		fields["shortcut"] = utils.NullString(*req.Shortcut)
	}
	if req.Category != nil {
		fields["category"] = utils.NullString(*req.Category)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", models.ErrInvalidPayload)
	}
	if err := s.store.QuickReplies.Update(ctx, id, fields); err != nil {
		return nil, err
	}
	return s.store.QuickReplies.GetByID(ctx, id)
}

func (s *QuickReplyService) Delete(ctx context.Context, id string) error {
	return s.store.QuickReplies.Delete(ctx, id)
}

// Send renderiza o modelo e envia como texto. {nome} e {telefone} vêm do
// contato quando não informados; o contador de uso sobe só se o envio der certo.
func (s *QuickReplyService) Send(ctx context.Context, id string, req models.SendQuickReplyRequest) (*models.Message, error) {
	reply, err := s.store.QuickReplies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	session, err := s.store.Sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.CompanyID != reply.CompanyID {
		return nil, fmt.Errorf("%w: quick reply %s", models.ErrNotFound, id)
	}
	remote, err := utils.NormalizeRemoteJID(req.To)
	if err != nil {
		return nil, fmt.Errorf("%w: to: %v", models.ErrInvalidPayload, err)
	}

	vars := map[string]string{"telefone": utils.PhoneFromJID(remote)}
	if contact, err := s.store.Contacts.GetBySessionRemote(ctx, session.ID, remote); err == nil {
		vars["nome"] = contact.DisplayName()
	}
	for k, v := range req.Variables {
		vars[k] = v
	}

	return s.router.Send(ctx, models.SendMessageRequest{
		SessionID:    session.ID,
		To:           remote,
		Payload:      models.OutboundPayload{Kind: models.KindText, Text: utils.RenderTemplate(reply.Body, vars)},
		QuickReplyID: reply.ID,
	})
}
