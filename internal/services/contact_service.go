package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/observability"
	"whatsapp-hub/internal/repositories"
	"whatsapp-hub/internal/utils"

	"gorm.io/datatypes"
)

const mirrorBatch = 50

type threadKey struct {
	sessionID string
	remoteJID string
}

// ContactService reconcilia contatos e conversas com o tráfego de mensagens.
type ContactService struct {
	store         *repositories.Store
	registry      *Registry
	activeTTL     time.Duration
	mirrorTimeout time.Duration

	mu     sync.Mutex
	active map[threadKey]time.Time
	now    func() time.Time
}

func NewContactService(store *repositories.Store, registry *Registry, activeTTL, mirrorTimeout time.Duration) *ContactService {
	return &ContactService{
		store:         store,
		registry:      registry,
		activeTTL:     activeTTL,
		mirrorTimeout: mirrorTimeout,
		active:        make(map[threadKey]time.Time),
		now:           time.Now,
	}
}

// EnsureContact devolve o contato da conversa, criando-o se necessário.
func (s *ContactService) EnsureContact(ctx context.Context, sessionID, remoteJID string) (*models.Contact, error) {
	session, err := s.store.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	remote, err := utils.NormalizeRemoteJID(remoteJID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}
	contact, _, err := s.store.Contacts.Ensure(ctx, repositories.ContactSeed{
		SessionID: sessionID,
		CompanyID: session.CompanyID,
		RemoteJID: remote,
		IsGroup:   utils.IsGroupJID(remote),
	})
	return contact, err
}

// OnInbound roda dentro da transação do roteador.
func (s *ContactService) OnInbound(ctx context.Context, tx *repositories.Store, contact *models.Contact, at time.Time) error {
	countUnread := !s.IsActive(contact.SessionID, contact.RemoteJID)
	return tx.Contacts.RecordInbound(ctx, contact.ID, at, countUnread)
}

func (s *ContactService) OnOutbound(ctx context.Context, tx *repositories.Store, contact *models.Contact, at time.Time) error {
	return tx.Contacts.RecordOutbound(ctx, contact.ID, at)
}

// SetActiveThread marca a conversa como aberta em alguma tela; a marca expira após o TTL.
func (s *ContactService) SetActiveThread(sessionID, remoteJID string, active bool) {
	key := threadKey{sessionID: sessionID, remoteJID: remoteJID}
	if remote, err := utils.NormalizeRemoteJID(remoteJID); err == nil {
		key.remoteJID = remote
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if active {
		s.active[key] = s.now().Add(s.activeTTL)
	} else {
		delete(s.active, key)
	}
}

func (s *ContactService) IsActive(sessionID, remoteJID string) bool {
	key := threadKey{sessionID: sessionID, remoteJID: remoteJID}
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.active[key]
	if !ok {
		return false
	}
	if s.now().After(expires) {
		delete(s.active, key)
		return false
	}
	return true
}

// SetActiveByContact resolve a conversa pelo id do contato.
func (s *ContactService) SetActiveByContact(ctx context.Context, contactID uint, active bool) error {
	contact, err := s.store.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return err
	}
	s.SetActiveThread(contact.SessionID, contact.RemoteJID, active)
	return nil
}

func (s *ContactService) Archive(ctx context.Context, contactID uint, value bool) error {
	return s.store.Contacts.SetFlag(ctx, contactID, "is_archived", value)
}

func (s *ContactService) Pin(ctx context.Context, contactID uint, value bool) error {
	return s.store.Contacts.SetFlag(ctx, contactID, "is_pinned", value)
}

func (s *ContactService) Mute(ctx context.Context, contactID uint, value bool) error {
	return s.store.Contacts.SetFlag(ctx, contactID, "is_muted", value)
}

func (s *ContactService) MarkUnread(ctx context.Context, contactID uint) error {
	return s.store.Contacts.MarkUnread(ctx, contactID)
}

// MarkRead zera as não lidas e, no melhor esforço, envia o recibo de leitura ao transporte.
func (s *ContactService) MarkRead(ctx context.Context, contactID uint) error {
	contact, err := s.store.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return err
	}
	if err := s.store.Contacts.ResetUnread(ctx, contactID); err != nil {
		return err
	}

	conn, ok := s.registry.Connection(contact.SessionID)
	if !ok {
		return nil
	}
	inbound, err := s.store.Messages.RecentByDirection(ctx, contactID, false, mirrorBatch)
	if err != nil {
		utils.LogWarning("Erro ao buscar mensagens para recibo de leitura do contato %d: %v", contactID, err)
		return nil
	}

	bySender := map[string][]string{}
	for _, m := range inbound {
		sender := m.SenderJID
		if sender == "" {
			sender = contact.RemoteJID
		}
		bySender[sender] = append(bySender[sender], m.ProtocolID)
	}
	mctx, cancel := context.WithTimeout(ctx, s.mirrorTimeout)
	defer cancel()
	for sender, ids := range bySender {
		if err := conn.MarkRead(mctx, contact.RemoteJID, sender, ids); err != nil {
			observability.TransportFailures.WithLabelValues("mark_read").Inc()
			utils.LogWarning("Erro ao enviar recibo de leitura para %s: %v", contact.RemoteJID, err)
		}
	}
	return nil
}

// ListConversations lista as conversas com a última mensagem de cada uma.
// Falha ao buscar a última mensagem não derruba a listagem.
func (s *ContactService) ListConversations(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, int64, error) {
	offset, limit := utils.Paginate(filter.Page, filter.Limit, 20, 100)
	contacts, total, err := s.store.Contacts.List(ctx, filter, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	out := make([]models.Conversation, 0, len(contacts))
	for _, c := range contacts {
		conv := models.Conversation{Contact: c}
		last, err := s.store.Messages.Latest(ctx, c.ID)
		switch {
		case err == nil:
			conv.LastMessage = last
		case errors.Is(err, models.ErrNotFound):
		default:
			utils.LogWarning("Erro ao buscar última mensagem do contato %d: %v", c.ID, err)
		}
		out = append(out, conv)
	}
	return out, total, nil
}

func (s *ContactService) UpdateContact(ctx context.Context, contactID uint, req models.UpdateContactRequest) (*models.Contact, error) {
	fields := map[string]interface{}{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Category != nil {
		fields["category"] = utils.NullString(*req.Category)
	}
	if req.CustomerID != nil {
		fields["customer_id"] = utils.NullString(*req.CustomerID)
	}
	if req.Tags != nil {
		raw, err := json.Marshal(req.Tags)
		if err != nil {
			return nil, fmt.Errorf("%w: tags: %v", models.ErrInvalidPayload, err)
		}
		fields["tags"] = datatypes.JSON(raw)
	}
	if err := s.store.Contacts.Update(ctx, contactID, fields); err != nil {
		return nil, err
	}
	return s.store.Contacts.GetByID(ctx, contactID)
}

// ClearChat apaga as mensagens mantendo o contato.
func (s *ContactService) ClearChat(ctx context.Context, contactID uint) error {
	contact, err := s.store.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return err
	}
	own := s.ownProtocolIDs(ctx, contactID)
	if err := s.store.Contacts.Clear(ctx, contactID); err != nil {
		return err
	}
	s.mirrorRevoke(ctx, contact, own)
	return nil
}

func (s *ContactService) DeleteContact(ctx context.Context, contactID uint) error {
	contact, err := s.store.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return err
	}
	own := s.ownProtocolIDs(ctx, contactID)
	if err := s.store.Contacts.Delete(ctx, contactID); err != nil {
		return err
	}
	s.mirrorRevoke(ctx, contact, own)
	return nil
}

func (s *ContactService) ownProtocolIDs(ctx context.Context, contactID uint) []string {
	sent, err := s.store.Messages.RecentByDirection(ctx, contactID, true, mirrorBatch)
	if err != nil {
		utils.LogWarning("Erro ao buscar mensagens enviadas do contato %d: %v", contactID, err)
		return nil
	}
	ids := make([]string, 0, len(sent))
	for _, m := range sent {
		ids = append(ids, m.ProtocolID)
	}
	return ids
}

// mirrorRevoke apaga para todos as mensagens enviadas pela conta; falhas só são registradas.
func (s *ContactService) mirrorRevoke(ctx context.Context, contact *models.Contact, protocolIDs []string) {
	if len(protocolIDs) == 0 {
		return
	}
	conn, ok := s.registry.Connection(contact.SessionID)
	if !ok {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, s.mirrorTimeout)
	defer cancel()
	for _, id := range protocolIDs {
		if err := conn.Revoke(mctx, contact.RemoteJID, id); err != nil {
			observability.TransportFailures.WithLabelValues("revoke").Inc()
			utils.LogWarning("Erro ao revogar mensagem %s em %s: %v", id, contact.RemoteJID, err)
			if mctx.Err() != nil {
				return
			}
		}
	}
}
