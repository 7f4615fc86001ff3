package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-hub/config"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/observability"
	"whatsapp-hub/internal/repositories"
	"whatsapp-hub/internal/utils"
	"whatsapp-hub/internal/wsnotify"

	"gorm.io/datatypes"
)

const exportTimeout = 5 * time.Second

type downloadFunc func(ctx context.Context, url string, maxBytes int64) ([]byte, string, error)

// RouterOptions agrupa as dependências opcionais do roteador.
type RouterOptions struct {
	Media    MediaStore
	Exporter EventExporter
}

// MessageRouter envia mensagens pelo transporte e ingere as recebidas.
type MessageRouter struct {
	store         *repositories.Store
	registry      *Registry
	contacts      *ContactService
	settings      *SettingsService
	publisher     wsnotify.Publisher
	media         MediaStore
	exporter      EventExporter
	sendTimeout   time.Duration
	mirrorTimeout time.Duration
	download      downloadFunc
}

func NewMessageRouter(
	cfg config.SessionConfig,
	store *repositories.Store,
	registry *Registry,
	contacts *ContactService,
	settings *SettingsService,
	publisher wsnotify.Publisher,
	opts RouterOptions,
) *MessageRouter {
	return &MessageRouter{
		store:         store,
		registry:      registry,
		contacts:      contacts,
		settings:      settings,
		publisher:     publisher,
		media:         opts.Media,
		exporter:      opts.Exporter,
		sendTimeout:   cfg.SendTimeout,
		mirrorTimeout: cfg.MirrorTimeout,
		download:      utils.DownloadFromURL,
	}
}

func invalidPayload(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// Send valida, transmite e só então grava a mensagem. Falha de transporte
// não grava nada e não é repetida.
func (r *MessageRouter) Send(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	defer utils.TimeTrack(time.Now(), "MessageRouter.Send")

	payload := req.Payload
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	session, err := r.store.Sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	remote, err := utils.NormalizeRemoteJID(req.To)
	if err != nil {
		return nil, invalidPayload("to: %v", err)
	}

	media, err := r.resolveMedia(ctx, session.CompanyID, &payload)
	if err != nil {
		return nil, err
	}
	ref, err := r.resolveReference(ctx, session.ID, remote, &payload)
	if err != nil {
		return nil, err
	}

	receipt, err := r.transmit(ctx, session.ID, OutboundMessage{
		To:        remote,
		Payload:   &payload,
		Media:     media,
		Reference: ref,
	})
	if err != nil {
		utils.LogError("Falha ao enviar %s para %s pela sessão %s: %v", payload.Kind, remote, session.ID, err)
		return nil, err
	}

	message := &models.Message{
		SessionID:     session.ID,
		CompanyID:     session.CompanyID,
		RemoteJID:     remote,
		ProtocolID:    receipt.ProtocolID,
		FromMe:        true,
		Kind:          payload.Kind,
		Content:       utils.NullString(payload.Summary()),
		Status:        models.MessageSent,
		Timestamp:     receipt.Timestamp.UTC(),
		IsAIGenerated: req.IsAIGenerated,
		AIConfidence:  req.AIConfidence,
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	if payload.Kind == models.KindReaction {
		message.QuotedID = utils.NullString(payload.Reaction.MessageID)
	} else {
		message.QuotedID = utils.NullString(payload.QuotedID)
	}

	mediaURL := ""
	if media != nil {
		message.MimeType = utils.NullString(media.MimeType)
		message.FileName = utils.NullString(media.FileName)
		mediaURL = r.storeMedia(ctx, session.CompanyID, session.ID, payload.Kind, receipt.ProtocolID, media.MimeType, media.FileName, media.Data)
		if mediaURL == "" && payload.Media.URL != "" {
			mediaURL = payload.Media.URL
		}
		message.MediaURL = utils.NullString(mediaURL)
	}
	message.Payload = storedPayload(payload, mediaURL)

	contact, err := r.persist(ctx, message, "")
	if err != nil {
		utils.LogError("Mensagem %s enviada mas não gravada: %v", receipt.ProtocolID, err)
		return nil, err
	}

	if req.QuickReplyID != "" {
		if err := r.store.QuickReplies.IncrementUsage(ctx, req.QuickReplyID); err != nil {
			utils.LogWarning("Erro ao contar uso da resposta rápida %s: %v", req.QuickReplyID, err)
		}
	}

	observability.Messages.WithLabelValues("outbound", string(payload.Kind)).Inc()
	r.publisher.Publish(wsnotify.NewEvent(wsnotify.EventMessageSent, session.CompanyID, session.ID, map[string]interface{}{
		"message": message,
		"contact": contact,
	}))
	r.export(ctx, wsnotify.EventMessageSent, message)
	return message, nil
}

// storedPayload guarda o payload sem o conteúdo base64 da mídia.
func storedPayload(payload models.OutboundPayload, mediaURL string) datatypes.JSON {
	if payload.Media != nil {
		m := *payload.Media
		m.Base64 = ""
		if mediaURL != "" {
			m.URL = mediaURL
		}
		payload.Media = &m
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// resolveMedia carrega o conteúdo da mídia (base64 ou URL) aplicando o teto da empresa.
func (r *MessageRouter) resolveMedia(ctx context.Context, companyID string, payload *models.OutboundPayload) (*OutboundMedia, error) {
	if !payload.Kind.IsMedia() {
		return nil, nil
	}
	settings, err := r.settings.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	limit := settings.MediaLimitBytes(payload.Kind)
	m := payload.Media

	var (
		data        []byte
		contentType string
	)
	if m.Base64 != "" {
		raw := m.Base64
		if strings.HasPrefix(raw, "data:") {
			if i := strings.Index(raw, ","); i > 0 {
				contentType = strings.TrimSuffix(raw[len("data:"):i], ";base64")
				raw = raw[i+1:]
			}
		}
		data, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, invalidPayload("media: invalid base64: %v", err)
		}
		if limit > 0 && int64(len(data)) > limit {
			return nil, invalidPayload("media: %d bytes exceeds the %s limit of %d bytes", len(data), payload.Kind, limit)
		}
	} else {
		if !utils.IsURL(m.URL) {
			return nil, invalidPayload("media: invalid url %q", m.URL)
		}
		dctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
		data, contentType, err = r.download(dctx, m.URL, limit)
		cancel()
		if errors.Is(err, utils.ErrTooLarge) {
			return nil, invalidPayload("media: content exceeds the %s limit of %d bytes", payload.Kind, limit)
		}
		if err != nil {
			return nil, invalidPayload("media: could not fetch %s: %v", m.URL, err)
		}
	}
	if len(data) == 0 {
		return nil, invalidPayload("media: empty content")
	}

	declared := m.MimeType
	if declared == "" {
		declared = contentType
	}
	mimeType := utils.DetectMime(declared, data)
	fileName := m.FileName
	if fileName == "" && payload.Kind == models.KindDocument {
		fileName = "document." + utils.GetExtensionFromMime(mimeType)
	}
	return &OutboundMedia{Data: data, MimeType: mimeType, FileName: fileName}, nil
}

// resolveReference busca a mensagem citada ou reagida na conversa.
func (r *MessageRouter) resolveReference(ctx context.Context, sessionID, remote string, payload *models.OutboundPayload) (*MessageRef, error) {
	target := payload.QuotedID
	if payload.Kind == models.KindReaction {
		target = payload.Reaction.MessageID
	}
	if target == "" {
		return nil, nil
	}

	stored, err := r.store.Messages.GetByProtocolID(ctx, sessionID, remote, target)
	switch {
	case err == nil:
		return &MessageRef{
			ProtocolID: stored.ProtocolID,
			SenderJID:  stored.SenderJID,
			FromMe:     stored.FromMe,
			Content:    utils.StringValue(stored.Content),
		}, nil
	case errors.Is(err, models.ErrNotFound) && payload.Kind == models.KindReaction:
		return &MessageRef{ProtocolID: target, SenderJID: remote}, nil
	case errors.Is(err, models.ErrNotFound):
		return nil, invalidPayload("quoted message %s not found", target)
	default:
		return nil, err
	}
}

// transmit envia sob o lock da sessão, com limite de taxa, disjuntor e timeout.
func (r *MessageRouter) transmit(ctx context.Context, sessionID string, msg OutboundMessage) (SendReceipt, error) {
	unlock := r.registry.Lock(sessionID)
	defer unlock()

	conn, ok := r.registry.Connection(sessionID)
	if !ok {
		return SendReceipt{}, fmt.Errorf("%w: %s", models.ErrSessionNotConnected, sessionID)
	}
	limiter, breaker := r.registry.Throttle(sessionID)

	sctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	if err := limiter.Wait(sctx); err != nil {
		observability.TransportFailures.WithLabelValues("send").Inc()
		return SendReceipt{}, fmt.Errorf("%w: %w", models.ErrTransportFailure, err)
	}

	start := time.Now()
	res, err := breaker.Execute(func() (interface{}, error) {
		return conn.Send(sctx, msg)
	})
	observability.SendLatency.WithLabelValues(string(msg.Payload.Kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.TransportFailures.WithLabelValues("send").Inc()
		return SendReceipt{}, fmt.Errorf("%w: %w", models.ErrTransportFailure, err)
	}
	receipt := res.(SendReceipt)
	if receipt.ProtocolID == "" {
		observability.TransportFailures.WithLabelValues("send").Inc()
		return SendReceipt{}, fmt.Errorf("%w: transport returned no message id", models.ErrTransportFailure)
	}
	return receipt, nil
}

func (r *MessageRouter) storeMedia(ctx context.Context, companyID, sessionID string, kind models.MessageKind, protocolID, mimeType, fileName string, data []byte) string {
	if r.media == nil || len(data) == 0 {
		return ""
	}
	uctx, cancel := context.WithTimeout(ctx, r.mirrorTimeout)
	defer cancel()
	url, err := r.media.Upload(uctx, MediaKey(companyID, sessionID, kind, protocolID, mimeType, fileName), mimeType, data)
	if err != nil {
		utils.LogError("Erro ao guardar mídia da mensagem %s: %v", protocolID, err)
		return ""
	}
	return url
}

// persist grava a mensagem e reconcilia o contato numa única transação.
// Devolve (nil, nil) quando a mensagem já existia.
func (r *MessageRouter) persist(ctx context.Context, message *models.Message, pushName string) (*models.Contact, error) {
	var contact *models.Contact
	err := r.store.InTx(ctx, func(tx *repositories.Store) error {
		message.ID = 0
		contact = nil
		c, _, err := tx.Contacts.Ensure(ctx, repositories.ContactSeed{
			SessionID: message.SessionID,
			CompanyID: message.CompanyID,
			RemoteJID: message.RemoteJID,
			PushName:  pushName,
			IsGroup:   utils.IsGroupJID(message.RemoteJID),
			At:        message.Timestamp,
		})
		if err != nil {
			return err
		}
		message.ContactID = c.ID

		created, err := tx.Messages.Insert(ctx, message)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		contact = c
		if message.FromMe {
			return r.contacts.OnOutbound(ctx, tx, c, message.Timestamp)
		}
		return r.contacts.OnInbound(ctx, tx, c, message.Timestamp)
	})
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, nil
	}
	if fresh, err := r.store.Contacts.GetByID(ctx, contact.ID); err == nil {
		contact = fresh
	}
	return contact, nil
}

func (r *MessageRouter) companyOf(ctx context.Context, sessionID string) (string, error) {
	if snap, ok := r.registry.Snapshot(sessionID); ok && snap.CompanyID != "" {
		return snap.CompanyID, nil
	}
	session, err := r.store.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return session.CompanyID, nil
}

// HandleInbound ingere uma mensagem do transporte. Repetições do mesmo id
// de protocolo na conversa são ignoradas.
func (r *MessageRouter) HandleInbound(ctx context.Context, sessionID string, msg InboundMessage) error {
	if msg.IsStatusBroadcast || msg.RemoteJID == "status@broadcast" {
		return nil
	}
	remote, err := utils.NormalizeRemoteJID(msg.RemoteJID)
	if err != nil {
		return invalidPayload("remote jid: %v", err)
	}
	companyID, err := r.companyOf(ctx, sessionID)
	if err != nil {
		return err
	}

	exists, err := r.store.Messages.Exists(ctx, sessionID, remote, msg.ProtocolID)
	if err != nil {
		return err
	}
	if exists {
		observability.DuplicateMessages.Inc()
		utils.LogDebug("Mensagem %s já registrada na sessão %s", msg.ProtocolID, sessionID)
		return nil
	}

	ts := msg.Timestamp.UTC()
	if msg.Timestamp.IsZero() {
		ts = time.Now().UTC()
	}
	status := models.MessageDelivered
	if msg.FromMe {
		status = models.MessageSent
	}
	message := &models.Message{
		SessionID:  sessionID,
		CompanyID:  companyID,
		RemoteJID:  remote,
		ProtocolID: msg.ProtocolID,
		FromMe:     msg.FromMe,
		SenderJID:  msg.SenderJID,
		Kind:       msg.Kind,
		Content:    utils.NullString(msg.Content),
		MimeType:   utils.NullString(msg.MimeType),
		FileName:   utils.NullString(msg.FileName),
		QuotedID:   utils.NullString(msg.QuotedID),
		Status:     status,
		Timestamp:  ts,
	}
	if message.Kind == "" {
		message.Kind = models.KindText
	}

	if msg.FetchMedia != nil && r.media != nil {
		fctx, cancel := context.WithTimeout(ctx, r.mirrorTimeout)
		data, err := msg.FetchMedia(fctx)
		cancel()
		if err != nil {
			utils.LogError("Erro ao baixar mídia da mensagem %s: %v", msg.ProtocolID, err)
		} else {
			mimeType := utils.DetectMime(msg.MimeType, data)
			message.MimeType = utils.NullString(mimeType)
			message.MediaURL = utils.NullString(r.storeMedia(ctx, companyID, sessionID, message.Kind, msg.ProtocolID, mimeType, msg.FileName, data))
		}
	}

	pushName := msg.PushName
	if msg.FromMe || msg.IsGroup {
		pushName = ""
	}
	contact, err := r.persist(ctx, message, pushName)
	if err != nil {
		return err
	}
	if contact == nil {
		observability.DuplicateMessages.Inc()
		return nil
	}

	direction := "inbound"
	if msg.FromMe {
		direction = "outbound"
	}
	observability.Messages.WithLabelValues(direction, string(message.Kind)).Inc()

	r.publisher.Publish(wsnotify.NewEvent(wsnotify.EventMessageNew, companyID, sessionID, map[string]interface{}{
		"message": message,
		"contact": contact,
	}))
	if !msg.FromMe && !contact.IsMuted {
		if settings, err := r.settings.Get(ctx, companyID); err == nil && settings.NotifyNewMessage {
			r.publisher.Publish(wsnotify.NewEvent(wsnotify.EventNotification, companyID, sessionID, map[string]interface{}{
				"kind":      "message.new",
				"contactId": contact.ID,
				"from":      contact.DisplayName(),
				"preview":   utils.StringValue(message.Content),
			}))
		}
	}
	r.export(ctx, wsnotify.EventMessageNew, message)
	return nil
}

// ApplyReceipt avança o status das mensagens; regressões são ignoradas.
func (r *MessageRouter) ApplyReceipt(ctx context.Context, sessionID string, receipt Receipt) error {
	remote, err := utils.NormalizeRemoteJID(receipt.RemoteJID)
	if err != nil {
		return invalidPayload("remote jid: %v", err)
	}
	companyID, err := r.companyOf(ctx, sessionID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, id := range receipt.ProtocolIDs {
		updated, err := r.store.Messages.AdvanceStatus(ctx, sessionID, remote, id, receipt.Status)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if updated == nil {
			continue
		}
		r.publisher.Publish(wsnotify.NewEvent(wsnotify.EventMessageStatus, companyID, sessionID, map[string]interface{}{
			"messageId":  updated.ID,
			"protocolId": updated.ProtocolID,
			"contactId":  updated.ContactID,
			"status":     updated.Status,
		}))
	}
	return firstErr
}

func (r *MessageRouter) export(ctx context.Context, eventType string, message *models.Message) {
	if r.exporter == nil {
		return
	}
	ectx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()
	err := r.exporter.Export(ectx, ExportedEvent{
		Type:       eventType,
		CompanyID:  message.CompanyID,
		SessionID:  message.SessionID,
		ProtocolID: message.ProtocolID,
		Data:       message,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		utils.LogWarning("Erro ao exportar evento %s: %v", eventType, err)
	}
}

// ListMessages pagina as mensagens de uma conversa, mais recentes primeiro.
func (r *MessageRouter) ListMessages(ctx context.Context, contactID uint, page, limit int) ([]models.Message, int64, error) {
	if _, err := r.store.Contacts.GetByID(ctx, contactID); err != nil {
		return nil, 0, err
	}
	offset, size := utils.Paginate(page, limit, 50, 200)
	return r.store.Messages.ListByContact(ctx, contactID, offset, size)
}

// EditMessage altera o texto de uma mensagem enviada. A edição no transporte
// vem primeiro; se ela falhar nada muda localmente.
func (r *MessageRouter) EditMessage(ctx context.Context, messageID uint, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalidPayload("text: empty message")
	}
	message, err := r.store.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !message.FromMe || message.Kind != models.KindText {
		return nil, invalidPayload("only sent text messages can be edited")
	}

	if err := r.withConnection(ctx, message.SessionID, "edit", r.sendTimeout, func(ctx context.Context, conn Connection) error {
		return conn.Edit(ctx, message.RemoteJID, message.ProtocolID, text)
	}); err != nil {
		return nil, err
	}

	editedAt := time.Now().UTC()
	if err := r.store.Messages.UpdateContent(ctx, messageID, text, editedAt); err != nil {
		return nil, err
	}
	message.Content = &text
	message.EditedAt = &editedAt

	r.publisher.Publish(wsnotify.NewEvent(wsnotify.EventMessageStatus, message.CompanyID, message.SessionID, map[string]interface{}{
		"messageId":  message.ID,
		"protocolId": message.ProtocolID,
		"contactId":  message.ContactID,
		"status":     message.Status,
		"content":    text,
		"editedAt":   editedAt,
	}))
	return message, nil
}

func (r *MessageRouter) withConnection(ctx context.Context, sessionID, operation string, timeout time.Duration, fn func(ctx context.Context, conn Connection) error) error {
	unlock := r.registry.Lock(sessionID)
	defer unlock()

	conn, ok := r.registry.Connection(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotConnected, sessionID)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := fn(tctx, conn); err != nil {
		observability.TransportFailures.WithLabelValues(operation).Inc()
		return fmt.Errorf("%w: %w", models.ErrTransportFailure, err)
	}
	return nil
}

// DeleteMessage apaga localmente e tenta revogar no transporte.
func (r *MessageRouter) DeleteMessage(ctx context.Context, messageID uint) error {
	message, err := r.store.Messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if err := r.store.Messages.Delete(ctx, messageID); err != nil {
		return err
	}
	if !message.FromMe {
		return nil
	}
	err = r.withConnection(ctx, message.SessionID, "revoke", r.mirrorTimeout, func(ctx context.Context, conn Connection) error {
		return conn.Revoke(ctx, message.RemoteJID, message.ProtocolID)
	})
	if err != nil {
		utils.LogWarning("Mensagem %d apagada localmente, revogação falhou: %v", messageID, err)
	}
	return nil
}

// ForwardMessage reenvia o conteúdo de uma mensagem gravada para outro destino.
func (r *MessageRouter) ForwardMessage(ctx context.Context, messageID uint, req models.ForwardMessageRequest) (*models.Message, error) {
	message, err := r.store.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	payload, err := forwardPayload(message)
	if err != nil {
		return nil, err
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = message.SessionID
	}
	return r.Send(ctx, models.SendMessageRequest{SessionID: sessionID, To: req.To, Payload: payload})
}

func forwardPayload(message *models.Message) (models.OutboundPayload, error) {
	if len(message.Payload) > 0 {
		var p models.OutboundPayload
		if err := json.Unmarshal(message.Payload, &p); err == nil && p.Kind != "" && p.Kind != models.KindReaction {
			p.QuotedID = ""
			if p.Media != nil && p.Media.URL == "" {
				p.Media.URL = utils.StringValue(message.MediaURL)
			}
			return p, nil
		}
	}

	switch {
	case message.Kind == models.KindText:
		return models.OutboundPayload{Kind: models.KindText, Text: utils.StringValue(message.Content)}, nil
	case message.Kind.IsMedia():
		if message.MediaURL == nil {
			return models.OutboundPayload{}, invalidPayload("message %d has no stored media", message.ID)
		}
		return models.OutboundPayload{Kind: message.Kind, Media: &models.MediaPayload{
			URL:      *message.MediaURL,
			MimeType: utils.StringValue(message.MimeType),
			FileName: utils.StringValue(message.FileName),
			Caption:  utils.StringValue(message.Content),
		}}, nil
	}
	return models.OutboundPayload{}, invalidPayload("messages of kind %s cannot be forwarded", message.Kind)
}

// SendTyping envia o estado "digitando". Exige conexão; a falha do transporte só é registrada.
func (r *MessageRouter) SendTyping(ctx context.Context, req models.TypingRequest) error {
	remote, err := utils.NormalizeRemoteJID(req.To)
	if err != nil {
		return invalidPayload("to: %v", err)
	}
	if _, err := r.store.Sessions.GetByID(ctx, req.SessionID); err != nil {
		return err
	}
	conn, ok := r.registry.Connection(req.SessionID)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotConnected, req.SessionID)
	}
	pctx, cancel := context.WithTimeout(ctx, r.mirrorTimeout)
	defer cancel()
	if err := conn.SendPresence(pctx, remote, req.Composing); err != nil {
		observability.TransportFailures.WithLabelValues("presence").Inc()
		utils.LogWarning("Erro ao enviar presença para %s: %v", remote, err)
	}
	return nil
}
