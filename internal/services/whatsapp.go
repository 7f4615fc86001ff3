package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatsapp-hub/config"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/utils"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

var errQRTimeout = errors.New("qr code not scanned in time")

// WhatsAppTransport implementa Transport sobre o whatsmeow. As chaves de
// dispositivo ficam no sqlstore; o JID do dispositivo fica no auth_state.
type WhatsAppTransport struct {
	container *sqlstore.Container
}

func NewWhatsAppTransport(ctx context.Context, cfg config.StoreConfig, platform string) (*WhatsAppTransport, error) {
	container, err := sqlstore.New(ctx, cfg.Driver, cfg.DSN, utils.WALogger("Database"))
	if err != nil {
		return nil, fmt.Errorf("erro ao abrir store do whatsmeow: %w", err)
	}
	store.DeviceProps.Os = proto.String(platform)
	return &WhatsAppTransport{container: container}, nil
}

func (t *WhatsAppTransport) device(ctx context.Context, auth *models.AuthState) (*store.Device, error) {
	if raw := auth.DeviceJID(); raw != "" {
		jid, err := types.ParseJID(raw)
		if err != nil {
			utils.LogWarning("JID de dispositivo inválido no auth_state (%s): %v", raw, err)
			return t.container.NewDevice(), nil
		}
		device, err := t.container.GetDevice(ctx, jid)
		if err != nil {
			return nil, err
		}
		if device != nil {
			return device, nil
		}
		utils.LogWarning("Dispositivo %s não encontrado no store, novo pareamento necessário", raw)
	}
	return t.container.NewDevice(), nil
}

func (t *WhatsAppTransport) Open(ctx context.Context, sessionID string, auth *models.AuthState, sink EventSink) (Connection, error) {
	device, err := t.device(ctx, auth)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, utils.WALogger("Client/"+sessionID))
	client.EnableAutoReconnect = false

	conn := &whatsappConn{sessionID: sessionID, client: client, sink: sink}
	conn.life, conn.cancel = context.WithCancel(context.Background())
	conn.handlerID = client.AddEventHandler(conn.handle)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(conn.life)
		if err != nil {
			conn.Close()
			return nil, err
		}
		go conn.forwardQR(qrChan)
	}

	done := make(chan error, 1)
	go func() { done <- client.Connect() }()
	select {
	case err := <-done:
		if err != nil {
			conn.Close()
			return nil, err
		}
	case <-ctx.Done():
		conn.cancel()
		go func() {
			<-done
			conn.Close()
		}()
		return nil, ctx.Err()
	}
	return conn, nil
}

type whatsappConn struct {
	sessionID string
	client    *whatsmeow.Client
	sink      EventSink
	handlerID uint32
	life      context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *whatsappConn) emit(evt TransportEvent) {
	if c.life.Err() != nil {
		return
	}
	c.sink(evt)
}

func (c *whatsappConn) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.emit(QREvent{Code: item.Code})
		case "success":
			return
		case "timeout":
			c.emit(DisconnectedEvent{Err: errQRTimeout})
			return
		default:
			if item.Error != nil {
				c.emit(DisconnectedEvent{Err: item.Error})
				return
			}
			utils.LogDebug("Evento de QR ignorado na sessão %s: %s", c.sessionID, item.Event)
		}
	}
}

func (c *whatsappConn) ownJID() types.JID {
	if c.client.Store.ID == nil {
		return types.EmptyJID
	}
	return c.client.Store.ID.ToNonAD()
}

func (c *whatsappConn) handle(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		c.emit(PairedEvent{DeviceJID: v.ID.String(), Phone: v.ID.User, PushName: v.BusinessName})
		c.emit(CredentialsEvent{DeviceJID: v.ID.String(), PushName: v.BusinessName})
	case *events.Connected:
		c.emit(ConnectedEvent{Phone: c.ownJID().User})
	case *events.Disconnected:
		c.emit(DisconnectedEvent{Err: errors.New("connection closed by server")})
	case *events.StreamReplaced:
		c.emit(DisconnectedEvent{Err: errors.New("stream replaced by another connection")})
	case *events.ConnectFailure:
		c.emit(DisconnectedEvent{Err: fmt.Errorf("connect failure: %s %s", v.Reason.String(), v.Message)})
	case *events.LoggedOut:
		c.emit(LoggedOutEvent{Reason: v.Reason.String()})
	case *events.Message:
		if msg, ok := c.inbound(v); ok {
			c.emit(MessageEvent{Message: msg})
		}
	case *events.Receipt:
		if receipt, ok := mapReceipt(v); ok {
			c.emit(ReceiptEvent{Receipt: receipt})
		}
	}
}

func mapReceipt(v *events.Receipt) (Receipt, bool) {
	var status models.MessageStatus
	switch v.Type {
	case types.ReceiptTypeDelivered:
		status = models.MessageDelivered
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf, types.ReceiptTypePlayed:
		status = models.MessageRead
	default:
		return Receipt{}, false
	}
	ids := make([]string, 0, len(v.MessageIDs))
	for _, id := range v.MessageIDs {
		ids = append(ids, string(id))
	}
	return Receipt{
		RemoteJID:   v.Chat.ToNonAD().String(),
		ProtocolIDs: ids,
		Status:      status,
		Timestamp:   v.Timestamp,
	}, true
}

// inbound converte o evento do whatsmeow; mensagens de protocolo e tipos
// desconhecidos ficam de fora.
func (c *whatsappConn) inbound(v *events.Message) (InboundMessage, bool) {
	info := v.Info
	msg := InboundMessage{
		ProtocolID:        string(info.ID),
		RemoteJID:         info.Chat.ToNonAD().String(),
		SenderJID:         info.Sender.ToNonAD().String(),
		PushName:          info.PushName,
		FromMe:            info.IsFromMe,
		IsGroup:           info.IsGroup,
		IsStatusBroadcast: info.Chat == types.StatusBroadcastJID,
		Timestamp:         info.Timestamp,
	}

	m := v.Message
	if m == nil {
		return msg, false
	}
	var media whatsmeow.DownloadableMessage
	var ctxInfo *waE2E.ContextInfo

	switch {
	case m.GetConversation() != "":
		msg.Kind = models.KindText
		msg.Content = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		ext := m.GetExtendedTextMessage()
		msg.Kind = models.KindText
		msg.Content = ext.GetText()
		ctxInfo = ext.GetContextInfo()
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		msg.Kind, msg.Content, msg.MimeType = models.KindImage, img.GetCaption(), img.GetMimetype()
		media, ctxInfo = img, img.GetContextInfo()
	case m.GetVideoMessage() != nil:
		vid := m.GetVideoMessage()
		msg.Kind, msg.Content, msg.MimeType = models.KindVideo, vid.GetCaption(), vid.GetMimetype()
		media, ctxInfo = vid, vid.GetContextInfo()
	case m.GetAudioMessage() != nil:
		aud := m.GetAudioMessage()
		msg.Kind, msg.MimeType = models.KindAudio, aud.GetMimetype()
		media, ctxInfo = aud, aud.GetContextInfo()
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		msg.Kind, msg.Content, msg.MimeType, msg.FileName = models.KindDocument, doc.GetCaption(), doc.GetMimetype(), doc.GetFileName()
		media, ctxInfo = doc, doc.GetContextInfo()
	case m.GetStickerMessage() != nil:
		st := m.GetStickerMessage()
		msg.Kind, msg.MimeType = models.KindImage, st.GetMimetype()
		media = st
	case m.GetLocationMessage() != nil:
		loc := m.GetLocationMessage()
		msg.Kind = models.KindLocation
		msg.Content = loc.GetName()
		if msg.Content == "" {
			msg.Content = fmt.Sprintf("%f,%f", loc.GetDegreesLatitude(), loc.GetDegreesLongitude())
		}
	case m.GetReactionMessage() != nil:
		r := m.GetReactionMessage()
		msg.Kind = models.KindReaction
		msg.Content = r.GetText()
		msg.QuotedID = r.GetKey().GetID()
	case m.GetPollCreationMessage() != nil || m.GetPollCreationMessageV3() != nil:
		poll := m.GetPollCreationMessage()
		if poll == nil {
			poll = m.GetPollCreationMessageV3()
		}
		msg.Kind = models.KindPoll
		msg.Content = poll.GetName()
	case m.GetButtonsResponseMessage() != nil:
		msg.Kind = models.KindButtons
		msg.Content = m.GetButtonsResponseMessage().GetSelectedDisplayText()
	case m.GetListResponseMessage() != nil:
		msg.Kind = models.KindList
		msg.Content = m.GetListResponseMessage().GetTitle()
	case m.GetProductMessage() != nil:
		msg.Kind = models.KindProduct
		msg.Content = m.GetProductMessage().GetProduct().GetTitle()
	default:
		return msg, false
	}

	if ctxInfo != nil && msg.QuotedID == "" {
		msg.QuotedID = ctxInfo.GetStanzaID()
	}
	if media != nil {
		client := c.client
		msg.FetchMedia = func(ctx context.Context) ([]byte, error) {
			return client.Download(ctx, media)
		}
	}
	return msg, true
}

func (c *whatsappConn) Send(ctx context.Context, out OutboundMessage) (SendReceipt, error) {
	to, err := types.ParseJID(out.To)
	if err != nil {
		return SendReceipt{}, err
	}
	message, err := c.build(ctx, to, out)
	if err != nil {
		return SendReceipt{}, err
	}
	resp, err := c.client.SendMessage(ctx, to, message)
	if err != nil {
		return SendReceipt{}, err
	}
	return SendReceipt{ProtocolID: string(resp.ID), Timestamp: resp.Timestamp}, nil
}

func (c *whatsappConn) participant(ref *MessageRef, chat types.JID) types.JID {
	if ref.FromMe {
		return c.ownJID()
	}
	if ref.SenderJID != "" {
		if jid, err := types.ParseJID(ref.SenderJID); err == nil {
			return jid.ToNonAD()
		}
	}
	return chat
}

func (c *whatsappConn) contextInfo(ref *MessageRef, chat types.JID) *waE2E.ContextInfo {
	if ref == nil {
		return nil
	}
	return &waE2E.ContextInfo{
		StanzaID:      proto.String(ref.ProtocolID),
		Participant:   proto.String(c.participant(ref, chat).String()),
		QuotedMessage: &waE2E.Message{Conversation: proto.String(ref.Content)},
	}
}

func (c *whatsappConn) build(ctx context.Context, to types.JID, out OutboundMessage) (*waE2E.Message, error) {
	p := out.Payload
	quote := c.contextInfo(out.Reference, to)

	switch p.Kind {
	case models.KindText:
		if quote == nil {
			return &waE2E.Message{Conversation: proto.String(p.Text)}, nil
		}
		return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(p.Text),
			ContextInfo: quote,
		}}, nil

	case models.KindImage, models.KindVideo, models.KindAudio, models.KindDocument:
		return c.buildMedia(ctx, p, out.Media, quote)

	case models.KindReaction:
		if out.Reference == nil {
			return nil, fmt.Errorf("reaction without target message")
		}
		return c.client.BuildReaction(to, c.participant(out.Reference, to), types.MessageID(out.Reference.ProtocolID), p.Reaction.Emoji), nil

	case models.KindLocation:
		return &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(p.Location.Latitude),
			DegreesLongitude: proto.Float64(p.Location.Longitude),
			Name:             proto.String(p.Location.Name),
			Address:          proto.String(p.Location.Address),
			ContextInfo:      quote,
		}}, nil

	case models.KindPoll:
		selectable := p.Poll.SelectableCount
		if selectable == 0 {
			selectable = 1
		}
		return c.client.BuildPollCreation(p.Poll.Name, p.Poll.Options, selectable), nil

	case models.KindButtons:
		buttons := make([]*waE2E.ButtonsMessage_Button, 0, len(p.Buttons.Buttons))
		for i, b := range p.Buttons.Buttons {
			id := b.ID
			if id == "" {
				id = fmt.Sprintf("btn_%d", i+1)
			}
			buttons = append(buttons, &waE2E.ButtonsMessage_Button{
				ButtonID:   proto.String(id),
				ButtonText: &waE2E.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(b.Text)},
				Type:       waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
			})
		}
		return &waE2E.Message{ButtonsMessage: &waE2E.ButtonsMessage{
			ContentText: proto.String(p.Buttons.Body),
			FooterText:  proto.String(p.Buttons.Footer),
			HeaderType:  waE2E.ButtonsMessage_EMPTY.Enum(),
			Buttons:     buttons,
			ContextInfo: quote,
		}}, nil

	case models.KindList:
		sections := make([]*waE2E.ListMessage_Section, 0, len(p.List.Sections))
		for i, s := range p.List.Sections {
			rows := make([]*waE2E.ListMessage_Row, 0, len(s.Rows))
			for j, r := range s.Rows {
				id := r.ID
				if id == "" {
					id = fmt.Sprintf("row_%d_%d", i+1, j+1)
				}
				rows = append(rows, &waE2E.ListMessage_Row{
					RowID:       proto.String(id),
					Title:       proto.String(r.Title),
					Description: proto.String(r.Description),
				})
			}
			sections = append(sections, &waE2E.ListMessage_Section{Title: proto.String(s.Title), Rows: rows})
		}
		return &waE2E.Message{ListMessage: &waE2E.ListMessage{
			Title:       proto.String(p.List.Title),
			Description: proto.String(p.List.Body),
			FooterText:  proto.String(p.List.Footer),
			ButtonText:  proto.String(p.List.ButtonText),
			ListType:    waE2E.ListMessage_SINGLE_SELECT.Enum(),
			Sections:    sections,
			ContextInfo: quote,
		}}, nil

	case models.KindProduct:
		prod := p.Product
		snapshot := &waE2E.ProductMessage_ProductSnapshot{
			ProductID: proto.String(prod.ProductID),
			Title:     proto.String(prod.Title),
		}
		if prod.Description != "" {
			snapshot.Description = proto.String(prod.Description)
		}
		if prod.CurrencyCode != "" {
			snapshot.CurrencyCode = proto.String(prod.CurrencyCode)
			snapshot.PriceAmount1000 = proto.Int64(prod.PriceAmount1000)
		}
		return &waE2E.Message{ProductMessage: &waE2E.ProductMessage{
			Product:          snapshot,
			BusinessOwnerJID: proto.String(prod.BusinessOwnerJID),
			Body:             proto.String(prod.Body),
			Footer:           proto.String(prod.Footer),
			ContextInfo:      quote,
		}}, nil
	}
	return nil, fmt.Errorf("unsupported kind %q", p.Kind)
}

func (c *whatsappConn) buildMedia(ctx context.Context, p *models.OutboundPayload, media *OutboundMedia, quote *waE2E.ContextInfo) (*waE2E.Message, error) {
	if media == nil {
		return nil, fmt.Errorf("%s without media content", p.Kind)
	}
	var mediaType whatsmeow.MediaType
	switch p.Kind {
	case models.KindImage:
		mediaType = whatsmeow.MediaImage
	case models.KindVideo:
		mediaType = whatsmeow.MediaVideo
	case models.KindAudio:
		mediaType = whatsmeow.MediaAudio
	default:
		mediaType = whatsmeow.MediaDocument
	}

	uploaded, err := c.client.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("erro ao enviar mídia: %w", err)
	}
	caption := p.Media.Caption
	length := uint64(len(media.Data))

	switch p.Kind {
	case models.KindImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(length),
			ContextInfo:   quote,
		}}, nil
	case models.KindVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(length),
			ContextInfo:   quote,
		}}, nil
	case models.KindAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(length),
			PTT:           proto.Bool(p.Media.PTT),
			ContextInfo:   quote,
		}}, nil
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		Title:         proto.String(media.FileName),
		FileName:      proto.String(media.FileName),
		Caption:       proto.String(caption),
		Mimetype:      proto.String(media.MimeType),
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(length),
		ContextInfo:   quote,
	}}, nil
}

func (c *whatsappConn) Edit(ctx context.Context, chat, protocolID, text string) error {
	jid, err := types.ParseJID(chat)
	if err != nil {
		return err
	}
	edit := c.client.BuildEdit(jid, types.MessageID(protocolID), &waE2E.Message{Conversation: proto.String(text)})
	_, err = c.client.SendMessage(ctx, jid, edit)
	return err
}

// Revoke apaga para todos uma mensagem enviada pela própria conta.
func (c *whatsappConn) Revoke(ctx context.Context, chat, protocolID string) error {
	jid, err := types.ParseJID(chat)
	if err != nil {
		return err
	}
	_, err = c.client.SendMessage(ctx, jid, c.client.BuildRevoke(jid, types.EmptyJID, types.MessageID(protocolID)))
	return err
}

func (c *whatsappConn) MarkRead(ctx context.Context, chat, sender string, protocolIDs []string) error {
	if len(protocolIDs) == 0 {
		return nil
	}
	chatJID, err := types.ParseJID(chat)
	if err != nil {
		return err
	}
	senderJID := types.EmptyJID
	if sender != "" && sender != chat {
		if senderJID, err = types.ParseJID(sender); err != nil {
			return err
		}
	}
	ids := make([]types.MessageID, 0, len(protocolIDs))
	for _, id := range protocolIDs {
		ids = append(ids, types.MessageID(id))
	}
	return runWithContext(ctx, func() error {
		return c.client.MarkRead(ids, time.Now(), chatJID, senderJID)
	})
}

func (c *whatsappConn) SendPresence(ctx context.Context, to string, composing bool) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if composing {
		state = types.ChatPresenceComposing
	}
	return runWithContext(ctx, func() error {
		return c.client.SendChatPresence(jid, state, types.ChatPresenceMediaText)
	})
}

// runWithContext limita pelo ctx chamadas do whatsmeow que não recebem contexto.
func runWithContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *whatsappConn) Logout(ctx context.Context) error {
	c.cancel()
	return c.client.Logout(ctx)
}

func (c *whatsappConn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.client.RemoveEventHandler(c.handlerID)
		c.client.Disconnect()
	})
}
