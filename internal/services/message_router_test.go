package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/wsnotify"
)

const customerJID = "5511888888888@s.whatsapp.net"

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

func fourButtons() models.OutboundPayload {
	p := models.OutboundPayload{Kind: models.KindButtons, Buttons: &models.ButtonsPayload{Body: "escolha"}}
	for _, id := range []string{"a", "b", "c", "d"} {
		p.Buttons.Buttons = append(p.Buttons.Buttons, models.Button{ID: id, Text: id})
	}
	return p
}

func TestSendValidatesBeforeTransport(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")

	_, err := env.router.Send(context.Background(), models.SendMessageRequest{SessionID: "ses_1", To: "5511888888888", Payload: fourButtons()})
	if !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if conn.sentCount() != 0 {
		t.Fatalf("transport must not be called for an invalid payload")
	}
	if n := env.messageCount(t, "ses_1", customerJID); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}

	// validação vem antes até da busca da sessão
	_, err = env.router.Send(context.Background(), models.SendMessageRequest{SessionID: "missing", To: "5511888888888", Payload: fourButtons()})
	if !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for unknown session, got %v", err)
	}
}

func TestSendRequiresConnectedSession(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	session, err := env.manager.CreateSession(ctx, models.CreateSessionRequest{CompanyID: testCompany, Name: "A"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	_, err = env.router.Send(ctx, textRequest(session.ID, "5511888888888", "oi"))
	if !errors.Is(err, models.ErrSessionNotConnected) {
		t.Fatalf("expected ErrSessionNotConnected, got %v", err)
	}
	if _, err := env.router.Send(ctx, textRequest("missing", "5511888888888", "oi")); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSendTransportFailurePersistsNothing(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")
	boom := errors.New("socket closed")
	conn.mu.Lock()
	conn.sendErr = boom
	conn.mu.Unlock()

	_, err := env.router.Send(context.Background(), textRequest("ses_1", "5511888888888", "oi"))
	if !errors.Is(err, models.ErrTransportFailure) || !errors.Is(err, boom) {
		t.Fatalf("expected TransportFailure wrapping the cause, got %v", err)
	}
	if n := env.messageCount(t, "ses_1", customerJID); n != 0 {
		t.Fatalf("expected no rows after transport failure, got %d", n)
	}
	if _, err := env.store.Contacts.GetBySessionRemote(context.Background(), "ses_1", customerJID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("contact must not be created on failure, got %v", err)
	}
	if len(env.publisher.ofType(wsnotify.EventMessageSent)) != 0 {
		t.Fatalf("no message.sent event expected")
	}
}

func TestSendTimeoutIsTransportFailure(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")
	conn.mu.Lock()
	conn.blockSend = true
	conn.mu.Unlock()

	started := time.Now()
	_, err := env.router.Send(context.Background(), textRequest("ses_1", "5511888888888", "oi"))
	if !errors.Is(err, models.ErrTransportFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected TransportFailure from the send deadline, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("send must give up after the send timeout, took %s", elapsed)
	}
	if n := env.messageCount(t, "ses_1", customerJID); n != 0 {
		t.Fatalf("expected no rows after a timed out send, got %d", n)
	}
	if len(env.publisher.ofType(wsnotify.EventMessageSent)) != 0 {
		t.Fatalf("no message.sent event expected")
	}
}

func TestSendTextPublishesAfterCommit(t *testing.T) {
	env := newTestEnv(t, 3)
	env.connect(t, "ses_1")
	ctx := context.Background()

	var visible bool
	env.publisher.onPublish = func(evt wsnotify.Event) {
		if evt.Type != wsnotify.EventMessageSent {
			return
		}
		payload := evt.Payload.(map[string]interface{})
		msg := payload["message"].(*models.Message)
		stored, err := env.store.Messages.GetByID(ctx, msg.ID)
		visible = err == nil && stored.ProtocolID == msg.ProtocolID
	}

	msg, err := env.router.Send(ctx, textRequest("ses_1", "+55 11 88888-8888", "Olá"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !visible {
		t.Fatalf("message must be committed before message.sent is published")
	}
	if msg.Status != models.MessageSent || msg.ProtocolID != "OUT001" || !msg.FromMe {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.RemoteJID != customerJID {
		t.Fatalf("recipient must be normalized, got %s", msg.RemoteJID)
	}

	events := env.publisher.ofType(wsnotify.EventMessageSent)
	if len(events) != 1 || events[0].CompanyID != testCompany {
		t.Fatalf("expected one company scoped message.sent, got %+v", events)
	}
	contact, err := env.store.Contacts.GetBySessionRemote(ctx, "ses_1", customerJID)
	if err != nil {
		t.Fatalf("contact not created: %v", err)
	}
	if contact.UnreadCount != 0 || contact.LastMessageAt.IsZero() {
		t.Fatalf("unexpected contact state %+v", contact)
	}
}

func TestSendBase64Media(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")

	req := models.SendMessageRequest{SessionID: "ses_1", To: "5511888888888", Payload: models.OutboundPayload{
		Kind:  models.KindImage,
		Media: &models.MediaPayload{Base64: "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes), Caption: "foto"},
	}}
	msg, err := env.router.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	conn.mu.Lock()
	sent := conn.sent[0]
	conn.mu.Unlock()
	if sent.Media == nil || !bytes.Equal(sent.Media.Data, pngBytes) || sent.Media.MimeType != "image/png" {
		t.Fatalf("unexpected media handed to transport: %+v", sent.Media)
	}
	if strings.Contains(string(msg.Payload), "base64") {
		t.Fatalf("stored payload must not keep the base64 content: %s", msg.Payload)
	}
	if msg.MimeType == nil || *msg.MimeType != "image/png" {
		t.Fatalf("expected mime type to be stored, got %v", msg.MimeType)
	}
}

func TestSendMediaOverLimit(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")
	one := 1
	if _, err := env.settings.Update(context.Background(), testCompany, models.UpdateSettingsRequest{MaxImageSizeMB: &one}); err != nil {
		t.Fatalf("Update settings failed: %v", err)
	}

	big := make([]byte, 1<<20+1)
	req := models.SendMessageRequest{SessionID: "ses_1", To: "5511888888888", Payload: models.OutboundPayload{
		Kind:  models.KindImage,
		Media: &models.MediaPayload{Base64: base64.StdEncoding.EncodeToString(big)},
	}}
	if _, err := env.router.Send(context.Background(), req); !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if conn.sentCount() != 0 {
		t.Fatalf("oversized media must not reach the transport")
	}
}

func TestSendMediaByURL(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")
	ctx := context.Background()

	var gotLimit int64
	env.router.download = func(ctx context.Context, url string, maxBytes int64) ([]byte, string, error) {
		gotLimit = maxBytes
		if strings.HasSuffix(url, "/missing.pdf") {
			return nil, "", errors.New("status 404")
		}
		return []byte("%PDF-1.4 conteudo"), "application/pdf", nil
	}

	doc := func(url string) models.SendMessageRequest {
		return models.SendMessageRequest{SessionID: "ses_1", To: "5511888888888", Payload: models.OutboundPayload{
			Kind:  models.KindDocument,
			Media: &models.MediaPayload{URL: url},
		}}
	}

	if _, err := env.router.Send(ctx, doc("https://cdn.example.com/missing.pdf")); !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for unfetchable url, got %v", err)
	}
	if conn.sentCount() != 0 {
		t.Fatalf("transport must not be called when media cannot be fetched")
	}

	msg, err := env.router.Send(ctx, doc("https://cdn.example.com/boleto.pdf"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotLimit != 100<<20 {
		t.Fatalf("expected the document limit to be applied, got %d", gotLimit)
	}
	if msg.MediaURL == nil || *msg.MediaURL != "https://cdn.example.com/boleto.pdf" {
		t.Fatalf("expected source url to be kept, got %v", msg.MediaURL)
	}
	if msg.FileName == nil || *msg.FileName != "document.pdf" {
		t.Fatalf("expected a generated file name, got %v", msg.FileName)
	}
}

func TestSendQuoteMustExist(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")
	ctx := context.Background()

	req := textRequest("ses_1", "5511888888888", "resposta")
	req.Payload.QuotedID = "NOPE"
	if _, err := env.router.Send(ctx, req); !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for unknown quote, got %v", err)
	}

	if err := env.router.HandleInbound(ctx, "ses_1", inboundText("IN1", customerJID, "pergunta")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	req.Payload.QuotedID = "IN1"
	msg, err := env.router.Send(ctx, req)
	if err != nil {
		t.Fatalf("Send with quote failed: %v", err)
	}
	conn.mu.Lock()
	ref := conn.sent[0].Reference
	conn.mu.Unlock()
	if ref == nil || ref.ProtocolID != "IN1" || ref.Content != "pergunta" {
		t.Fatalf("unexpected reference %+v", ref)
	}
	if msg.QuotedID == nil || *msg.QuotedID != "IN1" {
		t.Fatalf("expected quoted id to be stored")
	}
}

func TestInboundIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 3)
	env.connect(t, "ses_1")
	ctx := context.Background()

	in := inboundText("ABC", customerJID, "oi")
	for i := 0; i < 2; i++ {
		if err := env.router.HandleInbound(ctx, "ses_1", in); err != nil {
			t.Fatalf("HandleInbound #%d failed: %v", i, err)
		}
	}
	if n := env.messageCount(t, "ses_1", customerJID); n != 1 {
		t.Fatalf("expected exactly one row, got %d", n)
	}
	if events := env.publisher.ofType(wsnotify.EventMessageNew); len(events) != 1 {
		t.Fatalf("expected one message.new event, got %d", len(events))
	}
	contact, _ := env.store.Contacts.GetBySessionRemote(ctx, "ses_1", customerJID)
	if contact.UnreadCount != 1 {
		t.Fatalf("duplicate must not count twice, unread=%d", contact.UnreadCount)
	}
}

func TestInboundCreatesContact(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")

	// o caminho real passa pelo pipeline da sessão
	conn.emit(MessageEvent{Message: inboundText("IN1", "5511777777777@s.whatsapp.net", "bom dia")})
	waitFor(t, "inbound stored", func() bool {
		return len(env.publisher.ofType(wsnotify.EventMessageNew)) == 1
	})

	contact, err := env.store.Contacts.GetBySessionRemote(context.Background(), "ses_1", "5511777777777@s.whatsapp.net")
	if err != nil {
		t.Fatalf("contact not created: %v", err)
	}
	if contact.UnreadCount != 1 || contact.PushName != "Cliente" || contact.CompanyID != testCompany {
		t.Fatalf("unexpected contact %+v", contact)
	}
	if n := env.messageCount(t, "ses_1", "5511777777777@s.whatsapp.net"); n != 1 {
		t.Fatalf("expected one message, got %d", n)
	}
	msg, _ := env.store.Messages.GetByProtocolID(context.Background(), "ses_1", contact.RemoteJID, "IN1")
	if msg.Status != models.MessageDelivered || msg.FromMe {
		t.Fatalf("unexpected inbound message %+v", msg)
	}

	notes := env.publisher.ofType(wsnotify.EventNotification)
	if len(notes) != 1 {
		t.Fatalf("expected a new message notification, got %d", len(notes))
	}
}

func TestInboundOnActiveThreadIsNotCounted(t *testing.T) {
	env := newTestEnv(t, 3)
	env.connect(t, "ses_1")
	ctx := context.Background()

	env.contacts.SetActiveThread("ses_1", customerJID, true)
	if err := env.router.HandleInbound(ctx, "ses_1", inboundText("IN1", customerJID, "oi")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	contact, _ := env.store.Contacts.GetBySessionRemote(ctx, "ses_1", customerJID)
	if contact.UnreadCount != 0 {
		t.Fatalf("active thread must not count unread, got %d", contact.UnreadCount)
	}

	env.contacts.SetActiveThread("ses_1", customerJID, false)
	if err := env.router.HandleInbound(ctx, "ses_1", inboundText("IN2", customerJID, "oi?")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	contact, _ = env.store.Contacts.GetBySessionRemote(ctx, "ses_1", customerJID)
	if contact.UnreadCount != 1 {
		t.Fatalf("expected unread 1 after leaving the thread, got %d", contact.UnreadCount)
	}
}

func TestInboundFromMeIsNotUnread(t *testing.T) {
	env := newTestEnv(t, 3)
	env.connect(t, "ses_1")
	ctx := context.Background()

	in := inboundText("ME1", customerJID, "enviado do celular")
	in.FromMe = true
	if err := env.router.HandleInbound(ctx, "ses_1", in); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	contact, _ := env.store.Contacts.GetBySessionRemote(ctx, "ses_1", customerJID)
	if contact.UnreadCount != 0 {
		t.Fatalf("own messages must not count as unread")
	}
	if contact.PushName != "" {
		t.Fatalf("push name of own messages must not name the contact, got %q", contact.PushName)
	}
	msg, _ := env.store.Messages.GetByProtocolID(ctx, "ses_1", customerJID, "ME1")
	if msg.Status != models.MessageSent || !msg.FromMe {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(env.publisher.ofType(wsnotify.EventNotification)) != 0 {
		t.Fatalf("own messages must not notify")
	}
}

func TestInboundIgnoresStatusBroadcast(t *testing.T) {
	env := newTestEnv(t, 3)
	env.connect(t, "ses_1")

	in := inboundText("ST1", "status@broadcast", "story")
	if err := env.router.HandleInbound(context.Background(), "ses_1", in); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if len(env.publisher.ofType(wsnotify.EventMessageNew)) != 0 {
		t.Fatalf("status broadcast must be ignored")
	}
}

func TestReceiptsAreMonotonic(t *testing.T) {
	env := newTestEnv(t, 3)
	env.connect(t, "ses_1")
	ctx := context.Background()

	msg, err := env.router.Send(ctx, textRequest("ses_1", "5511888888888", "oi"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	read := Receipt{RemoteJID: customerJID, ProtocolIDs: []string{msg.ProtocolID}, Status: models.MessageRead}
	if err := env.router.ApplyReceipt(ctx, "ses_1", read); err != nil {
		t.Fatalf("ApplyReceipt READ failed: %v", err)
	}
	delivered := Receipt{RemoteJID: customerJID, ProtocolIDs: []string{msg.ProtocolID}, Status: models.MessageDelivered}
	if err := env.router.ApplyReceipt(ctx, "ses_1", delivered); err != nil {
		t.Fatalf("ApplyReceipt DELIVERED failed: %v", err)
	}

	stored, _ := env.store.Messages.GetByID(ctx, msg.ID)
	if stored.Status != models.MessageRead {
		t.Fatalf("status regressed to %s", stored.Status)
	}
	events := env.publisher.ofType(wsnotify.EventMessageStatus)
	if len(events) != 1 {
		t.Fatalf("expected one status event, got %d", len(events))
	}
	if p := events[0].Payload.(map[string]interface{}); p["status"] != models.MessageRead {
		t.Fatalf("unexpected status payload %v", p)
	}

	// recibo de mensagem desconhecida é ignorado
	unknown := Receipt{RemoteJID: customerJID, ProtocolIDs: []string{"NOPE"}, Status: models.MessageRead}
	if err := env.router.ApplyReceipt(ctx, "ses_1", unknown); err != nil {
		t.Fatalf("unknown receipt must be ignored, got %v", err)
	}
}

func TestEditAndDeleteMessage(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")
	ctx := context.Background()

	msg, err := env.router.Send(ctx, textRequest("ses_1", "5511888888888", "oi"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	edited, err := env.router.EditMessage(ctx, msg.ID, "olá")
	if err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if edited.EditedAt == nil || *edited.Content != "olá" {
		t.Fatalf("unexpected edit result %+v", edited)
	}
	conn.mu.Lock()
	edits := append([]string(nil), conn.edits...)
	conn.mu.Unlock()
	if len(edits) != 1 || edits[0] != msg.ProtocolID+"=olá" {
		t.Fatalf("unexpected transport edits %v", edits)
	}
	if _, err := env.router.EditMessage(ctx, msg.ID, "  "); !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for empty edit, got %v", err)
	}

	if err := env.router.HandleInbound(ctx, "ses_1", inboundText("IN1", customerJID, "recebida")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	inbound, _ := env.store.Messages.GetByProtocolID(ctx, "ses_1", customerJID, "IN1")
	if _, err := env.router.EditMessage(ctx, inbound.ID, "x"); !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("inbound messages cannot be edited, got %v", err)
	}

	if err := env.router.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if _, err := env.store.Messages.GetByID(ctx, msg.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected message to be gone, got %v", err)
	}
	conn.mu.Lock()
	revoked := append([]string(nil), conn.revoked...)
	conn.mu.Unlock()
	if len(revoked) != 1 || revoked[0] != msg.ProtocolID {
		t.Fatalf("expected revoke of %s, got %v", msg.ProtocolID, revoked)
	}
	if err := env.router.DeleteMessage(ctx, msg.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestForwardMessage(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")
	ctx := context.Background()

	if err := env.router.HandleInbound(ctx, "ses_1", inboundText("IN1", customerJID, "encaminhe isso")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	original, _ := env.store.Messages.GetByProtocolID(ctx, "ses_1", customerJID, "IN1")

	fwd, err := env.router.ForwardMessage(ctx, original.ID, models.ForwardMessageRequest{To: "5511777777777"})
	if err != nil {
		t.Fatalf("ForwardMessage failed: %v", err)
	}
	if fwd.RemoteJID != "5511777777777@s.whatsapp.net" || *fwd.Content != "encaminhe isso" {
		t.Fatalf("unexpected forwarded message %+v", fwd)
	}
	if conn.sentCount() != 1 {
		t.Fatalf("expected one transport send")
	}
}

func TestSendTyping(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")
	ctx := context.Background()

	if err := env.router.SendTyping(ctx, models.TypingRequest{SessionID: "ses_1", To: "5511888888888", Composing: true}); err != nil {
		t.Fatalf("SendTyping failed: %v", err)
	}
	conn.mu.Lock()
	presence := append([]bool(nil), conn.presence...)
	conn.mu.Unlock()
	if len(presence) != 1 || !presence[0] {
		t.Fatalf("unexpected presence calls %v", presence)
	}

	if _, err := env.manager.Disconnect(ctx, "ses_1"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	err := env.router.SendTyping(ctx, models.TypingRequest{SessionID: "ses_1", To: "5511888888888", Composing: true})
	if !errors.Is(err, models.ErrSessionNotConnected) {
		t.Fatalf("expected ErrSessionNotConnected, got %v", err)
	}
}
