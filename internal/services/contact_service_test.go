package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"whatsapp-hub/internal/models"
)

func TestMarkReadAlwaysZeroesUnread(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")
	ctx := context.Background()

	for _, id := range []string{"IN1", "IN2", "IN3"} {
		if err := env.router.HandleInbound(ctx, "ses_1", inboundText(id, customerJID, "oi")); err != nil {
			t.Fatalf("HandleInbound failed: %v", err)
		}
	}
	contact, _ := env.store.Contacts.GetBySessionRemote(ctx, "ses_1", customerJID)
	if contact.UnreadCount != 3 {
		t.Fatalf("expected 3 unread, got %d", contact.UnreadCount)
	}

	// recibo de leitura falhando no transporte não impede zerar localmente
	conn.mu.Lock()
	conn.readErr = errors.New("not connected")
	conn.mu.Unlock()
	if err := env.contacts.MarkRead(ctx, contact.ID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	contact, _ = env.store.Contacts.GetByID(ctx, contact.ID)
	if contact.UnreadCount != 0 {
		t.Fatalf("expected 0 unread, got %d", contact.UnreadCount)
	}
	conn.mu.Lock()
	reads := len(conn.reads)
	conn.mu.Unlock()
	if reads != 3 {
		t.Fatalf("expected read receipts for 3 messages, got %d", reads)
	}

	// sem conexão também zera
	if err := env.router.HandleInbound(ctx, "ses_1", inboundText("IN4", customerJID, "oi")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if _, err := env.manager.Disconnect(ctx, "ses_1"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := env.contacts.MarkRead(ctx, contact.ID); err != nil {
		t.Fatalf("MarkRead without connection failed: %v", err)
	}
	contact, _ = env.store.Contacts.GetByID(ctx, contact.ID)
	if contact.UnreadCount != 0 {
		t.Fatalf("expected 0 unread, got %d", contact.UnreadCount)
	}

	if err := env.contacts.MarkRead(ctx, 9999); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkUnread(t *testing.T) {
	env := newTestEnv(t, 3)
	env.connect(t, "ses_1")
	ctx := context.Background()

	contact, err := env.contacts.EnsureContact(ctx, "ses_1", "5511888888888")
	if err != nil {
		t.Fatalf("EnsureContact failed: %v", err)
	}
	if err := env.contacts.MarkUnread(ctx, contact.ID); err != nil {
		t.Fatalf("MarkUnread failed: %v", err)
	}
	contact, _ = env.store.Contacts.GetByID(ctx, contact.ID)
	if contact.UnreadCount != 1 {
		t.Fatalf("expected unread 1, got %d", contact.UnreadCount)
	}
}

func TestListConversationsPinnedFirst(t *testing.T) {
	env := newTestEnv(t, 3)
	env.connect(t, "ses_1")
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	remotes := []string{"5511000000001@s.whatsapp.net", "5511000000002@s.whatsapp.net", "5511000000003@s.whatsapp.net"}
	for i, remote := range remotes {
		in := inboundText("IN"+string(rune('1'+i)), remote, "mensagem")
		in.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := env.router.HandleInbound(ctx, "ses_1", in); err != nil {
			t.Fatalf("HandleInbound failed: %v", err)
		}
	}
	oldest, _ := env.store.Contacts.GetBySessionRemote(ctx, "ses_1", remotes[0])
	if err := env.contacts.Pin(ctx, oldest.ID, true); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}

	convs, total, err := env.contacts.ListConversations(ctx, models.ConversationFilter{CompanyID: testCompany})
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if total != 3 || len(convs) != 3 {
		t.Fatalf("expected 3 conversations, got %d/%d", len(convs), total)
	}
	want := []string{remotes[0], remotes[2], remotes[1]}
	for i, conv := range convs {
		if conv.RemoteJID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], conv.RemoteJID)
		}
		if conv.LastMessage == nil || *conv.LastMessage.Content != "mensagem" {
			t.Fatalf("conversation %s must carry its last message", conv.RemoteJID)
		}
	}

	archived := true
	if err := env.contacts.Archive(ctx, oldest.ID, true); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	convs, _, err = env.contacts.ListConversations(ctx, models.ConversationFilter{CompanyID: testCompany, Archived: &archived})
	if err != nil || len(convs) != 1 || convs[0].ID != oldest.ID {
		t.Fatalf("expected only the archived conversation, got %d err=%v", len(convs), err)
	}
}

func TestClearChatRevokesOwnMessages(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")
	ctx := context.Background()

	sent, err := env.router.Send(ctx, textRequest("ses_1", "5511888888888", "oi"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := env.router.HandleInbound(ctx, "ses_1", inboundText("IN1", customerJID, "olá")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	before, _ := env.store.Contacts.GetByID(ctx, sent.ContactID)

	if err := env.contacts.ClearChat(ctx, sent.ContactID); err != nil {
		t.Fatalf("ClearChat failed: %v", err)
	}
	after, err := env.store.Contacts.GetByID(ctx, sent.ContactID)
	if err != nil {
		t.Fatalf("contact must survive ClearChat: %v", err)
	}
	if after.UnreadCount != 0 || !after.LastMessageAt.Equal(before.LastMessageAt) {
		t.Fatalf("unexpected contact after clear %+v", after)
	}
	if n := env.messageCount(t, "ses_1", customerJID); n != 0 {
		t.Fatalf("expected no messages, got %d", n)
	}
	conn.mu.Lock()
	revoked := append([]string(nil), conn.revoked...)
	conn.mu.Unlock()
	if len(revoked) != 1 || revoked[0] != sent.ProtocolID {
		t.Fatalf("expected only own message revoked, got %v", revoked)
	}
}

func TestDeleteContact(t *testing.T) {
	env := newTestEnv(t, 3)
	env.connect(t, "ses_1")
	ctx := context.Background()

	if err := env.router.HandleInbound(ctx, "ses_1", inboundText("IN1", customerJID, "olá")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	contact, _ := env.store.Contacts.GetBySessionRemote(ctx, "ses_1", customerJID)
	if err := env.contacts.DeleteContact(ctx, contact.ID); err != nil {
		t.Fatalf("DeleteContact failed: %v", err)
	}
	if _, err := env.store.Messages.GetByProtocolID(ctx, "ses_1", customerJID, "IN1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("messages must be deleted with the contact, got %v", err)
	}
	if err := env.contacts.DeleteContact(ctx, contact.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateContact(t *testing.T) {
	env := newTestEnv(t, 3)
	env.connect(t, "ses_1")
	ctx := context.Background()

	contact, err := env.contacts.EnsureContact(ctx, "ses_1", customerJID)
	if err != nil {
		t.Fatalf("EnsureContact failed: %v", err)
	}
	name, category := "Maria", "vip"
	updated, err := env.contacts.UpdateContact(ctx, contact.ID, models.UpdateContactRequest{
		Name:     &name,
		Category: &category,
		Tags:     []string{"cliente", "sp"},
	})
	if err != nil {
		t.Fatalf("UpdateContact failed: %v", err)
	}
	if updated.Name != "Maria" || updated.Category == nil || *updated.Category != "vip" {
		t.Fatalf("unexpected contact %+v", updated)
	}
	if string(updated.Tags) != `["cliente","sp"]` {
		t.Fatalf("unexpected tags %s", updated.Tags)
	}
	if updated.DisplayName() != "Maria" {
		t.Fatalf("saved name must win, got %s", updated.DisplayName())
	}
}

func TestActiveThreadExpires(t *testing.T) {
	env := newTestEnv(t, 3)
	now := time.Now()
	env.contacts.now = func() time.Time { return now }

	env.contacts.SetActiveThread("ses_1", "5511888888888", true)
	if !env.contacts.IsActive("ses_1", customerJID) {
		t.Fatalf("thread must be active right after marking")
	}
	now = now.Add(2 * time.Minute)
	if env.contacts.IsActive("ses_1", customerJID) {
		t.Fatalf("thread must expire after the ttl")
	}
}
