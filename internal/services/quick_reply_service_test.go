package services

import (
	"context"
	"errors"
	"testing"

	"whatsapp-hub/internal/models"
)

func TestQuickReplySendRendersAndCountsUsage(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.connect(t, "ses_1")
	ctx := context.Background()
	replies := NewQuickReplyService(env.store, env.router)

	reply, err := replies.Create(ctx, models.QuickReplyRequest{CompanyID: testCompany, Title: "Saudação", Body: "Olá {nome}, seu número é {telefone}"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := env.router.HandleInbound(ctx, "ses_1", inboundText("IN1", customerJID, "oi")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}

	msg, err := replies.Send(ctx, reply.ID, models.SendQuickReplyRequest{SessionID: "ses_1", To: "5511888888888"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if want := "Olá Cliente, seu número é 5511888888888"; *msg.Content != want {
		t.Fatalf("expected %q, got %q", want, *msg.Content)
	}
	conn.mu.Lock()
	text := conn.sent[0].Payload.Text
	conn.mu.Unlock()
	if text != *msg.Content {
		t.Fatalf("transport got %q", text)
	}

	_, err = replies.Send(ctx, reply.ID, models.SendQuickReplyRequest{
		SessionID: "ses_1",
		To:        "5511888888888",
		Variables: map[string]string{"nome": "Ana"},
	})
	if err != nil {
		t.Fatalf("Send with variables failed: %v", err)
	}
	conn.mu.Lock()
	text = conn.sent[1].Payload.Text
	conn.sendErr = errors.New("socket closed")
	conn.mu.Unlock()
	if text != "Olá Ana, seu número é 5511888888888" {
		t.Fatalf("request variables must win, got %q", text)
	}

	if _, err := replies.Send(ctx, reply.ID, models.SendQuickReplyRequest{SessionID: "ses_1", To: "5511888888888"}); !errors.Is(err, models.ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
	stored, _ := env.store.QuickReplies.GetByID(ctx, reply.ID)
	if stored.UsageCount != 2 {
		t.Fatalf("usage must only count successful sends, got %d", stored.UsageCount)
	}
}

func TestQuickReplyCrud(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	replies := NewQuickReplyService(env.store, env.router)

	if _, err := replies.Create(ctx, models.QuickReplyRequest{CompanyID: testCompany, Title: " "}); !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	category := "vendas"
	reply, err := replies.Create(ctx, models.QuickReplyRequest{CompanyID: testCompany, Title: "Preço", Body: "Custa R$ 10", Category: &category})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	updated, err := replies.Update(ctx, reply.ID, models.QuickReplyRequest{Body: "Custa R$ 12"})
	if err != nil || updated.Body != "Custa R$ 12" || updated.Title != "Preço" {
		t.Fatalf("unexpected update %+v err=%v", updated, err)
	}
	list, err := replies.List(ctx, testCompany, "vendas", "")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one reply in category, got %d err=%v", len(list), err)
	}
	if err := replies.Delete(ctx, reply.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := replies.Send(ctx, reply.ID, models.SendQuickReplyRequest{SessionID: "ses_1", To: "5511888888888"}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
