package services

import (
	"context"
	"time"

	"whatsapp-hub/internal/models"
)

// Transport abre conexões com a rede de mensagens. Os eventos da conexão
// são entregues a sink na ordem em que chegam.
type Transport interface {
	Open(ctx context.Context, sessionID string, auth *models.AuthState, sink EventSink) (Connection, error)
}

type EventSink func(evt TransportEvent)

// Connection é uma conexão aberta de uma sessão.
type Connection interface {
	Send(ctx context.Context, msg OutboundMessage) (SendReceipt, error)
	Edit(ctx context.Context, chat, protocolID, text string) error
	Revoke(ctx context.Context, chat, protocolID string) error
	MarkRead(ctx context.Context, chat, sender string, protocolIDs []string) error
	SendPresence(ctx context.Context, to string, composing bool) error
	Logout(ctx context.Context) error
	Close()
}

// MessageRef identifica uma mensagem já trocada na conversa (citação, reação).
type MessageRef struct {
	ProtocolID string
	SenderJID  string
	FromMe     bool
	Content    string
}

type OutboundMedia struct {
	Data     []byte
	MimeType string
	FileName string
}

type OutboundMessage struct {
	To        string
	Payload   *models.OutboundPayload
	Media     *OutboundMedia
	Reference *MessageRef
}

type SendReceipt struct {
	ProtocolID string
	Timestamp  time.Time
}

// InboundMessage é uma mensagem recebida (ou enviada por outro aparelho da conta).
type InboundMessage struct {
	ProtocolID        string
	RemoteJID         string
	SenderJID         string
	PushName          string
	FromMe            bool
	IsGroup           bool
	IsStatusBroadcast bool
	Kind              models.MessageKind
	Content           string
	QuotedID          string
	MimeType          string
	FileName          string
	Timestamp         time.Time
	// FetchMedia baixa o conteúdo da mídia; nil quando não há mídia.
	FetchMedia func(ctx context.Context) ([]byte, error)
}

type Receipt struct {
	RemoteJID   string
	ProtocolIDs []string
	Status      models.MessageStatus
	Timestamp   time.Time
}

type TransportEvent interface {
	transportEvent()
}

type QREvent struct{ Code string }

// PairedEvent chega depois da leitura do QR, antes da conexão ficar pronta.
type PairedEvent struct {
	DeviceJID string
	Phone     string
	PushName  string
}

type ConnectedEvent struct{ Phone string }

type DisconnectedEvent struct{ Err error }

type LoggedOutEvent struct{ Reason string }

// CredentialsEvent carrega a identidade do dispositivo a ser gravada em auth_state.
type CredentialsEvent struct {
	DeviceJID string
	PushName  string
}

type MessageEvent struct{ Message InboundMessage }

type ReceiptEvent struct{ Receipt Receipt }

func (QREvent) transportEvent()           {}
func (PairedEvent) transportEvent()       {}
func (ConnectedEvent) transportEvent()    {}
func (DisconnectedEvent) transportEvent() {}
func (LoggedOutEvent) transportEvent()    {}
func (CredentialsEvent) transportEvent()  {}
func (MessageEvent) transportEvent()      {}
func (ReceiptEvent) transportEvent()      {}
