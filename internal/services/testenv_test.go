package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"whatsapp-hub/config"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/repositories"
	"whatsapp-hub/internal/wsnotify"

	"gorm.io/driver/sqlite"
)

const testCompany = "acme"

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		DefaultMaxSessions:   3,
		ConnectTimeout:       2 * time.Second,
		SendTimeout:          time.Second,
		MirrorTimeout:        time.Second,
		ReconnectMaxAttempts: 2,
		ReconnectBaseDelay:   10 * time.Millisecond,
		ReconnectMaxDelay:    20 * time.Millisecond,
		InboundQueueSize:     32,
		SendBurst:            10,
		ActiveThreadTTL:      time.Minute,
	}
}

func newTestStore(t *testing.T) *repositories.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name)
	db, err := config.OpenDatabase(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), config.DatabaseConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repositories.NewStore(db, repositories.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond})
}

// recordingPublisher guarda os eventos publicados; onPublish roda antes de guardar.
type recordingPublisher struct {
	mu        sync.Mutex
	events    []wsnotify.Event
	onPublish func(evt wsnotify.Event)
}

func (p *recordingPublisher) Publish(evt wsnotify.Event) {
	if p.onPublish != nil {
		p.onPublish(evt)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) ofType(eventType string) []wsnotify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []wsnotify.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// connectionStatuses lista os status de session.connection da sessão, em ordem.
func (p *recordingPublisher) connectionStatuses(sessionID string) []models.SessionStatus {
	var out []models.SessionStatus
	for _, e := range p.ofType(wsnotify.EventSessionConnection) {
		if e.SessionID != sessionID {
			continue
		}
		payload, _ := e.Payload.(map[string]interface{})
		if s, ok := payload["status"].(models.SessionStatus); ok {
			out = append(out, s)
		}
	}
	return out
}

// lastStatus devolve o último status publicado, que só sai depois de gravado.
func (p *recordingPublisher) lastStatus(sessionID string) models.SessionStatus {
	statuses := p.connectionStatuses(sessionID)
	if len(statuses) == 0 {
		return ""
	}
	return statuses[len(statuses)-1]
}

type fakeConn struct {
	mu        sync.Mutex
	sink      EventSink
	sent      []OutboundMessage
	sendErr   error
	blockSend bool
	readErr   error
	seq       int
	edits     []string
	revoked   []string
	reads     []string
	presence  []bool
	loggedOut bool
	closed    bool
}

func (c *fakeConn) Send(ctx context.Context, msg OutboundMessage) (SendReceipt, error) {
	c.mu.Lock()
	block := c.blockSend
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return SendReceipt{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return SendReceipt{}, c.sendErr
	}
	c.seq++
	c.sent = append(c.sent, msg)
	return SendReceipt{ProtocolID: fmt.Sprintf("OUT%03d", c.seq), Timestamp: time.Now()}, nil
}

func (c *fakeConn) Edit(ctx context.Context, chat, protocolID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, protocolID+"="+text)
	return nil
}

func (c *fakeConn) Revoke(ctx context.Context, chat, protocolID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked = append(c.revoked, protocolID)
	return nil
}

func (c *fakeConn) MarkRead(ctx context.Context, chat, sender string, protocolIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = append(c.reads, protocolIDs...)
	return c.readErr
}

func (c *fakeConn) SendPresence(ctx context.Context, to string, composing bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = append(c.presence, composing)
	return nil
}

func (c *fakeConn) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) emit(evt TransportEvent) {
	c.sink(evt)
}

// fakeTransport abre fakeConns. Com autoConnect a conexão fica pronta logo
// após abrir; com qrCode um QR é emitido antes.
type fakeTransport struct {
	mu          sync.Mutex
	opens       map[string]int
	conns       map[string]*fakeConn
	openErr     error
	openDelay   time.Duration
	autoConnect bool
	qrCode      string
	phone       string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		opens:       map[string]int{},
		conns:       map[string]*fakeConn{},
		autoConnect: true,
		phone:       "5511999990000",
	}
}

func (f *fakeTransport) Open(ctx context.Context, sessionID string, auth *models.AuthState, sink EventSink) (Connection, error) {
	f.mu.Lock()
	f.opens[sessionID]++
	openErr, delay, auto, qr, phone := f.openErr, f.openDelay, f.autoConnect, f.qrCode, f.phone
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	conn := &fakeConn{sink: sink}
	f.mu.Lock()
	f.conns[sessionID] = conn
	f.mu.Unlock()

	if qr != "" {
		sink(QREvent{Code: qr})
	}
	if auto {
		sink(ConnectedEvent{Phone: phone})
	}
	return conn, nil
}

func (f *fakeTransport) openCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[sessionID]
}

func (f *fakeTransport) conn(sessionID string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[sessionID]
}

func (f *fakeTransport) setOpenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

type testEnv struct {
	store     *repositories.Store
	registry  *Registry
	settings  *SettingsService
	contacts  *ContactService
	router    *MessageRouter
	manager   *ConnectionManager
	transport *fakeTransport
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T, maxSessions int) *testEnv {
	t.Helper()
	cfg := testSessionConfig()
	cfg.DefaultMaxSessions = maxSessions

	env := &testEnv{
		store:     newTestStore(t),
		registry:  NewRegistry(cfg.SendRate, cfg.SendBurst),
		transport: newFakeTransport(),
		publisher: &recordingPublisher{},
	}
	env.settings = NewSettingsService(env.store, cfg.DefaultMaxSessions)
	env.contacts = NewContactService(env.store, env.registry, cfg.ActiveThreadTTL, cfg.MirrorTimeout)
	env.router = NewMessageRouter(cfg, env.store, env.registry, env.contacts, env.settings, env.publisher, RouterOptions{})
	env.manager = NewConnectionManager(cfg, env.store, env.transport, env.registry, env.settings, env.publisher, env.router)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		env.manager.CloseAllConnections(ctx)
	})
	return env
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// connect cria (se preciso) e conecta a sessão, esperando o status CONNECTED.
func (env *testEnv) connect(t *testing.T, sessionID string) *fakeConn {
	t.Helper()
	if _, err := env.manager.CreateOrConnect(context.Background(), sessionID, testCompany); err != nil {
		t.Fatalf("CreateOrConnect(%s) failed: %v", sessionID, err)
	}
	waitFor(t, sessionID+" connected", func() bool {
		_, ok := env.registry.Connection(sessionID)
		return ok && env.publisher.lastStatus(sessionID) == models.SessionConnected
	})
	return env.transport.conn(sessionID)
}

func (env *testEnv) messageCount(t *testing.T, sessionID, remote string) int64 {
	t.Helper()
	contact, err := env.store.Contacts.GetBySessionRemote(context.Background(), sessionID, remote)
	if errors.Is(err, models.ErrNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("GetBySessionRemote failed: %v", err)
	}
	_, total, err := env.store.Messages.ListByContact(context.Background(), contact.ID, 0, 1)
	if err != nil {
		t.Fatalf("ListByContact failed: %v", err)
	}
	return total
}

func textRequest(sessionID, to, text string) models.SendMessageRequest {
	return models.SendMessageRequest{
		SessionID: sessionID,
		To:        to,
		Payload:   models.OutboundPayload{Kind: models.KindText, Text: text},
	}
}

func inboundText(protocolID, remote, text string) InboundMessage {
	return InboundMessage{
		ProtocolID: protocolID,
		RemoteJID:  remote,
		SenderJID:  remote,
		PushName:   "Cliente",
		Kind:       models.KindText,
		Content:    text,
		Timestamp:  time.Now(),
	}
}
