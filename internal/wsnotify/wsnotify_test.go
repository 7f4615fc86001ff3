package wsnotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader().Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := hub.Attach(conn, r.URL.Query().Get("company_id"))
		defer hub.Detach(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, companyID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?company_id=" + companyID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, companyID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount(companyID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients for %s, got %d", n, companyID, hub.ClientCount(companyID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishIsCompanyScoped(t *testing.T) {
	hub := NewHub(8)
	srv := newHubServer(t, hub)
	acme := dial(t, srv, "acme")
	other := dial(t, srv, "other")
	waitClients(t, hub, "acme", 1)
	waitClients(t, hub, "other", 1)

	hub.Publish(NewEvent(EventMessageNew, "acme", "ses_1", map[string]interface{}{"text": "oi"}))

	acme.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := acme.ReadMessage()
	if err != nil {
		t.Fatalf("acme client did not receive the event: %v", err)
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("invalid event json: %v", err)
	}
	if evt.Type != EventMessageNew || evt.CompanyID != "acme" || evt.SessionID != "ses_1" {
		t.Fatalf("unexpected event %+v", evt)
	}

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatalf("event leaked to another company")
	}
}

func TestDetachOnClientClose(t *testing.T) {
	hub := NewHub(8)
	srv := newHubServer(t, hub)
	conn := dial(t, srv, "acme")
	waitClients(t, hub, "acme", 1)

	conn.Close()
	waitClients(t, hub, "acme", 0)

	hub.Publish(NewEvent(EventNotification, "acme", "", nil))
}

func TestFullBufferDropsEvent(t *testing.T) {
	hub := NewHub(1)
	// cliente sem escritor: nada consome o buffer
	client := &Client{ID: "c1", CompanyID: "acme", send: make(chan []byte, 1), done: make(chan struct{})}
	hub.clients["acme"] = map[*Client]struct{}{client: {}}

	hub.Publish(NewEvent(EventMessageNew, "acme", "ses_1", "primeiro"))
	hub.Publish(NewEvent(EventMessageNew, "acme", "ses_1", "segundo"))

	if len(client.send) != 1 {
		t.Fatalf("expected one buffered event, got %d", len(client.send))
	}
	var evt Event
	if err := json.Unmarshal(<-client.send, &evt); err != nil || evt.Payload != "primeiro" {
		t.Fatalf("expected the first event to be kept, got %+v err=%v", evt, err)
	}
}

type memoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (m *memoryPublisher) Publish(evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func TestRelayIgnoresOwnEvents(t *testing.T) {
	local := &memoryPublisher{}
	relay := NewRedisRelay(nil, "whatsapp-hub:events", local)

	own := NewEvent(EventMessageNew, "acme", "ses_1", nil)
	own.Origin = relay.InstanceID()
	data, _ := json.Marshal(own)
	relay.deliver(data)

	remote := NewEvent(EventMessageStatus, "acme", "ses_1", nil)
	remote.Origin = "another-instance"
	data, _ = json.Marshal(remote)
	relay.deliver(data)
	relay.deliver([]byte("{invalid"))

	if len(local.events) != 1 {
		t.Fatalf("expected only the remote event, got %d", len(local.events))
	}
	if got := local.events[0]; got.Type != EventMessageStatus || got.Origin != "" {
		t.Fatalf("unexpected delivered event %+v", got)
	}
}

func TestRelayPublishDoesNotWaitForRedis(t *testing.T) {
	local := &memoryPublisher{}
	relay := NewRedisRelay(nil, "whatsapp-hub:events", local)
	release := make(chan struct{})
	sent := make(chan []byte, 1)
	relay.send = func(ctx context.Context, data []byte) error {
		select {
		case sent <- data:
		default:
		}
		<-release
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer close(release)
	go relay.forward(ctx)

	started := time.Now()
	relay.Publish(NewEvent(EventSessionConnection, "acme", "ses_1", nil))
	select {
	case data := <-sent:
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil || evt.Origin != relay.InstanceID() {
			t.Fatalf("expected event tagged with the instance id, got %+v err=%v", evt, err)
		}
	case <-time.After(time.Second):
		t.Fatalf("event was not forwarded to redis")
	}

	// com o envio travado, a fila enche e os excedentes são descartados
	for i := 0; i < relayBufferSize+10; i++ {
		relay.Publish(NewEvent(EventMessageNew, "acme", "ses_1", i))
	}
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Fatalf("Publish must not wait for redis, took %s", elapsed)
	}
	if len(relay.outbox) != relayBufferSize {
		t.Fatalf("expected a full outbox, got %d", len(relay.outbox))
	}
	local.mu.Lock()
	delivered := len(local.events)
	local.mu.Unlock()
	if delivered != relayBufferSize+11 {
		t.Fatalf("local delivery must not depend on redis, got %d", delivered)
	}
}
