package wsnotify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"whatsapp-hub/internal/observability"
	"whatsapp-hub/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	EventSessionQR         = "session.qr"
	EventSessionConnection = "session.connection"
	EventMessageNew        = "message.new"
	EventMessageStatus     = "message.status"
	EventMessageSent       = "message.sent"
	EventNotification      = "notification"
)

const writeWait = 5 * time.Second

// Event é o envelope entregue aos clientes de uma empresa.
type Event struct {
	Type      string      `json:"type"`
	CompanyID string      `json:"companyId"`
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	Origin    string      `json:"origin,omitempty"`
}

func NewEvent(eventType, companyID, sessionID string, payload interface{}) Event {
	return Event{
		Type:      eventType,
		CompanyID: companyID,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher recebe eventos já confirmados no banco.
type Publisher interface {
	Publish(evt Event)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func Upgrader() *websocket.Upgrader {
	return &upgrader
}

type Client struct {
	ID        string
	CompanyID string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	once      sync.Once
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) writePump(hub *Hub) {
	defer hub.Detach(c)
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				utils.LogDebug("Erro ao escrever no websocket %s: %v", c.ID, err)
				return
			}
		}
	}
}

// Hub mantém os clientes conectados agrupados por empresa. A entrega é
// no máximo uma vez: um cliente com buffer cheio perde o evento.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	bufferSize int
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		bufferSize: bufferSize,
	}
}

// Attach registra a conexão e inicia o escritor dedicado do cliente.
func (h *Hub) Attach(conn *websocket.Conn, companyID string) *Client {
	client := &Client{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		conn:      conn,
		send:      make(chan []byte, h.bufferSize),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.clients[companyID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[companyID] = set
	}
	set[client] = struct{}{}
	h.mu.Unlock()

	observability.WebSocketClients.Inc()
	go client.writePump(h)
	return client
}

func (h *Hub) Detach(client *Client) {
	h.mu.Lock()
	removed := false
	if set, ok := h.clients[client.CompanyID]; ok {
		if _, exists := set[client]; exists {
			delete(set, client)
			removed = true
		}
		if len(set) == 0 {
			delete(h.clients, client.CompanyID)
		}
	}
	h.mu.Unlock()

	client.close()
	if removed {
		observability.WebSocketClients.Dec()
	}
}

func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		utils.LogError("Erro ao serializar evento %s: %v", evt.Type, err)
		return
	}
	observability.BroadcastEvents.WithLabelValues(evt.Type).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[evt.CompanyID] {
		select {
		case client.send <- data:
		default:
			observability.BroadcastDropped.Inc()
			utils.LogWarning("Buffer cheio, evento %s descartado para o cliente %s", evt.Type, client.ID)
		}
	}
}

func (h *Hub) ClientCount(companyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[companyID])
}

// Close encerra todos os clientes (usado no desligamento).
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Detach(c)
	}
}
