package services

import (
	"context"
	"sync"
	"time"

	"whatsapp-hub/internal/models"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// lifetime dura do pedido de conexão até o Disconnect; sobrevive às reconexões.
type lifetime struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type sessionEntry struct {
	companyID    string
	status       models.SessionStatus
	qr           string
	phone        string
	conn         Connection
	generation   uint64
	reconnecting bool
	life         *lifetime
	pipeline     *sessionPipeline
}

// SessionSnapshot é uma cópia do estado vivo de uma sessão.
type SessionSnapshot struct {
	CompanyID    string
	Status       models.SessionStatus
	QRCode       string
	Phone        string
	Generation   uint64
	Reconnecting bool
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type throttle struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Registry guarda as conexões vivas por sessão. Só ele altera os handles;
// Lock serializa conectar, desconectar e enviar de uma mesma sessão.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]*sessionEntry
	locks      map[string]*keyLock
	throttles  map[string]*throttle
	generation uint64

	sendRate  rate.Limit
	sendBurst int
}

func NewRegistry(sendRate float64, sendBurst int) *Registry {
	if sendBurst < 1 {
		sendBurst = 1
	}
	limit := rate.Limit(sendRate)
	if sendRate <= 0 {
		limit = rate.Inf
	}
	return &Registry{
		entries:   make(map[string]*sessionEntry),
		locks:     make(map[string]*keyLock),
		throttles: make(map[string]*throttle),
		sendRate:  limit,
		sendBurst: sendBurst,
	}
}

// Lock trava a sessão id e devolve a função que libera.
func (r *Registry) Lock(id string) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &keyLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) nextGeneration() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	return r.generation
}

func (r *Registry) put(id string, entry *sessionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = entry
}

func (r *Registry) remove(id string) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.entries[id]
	delete(r.entries, id)
	return entry
}

// removeIf remove a entrada somente se ela ainda pertence à geração gen.
func (r *Registry) removeIf(id string, gen uint64) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.generation != gen {
		return nil
	}
	delete(r.entries, id)
	return entry
}

func (r *Registry) entry(id string) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// current devolve a entrada se gen ainda é a geração viva da sessão.
func (r *Registry) current(id string, gen uint64) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.generation != gen {
		return nil
	}
	return entry
}

func (r *Registry) update(id string, gen uint64, fn func(e *sessionEntry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.generation != gen {
		return false
	}
	fn(entry)
	return true
}

func (r *Registry) Snapshot(id string) (SessionSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return SessionSnapshot{}, false
	}
	return SessionSnapshot{
		CompanyID:    entry.companyID,
		Status:       entry.status,
		QRCode:       entry.qr,
		Phone:        entry.phone,
		Generation:   entry.generation,
		Reconnecting: entry.reconnecting,
	}, true
}

// Connection devolve a conexão quando a sessão está CONNECTED.
func (r *Registry) Connection(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.status != models.SessionConnected || entry.conn == nil {
		return nil, false
	}
	return entry.conn, true
}

// LiveCount conta as sessões da empresa com conexão viva ou pendente, exceto except.
func (r *Registry) LiveCount(companyID, except string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, entry := range r.entries {
		if id == except || entry.companyID != companyID {
			continue
		}
		n++
	}
	return n
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Throttle devolve o limitador e o disjuntor de envio da sessão.
func (r *Registry) Throttle(id string) (*rate.Limiter, *gobreaker.CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.throttles[id]
	if !ok {
		t = &throttle{
			limiter: rate.NewLimiter(r.sendRate, r.sendBurst),
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        "send:" + id,
				MaxRequests: 1,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 5
				},
			}),
		}
		r.throttles[id] = t
	}
	return t.limiter, t.breaker
}

func (r *Registry) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.throttles, id)
}
