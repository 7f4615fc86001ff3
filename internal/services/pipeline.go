package services

import (
	"context"
)

type eventHandler func(ctx context.Context, sessionID string, gen uint64, evt TransportEvent)

// sessionPipeline enfileira os eventos de uma geração de conexão e os
// processa por um único consumidor, na ordem de chegada. Com a fila cheia
// o transporte espera, até o pipeline ser parado.
type sessionPipeline struct {
	sessionID string
	gen       uint64
	events    chan TransportEvent
	handle    eventHandler
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

func newSessionPipeline(parent context.Context, sessionID string, gen uint64, size int, handle eventHandler) *sessionPipeline {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(parent)
	p := &sessionPipeline{
		sessionID: sessionID,
		gen:       gen,
		events:    make(chan TransportEvent, size),
		handle:    handle,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// Push é o EventSink entregue ao transporte.
func (p *sessionPipeline) Push(evt TransportEvent) {
	select {
	case p.events <- evt:
	case <-p.ctx.Done():
	}
}

func (p *sessionPipeline) run() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case evt := <-p.events:
			if p.ctx.Err() != nil {
				return
			}
			p.handle(p.ctx, p.sessionID, p.gen, evt)
		}
	}
}

// Stop não espera o consumidor: ele pode estar aguardando o lock da sessão
// que quem chama Stop está segurando.
func (p *sessionPipeline) Stop() {
	p.cancel()
}

func (p *sessionPipeline) Done() <-chan struct{} {
	return p.done
}
