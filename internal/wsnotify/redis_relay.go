package wsnotify

import (
	"context"
	"encoding/json"
	"time"

	"whatsapp-hub/internal/observability"
	"whatsapp-hub/internal/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// relayBufferSize limita os eventos aguardando envio ao redis.
const relayBufferSize = 256

// RedisRelay replica os eventos entre instâncias via pub/sub. Cada evento
// leva o id da instância de origem para que ela não o entregue duas vezes.
// O envio ao redis sai de uma goroutine própria; Publish nunca espera a rede.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
	local      Publisher
	outbox     chan []byte
	send       func(ctx context.Context, data []byte) error
}

func NewRedisRelay(client *redis.Client, channel string, local Publisher) *RedisRelay {
	r := &RedisRelay{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		local:      local,
		outbox:     make(chan []byte, relayBufferSize),
	}
	r.send = func(ctx context.Context, data []byte) error {
		return r.client.Publish(ctx, r.channel, data).Err()
	}
	return r
}

func (r *RedisRelay) InstanceID() string {
	return r.instanceID
}

func (r *RedisRelay) Publish(evt Event) {
	r.local.Publish(evt)

	evt.Origin = r.instanceID
	data, err := json.Marshal(evt)
	if err != nil {
		utils.LogError("Erro ao serializar evento para o redis: %v", err)
		return
	}
	select {
	case r.outbox <- data:
	default:
		observability.BroadcastDropped.Inc()
		utils.LogWarning("Fila do redis cheia, evento %s não replicado", evt.Type)
	}
}

// forward envia ao redis os eventos enfileirados por Publish.
func (r *RedisRelay) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-r.outbox:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := r.send(pctx, data); err != nil {
				utils.LogWarning("Erro ao publicar evento no redis: %v", err)
			}
			cancel()
		}
	}
}

// Run envia a fila local e consome o canal até ctx ser cancelado.
func (r *RedisRelay) Run(ctx context.Context) error {
	go r.forward(ctx)

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	utils.LogInfo("Relay redis inscrito em %s (instância %s)", r.channel, r.instanceID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver([]byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) deliver(data []byte) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		utils.LogWarning("Evento inválido recebido do redis: %v", err)
		return
	}
	if evt.Origin == r.instanceID {
		return
	}
	evt.Origin = ""
	r.local.Publish(evt)
}
