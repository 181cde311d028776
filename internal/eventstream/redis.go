package eventstream

import (
	"context"
	"encoding/json"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher publishes events on a per-subject Redis channel so every
// node's Relay can hand them to its local Hub.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.client == nil {
		return ErrHubUnavailable
	}
	if strings.TrimSpace(event.Name) == "" {
		return ErrInvalidEvent
	}
	subject := strings.TrimSpace(event.SubjectID)
	if subject == "" {
		return ErrInvalidSubject
	}
	event.SubjectID = subject

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.prefix+subject, payload).Err()
}

// Relay forwards events published through Redis into the local Hub.
type Relay struct {
	client *redis.Client
	hub    *Hub
	prefix string
	log    *zap.Logger
}

func NewRelay(client *redis.Client, hub *Hub, prefix string, log *zap.Logger) *Relay {
	return &Relay{client: client, hub: hub, prefix: prefix, log: log}
}

// Run blocks until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.handle(msg)
		}
	}
}

func (r *Relay) handle(msg *redis.Message) {
	if msg == nil {
		return
	}
	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		r.log.Warn("dropping malformed stream event", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	subject := strings.TrimPrefix(msg.Channel, r.prefix)
	if subject == "" {
		return
	}
	r.hub.deliver(subject, event)
}
