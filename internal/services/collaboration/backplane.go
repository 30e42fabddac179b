package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"codoc/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Backplane carries edit events between server processes so that rooms span
// every instance behind a load balancer.
type Backplane interface {
	Publish(ctx context.Context, event models.EditEvent) error
	// Subscribe blocks, invoking handle for events published by other instances, until ctx ends.
	Subscribe(ctx context.Context, handle func(models.EditEvent)) error
	Close() error
}

// RedisBackplane publishes each event on "<prefix><event>:<documentID>" and
// pattern-subscribes to "<prefix>*".
type RedisBackplane struct {
	client     *redis.Client
	prefix     string
	instanceID string
}

type backplaneMessage struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func NewRedisBackplane(client *redis.Client, prefix string) *RedisBackplane {
	return &RedisBackplane{
		client:     client,
		prefix:     prefix,
		instanceID: uuid.NewString(),
	}
}

// InstanceID identifies this process on the backplane.
func (b *RedisBackplane) InstanceID() string {
	return b.instanceID
}

func (b *RedisBackplane) Publish(ctx context.Context, event models.EditEvent) error {
	body, err := json.Marshal(backplaneMessage{Origin: b.instanceID, Payload: event.Payload})
	if err != nil {
		return fmt.Errorf("encode backplane message: %w", err)
	}

	if err := b.client.Publish(ctx, ChannelName(b.prefix, event.Kind, event.DocumentID), body).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

func (b *RedisBackplane) Subscribe(ctx context.Context, handle func(models.EditEvent)) error {
	pubsub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reading
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to redis: %w", err)
	}
	log.Printf("✓ Subscribed to relay backplane %s* (instance %s)", b.prefix, b.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, origin, err := b.decode(msg.Channel, msg.Payload)
			if err != nil {
				log.Printf("⚠️  Dropping backplane message on %s: %v", msg.Channel, err)
				continue
			}
			if origin == b.instanceID {
				continue
			}
			handle(event)
		}
	}
}

func (b *RedisBackplane) decode(channel, payload string) (models.EditEvent, string, error) {
	kind, documentID, err := ParseChannelName(b.prefix, channel)
	if err != nil {
		return models.EditEvent{}, "", err
	}

	var msg backplaneMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return models.EditEvent{}, "", fmt.Errorf("decode backplane message: %w", err)
	}

	return models.EditEvent{DocumentID: documentID, Kind: kind, Payload: msg.Payload}, msg.Origin, nil
}

func (b *RedisBackplane) Close() error {
	return b.client.Close()
}

// ChannelName is the pub/sub channel for one event kind in one room.
func ChannelName(prefix string, kind models.EventKind, documentID string) string {
	return prefix + kind.Name() + ":" + documentID
}

// ParseChannelName reverses ChannelName.
func ParseChannelName(prefix, channel string) (models.EventKind, string, error) {
	rest, ok := strings.CutPrefix(channel, prefix)
	if !ok {
		return 0, "", fmt.Errorf("channel %q lacks prefix %q", channel, prefix)
	}

	name, documentID, ok := strings.Cut(rest, ":")
	if !ok || documentID == "" {
		return 0, "", fmt.Errorf("channel %q has no document id", channel)
	}

	kind, err := models.ParseEventKind(name)
	if err != nil {
		return 0, "", err
	}
	return kind, documentID, nil
}
