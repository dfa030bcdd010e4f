package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sugawarayuuta/sonnet"

	"github.com/vietddude/ethmirror/internal/core/domain"
)

// EventPublisher publishes sync events as JSON on a pub/sub channel.
type EventPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewEventPublisher returns a publisher on channel sharing c's connection.
func (c *Client) NewEventPublisher(channel string) *EventPublisher {
	return &EventPublisher{rdb: c.rdb, channel: channel}
}

// Emit publishes ev. Subscribers that are not connected miss it.
func (p *EventPublisher) Emit(ctx context.Context, ev domain.Event) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the Client.
func (p *EventPublisher) Close() error { return nil }

// EncodeEvent is the wire form of a published event.
func EncodeEvent(ev domain.Event) ([]byte, error) {
	payload, err := sonnet.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return payload, nil
}
