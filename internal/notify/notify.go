package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventLockAcquired EventType = "lock.acquired"
	EventLockReleased EventType = "lock.released"
	EventRowCreated   EventType = "row.created"
	EventRowUpdated   EventType = "row.updated"
	// EventRowDeleted also ends any lock on the row; no lock.released follows.
	EventRowDeleted   EventType = "row.deleted"
	EventSchemaChange EventType = "schema.changed"
)

// Event tells clients viewing a table that something changed.
type Event struct {
	Type        EventType  `json:"type"`
	TableID     uuid.UUID  `json:"table_id"`
	RowID       *uuid.UUID `json:"row_id,omitempty"`
	PrincipalID uuid.UUID  `json:"principal_id"`
	At          time.Time  `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop drops every event; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// RedisPublisher publishes events as JSON on "<prefix>:table:<id>".
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisPublisher(ctx context.Context, url, prefix string, logger *slog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("notify: invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("notify: failed to ping redis: %w", err)
	}
	return newRedisPublisher(rdb, prefix, logger), nil
}

func newRedisPublisher(rdb *redis.Client, prefix string, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, prefix: prefix, logger: logger.With("component", "notify")}
}

func (p *RedisPublisher) Channel(tableID uuid.UUID) string {
	return fmt.Sprintf("%s:table:%s", p.prefix, tableID)
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.Channel(event.TableID), payload).Err(); err != nil {
		return fmt.Errorf("notify: failed to publish %s: %w", event.Type, err)
	}
	p.logger.DebugContext(ctx, "Event published", "type", event.Type, "table_id", event.TableID)
	return nil
}

// Subscribe streams the events of one table until ctx is done.
func (p *RedisPublisher) Subscribe(ctx context.Context, tableID uuid.UUID) (<-chan Event, error) {
	sub := p.rdb.Subscribe(ctx, p.Channel(tableID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("notify: failed to subscribe: %w", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					p.logger.Warn("Dropping malformed event", "error", err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
