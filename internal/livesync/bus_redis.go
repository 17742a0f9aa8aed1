package livesync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const changeChannel = "lifeconnect:changes"

// RedisBus carries change events over Redis pub/sub so every running server
// instance sees mutations made by its peers. go-redis re-establishes the
// subscription after transport interruptions; events published while the
// connection was down are lost, which is within the at-most-once-effective
// contract (observers resync).
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBus wraps a connected client.
func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger}
}

// Publish serializes the event onto the shared channel. Failures are logged,
// not returned: the store mutation already succeeded and must not be rolled
// back over a lost live update.
func (b *RedisBus) Publish(ctx context.Context, ev ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.ErrorContext(ctx, "livesync: marshal change event", "error", err)
		return
	}
	if err := b.client.Publish(ctx, changeChannel, payload).Err(); err != nil {
		b.logger.WarnContext(ctx, "livesync: publish change event",
			"table", ev.Table,
			"row_id", ev.RowID,
			"error", err,
		)
	}
}

// Subscribe attaches a filtered observer backed by a dedicated pub/sub
// connection.
func (b *RedisBus) Subscribe(ctx context.Context, filter Filter) *Subscription {
	pubsub := b.client.Subscribe(ctx, changeChannel)
	out := make(chan ChangeEvent, subscriberBuffer)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.WarnContext(ctx, "livesync: drop malformed change event", "error", err)
				continue
			}
			if !filter.Matches(ev) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = pubsub.Close()
		})
	}
	stop := context.AfterFunc(ctx, cancel)

	return &Subscription{C: out, cancel: func() {
		stop()
		cancel()
	}}
}
