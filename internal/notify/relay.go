package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-rooms/internal/obslog"
)

// Channel is the Redis Pub/Sub channel carrying version bumps.
const Channel = "chess:changes"

type change struct {
	GameID  string `json:"game_id"`
	Version int64  `json:"version"`
	Origin  string `json:"origin"`
}

// Relay publishes local signals to Redis and re-signals remote ones locally.
type Relay struct {
	rdb     *redis.Client
	n       *Notifier
	origin  string
	timeout time.Duration
}

func NewRelay(rdb *redis.Client, n *Notifier) *Relay {
	return &Relay{rdb: rdb, n: n, origin: uuid.NewString(), timeout: 500 * time.Millisecond}
}

// Publish is best effort; lost messages are covered by the notifier's polling.
func (r *Relay) Publish(id string, version int64) {
	raw, err := json.Marshal(change{GameID: id, Version: version, Origin: r.origin})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, Channel, raw).Err(); err != nil {
		obslog.L().Warn("relay_publish_error", zap.String("game_id", id), zap.Int64("version", version), zap.Error(err))
	}
}

// Run subscribes until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	obslog.L().Info("relay_subscribed", zap.String("channel", Channel), zap.String("origin", r.origin))
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var c change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				obslog.L().Warn("relay_decode_error", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			if c.Origin == r.origin || c.GameID == "" {
				continue
			}
			r.n.Wake(c.GameID, c.Version)
		}
	}
}
