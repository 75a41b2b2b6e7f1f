// Package backpressure implements the cross-replica intake-pause gate
// described in SPEC_FULL.md §3.3: when any replica detects it is over its
// configured memory watermark, it flips a shared flag so every replica's
// minute enqueuer skips its pass until the flag clears, rather than each
// replica pausing only its own intake independently.
package backpressure

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const gateKey = "scheduler:intake:paused"

// Gate is a Redis-backed boolean shared across every scheduler replica.
type Gate struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGate(client *redis.Client) *Gate {
	return &Gate{client: client, ttl: 2 * time.Minute}
}

// Pause sets the shared flag. It carries a short TTL so a replica that
// crashes while paused doesn't wedge every other replica's intake
// permanently — a live replica must keep refreshing Pause as long as it
// believes intake should stay paused.
func (g *Gate) Pause(ctx context.Context) error {
	return g.client.Set(ctx, gateKey, "1", g.ttl).Err()
}

// Resume clears the shared flag immediately.
func (g *Gate) Resume(ctx context.Context) error {
	return g.client.Del(ctx, gateKey).Err()
}

// IsPaused reports the current shared state. A Redis error is treated as
// "not paused" — a missing coordination signal should not itself become
// an outage; the minute enqueuer proceeds with its pass. The enqueuer has
// no local watermark check of its own, so while Redis is unreachable
// intake is not paused.
func (g *Gate) IsPaused(ctx context.Context) bool {
	val, err := g.client.Get(ctx, gateKey).Result()
	if err != nil {
		return false
	}
	return val == "1"
}
