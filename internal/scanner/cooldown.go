package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CooldownStore tracks per-(user, symbol) analysis cooldowns. With Redis
// available the cooldowns are shared across processes; without it an
// in-memory map keeps single-process deployments correct.
type CooldownStore struct {
	client *redis.Client
	log    zerolog.Logger

	mu  sync.Mutex
	mem map[string]time.Time
}

// NewCooldownStore builds the store. client may be nil for memory-only
// operation.
func NewCooldownStore(client *redis.Client, log zerolog.Logger) *CooldownStore {
	return &CooldownStore{
		client: client,
		log:    log,
		mem:    make(map[string]time.Time),
	}
}

func cooldownKey(userID int64, symbol string) string {
	return fmt.Sprintf("scanner:cooldown:%d:%s", userID, symbol)
}

// Acquire reports whether the (user, symbol) pair is off cooldown and, if
// so, starts a new cooldown of the given duration.
func (c *CooldownStore) Acquire(ctx context.Context, userID int64, symbol string, ttl time.Duration) bool {
	key := cooldownKey(userID, symbol)

	if c.client != nil {
		ok, err := c.client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
		if err == nil {
			return ok
		}
		c.log.Warn().Err(err).Msg("redis cooldown check failed, using in-memory fallback")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if until, exists := c.mem[key]; exists && now.Before(until) {
		return false
	}
	c.mem[key] = now.Add(ttl)

	// Opportunistic cleanup keeps the fallback map bounded.
	for k, until := range c.mem {
		if now.After(until) {
			delete(c.mem, k)
		}
	}
	return true
}
