package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// unlockLua deletes the lock key only if its value matches the caller's
// unique token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLockKey is the single cluster-wide key guarding on-demand quote
// refresh. The lock is advisory and scoped to the whole refresh cycle, not
// to individual symbols.
const refreshLockKey = "lock:quote_refresh"

// RefreshLock implements domain.RefreshLock using Redis SETNX with a TTL and
// a Lua-based conditional unlock.
type RefreshLock struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewRefreshLock creates a RefreshLock backed by the given Client.
func NewRefreshLock(c *Client) *RefreshLock {
	return &RefreshLock{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

// TryAcquire attempts to obtain the refresh lock without blocking. On success
// it returns ok=true and an unlock function that is safe to call more than
// once. ok=false means another holder is refreshing; that is a normal signal,
// not an error.
func (rl *RefreshLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()

	ok, err := rl.rdb.SetNX(ctx, refreshLockKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: acquire refresh lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// Background context so unlock succeeds even if the caller's
		// context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = rl.unlockSc.Run(unlockCtx, rl.rdb, []string{refreshLockKey}, token).Err()
	}

	return unlock, true, nil
}

// Compile-time interface check.
var _ domain.RefreshLock = (*RefreshLock)(nil)
