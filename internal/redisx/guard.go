package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RefundGuard keeps two gateway refunds for the same transaction from
// running at once. The ledger's conditional updates still decide the outcome.
type RefundGuard struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRefundGuard(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RefundGuard {
	return &RefundGuard{rdb: rdb, ttl: ttl, logger: logger}
}

func (g *RefundGuard) Acquire(ctx context.Context, key string) (func(), bool, error) {
	lockKey := fmt.Sprintf(KeyRefundLock, key)
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, lockKey, token, g.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.rdb, []string{lockKey}, token).Err(); err != nil {
			g.logger.Warn("refund lock release failed", zap.String("key", lockKey), zap.Error(err))
		}
	}
	return release, true, nil
}
