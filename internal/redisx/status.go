package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/autoshop-checkout/internal/reconcile"
)

// setIfGeneration stores the view only while the generation counter still
// holds the value the reader saw before going to the database.
var setIfGeneration = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// generationTTL outlives any request that could still hold a generation.
const generationTTL = 24 * time.Hour

// StatusCache keeps the last known transaction status for polling clients.
// The database stays authoritative; entries are dropped on every commit.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatusCache(rdb *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: ttl}
}

func (c *StatusCache) Get(ctx context.Context, transactionID string) (*reconcile.StatusView, bool, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyTransactionStatus, transactionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var view reconcile.StatusView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, false, fmt.Errorf("decode cached status: %w", err)
	}
	return &view, true, nil
}

func (c *StatusCache) Generation(ctx context.Context, transactionID string) (int64, error) {
	gen, err := c.rdb.Get(ctx, fmt.Sprintf(KeyTransactionStatusGen, transactionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *StatusCache) Set(ctx context.Context, view reconcile.StatusView, generation int64) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return err
	}
	keys := []string{
		fmt.Sprintf(KeyTransactionStatus, view.TransactionID),
		fmt.Sprintf(KeyTransactionStatusGen, view.TransactionID),
	}
	return setIfGeneration.Run(ctx, c.rdb, keys, strconv.FormatInt(generation, 10), raw, c.ttl.Milliseconds()).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, transactionID string) error {
	genKey := fmt.Sprintf(KeyTransactionStatusGen, transactionID)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, fmt.Sprintf(KeyTransactionStatus, transactionID))
		return nil
	})
	return err
}
