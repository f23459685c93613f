package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/autoshop-checkout/internal/config"
)

const (
	// transaction_status:{transaction_id} -> StatusView JSON
	KeyTransactionStatus = "transaction_status:%s"

	// transaction_status_gen:{transaction_id} -> counter bumped on invalidation
	KeyTransactionStatusGen = "transaction_status_gen:%s"

	// refund_lock:{guard key} -> random token
	KeyRefundLock = "refund_lock:%s"
)

func New(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	return rdb, nil
}
