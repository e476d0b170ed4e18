package routing

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"callcenter-core/pkg/utils"
)

// RedisReserver implements Reserver with a TTL-guarded Redis lock per agent,
// so reservations stay exclusive across multiple API processes.
type RedisReserver struct {
	rdb *redis.Client
}

func NewRedisReserver(rdb *redis.Client) *RedisReserver {
	return &RedisReserver{rdb: rdb}
}

func reservationKey(agentID string) string {
	return "routing:reservation:" + agentID
}

func (r *RedisReserver) Reserve(ctx context.Context, agentID, taskID string, ttl time.Duration) (bool, error) {
	return utils.AcquireExclusive(ctx, r.rdb, reservationKey(agentID), taskID, ttl)
}

func (r *RedisReserver) Release(ctx context.Context, agentID, taskID string) error {
	_, err := utils.ReleaseExclusive(ctx, r.rdb, reservationKey(agentID), taskID)
	return err
}
