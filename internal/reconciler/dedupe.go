package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"callcenter-core/pkg/utils"
)

// Deduper remembers which event deliveries were already processed. The mark
// is written only after an event's side effects settled; a delivery that
// failed mid-apply stays unmarked so the provider's redelivery gets through.
type Deduper interface {
	// Seen reports whether key was already processed.
	Seen(ctx context.Context, key string) (bool, error)

	// MarkProcessed records key once its side effects were applied.
	MarkProcessed(ctx context.Context, key string) error
}

// RedisDeduper shares the processed-event set across instances. Marks
// expire after the TTL; the provider does not redeliver beyond that window.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.rdb.Exists(ctx, "webhook:event:"+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) MarkProcessed(ctx context.Context, key string) error {
	_, err := utils.MarkOnce(ctx, d.rdb, "webhook:event:"+key, d.ttl)
	return err
}

// MemoryDeduper is the single-process fallback used by tests and local runs.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}
	_, ok := d.seen[key]
	return ok, nil
}

func (d *MemoryDeduper) MarkProcessed(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = d.now()
	return nil
}
