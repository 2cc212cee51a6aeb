package repository

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nestgold/nestgold/internal/pkg/cache"
)

const (
	scanCount       = 500
	deleteBatchSize = 500
)

type queueRepository struct {
	client *redis.Client
}

// NewQueueRepository inspects job keys in Redis. A nil client uses the shared
// cache connection, resolved on first use so it can be built before the
// cache is set up.
func NewQueueRepository(client *redis.Client) QueueRepository {
	return &queueRepository{client: client}
}

func (r *queueRepository) redis() *redis.Client {
	if r.client != nil {
		return r.client
	}
	return cache.GetClient()
}

func (r *queueRepository) GetValue(key string) (string, error) {
	return r.redis().Get(context.Background(), key).Result()
}

// GetTTL returns -1 on error, matching Redis for keys without expiry.
func (r *queueRepository) GetTTL(key string) (time.Duration, error) {
	ttl, err := r.redis().TTL(context.Background(), key).Result()
	if err != nil {
		return -1, err
	}
	return ttl, nil
}

func (r *queueRepository) GetListLength(key string) (int64, error) {
	return r.redis().LLen(context.Background(), key).Result()
}

// FindKeysByPatterns SCANs every pattern and returns the sorted union.
func (r *queueRepository) FindKeysByPatterns(patterns []string) ([]string, error) {
	ctx := context.Background()
	seen := make(map[string]struct{})

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		iter := r.redis().Scan(ctx, 0, pattern, scanCount).Iterator()
		for iter.Next(ctx) {
			seen[iter.Val()] = struct{}{}
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteKeys deletes in batches and returns how many keys existed.
func (r *queueRepository) DeleteKeys(keys []string) (int64, error) {
	ctx := context.Background()
	var deleted int64
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		n, err := r.redis().Del(ctx, keys[start:end]...).Result()
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}
