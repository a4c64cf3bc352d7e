package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/llm-safety-gateway/models"
)

const (
	incidentKeyPrefix = "incident:"
	tenantIndexPrefix = "incidents:tenant:"
)

// RedisStore shares incident state across gateway replicas. Retention is
// handled with a key TTL refreshed on every write.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore creates a store over the given client. Retention defaults to
// 24 hours when zero.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisStore{client: client, retention: retention}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, dedupeKey string) (*models.SafetyIncident, error) {
	raw, err := s.client.Get(ctx, incidentKeyPrefix+dedupeKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get incident: %w", err)
	}
	var inc models.SafetyIncident
	if err := json.Unmarshal(raw, &inc); err != nil {
		return nil, fmt.Errorf("decode incident %s: %w", dedupeKey, err)
	}
	return &inc, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, incident models.SafetyIncident) error {
	raw, err := json.Marshal(incident)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, incidentKeyPrefix+incident.DedupeKey, raw, s.retention)
	pipe.SAdd(ctx, tenantIndexPrefix+incident.TenantID, incident.DedupeKey)
	pipe.Expire(ctx, tenantIndexPrefix+incident.TenantID, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put incident: %w", err)
	}
	return nil
}

// ListByTenant implements Store. Index entries whose incident key has
// expired are skipped.
func (s *RedisStore) ListByTenant(ctx context.Context, tenantID string) ([]models.SafetyIncident, error) {
	keys, err := s.client.SMembers(ctx, tenantIndexPrefix+tenantID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list incidents: %w", err)
	}
	var out []models.SafetyIncident
	for _, key := range keys {
		inc, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if inc != nil {
			out = append(out, *inc)
		}
	}
	return out, nil
}
