package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pma-pay/pma_pay/internal/wallet"
)

const redisKeyPrefix = "securestore:v1:"

// RedisStore keeps the sealed wallet blobs in Redis.
type RedisStore struct {
	client *redis.Client
	cipher *Cipher
}

// NewRedisStore builds a secure store backed by Redis.
func NewRedisStore(client *redis.Client, cipher *Cipher) *RedisStore {
	return &RedisStore{client: client, cipher: cipher}
}

// Save writes the full record in one MULTI/EXEC transaction so readers
// never observe a partially replaced record.
func (s *RedisStore) Save(ctx context.Context, w wallet.Wallet) error {
	blobs, err := encodeRecord(s.cipher, w)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for _, key := range blobKeys() {
		if blob, ok := blobs[key]; ok {
			pipe.Set(ctx, redisKeyPrefix+key, blob, 0)
		} else {
			pipe.Del(ctx, redisKeyPrefix+key)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist wallet record: %w", err)
	}
	return nil
}

// Load reads the stored record, returning (nil, nil) when absent.
func (s *RedisStore) Load(ctx context.Context) (*wallet.Wallet, error) {
	blobs := make(map[string][]byte)
	for _, key := range blobKeys() {
		blob, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		blobs[key] = blob
	}
	return decodeRecord(s.cipher, blobs)
}

// Clear deletes every wallet blob. Clearing an empty store succeeds.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys := make([]string, 0, len(blobKeys()))
	for _, key := range blobKeys() {
		keys = append(keys, redisKeyPrefix+key)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear wallet record: %w", err)
	}
	return nil
}
