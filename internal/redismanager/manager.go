// Package redismanager issues and resolves short share hashes pointing at
// stored media objects.
package redismanager

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "MP:Media:"

type Manager struct {
	client redis.UniversalClient
}

func NewManager(redisClient redis.UniversalClient) *Manager {
	return &Manager{
		client: redisClient,
	}
}

// Create mints a share hash for an object key with a TTL in seconds.
func (m *Manager) Create(ctx context.Context, objectKey string, ttl int) (string, error) {
	hash := GenerateHash()
	dur := time.Duration(ttl) * time.Second

	if err := m.client.Set(ctx, keyPrefix+hash, objectKey, dur).Err(); err != nil {
		return "", err
	}

	return hash, nil
}

// Resolve returns the object key behind a share hash; redis.Nil when the
// hash is unknown or expired.
func (m *Manager) Resolve(ctx context.Context, hash string) (string, error) {
	return m.client.Get(ctx, keyPrefix+hash).Result()
}

func GenerateHash() string {
	b := make([]byte, 15)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
