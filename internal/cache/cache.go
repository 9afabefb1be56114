// Package cache provides the TTL key-value store used for PMS snapshots and
// device sync payloads. Two backends exist: an in-process ttlcache and Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache is a get/set/delete store with per-entry TTL.
type Cache interface {
	// Get returns the stored bytes and whether the key was present and fresh.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON loads key into dst. found is false on a miss.
func GetJSON(ctx context.Context, c Cache, key string, dst any) (bool, error) {
	raw, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores value as JSON under key.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// Key helpers keep the key space in one place.

func PMSRoomKey(room string) string {
	return "pms:room:" + room
}

func DeviceSyncKey(deviceID string) string {
	return "sync:device:" + deviceID
}
