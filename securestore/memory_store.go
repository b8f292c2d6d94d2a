package securestore

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and as a degraded fallback
// when the platform keystore is unavailable. FailReads/FailWrites inject
// storage failures so callers' degradation paths can be exercised.
type MemoryStore struct {
	logger *slog.Logger

	mu     sync.Mutex
	values map[string]string

	FailReads  bool
	FailWrites bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger,
		values: make(map[string]string),
	}
}

func (ms *MemoryStore) Get(ctx context.Context, key string) (string, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.FailReads {
		ms.logger.Warn("secure store read failed", slog.String("key", key))
		return "", false
	}
	value, ok := ms.values[key]
	return value, ok
}

func (ms *MemoryStore) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, ok := ms.Get(ctx, key)
	if !ok {
		return false
	}
	return decodeValue(raw, dest, ms.logger)
}

func (ms *MemoryStore) Set(ctx context.Context, key string, value any) bool {
	encoded, err := encodeValue(value)
	if err != nil {
		ms.logger.Warn("failed to encode secure store value",
			slog.String("key", key), slog.Any("error", err))
		return false
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.FailWrites {
		ms.logger.Warn("secure store write failed", slog.String("key", key))
		return false
	}
	ms.values[key] = encoded
	return true
}

func (ms *MemoryStore) Remove(ctx context.Context, key string) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.FailWrites {
		ms.logger.Warn("secure store delete failed", slog.String("key", key))
		return false
	}
	delete(ms.values, key)
	return true
}

func (ms *MemoryStore) ClearAll(ctx context.Context, keys ...string) bool {
	ok := true
	for _, key := range keys {
		if !ms.Remove(ctx, key) {
			ok = false
		}
	}
	return ok
}
