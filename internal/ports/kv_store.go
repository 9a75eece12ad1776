package ports

import (
	"context"
	"errors"
)

var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// KVStore is a namespaced string key-value store. Keys use dotted
// namespaces such as "wallet.connected".
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
