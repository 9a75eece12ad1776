// Package keycache persists FHE public key material per ACL contract so a
// later instance build can reuse it.
package keycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/greenscore/internal/logging"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

const KeyPrefix = "greenscore.acl."

type Entry struct {
	PublicKey    ports.KeyMaterial `json:"publicKey"`
	PublicParams ports.KeyMaterial `json:"publicParams"`
}

type Cache struct {
	store ports.KVStore
	log   *logrus.Entry
}

func New(store ports.KVStore) *Cache {
	return &Cache{store: store, log: logging.NewLogger("fhevm.keycache")}
}

func Key(acl common.Address) string {
	return KeyPrefix + strings.ToLower(acl.Hex())
}

// Load returns ok=false when nothing usable is cached. A corrupt entry is
// treated as absent.
func (c *Cache) Load(ctx context.Context, acl common.Address) (Entry, bool, error) {
	raw, err := c.store.Get(ctx, Key(acl))
	if err != nil {
		if errors.Is(err, ports.ErrKeyNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("load key material for %s: %w", acl.Hex(), err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.log.WithError(err).WithField("acl", acl.Hex()).Warn("ignoring corrupt cached key material")
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Store writes entry. When the backing store is full, other ACL entries are
// evicted and the write is retried once; if that still fails the entry is
// dropped with a warning.
func (c *Cache) Store(ctx context.Context, acl common.Address, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode key material: %w", err)
	}

	key := Key(acl)
	err = c.store.Set(ctx, key, string(payload))
	if err == nil || !errors.Is(err, ports.ErrQuotaExceeded) {
		if err != nil {
			return fmt.Errorf("store key material for %s: %w", acl.Hex(), err)
		}
		return nil
	}

	evicted, evictErr := c.evictExcept(ctx, key)
	if evictErr != nil {
		return fmt.Errorf("evict key material: %w", evictErr)
	}

	if err := c.store.Set(ctx, key, string(payload)); err != nil {
		if errors.Is(err, ports.ErrQuotaExceeded) {
			c.log.WithFields(logrus.Fields{"acl": acl.Hex(), "evicted": evicted}).Warn("key material not cached: storage quota exceeded")
			return nil
		}
		return fmt.Errorf("store key material for %s: %w", acl.Hex(), err)
	}

	c.log.WithFields(logrus.Fields{"acl": acl.Hex(), "evicted": evicted}).Info("evicted cached key material to fit quota")
	return nil
}

func (c *Cache) evictExcept(ctx context.Context, keep string) (int, error) {
	keys, err := c.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return 0, err
	}

	evicted := 0
	for _, key := range keys {
		if key == keep {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}
