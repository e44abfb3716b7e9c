// Package keystore caches the registration keys seen per user in a local
// BoltDB database. The cache is bounded: when it holds more distinct keys
// than configured, the globally least-recently-used ones are evicted.
package keystore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	apperrors "github.com/turnbase/hostd/internal/platform/errors"
	"github.com/turnbase/hostd/internal/schedule"
	"github.com/turnbase/hostd/internal/turnfile"
)

const (
	infoBucket    = "keyinfo"
	payloadBucket = "keypayload"
)

// keySeparator joins user id and key id in bucket keys. Key ids are hex so
// the separator cannot collide with them.
const keySeparator = "/"

// ErrNotFound indicates the requested key is not cached. A key whose index
// entry exists but whose payload is missing counts as not cached.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "key not found")

// Info describes one cached key.
type Info struct {
	KeyID    string        `json:"key_id"`
	LastUsed schedule.Time `json:"last_used"`
	LastGame int32         `json:"last_game"`
	UseCount int64         `json:"use_count"`
}

// Store is a BoltDB-backed registration-key cache.
//
// MaxStoredKeys bounds the number of distinct keys kept across all users.
// Zero disables the cache entirely; a negative value removes the bound.
type Store struct {
	db            *bbolt.DB
	maxStoredKeys int
}

// Open opens the key cache at the provided path.
func Open(path string, maxStoredKeys int) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("keystore path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open keystore db: %w", err)
	}

	store := &Store{db: db, maxStoredKeys: maxStoredKeys}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{infoBucket, payloadBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func cacheKey(userID, keyID string) []byte {
	return []byte(userID + keySeparator + keyID)
}

// AddKey records one use of a registration key by a user. The first use
// persists the payload and may evict older keys; later uses only refresh the
// usage metadata. When the cache is disabled this is a no-op.
func (s *Store) AddKey(ctx context.Context, userID string, key turnfile.Key, now schedule.Time, gameID int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("keystore is not configured")
	}
	if s.maxStoredKeys == 0 {
		return nil
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if key.IsZero() {
		return fmt.Errorf("key payload is required")
	}

	ck := cacheKey(userID, key.ID())
	return s.db.Update(func(tx *bbolt.Tx) error {
		infos := tx.Bucket([]byte(infoBucket))
		payloads := tx.Bucket([]byte(payloadBucket))
		if infos == nil || payloads == nil {
			return fmt.Errorf("keystore buckets are missing")
		}

		info := Info{KeyID: key.ID()}
		if raw := infos.Get(ck); raw != nil {
			if err := json.Unmarshal(raw, &info); err != nil {
				return fmt.Errorf("unmarshal key info: %w", err)
			}
		}
		info.UseCount++
		info.LastUsed = now
		info.LastGame = gameID

		// A key whose payload was evicted while its index entry survived
		// counts as new again, so the payload gets re-persisted.
		firstUse := info.UseCount == 1 || payloads.Get(ck) == nil
		if firstUse {
			if err := payloads.Put(ck, key.Payload); err != nil {
				return fmt.Errorf("store key payload: %w", err)
			}
		}
		raw, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("marshal key info: %w", err)
		}
		if err := infos.Put(ck, raw); err != nil {
			return fmt.Errorf("store key info: %w", err)
		}

		if firstUse {
			return s.evict(infos, payloads)
		}
		return nil
	})
}

// evict removes the globally least-recently-used keys until the index fits
// within the bound. The payload is deleted before the index entry so an
// interrupted eviction leaves the key looking freshly unused, never corrupt.
func (s *Store) evict(infos, payloads *bbolt.Bucket) error {
	if s.maxStoredKeys < 0 {
		return nil
	}

	type entry struct {
		key      []byte
		lastUsed schedule.Time
	}
	var entries []entry
	err := infos.ForEach(func(k, v []byte) error {
		var info Info
		if err := json.Unmarshal(v, &info); err != nil {
			return fmt.Errorf("unmarshal key info: %w", err)
		}
		entries = append(entries, entry{key: append([]byte(nil), k...), lastUsed: info.LastUsed})
		return nil
	})
	if err != nil {
		return err
	}
	if len(entries) <= s.maxStoredKeys {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].lastUsed != entries[j].lastUsed {
			return entries[i].lastUsed < entries[j].lastUsed
		}
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
	for _, e := range entries[:len(entries)-s.maxStoredKeys] {
		if err := payloads.Delete(e.key); err != nil {
			return fmt.Errorf("evict key payload: %w", err)
		}
		if err := infos.Delete(e.key); err != nil {
			return fmt.Errorf("evict key info: %w", err)
		}
	}
	return nil
}

// ListKeys returns the cached key metadata for a user, most recently used
// first.
func (s *Store) ListKeys(ctx context.Context, userID string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("keystore is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	prefix := []byte(userID + keySeparator)
	var out []Info
	err := s.db.View(func(tx *bbolt.Tx) error {
		infos := tx.Bucket([]byte(infoBucket))
		payloads := tx.Bucket([]byte(payloadBucket))
		if infos == nil || payloads == nil {
			return fmt.Errorf("keystore buckets are missing")
		}

		c := infos.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if payloads.Get(k) == nil {
				continue
			}
			var info Info
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("unmarshal key info: %w", err)
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUsed != out[j].LastUsed {
			return out[i].LastUsed > out[j].LastUsed
		}
		return out[i].KeyID < out[j].KeyID
	})
	return out, nil
}

// GetKey returns one cached key with its payload.
func (s *Store) GetKey(ctx context.Context, userID, keyID string) (turnfile.Key, Info, error) {
	if err := ctx.Err(); err != nil {
		return turnfile.Key{}, Info{}, err
	}
	if s == nil || s.db == nil {
		return turnfile.Key{}, Info{}, fmt.Errorf("keystore is not configured")
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(keyID) == "" {
		return turnfile.Key{}, Info{}, fmt.Errorf("user id and key id are required")
	}

	ck := cacheKey(userID, keyID)
	var (
		key  turnfile.Key
		info Info
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		infos := tx.Bucket([]byte(infoBucket))
		payloads := tx.Bucket([]byte(payloadBucket))
		if infos == nil || payloads == nil {
			return fmt.Errorf("keystore buckets are missing")
		}

		raw := infos.Get(ck)
		payload := payloads.Get(ck)
		if raw == nil || payload == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &info); err != nil {
			return fmt.Errorf("unmarshal key info: %w", err)
		}
		key.Payload = append([]byte(nil), payload...)
		return nil
	})
	if err != nil {
		return turnfile.Key{}, Info{}, err
	}
	return key, info, nil
}
