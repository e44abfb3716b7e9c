package keystore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/turnbase/hostd/internal/schedule"
	"github.com/turnbase/hostd/internal/turnfile"
)

func openTestStore(t *testing.T, maxStoredKeys int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "keys.db"), maxStoredKeys)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("", 10); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestAddKeyFirstUseAndRepeat(t *testing.T) {
	s := openTestStore(t, 10)
	ctx := context.Background()
	key := turnfile.Key{Payload: []byte("key-alpha")}

	if err := s.AddKey(ctx, "alice", key, 100, 7); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	if err := s.AddKey(ctx, "alice", key, 200, 9); err != nil {
		t.Fatalf("AddKey again: %v", err)
	}

	got, info, err := s.GetKey(ctx, "alice", key.ID())
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if string(got.Payload) != "key-alpha" {
		t.Fatalf("payload = %q", got.Payload)
	}
	if info.UseCount != 2 || info.LastUsed != 200 || info.LastGame != 9 {
		t.Fatalf("info = %+v", info)
	}
}

func TestAddKeyDisabledStore(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	key := turnfile.Key{Payload: []byte("key-alpha")}

	if err := s.AddKey(ctx, "alice", key, 100, 7); err != nil {
		t.Fatalf("AddKey on disabled store: %v", err)
	}
	if _, _, err := s.GetKey(ctx, "alice", key.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("disabled store cached a key: err = %v", err)
	}
}

func TestEvictionKeepsMostRecentlyUsed(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	keys := make([]turnfile.Key, 5)
	for i := range keys {
		keys[i] = turnfile.Key{Payload: []byte(fmt.Sprintf("key-%d", i))}
		if err := s.AddKey(ctx, "alice", keys[i], schedule.Time(100+i), 1); err != nil {
			t.Fatalf("AddKey %d: %v", i, err)
		}
	}

	infos, err := s.ListKeys(ctx, "alice")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("got %d keys, want 3", len(infos))
	}
	want := map[string]bool{keys[2].ID(): true, keys[3].ID(): true, keys[4].ID(): true}
	for _, info := range infos {
		if !want[info.KeyID] {
			t.Errorf("unexpected surviving key %s", info.KeyID)
		}
	}
	for _, evicted := range keys[:2] {
		if _, _, err := s.GetKey(ctx, "alice", evicted.ID()); !errors.Is(err, ErrNotFound) {
			t.Errorf("key %s should have been evicted, err = %v", evicted.ID(), err)
		}
	}
}

func TestEvictionSpansUsers(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()

	old := turnfile.Key{Payload: []byte("old")}
	if err := s.AddKey(ctx, "alice", old, 10, 1); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	if err := s.AddKey(ctx, "bob", turnfile.Key{Payload: []byte("mid")}, 20, 1); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	if err := s.AddKey(ctx, "bob", turnfile.Key{Payload: []byte("new")}, 30, 1); err != nil {
		t.Fatalf("AddKey: %v", err)
	}

	if _, _, err := s.GetKey(ctx, "alice", old.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("oldest key across users should be evicted, err = %v", err)
	}
	infos, err := s.ListKeys(ctx, "bob")
	if err != nil || len(infos) != 2 {
		t.Fatalf("bob keys = %v, %v", infos, err)
	}
}

func TestUnlimitedStoreNeverEvicts(t *testing.T) {
	s := openTestStore(t, -1)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		key := turnfile.Key{Payload: []byte(fmt.Sprintf("key-%d", i))}
		if err := s.AddKey(ctx, "alice", key, schedule.Time(i), 1); err != nil {
			t.Fatalf("AddKey %d: %v", i, err)
		}
	}
	infos, err := s.ListKeys(ctx, "alice")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(infos) != 20 {
		t.Fatalf("got %d keys, want 20", len(infos))
	}
}

func TestAddKeyRestoresMissingPayload(t *testing.T) {
	s := openTestStore(t, 10)
	ctx := context.Background()
	key := turnfile.Key{Payload: []byte("key-alpha")}

	if err := s.AddKey(ctx, "alice", key, 100, 7); err != nil {
		t.Fatalf("AddKey: %v", err)
	}

	// Drop the payload while keeping the index entry, the state an
	// interrupted eviction leaves behind.
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(payloadBucket)).Delete(cacheKey("alice", key.ID()))
	})
	if err != nil {
		t.Fatalf("delete payload: %v", err)
	}
	if _, _, err := s.GetKey(ctx, "alice", key.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("payloadless key should read as missing, err = %v", err)
	}

	if err := s.AddKey(ctx, "alice", key, 200, 9); err != nil {
		t.Fatalf("AddKey after payload loss: %v", err)
	}
	got, info, err := s.GetKey(ctx, "alice", key.ID())
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if string(got.Payload) != "key-alpha" {
		t.Fatalf("payload = %q", got.Payload)
	}
	if info.UseCount != 2 || info.LastUsed != 200 {
		t.Fatalf("info = %+v", info)
	}
}

func TestListKeysOrdersByRecency(t *testing.T) {
	s := openTestStore(t, 10)
	ctx := context.Background()

	a := turnfile.Key{Payload: []byte("a")}
	b := turnfile.Key{Payload: []byte("b")}
	if err := s.AddKey(ctx, "alice", a, 10, 1); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	if err := s.AddKey(ctx, "alice", b, 20, 1); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	if err := s.AddKey(ctx, "alice", a, 30, 2); err != nil {
		t.Fatalf("AddKey: %v", err)
	}

	infos, err := s.ListKeys(ctx, "alice")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(infos) != 2 || infos[0].KeyID != a.ID() || infos[1].KeyID != b.ID() {
		t.Fatalf("infos = %+v", infos)
	}
}

func TestListKeysScopedToUser(t *testing.T) {
	s := openTestStore(t, 10)
	ctx := context.Background()

	if err := s.AddKey(ctx, "alice", turnfile.Key{Payload: []byte("a")}, 10, 1); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	if err := s.AddKey(ctx, "bob", turnfile.Key{Payload: []byte("b")}, 10, 1); err != nil {
		t.Fatalf("AddKey: %v", err)
	}

	infos, err := s.ListKeys(ctx, "alice")
	if err != nil || len(infos) != 1 {
		t.Fatalf("alice keys = %v, %v", infos, err)
	}
}
