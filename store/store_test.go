// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/relaypair/go-relaypair/protocols/pairing"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// newTestStore creates an initialized store backed by an in-memory database.
func newTestStore(t *testing.T) *Store {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := New(db, log.Root())
	if err := s.Init(); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	return s
}

// Tests that the store refuses to work before being initialized.
func TestNotInitialized(t *testing.T) {
	db, _ := leveldb.Open(storage.NewMemStorage(), nil)
	defer db.Close()

	s := New(db, nil)
	if err := s.Set("T1", &pairing.Pairing{Topic: "T1"}); err != ErrNotInitialized {
		t.Errorf("set error mismatch: have %v, want %v", err, ErrNotInitialized)
	}
	if _, err := s.Get("T1"); err != ErrNotInitialized {
		t.Errorf("get error mismatch: have %v, want %v", err, ErrNotInitialized)
	}
}

// Tests the basic set, get, update and delete lifecycle.
func TestLifecycle(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get("T1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing pairing error mismatch: have %v, want %v", err, ErrNotFound)
	}
	if err := s.Set("T1", &pairing.Pairing{Topic: "T1", Expiry: 100, Relay: pairing.Relay{Protocol: "irn"}}); err != nil {
		t.Fatalf("failed to store pairing: %v", err)
	}
	p, err := s.Get("T1")
	if err != nil {
		t.Fatalf("failed to retrieve pairing: %v", err)
	}
	if p.Topic != "T1" || p.Expiry != 100 || p.Active || p.Relay.Protocol != "irn" {
		t.Errorf("pairing mismatch: have %+v", p)
	}
	// Overwrite the record, it should be an upsert
	if err := s.Set("T1", &pairing.Pairing{Topic: "T1", Expiry: 200}); err != nil {
		t.Fatalf("failed to overwrite pairing: %v", err)
	}
	if p, _ := s.Get("T1"); p.Expiry != 200 {
		t.Errorf("overwritten expiry mismatch: have %d, want %d", p.Expiry, 200)
	}
	// Update a few fields and ensure the others remain
	active := true
	p, err = s.Update("T1", &pairing.Update{Active: &active, PeerMetadata: &pairing.Metadata{Name: "Wallet"}})
	if err != nil {
		t.Fatalf("failed to update pairing: %v", err)
	}
	if !p.Active || p.Expiry != 200 || p.PeerMetadata.Name != "Wallet" {
		t.Errorf("updated pairing mismatch: have %+v", p)
	}
	if _, err := s.Update("T2", &pairing.Update{Active: &active}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing update error mismatch: have %v, want %v", err, ErrNotFound)
	}
	// Delete the record and ensure it's gone (and deleting again is fine)
	if err := s.Delete("T1", "test"); err != nil {
		t.Fatalf("failed to delete pairing: %v", err)
	}
	if _, err := s.Get("T1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted pairing error mismatch: have %v, want %v", err, ErrNotFound)
	}
	if err := s.Delete("T1", "test"); err != nil {
		t.Errorf("failed to delete missing pairing: %v", err)
	}
}

// Tests that concurrent writes across many topics all land.
func TestConcurrentWrites(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			topic := fmt.Sprintf("T%d", i)
			if err := s.Set(topic, &pairing.Pairing{Topic: topic}); err != nil {
				t.Errorf("failed to store pairing %s: %v", topic, err)
			}
		}(i)
	}
	wg.Wait()

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("failed to list topics: %v", err)
	}
	if len(keys) != 32 {
		t.Errorf("topic count mismatch: have %d, want %d", len(keys), 32)
	}
	values, err := s.Values()
	if err != nil {
		t.Fatalf("failed to list pairings: %v", err)
	}
	if len(values) != 32 {
		t.Errorf("pairing count mismatch: have %d, want %d", len(values), 32)
	}
}

// Tests that concurrent updates of the same topic are not lost.
func TestConcurrentUpdates(t *testing.T) {
	s := newTestStore(t)
	s.Set("T1", &pairing.Pairing{Topic: "T1"})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			expiry := int64(i)
			s.Update("T1", &pairing.Update{Expiry: &expiry})
		}(i)
		go func() {
			defer wg.Done()
			active := true
			s.Update("T1", &pairing.Update{Active: &active})
		}()
	}
	wg.Wait()

	if p, _ := s.Get("T1"); !p.Active {
		t.Errorf("activation lost among concurrent updates")
	}
}
