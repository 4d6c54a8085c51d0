// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package history

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/relaypair/go-relaypair/protocols/jsonrpc"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// newTestHistory creates a correlator backed by an in-memory database and a
// mock clock.
func newTestHistory(t *testing.T) (*History, *clock.Mock) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.NewMock()
	clk.Set(time.Unix(1600000000, 0))

	return New(db, clk, nil), clk
}

// newTestRequest creates a ping style request with the given id.
func newTestRequest(t *testing.T, id uint64) *jsonrpc.Request {
	req, err := jsonrpc.NewRequest(id, "wc_pairingPing", struct{}{})
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	return req
}

// Tests that requests can be set and retrieved, but not set twice.
func TestSetGet(t *testing.T) {
	h, _ := newTestHistory(t)

	if _, err := h.Get("T1", 1); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("missing record error mismatch: have %v, want %v", err, ErrRecordNotFound)
	}
	if err := h.Set("T1", newTestRequest(t, 1)); err != nil {
		t.Fatalf("failed to set request: %v", err)
	}
	if err := h.Set("T1", newTestRequest(t, 1)); !errors.Is(err, ErrRecordExists) {
		t.Fatalf("duplicate request error mismatch: have %v, want %v", err, ErrRecordExists)
	}
	record, err := h.Get("T1", 1)
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if record.ID != 1 || record.Topic != "T1" || record.Request.Method != "wc_pairingPing" || record.Resolved() {
		t.Errorf("record mismatch: have %+v", record)
	}
	if want := int64(1600000000 + 24*3600); record.Expiry != want {
		t.Errorf("retention mismatch: have %d, want %d", record.Expiry, want)
	}
	if _, err := h.Get("T2", 1); !errors.Is(err, ErrTopicMismatch) {
		t.Errorf("foreign topic error mismatch: have %v, want %v", err, ErrTopicMismatch)
	}
}

// Tests that responses resolve their requests exactly once.
func TestResolve(t *testing.T) {
	h, _ := newTestHistory(t)

	res, _ := jsonrpc.NewResult(1, true)
	if _, _, err := h.Resolve(res); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("unknown response error mismatch: have %v, want %v", err, ErrRecordNotFound)
	}
	h.Set("T1", newTestRequest(t, 1))

	record, fresh, err := h.Resolve(res)
	if err != nil {
		t.Fatalf("failed to resolve request: %v", err)
	}
	if !fresh {
		t.Errorf("first resolution reported as duplicate")
	}
	if !record.Resolved() || string(record.Response.Result) != "true" {
		t.Errorf("resolved record mismatch: have %+v", record.Response)
	}
	// Resolving again with a different payload must not change anything
	dup := jsonrpc.NewError(1, jsonrpc.CodeInternal, "late")
	record, fresh, err = h.Resolve(dup)
	if err != nil {
		t.Fatalf("failed to resolve duplicate: %v", err)
	}
	if fresh {
		t.Errorf("duplicate resolution reported as fresh")
	}
	if record.Response.Error != nil {
		t.Errorf("duplicate resolution mutated record: %v", record.Response.Error)
	}
	if stored, _ := h.Get("T1", 1); stored.Response.Error != nil {
		t.Errorf("duplicate resolution persisted: %v", stored.Response.Error)
	}
}

// Tests that concurrent resolutions of the same id only win once.
func TestResolveRace(t *testing.T) {
	h, _ := newTestHistory(t)
	h.Set("T1", newTestRequest(t, 1))

	var (
		wg    sync.WaitGroup
		lock  sync.Mutex
		fresh int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, _ := jsonrpc.NewResult(1, true)
			if _, ok, err := h.Resolve(res); err == nil && ok {
				lock.Lock()
				fresh++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Errorf("fresh resolution count mismatch: have %d, want %d", fresh, 1)
	}
}

// Tests that records can be dropped and pending ones listed.
func TestDeletePending(t *testing.T) {
	h, _ := newTestHistory(t)

	h.Set("T1", newTestRequest(t, 1))
	h.Set("T1", newTestRequest(t, 2))
	h.Set("T2", newTestRequest(t, 3))

	res, _ := jsonrpc.NewResult(2, true)
	h.Resolve(res)

	pending, err := h.Pending("T1")
	if err != nil {
		t.Fatalf("failed to list pending records: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != 1 {
		t.Errorf("pending records mismatch: have %v", pending)
	}
	if err := h.Delete("T2", 1); !errors.Is(err, ErrTopicMismatch) {
		t.Errorf("foreign delete error mismatch: have %v, want %v", err, ErrTopicMismatch)
	}
	if err := h.Delete("T1", 1); err != nil {
		t.Fatalf("failed to delete record: %v", err)
	}
	if err := h.Delete("T1", 1); err != nil {
		t.Errorf("failed to delete missing record: %v", err)
	}
	if pending, _ := h.Pending("T1"); len(pending) != 0 {
		t.Errorf("pending records after delete: have %v", pending)
	}
}

// Tests that records past their retention are pruned.
func TestPrune(t *testing.T) {
	h, clk := newTestHistory(t)

	h.Set("T1", newTestRequest(t, 1))
	clk.Add(time.Hour)
	h.Set("T1", newTestRequest(t, 2))

	if n, err := h.Prune(); err != nil || n != 0 {
		t.Fatalf("premature prune: have %d/%v, want %d/nil", n, err, 0)
	}
	clk.Add(23 * time.Hour)
	if n, err := h.Prune(); err != nil || n != 1 {
		t.Fatalf("first prune mismatch: have %d/%v, want %d/nil", n, err, 1)
	}
	if _, err := h.Get("T1", 1); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("pruned record still present: %v", err)
	}
	if _, err := h.Get("T1", 2); err != nil {
		t.Errorf("retained record missing: %v", err)
	}
}
