// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package history correlates JSON-RPC requests with their eventual responses
// arriving out of order over the relay.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/relaypair/go-relaypair/keymutex"
	"github.com/relaypair/go-relaypair/params"
	"github.com/relaypair/go-relaypair/protocols/jsonrpc"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	// dbRecordPrefix is the database key prefix for storing request records.
	dbRecordPrefix = []byte("history-")

	// ErrRecordNotFound is returned if a record is looked up or resolved by an
	// id that was never set.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists is returned if a request is set with an id already in use.
	ErrRecordExists = errors.New("record already exists")

	// ErrTopicMismatch is returned if a record is looked up with a topic other
	// than the one it was set with.
	ErrTopicMismatch = errors.New("record topic mismatch")
)

// Record is a single JSON-RPC call, optionally resolved.
type Record struct {
	ID       uint64            `json:"id"`                 // Correlation id of the call
	Topic    string            `json:"topic"`              // Pairing topic the call was made on
	Request  *jsonrpc.Request  `json:"request"`            // Original request of the call
	Response *jsonrpc.Response `json:"response,omitempty"` // Response once the call is resolved
	Expiry   int64             `json:"expiry"`             // Retention deadline for pruning
}

// Resolved returns whether a response was already merged into the record.
func (r *Record) Resolved() bool {
	return r.Response != nil
}

// History is the durable request correlator. Writes to the same id are
// serialized, writes to different ids run in parallel.
type History struct {
	database *leveldb.DB
	clock    clock.Clock
	locks    keymutex.Mutex

	logger log.Logger
}

// New creates a request correlator on top of the given database.
func New(db *leveldb.DB, clk clock.Clock, logger log.Logger) *History {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = log.Root()
	}
	return &History{
		database: db,
		clock:    clk,
		logger:   logger.New("store", "history"),
	}
}

// key converts a record id into its database key.
func key(id uint64) []byte {
	blob := make([]byte, len(dbRecordPrefix)+8)
	copy(blob, dbRecordPrefix)
	binary.BigEndian.PutUint64(blob[len(dbRecordPrefix):], id)
	return blob
}

// lock acquires the write lock of a single record id.
func (h *History) lock(id uint64) func() {
	name := strconv.FormatUint(id, 10)
	h.locks.Lock(name)
	return func() { h.locks.Unlock(name) }
}

// Set registers a new pending record for a request.
func (h *History) Set(topic string, request *jsonrpc.Request) error {
	defer h.lock(request.ID)()

	if _, err := h.load(request.ID); err == nil {
		return fmt.Errorf("%w: %d", ErrRecordExists, request.ID)
	} else if !errors.Is(err, ErrRecordNotFound) {
		return err
	}
	record := &Record{
		ID:      request.ID,
		Topic:   topic,
		Request: request,
		Expiry:  params.CalcExpiry(h.clock.Now(), params.HistoryRetention),
	}
	h.logger.Trace("Tracking request", "id", request.ID, "topic", topic, "method", request.Method)
	return h.store(record)
}

// Get retrieves the record of a request sent or received on the given topic.
func (h *History) Get(topic string, id uint64) (*Record, error) {
	record, err := h.load(id)
	if err != nil {
		return nil, err
	}
	if record.Topic != topic {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrTopicMismatch, topic, record.Topic)
	}
	return record, nil
}

// Resolve merges a response into its pending request record. The returned flag
// reports whether this call resolved the record; a duplicate response leaves
// the record untouched and returns false without an error.
func (h *History) Resolve(response *jsonrpc.Response) (*Record, bool, error) {
	defer h.lock(response.ID)()

	record, err := h.load(response.ID)
	if err != nil {
		return nil, false, err
	}
	if record.Resolved() {
		h.logger.Debug("Ignoring duplicate response", "id", response.ID, "topic", record.Topic)
		return record, false, nil
	}
	record.Response = response
	if err := h.store(record); err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// Delete drops a record, used to roll back requests that failed to be sent.
func (h *History) Delete(topic string, id uint64) error {
	defer h.lock(id)()

	record, err := h.load(id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if record.Topic != topic {
		return fmt.Errorf("%w: have %s, want %s", ErrTopicMismatch, topic, record.Topic)
	}
	return h.database.Delete(key(id), nil)
}

// Pending returns all the unresolved records of a topic.
func (h *History) Pending(topic string) ([]*Record, error) {
	var pending []*Record
	err := h.iterate(func(record *Record) error {
		if record.Topic == topic && !record.Resolved() {
			pending = append(pending, record)
		}
		return nil
	})
	return pending, err
}

// Prune removes all the records whose retention deadline passed, returning the
// number of records dropped.
func (h *History) Prune() (int, error) {
	now := h.clock.Now()

	var stale []uint64
	if err := h.iterate(func(record *Record) error {
		if params.Expired(record.Expiry, now) {
			stale = append(stale, record.ID)
		}
		return nil
	}); err != nil {
		return 0, err
	}
	for _, id := range stale {
		unlock := h.lock(id)
		err := h.database.Delete(key(id), nil)
		unlock()
		if err != nil {
			return 0, err
		}
	}
	if len(stale) > 0 {
		h.logger.Debug("Pruned request history", "records", len(stale))
	}
	return len(stale), nil
}

// load retrieves a single record from the database.
func (h *History) load(id uint64) (*Record, error) {
	blob, err := h.database.Get(key(id), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	record := new(Record)
	if err := json.Unmarshal(blob, record); err != nil {
		return nil, err
	}
	return record, nil
}

// store writes a single record into the database.
func (h *History) store(record *Record) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return h.database.Put(key(record.ID), blob, nil)
}

// iterate runs a callback over every decodable record in the database.
func (h *History) iterate(fn func(*Record) error) error {
	it := h.database.NewIterator(util.BytesPrefix(dbRecordPrefix), nil)
	defer it.Release()

	for it.Next() {
		record := new(Record)
		if err := json.Unmarshal(it.Value(), record); err != nil {
			h.logger.Error("Failed to decode request record", "err", err)
			continue
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return it.Error()
}
