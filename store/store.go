// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package store persists pairing records into a leveldb database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/relaypair/go-relaypair/keymutex"
	"github.com/relaypair/go-relaypair/protocols/pairing"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	// dbPairingPrefix is the database key prefix for storing pairing records.
	dbPairingPrefix = []byte("pairing-")

	// ErrNotInitialized is returned if the store is accessed before Init.
	ErrNotInitialized = errors.New("store not initialized")

	// ErrNotFound is returned if a pairing is attempted to be accessed but it
	// does not exist.
	ErrNotFound = errors.New("pairing not found")
)

// Store is a durable mapping from topics to pairing records. Writes to the same
// topic are serialized, writes to different topics run in parallel.
type Store struct {
	database *leveldb.DB
	locks    keymutex.Mutex
	inited   int32

	logger log.Logger
}

// New creates a pairing store on top of the given database.
func New(db *leveldb.DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Root()
	}
	return &Store{
		database: db,
		logger:   logger.New("store", "pairing"),
	}
}

// Init marks the store usable, reporting the number of tracked pairings.
func (s *Store) Init() error {
	if !atomic.CompareAndSwapInt32(&s.inited, 0, 1) {
		return nil
	}
	keys, err := s.Keys()
	if err != nil {
		atomic.StoreInt32(&s.inited, 0)
		return err
	}
	s.logger.Info("Pairing store initialized", "pairings", len(keys))
	return nil
}

// key converts a topic into its database key.
func key(topic string) []byte {
	return append(append([]byte{}, dbPairingPrefix...), topic...)
}

// ready returns an error if the store was not yet initialized.
func (s *Store) ready() error {
	if atomic.LoadInt32(&s.inited) == 0 {
		return ErrNotInitialized
	}
	return nil
}

// Set inserts or overwrites the pairing record of a topic.
func (s *Store) Set(topic string, p *pairing.Pairing) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.locks.Lock(topic)
	defer s.locks.Unlock(topic)

	return s.put(topic, p)
}

// put serializes a pairing into the database. The topic lock must be held.
func (s *Store) put(topic string, p *pairing.Pairing) error {
	blob, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.database.Put(key(topic), blob, nil)
}

// Get retrieves the pairing record of a topic.
func (s *Store) Get(topic string) (*pairing.Pairing, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.get(topic)
}

// get deserializes a pairing from the database.
func (s *Store) get(topic string) (*pairing.Pairing, error) {
	blob, err := s.database.Get(key(topic), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, topic)
	}
	if err != nil {
		return nil, err
	}
	p := new(pairing.Pairing)
	if err := json.Unmarshal(blob, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update applies a partial modification onto an existing pairing record and
// returns the updated record.
func (s *Store) Update(topic string, update *pairing.Update) (*pairing.Pairing, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.locks.Lock(topic)
	defer s.locks.Unlock(topic)

	p, err := s.get(topic)
	if err != nil {
		return nil, err
	}
	update.Apply(p)
	if err := s.put(topic, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes the pairing record of a topic. Deleting a missing record is a
// noop.
func (s *Store) Delete(topic string, reason string) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.locks.Lock(topic)
	defer s.locks.Unlock(topic)

	s.logger.Debug("Deleting pairing", "topic", topic, "reason", reason)
	return s.database.Delete(key(topic), nil)
}

// Keys returns the topics of all the stored pairings.
func (s *Store) Keys() ([]string, error) {
	var topics []string

	it := s.database.NewIterator(util.BytesPrefix(dbPairingPrefix), nil)
	defer it.Release()

	for it.Next() {
		topics = append(topics, string(it.Key()[len(dbPairingPrefix):]))
	}
	return topics, it.Error()
}

// Values returns a snapshot of all the stored pairings.
func (s *Store) Values() ([]*pairing.Pairing, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var pairings []*pairing.Pairing

	it := s.database.NewIterator(util.BytesPrefix(dbPairingPrefix), nil)
	defer it.Release()

	for it.Next() {
		p := new(pairing.Pairing)
		if err := json.Unmarshal(it.Value(), p); err != nil {
			s.logger.Error("Failed to decode pairing", "key", string(it.Key()), "err", err)
			continue
		}
		pairings = append(pairings, p)
	}
	return pairings, it.Error()
}
