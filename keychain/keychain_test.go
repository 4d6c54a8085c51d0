// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package keychain

import (
	"bytes"
	"errors"
	"testing"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// newTestKeyChain creates a keychain backed by an in-memory database.
func newTestKeyChain(t *testing.T) *KeyChain {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

// Tests that topics are derived from keys and that stored keys can be used to
// seal and open messages.
func TestEncodeDecode(t *testing.T) {
	kc := newTestKeyChain(t)

	key, err := kc.GenerateSymKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	topic, err := kc.SetSymKey(key, "")
	if err != nil {
		t.Fatalf("failed to store key: %v", err)
	}
	if topic != Topic(key) {
		t.Errorf("topic mismatch: have %s, want %s", topic, Topic(key))
	}
	if !kc.HasKeys(topic) {
		t.Fatalf("stored key not found")
	}
	message, err := kc.Encode(topic, []byte("hello"))
	if err != nil {
		t.Fatalf("failed to encode message: %v", err)
	}
	payload, err := kc.Decode(topic, message)
	if err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if !bytes.Equal(payload, []byte("hello")) {
		t.Errorf("payload mismatch: have %q, want %q", payload, "hello")
	}
}

// Tests that keys can be stored under explicit topics and that two keychains
// sharing a key can talk to each other.
func TestSharedKey(t *testing.T) {
	alice, bob := newTestKeyChain(t), newTestKeyChain(t)

	key, _ := alice.GenerateSymKey()
	alice.SetSymKey(key, "T1")
	bob.SetSymKey(key, "T1")

	message, err := alice.Encode("T1", []byte("ping"))
	if err != nil {
		t.Fatalf("failed to encode message: %v", err)
	}
	payload, err := bob.Decode("T1", message)
	if err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if string(payload) != "ping" {
		t.Errorf("payload mismatch: have %q, want %q", payload, "ping")
	}
}

// Tests that deleted keys can no longer be used.
func TestDeleteSymKey(t *testing.T) {
	kc := newTestKeyChain(t)

	key, _ := kc.GenerateSymKey()
	topic, _ := kc.SetSymKey(key, "")
	message, _ := kc.Encode(topic, []byte("hello"))

	if err := kc.DeleteSymKey(topic); err != nil {
		t.Fatalf("failed to delete key: %v", err)
	}
	if kc.HasKeys(topic) {
		t.Errorf("deleted key still present")
	}
	if _, err := kc.Decode(topic, message); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("decode error mismatch: have %v, want %v", err, ErrKeyNotFound)
	}
	if _, err := kc.Encode(topic, []byte("hello")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("encode error mismatch: have %v, want %v", err, ErrKeyNotFound)
	}
}

// Tests that tampered or foreign envelopes are rejected.
func TestInvalidEnvelopes(t *testing.T) {
	kc := newTestKeyChain(t)

	key, _ := kc.GenerateSymKey()
	topic, _ := kc.SetSymKey(key, "")
	other, _ := kc.GenerateSymKey()
	kc.SetSymKey(other, "other")

	sealed, _ := kc.Encode("other", []byte("hello"))

	tests := []string{
		"not base64!",
		"AAAA",
		sealed,
	}
	for i, message := range tests {
		if _, err := kc.Decode(topic, message); !errors.Is(err, ErrInvalidEnvelope) {
			t.Errorf("test %d: error mismatch: have %v, want %v", i, err, ErrInvalidEnvelope)
		}
	}
	if _, err := kc.SetSymKey([]byte{1, 2, 3}, ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("short key error mismatch: have %v, want %v", err, ErrInvalidKey)
	}
}
