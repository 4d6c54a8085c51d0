// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package keychain keeps the symmetric keys of all pairing channels and seals
// and opens the messages exchanged across them.
package keychain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/crypto/chacha20poly1305"
)

// envelopeType0 is the envelope tag of messages sealed with a symmetric key
// shared out of band.
const envelopeType0 = 0x00

var (
	// dbSymKeyPrefix is the database key prefix for storing symmetric keys.
	dbSymKeyPrefix = []byte("symkey-")

	// ErrKeyNotFound is returned if a topic is attempted to be encoded to or
	// decoded from, but there is no key for it.
	ErrKeyNotFound = errors.New("symmetric key not found")

	// ErrInvalidKey is returned if a key of the wrong size is attempted to be
	// imported.
	ErrInvalidKey = errors.New("invalid symmetric key")

	// ErrInvalidEnvelope is returned if a message cannot be unpacked or fails
	// authentication.
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// KeyChain is a database backed collection of symmetric keys indexed by the
// topics they protect.
type KeyChain struct {
	database *leveldb.DB
}

// New creates a keychain storing the keys into the given database.
func New(db *leveldb.DB) *KeyChain {
	return &KeyChain{database: db}
}

// GenerateSymKey creates a new random symmetric key. The key is not stored, it
// needs to be imported via SetSymKey.
func (kc *KeyChain) GenerateSymKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Topic derives the channel identifier of a symmetric key.
func Topic(key []byte) string {
	hash := sha256.Sum256(key)
	return hex.EncodeToString(hash[:])
}

// SetSymKey stores a symmetric key under the given topic. If topic is empty, it
// is derived from the key. The topic is returned in both cases.
func (kc *KeyChain) SetSymKey(key []byte, topic string) (string, error) {
	if len(key) != chacha20poly1305.KeySize {
		return "", fmt.Errorf("%w: length %d", ErrInvalidKey, len(key))
	}
	if topic == "" {
		topic = Topic(key)
	}
	if err := kc.database.Put(append(append([]byte{}, dbSymKeyPrefix...), topic...), key, nil); err != nil {
		return "", err
	}
	return topic, nil
}

// HasKeys returns whether there is a symmetric key stored for the topic.
func (kc *KeyChain) HasKeys(topic string) bool {
	ok, _ := kc.database.Has(append(append([]byte{}, dbSymKeyPrefix...), topic...), nil)
	return ok
}

// DeleteSymKey removes the symmetric key of a topic. Deleting a missing key is
// not an error.
func (kc *KeyChain) DeleteSymKey(topic string) error {
	return kc.database.Delete(append(append([]byte{}, dbSymKeyPrefix...), topic...), nil)
}

// symKey retrieves the symmetric key of a topic.
func (kc *KeyChain) symKey(topic string) ([]byte, error) {
	key, err := kc.database.Get(append(append([]byte{}, dbSymKeyPrefix...), topic...), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, topic)
	}
	return key, err
}

// Encode seals a payload with the symmetric key of a topic, returning the text
// envelope: base64(type || nonce || ciphertext).
func (kc *KeyChain) Encode(topic string, payload []byte) (string, error) {
	key, err := kc.symKey(topic)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	blob := make([]byte, 0, 1+len(nonce)+len(payload)+aead.Overhead())
	blob = append(append(blob, envelopeType0), nonce...)
	blob = aead.Seal(blob, nonce, payload, nil)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decode opens a text envelope with the symmetric key of a topic.
func (kc *KeyChain) Decode(topic string, message string) ([]byte, error) {
	key, err := kc.symKey(topic)
	if err != nil {
		return nil, err
	}
	blob, err := base64.StdEncoding.DecodeString(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < 1+aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: too short", ErrInvalidEnvelope)
	}
	if blob[0] != envelopeType0 {
		return nil, fmt.Errorf("%w: unsupported type %d", ErrInvalidEnvelope, blob[0])
	}
	nonce, sealed := blob[1:1+aead.NonceSize()], blob[1+aead.NonceSize():]

	payload, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return payload, nil
}
