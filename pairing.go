// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package relaypair

import (
	"context"
	"errors"
	"fmt"

	"github.com/relaypair/go-relaypair/eventbus"
	"github.com/relaypair/go-relaypair/params"
	"github.com/relaypair/go-relaypair/protocols/jsonrpc"
	"github.com/relaypair/go-relaypair/protocols/pairing"
	"github.com/relaypair/go-relaypair/store"
	"go.uber.org/multierr"
)

// Create generates a fresh channel key, persists a pending pairing for it and
// starts listening on its topic. The returned URI needs to be passed to the
// remote peer out of band.
func (e *Engine) Create(ctx context.Context) (string, string, error) {
	if err := e.ready(); err != nil {
		return "", "", err
	}
	key, err := e.crypto.GenerateSymKey()
	if err != nil {
		return "", "", err
	}
	topic, err := e.crypto.SetSymKey(key, "")
	if err != nil {
		return "", "", err
	}
	e.topics.Lock(topic)
	defer e.topics.Unlock(topic)

	logger := e.logger.New("topic", topic)

	expiry := params.CalcExpiry(e.clock.Now(), params.PendingPairingTTL)
	if err := e.store.Set(topic, &pairing.Pairing{Topic: topic, Expiry: expiry, Relay: e.relay}); err != nil {
		e.dropKey(topic)
		return "", "", err
	}
	if err := e.relayer.Subscribe(ctx, topic); err != nil {
		logger.Warn("Failed to subscribe to new pairing", "err", err)
		e.dropPairing(topic, "subscription failed")
		return "", "", err
	}
	uri := pairing.FormatURI(&pairing.URI{
		Protocol:        params.Protocol,
		Version:         params.Version,
		Topic:           topic,
		SymKey:          key,
		Relay:           e.relay,
		ExpiryTimestamp: expiry,
	})
	logger.Info("Created pairing", "expiry", expiry)
	return topic, uri, nil
}

// Pair joins a channel created by a remote peer, persisting a pending pairing
// and starting to listen on its topic. Validation failures are reported before
// anything is mutated.
func (e *Engine) Pair(ctx context.Context, raw string) (*pairing.Pairing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	uri, err := pairing.ParseURI(raw)
	if err != nil {
		return nil, err
	}
	if uri.Protocol != params.Protocol {
		return nil, fmt.Errorf("%w: unsupported protocol %q", pairing.ErrInvalidURI, uri.Protocol)
	}
	if uri.Version != params.Version {
		return nil, fmt.Errorf("%w: unsupported version %d", pairing.ErrInvalidURI, uri.Version)
	}
	now := e.clock.Now()
	if uri.ExpiryTimestamp != 0 && params.Expired(uri.ExpiryTimestamp, now) {
		return nil, fmt.Errorf("%w: expired at %d", pairing.ErrInvalidURI, uri.ExpiryTimestamp)
	}
	e.topics.Lock(uri.Topic)
	defer e.topics.Unlock(uri.Topic)

	logger := e.logger.New("topic", uri.Topic)

	// Joining an already tracked topic overwrites it, keep a copy for rollbacks
	prior, err := e.store.Get(uri.Topic)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	p := &pairing.Pairing{
		Topic:  uri.Topic,
		Expiry: params.CalcExpiry(now, params.PendingPairingTTL),
		Relay:  uri.Relay,
	}
	if err := e.store.Set(uri.Topic, p); err != nil {
		return nil, err
	}
	if _, err := e.crypto.SetSymKey(uri.SymKey, uri.Topic); err != nil {
		e.rollbackPair(uri.Topic, prior, false)
		return nil, err
	}
	if err := e.relayer.Subscribe(ctx, uri.Topic); err != nil {
		logger.Warn("Failed to subscribe to joined pairing", "err", err)
		e.rollbackPair(uri.Topic, prior, true)
		return nil, err
	}
	logger.Info("Joined pairing", "expiry", p.Expiry)
	return p, nil
}

// Activate marks a pairing as acknowledged by the remote peer, extending its
// lifetime. Activating an already active pairing refreshes its expiry.
func (e *Engine) Activate(topic string) error {
	if err := e.ready(); err != nil {
		return err
	}
	var (
		expiry = params.CalcExpiry(e.clock.Now(), params.ActivePairingTTL)
		active = true
	)
	if _, err := e.store.Update(topic, &pairing.Update{Expiry: &expiry, Active: &active}); err != nil {
		return err
	}
	e.logger.Info("Activated pairing", "topic", topic, "expiry", expiry)
	return nil
}

// Ping sends a liveness check to the remote peer and waits until it answers, or
// the context is cancelled. Pinging an unknown pairing is a noop.
func (e *Engine) Ping(ctx context.Context, topic string) error {
	if err := e.ready(); err != nil {
		return err
	}
	exists, err := e.exists(topic)
	if err != nil || !exists {
		return err
	}
	// Listen for the response before sending, it might arrive instantly
	id := jsonrpc.NewID()

	listener, err := e.bus.Once(eventbus.Key{Kind: string(EventPairingPing), ID: id})
	if err != nil {
		return err
	}
	defer listener.Release()

	if err := e.sendRequest(ctx, topic, id, pairing.MethodPing, pairing.PingParams{}); err != nil {
		return err
	}
	select {
	case res := <-listener.C:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateExpiry overrides the expiry of a pairing.
func (e *Engine) UpdateExpiry(topic string, expiry int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	_, err := e.store.Update(topic, &pairing.Update{Expiry: &expiry})
	return err
}

// UpdateMetadata sets the self-description of the remote peer of a pairing.
func (e *Engine) UpdateMetadata(topic string, metadata *pairing.Metadata) error {
	if err := e.ready(); err != nil {
		return err
	}
	_, err := e.store.Update(topic, &pairing.Update{PeerMetadata: metadata})
	return err
}

// GetPairings returns a snapshot of all the currently tracked pairings.
func (e *Engine) GetPairings() ([]*pairing.Pairing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.store.Values()
}

// Disconnect notifies the remote peer that the pairing is being torn down and
// deletes it locally, whether the notification got through or not. Disconnecting
// an unknown pairing is a noop.
func (e *Engine) Disconnect(ctx context.Context, topic string) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.topics.Lock(topic)
	defer e.topics.Unlock(topic)

	exists, err := e.exists(topic)
	if err != nil || !exists {
		return err
	}
	if err := e.sendRequest(ctx, topic, jsonrpc.NewID(), pairing.MethodDelete, pairing.UserDisconnected); err != nil {
		e.logger.Warn("Failed to notify peer of disconnect", "topic", topic, "err", err)
	}
	if err := e.deletePairing(ctx, topic, pairing.UserDisconnected.Message); err != nil {
		return err
	}
	e.logger.Info("Disconnected pairing", "topic", topic)
	return nil
}

// Expire tears down a pairing that outlived its expiry, without notifying the
// remote peer. Expiring an unknown pairing, or one renewed in the meantime, is
// a noop.
func (e *Engine) Expire(ctx context.Context, topic string) error {
	if err := e.ready(); err != nil {
		return err
	}
	expired, err := e.expire(ctx, topic)
	if err != nil || !expired {
		return err
	}
	e.logger.Info("Expired pairing", "topic", topic)
	e.emit(EventPairingExpire, topic, 0)
	return nil
}

// expire deletes a pairing under the topic lock if it is still past its expiry,
// reporting whether it did.
func (e *Engine) expire(ctx context.Context, topic string) (bool, error) {
	e.topics.Lock(topic)
	defer e.topics.Unlock(topic)

	p, err := e.store.Get(topic)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !params.Expired(p.Expiry, e.clock.Now()) {
		e.logger.Debug("Skipping expiry of renewed pairing", "topic", topic, "expiry", p.Expiry)
		return false, nil
	}
	if err := e.deletePairing(ctx, topic, "expired"); err != nil {
		return false, err
	}
	return true, nil
}

// exists reports whether a pairing is tracked for the topic.
func (e *Engine) exists(topic string) (bool, error) {
	if _, err := e.store.Get(topic); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// deletePairing stops listening on a topic and erases all local state of it.
// Unsubscription is awaited first so no message arrives for an erased key.
// Requests still awaiting an answer are dropped, none can arrive any more.
//
// Note, this method assumes the topic lock is held.
func (e *Engine) deletePairing(ctx context.Context, topic string, reason string) error {
	if err := e.relayer.Unsubscribe(ctx, topic); err != nil {
		e.logger.Warn("Failed to unsubscribe from pairing", "topic", topic, "err", err)
	}
	if err := multierr.Append(
		e.store.Delete(topic, reason),
		e.crypto.DeleteSymKey(topic),
	); err != nil {
		return err
	}
	pending, err := e.history.Pending(topic)
	if err != nil {
		e.logger.Warn("Failed to list pending requests", "topic", topic, "err", err)
	}
	for _, record := range pending {
		if err := e.history.Delete(topic, record.ID); err != nil {
			e.logger.Warn("Failed to drop pending request", "topic", topic, "id", record.ID, "err", err)
		}
	}
	return nil
}

// rollbackPair undoes a failed join, reinstating the record it overwrote if there
// was one. Otherwise the record is dropped, along with the key if it was already
// imported.
//
// Note, this method assumes the topic lock is held.
func (e *Engine) rollbackPair(topic string, prior *pairing.Pairing, imported bool) {
	switch {
	case prior != nil:
		if err := e.store.Set(topic, prior); err != nil {
			e.logger.Error("Failed to restore overwritten pairing", "topic", topic, "err", err)
		}
	case imported:
		e.dropPairing(topic, "subscription failed")
	default:
		if err := e.store.Delete(topic, "key import failed"); err != nil {
			e.logger.Error("Failed to drop orphaned pairing", "topic", topic, "err", err)
		}
	}
}

// dropPairing rolls back a partially set up pairing.
//
// Note, this method assumes the topic lock is held.
func (e *Engine) dropPairing(topic string, reason string) {
	if err := e.store.Delete(topic, reason); err != nil {
		e.logger.Error("Failed to drop orphaned pairing", "topic", topic, "err", err)
	}
	e.dropKey(topic)
}

// dropKey rolls back an imported key.
func (e *Engine) dropKey(topic string) {
	if err := e.crypto.DeleteSymKey(topic); err != nil {
		e.logger.Error("Failed to drop orphaned key", "topic", topic, "err", err)
	}
}
