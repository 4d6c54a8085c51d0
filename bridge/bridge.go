// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package bridge exposes the pairing engine to gomobile.
package bridge

import (
	"context"
	"time"

	"github.com/ipsn/go-ghostbridge"
	"github.com/relaypair/go-relaypair"
	"github.com/relaypair/go-relaypair/rest"
)

// Bridge is a tiny struct (re)definition so gomobile will export all the built
// in methods of the underlying ghostbridge.Bridge struct.
type Bridge struct {
	*ghostbridge.Bridge
	node *relaypair.Node
}

// NewBridge creates an instance of the ghost bridge, typed such as gomobile to
// generate a Bridge constructor out of it. If the redis URL is empty, the node
// runs on an in-memory relay.
func NewBridge(datadir string, redisURL string, proxyURL string) (*Bridge, error) {
	node, err := relaypair.NewNode(context.Background(), relaypair.NodeConfig{
		DataDir:    datadir,
		RedisURL:   redisURL,
		RedisProxy: proxyURL,
	})
	if err != nil {
		return nil, err
	}
	bridge, err := ghostbridge.New(rest.New(node.Engine, rest.Config{}))
	if err != nil {
		node.Close()
		return nil, err
	}
	return &Bridge{
		Bridge: bridge,
		node:   node,
	}, nil
}

// PairingCount is a pass-through method to allow directly querying the number of
// tracked pairings via the mobile library. This is useful for showing native
// notifications without screwing with HTTP and certificates.
func (b *Bridge) PairingCount() (int, error) {
	pairings, err := b.node.Engine.GetPairings()
	if err != nil {
		return 0, err
	}
	return len(pairings), nil
}

// Ping is a pass-through method to allow directly pinging a pairing via the mobile
// library, waiting at most the given number of milliseconds.
func (b *Bridge) Ping(topic string, timeoutMillis int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMillis)*time.Millisecond)
	defer cancel()

	return b.node.Engine.Ping(ctx, topic)
}

// Close tears down the bridge along with the pairing node.
func (b *Bridge) Close() error {
	return b.node.Close()
}
