// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package relay contains the transports through which paired peers exchange
// encrypted messages, since they cannot connect to each other directly.
//
// The wire protocol towards a production relay is out of scope here; this
// package provides an in-memory hub for tests and local development, and a
// Redis pub/sub client that can be optionally tunneled through a SOCKS5 proxy
// (e.g. Tor).
package relay

import (
	"errors"
	"time"
)

// ErrClosed is returned if an operation is attempted on a torn down relay.
var ErrClosed = errors.New("relay closed")

// Message is an inbound notification for a subscribed topic.
type Message struct {
	Topic   string // Topic the message was published on
	Message string // Opaque, encrypted message envelope
}

// PublishOptions configures how the relay should deliver a message.
type PublishOptions struct {
	TTL    time.Duration // Time for the relay to keep the message for offline peers
	Tag    int           // Delivery tag, identifying the message class
	Prompt bool          // Whether the recipient should be woken up by a push
}
