// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package relaypair implements the pairing engine: the lifecycle of encrypted
// channels bootstrapped between two peers through a handshake URI, and the tiny
// RPC protocol spoken across them over an untrusted relay.
package relaypair

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/relaypair/go-relaypair/eventbus"
	"github.com/relaypair/go-relaypair/history"
	"github.com/relaypair/go-relaypair/keymutex"
	"github.com/relaypair/go-relaypair/params"
	"github.com/relaypair/go-relaypair/protocols/jsonrpc"
	"github.com/relaypair/go-relaypair/protocols/pairing"
	"github.com/relaypair/go-relaypair/relay"
)

// seenCacheSize is the number of recent inbound messages tracked to drop relay
// redeliveries.
const seenCacheSize = 1024

// ErrNotInitialized is returned if the engine is used before Init or after Close.
var ErrNotInitialized = errors.New("engine not initialized")

// Store is the durable mapping from topics to pairing records.
type Store interface {
	Init() error
	Set(topic string, p *pairing.Pairing) error
	Get(topic string) (*pairing.Pairing, error)
	Update(topic string, update *pairing.Update) (*pairing.Pairing, error)
	Delete(topic string, reason string) error
	Keys() ([]string, error)
	Values() ([]*pairing.Pairing, error)
}

// Crypto is the owner of the symmetric keys, encrypting and decrypting the
// messages of a topic.
type Crypto interface {
	GenerateSymKey() ([]byte, error)
	SetSymKey(key []byte, topic string) (string, error)
	DeleteSymKey(topic string) error
	Encode(topic string, payload []byte) (string, error)
	Decode(topic string, message string) ([]byte, error)
}

// Relayer is the pub/sub transport the peers exchange messages through.
type Relayer interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, message string, opts relay.PublishOptions) error
	SubscribeMessages(ch chan<- *relay.Message) event.Subscription
}

// History is the request correlator matching responses to their requests.
type History interface {
	Set(topic string, request *jsonrpc.Request) error
	Get(topic string, id uint64) (*history.Record, error)
	Resolve(response *jsonrpc.Response) (*history.Record, bool, error)
	Delete(topic string, id uint64) error
	Pending(topic string) ([]*history.Record, error)
}

// Config is the set of collaborators and settings of a pairing engine.
type Config struct {
	Store   Store   // Persistent pairing records
	Crypto  Crypto  // Symmetric key management and message encryption
	Relayer Relayer // Transport to reach the remote peers through
	History History // Request/response correlator

	Relay  pairing.Relay // Relay routing metadata advertised in created pairings
	Clock  clock.Clock   // Time source for expiries, defaults to the wall clock
	Logger log.Logger    // Logger to report through, defaults to the root
}

// EventKind is the type of a notification emitted by the engine.
type EventKind string

const (
	// EventPairingPing is emitted when a remote ping was answered.
	EventPairingPing EventKind = "pairing_ping"

	// EventPairingDelete is emitted when a pairing was torn down by the remote peer.
	EventPairingDelete EventKind = "pairing_delete"

	// EventPairingExpire is emitted when a pairing was torn down due to its expiry.
	EventPairingExpire EventKind = "pairing_expire"
)

// Event is a notification about something the remote side (or time) did to a
// pairing.
type Event struct {
	Kind  EventKind `json:"kind"`         // Type of the notification
	Topic string    `json:"topic"`        // Pairing topic the event happened on
	ID    uint64    `json:"id,omitempty"` // RPC id that triggered the event, if any
}

// Engine is the orchestrator of the pairing lifecycle. It owns all the state
// transitions of the pairing records and routes inbound relay traffic into the
// protocol handlers.
type Engine struct {
	store   Store
	crypto  Crypto
	relayer Relayer
	history History

	relay  pairing.Relay
	clock  clock.Clock
	logger log.Logger

	bus    *eventbus.Bus                  // One-shot listeners of pending outbound calls
	feed   event.Feed                     // Notification feed for external observers
	seen   *lru.Cache[[32]byte, struct{}] // Recently delivered inbound messages
	topics keymutex.Mutex                 // Serializes the lifecycle operations of a topic

	inited   bool
	inbox    chan *relay.Message
	sub      event.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	handlers sync.WaitGroup

	lock sync.RWMutex
}

// New creates a pairing engine from already assembled collaborators. The engine
// is inert until initialized.
func New(config Config) *Engine {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = log.Root()
	}
	if config.Relay.Protocol == "" {
		config.Relay.Protocol = params.RelayProtocol
	}
	seen, err := lru.New[[32]byte, struct{}](seenCacheSize)
	if err != nil {
		panic(err) // only fails on non-positive sizes
	}
	return &Engine{
		store:   config.Store,
		crypto:  config.Crypto,
		relayer: config.Relayer,
		history: config.History,
		relay:   config.Relay,
		clock:   config.Clock,
		logger:  config.Logger,
		bus:     eventbus.New(),
		seen:    seen,
	}
}

// Init initializes the pairing store, starts routing inbound relay messages and
// resubscribes to all the persisted topics. Calling it multiple times is a noop.
func (e *Engine) Init() error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.inited {
		return nil
	}
	if err := e.store.Init(); err != nil {
		return err
	}
	e.inbox = make(chan *relay.Message)
	e.sub = e.relayer.SubscribeMessages(e.inbox)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.loopDone = make(chan struct{})

	go e.loop()

	// Pairings persisted from a previous run need their relay coverage back
	topics, err := e.store.Keys()
	if err != nil {
		e.teardown()
		return err
	}
	for _, topic := range topics {
		if err := e.relayer.Subscribe(e.ctx, topic); err != nil {
			e.teardown()
			return err
		}
	}
	e.inited = true
	e.logger.Info("Pairing engine initialized", "pairings", len(topics))
	return nil
}

// Close stops routing inbound messages and waits for all in-flight handlers to
// finish. The engine can be initialized again afterwards.
func (e *Engine) Close() error {
	e.lock.Lock()
	if !e.inited {
		e.lock.Unlock()
		return nil
	}
	e.inited = false
	e.lock.Unlock()

	e.teardown()
	e.logger.Info("Pairing engine closed")
	return nil
}

// teardown stops the routing loop and waits for the message handlers.
func (e *Engine) teardown() {
	e.sub.Unsubscribe()
	e.cancel()
	<-e.loopDone
	e.handlers.Wait()
}

// ready returns an error if the engine is not initialized.
func (e *Engine) ready() error {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if !e.inited {
		return ErrNotInitialized
	}
	return nil
}

// SubscribeEvents registers a channel to receive the engine notifications on.
// The channel should be buffered or drained promptly, the protocol handlers
// block until the event is delivered.
func (e *Engine) SubscribeEvents(ch chan<- *Event) event.Subscription {
	return e.feed.Subscribe(ch)
}

// emit notifies all the external observers of an event.
func (e *Engine) emit(kind EventKind, topic string, id uint64) {
	e.feed.Send(&Event{Kind: kind, Topic: topic, ID: id})
}
