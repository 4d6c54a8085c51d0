// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package relaypair

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/relaypair/go-relaypair/expirer"
	"github.com/relaypair/go-relaypair/history"
	"github.com/relaypair/go-relaypair/keychain"
	"github.com/relaypair/go-relaypair/protocols/pairing"
	"github.com/relaypair/go-relaypair/relay"
	"github.com/relaypair/go-relaypair/store"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/multierr"
)

// NodeConfig can be used to fine tune the assembly of a pairing node.
type NodeConfig struct {
	DataDir string // Directory to persist into, empty for an ephemeral in-memory node

	RedisURL    string     // Redis relay to connect to, empty to use an in-memory hub
	RedisProxy  string     // Optional SOCKS5 proxy to reach the Redis relay through
	RedisPrefix string     // Channel namespace on the Redis relay
	Hub         *relay.Hub // In-memory hub to attach to if no Redis relay is set

	Relay         pairing.Relay // Relay routing metadata advertised in created pairings
	SweepInterval time.Duration // Time between two expiry sweeps
	Clock         clock.Clock   // Time source, defaults to the wall clock
	Logger        log.Logger    // Logger to report through, defaults to the root
}

// Node is a fully assembled pairing engine along with its storage, relay and
// expiry sweeper.
type Node struct {
	Engine *Engine // Pairing engine to interact with

	database *leveldb.DB      // Database to avoid custom file formats for storage
	relay    io.Closer        // Relay connection to tear down on close
	expirer  *expirer.Expirer // Background sweeper of expired pairings
}

// NewNode assembles and initializes a pairing node.
func NewNode(ctx context.Context, config NodeConfig) (*Node, error) {
	if config.Logger == nil {
		config.Logger = log.Root()
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	// Create the database for accessing locally stored data
	var (
		db  *leveldb.DB
		err error
	)
	if config.DataDir == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(filepath.Join(config.DataDir, "ldb"), &opt.Options{})
	}
	if err != nil {
		return nil, err
	}
	// Connect to the relay that the peers can rendezvous on
	var rel interface {
		Relayer
		io.Closer
	}
	if config.RedisURL != "" {
		rel, err = relay.NewRedis(ctx, relay.RedisConfig{
			URL:    config.RedisURL,
			Proxy:  config.RedisProxy,
			Prefix: config.RedisPrefix,
			Logger: config.Logger,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	} else {
		hub := config.Hub
		if hub == nil {
			hub = relay.NewHub()
		}
		rel = hub.Client()
	}
	hist := history.New(db, config.Clock, config.Logger)

	engine := New(Config{
		Store:   store.New(db, config.Logger),
		Crypto:  keychain.New(db),
		Relayer: rel,
		History: hist,
		Relay:   config.Relay,
		Clock:   config.Clock,
		Logger:  config.Logger,
	})
	if err := engine.Init(); err != nil {
		rel.Close()
		db.Close()
		return nil, err
	}
	return &Node{
		Engine:   engine,
		database: db,
		relay:    rel,
		expirer: expirer.New(expirer.Config{
			Target:   engine,
			Pruner:   hist,
			Clock:    config.Clock,
			Interval: config.SweepInterval,
			Logger:   config.Logger,
		}),
	}, nil
}

// Close tears down the node. It's irreversible, it cannot be used afterwards.
func (n *Node) Close() error {
	return multierr.Combine(
		n.expirer.Close(),
		n.Engine.Close(),
		n.relay.Close(),
		n.database.Close(),
	)
}
