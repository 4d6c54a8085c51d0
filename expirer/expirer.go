// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package expirer periodically tears down pairings that outlived their expiry
// and prunes the request history.
package expirer

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/relaypair/go-relaypair/params"
	"github.com/relaypair/go-relaypair/protocols/pairing"
)

// sweepTimeout is the maximum time a single sweep may take.
const sweepTimeout = 30 * time.Second

// Target is the pairing engine whose records are swept.
type Target interface {
	GetPairings() ([]*pairing.Pairing, error)
	Expire(ctx context.Context, topic string) error
}

// Pruner is a store whose stale entries can be dropped in bulk.
type Pruner interface {
	Prune() (int, error)
}

// Config is the set of collaborators and settings of an expirer.
type Config struct {
	Target   Target        // Engine to expire pairings through
	Pruner   Pruner        // Optional history to prune on every sweep
	Clock    clock.Clock   // Time source, defaults to the wall clock
	Interval time.Duration // Time between sweeps, defaults to params.ExpirySweepInterval
	Logger   log.Logger    // Logger to report through, defaults to the root
}

// Expirer is a background sweeper for expired pairings.
type Expirer struct {
	target Target
	pruner Pruner
	clock  clock.Clock
	logger log.Logger

	ticker *clock.Ticker
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an expirer and starts its sweep loop.
func New(config Config) *Expirer {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Interval <= 0 {
		config.Interval = params.ExpirySweepInterval
	}
	if config.Logger == nil {
		config.Logger = log.Root()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Expirer{
		target: config.Target,
		pruner: config.Pruner,
		clock:  config.Clock,
		logger: config.Logger.New("service", "expirer"),
		ticker: config.Clock.Ticker(config.Interval),
		ctx:    ctx,
		cancel: cancel,
	}
	e.wg.Add(1)
	go e.loop()

	e.logger.Info("Expiry sweeper started", "interval", config.Interval)
	return e
}

// Close terminates the sweep loop, waiting for any running sweep to finish.
func (e *Expirer) Close() error {
	e.cancel()
	e.ticker.Stop()
	e.wg.Wait()

	e.logger.Info("Expiry sweeper stopped")
	return nil
}

// loop runs a sweep on every tick until torn down.
func (e *Expirer) loop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.ticker.C:
			e.Sweep()
		}
	}
}

// Sweep expires every pairing past its deadline and prunes the history. It
// returns the number of stale pairings handed over to the target, which skips
// any renewed since the listing.
func (e *Expirer) Sweep() int {
	ctx, cancel := context.WithTimeout(e.ctx, sweepTimeout)
	defer cancel()

	pairings, err := e.target.GetPairings()
	if err != nil {
		e.logger.Error("Failed to list pairings", "err", err)
		return 0
	}
	var (
		now     = e.clock.Now()
		expired int
	)
	for _, p := range pairings {
		if !params.Expired(p.Expiry, now) {
			continue
		}
		if err := e.target.Expire(ctx, p.Topic); err != nil {
			e.logger.Warn("Failed to expire pairing", "topic", p.Topic, "err", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		e.logger.Info("Expired stale pairings", "count", expired)
	}
	if e.pruner != nil {
		if _, err := e.pruner.Prune(); err != nil {
			e.logger.Error("Failed to prune history", "err", err)
		}
	}
	return expired
}
