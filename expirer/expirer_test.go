// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package expirer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/relaypair/go-relaypair/protocols/pairing"
)

// testTarget is a pairing engine stand-in tracking expiry requests.
type testTarget struct {
	pairings []*pairing.Pairing
	failing  map[string]bool

	lock    sync.Mutex
	expired []string
	notify  chan string
}

func (t *testTarget) GetPairings() ([]*pairing.Pairing, error) {
	return t.pairings, nil
}

func (t *testTarget) Expire(ctx context.Context, topic string) error {
	if t.failing[topic] {
		return errors.New("expiry failed")
	}
	t.lock.Lock()
	t.expired = append(t.expired, topic)
	t.lock.Unlock()

	if t.notify != nil {
		select {
		case t.notify <- topic:
		default:
		}
	}
	return nil
}

// testPruner counts the prune invocations.
type testPruner struct {
	lock  sync.Mutex
	calls int
}

func (p *testPruner) Prune() (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.calls++
	return 0, nil
}

// Tests that a sweep only expires the pairings past their deadline.
func TestSweep(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1000, 0))

	target := &testTarget{
		pairings: []*pairing.Pairing{
			{Topic: "past", Expiry: 999},
			{Topic: "now", Expiry: 1000},
			{Topic: "future", Expiry: 1001},
			{Topic: "broken", Expiry: 10},
		},
		failing: map[string]bool{"broken": true},
	}
	pruner := new(testPruner)

	e := New(Config{Target: target, Pruner: pruner, Clock: clk, Interval: time.Hour})
	defer e.Close()

	if n := e.Sweep(); n != 2 {
		t.Errorf("expired count mismatch: have %d, want %d", n, 2)
	}
	sort.Strings(target.expired)
	if len(target.expired) != 2 || target.expired[0] != "now" || target.expired[1] != "past" {
		t.Errorf("expired topics mismatch: have %v, want [now past]", target.expired)
	}
	if pruner.calls != 1 {
		t.Errorf("prune count mismatch: have %d, want %d", pruner.calls, 1)
	}
}

// Tests that the background loop sweeps on every tick.
func TestLoop(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1000, 0))

	target := &testTarget{
		pairings: []*pairing.Pairing{{Topic: "T1", Expiry: 1500}},
		notify:   make(chan string, 1),
	}
	e := New(Config{Target: target, Clock: clk, Interval: time.Minute})
	defer e.Close()

	// First tick is before the expiry, nothing should happen
	clk.Add(time.Minute)
	select {
	case topic := <-target.notify:
		t.Fatalf("premature expiry of %s", topic)
	case <-time.After(50 * time.Millisecond):
	}
	// Jump past the expiry and wait for the sweep
	clk.Add(10 * time.Minute)
	select {
	case topic := <-target.notify:
		if topic != "T1" {
			t.Errorf("expired topic mismatch: have %s, want %s", topic, "T1")
		}
	case <-time.After(time.Second):
		t.Fatalf("pairing not expired")
	}
}
