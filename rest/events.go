// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/relaypair/go-relaypair"
)

// eventWriteTimeout is the maximum time to push an event to a websocket client.
const eventWriteTimeout = 10 * time.Second

// upgrader converts event stream requests into websocket connections. Any
// origin is allowed, the API is meant to be served on localhost.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents pushes all the engine notifications to a websocket client until
// the connection is torn down.
func (api *api) streamEvents(w http.ResponseWriter, r *http.Request) {
	logger := api.logger.New("remote", r.RemoteAddr)

	// Subscribe before upgrading so nothing is missed after the handshake
	events := make(chan *relaypair.Event, 64)
	sub := api.engine.SubscribeEvents(events)
	defer sub.Unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Failed to upgrade event stream", "err", err)
		return
	}
	defer conn.Close()

	logger.Debug("Event stream opened")
	defer logger.Debug("Event stream closed")

	// Drain the client side to notice disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case event := <-events:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug("Failed to push event", "err", err)
				return
			}
		case <-sub.Err():
			return
		case <-closed:
			return
		}
	}
}
