// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package rest implements the RESTful API for the pairing engine.
package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-chi/chi/v5"
	"github.com/relaypair/go-relaypair"
	"github.com/relaypair/go-relaypair/params"
	"github.com/relaypair/go-relaypair/protocols/jsonrpc"
	"github.com/relaypair/go-relaypair/protocols/pairing"
	"github.com/relaypair/go-relaypair/store"
)

// Config can be used to fine tune the REST API.
type Config struct {
	PingTimeout time.Duration // Maximum time to wait for a remote ping answer
	Logger      log.Logger    // Logger to report through, defaults to the root
}

// New creates a REST API interface in front of a pairing engine.
func New(engine *relaypair.Engine, config Config) http.Handler {
	if config.PingTimeout <= 0 {
		config.PingTimeout = params.ThirtySeconds
	}
	if config.Logger == nil {
		config.Logger = log.Root()
	}
	api := &api{
		engine:      engine,
		pingTimeout: config.PingTimeout,
		logger:      config.Logger.New("api", "rest"),
	}
	router := chi.NewRouter()
	router.Route("/pairings", func(r chi.Router) {
		r.Get("/", api.listPairings)
		r.Post("/", api.createPairing)
		r.Put("/", api.joinPairing)

		r.Route("/{topic}", func(r chi.Router) {
			r.Delete("/", api.disconnectPairing)
			r.Post("/activate", api.activatePairing)
			r.Post("/ping", api.pingPairing)
			r.Put("/expiry", api.updateExpiry)
			r.Put("/metadata", api.updateMetadata)
		})
	})
	router.Get("/events", api.streamEvents)

	return router
}

// api is a REST wrapper on top of the pairing engine that translates the Go
// APIs into REST.
type api struct {
	engine      *relaypair.Engine
	pingTimeout time.Duration
	logger      log.Logger
}

// statusOf maps an engine error onto the HTTP status code to report it with.
func statusOf(err error) int {
	var rpcerr *jsonrpc.Error
	switch {
	case errors.Is(err, pairing.ErrInvalidURI):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, relaypair.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.As(err, &rpcerr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail reports an engine error to the client with the matching status code.
func fail(w http.ResponseWriter, logger log.Logger, msg string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, "err", err)
	} else {
		logger.Warn(msg, "err", err)
	}
	http.Error(w, err.Error(), status)
}
