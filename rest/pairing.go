// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package rest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/relaypair/go-relaypair/protocols/pairing"
)

// PairingSession is the response sent back to the client when creating a new
// pairing, containing the URI to share with the remote peer.
type PairingSession struct {
	Topic string `json:"topic"`
	URI   string `json:"uri"`
}

// listPairings serves all the currently tracked pairings.
func (api *api) listPairings(w http.ResponseWriter, r *http.Request) {
	api.logger.Debug("Requesting pairing listing")

	pairings, err := api.engine.GetPairings()
	if err != nil {
		fail(w, api.logger, "Pairing listing failed", err)
		return
	}
	if pairings == nil {
		pairings = []*pairing.Pairing{}
	}
	w.Header().Add("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pairings)
}

// createPairing creates a fresh pairing for a remote peer to join.
func (api *api) createPairing(w http.ResponseWriter, r *http.Request) {
	api.logger.Debug("Requesting pairing creation")

	topic, uri, err := api.engine.Create(r.Context())
	if err != nil {
		fail(w, api.logger, "Pairing creation failed", err)
		return
	}
	api.logger.Debug("Pairing successfully created", "topic", topic)
	w.Header().Add("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&PairingSession{Topic: topic, URI: uri})
}

// joinPairing joins a pairing created by a remote peer.
func (api *api) joinPairing(w http.ResponseWriter, r *http.Request) {
	api.logger.Debug("Requesting pairing joining")

	var uri string
	if err := json.NewDecoder(r.Body).Decode(&uri); err != nil {
		api.logger.Warn("Provided pairing uri is invalid", "err", err)
		http.Error(w, "Provided pairing uri is invalid: "+err.Error(), http.StatusBadRequest)
		return
	}
	p, err := api.engine.Pair(r.Context(), uri)
	if err != nil {
		fail(w, api.logger, "Pairing joining failed", err)
		return
	}
	api.logger.Debug("Pairing successfully joined", "topic", p.Topic)
	w.Header().Add("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// activatePairing marks a pairing acknowledged by the remote peer.
func (api *api) activatePairing(w http.ResponseWriter, r *http.Request) {
	logger := api.logger.New("topic", chi.URLParam(r, "topic"))
	logger.Debug("Requesting pairing activation")

	if err := api.engine.Activate(chi.URLParam(r, "topic")); err != nil {
		fail(w, logger, "Pairing activation failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// pingPairing checks the liveness of the remote peer of a pairing.
func (api *api) pingPairing(w http.ResponseWriter, r *http.Request) {
	logger := api.logger.New("topic", chi.URLParam(r, "topic"))
	logger.Debug("Requesting pairing ping")

	ctx, cancel := context.WithTimeout(r.Context(), api.pingTimeout)
	defer cancel()

	if err := api.engine.Ping(ctx, chi.URLParam(r, "topic")); err != nil {
		fail(w, logger, "Pairing ping failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// updateExpiry overrides the expiry timestamp of a pairing.
func (api *api) updateExpiry(w http.ResponseWriter, r *http.Request) {
	logger := api.logger.New("topic", chi.URLParam(r, "topic"))
	logger.Debug("Requesting pairing expiry update")

	var expiry int64
	if err := json.NewDecoder(r.Body).Decode(&expiry); err != nil {
		logger.Warn("Provided expiry is invalid", "err", err)
		http.Error(w, "Provided expiry is invalid: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := api.engine.UpdateExpiry(chi.URLParam(r, "topic"), expiry); err != nil {
		fail(w, logger, "Pairing expiry update failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// updateMetadata sets the remote peer's self-description of a pairing.
func (api *api) updateMetadata(w http.ResponseWriter, r *http.Request) {
	logger := api.logger.New("topic", chi.URLParam(r, "topic"))
	logger.Debug("Requesting pairing metadata update")

	metadata := new(pairing.Metadata)
	if err := json.NewDecoder(r.Body).Decode(metadata); err != nil {
		logger.Warn("Provided metadata is invalid", "err", err)
		http.Error(w, "Provided metadata is invalid: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := api.engine.UpdateMetadata(chi.URLParam(r, "topic"), metadata); err != nil {
		fail(w, logger, "Pairing metadata update failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// disconnectPairing tears down a pairing, notifying the remote peer.
func (api *api) disconnectPairing(w http.ResponseWriter, r *http.Request) {
	logger := api.logger.New("topic", chi.URLParam(r, "topic"))
	logger.Debug("Requesting pairing disconnect")

	if err := api.engine.Disconnect(r.Context(), chi.URLParam(r, "topic")); err != nil {
		fail(w, logger, "Pairing disconnect failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
