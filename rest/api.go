// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/relaypair/go-relaypair"
	"github.com/relaypair/go-relaypair/protocols/pairing"
)

// Error is a failed API call, carrying the HTTP status code the server replied
// with.
type Error struct {
	Status  int    // HTTP status code of the failure
	Message string // Error message sent by the server
}

// Error implements the error interface.
func (err *Error) Error() string {
	return fmt.Sprintf("request failed: %d: %s", err.Status, err.Message)
}

// API is a tiny Go client for the pairing REST APIs. The purpose is to allow
// writing integration tests and scenarios in Go.
type API struct {
	endpoint string
}

// NewAPI creates a simplistic REST API around a pairing endpoint.
func NewAPI(endpoint string) *API {
	return &API{
		endpoint: endpoint,
	}
}

func (api *API) Pairings() ([]*pairing.Pairing, error) {
	var pairings []*pairing.Pairing
	if err := api.run("GET", "/pairings", nil, &pairings); err != nil {
		return nil, err
	}
	return pairings, nil
}
func (api *API) CreatePairing() (*PairingSession, error) {
	session := new(PairingSession)
	if err := api.run("POST", "/pairings", nil, session); err != nil {
		return nil, err
	}
	return session, nil
}
func (api *API) JoinPairing(uri string) (*pairing.Pairing, error) {
	p := new(pairing.Pairing)
	if err := api.run("PUT", "/pairings", uri, p); err != nil {
		return nil, err
	}
	return p, nil
}
func (api *API) ActivatePairing(topic string) error {
	return api.run("POST", "/pairings/"+topic+"/activate", nil, nil)
}
func (api *API) PingPairing(topic string) error {
	return api.run("POST", "/pairings/"+topic+"/ping", nil, nil)
}
func (api *API) UpdateExpiry(topic string, expiry int64) error {
	return api.run("PUT", "/pairings/"+topic+"/expiry", expiry, nil)
}
func (api *API) UpdateMetadata(topic string, metadata *pairing.Metadata) error {
	return api.run("PUT", "/pairings/"+topic+"/metadata", metadata, nil)
}
func (api *API) DisconnectPairing(topic string) error {
	return api.run("DELETE", "/pairings/"+topic, nil, nil)
}

// Events opens a websocket stream of the engine notifications.
func (api *API) Events() (*EventStream, error) {
	endpoint := "ws" + strings.TrimPrefix(api.endpoint, "http") + "/events"

	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, err
	}
	return &EventStream{conn: conn}, nil
}

// EventStream is a live feed of engine notifications.
type EventStream struct {
	conn *websocket.Conn
}

// Next blocks until the next event arrives.
func (s *EventStream) Next() (*relaypair.Event, error) {
	event := new(relaypair.Event)
	if err := s.conn.ReadJSON(event); err != nil {
		return nil, err
	}
	return event, nil
}

// Close tears down the event stream.
func (s *EventStream) Close() error {
	return s.conn.Close()
}

// run creates an API requests of the given type and sends over a JSON encoded
// request, potentially expecting a reply, and converting any failures into a
// Go error.
func (api *API) run(method string, path string, request interface{}, reply interface{}) error {
	// If a request body was specified, serialize it
	var body []byte
	if request != nil {
		blob, err := json.Marshal(request)
		if err != nil {
			return err
		}
		body = blob
	}
	// Run the request and ensure it succeeds
	req, err := http.NewRequest(method, api.endpoint+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err = io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return &Error{Status: res.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	// Request seems to have succeeded, parse any expected reply
	if reply != nil {
		return json.Unmarshal(body, reply)
	}
	return nil
}
