// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package jsonrpc implements the JSON-RPC 2.0 envelopes exchanged between two
// paired peers across the relay.
package jsonrpc

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Version is the JSON-RPC protocol version stamped into every payload.
const Version = "2.0"

// CodeInternal is the generic error code used when a request handler fails for
// a reason not covered by a more specific code.
const CodeInternal = -32000

// ErrInvalidPayload is returned if a decoded relay message is neither a request
// nor a response.
var ErrInvalidPayload = errors.New("invalid json-rpc payload")

// Request is a remote method invocation.
type Request struct {
	ID      uint64          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the reply to a previously sent request, carrying either a result
// or an error, never both.
type Response struct {
	ID      uint64          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a failure reported by the remote peer.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// lastID is the most recently issued request id, used to keep ids monotonic
// even if the clock stalls or two calls land in the same microsecond.
var lastID uint64

// NewID generates a fresh request id. The id is the current time in micro-
// seconds shifted by three decimal digits of randomness, which matches what
// other implementations issue and keeps ids unique across restarts.
func NewID() uint64 {
	var blob [2]byte
	rand.Read(blob[:])

	id := uint64(time.Now().UnixNano()/1000)*1000 + uint64(binary.BigEndian.Uint16(blob[:])%1000)
	for {
		last := atomic.LoadUint64(&lastID)
		if id <= last {
			id = last + 1
		}
		if atomic.CompareAndSwapUint64(&lastID, last, id) {
			return id
		}
	}
}

// NewRequest assembles a request for the given method, serializing the params.
func NewRequest(id uint64, method string, params interface{}) (*Request, error) {
	blob, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{ID: id, JSONRPC: Version, Method: method, Params: blob}, nil
}

// NewResult assembles a successful response to the request with the given id.
func NewResult(id uint64, result interface{}) (*Response, error) {
	blob, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{ID: id, JSONRPC: Version, Result: blob}, nil
}

// NewError assembles a failure response to the request with the given id.
func NewError(id uint64, code int, message string) *Response {
	return &Response{ID: id, JSONRPC: Version, Error: &Error{Code: code, Message: message}}
}

// payload is the union of the request and response fields, used to classify an
// inbound message by its shape.
type payload struct {
	ID      *uint64         `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// Parse decodes a JSON-RPC payload and classifies it as either a request or a
// response. Exactly one of the returned values is non-nil on success.
func Parse(blob []byte) (*Request, *Response, error) {
	var msg payload
	if err := json.Unmarshal(blob, &msg); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.ID == nil {
		return nil, nil, fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}
	switch {
	case msg.Method != "":
		return &Request{ID: *msg.ID, JSONRPC: msg.JSONRPC, Method: msg.Method, Params: msg.Params}, nil, nil

	case msg.Error != nil:
		return nil, &Response{ID: *msg.ID, JSONRPC: msg.JSONRPC, Error: msg.Error}, nil

	case msg.Result != nil:
		return nil, &Response{ID: *msg.ID, JSONRPC: msg.JSONRPC, Result: msg.Result}, nil

	default:
		return nil, nil, fmt.Errorf("%w: neither request nor response", ErrInvalidPayload)
	}
}
