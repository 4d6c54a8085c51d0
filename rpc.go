// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package relaypair

import (
	"context"
	"encoding/json"

	"github.com/relaypair/go-relaypair/history"
	"github.com/relaypair/go-relaypair/protocols/jsonrpc"
	"github.com/relaypair/go-relaypair/protocols/pairing"
)

// sendRequest encrypts and publishes a request to the remote peer, tracking it
// in the history so the response can be correlated.
func (e *Engine) sendRequest(ctx context.Context, topic string, id uint64, method pairing.Method, params interface{}) error {
	req, err := jsonrpc.NewRequest(id, method.String(), params)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(req)
	if err != nil {
		return err
	}
	message, err := e.crypto.Encode(topic, blob)
	if err != nil {
		return err
	}
	if err := e.history.Set(topic, req); err != nil {
		return err
	}
	if err := e.relayer.Publish(ctx, topic, message, method.RequestOptions()); err != nil {
		if err := e.history.Delete(topic, id); err != nil {
			e.logger.Warn("Failed to drop unsent request", "topic", topic, "id", id, "err", err)
		}
		return err
	}
	e.logger.Trace("Sent request", "topic", topic, "id", id, "method", method)
	return nil
}

// sendResult answers a previously received request with a successful result.
func (e *Engine) sendResult(topic string, id uint64, result interface{}) error {
	record, err := e.history.Get(topic, id)
	if err != nil {
		return err
	}
	res, err := jsonrpc.NewResult(id, result)
	if err != nil {
		return err
	}
	return e.sendResponse(topic, record, res)
}

// sendError answers a previously received request with a failure.
func (e *Engine) sendError(topic string, id uint64, code int, message string) error {
	record, err := e.history.Get(topic, id)
	if err != nil {
		return err
	}
	return e.sendResponse(topic, record, jsonrpc.NewError(id, code, message))
}

// sendResponse encrypts and publishes a response with the delivery options of
// the original request's method, marking the request resolved.
func (e *Engine) sendResponse(topic string, record *history.Record, res *jsonrpc.Response) error {
	if err := e.publishResponse(topic, pairing.ParseMethod(record.Request.Method), res); err != nil {
		return err
	}
	if _, _, err := e.history.Resolve(res); err != nil {
		e.logger.Warn("Failed to resolve answered request", "topic", topic, "id", res.ID, "err", err)
	}
	return nil
}

// publishResponse encrypts and publishes a response without touching the
// history.
func (e *Engine) publishResponse(topic string, method pairing.Method, res *jsonrpc.Response) error {
	blob, err := json.Marshal(res)
	if err != nil {
		return err
	}
	message, err := e.crypto.Encode(topic, blob)
	if err != nil {
		return err
	}
	return e.relayer.Publish(e.ctx, topic, message, method.ResponseOptions())
}
