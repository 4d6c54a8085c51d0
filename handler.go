// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package relaypair

import (
	"crypto/sha256"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/log"
	"github.com/relaypair/go-relaypair/eventbus"
	"github.com/relaypair/go-relaypair/history"
	"github.com/relaypair/go-relaypair/protocols/jsonrpc"
	"github.com/relaypair/go-relaypair/protocols/pairing"
	"github.com/relaypair/go-relaypair/relay"
)

// loop routes inbound relay messages into the protocol handlers until torn down.
// Every message is handled on its own goroutine, so a slow or failing message
// does not hold up subsequent ones.
func (e *Engine) loop() {
	defer close(e.loopDone)

	for {
		select {
		case <-e.ctx.Done():
			return

		case msg := <-e.inbox:
			e.handlers.Add(1)
			go func() {
				defer e.handlers.Done()
				e.handleMessage(msg)
			}()
		}
	}
}

// handleMessage decrypts and classifies a single inbound relay message.
func (e *Engine) handleMessage(msg *relay.Message) {
	logger := e.logger.New("topic", msg.Topic)

	// Drop exact redeliveries of anything recently seen
	if seen, _ := e.seen.ContainsOrAdd(sha256.Sum256([]byte(msg.Topic+"\x00"+msg.Message)), struct{}{}); seen {
		logger.Trace("Dropping redelivered message")
		return
	}
	payload, err := e.crypto.Decode(msg.Topic, msg.Message)
	if err != nil {
		logger.Debug("Failed to decode message", "err", err)
		return
	}
	req, res, err := jsonrpc.Parse(payload)
	if err != nil {
		logger.Warn("Failed to parse message", "err", err)
		return
	}
	if req != nil {
		e.handleRequest(msg.Topic, req, logger.New("id", req.ID, "method", req.Method))
		return
	}
	e.handleResponse(msg.Topic, res, logger.New("id", res.ID))
}

// handleRequest records an inbound request and dispatches it to its method's
// handler. Handler failures are answered with an error response.
func (e *Engine) handleRequest(topic string, req *jsonrpc.Request, logger log.Logger) {
	if err := e.history.Set(topic, req); err != nil {
		if errors.Is(err, history.ErrRecordExists) {
			logger.Debug("Dropping duplicate request")
			return
		}
		// Untracked requests cannot be served, but the peer still gets an answer
		logger.Error("Failed to track request", "err", err)
		res := jsonrpc.NewError(req.ID, jsonrpc.CodeInternal, err.Error())
		if err := e.publishResponse(topic, pairing.ParseMethod(req.Method), res); err != nil {
			logger.Warn("Failed to send error response", "err", err)
		}
		return
	}
	var err error
	switch pairing.ParseMethod(req.Method) {
	case pairing.MethodPing:
		err = e.onPingRequest(topic, req, logger)
	case pairing.MethodDelete:
		err = e.onDeleteRequest(topic, req, logger)
	default:
		logger.Info("Unsupported request method")
		return
	}
	if err != nil {
		logger.Warn("Failed to handle request", "err", err)
		if err := e.sendError(topic, req.ID, jsonrpc.CodeInternal, err.Error()); err != nil {
			logger.Warn("Failed to send error response", "err", err)
		}
	}
}

// handleResponse resolves an inbound response against its request and
// dispatches it to the handler of the original method.
func (e *Engine) handleResponse(topic string, res *jsonrpc.Response, logger log.Logger) {
	if _, err := e.history.Get(topic, res.ID); err != nil {
		logger.Debug("Dropping unsolicited response", "err", err)
		return
	}
	record, fresh, err := e.history.Resolve(res)
	if err != nil {
		logger.Warn("Failed to resolve response", "err", err)
		return
	}
	if !fresh {
		logger.Debug("Dropping duplicate response")
		return
	}
	switch pairing.ParseMethod(record.Request.Method) {
	case pairing.MethodPing:
		e.onPingResponse(res)
	case pairing.MethodDelete:
		if res.Error != nil {
			logger.Debug("Pairing deletion rejected", "code", res.Error.Code, "message", res.Error.Message)
		} else {
			logger.Debug("Pairing deletion acknowledged")
		}
	default:
		logger.Info("Unsupported response method", "method", record.Request.Method)
	}
}

// onPingRequest answers a remote liveness check.
func (e *Engine) onPingRequest(topic string, req *jsonrpc.Request, logger log.Logger) error {
	if err := e.sendResult(topic, req.ID, true); err != nil {
		return err
	}
	logger.Debug("Answered remote ping")
	e.emit(EventPairingPing, topic, req.ID)
	return nil
}

// onPingResponse wakes up the local caller waiting on a ping.
func (e *Engine) onPingResponse(res *jsonrpc.Response) {
	var result eventbus.Result
	if res.Error != nil {
		result.Err = res.Error
	}
	e.bus.Emit(eventbus.Key{Kind: string(EventPairingPing), ID: res.ID}, result)
}

// onDeleteRequest tears down a pairing on the request of the remote peer. The
// acknowledgement is sent before anything is erased, as it must be encrypted
// with the key of the channel.
func (e *Engine) onDeleteRequest(topic string, req *jsonrpc.Request, logger log.Logger) error {
	var reason pairing.DeleteParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &reason); err != nil {
			return err
		}
	}
	deleted, err := e.deleteRequested(topic, req, reason)
	if err != nil {
		return err
	}
	if !deleted {
		logger.Debug("Ignoring deletion of unknown pairing")
		return nil
	}
	logger.Info("Pairing deleted by peer", "code", reason.Code, "reason", reason.Message)
	e.emit(EventPairingDelete, topic, req.ID)
	return nil
}

// deleteRequested acknowledges and runs a remote deletion under the topic lock,
// reporting whether there was anything to delete.
func (e *Engine) deleteRequested(topic string, req *jsonrpc.Request, reason pairing.DeleteParams) (bool, error) {
	e.topics.Lock(topic)
	defer e.topics.Unlock(topic)

	exists, err := e.exists(topic)
	if err != nil || !exists {
		return false, err
	}
	if err := e.sendResult(topic, req.ID, true); err != nil {
		return false, err
	}
	if err := e.deletePairing(e.ctx, topic, reason.Message); err != nil {
		return false, err
	}
	return true, nil
}
