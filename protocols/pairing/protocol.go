// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package pairing defines the pairing records, the handshake URI and the tiny
// RPC protocol spoken across a pairing channel.
package pairing

import (
	"github.com/relaypair/go-relaypair/params"
	"github.com/relaypair/go-relaypair/relay"
)

// Method is the enumeration of RPC methods of the pairing protocol.
type Method int

const (
	// MethodUnknown is any method name not part of the pairing protocol.
	MethodUnknown Method = iota

	// MethodPing is a liveness check of the remote peer.
	MethodPing

	// MethodDelete is a notification that the remote peer tore the pairing down.
	MethodDelete
)

const (
	methodPingName   = "wc_pairingPing"
	methodDeleteName = "wc_pairingDelete"
)

// ParseMethod maps a wire method name onto the protocol enumeration.
func ParseMethod(name string) Method {
	switch name {
	case methodPingName:
		return MethodPing
	case methodDeleteName:
		return MethodDelete
	default:
		return MethodUnknown
	}
}

// String implements fmt.Stringer, returning the wire name of the method.
func (m Method) String() string {
	switch m {
	case MethodPing:
		return methodPingName
	case MethodDelete:
		return methodDeleteName
	default:
		return "unknown"
	}
}

// rpcOptions is the relay delivery configuration of a single method, both for
// sending requests and for answering them.
type rpcOptions struct {
	request  relay.PublishOptions
	response relay.PublishOptions
}

// methodOptions contains the publish options for all the known methods.
var methodOptions = map[Method]rpcOptions{
	MethodDelete: {
		request:  relay.PublishOptions{TTL: params.OneDay, Prompt: false, Tag: 1000},
		response: relay.PublishOptions{TTL: params.OneDay, Prompt: false, Tag: 1001},
	},
	MethodPing: {
		request:  relay.PublishOptions{TTL: params.ThirtySeconds, Prompt: false, Tag: 1002},
		response: relay.PublishOptions{TTL: params.ThirtySeconds, Prompt: false, Tag: 1003},
	},
}

// unknownOptions is used for anything that's not explicitly configured.
var unknownOptions = rpcOptions{
	request:  relay.PublishOptions{TTL: params.OneDay, Prompt: false, Tag: 0},
	response: relay.PublishOptions{TTL: params.OneDay, Prompt: false, Tag: 0},
}

// RequestOptions returns the relay options to publish a request with.
func (m Method) RequestOptions() relay.PublishOptions {
	if opts, ok := methodOptions[m]; ok {
		return opts.request
	}
	return unknownOptions.request
}

// ResponseOptions returns the relay options to publish a response to a request
// of this method with.
func (m Method) ResponseOptions() relay.PublishOptions {
	if opts, ok := methodOptions[m]; ok {
		return opts.response
	}
	return unknownOptions.response
}

// PingParams is the (empty) parameter set of a ping request.
type PingParams struct{}

// DeleteParams is the reason sent along a pairing deletion.
type DeleteParams struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// UserDisconnected is the reason sent when the local user explicitly tears the
// pairing down.
var UserDisconnected = DeleteParams{Code: 6000, Message: "User disconnected."}
