// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package pairing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// SymKeyLength is the byte length of the symmetric key shared through a URI.
const SymKeyLength = 32

// ErrInvalidURI is returned if a pairing URI is empty or malformed.
var ErrInvalidURI = errors.New("invalid pairing uri")

// URI is the out-of-band handshake material passed from the initiator to the
// responder, usually via a QR code or deep link. It's never persisted.
type URI struct {
	Protocol        string // Pairing scheme identifier
	Version         int    // Pairing scheme version
	Topic           string // Channel identifier
	SymKey          []byte // Symmetric key of the channel
	Relay           Relay  // Relay routing metadata
	ExpiryTimestamp int64  // Optional unix timestamp after which the URI is stale (0 if unset)
}

// FormatURI serializes the handshake material into its textual form:
//
//	wc:{topic}@{version}?symKey={hex}&relay-protocol={p}[&relay-data={d}][&expiryTimestamp={t}]
func FormatURI(uri *URI) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s:%s@%d", uri.Protocol, uri.Topic, uri.Version)
	fmt.Fprintf(&b, "?symKey=%s", hex.EncodeToString(uri.SymKey))
	fmt.Fprintf(&b, "&relay-protocol=%s", url.QueryEscape(uri.Relay.Protocol))
	if uri.Relay.Data != "" {
		fmt.Fprintf(&b, "&relay-data=%s", url.QueryEscape(uri.Relay.Data))
	}
	if uri.ExpiryTimestamp != 0 {
		fmt.Fprintf(&b, "&expiryTimestamp=%d", uri.ExpiryTimestamp)
	}
	return b.String()
}

// ParseURI deserializes a textual pairing URI, failing explicitly on any field
// being missing or malformed instead of defaulting it.
func ParseURI(raw string) (*URI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty uri", ErrInvalidURI)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("%w: missing protocol", ErrInvalidURI)
	}
	// The topic and version live in the opaque part, split them apart. Depending
	// on whether the uri was written as wc:x or wc://x, they might end up in the
	// host field instead.
	path := parsed.Opaque
	if path == "" {
		path = parsed.Host + parsed.Path
		if parsed.User != nil {
			path = parsed.User.String() + "@" + path
		}
	}
	at := strings.LastIndex(path, "@")
	if at < 0 {
		return nil, fmt.Errorf("%w: missing version separator", ErrInvalidURI)
	}
	topic, ver := path[:at], path[at+1:]
	if topic == "" {
		return nil, fmt.Errorf("%w: missing topic", ErrInvalidURI)
	}
	version, err := strconv.Atoi(ver)
	if err != nil || version <= 0 {
		return nil, fmt.Errorf("%w: invalid version %q", ErrInvalidURI, ver)
	}
	// Parse the query fields and validate the mandatory ones
	query, err := url.ParseQuery(parsed.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	symhex := query.Get("symKey")
	if symhex == "" {
		return nil, fmt.Errorf("%w: missing symKey", ErrInvalidURI)
	}
	symkey, err := hex.DecodeString(symhex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid symKey: %v", ErrInvalidURI, err)
	}
	if len(symkey) != SymKeyLength {
		return nil, fmt.Errorf("%w: invalid symKey length %d", ErrInvalidURI, len(symkey))
	}
	protocol := query.Get("relay-protocol")
	if protocol == "" {
		return nil, fmt.Errorf("%w: missing relay-protocol", ErrInvalidURI)
	}
	var expiry int64
	if ts := query.Get("expiryTimestamp"); ts != "" {
		if expiry, err = strconv.ParseInt(ts, 10, 64); err != nil || expiry <= 0 {
			return nil, fmt.Errorf("%w: invalid expiryTimestamp %q", ErrInvalidURI, ts)
		}
	}
	return &URI{
		Protocol: parsed.Scheme,
		Version:  version,
		Topic:    topic,
		SymKey:   symkey,
		Relay: Relay{
			Protocol: protocol,
			Data:     query.Get("relay-data"),
		},
		ExpiryTimestamp: expiry,
	}, nil
}
