// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package pairing

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// testSymKey is a fixed 32 byte key to build URIs with.
var testSymKey = bytes.Repeat([]byte{0x5a}, SymKeyLength)

// Tests that pairing URIs can be formatted and parsed back.
func TestURIRoundtrip(t *testing.T) {
	tests := []*URI{
		{Protocol: "wc", Version: 2, Topic: "T1", SymKey: testSymKey, Relay: Relay{Protocol: "irn"}},
		{Protocol: "wc", Version: 2, Topic: "4a1b", SymKey: testSymKey, Relay: Relay{Protocol: "irn", Data: "region=eu&x y"}},
		{Protocol: "wc", Version: 7, Topic: "abc", SymKey: testSymKey, Relay: Relay{Protocol: "waku"}, ExpiryTimestamp: 1600000300},
	}
	for i, uri := range tests {
		text := FormatURI(uri)

		parsed, err := ParseURI(text)
		if err != nil {
			t.Errorf("test %d: failed to parse %s: %v", i, text, err)
			continue
		}
		if parsed.Protocol != uri.Protocol {
			t.Errorf("test %d: protocol mismatch: have %s, want %s", i, parsed.Protocol, uri.Protocol)
		}
		if parsed.Version != uri.Version {
			t.Errorf("test %d: version mismatch: have %d, want %d", i, parsed.Version, uri.Version)
		}
		if parsed.Topic != uri.Topic {
			t.Errorf("test %d: topic mismatch: have %s, want %s", i, parsed.Topic, uri.Topic)
		}
		if !bytes.Equal(parsed.SymKey, uri.SymKey) {
			t.Errorf("test %d: key mismatch: have %x, want %x", i, parsed.SymKey, uri.SymKey)
		}
		if parsed.Relay != uri.Relay {
			t.Errorf("test %d: relay mismatch: have %+v, want %+v", i, parsed.Relay, uri.Relay)
		}
		if parsed.ExpiryTimestamp != uri.ExpiryTimestamp {
			t.Errorf("test %d: expiry mismatch: have %d, want %d", i, parsed.ExpiryTimestamp, uri.ExpiryTimestamp)
		}
	}
}

// Tests the textual layout of a formatted URI.
func TestFormatURI(t *testing.T) {
	uri := FormatURI(&URI{Protocol: "wc", Version: 2, Topic: "T1", SymKey: testSymKey, Relay: Relay{Protocol: "irn"}})
	if !strings.HasPrefix(uri, "wc:T1@2?symKey=5a5a") {
		t.Errorf("unexpected uri prefix: %s", uri)
	}
	if !strings.HasSuffix(uri, "&relay-protocol=irn") {
		t.Errorf("unexpected uri suffix: %s", uri)
	}
}

// Tests that malformed URIs are rejected explicitly.
func TestParseURIFailures(t *testing.T) {
	key := strings.Repeat("5a", SymKeyLength)

	tests := []string{
		"",
		"   ",
		"T1@2?symKey=" + key + "&relay-protocol=irn",
		"wc:@2?symKey=" + key + "&relay-protocol=irn",
		"wc:T1?symKey=" + key + "&relay-protocol=irn",
		"wc:T1@x?symKey=" + key + "&relay-protocol=irn",
		"wc:T1@0?symKey=" + key + "&relay-protocol=irn",
		"wc:T1@2?relay-protocol=irn",
		"wc:T1@2?symKey=zz&relay-protocol=irn",
		"wc:T1@2?symKey=5a5a&relay-protocol=irn",
		"wc:T1@2?symKey=" + key,
		"wc:T1@2?symKey=" + key + "&relay-protocol=irn&expiryTimestamp=soon",
	}
	for i, uri := range tests {
		if _, err := ParseURI(uri); !errors.Is(err, ErrInvalidURI) {
			t.Errorf("test %d: error mismatch for %q: have %v, want %v", i, uri, err, ErrInvalidURI)
		}
	}
}
