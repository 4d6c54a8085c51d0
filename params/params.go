// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package params contains constants relevant to all subsystems.
package params

import "time"

const (
	// Protocol is the scheme identifier embedded into pairing URIs.
	Protocol = "wc"

	// Version is the pairing protocol version advertised in pairing URIs.
	Version = 2

	// RelayProtocol is the default relay routing protocol if the caller does
	// not explicitly request a different one.
	RelayProtocol = "irn"
)

const (
	// ThirtySeconds is the relay TTL of short lived liveness checks.
	ThirtySeconds = 30 * time.Second

	// FiveMinutes is the lifetime of a proposed, not yet activated pairing.
	FiveMinutes = 5 * time.Minute

	// OneDay is the relay TTL of messages that need to survive offline peers.
	OneDay = 24 * time.Hour

	// ThirtyDays is the lifetime of an activated pairing.
	ThirtyDays = 30 * OneDay
)

const (
	// PendingPairingTTL is the time a freshly created or joined pairing stays
	// alive without the remote side activating it.
	PendingPairingTTL = FiveMinutes

	// ActivePairingTTL is the time an activated pairing stays alive before it
	// needs to be refreshed.
	ActivePairingTTL = ThirtyDays

	// HistoryRetention is the time a JSON-RPC record is kept around after it
	// was created, allowing duplicate deliveries to be detected.
	HistoryRetention = OneDay

	// ExpirySweepInterval is the default period between two expiry sweeps.
	ExpirySweepInterval = 30 * time.Second
)

// CalcExpiry returns the absolute unix timestamp (seconds) after which an item
// created at `now` with the given lifetime is considered expired.
func CalcExpiry(now time.Time, ttl time.Duration) int64 {
	return now.Add(ttl).Unix()
}

// Expired returns whether an absolute unix timestamp (seconds) is at or before
// the given time.
func Expired(expiry int64, now time.Time) bool {
	return now.Unix() >= expiry
}
