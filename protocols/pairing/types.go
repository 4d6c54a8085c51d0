// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package pairing

// Relay is the routing metadata of a pairing channel.
type Relay struct {
	Protocol string `json:"protocol"`       // Relay protocol to route through
	Data     string `json:"data,omitempty"` // Optional protocol specific routing data
}

// Metadata is the self-description of a remote peer.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
}

// Pairing is the persisted record of a bootstrapped channel. It is tagged with
// JSON tags so that stores can serialize it without reinterpreting the fields.
type Pairing struct {
	Topic        string    `json:"topic"`                  // Channel identifier derived from the symmetric key
	Expiry       int64     `json:"expiry"`                 // Unix timestamp (seconds) when the channel dies
	Relay        Relay     `json:"relay"`                  // Routing metadata for the relay
	Active       bool      `json:"active"`                 // Whether the remote peer activated the channel
	PeerMetadata *Metadata `json:"peerMetadata,omitempty"` // Remote peer infos, set after the handshake
}

// Update is a partial modification of a pairing record. Nil fields are left
// untouched.
type Update struct {
	Expiry       *int64
	Active       *bool
	PeerMetadata *Metadata
}

// Apply mutates the given pairing with all the set fields of the update.
func (u *Update) Apply(p *Pairing) {
	if u.Expiry != nil {
		p.Expiry = *u.Expiry
	}
	if u.Active != nil {
		p.Active = *u.Active
	}
	if u.PeerMetadata != nil {
		meta := *u.PeerMetadata
		p.PeerMetadata = &meta
	}
}
