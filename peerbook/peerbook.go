// Package peerbook tracks known-good peer addresses and a separate
// in-memory set of peers seen only in gossip but never dialed, backed by
// package store's "peers" column family for the known set (spec.md §6).
package peerbook

import (
	mapset "github.com/deckarep/golang-set"
)

// Store is the persistence dependency: a peers column family keyed by IP.
type Store interface {
	PutPeer(ip string) error
	DeletePeer(ip string) error
	AllPeers() ([]string, error)
}

// Book is the known/unknown peer IP set.
type Book struct {
	store   Store
	known   mapset.Set
	unknown mapset.Set
}

// New loads the known-peer set from store.
func New(store Store) (*Book, error) {
	ips, err := store.AllPeers()
	if err != nil {
		return nil, err
	}
	known := mapset.NewThreadUnsafeSet()
	for _, ip := range ips {
		known.Add(ip)
	}
	return &Book{store: store, known: known, unknown: mapset.NewThreadUnsafeSet()}, nil
}

// MarkKnown persists ip as a known-good peer, removing it from the unknown
// set if present there.
func (b *Book) MarkKnown(ip string) error {
	if b.known.Contains(ip) {
		return nil
	}
	if err := b.store.PutPeer(ip); err != nil {
		return err
	}
	b.known.Add(ip)
	b.unknown.Remove(ip)
	return nil
}

// MarkUnknown records ip as seen (e.g. via the peers gossip topic) but not
// yet dialed. A no-op if ip is already known.
func (b *Book) MarkUnknown(ip string) {
	if b.known.Contains(ip) {
		return
	}
	b.unknown.Add(ip)
}

// Forget removes ip from both sets and from the store.
func (b *Book) Forget(ip string) error {
	b.unknown.Remove(ip)
	if !b.known.Contains(ip) {
		return nil
	}
	b.known.Remove(ip)
	return b.store.DeletePeer(ip)
}

// IsKnown reports whether ip is in the known-good set.
func (b *Book) IsKnown(ip string) bool {
	return b.known.Contains(ip)
}

// Known returns every known-good peer IP.
func (b *Book) Known() []string {
	out := make([]string, 0, b.known.Cardinality())
	for _, v := range b.known.ToSlice() {
		out = append(out, v.(string))
	}
	return out
}

// Unknown returns every gossip-seen-but-undialed peer IP.
func (b *Book) Unknown() []string {
	out := make([]string, 0, b.unknown.Cardinality())
	for _, v := range b.unknown.ToSlice() {
		out = append(out, v.(string))
	}
	return out
}
