// Package localstore models durable per-origin key/value storage shared by
// several client instances, together with the change notifications that let
// each instance reconcile its in-memory view with what the others wrote.
//
// A Change is never delivered back to the instance that made it: the writer
// must update its own view at the call site.
package localstore

import "context"

// Storage is a string key/value store. Writes are atomic per key and the
// last write wins. A missing key is reported with ok == false, not an error.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Change describes one mutation of a key.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
	// Source is the id of the Tab that made the change.
	Source string `json:"source"`
}

// Bus broadcasts changes to every subscriber. The channel returned by
// Subscribe is closed once ctx is done.
type Bus interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context) (<-chan Change, error)
}
