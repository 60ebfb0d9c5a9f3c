package backend

import (
	"errors"
	"sync/atomic"
)

// ErrNoCredentials indicates the credential pool is empty.
var ErrNoCredentials = errors.New("no API credentials configured")

// Rotator hands out API keys round-robin. The last key additionally
// serves the search specialist's grounded calls; it stays in chat
// rotation like any other key.
type Rotator struct {
	keys   []string
	cursor atomic.Uint64
}

// NewRotator creates a Rotator over keys. The pool must be non-empty.
func NewRotator(keys []string) (*Rotator, error) {
	if len(keys) == 0 {
		return nil, ErrNoCredentials
	}
	owned := make([]string, len(keys))
	copy(owned, keys)
	return &Rotator{keys: owned}, nil
}

// Next returns the next key in rotation. K consecutive calls over a pool
// of size K return each key exactly once before wrapping.
func (r *Rotator) Next() string {
	n := r.cursor.Add(1) - 1
	return r.keys[n%uint64(len(r.keys))]
}

// Reserved returns the key the search specialist uses for grounded
// calls. With a single-key pool it is the same key Next hands out.
func (r *Rotator) Reserved() string {
	return r.keys[len(r.keys)-1]
}

// Len reports the pool size.
func (r *Rotator) Len() int {
	return len(r.keys)
}
