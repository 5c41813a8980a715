// Package kv is the durable key-value layer the local cache and the offline
// queue persist through.
package kv

import (
	"errors"
)

var (
	ErrNotFound = errors.New("kv: key not found")
	ErrClosed   = errors.New("kv: store closed")
)

// KV is an ordered key-value store. Iterate visits keys with the given prefix
// in ascending byte order.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Iterate(prefix string, fn func(key string, value []byte) error) error
	Close() error
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
