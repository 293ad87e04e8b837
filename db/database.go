package db

import (
	"io"

	"github.com/pkg/errors"
)

// ErrNotFound key 不存在
var ErrNotFound = errors.New("db: key not found")

// Item 一条键值
type Item struct {
	Key   string
	Value string
}

type Reader interface {
	// Has retrieves if a key is present in the key-value data store.
	Has(key string) (bool, error)

	// Get retrieves the given key if it's present in the key-value data store.
	// Returns ErrNotFound when the key is missing.
	Get(key string) (string, error)

	// List retrieves all items whose key starts with prefix, ordered by key.
	List(prefix string) ([]Item, error)
}

type Writer interface {
	// Put inserts the given value into the key-value data store.
	Put(key string, value string) error

	// Delete removes the key from the key-value data store.
	Delete(key string) error
}

type Database interface {
	Reader
	Writer
	io.Closer
}
