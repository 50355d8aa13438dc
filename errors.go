package redstash

import (
	"errors"

	"github.com/redstash/redstash/lock"
)

var (
	// ErrInvalidKey is returned when a key is empty, starts with '.',
	// or contains '/'. Keys must be valid simple filenames.
	ErrInvalidKey = errors.New("invalid key")

	// ErrNotFound is returned when no value is published under the key.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned by Create when the key already holds a
	// value. Published values are immutable; Create never overwrites.
	ErrExists = errors.New("already exists")
)

// ErrBusy is returned when a conflicting lease blocks the operation: a
// writer holds the key during Read, or a writer or readers are present
// during Create. Re-exported from lock.
var ErrBusy = lock.ErrBusy
