package config

import "errors"

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// such as a second user with the same email or a colliding active key digest.
var ErrDuplicate = errors.New("duplicate")

// ErrUnsupportedDriver is returned by NewStore for an unknown store.driver.
var ErrUnsupportedDriver = errors.New("unsupported store driver")
