package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors forming the operation error taxonomy. Wrapper types below
// attach entity context; errors.Is matches through them.
var (
	// ErrNotInitialized rejects admin-gated calls before initialization.
	ErrNotInitialized = errors.New("store not initialized")
	// ErrAlreadyInitialized rejects a second initialization.
	ErrAlreadyInitialized = errors.New("store already initialized")
	// ErrUnauthorized rejects callers lacking the required identity or role.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound rejects lookups of absent units, events, actors or addresses.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState rejects operations forbidden by an entity's current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidInput rejects malformed or out-of-range arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCooldownNotElapsed rejects cancellations inside the cooldown window.
	ErrCooldownNotElapsed = errors.New("cooldown not elapsed")
)

// NotFoundError reports an absent record.
type NotFoundError struct {
	Entity EntityType
	Key    string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// Unwrap ties the wrapper into the sentinel taxonomy.
func (e NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError reports an operation forbidden by current entity status.
type InvalidStateError struct {
	Entity EntityType
	Key    string
	Detail string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Entity, e.Key, e.Detail)
}

func (e InvalidStateError) Unwrap() error { return ErrInvalidState }

// InvalidInputError reports a rejected argument.
type InvalidInputError struct {
	Field  string
	Detail string
}

func (e InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

func (e InvalidInputError) Unwrap() error { return ErrInvalidInput }

// CooldownError reports a cancellation attempted before its window opened.
type CooldownError struct {
	EventID string
	ReadyAt time.Time
}

func (e CooldownError) Error() string {
	return fmt.Sprintf("event %q cancellable from %s", e.EventID, e.ReadyAt.Format(time.RFC3339))
}

func (e CooldownError) Unwrap() error { return ErrCooldownNotElapsed }
