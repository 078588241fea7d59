package session

import (
	"errors"
	"fmt"
)

// ErrCorruptState classifies persisted state that cannot be parsed: a
// malformed index snapshot line or an unreadable transcript record. The load
// procedure skips the offending record and keeps going, so one damaged file
// never takes down unaffected sessions. Use errors.Is to detect it.
var ErrCorruptState = errors.New("corrupt persisted state")

// ErrPersistence classifies filesystem failures during a store operation
// (open, write, rename). The triggering façade call fails and the in-memory
// table is left as it was before the call. Use errors.Is to detect it.
var ErrPersistence = errors.New("persistence failure")

// persistErr wraps a filesystem error so callers can classify it with
// errors.Is(err, ErrPersistence) while keeping the underlying cause.
func persistErr(op string, err error) error {
	return fmt.Errorf("session: %s: %w: %w", op, ErrPersistence, err)
}

// corruptErr wraps a parse failure so callers can classify it with
// errors.Is(err, ErrCorruptState).
func corruptErr(detail string, err error) error {
	if err == nil {
		return fmt.Errorf("session: %s: %w", detail, ErrCorruptState)
	}
	return fmt.Errorf("session: %s: %w: %w", detail, ErrCorruptState, err)
}
