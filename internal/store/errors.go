// Package store holds the error taxonomy shared by the storage backends.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrUnavailable = errors.New("store: unavailable")
	ErrConflict    = errors.New("store: conflict")
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindUnavailable
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is returned by every backend operation. It matches the package
// sentinels with errors.Is according to its Kind.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrConflict:
		return e.Kind == KindConflict
	}
	return false
}

// NotFound builds a KindNotFound error for op.
func NotFound(op string) error {
	return &Error{Op: op, Kind: KindNotFound}
}

// Wrap classifies err and attaches op. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Kind: classify(err), Err: err}
}

// IsUnavailable reports whether err means the backend could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func classify(err error) Kind {
	if errors.Is(err, sql.ErrNoRows) {
		return KindNotFound
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}
	if IsDuplicateKey(err) {
		return KindConflict
	}

	msg := err.Error()
	for _, s := range []string{"connection refused", "database is locked", "no such host", "broken pipe", "unable to open database"} {
		if strings.Contains(msg, s) {
			return KindUnavailable
		}
	}
	return KindInternal
}

// IsDuplicateKey checks for a unique constraint violation from either backend.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	// 23505 is the PostgreSQL unique_violation code; SQLite reports the
	// constraint by name.
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
