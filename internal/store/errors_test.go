package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestWrap_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", sql.ErrNoRows), ErrNotFound},
		{"conn done", sql.ErrConnDone, ErrUnavailable},
		{"deadline", context.DeadlineExceeded, ErrUnavailable},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), ErrUnavailable},
		{"sqlite locked", errors.New("database is locked (5) (SQLITE_BUSY)"), ErrUnavailable},
		{"pq unique", errors.New(`pq: duplicate key value violates unique constraint "keywords_term_key"`), ErrConflict},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: regions.slug (2067)"), ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Wrap("op", tt.err)
			if !errors.Is(err, tt.want) {
				t.Errorf("Wrap(%v) = %v, want match for %v", tt.err, err, tt.want)
			}
		})
	}
}

func TestWrap_Internal(t *testing.T) {
	err := Wrap("insert outcome", errors.New("syntax error"))
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrConflict) {
		t.Errorf("expected internal error, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) {
		t.Fatal("expected *Error")
	}
	if se.Kind != KindInternal || se.Op != "insert outcome" {
		t.Errorf("unexpected error fields: %+v", se)
	}
}

func TestWrap_NilAndIdempotent(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}

	inner := NotFound("mark run")
	if got := Wrap("outer", inner); got != inner {
		t.Errorf("Wrap should not rewrap *Error, got %v", got)
	}
}
