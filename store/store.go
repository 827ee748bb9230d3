// Package store persists serialized command records keyed by execution id.
package store

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"

	command "github.com/goliatone/go-acommand"
)

// ErrRecordNotFound is returned by Load when no record is stored under an id.
var ErrRecordNotFound = errors.New("command record not found", errors.CategoryNotFound).
	WithTextCode("RECORD_NOT_FOUND")

// RecordStore saves and loads command records.
type RecordStore interface {
	Save(ctx context.Context, id string, rec command.Record) error
	Load(ctx context.Context, id string) (command.Record, error)
	Delete(ctx context.Context, id string) error
	// List returns the stored ids sorted alphabetically.
	List(ctx context.Context) ([]string, error)
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("record id is required", errors.CategoryBadInput).
			WithTextCode("RECORD_ID_REQUIRED")
	}
	return id, nil
}
