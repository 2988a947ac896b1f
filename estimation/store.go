// Package estimation derives a default allocation for submitters that do not
// state their resource requirements, learning from what they used before.
package estimation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores holding nothing for a submitter.
var ErrNotFound = errors.New("estimation: not found")

// Entry is what is remembered about one submitter.
type Entry struct {
	Resources []string
	Handler   string
	Duration  time.Duration
}

// Store persists entries keyed by submitter.
type Store interface {
	Get(ctx context.Context, submitter string) (Entry, error)
	Put(ctx context.Context, submitter string, e Entry) error
}
