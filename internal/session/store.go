// Package session persists the authentication material of linked identities.
//
// Every backend keeps one namespace per identity: a file directory, a table
// row or a Redis hash. Writes replace the whole record atomically and advance
// its revision by one, so a reader never observes a partially written blob.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when an identity has no stored credentials.
var ErrNotFound = errors.New("session: credentials not found")

// Credentials is the opaque authentication blob of one linked identity.
type Credentials struct {
	Identity  string    `json:"identity"`
	Blob      []byte    `json:"blob"`
	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is durable key-value persistence of credentials, one namespace per identity.
type Store interface {
	// Load returns the stored credentials or ErrNotFound.
	Load(ctx context.Context, identity string) (*Credentials, error)
	// Save atomically replaces the blob and advances the revision.
	Save(ctx context.Context, identity string, blob []byte) (*Credentials, error)
	// Clear removes the credentials. Clearing an absent identity is not an error.
	Clear(ctx context.Context, identity string) error
	// List returns the identities that currently have credentials, sorted.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Exists reports whether identity has stored credentials.
func Exists(ctx context.Context, s Store, identity string) (bool, error) {
	_, err := s.Load(ctx, identity)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
