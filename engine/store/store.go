package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Kind is the category of a stored definition.
type Kind string

const (
	KindWorkflow Kind = "workflow"
	KindCrew     Kind = "crew"
)

// Record is one immutable version of a definition. Payload is the encoded
// definition; ETag is its content hash.
type Record struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	ETag      string    `json:"etag"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists versioned definitions. Versions are written once; a
// second write of the same version fails with ErrVersionExists.
// Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, rec *Record) (*Record, error)
	// Get returns the latest version of id, or ErrNotFound.
	Get(ctx context.Context, kind Kind, id string) (*Record, error)
	GetVersion(ctx context.Context, kind Kind, id string, version int) (*Record, error)
	// List returns the stored ids of kind, sorted.
	List(ctx context.Context, kind Kind) ([]string, error)
	Close() error
}

var (
	ErrNotFound      = errors.New("definition not found")
	ErrVersionExists = errors.New("definition version already stored")
	ErrClosed        = errors.New("store is closed")
)

func etagFor(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func validate(rec *Record) error {
	switch {
	case rec == nil:
		return errors.New("record is required")
	case rec.Kind == "":
		return errors.New("record kind is required")
	case rec.ID == "":
		return errors.New("record id is required")
	case rec.Version < 1:
		return errors.New("record version must be positive")
	case len(rec.Payload) == 0:
		return errors.New("record payload is required")
	}
	return nil
}

// stamp copies rec with its etag and timestamp set.
func stamp(rec *Record) *Record {
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	cp.ETag = etagFor(cp.Payload)
	cp.UpdatedAt = time.Now().UTC()
	return &cp
}
