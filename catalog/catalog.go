// Package catalog records which index files were built, from what and where
// they live. Records are immutable: a name plus version is written once.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/knnlib"
	"github.com/hupe1980/knnlib/codec"
)

var (
	// ErrConflict is returned by Put when the name and version already exist.
	ErrConflict = errors.New("catalog: record already exists")
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("catalog: record not found")
)

// Record describes one built index file.
type Record struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Version     int64     `json:"version"`
	Path        string    `json:"path"`
	BlobKey     string    `json:"blob_key,omitempty"`
	Engine      string    `json:"engine"`
	Space       string    `json:"space"`
	Description string    `json:"description"`
	Dimension   int       `json:"dimension"`
	Count       int       `json:"count"`
	Checksum    uint32    `json:"checksum"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromBuild fills a record from a finished build. Version and ID are left
// for Register.
func FromBuild(name string, res *knnlib.BuildResult) Record {
	return Record{
		Name:        name,
		Path:        res.Path,
		Engine:      res.Engine,
		Space:       res.Space,
		Description: res.Description,
		Dimension:   res.Dimension,
		Count:       res.Count,
		Checksum:    res.Checksum,
		Size:        res.Size,
	}
}

// Catalog stores records. Implementations must be safe for concurrent use.
type Catalog interface {
	// Put stores rec. It fails with ErrConflict if rec.Name and rec.Version
	// are taken.
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, name string, version int64) (Record, error)
	// Latest returns the highest version stored for name.
	Latest(ctx context.Context, name string) (Record, error)
	// List returns the records for name ordered by version, or every record
	// ordered by name and version when name is empty.
	List(ctx context.Context, name string) ([]Record, error)
	Close() error
}

// maxRegisterAttempts bounds Register's retries under concurrent writers.
const maxRegisterAttempts = 8

// Register stores rec under the next free version of its name, assigning an
// ID and creation time when missing. Concurrent writers for the same name
// race on the conditional Put; the loser retries with the next version.
func Register(ctx context.Context, c Catalog, rec Record) (Record, error) {
	if err := Validate(rec); err != nil {
		return Record{}, err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	for range maxRegisterAttempts {
		latest, err := c.Latest(ctx, rec.Name)
		switch {
		case errors.Is(err, ErrNotFound):
			rec.Version = 1
		case err != nil:
			return Record{}, err
		default:
			rec.Version = latest.Version + 1
		}

		err = c.Put(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Record{}, err
		}
	}
	return Record{}, fmt.Errorf("register %s: %w after %d attempts", rec.Name, ErrConflict, maxRegisterAttempts)
}

// Validate checks the fields every backend relies on.
func Validate(rec Record) error {
	if rec.Name == "" {
		return errors.New("catalog: record name is required")
	}
	if rec.Version < 0 {
		return fmt.Errorf("catalog: negative version %d", rec.Version)
	}
	return nil
}

// Encode renders rec with the default codec and returns the codec name
// stored next to it.
func Encode(rec Record) (string, []byte, error) {
	data, err := codec.Default.Marshal(rec)
	if err != nil {
		return "", nil, err
	}
	return codec.Default.Name(), data, nil
}

// Decode reads a record written by Encode.
func Decode(codecName string, data []byte) (Record, error) {
	c, ok := codec.ByName(codecName)
	if !ok {
		return Record{}, fmt.Errorf("catalog: unknown codec %q", codecName)
	}
	var rec Record
	if err := c.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("catalog: decode record: %w", err)
	}
	return rec, nil
}
