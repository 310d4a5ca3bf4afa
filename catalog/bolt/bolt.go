// Package bolt stores catalog records in a local bbolt database.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hupe1980/knnlib/catalog"
)

var bucketRecords = []byte("records")

// Catalog is a catalog.Catalog backed by a bbolt file.
type Catalog struct {
	db *bbolt.DB
}

var _ catalog.Catalog = (*Catalog)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Catalog, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt catalog: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// Records sort by name, then by big-endian version.
func recordKey(name string, version int64) []byte {
	k := make([]byte, 0, len(name)+9)
	k = append(k, name...)
	k = append(k, 0)
	return binary.BigEndian.AppendUint64(k, uint64(version))
}

func namePrefix(name string) []byte {
	return append([]byte(name), 0)
}

// Values are a length-prefixed codec name followed by the encoded record.
func encodeValue(rec catalog.Record) ([]byte, error) {
	name, data, err := catalog.Encode(rec)
	if err != nil {
		return nil, err
	}
	v := make([]byte, 0, 1+len(name)+len(data))
	v = append(v, byte(len(name)))
	v = append(v, name...)
	return append(v, data...), nil
}

func decodeValue(v []byte) (catalog.Record, error) {
	if len(v) == 0 || len(v) < 1+int(v[0]) {
		return catalog.Record{}, fmt.Errorf("catalog: truncated record of %d bytes", len(v))
	}
	n := int(v[0])
	return catalog.Decode(string(v[1:1+n]), v[1+n:])
}

// Put stores rec unless its name and version exist.
func (c *Catalog) Put(_ context.Context, rec catalog.Record) error {
	if err := catalog.Validate(rec); err != nil {
		return err
	}
	v, err := encodeValue(rec)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		k := recordKey(rec.Name, rec.Version)
		if b.Get(k) != nil {
			return fmt.Errorf("%w: %s@%d", catalog.ErrConflict, rec.Name, rec.Version)
		}
		return b.Put(k, v)
	})
}

func (c *Catalog) Get(_ context.Context, name string, version int64) (catalog.Record, error) {
	var rec catalog.Record
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRecords).Get(recordKey(name, version))
		if v == nil {
			return fmt.Errorf("%w: %s@%d", catalog.ErrNotFound, name, version)
		}
		var err error
		rec, err = decodeValue(v)
		return err
	})
	return rec, err
}

// Latest seeks past the name's last possible key and steps back.
func (c *Catalog) Latest(_ context.Context, name string) (catalog.Record, error) {
	var rec catalog.Record
	err := c.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketRecords).Cursor()
		prefix := namePrefix(name)

		var k, v []byte
		if k, _ = cur.Seek(recordKey(name, -1)); k == nil {
			k, v = cur.Last()
		} else {
			k, v = cur.Prev()
		}
		if k == nil || !bytes.HasPrefix(k, prefix) || len(k) != len(prefix)+8 {
			return fmt.Errorf("%w: %s", catalog.ErrNotFound, name)
		}
		var err error
		rec, err = decodeValue(v)
		return err
	})
	return rec, err
}

func (c *Catalog) List(ctx context.Context, name string) ([]catalog.Record, error) {
	var prefix []byte
	if name != "" {
		prefix = namePrefix(name)
	}
	var recs []catalog.Record
	err := c.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketRecords).Cursor()
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := decodeValue(v)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}

func (c *Catalog) Close() error { return c.db.Close() }
