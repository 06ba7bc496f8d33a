// Package store persists extracted file metadata between runs.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ivoronin/indexdog/internal/types"
)

const bucketName = "metadata"

// Store keeps file metadata in BoltDB so unchanged files are not re-read.
// Implements self-cleaning: each run creates a new database, only entries
// for files seen during the run survive.
//
// Safe for concurrent use by crawler workers.
type Store struct {
	readDB  *bolt.DB // Previous run (read-only)
	writeDB *bolt.DB // This run - BoltDB locks this file
	path    string   // Final path (for atomic swap)
	enabled bool
}

// Open opens the previous store for reading and creates a new one for writing.
// BoltDB's file lock on the .new file prevents concurrent instances.
// Returns a disabled store if path is empty.
func Open(path string) (*Store, error) {
	if path == "" {
		return &Store{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Store{path: path, enabled: true}
	var err error

	if _, statErr := os.Stat(path); statErr == nil {
		s.readDB, err = bolt.Open(path, 0o600, &bolt.Options{
			ReadOnly: true,
			Timeout:  1 * time.Second,
		})
		if err != nil {
			// Unreadable previous store: start from scratch
			s.readDB = nil
		}
	}

	s.writeDB, err = bolt.Open(path+".new", 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create new store (locked by another instance?): %w", err)
	}

	if err := s.writeDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Enabled reports whether the store is backed by a file.
func (s *Store) Enabled() bool { return s.enabled }

// Close closes both databases and atomically replaces old with new.
// Only replaces if the write database closed cleanly to avoid data loss.
func (s *Store) Close() error {
	var errs []error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
		s.readDB = nil
	}
	if s.writeDB != nil {
		if err := s.writeDB.Close(); err != nil {
			errs = append(errs, err)
		} else if err := os.Rename(s.path+".new", s.path); err != nil {
			errs = append(errs, err)
		}
		s.writeDB = nil
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

const keyVersion byte = 1 // Increment when key or value format changes

// makeKey builds the BoltDB key for a file.
// Key = ver(1) + path + NUL + size(8) + ino(8) + mtime(8)
func makeKey(fi *types.FileInfo) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(keyVersion)
	buf.WriteString(fi.Path)
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.BigEndian, fi.Size)
	_ = binary.Write(buf, binary.BigEndian, fi.Ino)
	_ = binary.Write(buf, binary.BigEndian, fi.ModTime.UnixNano())
	return buf.Bytes()
}

// Lookup returns stored metadata for fi, or nil on a miss.
// Any change to path, size, inode or mtime is a miss.
// A hit is copied into the new database so it survives this run.
func (s *Store) Lookup(fi *types.FileInfo) (*types.Metadata, error) {
	if !s.enabled || s.readDB == nil {
		return nil, nil
	}

	key := makeKey(fi)
	var raw []byte
	err := s.readDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		if data := b.Get(key); data != nil {
			raw = bytes.Clone(data)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store lookup: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var md types.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		// Entry from an incompatible build: treat as a miss
		return nil, nil
	}

	if err := s.put(key, raw); err != nil {
		return nil, err
	}
	return &md, nil
}

// Put saves metadata for fi in the new database.
func (s *Store) Put(fi *types.FileInfo, md *types.Metadata) error {
	if !s.enabled || s.writeDB == nil || md == nil {
		return nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return s.put(makeKey(fi), raw)
}

// put writes through Batch so concurrent workers share transactions.
func (s *Store) put(key, value []byte) error {
	err := s.writeDB.Batch(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("store put: %w", err)
	}
	return nil
}
