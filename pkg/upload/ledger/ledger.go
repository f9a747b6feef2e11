// Package ledger persists upload attempt counts per batch file so the
// retry bound survives restarts.
package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"telemetrycore/pkg/logger"

	"github.com/cockroachdb/pebble"
)

const keyPrefix = "attempts/"

type Ledger struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("ledger_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func key(feature, file string) []byte {
	return []byte(keyPrefix + feature + "/" + file)
}

func featurePrefix(feature string) []byte {
	return []byte(keyPrefix + feature + "/")
}

// Attempts returns the recorded attempts for file, zero when unknown.
func (l *Ledger) Attempts(feature, file string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(feature, file)
}

func (l *Ledger) getLocked(feature, file string) (int, error) {
	if l.db == nil {
		return 0, errors.New("ledger closed")
	}
	v, closer, err := l.db.Get(key(feature, file))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(v) != 4 {
		return 0, fmt.Errorf("ledger: corrupt value for %s/%s", feature, file)
	}
	return int(binary.BigEndian.Uint32(v)), nil
}

// Increment adds one attempt and returns the new count.
func (l *Ledger) Increment(feature, file string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, err := l.getLocked(feature, file)
	if err != nil {
		return 0, err
	}
	n++
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	if err := l.db.Set(key(feature, file), buf[:], pebble.Sync); err != nil {
		return 0, err
	}
	return n, nil
}

// Clear forgets file. Clearing an unknown file is not an error.
func (l *Ledger) Clear(feature, file string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return errors.New("ledger closed")
	}
	return l.db.Delete(key(feature, file), pebble.NoSync)
}

// Prune drops entries of feature whose file is not in keep.
func (l *Ledger) Prune(feature string, keep map[string]bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return 0, errors.New("ledger closed")
	}
	pfx := featurePrefix(feature)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: pfx})
	if err != nil {
		return 0, err
	}
	batch := l.db.NewBatch()
	defer batch.Close()
	n := 0
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, pfx) {
			break
		}
		if keep[string(k[len(pfx):])] {
			continue
		}
		if err := batch.Delete(append([]byte(nil), k...), nil); err != nil {
			iter.Close()
			return 0, err
		}
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, l.db.Apply(batch, pebble.Sync)
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
