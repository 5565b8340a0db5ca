// Package ledger keeps the bounded record of mail message ids that already
// produced a stored invoice.
//
// The ledger is persisted as a JSON array of ids in insertion order. Only the
// most recent Capacity ids are kept; older ids are evicted first. A missing,
// unreadable or corrupted file is treated as an empty ledger, so the worst case
// is reprocessing a message, which the invoice store absorbs as an update.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"rechnungen/internal/logger"
)

// DefaultCapacity is the number of message ids retained.
const DefaultCapacity = 1000

// Ledger is a FIFO-bounded set of message ids backed by a JSON file.
type Ledger struct {
	path     string
	capacity int

	mu    sync.Mutex
	ids   []string
	index map[string]struct{}

	log zerolog.Logger
}

// Open loads the ledger stored at path. Capacity values below 1 fall back to
// DefaultCapacity.
func Open(path string, capacity int) (*Ledger, error) {
	const op = "ledger.Open"

	if path == "" {
		return nil, fmt.Errorf("%s: path is required", op)
	}
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%s: failed to create ledger directory: %w", op, err)
	}

	l := &Ledger{
		path:     path,
		capacity: capacity,
		log:      logger.WithComponent("ledger"),
	}
	l.reset(l.load())

	l.log.Debug().
		Str("path", path).
		Int("entries", len(l.ids)).
		Int("capacity", capacity).
		Msg("Ledger loaded")

	return l, nil
}

// Contains reports whether messageID has been recorded.
func (l *Ledger) Contains(messageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[messageID]
	return ok
}

// Record appends messageID and persists the newest Capacity ids. Recording an
// id that is already present leaves the ledger unchanged.
func (l *Ledger) Record(messageID string) error {
	const op = "ledger.Record"

	if messageID == "" {
		return fmt.Errorf("%s: empty message id", op)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Reload so entries written since Open are not lost on rewrite.
	ids := l.load()
	for _, id := range ids {
		if id == messageID {
			l.reset(ids)
			return nil
		}
	}

	ids = append(ids, messageID)
	if evicted := len(ids) - l.capacity; evicted > 0 {
		l.log.Debug().Int("evicted", evicted).Msg("Evicting oldest ledger entries")
		ids = ids[evicted:]
	}

	if err := l.write(ids); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	l.reset(ids)

	l.log.Debug().
		Str("message_id", messageID).
		Int("entries", len(ids)).
		Msg("Message recorded")

	return nil
}

// Len returns the number of recorded ids.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

// IDs returns the recorded ids, oldest first.
func (l *Ledger) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.ids))
	copy(out, l.ids)
	return out
}

// load reads the persisted ids. Every failure yields an empty ledger.
func (l *Ledger) load() []string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.log.Warn().Err(err).Str("path", l.path).Msg("Ledger unreadable, starting empty")
		}
		return nil
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		l.log.Warn().Err(err).Str("path", l.path).Msg("Ledger corrupted, starting empty")
		return nil
	}

	// Drop blanks and duplicates that a hand-edited file may contain.
	seen := make(map[string]struct{}, len(ids))
	clean := ids[:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		clean = append(clean, id)
	}
	if len(clean) > l.capacity {
		clean = clean[len(clean)-l.capacity:]
	}
	return clean
}

// write replaces the ledger file atomically.
func (l *Ledger) write(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

func (l *Ledger) reset(ids []string) {
	l.ids = ids
	l.index = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		l.index[id] = struct{}{}
	}
}
