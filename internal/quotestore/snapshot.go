package quotestore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/quotesync/internal/domain"
)

// snapshotVersion guards against loading snapshots written by an incompatible
// build. Bump when the Quote wire shape changes.
const snapshotVersion = 1

type snapshot struct {
	Version int                     `msgpack:"version"`
	Quotes  map[string]domain.Quote `msgpack:"quotes"`
}

// SaveSnapshot persists the current table to disk so a restart can render
// last-known prices before any network data arrives. Only the startup path and
// the snapshot job call this; quote writes themselves never touch disk.
func (s *Store) SaveSnapshot(path string) error {
	snap := snapshot{
		Version: snapshotVersion,
		Quotes:  s.AllQuotes(),
	}

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to marshal quote snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a torn snapshot.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write quote snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace quote snapshot: %w", err)
	}

	s.log.Debug().Int("quotes", len(snap.Quotes)).Str("path", path).Msg("Quote snapshot saved")
	return nil
}

// LoadSnapshot merges a persisted snapshot into the table. Quotes keep their
// original UpdatedAt so consumers can tell the data is stale. A missing file is
// not an error; a corrupt one is reported but leaves the table untouched.
func (s *Store) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read quote snapshot: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal quote snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		s.log.Warn().Int("version", snap.Version).Msg("Ignoring quote snapshot with unknown version")
		return nil
	}

	s.mu.Lock()
	for sym, q := range snap.Quotes {
		if !q.Valid() {
			continue
		}
		if _, exists := s.quotes[sym]; exists {
			// Live data already present; never overwrite it with a snapshot.
			continue
		}
		s.quotes[sym] = q
	}
	s.mu.Unlock()

	s.log.Info().Int("quotes", len(snap.Quotes)).Str("path", path).Msg("Quote snapshot loaded")
	return nil
}
