// Package snapshot provides persistent storage for the last known good
// ownership record per billing identity, using SQLite for durability
// across restarts. Entitlement reads fall back to these snapshots when the
// billing backend is unreachable.
package snapshot

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// defaultRetention is how long an untouched snapshot row is kept before
// being pruned at open. A snapshot this old no longer reflects anything a
// degraded read should serve.
const defaultRetention = 90 * 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS ownership_snapshots (
	identity   TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store persists ownership snapshots keyed by billing identity.
type Store struct {
	db        *sql.DB
	retention time.Duration
}

// Open creates or opens the snapshot database at the given path.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize snapshot schema: %w", err)
	}

	s := &Store{db: db, retention: defaultRetention}
	s.prune()
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the snapshot for the given identity.
func (s *Store) Save(identity string, rec entitlement.OwnershipRecord) error {
	if identity == "" {
		return errors.New("snapshot: empty identity")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO ownership_snapshots (identity, record, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			record = excluded.record,
			updated_at = excluded.updated_at`,
		identity, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot for the given identity. The second return
// value reports whether one exists.
func (s *Store) Load(identity string) (entitlement.OwnershipRecord, bool, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT record FROM ownership_snapshots WHERE identity = ?`, identity).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlement.OwnershipRecord{}, false, nil
	}
	if err != nil {
		return entitlement.OwnershipRecord{}, false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var rec entitlement.OwnershipRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return entitlement.OwnershipRecord{}, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return rec, true, nil
}

// prune removes rows older than the retention window.
func (s *Store) prune() {
	cutoff := time.Now().Add(-s.retention).Unix()
	res, err := s.db.Exec(`DELETE FROM ownership_snapshots WHERE updated_at < ?`, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to prune ownership snapshots")
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Debug().Int64("rows", n).Msg("Pruned stale ownership snapshots")
	}
}
