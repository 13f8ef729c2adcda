// Package index is the daemon's asset database: every imported artifact,
// its metadata, and the asset dependency edges, stored in SQLite.
//
// The index is the single source of truth for artifacts. The wire server
// answers exclusively from here and never touches source files.
package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vk/assetpipe/internal/assetid"
)

// ErrNotFound is returned when an asset is not in the index.
var ErrNotFound = errors.New("asset not found in index")

// Record is one imported asset as stored in the index.
type Record struct {
	ID         assetid.AssetID
	Path       string // source path relative to its source root, slash-separated
	TypeID     assetid.TypeID
	Importer   string
	BuildHash  uint64
	Artifact   []byte
	ImportedAt time.Time
}

// Store wraps the SQLite database holding the asset index.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the index database at path. Use ":memory:"
// for an ephemeral index.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset index at %s: %w", path, err)
	}

	// WAL lets the wire server read while the pipeline writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL on asset index: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id          TEXT PRIMARY KEY,
		path        TEXT NOT NULL UNIQUE,
		type_id     TEXT NOT NULL,
		importer    TEXT NOT NULL,
		build_hash  TEXT NOT NULL,
		artifact    BLOB NOT NULL,
		imported_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS asset_deps (
		asset_id TEXT NOT NULL,
		dep_id   TEXT NOT NULL,
		PRIMARY KEY (asset_id, dep_id)
	);
	CREATE INDEX IF NOT EXISTS idx_asset_deps_dep ON asset_deps(dep_id);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create asset index schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores or replaces an imported asset and its dependency edges in one
// transaction.
func (s *Store) Put(rec *Record, deps []assetid.AssetID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin index transaction: %w", err)
	}
	defer tx.Rollback()

	// A path can change hands: deleting a sidecar mints a fresh id for the
	// same source file. Drop the superseded row so the path stays unique.
	if _, err := tx.Exec(`DELETE FROM asset_deps WHERE asset_id IN
		(SELECT id FROM assets WHERE path = ? AND id != ?)`,
		rec.Path, rec.ID.String()); err != nil {
		return fmt.Errorf("failed to clear superseded dependencies of %s: %w", rec.Path, err)
	}
	if _, err := tx.Exec(`DELETE FROM assets WHERE path = ? AND id != ?`,
		rec.Path, rec.ID.String()); err != nil {
		return fmt.Errorf("failed to clear superseded asset at %s: %w", rec.Path, err)
	}

	// build_hash is stored as text: SQLite integers are signed 64-bit and
	// xxhash values overflow them.
	_, err = tx.Exec(`
		INSERT INTO assets (id, path, type_id, importer, build_hash, artifact, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			type_id = excluded.type_id,
			importer = excluded.importer,
			build_hash = excluded.build_hash,
			artifact = excluded.artifact,
			imported_at = excluded.imported_at`,
		rec.ID.String(), rec.Path, rec.TypeID.String(), rec.Importer,
		fmt.Sprintf("%d", rec.BuildHash), rec.Artifact, rec.ImportedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert asset %s: %w", rec.Path, err)
	}

	if _, err := tx.Exec(`DELETE FROM asset_deps WHERE asset_id = ?`, rec.ID.String()); err != nil {
		return fmt.Errorf("failed to clear dependencies of %s: %w", rec.Path, err)
	}
	for _, dep := range deps {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO asset_deps (asset_id, dep_id) VALUES (?, ?)`,
			rec.ID.String(), dep.String()); err != nil {
			return fmt.Errorf("failed to record dependency of %s: %w", rec.Path, err)
		}
	}

	return tx.Commit()
}

// Get fetches an asset by id.
func (s *Store) Get(id assetid.AssetID) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT id, path, type_id, importer, build_hash, artifact, imported_at
		FROM assets WHERE id = ?`, id.String())
	return scanRecord(row)
}

// GetByPath fetches an asset by its source path.
func (s *Store) GetByPath(path string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT id, path, type_id, importer, build_hash, artifact, imported_at
		FROM assets WHERE path = ?`, path)
	return scanRecord(row)
}

// ResolvePath maps a source path to its asset id.
func (s *Store) ResolvePath(path string) (assetid.AssetID, error) {
	var raw string
	err := s.db.QueryRow(`SELECT id FROM assets WHERE path = ?`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return assetid.AssetID{}, ErrNotFound
	}
	if err != nil {
		return assetid.AssetID{}, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	return assetid.ParseAssetID(raw)
}

// BuildHash returns the stored build hash for an asset id, or ErrNotFound.
func (s *Store) BuildHash(id assetid.AssetID) (uint64, error) {
	var raw string
	err := s.db.QueryRow(`SELECT build_hash FROM assets WHERE id = ?`, id.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read build hash of %s: %w", id, err)
	}
	var hash uint64
	if _, err := fmt.Sscanf(raw, "%d", &hash); err != nil {
		return 0, fmt.Errorf("corrupt build hash for %s: %w", id, err)
	}
	return hash, nil
}

// List returns all indexed assets, without artifact payloads.
func (s *Store) List() ([]*Record, error) {
	rows, err := s.db.Query(`
		SELECT id, path, type_id, importer, build_hash, imported_at FROM assets ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var rec Record
		var rawID, rawType, rawHash string
		if err := rows.Scan(&rawID, &rec.Path, &rawType, &rec.Importer, &rawHash, &rec.ImportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset row: %w", err)
		}
		if err := fillIDs(&rec, rawID, rawType, rawHash); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// Remove deletes the asset at the given path along with its outgoing
// dependency edges. It returns the removed asset's id, or ErrNotFound.
func (s *Store) Remove(path string) (assetid.AssetID, error) {
	id, err := s.ResolvePath(path)
	if err != nil {
		return assetid.AssetID{}, err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return assetid.AssetID{}, fmt.Errorf("failed to begin index transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM assets WHERE id = ?`, id.String()); err != nil {
		return assetid.AssetID{}, fmt.Errorf("failed to delete asset %s: %w", path, err)
	}
	if _, err := tx.Exec(`DELETE FROM asset_deps WHERE asset_id = ?`, id.String()); err != nil {
		return assetid.AssetID{}, fmt.Errorf("failed to delete dependencies of %s: %w", path, err)
	}
	return id, tx.Commit()
}

// Dependencies returns the assets the given asset directly depends on.
func (s *Store) Dependencies(id assetid.AssetID) ([]assetid.AssetID, error) {
	return s.queryEdges(`SELECT dep_id FROM asset_deps WHERE asset_id = ?`, id)
}

// Dependents returns the assets that directly depend on the given asset.
func (s *Store) Dependents(id assetid.AssetID) ([]assetid.AssetID, error) {
	return s.queryEdges(`SELECT asset_id FROM asset_deps WHERE dep_id = ?`, id)
}

// Edges returns every dependency edge in the index as (asset, dep) pairs.
func (s *Store) Edges() (map[assetid.AssetID][]assetid.AssetID, error) {
	rows, err := s.db.Query(`SELECT asset_id, dep_id FROM asset_deps`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependency edges: %w", err)
	}
	defer rows.Close()

	edges := make(map[assetid.AssetID][]assetid.AssetID)
	for rows.Next() {
		var rawAsset, rawDep string
		if err := rows.Scan(&rawAsset, &rawDep); err != nil {
			return nil, fmt.Errorf("failed to scan dependency edge: %w", err)
		}
		assetID, err := assetid.ParseAssetID(rawAsset)
		if err != nil {
			return nil, err
		}
		depID, err := assetid.ParseAssetID(rawDep)
		if err != nil {
			return nil, err
		}
		edges[assetID] = append(edges[assetID], depID)
	}
	return edges, rows.Err()
}

func (s *Store) queryEdges(query string, id assetid.AssetID) ([]assetid.AssetID, error) {
	rows, err := s.db.Query(query, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query dependency edges of %s: %w", id, err)
	}
	defer rows.Close()

	var ids []assetid.AssetID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan dependency edge: %w", err)
		}
		parsed, err := assetid.ParseAssetID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, parsed)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var rawID, rawType, rawHash string
	err := row.Scan(&rawID, &rec.Path, &rawType, &rec.Importer, &rawHash, &rec.Artifact, &rec.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan asset row: %w", err)
	}
	if err := fillIDs(&rec, rawID, rawType, rawHash); err != nil {
		return nil, err
	}
	return &rec, nil
}

func fillIDs(rec *Record, rawID, rawType, rawHash string) error {
	var err error
	if rec.ID, err = assetid.ParseAssetID(rawID); err != nil {
		return err
	}
	if rec.TypeID, err = assetid.ParseTypeID(rawType); err != nil {
		return err
	}
	if _, err := fmt.Sscanf(rawHash, "%d", &rec.BuildHash); err != nil {
		return fmt.Errorf("corrupt build hash for %s: %w", rec.Path, err)
	}
	return nil
}
