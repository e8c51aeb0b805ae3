// Package library is the station's photo library: image files in one
// directory indexed by a SQLite table.
package library

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

const schema = `
CREATE TABLE IF NOT EXISTS assets (
    id          TEXT PRIMARY KEY,
    file_name   TEXT NOT NULL UNIQUE,
    size        INTEGER NOT NULL,
    sha256      TEXT NOT NULL,
    created_ns  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assets_created ON assets(created_ns);
`

// DefaultCacheSize is the number of recently written assets kept in memory.
const DefaultCacheSize = 16

var (
	// ErrNotFound is returned for unknown asset ids.
	ErrNotFound = errors.New("library: asset not found")
	// ErrEmptyAsset is returned when writing zero bytes.
	ErrEmptyAsset = errors.New("library: empty image data")
)

// Asset is one stored photo.
type Asset struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	Size      int       `json:"size"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// Library stores image assets.
type Library struct {
	db     *sql.DB
	dir    string
	recent *lru.Cache[string, []byte]
}

// Open opens the index at indexPath and stores files in dir.
// cacheSize <= 0 uses DefaultCacheSize.
func Open(dir, indexPath string, cacheSize int) (*Library, error) {
	if dir == "" || indexPath == "" {
		return nil, errors.New("library dir and index path are required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create library directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create asset cache: %w", err)
	}

	db, err := sql.Open("sqlite3", indexPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Library{db: db, dir: dir, recent: cache}, nil
}

// Close closes the index.
func (l *Library) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// WriteImageAsset creates one image asset from data. Either both the file
// and its index row exist afterwards, or neither does.
func (l *Library) WriteImageAsset(ctx context.Context, data []byte) (Asset, error) {
	if len(data) == 0 {
		return Asset{}, ErrEmptyAsset
	}

	sum := sha256.Sum256(data)
	a := Asset{
		ID:        uuid.NewString(),
		Size:      len(data),
		SHA256:    hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC(),
	}
	a.FileName = a.ID + ".jpg"

	tmp, err := l.writeTemp(data)
	if err != nil {
		return Asset{}, err
	}
	defer os.Remove(tmp) // no-op once renamed

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Asset{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO assets (id, file_name, size, sha256, created_ns)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.FileName, a.Size, a.SHA256, a.CreatedAt.UnixNano(),
	); err != nil {
		return Asset{}, fmt.Errorf("insert asset: %w", err)
	}

	final := filepath.Join(l.dir, a.FileName)
	if err := os.Rename(tmp, final); err != nil {
		return Asset{}, fmt.Errorf("move asset into library: %w", err)
	}
	if err := tx.Commit(); err != nil {
		os.Remove(final)
		return Asset{}, fmt.Errorf("commit asset: %w", err)
	}

	l.recent.Add(a.ID, append([]byte(nil), data...))
	debug.Saved(a.ID, a.Size)
	return a, nil
}

func (l *Library) writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp(l.dir, ".asset-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}

// List returns all assets, newest first.
func (l *Library) List(ctx context.Context) ([]Asset, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, file_name, size, sha256, created_ns
		FROM assets ORDER BY created_ns DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// Get returns an asset and its bytes.
func (l *Library) Get(ctx context.Context, id string) (Asset, []byte, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, file_name, size, sha256, created_ns
		FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, nil, ErrNotFound
	}
	if err != nil {
		return Asset{}, nil, err
	}

	// Callers own the returned bytes; the cache keeps its own copy.
	if data, ok := l.recent.Get(id); ok {
		return a, append([]byte(nil), data...), nil
	}
	data, err := os.ReadFile(filepath.Join(l.dir, a.FileName))
	if err != nil {
		return Asset{}, nil, fmt.Errorf("read asset %s: %w", id, err)
	}
	l.recent.Add(id, append([]byte(nil), data...))
	return a, data, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(s scanner) (Asset, error) {
	var (
		a  Asset
		ns int64
	)
	if err := s.Scan(&a.ID, &a.FileName, &a.Size, &a.SHA256, &ns); err != nil {
		return Asset{}, err
	}
	a.CreatedAt = time.Unix(0, ns).UTC()
	return a, nil
}
