// Package catalog records produced artifacts in a SQLite database and
// verifies them later against their recorded checksums.
//
// This is the repository's regression baseline: a rerun of the pipeline over
// unchanged inputs must reproduce every artifact byte for byte, and verify
// reports any drift.
package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Catalog provides durable storage for run and artifact records.
type Catalog struct {
	db *sql.DB
}

// Artifact is one produced file: its path, content checksum, and logical
// row count (metadata rows or event entries).
type Artifact struct {
	Path     string
	SHA256   string
	RowCount int64
}

// Run groups the artifacts of one pipeline invocation.
type Run struct {
	ID        string
	CreatedAt string
	Command   string
	Artifacts []Artifact
}

// NewRunID returns a fresh UUIDv7 run identifier. UUIDv7 embeds a timestamp
// in the most significant bits, so run IDs sort by creation time.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Open creates or opens the catalog database at the given path and applies
// the schema. Idempotent.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to catalog: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY during recording.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Record stores a run and its artifacts in one transaction. The run's
// CreatedAt is filled with the current UTC time when empty.
func (c *Catalog) Record(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID must not be empty")
	}
	createdAt := run.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (id, created_at, command) VALUES (?, ?, ?)",
		run.ID, createdAt, run.Command); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	for _, a := range run.Artifacts {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO artifacts (run_id, path, sha256, row_count) VALUES (?, ?, ?, ?)",
			run.ID, a.Path, a.SHA256, a.RowCount); err != nil {
			return fmt.Errorf("failed to insert artifact %s: %w", a.Path, err)
		}
	}
	return tx.Commit()
}

// RunByID loads one run and its artifacts. Pass an empty ID to load the
// most recent run.
func (c *Catalog) RunByID(ctx context.Context, id string) (Run, error) {
	var run Run
	var err error
	if id == "" {
		err = c.db.QueryRowContext(ctx,
			"SELECT id, created_at, command FROM runs ORDER BY id DESC LIMIT 1").
			Scan(&run.ID, &run.CreatedAt, &run.Command)
	} else {
		err = c.db.QueryRowContext(ctx,
			"SELECT id, created_at, command FROM runs WHERE id = ?", id).
			Scan(&run.ID, &run.CreatedAt, &run.Command)
	}
	if err == sql.ErrNoRows {
		return Run{}, fmt.Errorf("no such run in catalog")
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT path, sha256, row_count FROM artifacts WHERE run_id = ? ORDER BY path", run.ID)
	if err != nil {
		return Run{}, fmt.Errorf("failed to load artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Path, &a.SHA256, &a.RowCount); err != nil {
			return Run{}, fmt.Errorf("failed to scan artifact: %w", err)
		}
		run.Artifacts = append(run.Artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("failed to read artifacts: %w", err)
	}
	return run, nil
}

// Drift describes one artifact whose current bytes no longer match the
// recorded checksum, or which is missing entirely.
type Drift struct {
	Path    string
	Want    string
	Got     string
	Missing bool
}

func (d Drift) String() string {
	if d.Missing {
		return fmt.Sprintf("%s: missing", d.Path)
	}
	return fmt.Sprintf("%s: checksum %s, recorded %s", d.Path, d.Got, d.Want)
}

// Verify recomputes checksums for every artifact of a run and returns the
// drifted ones. An empty result means the run still reproduces exactly.
func (c *Catalog) Verify(ctx context.Context, runID string) ([]Drift, error) {
	run, err := c.RunByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	var drift []Drift
	for _, a := range run.Artifacts {
		sum, err := Checksum(a.Path)
		if os.IsNotExist(err) {
			drift = append(drift, Drift{Path: a.Path, Want: a.SHA256, Missing: true})
			continue
		}
		if err != nil {
			return nil, err
		}
		if sum != a.SHA256 {
			drift = append(drift, Drift{Path: a.Path, Want: a.SHA256, Got: sum})
		}
	}
	return drift, nil
}

// Checksum returns the hex-encoded SHA-256 of a file's contents.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
