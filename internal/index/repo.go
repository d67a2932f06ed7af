package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/models"
)

// FileRow represents a row in the files table.
type FileRow struct {
	FileID      string
	FileName    string
	FileDigest  string
	FileSize    int64
	MimeType    string
	ChunkCount  int
	Syncing     bool
	Confirmed   bool
	StreamToken string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkRow represents a row in the chunks table.
type ChunkRow = models.ChunkRecord

// Manifest converts a file row and its chunk rows into the shared model.
func (f FileRow) Manifest(chunks []ChunkRow) models.FileManifest {
	m := models.FileManifest{
		FileID:     f.FileID,
		FileName:   f.FileName,
		FileDigest: f.FileDigest,
		FileSize:   f.FileSize,
		MimeType:   f.MimeType,
		ChunkCount: f.ChunkCount,
		Chunks:     make(map[int]models.ChunkRecord, len(chunks)),
		Syncing:    f.Syncing,
		Confirmed:  f.Confirmed,
	}
	for _, c := range chunks {
		m.Chunks[c.ChunkID] = c
	}
	return m
}

const fileColumns = `file_id, file_name, file_digest, file_size, mime_type, chunk_count,
	syncing, confirmed, stream_token, created_at, updated_at`

func scanFile(sc interface{ Scan(...any) error }) (*FileRow, error) {
	var f FileRow
	err := sc.Scan(&f.FileID, &f.FileName, &f.FileDigest, &f.FileSize, &f.MimeType, &f.ChunkCount,
		&f.Syncing, &f.Confirmed, &f.StreamToken, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// InsertFile registers a new file.
func (db *DB) InsertFile(ctx context.Context, f FileRow) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.FileID, f.FileName, f.FileDigest, f.FileSize, f.MimeType, f.ChunkCount,
		f.Syncing, f.Confirmed, f.StreamToken, now, now)
	if err != nil {
		return fmt.Errorf("index: insert file: %w", err)
	}
	return nil
}

// UpdateFile replaces the revision fields of an existing file.
func (db *DB) UpdateFile(ctx context.Context, f FileRow) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE files SET
			file_digest  = ?,
			file_size    = ?,
			mime_type    = CASE WHEN ? = '' THEN mime_type ELSE ? END,
			chunk_count  = ?,
			syncing      = ?,
			confirmed    = ?,
			stream_token = ?,
			updated_at   = ?
		WHERE file_id = ?
	`, f.FileDigest, f.FileSize, f.MimeType, f.MimeType, f.ChunkCount,
		f.Syncing, f.Confirmed, f.StreamToken, time.Now().UTC(), f.FileID)
	if err != nil {
		return fmt.Errorf("index: update file: %w", err)
	}
	return expectOne(res, f.FileID)
}

// GetFile returns a single file row.
func (db *DB) GetFile(ctx context.Context, fileID string) (*FileRow, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE file_id = ?`, fileID)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: file %s: %w", fileID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get file: %w", err)
	}
	return f, nil
}

// ListFiles returns every file, newest first.
func (db *DB) ListFiles(ctx context.Context) ([]FileRow, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("index: list files: %w", err)
	}
	defer rows.Close()

	var out []FileRow
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// SetStatus updates the sync flags of a file.
func (db *DB) SetStatus(ctx context.Context, fileID string, syncing, confirmed bool) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE files SET syncing = ?, confirmed = ?, updated_at = ? WHERE file_id = ?`,
		syncing, confirmed, time.Now().UTC(), fileID)
	if err != nil {
		return fmt.Errorf("index: set status: %w", err)
	}
	return expectOne(res, fileID)
}

// UpsertChunk inserts or replaces one chunk record, keeping its creation time.
func (db *DB) UpsertChunk(ctx context.Context, fileID string, c ChunkRow) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO chunks (file_id, chunk_id, next_chunk_id, chunk_digest, blob_locator, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id, chunk_id) DO UPDATE SET
			next_chunk_id = excluded.next_chunk_id,
			chunk_digest  = excluded.chunk_digest,
			blob_locator  = excluded.blob_locator,
			updated_at    = excluded.updated_at
	`, fileID, c.ChunkID, c.NextChunkID, c.ChunkDigest, c.BlobLocator, now, now)
	if err != nil {
		return fmt.Errorf("index: upsert chunk: %w", err)
	}
	return nil
}

// Chunks returns the chunk records of a file ordered by ordinal.
func (db *DB) Chunks(ctx context.Context, fileID string) ([]ChunkRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT chunk_id, next_chunk_id, chunk_digest, blob_locator, created_at, updated_at
		FROM chunks WHERE file_id = ? ORDER BY chunk_id
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("index: chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var c ChunkRow
		if err := rows.Scan(&c.ChunkID, &c.NextChunkID, &c.ChunkDigest, &c.BlobLocator, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PruneChunks drops records whose ordinal is at or beyond count.
func (db *DB) PruneChunks(ctx context.Context, fileID string, count int) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ? AND chunk_id >= ?`, fileID, count); err != nil {
		return fmt.Errorf("index: prune chunks: %w", err)
	}
	return nil
}

// Relink rewrites every successor pointer of a file from its ordinal:
// chunk k points at k+1 and the chunk at count-1 is terminal.
func (db *DB) Relink(ctx context.Context, fileID string, count int) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE chunks SET next_chunk_id = CASE WHEN chunk_id = ? THEN ? ELSE chunk_id + 1 END
		WHERE file_id = ?
	`, count-1, models.TerminalChunkID, fileID)
	if err != nil {
		return fmt.Errorf("index: relink: %w", err)
	}
	return nil
}

// Locators returns every blob locator referenced by a chunk record.
func (db *DB) Locators(ctx context.Context) (map[string]struct{}, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT blob_locator FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("index: locators: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out[l] = struct{}{}
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, fileID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("index: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("index: file %s: %w", fileID, apperr.ErrNotFound)
	}
	return nil
}
