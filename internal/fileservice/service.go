// Package fileservice implements the reference remote store: revision
// metadata, chunk intake with validation and re-linking, end-of-stream
// verification and reconstruction.
package fileservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"

	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/checksum"
	"github.com/starford/revsync/internal/index"
	"github.com/starford/revsync/internal/models"
	"github.com/starford/revsync/internal/notifier"
	"github.com/starford/revsync/internal/storage"
)

// ValidationError wraps a rejected request body.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Publisher receives completion notices.
type Publisher interface {
	Publish(data string)
}

// Session is returned by create and update: the file's identity and the
// stream token that authorizes its chunk uploads.
type Session struct {
	FileID      string `json:"fileID"`
	StreamToken string `json:"streamToken"`
}

// Service coordinates blob storage and the manifest index.
type Service struct {
	store  storage.Provider
	db     index.FileIndex
	pub    Publisher
	logger *slog.Logger
}

// NewService creates a new file service. pub may be nil.
func NewService(store storage.Provider, db index.FileIndex, pub Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, db: db, pub: pub, logger: logger}
}

// ListFiles returns every known manifest with its chunk records, newest first.
func (s *Service) ListFiles(ctx context.Context) ([]models.FileManifest, error) {
	rows, err := s.db.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.FileManifest, 0, len(rows))
	for _, r := range rows {
		chunks, err := s.db.Chunks(ctx, r.FileID)
		if err != nil {
			return nil, err
		}
		out = append(out, r.Manifest(chunks))
	}
	return out, nil
}

// GetFile returns one manifest.
func (s *Service) GetFile(ctx context.Context, fileID string) (*models.FileManifest, error) {
	row, err := s.db.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.db.Chunks(ctx, fileID)
	if err != nil {
		return nil, err
	}
	m := row.Manifest(chunks)
	return &m, nil
}

// CreateFile registers a new file and opens its upload session.
func (s *Service) CreateFile(ctx context.Context, req CreateFileRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}
	mime := req.FileType
	if mime == "" {
		mime = checksum.DefaultMIME
	}
	row := index.FileRow{
		FileID:      uuid.NewString(),
		FileName:    req.FileName,
		FileDigest:  req.Digest,
		FileSize:    req.FileSize,
		MimeType:    mime,
		ChunkCount:  req.Chunks,
		Syncing:     true,
		StreamToken: uuid.NewString(),
	}
	if err := s.db.InsertFile(ctx, row); err != nil {
		return nil, err
	}
	s.logger.Info("file created",
		slog.String("file_id", row.FileID),
		slog.String("file_name", row.FileName),
		slog.Int("chunks", row.ChunkCount))
	return &Session{FileID: row.FileID, StreamToken: row.StreamToken}, nil
}

// UpdateFile registers a new revision of fileID and opens a fresh upload
// session. Chunk records beyond the new count are dropped; the rest stay as
// the base the client diffed against.
func (s *Service) UpdateFile(ctx context.Context, fileID string, req UpdateFileRequest) (*Session, error) {
	if req.FileID == "" {
		req.FileID = fileID
	}
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}
	if req.FileID != fileID {
		return nil, &ValidationError{Err: fmt.Errorf("fileID %q does not match path", req.FileID)}
	}
	row, err := s.db.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	row.FileDigest = req.Digest
	row.FileSize = req.FileSize
	row.MimeType = req.FileType
	row.ChunkCount = req.Chunks
	row.Syncing = true
	row.Confirmed = false
	row.StreamToken = uuid.NewString()

	if err := s.db.UpdateFile(ctx, *row); err != nil {
		return nil, err
	}
	if err := s.db.PruneChunks(ctx, fileID, req.Chunks); err != nil {
		return nil, err
	}
	if err := s.db.Relink(ctx, fileID, req.Chunks); err != nil {
		return nil, err
	}
	s.logger.Info("file updated",
		slog.String("file_id", fileID),
		slog.Int("chunks", req.Chunks))
	return &Session{FileID: fileID, StreamToken: row.StreamToken}, nil
}

// UploadChunk validates one chunk against its declared digest and the
// current revision, stores its bytes, and records it linked by ordinal.
func (s *Service) UploadChunk(ctx context.Context, fileID, streamToken string, req ChunkUploadRequest) (*models.ChunkRecord, error) {
	row, err := s.authorize(ctx, fileID, streamToken)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}
	if req.FileDigest != row.FileDigest {
		return nil, fmt.Errorf("chunk %d belongs to revision %s: %w", req.ID, req.FileDigest, apperr.ErrConflict)
	}
	if req.ID >= row.ChunkCount {
		return nil, fmt.Errorf("chunk %d outside 0..%d: %w", req.ID, row.ChunkCount-1, apperr.ErrInvalidManifest)
	}
	if int64(len(req.Data)) != req.Size {
		return nil, fmt.Errorf("chunk %d size %d, declared %d: %w", req.ID, len(req.Data), req.Size, apperr.ErrInvalidManifest)
	}
	if got := checksum.Sum(req.Data); got != req.Digest {
		return nil, fmt.Errorf("chunk %d digest mismatch: %w", req.ID, apperr.ErrInvalidManifest)
	}

	next := canonicalNext(req.ID, row.ChunkCount)
	if req.NextChunkID != next {
		s.logger.Debug("chunk relinked",
			slog.String("file_id", fileID),
			slog.Int("chunk_id", req.ID),
			slog.Int("sent_next", req.NextChunkID),
			slog.Int("next", next))
	}

	loc := storage.Locator(fileID, req.Digest)
	if err := s.store.Put(loc, req.Data); err != nil {
		return nil, err
	}
	rec := models.ChunkRecord{
		ChunkID:     req.ID,
		NextChunkID: next,
		ChunkDigest: req.Digest,
		BlobLocator: loc,
	}
	if err := s.db.UpsertChunk(ctx, fileID, rec); err != nil {
		return nil, err
	}
	chunks, err := s.db.Chunks(ctx, fileID)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.ChunkID == req.ID {
			return &c, nil
		}
	}
	return &rec, nil
}

// CompleteFile verifies that every ordinal of the current revision is
// present and that the reconstructed bytes match the declared digest, then
// confirms the file and pushes a completion notice.
func (s *Service) CompleteFile(ctx context.Context, fileID, streamToken string) (*models.FileManifest, error) {
	row, err := s.authorize(ctx, fileID, streamToken)
	if err != nil {
		return nil, err
	}
	if err := s.db.Relink(ctx, fileID, row.ChunkCount); err != nil {
		return nil, err
	}
	chunks, err := s.db.Chunks(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if missing := missingOrdinals(chunks, row.ChunkCount); len(missing) > 0 {
		return nil, fmt.Errorf("file %s missing chunks %v: %w", fileID, missing, apperr.ErrConflict)
	}

	data, err := s.assemble(chunks)
	if err != nil {
		return nil, err
	}
	if got := checksum.Sum(data); got != row.FileDigest {
		return nil, fmt.Errorf("file %s reconstructed digest %s: %w", fileID, got, apperr.ErrConflict)
	}

	if err := s.db.SetStatus(ctx, fileID, false, true); err != nil {
		return nil, err
	}
	row.Syncing, row.Confirmed = false, true
	s.logger.Info("file confirmed", slog.String("file_id", fileID), slog.Int("chunks", len(chunks)))

	if s.pub != nil {
		s.pub.Publish(notifier.FormatNotice(
			[]string{"fileID", "status", "digest"},
			map[string]string{"fileID": fileID, "status": "complete", "digest": row.FileDigest},
		))
	}
	m := row.Manifest(chunks)
	return &m, nil
}

// Download reconstructs a confirmed file by walking its chunk chain.
func (s *Service) Download(ctx context.Context, fileID string) ([]byte, *models.FileManifest, error) {
	row, err := s.db.GetFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if !row.Confirmed {
		return nil, nil, fmt.Errorf("file %s is not confirmed: %w", fileID, apperr.ErrConflict)
	}
	chunks, err := s.db.Chunks(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.assemble(chunks)
	if err != nil {
		return nil, nil, err
	}
	m := row.Manifest(chunks)
	return data, &m, nil
}

// assemble follows the chain from ordinal 0 to the terminal sentinel.
func (s *Service) assemble(chunks []index.ChunkRow) ([]byte, error) {
	if len(chunks) == 0 {
		return []byte{}, nil
	}
	byID := make(map[int]index.ChunkRow, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}

	var out []byte
	seen := make(map[int]bool, len(chunks))
	for id := 0; id != models.TerminalChunkID; {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("chain broken at chunk %d: %w", id, apperr.ErrConflict)
		}
		if seen[id] {
			return nil, fmt.Errorf("chain cycles at chunk %d: %w", id, apperr.ErrConflict)
		}
		seen[id] = true

		blob, err := s.store.Get(c.BlobLocator)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("blob %s: %w", c.BlobLocator, apperr.ErrNotFound)
			}
			return nil, err
		}
		out = append(out, blob...)
		id = c.NextChunkID
	}
	return out, nil
}

func (s *Service) authorize(ctx context.Context, fileID, streamToken string) (*index.FileRow, error) {
	row, err := s.db.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if streamToken == "" || streamToken != row.StreamToken {
		return nil, fmt.Errorf("stream token for %s: %w", fileID, apperr.ErrUnauthorized)
	}
	return row, nil
}

func canonicalNext(id, count int) int {
	if id == count-1 {
		return models.TerminalChunkID
	}
	return id + 1
}

func missingOrdinals(chunks []index.ChunkRow, count int) []int {
	have := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		have[c.ChunkID] = true
	}
	var missing []int
	for i := range count {
		if !have[i] {
			missing = append(missing, i)
		}
	}
	return missing
}
