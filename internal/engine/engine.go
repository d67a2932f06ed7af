// Package engine drives one file revision from local bytes to a confirmed
// remote copy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/checksum"
	"github.com/starford/revsync/internal/chunker"
	"github.com/starford/revsync/internal/differ"
	"github.com/starford/revsync/internal/models"
	"github.com/starford/revsync/internal/registry"
	"github.com/starford/revsync/internal/transfer"
)

// Store is the remote side of a sync.
type Store interface {
	transfer.Sender
	ListFiles(ctx context.Context) ([]models.FileManifest, error)
	CreateFile(ctx context.Context, m *chunker.Manifest) (string, error)
	UpdateFile(ctx context.Context, fileID string, m *chunker.Manifest) (string, error)
	MarkComplete(ctx context.Context, fileID string) error
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Status is the terminal state of one sync attempt.
type Status int

const (
	// StatusFailed: hashing, chunking or a metadata request failed; nothing was transferred.
	StatusFailed Status = iota
	// StatusNoChange: the file matches its last confirmed revision.
	StatusNoChange
	// StatusPartialTransfer: some chunks were not acknowledged.
	StatusPartialTransfer
	// StatusConfirmed: every planned chunk was acknowledged and the store confirmed the file.
	StatusConfirmed
)

func (s Status) String() string {
	switch s {
	case StatusNoChange:
		return "no_change"
	case StatusPartialTransfer:
		return "partial_transfer"
	case StatusConfirmed:
		return "confirmed"
	default:
		return "failed"
	}
}

// Outcome reports what one sync attempt did.
type Outcome struct {
	FileID   string
	FileName string
	Status   Status
	Kind     differ.Kind
	Uploaded []int
	Failed   []int
}

// Engine syncs files against a Store, keeping a Registry current.
type Engine struct {
	store     Store
	reg       *registry.Registry
	sched     *transfer.Scheduler
	chunkSize int64
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*nameLock
}

// nameLock serializes syncs of one name; refs counts holders and waiters.
type nameLock struct {
	sync.Mutex
	refs int
}

// Option configures an Engine.
type Option func(*Engine)

// WithChunkSize sets the chunk size in bytes.
func WithChunkSize(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an engine. parallelism bounds the chunks in flight per group.
func New(store Store, reg *registry.Registry, parallelism int, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		reg:       reg,
		chunkSize: chunker.DefaultChunkSize,
		logger:    slog.Default(),
		locks:     make(map[string]*nameLock),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sched = transfer.NewScheduler(store, parallelism, e.logger)
	return e
}

// Registry returns the registry the engine writes to.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// Bootstrap replaces the registry contents with the store's listing.
func (e *Engine) Bootstrap(ctx context.Context) error {
	files, err := e.store.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := e.reg.Load(files); err != nil {
		return err
	}
	e.logger.Info("registry loaded", slog.Int("files", len(files)))
	return nil
}

// SyncFile reads path and syncs it under its base name.
func (e *Engine) SyncFile(ctx context.Context, path string) (Outcome, error) {
	m, err := chunker.FromFile(path, e.chunkSize)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	return e.sync(ctx, m)
}

// SyncBytes syncs data under name.
func (e *Engine) SyncBytes(ctx context.Context, name string, data []byte) (Outcome, error) {
	m, err := chunker.Build(name, data, e.chunkSize)
	if err != nil {
		return Outcome{FileName: name, Status: StatusFailed}, err
	}
	return e.sync(ctx, m)
}

// lock takes the per-name lock and returns its release. The entry is
// dropped once nobody holds or waits on it.
func (e *Engine) lock(name string) func() {
	e.mu.Lock()
	l, ok := e.locks[name]
	if !ok {
		l = &nameLock{}
		e.locks[name] = l
	}
	l.refs++
	e.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, name)
		}
		e.mu.Unlock()
	}
}

// sync runs one attempt. The returned error is apperr.ErrNoChange for a
// no-op, a *apperr.MetadataError when the store rejected metadata, or a
// *apperr.ChunkTransferError listing every failed chunk.
func (e *Engine) sync(ctx context.Context, m *chunker.Manifest) (Outcome, error) {
	defer e.lock(m.FileName)()

	out := Outcome{FileName: m.FileName, Status: StatusFailed}
	log := e.logger.With(slog.String("file_name", m.FileName))

	var prior *models.FileManifest
	if p, ok := e.reg.Lookup(m.FileName); ok {
		prior = &p
		out.FileID = p.FileID
		// An unconfirmed revision with the same content is resumed: only the
		// chunks the store never acknowledged are planned.
		if p.FileDigest == m.FileDigest && !p.Confirmed {
			resume := p.Clone()
			resume.FileDigest = ""
			prior = &resume
		}
	}

	plan, err := differ.Diff(m, prior)
	out.Kind = plan.Kind
	if errors.Is(err, apperr.ErrNoChange) {
		out.Status = StatusNoChange
		log.Info("sync: no change", slog.String("file_id", out.FileID))
		return out, err
	}
	if err != nil {
		return out, err
	}

	var fileID string
	switch plan.Kind {
	case differ.KindCreate:
		fileID, err = e.store.CreateFile(ctx, m)
	default:
		fileID, err = e.store.UpdateFile(ctx, prior.FileID, m)
	}
	if err != nil {
		log.Warn("sync: metadata rejected", slog.String("kind", plan.Kind.String()), slog.String("error", err.Error()))
		return out, err
	}
	out.FileID = fileID
	log = log.With(slog.String("file_id", fileID))

	if err := e.reg.RecordMetadataResult(registry.MetadataResult{
		Created:    plan.Kind == differ.KindCreate,
		FileID:     fileID,
		FileName:   m.FileName,
		FileDigest: m.FileDigest,
		FileSize:   m.FileSize,
		MimeType:   m.MimeType,
		ChunkCount: m.ChunkCount(),
	}); err != nil {
		return out, err
	}

	log.Info("sync: transferring",
		slog.String("kind", plan.Kind.String()),
		slog.Int("chunks", len(plan.Chunks)),
		slog.Int("total", m.ChunkCount()))

	res, sendErr := e.sched.Send(ctx, fileID, m.FileDigest, plan.Chunks)
	for _, r := range res.Records {
		out.Uploaded = append(out.Uploaded, r.ChunkID)
	}
	for _, f := range res.Failures {
		out.Failed = append(out.Failed, f.ChunkID)
	}
	if err := e.reg.RecordChunkResults(fileID, res.Records); err != nil {
		return out, err
	}
	if sendErr != nil {
		out.Status = StatusPartialTransfer
		_ = e.reg.MarkFailed(fileID)
		log.Warn("sync: partial transfer", slog.Any("failed", out.Failed))
		return out, sendErr
	}

	if err := e.store.MarkComplete(ctx, fileID); err != nil {
		_ = e.reg.MarkFailed(fileID)
		log.Warn("sync: end of stream rejected", slog.String("error", err.Error()))
		return out, err
	}
	if err := e.reg.MarkEndOfStream(fileID); err != nil {
		return out, err
	}
	out.Status = StatusConfirmed
	log.Info("sync: confirmed", slog.Int("uploaded", len(out.Uploaded)))
	return out, nil
}

// Download fetches a file by registry name or server ID and checks it
// against the last known digest.
func (e *Engine) Download(ctx context.Context, nameOrID string) ([]byte, *models.FileManifest, error) {
	m, ok := e.reg.Lookup(nameOrID)
	if !ok {
		var err error
		if m, err = e.reg.Get(nameOrID); err != nil {
			return nil, nil, &apperr.DownloadError{FileID: nameOrID, Err: err}
		}
	}
	data, err := e.store.Download(ctx, m.FileID)
	if err != nil {
		return nil, nil, err
	}
	if got := checksum.Sum(data); m.FileDigest != "" && got != m.FileDigest {
		return nil, nil, &apperr.DownloadError{
			FileID: m.FileID,
			Err:    fmt.Errorf("digest %s, want %s: %w", got, m.FileDigest, apperr.ErrConflict),
		}
	}
	return data, &m, nil
}
