// Package registry holds the in-memory view of known file revisions for one
// client session and fans every change out to subscribers.
package registry

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/models"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("registry: closed")

// Listener receives the full file list after each mutation. Listeners run on
// the registry goroutine and must not call back into the Registry.
type Listener func(files []models.FileManifest)

// MetadataResult is the outcome of a successful create or update request.
type MetadataResult struct {
	Created    bool
	FileID     string
	FileName   string
	FileDigest string
	FileSize   int64
	MimeType   string
	ChunkCount int
}

type subscriber struct {
	id int
	fn Listener
}

type state struct {
	files     []models.FileManifest
	subs      []subscriber
	nextSubID int
}

// Registry is the single owner of session file state.
//
// Concurrency model: one goroutine owns the file list and the subscriber list.
// Public methods hand it closures over a channel, so no mutexes are required.
// Entries are replaced wholesale with clones, never patched in place.
type Registry struct {
	ops chan func(*state)

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New starts an empty registry.
func New() *Registry {
	r := &Registry{
		ops:     make(chan func(*state)),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	defer close(r.stopped)

	st := &state{}
	for {
		select {
		case <-r.stopCh:
			return
		case op := <-r.ops:
			op(st)
		}
	}
}

// Close stops the registry loop. It is safe to call more than once.
func (r *Registry) Close() {
	if r.closed.CompareAndSwap(false, true) {
		close(r.stopCh)
	}
	<-r.stopped
}

func (r *Registry) do(fn func(*state) error) error {
	if r.closed.Load() {
		return ErrClosed
	}
	done := make(chan error, 1)
	select {
	case r.ops <- func(st *state) { done <- fn(st) }:
	case <-r.stopped:
		return ErrClosed
	}
	return <-done
}

func (st *state) snapshot() []models.FileManifest {
	out := make([]models.FileManifest, len(st.files))
	for i, f := range st.files {
		out[i] = f.Clone()
	}
	return out
}

func (st *state) emit() {
	for _, s := range st.subs {
		s.fn(st.snapshot())
	}
}

func (st *state) indexByID(fileID string) int {
	for i, f := range st.files {
		if f.FileID == fileID {
			return i
		}
	}
	return -1
}

func (st *state) indexByName(name string) int {
	for i, f := range st.files {
		if f.FileName == name {
			return i
		}
	}
	return -1
}

// Subscribe registers fn and returns a function that removes it.
func (r *Registry) Subscribe(fn Listener) (cancel func()) {
	var id int
	if err := r.do(func(st *state) error {
		st.nextSubID++
		id = st.nextSubID
		st.subs = append(st.subs, subscriber{id: id, fn: fn})
		return nil
	}); err != nil {
		return func() {}
	}
	return func() {
		_ = r.do(func(st *state) error {
			for i, s := range st.subs {
				if s.id == id {
					st.subs = append(st.subs[:i:i], st.subs[i+1:]...)
					break
				}
			}
			return nil
		})
	}
}

// Snapshot returns a deep copy of the file list in display order.
func (r *Registry) Snapshot() []models.FileManifest {
	var out []models.FileManifest
	_ = r.do(func(st *state) error {
		out = st.snapshot()
		return nil
	})
	return out
}

// Lookup returns the manifest registered under fileName.
func (r *Registry) Lookup(fileName string) (models.FileManifest, bool) {
	var (
		out models.FileManifest
		ok  bool
	)
	_ = r.do(func(st *state) error {
		if i := st.indexByName(fileName); i >= 0 {
			out, ok = st.files[i].Clone(), true
		}
		return nil
	})
	return out, ok
}

// Get returns the manifest with the given server ID.
func (r *Registry) Get(fileID string) (models.FileManifest, error) {
	var out models.FileManifest
	err := r.do(func(st *state) error {
		i := st.indexByID(fileID)
		if i < 0 {
			return fmt.Errorf("registry: file %s: %w", fileID, apperr.ErrNotFound)
		}
		out = st.files[i].Clone()
		return nil
	})
	return out, err
}

// Load replaces the whole file list, typically with the initial listing.
func (r *Registry) Load(files []models.FileManifest) error {
	return r.do(func(st *state) error {
		next := make([]models.FileManifest, len(files))
		for i, f := range files {
			next[i] = f.Clone()
		}
		st.files = next
		st.emit()
		return nil
	})
}

// RecordMetadataResult applies a successful create or update.
//
// A create inserts a new entry at the front. An update replaces the entry
// found under the same file name at its current position and drops chunk
// records that fall outside the new chunk count. Both leave the entry syncing.
func (r *Registry) RecordMetadataResult(res MetadataResult) error {
	return r.do(func(st *state) error {
		if res.Created {
			m := models.FileManifest{
				FileID:     res.FileID,
				FileName:   res.FileName,
				FileDigest: res.FileDigest,
				FileSize:   res.FileSize,
				MimeType:   res.MimeType,
				ChunkCount: res.ChunkCount,
				Chunks:     map[int]models.ChunkRecord{},
				Syncing:    true,
			}
			files := make([]models.FileManifest, 0, len(st.files)+1)
			files = append(files, m)
			for _, f := range st.files {
				if f.FileName != res.FileName {
					files = append(files, f)
				}
			}
			st.files = files
			st.emit()
			return nil
		}

		i := st.indexByName(res.FileName)
		if i < 0 {
			return fmt.Errorf("registry: update %s: %w", res.FileName, apperr.ErrNotFound)
		}
		m := st.files[i].Clone()
		m.FileID = res.FileID
		m.FileDigest = res.FileDigest
		m.FileSize = res.FileSize
		if res.MimeType != "" {
			m.MimeType = res.MimeType
		}
		m.ChunkCount = res.ChunkCount
		for ord := range m.Chunks {
			if ord >= res.ChunkCount {
				delete(m.Chunks, ord)
			}
		}
		m.Syncing = true
		m.Confirmed = false
		st.files[i] = m
		st.emit()
		return nil
	})
}

// RecordChunkResults merges acknowledged chunk records into the manifest of
// fileID. It does not change the syncing flag.
func (r *Registry) RecordChunkResults(fileID string, records []models.ChunkRecord) error {
	return r.do(func(st *state) error {
		i := st.indexByID(fileID)
		if i < 0 {
			return fmt.Errorf("registry: chunks for %s: %w", fileID, apperr.ErrNotFound)
		}
		if len(records) == 0 {
			return nil
		}
		m := st.files[i].Clone()
		for _, rec := range records {
			m.Chunks[rec.ChunkID] = rec
		}
		st.files[i] = m
		st.emit()
		return nil
	})
}

// MarkEndOfStream records the local confirmation that all planned chunks
// were acknowledged.
func (r *Registry) MarkEndOfStream(fileID string) error {
	return r.setFlags(fileID, false, true)
}

// ApplyCompletionEvent records a server-pushed completion notice. It may
// arrive before, after or instead of MarkEndOfStream; repeats are no-ops.
func (r *Registry) ApplyCompletionEvent(fileID string) error {
	return r.setFlags(fileID, false, true)
}

// MarkFailed lowers the syncing flag of a file whose transfer did not finish.
// A confirmation that already arrived is kept, and a later one still applies.
func (r *Registry) MarkFailed(fileID string) error {
	return r.update(fileID, func(m *models.FileManifest) { m.Syncing = false })
}

func (r *Registry) setFlags(fileID string, syncing, confirmed bool) error {
	return r.update(fileID, func(m *models.FileManifest) {
		m.Syncing = syncing
		m.Confirmed = confirmed
	})
}

func (r *Registry) update(fileID string, apply func(*models.FileManifest)) error {
	return r.do(func(st *state) error {
		i := st.indexByID(fileID)
		if i < 0 {
			return fmt.Errorf("registry: file %s: %w", fileID, apperr.ErrNotFound)
		}
		cur := st.files[i]
		m := cur.Clone()
		apply(&m)
		if m.Syncing == cur.Syncing && m.Confirmed == cur.Confirmed {
			return nil
		}
		st.files[i] = m
		st.emit()
		return nil
	})
}
