package index

import "context"

// FileIndex defines the manifest index operations used by the file service.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type FileIndex interface {
	InsertFile(ctx context.Context, f FileRow) error
	UpdateFile(ctx context.Context, f FileRow) error
	GetFile(ctx context.Context, fileID string) (*FileRow, error)
	ListFiles(ctx context.Context) ([]FileRow, error)
	SetStatus(ctx context.Context, fileID string, syncing, confirmed bool) error
	UpsertChunk(ctx context.Context, fileID string, c ChunkRow) error
	Chunks(ctx context.Context, fileID string) ([]ChunkRow, error)
	PruneChunks(ctx context.Context, fileID string, count int) error
	Relink(ctx context.Context, fileID string, count int) error
	Locators(ctx context.Context) (map[string]struct{}, error)
	Close() error
}

// Verify *DB satisfies FileIndex at compile time.
var _ FileIndex = (*DB)(nil)
