// Package chunker splits file revisions into fixed-size, sequentially linked,
// individually hashed chunks.
package chunker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/checksum"
	"github.com/starford/revsync/internal/models"
)

// DefaultChunkSize is 4 MiB.
const DefaultChunkSize int64 = 4 << 20

// ErrChunkSize is returned for a non-positive chunk size.
var ErrChunkSize = errors.New("chunker: chunk size must be positive")

// Manifest is the locally computed plan for one file revision.
type Manifest struct {
	FileName   string
	FileDigest string
	FileSize   int64
	MimeType   string
	ChunkSize  int64
	Chunks     []models.Chunk
}

// ChunkCount returns the number of planned chunks.
func (m *Manifest) ChunkCount() int {
	return len(m.Chunks)
}

// Count returns ceil(fileSize / chunkSize).
func Count(fileSize, chunkSize int64) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// Split cuts data into consecutive ranges of at most chunkSize bytes.
// Each chunk digest covers only its own range; fileDigest is stamped on every
// chunk as the owner identity. Chunk data aliases data.
func Split(data []byte, fileDigest string, chunkSize int64) ([]models.Chunk, error) {
	if chunkSize <= 0 {
		return nil, ErrChunkSize
	}
	n := Count(int64(len(data)), chunkSize)
	chunks := make([]models.Chunk, 0, n)
	for id := 0; id < n; id++ {
		start := int64(id) * chunkSize
		end := min(start+chunkSize, int64(len(data)))
		part := data[start:end]

		next := id + 1
		if id == n-1 {
			next = models.TerminalChunkID
		}
		chunks = append(chunks, models.Chunk{
			ID:         id,
			NextID:     next,
			Digest:     checksum.Sum(part),
			Size:       end - start,
			FileDigest: fileDigest,
			Data:       part,
		})
	}
	return chunks, nil
}

// Build hashes the whole buffer, sniffs its type and splits it.
func Build(name string, data []byte, chunkSize int64) (*Manifest, error) {
	if chunkSize <= 0 {
		return nil, ErrChunkSize
	}
	digest, mimeType := checksum.Digest(data)
	chunks, err := Split(data, digest, chunkSize)
	if err != nil {
		return nil, err
	}
	return &Manifest{
		FileName:   name,
		FileDigest: digest,
		FileSize:   int64(len(data)),
		MimeType:   mimeType,
		ChunkSize:  chunkSize,
		Chunks:     chunks,
	}, nil
}

// FromFile reads path and builds its manifest. The base name is the identity key.
func FromFile(path string, chunkSize int64) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chunker: read %s: %w", path, err)
	}
	return Build(filepath.Base(path), data, chunkSize)
}

// Validate checks the chain contract: contiguous ordinals 0..n-1, every
// non-final successor equal to ordinal+1, exactly one terminal chunk, and a
// count matching ceil(size/chunkSize).
func (m *Manifest) Validate() error {
	if want := Count(m.FileSize, m.ChunkSize); want != len(m.Chunks) {
		return fmt.Errorf("%w: %d chunks for %d bytes, want %d",
			apperr.ErrInvalidManifest, len(m.Chunks), m.FileSize, want)
	}
	terminals := 0
	for i, c := range m.Chunks {
		if c.ID != i {
			return fmt.Errorf("%w: chunk at position %d has ordinal %d", apperr.ErrInvalidManifest, i, c.ID)
		}
		if c.IsLast() {
			terminals++
			continue
		}
		if c.NextID != i+1 {
			return fmt.Errorf("%w: chunk %d links to %d", apperr.ErrInvalidManifest, i, c.NextID)
		}
	}
	if len(m.Chunks) > 0 && (terminals != 1 || !m.Chunks[len(m.Chunks)-1].IsLast()) {
		return fmt.Errorf("%w: chain must end with exactly one terminal chunk", apperr.ErrInvalidManifest)
	}
	return nil
}
