// Package models defines the domain types shared by the sync engine and the
// reference store.
package models

import (
	"sort"
	"time"
)

// TerminalChunkID is the successor value carried by the last chunk of a chain.
const TerminalChunkID = -1

// Chunk is one fixed-size byte range of a local file revision.
type Chunk struct {
	ID         int    `json:"id"`
	NextID     int    `json:"nextID"`
	Digest     string `json:"digest"`
	Size       int64  `json:"size"`
	FileDigest string `json:"fileDigest"`
	Data       []byte `json:"-"`
}

// IsLast reports whether c terminates its chain.
func (c Chunk) IsLast() bool {
	return c.NextID == TerminalChunkID
}

// ChunkRecord is the server-confirmed view of a transferred chunk.
type ChunkRecord struct {
	ChunkID     int       `json:"chunkID"`
	NextChunkID int       `json:"nextChunkID"`
	ChunkDigest string    `json:"chunkDigest"`
	BlobLocator string    `json:"blobLocator"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FileManifest describes one known file revision.
type FileManifest struct {
	FileID     string              `json:"fileID"`
	FileName   string              `json:"fileName"`
	FileDigest string              `json:"fileHash"`
	FileSize   int64               `json:"fileSize"`
	MimeType   string              `json:"fileType"`
	ChunkCount int                 `json:"chunkCount"`
	Chunks     map[int]ChunkRecord `json:"-"`
	Syncing    bool                `json:"syncing"`
	Confirmed  bool                `json:"confirmed"`
}

// Clone returns a deep copy of m. Registry entries are always replaced by
// clones so that snapshots held elsewhere never observe later writes.
func (m FileManifest) Clone() FileManifest {
	out := m
	out.Chunks = make(map[int]ChunkRecord, len(m.Chunks))
	for k, v := range m.Chunks {
		out.Chunks[k] = v
	}
	return out
}

// Records returns the chunk records ordered by ordinal.
func (m FileManifest) Records() []ChunkRecord {
	out := make([]ChunkRecord, 0, len(m.Chunks))
	for _, r := range m.Chunks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out
}

// FullySynced reports whether every planned chunk has a confirmed record.
func (m FileManifest) FullySynced() bool {
	if len(m.Chunks) != m.ChunkCount {
		return false
	}
	for i := 0; i < m.ChunkCount; i++ {
		if _, ok := m.Chunks[i]; !ok {
			return false
		}
	}
	return true
}
