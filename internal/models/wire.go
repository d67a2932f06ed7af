package models

import "encoding/json"

// Envelope wraps every JSON response of the remote store.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody describes a rejected request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// FileEntry is one item of the file listing.
type FileEntry struct {
	FileID     string        `json:"fileID"`
	FileName   string        `json:"fileName"`
	FileHash   string        `json:"fileHash"`
	FileSize   int64         `json:"fileSize"`
	FileType   string        `json:"fileType"`
	ChunkCount int           `json:"chunkCount"`
	Chunks     []ChunkRecord `json:"chunks"`
	Syncing    bool          `json:"syncing"`
	Confirmed  bool          `json:"confirmed"`
}

// FileListing is the data of the list response.
type FileListing struct {
	Files []FileEntry `json:"files"`
}

// Entry renders m for the wire.
func (m FileManifest) Entry() FileEntry {
	recs := m.Records()
	return FileEntry{
		FileID:     m.FileID,
		FileName:   m.FileName,
		FileHash:   m.FileDigest,
		FileSize:   m.FileSize,
		FileType:   m.MimeType,
		ChunkCount: m.ChunkCount,
		Chunks:     recs,
		Syncing:    m.Syncing,
		Confirmed:  m.Confirmed,
	}
}

// Manifest converts a listing entry back into a manifest.
func (e FileEntry) Manifest() FileManifest {
	m := FileManifest{
		FileID:     e.FileID,
		FileName:   e.FileName,
		FileDigest: e.FileHash,
		FileSize:   e.FileSize,
		MimeType:   e.FileType,
		ChunkCount: e.ChunkCount,
		Chunks:     make(map[int]ChunkRecord, len(e.Chunks)),
		Syncing:    e.Syncing,
		Confirmed:  e.Confirmed,
	}
	for _, c := range e.Chunks {
		m.Chunks[c.ChunkID] = c
	}
	return m
}

// Multipart field names of a chunk upload.
const (
	FieldData        = "data"
	FieldChunkSize   = "chunkSize"
	FieldID          = "id"
	FieldNextChunkID = "nextChunkID"
	FieldChunkDigest = "chunkDigest"
	FieldFileDigest  = "fileDigest"
)
