package fileservice

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const digestLen = 64

// CreateFileRequest registers a brand-new file.
type CreateFileRequest struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
	Digest   string `json:"digest"`
	Chunks   int    `json:"chunks"`
}

// Validate validates the request.
func (r *CreateFileRequest) Validate() error {
	if err := validation.ValidateStruct(r,
		validation.Field(&r.FileName, validation.Required, validation.Length(1, 1024)),
		validation.Field(&r.FileSize, validation.Min(int64(0))),
		validation.Field(&r.Digest, validation.Required, is.Hexadecimal, validation.Length(digestLen, digestLen)),
		validation.Field(&r.Chunks, validation.Min(0)),
	); err != nil {
		return err
	}
	return checkShape(r.FileSize, r.Chunks)
}

// UpdateFileRequest registers a changed revision of an existing file.
type UpdateFileRequest struct {
	FileID   string `json:"fileID"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType,omitempty"`
	Digest   string `json:"digest"`
	Chunks   int    `json:"chunks"`
}

// Validate validates the request.
func (r *UpdateFileRequest) Validate() error {
	if err := validation.ValidateStruct(r,
		validation.Field(&r.FileID, validation.Required),
		validation.Field(&r.FileSize, validation.Min(int64(0))),
		validation.Field(&r.Digest, validation.Required, is.Hexadecimal, validation.Length(digestLen, digestLen)),
		validation.Field(&r.Chunks, validation.Min(0)),
	); err != nil {
		return err
	}
	return checkShape(r.FileSize, r.Chunks)
}

// ChunkUploadRequest carries one chunk and its linkage metadata.
type ChunkUploadRequest struct {
	ID          int
	NextChunkID int
	Size        int64
	Digest      string
	FileDigest  string
	Data        []byte
}

// Validate validates the request.
func (r *ChunkUploadRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Min(0)),
		validation.Field(&r.NextChunkID, validation.Min(-1)),
		validation.Field(&r.Size, validation.Min(int64(1))),
		validation.Field(&r.Digest, validation.Required, is.Hexadecimal, validation.Length(digestLen, digestLen)),
		validation.Field(&r.FileDigest, validation.Required, is.Hexadecimal, validation.Length(digestLen, digestLen)),
	)
}

// An empty file has no chunks and a non-empty file has at least one.
func checkShape(size int64, chunks int) error {
	if (size == 0) != (chunks == 0) {
		return validation.Errors{"chunks": validation.NewError("validation_chunk_count", "must be zero exactly when fileSize is zero")}
	}
	return nil
}
