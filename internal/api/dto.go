package api

import (
	"github.com/starford/revsync/internal/fileservice"
	"github.com/starford/revsync/internal/models"
)

// CreateFileRequest is the request body for registering a file.
type CreateFileRequest = fileservice.CreateFileRequest

// UpdateFileRequest is the request body for registering a new revision.
type UpdateFileRequest = fileservice.UpdateFileRequest

// SessionResponse is the data of create and update responses.
type SessionResponse = fileservice.Session

// FileListResponse is the data of the list response.
type FileListResponse = models.FileListing

// FileResponse is the data of the end-of-stream response.
type FileResponse = models.FileEntry

// ChunkResponse is the data of a chunk upload response.
type ChunkResponse = models.ChunkRecord
