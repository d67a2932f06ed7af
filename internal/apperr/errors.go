// Package apperr holds the error taxonomy shared by the engine, the remote
// client and the reference store.
package apperr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")

	// ErrNoChange is the short-circuit outcome for a file whose whole-file
	// digest matches the last known revision. It is not a failure.
	ErrNoChange = errors.New("no change detected")

	// ErrInvalidManifest reports a chunk plan that breaks the chain contract.
	ErrInvalidManifest = errors.New("invalid manifest")
)

// MetadataError reports a rejected create, update or end-of-stream request.
type MetadataError struct {
	Op     string
	Status int
	Code   string
	Err    error
}

func (e *MetadataError) Error() string {
	var b strings.Builder
	b.WriteString("metadata request failed: ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		b.WriteString(" status=" + strconv.Itoa(e.Status))
	}
	if e.Code != "" {
		b.WriteString(" code=" + e.Code)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *MetadataError) Unwrap() error { return e.Err }

// ChunkFailure identifies one chunk that could not be transferred.
type ChunkFailure struct {
	ChunkID int
	Err     error
}

// ChunkTransferError aggregates every chunk failure of one transfer.
type ChunkTransferError struct {
	FileID   string
	Failures []ChunkFailure
}

func (e *ChunkTransferError) Error() string {
	return fmt.Sprintf("chunk transfer failed for file %s: %d chunk(s) %v",
		e.FileID, len(e.Failures), e.ChunkIDs())
}

// ChunkIDs returns the ordinals of the failed chunks in reported order.
func (e *ChunkTransferError) ChunkIDs() []int {
	ids := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ChunkID
	}
	return ids
}

// Unwrap exposes the individual chunk errors to errors.Is / errors.As.
func (e *ChunkTransferError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}

// ConnClosedError reports the end of a push subscription.
// Graceful is true when the stream ended cleanly or the caller cancelled it.
// Received is true when at least one event arrived before the closure.
type ConnClosedError struct {
	Graceful bool
	Received bool
	Err      error
}

func (e *ConnClosedError) Error() string {
	kind := "abnormally"
	if e.Graceful {
		kind = "cleanly"
	}
	if e.Err != nil {
		return fmt.Sprintf("connection closed %s: %v", kind, e.Err)
	}
	return "connection closed " + kind
}

func (e *ConnClosedError) Unwrap() error { return e.Err }

// DownloadError reports a failed reconstruction fetch.
type DownloadError struct {
	FileID string
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s failed: status=%d", e.FileID, e.Status)
	}
	return fmt.Sprintf("download %s failed: %v", e.FileID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }
