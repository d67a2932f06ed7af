// Package transfer sends chunk sets to the remote store in bounded,
// strictly sequential groups.
package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/models"
)

// DefaultParallelism is the number of chunks in flight per group.
const DefaultParallelism = 3

// ChunkUpload is the single request that carries one chunk.
type ChunkUpload struct {
	Data        []byte
	Size        int64
	ID          int
	NextChunkID int
	// ChainNextID is the chunk's link in the full file chain (ordinal+1,
	// or the terminal sentinel), independent of which subset is sent.
	ChainNextID int
	Digest      string
	FileDigest  string
}

// Sender transmits one chunk and returns the acknowledged record.
type Sender interface {
	UploadChunk(ctx context.Context, fileID string, up ChunkUpload) (models.ChunkRecord, error)
}

// Result aggregates every group of one Send call.
type Result struct {
	Records  []models.ChunkRecord
	Failures []apperr.ChunkFailure
	// Groups holds the size of each group in issue order.
	Groups []int
}

// Scheduler partitions chunks into groups of Parallelism and sends each
// group concurrently, waiting for a group to settle before the next starts.
type Scheduler struct {
	sender      Sender
	parallelism int
	logger      *slog.Logger
}

// NewScheduler creates a scheduler. A non-positive parallelism selects the default.
func NewScheduler(sender Sender, parallelism int, logger *slog.Logger) *Scheduler {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{sender: sender, parallelism: parallelism, logger: logger}
}

// Parallelism returns the group size.
func (s *Scheduler) Parallelism() int {
	return s.parallelism
}

// NextLinks returns the successor value transmitted for each position of an
// ordered upload batch: a 1-based running counter whose final value is the
// terminal sentinel. For a full-file batch this equals the chunker's ordinal
// links.
func NextLinks(n int) []int {
	links := make([]int, n)
	for i := range links {
		links[i] = i + 1
		if i == n-1 {
			links[i] = models.TerminalChunkID
		}
	}
	return links
}

// Send transmits chunks (already ordinal-ordered) for fileID.
//
// A failing chunk never aborts its group or later groups. When any chunk
// failed the returned error is a *apperr.ChunkTransferError listing every
// failure; the Result still carries all acknowledged records. In-flight
// transmissions are not interrupted by ctx cancellation.
func (s *Scheduler) Send(ctx context.Context, fileID, fileDigest string, chunks []models.Chunk) (Result, error) {
	sendCtx := context.WithoutCancel(ctx)
	links := NextLinks(len(chunks))

	records := make([]*models.ChunkRecord, len(chunks))
	errs := make([]error, len(chunks))
	var res Result

	for start := 0; start < len(chunks); start += s.parallelism {
		end := min(start+s.parallelism, len(chunks))
		res.Groups = append(res.Groups, end-start)

		s.logger.Debug("transfer: group start",
			slog.String("file_id", fileID),
			slog.Int("group", len(res.Groups)-1),
			slog.Int("size", end-start))

		var g errgroup.Group
		for i := start; i < end; i++ {
			c := chunks[i]
			up := ChunkUpload{
				Data:        c.Data,
				Size:        c.Size,
				ID:          c.ID,
				NextChunkID: links[i],
				ChainNextID: c.NextID,
				Digest:      c.Digest,
				FileDigest:  fileDigest,
			}
			g.Go(func() error {
				rec, err := s.sender.UploadChunk(sendCtx, fileID, up)
				if err != nil {
					errs[i] = err
					return nil
				}
				records[i] = &rec
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, c := range chunks {
		if errs[i] != nil {
			s.logger.Warn("transfer: chunk failed",
				slog.String("file_id", fileID),
				slog.Int("chunk_id", c.ID),
				slog.String("error", errs[i].Error()))
			res.Failures = append(res.Failures, apperr.ChunkFailure{ChunkID: c.ID, Err: errs[i]})
			continue
		}
		if records[i] != nil {
			res.Records = append(res.Records, *records[i])
		}
	}

	if len(res.Failures) > 0 {
		return res, fmt.Errorf("transfer: %w", &apperr.ChunkTransferError{FileID: fileID, Failures: res.Failures})
	}
	return res, nil
}
