package transfer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/models"
)

// recordingSender acknowledges chunks and tracks concurrency.
type recordingSender struct {
	mu       sync.Mutex
	uploads  []ChunkUpload
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	fail     map[int]bool
	delay    time.Duration
}

func (s *recordingSender) UploadChunk(_ context.Context, _ string, up ChunkUpload) (models.ChunkRecord, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxSeen.Load()
		if n <= cur || s.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(s.delay)

	s.mu.Lock()
	s.uploads = append(s.uploads, up)
	s.mu.Unlock()

	if s.fail[up.ID] {
		return models.ChunkRecord{}, errors.New("rejected")
	}
	return models.ChunkRecord{ChunkID: up.ID, NextChunkID: up.NextChunkID, ChunkDigest: up.Digest}, nil
}

func chunks(ids ...int) []models.Chunk {
	out := make([]models.Chunk, len(ids))
	for i, id := range ids {
		out[i] = models.Chunk{ID: id, Digest: "d", Size: 1, Data: []byte{byte(id)}}
	}
	return out
}

func TestNextLinks(t *testing.T) {
	if got := NextLinks(4); !slices.Equal(got, []int{1, 2, 3, models.TerminalChunkID}) {
		t.Errorf("NextLinks(4) = %v", got)
	}
	if got := NextLinks(1); !slices.Equal(got, []int{models.TerminalChunkID}) {
		t.Errorf("NextLinks(1) = %v", got)
	}
	if got := NextLinks(0); len(got) != 0 {
		t.Errorf("NextLinks(0) = %v", got)
	}
}

func TestSend_GroupsOfThree(t *testing.T) {
	sender := &recordingSender{delay: 5 * time.Millisecond}
	s := NewScheduler(sender, 3, nil)

	res, err := s.Send(context.Background(), "f1", "fd", chunks(0, 1, 2, 3, 4, 5, 6))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !slices.Equal(res.Groups, []int{3, 3, 1}) {
		t.Errorf("groups = %v, want [3 3 1]", res.Groups)
	}
	if got := sender.maxSeen.Load(); got > 3 {
		t.Errorf("max in flight = %d, want <= 3", got)
	}
	if len(res.Records) != 7 {
		t.Fatalf("records = %d", len(res.Records))
	}
	for i, r := range res.Records {
		if r.ChunkID != i {
			t.Errorf("record %d has chunk %d; results must keep ordinal order", i, r.ChunkID)
		}
	}
}

func TestSend_GroupsAreSequential(t *testing.T) {
	sender := &recordingSender{delay: 2 * time.Millisecond}
	s := NewScheduler(sender, 2, nil)

	if _, err := s.Send(context.Background(), "f1", "fd", chunks(0, 1, 2, 3, 4)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Arrival order inside a group is free, but a group never overlaps the next.
	groupOf := func(id int) int { return id / 2 }
	prev := 0
	for _, up := range sender.uploads {
		g := groupOf(up.ID)
		if g < prev {
			t.Fatalf("chunk %d from group %d arrived after group %d", up.ID, g, prev)
		}
		prev = g
	}
}

func TestSend_NextLinksSpanWholeBatch(t *testing.T) {
	sender := &recordingSender{}
	s := NewScheduler(sender, 2, nil)

	if _, err := s.Send(context.Background(), "f1", "fd", chunks(1, 4, 6)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	links := map[int]int{}
	for _, up := range sender.uploads {
		links[up.ID] = up.NextChunkID
		if up.FileDigest != "fd" {
			t.Errorf("chunk %d missing owner digest", up.ID)
		}
	}
	want := map[int]int{1: 1, 4: 2, 6: models.TerminalChunkID}
	for id, next := range want {
		if links[id] != next {
			t.Errorf("chunk %d next = %d, want %d", id, links[id], next)
		}
	}
}

func TestSend_CarriesChainLinkForSubsets(t *testing.T) {
	s := &recordingSender{}
	sched := NewScheduler(s, 3, nil)
	sub := []models.Chunk{{ID: 1, NextID: 2, Digest: "d", Size: 1}}

	if _, err := sched.Send(context.Background(), "f", "fd", sub); err != nil {
		t.Fatalf("Send: %v", err)
	}
	up := s.uploads[0]
	if up.NextChunkID != models.TerminalChunkID || up.ChainNextID != 2 {
		t.Errorf("links = running %d chain %d, want -1 and 2", up.NextChunkID, up.ChainNextID)
	}
}

func TestSend_PartialFailureCollectsEverything(t *testing.T) {
	sender := &recordingSender{fail: map[int]bool{1: true, 4: true}}
	s := NewScheduler(sender, 3, nil)

	res, err := s.Send(context.Background(), "f1", "fd", chunks(0, 1, 2, 3, 4))
	var cte *apperr.ChunkTransferError
	if !errors.As(err, &cte) {
		t.Fatalf("err = %v, want ChunkTransferError", err)
	}
	if !slices.Equal(cte.ChunkIDs(), []int{1, 4}) {
		t.Errorf("failed ids = %v, want [1 4]", cte.ChunkIDs())
	}
	if len(sender.uploads) != 5 {
		t.Errorf("uploads attempted = %d, want all 5", len(sender.uploads))
	}
	var ok []int
	for _, r := range res.Records {
		ok = append(ok, r.ChunkID)
	}
	if !slices.Equal(ok, []int{0, 2, 3}) {
		t.Errorf("acknowledged = %v, want [0 2 3]", ok)
	}
}

func TestSend_OneFailureInGroupOfThree(t *testing.T) {
	sender := &recordingSender{fail: map[int]bool{2: true}}
	s := NewScheduler(sender, 3, nil)

	res, err := s.Send(context.Background(), "f1", "fd", chunks(0, 1, 2))
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(res.Records) != 2 || len(res.Failures) != 1 || res.Failures[0].ChunkID != 2 {
		t.Errorf("records=%d failures=%+v", len(res.Records), res.Failures)
	}
}

func TestSend_CancelledContextStillSettles(t *testing.T) {
	sender := &recordingSender{}
	s := NewScheduler(sender, 2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.Send(ctx, "f1", "fd", chunks(0, 1, 2))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(res.Records) != 3 {
		t.Errorf("records = %d, want 3", len(res.Records))
	}
}

func TestNewScheduler_DefaultParallelism(t *testing.T) {
	if got := NewScheduler(&recordingSender{}, 0, nil).Parallelism(); got != DefaultParallelism {
		t.Errorf("parallelism = %d", got)
	}
}
