package differ

import (
	"errors"
	"slices"
	"testing"

	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/chunker"
	"github.com/starford/revsync/internal/models"
)

func build(t *testing.T, content string) *chunker.Manifest {
	t.Helper()
	m, err := chunker.Build("doc.bin", []byte(content), 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

// synced turns a local manifest into the registry view of a fully synced file.
func synced(m *chunker.Manifest) *models.FileManifest {
	fm := &models.FileManifest{
		FileID:     "file-1",
		FileName:   m.FileName,
		FileDigest: m.FileDigest,
		FileSize:   m.FileSize,
		ChunkCount: len(m.Chunks),
		Chunks:     make(map[int]models.ChunkRecord),
		Confirmed:  true,
	}
	for _, c := range m.Chunks {
		fm.Chunks[c.ID] = models.ChunkRecord{ChunkID: c.ID, NextChunkID: c.NextID, ChunkDigest: c.Digest}
	}
	return fm
}

func TestDiff_NewFileSendsEverything(t *testing.T) {
	plan, err := Diff(build(t, "aaaabbbbcc"), nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if plan.Kind != KindCreate || !plan.FullSet {
		t.Errorf("plan = %+v", plan)
	}
	if got := plan.IDs(); !slices.Equal(got, []int{0, 1, 2}) {
		t.Errorf("ids = %v", got)
	}
}

func TestDiff_UnmodifiedIsNoChange(t *testing.T) {
	m := build(t, "aaaabbbbcc")
	plan, err := Diff(m, synced(m))
	if !errors.Is(err, apperr.ErrNoChange) {
		t.Fatalf("err = %v, want ErrNoChange", err)
	}
	if plan.Kind != KindNoChange || len(plan.Chunks) != 0 {
		t.Errorf("plan = %+v", plan)
	}
}

func TestDiff_SelectsOnlyChangedOrdinal(t *testing.T) {
	prior := synced(build(t, "aaaabbbbcc"))
	plan, err := Diff(build(t, "aaaaXbbbcc"), prior)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if got := plan.IDs(); !slices.Equal(got, []int{1}) {
		t.Errorf("ids = %v, want [1]", got)
	}
	if plan.FullSet {
		t.Error("partial plan must not be marked full")
	}
}

func TestDiff_CountChangeFallsBackToFullSet(t *testing.T) {
	prior := synced(build(t, "aaaabbbbcccc"))
	plan, err := Diff(build(t, "aaaabbbbccccd"), prior)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if got := plan.IDs(); !slices.Equal(got, []int{0, 1, 2, 3}) {
		t.Errorf("ids = %v, want all 4", got)
	}
	if !plan.FullSet || plan.Kind != KindUpdate {
		t.Errorf("plan = %+v", plan)
	}
}

func TestDiff_SuccessorChangeForcesUpload(t *testing.T) {
	m := build(t, "aaaabbbbcc")
	prior := synced(build(t, "aaaabbbbcd"))
	rec := prior.Chunks[0]
	rec.NextChunkID = models.TerminalChunkID
	prior.Chunks[0] = rec

	plan, err := Diff(m, prior)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if got := plan.IDs(); !slices.Equal(got, []int{0, 2}) {
		t.Errorf("ids = %v, want [0 2]", got)
	}
}

func TestDiff_MissingPriorRecordIsUploaded(t *testing.T) {
	prior := synced(build(t, "aaaabbbbcd"))
	delete(prior.Chunks, 1)

	plan, err := Diff(build(t, "aaaabbbbcc"), prior)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if got := plan.IDs(); !slices.Equal(got, []int{1, 2}) {
		t.Errorf("ids = %v, want [1 2]", got)
	}
}

func TestDiff_RejectsBrokenManifest(t *testing.T) {
	m := build(t, "aaaabbbbcc")
	m.Chunks[1].NextID = 0
	if _, err := Diff(m, nil); !errors.Is(err, apperr.ErrInvalidManifest) {
		t.Errorf("err = %v, want ErrInvalidManifest", err)
	}
}
