package index

import (
	"context"
	"log/slog"
	"slices"
	"testing"

	"github.com/starford/revsync/internal/storage"
)

func TestSyncRemovesOrphanBlobs(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_ = db.InsertFile(ctx, FileRow{FileID: "f1", FileName: "a"})
	_ = db.UpsertChunk(ctx, "f1", ChunkRow{ChunkID: 0, NextChunkID: -1, ChunkDigest: "keep", BlobLocator: storage.Locator("f1", "keep")})
	_ = store.Put(storage.Locator("f1", "keep"), []byte("k"))
	_ = store.Put(storage.Locator("f1", "stale"), []byte("s"))
	_ = store.Put(storage.Locator("f9", "lost"), []byte("l"))

	n, err := Sync(ctx, db, store, slog.Default())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	left, _ := store.List("")
	if !slices.Equal(left, []string{"f1/keep"}) {
		t.Errorf("remaining = %v", left)
	}
}
