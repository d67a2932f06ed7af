// Package testutil provides shared test helpers that run the reference store.
package testutil

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/revsync/internal/api"
	"github.com/starford/revsync/internal/fileservice"
	"github.com/starford/revsync/internal/index"
	"github.com/starford/revsync/internal/sse"
	"github.com/starford/revsync/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "revsync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBlobs creates a temporary blob directory with a storage.Provider.
func TestBlobs(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "blobs")
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Store is a running reference store.
type Store struct {
	URL     string
	Token   string
	Service *fileservice.Service
	Broker  *sse.Broker
	Server  *httptest.Server
}

// NewStore starts the reference store on an httptest server. A non-empty
// token enables access-token auth.
func NewStore(t *testing.T, token string) *Store {
	t.Helper()
	_, blobs := TestBlobs(t)
	db := TestDB(t)
	broker := sse.NewBroker(time.Minute)
	svc := fileservice.NewService(blobs, db, broker, nil)

	srv := httptest.NewServer(api.NewRouter(svc, token != "", token, broker))
	// Closing the broker first ends open push streams so the server can stop.
	t.Cleanup(srv.Close)
	t.Cleanup(broker.Close)

	return &Store{URL: srv.URL, Token: token, Service: svc, Broker: broker, Server: srv}
}

// WaitForSubscribers blocks until n push clients are connected or the
// timeout elapses.
func (s *Store) WaitForSubscribers(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for s.Broker.ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
