package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/revsync/internal/engine"
	"github.com/starford/revsync/internal/models"
	"github.com/starford/revsync/internal/registry"
	"github.com/starford/revsync/internal/remote"
	"github.com/starford/revsync/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	st := testutil.NewStore(t, "")
	client, err := remote.New(st.URL, "", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New()
	t.Cleanup(reg.Close)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	eng := engine.New(client, reg, 2, engine.WithChunkSize(8), engine.WithLogger(logger))
	return New(eng, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_files":
		result, err = srv.listFiles(ctx, req)
	case "file_status":
		result, err = srv.fileStatus(ctx, req)
	case "sync_file":
		result, err = srv.syncFile(ctx, req)
	case "sync_content":
		result, err = srv.syncContent(ctx, req)
	case "download_file":
		result, err = srv.downloadFile(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decodeOutcome(t *testing.T, r *mcp.CallToolResult) outcomeResult {
	t.Helper()
	var out outcomeResult
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatalf("decode outcome %q: %v", resultText(r), err)
	}
	return out
}

func TestSyncContentAndDownload(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "sync_content", map[string]any{
		"name":    "notes.txt",
		"content": "hello from the tool surface",
	})
	if r.IsError {
		t.Fatalf("sync_content failed: %s", resultText(r))
	}
	out := decodeOutcome(t, r)
	if out.Status != "confirmed" || out.Kind != "create" {
		t.Errorf("outcome = %+v", out)
	}

	r = callTool(t, srv, "download_file", map[string]any{"file": "notes.txt"})
	if got := resultText(r); got != "hello from the tool surface" {
		t.Errorf("download = %q", got)
	}
}

func TestSyncContentNoChange(t *testing.T) {
	srv := testServer(t)
	args := map[string]any{"name": "same.txt", "content": "unchanged"}
	_ = callTool(t, srv, "sync_content", args)

	r := callTool(t, srv, "sync_content", args)
	if r.IsError {
		t.Fatalf("no-change sync reported as error: %s", resultText(r))
	}
	if out := decodeOutcome(t, r); out.Status != "no_change" {
		t.Errorf("status = %q, want no_change", out.Status)
	}
}

func TestSyncContentDataURI(t *testing.T) {
	srv := testServer(t)
	raw := []byte{0x89, 'P', 'N', 'G', 0xff, 0x00, 0xfe}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	r := callTool(t, srv, "sync_content", map[string]any{"name": "../img.png", "content": uri})
	if r.IsError {
		t.Fatalf("sync_content failed: %s", resultText(r))
	}
	if out := decodeOutcome(t, r); out.FileName != "img.png" {
		t.Errorf("file name = %q, want sanitized img.png", out.FileName)
	}

	r = callTool(t, srv, "download_file", map[string]any{"file": "img.png"})
	data, err := decodeContent(resultText(r))
	if err != nil {
		t.Fatalf("decode download: %v", err)
	}
	if string(data) != string(raw) {
		t.Errorf("download = %x, want %x", data, raw)
	}
}

func TestSyncFileAndStatus(t *testing.T) {
	srv := testServer(t)
	path := filepath.Join(t.TempDir(), "report.csv")
	if err := os.WriteFile(path, []byte("a,b,c\n1,2,3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "sync_file", map[string]any{"path": path})
	if r.IsError {
		t.Fatalf("sync_file failed: %s", resultText(r))
	}

	r = callTool(t, srv, "file_status", map[string]any{"file": "report.csv"})
	var entry models.FileEntry
	if err := json.Unmarshal([]byte(resultText(r)), &entry); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !entry.Confirmed || entry.Syncing || entry.ChunkCount != 2 {
		t.Errorf("entry = %+v", entry)
	}

	r = callTool(t, srv, "file_status", map[string]any{"file": entry.FileID})
	if r.IsError {
		t.Errorf("status by file ID failed: %s", resultText(r))
	}
}

func TestSyncFileMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "sync_file", map[string]any{"path": filepath.Join(t.TempDir(), "nope")})
	if !r.IsError {
		t.Error("expected error for missing file")
	}
}

func TestListFiles(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "sync_content", map[string]any{"name": "a.txt", "content": "a"})
	_ = callTool(t, srv, "sync_content", map[string]any{"name": "b.txt", "content": "b"})

	r := callTool(t, srv, "list_files", map[string]any{})
	var files []models.FileEntry
	if err := json.Unmarshal([]byte(resultText(r)), &files); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(files) != 2 || files[0].FileName != "b.txt" {
		t.Errorf("files = %+v, want b.txt first", files)
	}
}

func TestDownloadUnknown(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "download_file", map[string]any{"file": "ghost"})
	if !r.IsError {
		t.Error("expected error for unknown file")
	}
}

func TestDownloadToDest(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "sync_content", map[string]any{"name": "d.txt", "content": "to disk"})
	dest := filepath.Join(t.TempDir(), "out.txt")

	r := callTool(t, srv, "download_file", map[string]any{"file": "d.txt", "dest": dest})
	if r.IsError {
		t.Fatalf("download failed: %s", resultText(r))
	}
	got, err := os.ReadFile(dest)
	if err != nil || string(got) != "to disk" {
		t.Errorf("dest = %q, %v", got, err)
	}
}
