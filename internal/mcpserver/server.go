// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes sync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/engine"
	"github.com/starford/revsync/internal/models"
	"github.com/starford/revsync/internal/registry"
)

const filesURI = "revsync://files"

// Engine is the sync surface the tools drive.
type Engine interface {
	Registry() *registry.Registry
	SyncFile(ctx context.Context, path string) (engine.Outcome, error)
	SyncBytes(ctx context.Context, name string, data []byte) (engine.Outcome, error)
	Download(ctx context.Context, nameOrID string) ([]byte, *models.FileManifest, error)
}

// Server wraps the MCP server with sync tools.
type Server struct {
	mcp *server.MCPServer
	eng Engine
}

// New creates a new MCP server with all tools registered.
func New(eng Engine, version string) *Server {
	s := &Server{eng: eng}

	s.mcp = server.NewMCPServer(
		"revsync",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription("List every file known to the sync registry with its syncing and confirmed flags."),
	), s.listFiles)

	s.mcp.AddTool(mcp.NewTool("file_status",
		mcp.WithDescription("Show the registry entry for one file, including acknowledged chunks."),
		mcp.WithString("file", mcp.Required(), mcp.Description("File name or server file ID")),
	), s.fileStatus)

	s.mcp.AddTool(mcp.NewTool("sync_file",
		mcp.WithDescription("Sync a local file to the remote store. Only changed chunks are uploaded."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Local path of the file; its base name is the remote file name")),
	), s.syncFile)

	s.mcp.AddTool(mcp.NewTool("sync_content",
		mcp.WithDescription("Sync inline content to the remote store under a file name. "+
			"Content is plain text, or a base64 data URI (data:<mime>;base64,...) for binary files."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Remote file name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text or base64 data URI")),
	), s.syncContent)

	s.mcp.AddTool(mcp.NewTool("download_file",
		mcp.WithDescription("Download a confirmed file. Writes to dest when given, otherwise returns "+
			"the content as text, or as a base64 data URI when it is not UTF-8."),
		mcp.WithString("file", mcp.Required(), mcp.Description("File name or server file ID")),
		mcp.WithString("dest", mcp.Description("Optional local path to write the file to")),
	), s.downloadFile)

	s.mcp.AddResource(
		mcp.NewResource(filesURI, "Synced files",
			mcp.WithResourceDescription("Current registry snapshot of synced files."),
			mcp.WithMIMEType("application/json"),
		),
		s.readFilesResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func entries(files []models.FileManifest) []models.FileEntry {
	out := make([]models.FileEntry, 0, len(files))
	for _, f := range files {
		out = append(out, f.Entry())
	}
	return out
}

func (s *Server) lookup(file string) (models.FileManifest, error) {
	if m, ok := s.eng.Registry().Lookup(file); ok {
		return m, nil
	}
	return s.eng.Registry().Get(file)
}

func (s *Server) listFiles(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(entries(s.eng.Registry().Snapshot()))
}

func (s *Server) fileStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := req.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.lookup(file)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", file)), nil
	}
	return jsonResult(m.Entry())
}

type outcomeResult struct {
	FileID   string `json:"fileID"`
	FileName string `json:"fileName"`
	Status   string `json:"status"`
	Kind     string `json:"kind"`
	Uploaded []int  `json:"uploaded"`
	Failed   []int  `json:"failed,omitempty"`
	Error    string `json:"error,omitempty"`
}

func outcome(out engine.Outcome, err error) (*mcp.CallToolResult, error) {
	res := outcomeResult{
		FileID:   out.FileID,
		FileName: out.FileName,
		Status:   out.Status.String(),
		Kind:     out.Kind.String(),
		Uploaded: out.Uploaded,
		Failed:   out.Failed,
	}
	if res.Uploaded == nil {
		res.Uploaded = []int{}
	}
	if err != nil && !errors.Is(err, apperr.ErrNoChange) {
		res.Error = err.Error()
		r, _ := jsonResult(res)
		r.IsError = true
		return r, nil
	}
	return jsonResult(res)
}

func (s *Server) syncFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return outcome(s.eng.SyncFile(ctx, path))
}

func (s *Server) syncContent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err = sanitizeName(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := decodeContent(content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) > maxContentSize {
		return mcp.NewToolResultError(fmt.Sprintf("content too large: %d bytes (max %d)", len(data), maxContentSize)), nil
	}
	return outcome(s.eng.SyncBytes(ctx, name, data))
}

func (s *Server) downloadFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := req.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, m, err := s.eng.Download(ctx, file)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if dest := req.GetString("dest", ""); dest != "" {
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("wrote %d bytes to %s", len(data), dest)), nil
	}
	if utf8.Valid(data) {
		return mcp.NewToolResultText(string(data)), nil
	}
	return mcp.NewToolResultText(encodeDataURI(m.MimeType, data)), nil
}

func (s *Server) readFilesResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.Marshal(models.FileListing{Files: entries(s.eng.Registry().Snapshot())})
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      filesURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
