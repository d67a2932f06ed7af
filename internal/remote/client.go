// Package remote is the HTTP client for the remote file store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/chunker"
	"github.com/starford/revsync/internal/models"
	"github.com/starford/revsync/internal/notifier"
	"github.com/starford/revsync/internal/transfer"
)

// Header names understood by the store.
const (
	HeaderAccessToken = "X-Access-Token"
	HeaderStreamToken = "X-Stream-Token"
)

// ErrNoStreamToken is returned for chunk-affecting calls on a file that has
// no open upload session in this client.
var ErrNoStreamToken = errors.New("remote: no stream token for file")

// Client talks to the remote store. It caches the stream token of every
// file it created or updated for the lifetime of the client.
type Client struct {
	baseURL     *url.URL
	accessToken string
	http        *http.Client
	stream      *http.Client
	logger      *slog.Logger

	mu     sync.Mutex
	tokens map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for request/response calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a client for baseURL. timeout bounds request/response calls;
// the push stream is never subject to it.
func New(baseURL, accessToken string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:     u,
		accessToken: accessToken,
		http:        &http.Client{Timeout: timeout},
		stream:      &http.Client{},
		logger:      slog.Default(),
		tokens:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StreamToken returns the cached stream token for fileID.
func (c *Client) StreamToken(fileID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[fileID]
	return tok, ok
}

func (c *Client) setStreamToken(fileID, tok string) {
	c.mu.Lock()
	c.tokens[fileID] = tok
	c.mu.Unlock()
}

func (c *Client) endpoint(p string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + p
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(p), body)
	if err != nil {
		return nil, err
	}
	if c.accessToken != "" {
		req.Header.Set(HeaderAccessToken, "Bearer "+c.accessToken)
	}
	return req, nil
}

func (c *Client) withStreamToken(req *http.Request, fileID string) error {
	tok, ok := c.StreamToken(fileID)
	if !ok {
		return fmt.Errorf("%w %s", ErrNoStreamToken, fileID)
	}
	req.Header.Set(HeaderStreamToken, "Bearer "+tok)
	return nil
}

// response is a classified reply: success iff status < 400, envelope parsed
// only when the server declared JSON.
type response struct {
	Status   int
	Envelope *models.Envelope
	Text     string
}

func (r *response) ok() bool { return r.Status < http.StatusBadRequest }

func (r *response) code() string {
	if r.Envelope != nil && r.Envelope.Error != nil {
		return r.Envelope.Error.Code
	}
	return ""
}

func (r *response) message() string {
	if r.Envelope != nil && r.Envelope.Error != nil && r.Envelope.Error.Message != "" {
		return r.Envelope.Error.Message
	}
	return strings.TrimSpace(r.Text)
}

// statusError maps an unsuccessful response onto a wrapped sentinel when one fits.
func (r *response) statusError() error {
	msg := r.message()
	if msg == "" {
		msg = http.StatusText(r.Status)
	}
	err := errors.New(msg)
	switch r.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		err = fmt.Errorf("%s: %w", msg, apperr.ErrUnauthorized)
	case http.StatusNotFound:
		err = fmt.Errorf("%s: %w", msg, apperr.ErrNotFound)
	case http.StatusConflict:
		err = fmt.Errorf("%s: %w", msg, apperr.ErrConflict)
	}
	return err
}

func isJSON(h http.Header) bool {
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func (c *Client) do(req *http.Request) (*response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	out := &response{Status: resp.StatusCode}
	if isJSON(resp.Header) {
		var env models.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		out.Envelope = &env
	} else {
		out.Text = string(body)
	}
	return out, nil
}

func (r *response) decode(v any) error {
	if r.Envelope == nil || len(r.Envelope.Data) == 0 {
		return fmt.Errorf("response carries no structured data")
	}
	return json.Unmarshal(r.Envelope.Data, v)
}

// metadata runs a JSON metadata request and wraps every failure as a
// *apperr.MetadataError.
func (c *Client) metadata(ctx context.Context, op, method, p string, body, out any, fileID string) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &apperr.MetadataError{Op: op, Err: err}
		}
		rd = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, p, rd)
	if err != nil {
		return &apperr.MetadataError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if fileID != "" {
		if err := c.withStreamToken(req, fileID); err != nil {
			return &apperr.MetadataError{Op: op, Err: err}
		}
	}
	resp, err := c.do(req)
	if err != nil {
		return &apperr.MetadataError{Op: op, Err: err}
	}
	if !resp.ok() {
		return &apperr.MetadataError{Op: op, Status: resp.Status, Code: resp.code(), Err: resp.statusError()}
	}
	if out != nil {
		if err := resp.decode(out); err != nil {
			return &apperr.MetadataError{Op: op, Status: resp.Status, Err: err}
		}
	}
	return nil
}

type sessionData struct {
	FileID      string `json:"fileID"`
	StreamToken string `json:"streamToken"`
}

type createBody struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
	Digest   string `json:"digest"`
	Chunks   int    `json:"chunks"`
}

type updateBody struct {
	FileID   string `json:"fileID"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType,omitempty"`
	Chunks   int    `json:"chunks"`
	Digest   string `json:"digest"`
}

// ListFiles fetches every manifest the store knows, newest first.
func (c *Client) ListFiles(ctx context.Context) ([]models.FileManifest, error) {
	var listing models.FileListing
	if err := c.metadata(ctx, "list", http.MethodGet, "/my/files", nil, &listing, ""); err != nil {
		return nil, err
	}
	out := make([]models.FileManifest, len(listing.Files))
	for i, e := range listing.Files {
		out[i] = e.Manifest()
	}
	return out, nil
}

// CreateFile registers a new file and caches its stream token.
func (c *Client) CreateFile(ctx context.Context, m *chunker.Manifest) (string, error) {
	var sess sessionData
	body := createBody{
		FileName: m.FileName,
		FileSize: m.FileSize,
		FileType: m.MimeType,
		Digest:   m.FileDigest,
		Chunks:   m.ChunkCount(),
	}
	if err := c.metadata(ctx, "create", http.MethodPost, "/my/files", body, &sess, ""); err != nil {
		return "", err
	}
	if sess.FileID == "" {
		return "", &apperr.MetadataError{Op: "create", Err: errors.New("response carries no fileID")}
	}
	c.setStreamToken(sess.FileID, sess.StreamToken)
	return sess.FileID, nil
}

// UpdateFile registers a new revision of fileID and caches the new stream token.
func (c *Client) UpdateFile(ctx context.Context, fileID string, m *chunker.Manifest) (string, error) {
	var sess sessionData
	body := updateBody{
		FileID:   fileID,
		FileSize: m.FileSize,
		FileType: m.MimeType,
		Chunks:   m.ChunkCount(),
		Digest:   m.FileDigest,
	}
	if err := c.metadata(ctx, "update", http.MethodPatch, "/my/files/"+url.PathEscape(fileID), body, &sess, ""); err != nil {
		return "", err
	}
	if sess.FileID == "" {
		sess.FileID = fileID
	}
	c.setStreamToken(sess.FileID, sess.StreamToken)
	return sess.FileID, nil
}

// UploadChunk sends one chunk as multipart/form-data.
func (c *Client) UploadChunk(ctx context.Context, fileID string, up transfer.ChunkUpload) (models.ChunkRecord, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(models.FieldData, strconv.Itoa(up.ID))
	if err != nil {
		return models.ChunkRecord{}, err
	}
	if _, err := part.Write(up.Data); err != nil {
		return models.ChunkRecord{}, err
	}
	fields := [][2]string{
		{models.FieldChunkSize, strconv.FormatInt(up.Size, 10)},
		{models.FieldID, strconv.Itoa(up.ID)},
		{models.FieldNextChunkID, strconv.Itoa(up.NextChunkID)},
		{models.FieldChunkDigest, up.Digest},
		{models.FieldFileDigest, up.FileDigest},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return models.ChunkRecord{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return models.ChunkRecord{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPatch, "/my/files/"+url.PathEscape(fileID)+"/chunks", &buf)
	if err != nil {
		return models.ChunkRecord{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.withStreamToken(req, fileID); err != nil {
		return models.ChunkRecord{}, err
	}

	resp, err := c.do(req)
	if err != nil {
		return models.ChunkRecord{}, fmt.Errorf("upload chunk %d: %w", up.ID, err)
	}
	if !resp.ok() {
		return models.ChunkRecord{}, fmt.Errorf("upload chunk %d: status=%d code=%s: %w", up.ID, resp.Status, resp.code(), resp.statusError())
	}

	var rec models.ChunkRecord
	if err := resp.decode(&rec); err != nil {
		// A success without a structured body still acknowledges the chunk.
		// Record the chain link, not the running counter of this batch.
		rec = models.ChunkRecord{ChunkID: up.ID, NextChunkID: up.ChainNextID, ChunkDigest: up.Digest}
	}
	c.logger.Debug("remote: chunk acknowledged",
		slog.String("file_id", fileID),
		slog.Int("chunk_id", rec.ChunkID))
	return rec, nil
}

// MarkComplete signals that every planned chunk was transmitted.
func (c *Client) MarkComplete(ctx context.Context, fileID string) error {
	return c.metadata(ctx, "eof", http.MethodPut, "/my/files/"+url.PathEscape(fileID)+"/eof", nil, nil, fileID)
}

// Download fetches the reconstructed bytes of fileID.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/my/files/"+url.PathEscape(fileID)+"/download", nil)
	if err != nil {
		return nil, &apperr.DownloadError{FileID: fileID, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &apperr.DownloadError{FileID: fileID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		r := &response{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if isJSON(resp.Header) {
			var env models.Envelope
			if json.Unmarshal(body, &env) == nil {
				r.Envelope = &env
			}
		} else {
			r.Text = string(body)
		}
		return nil, &apperr.DownloadError{FileID: fileID, Status: resp.StatusCode, Err: r.statusError()}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.DownloadError{FileID: fileID, Err: err}
	}
	return data, nil
}

// Open subscribes to the completion stream. The access token travels as a
// query parameter as well as a header so the same URL works for browsers.
func (c *Client) Open(ctx context.Context, lastEventID string) (io.ReadCloser, error) {
	u, _ := url.Parse(c.endpoint("/subscribe/devices"))
	if c.accessToken != "" {
		q := u.Query()
		q.Set(HeaderAccessToken, "Bearer "+c.accessToken)
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	if c.accessToken != "" {
		req.Header.Set(HeaderAccessToken, "Bearer "+c.accessToken)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNoContent:
		resp.Body.Close()
		return nil, notifier.ErrStreamEnded
	case resp.StatusCode >= http.StatusBadRequest:
		resp.Body.Close()
		return nil, fmt.Errorf("subscribe: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Verify *Client satisfies the interfaces it is plugged into.
var (
	_ transfer.Sender = (*Client)(nil)
	_ notifier.Source = (*Client)(nil)
)
