package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/fileservice"
	"github.com/starford/revsync/internal/models"
)

const (
	maxJSONBytes  = 1 << 20
	maxChunkBytes = 64 << 20 // 64 MB
)

// Handler holds API route handlers.
type Handler struct {
	svc *fileservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *fileservice.Service) *Handler {
	return &Handler{svc: svc}
}

// writeServiceError maps service errors onto statuses and envelope codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var ve *fileservice.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, ve.Error())
	case errors.Is(err, apperr.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid stream token")
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, apperr.ErrInvalidManifest):
		writeError(w, http.StatusUnprocessableEntity, codeInvalidManifest, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON body")
		return false
	}
	return true
}

// ListFiles handles GET /my/files.
//
//	@Summary		List every known file with its chunk records
//	@Tags			files
//	@Produce		json
//	@Success		200	{object}	FileListResponse
//	@Security		AccessToken
//	@Router			/my/files [get]
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.ListFiles(r.Context())
	if err != nil {
		writeServiceError(w, "list files", err)
		return
	}
	out := FileListResponse{Files: make([]models.FileEntry, len(files))}
	for i, f := range files {
		out.Files[i] = f.Entry()
	}
	writeData(w, http.StatusOK, out)
}

// CreateFile handles POST /my/files.
//
//	@Summary		Register a new file and open its upload session
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateFileRequest	true	"File metadata"
//	@Success		201		{object}	SessionResponse
//	@Failure		400		{object}	models.Envelope
//	@Security		AccessToken
//	@Router			/my/files [post]
func (h *Handler) CreateFile(w http.ResponseWriter, r *http.Request) {
	var req CreateFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.svc.CreateFile(r.Context(), req)
	if err != nil {
		writeServiceError(w, "create file", err)
		return
	}
	writeData(w, http.StatusCreated, sess)
}

// UpdateFile handles PATCH /my/files/{fileID}.
//
//	@Summary		Register a changed revision of a file
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			fileID	path		string				true	"File ID"
//	@Param			body	body		UpdateFileRequest	true	"Revision metadata"
//	@Success		200		{object}	SessionResponse
//	@Failure		404		{object}	models.Envelope
//	@Security		AccessToken
//	@Router			/my/files/{fileID} [patch]
func (h *Handler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	var req UpdateFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.svc.UpdateFile(r.Context(), chi.URLParam(r, "fileID"), req)
	if err != nil {
		writeServiceError(w, "update file", err)
		return
	}
	writeData(w, http.StatusOK, sess)
}

// UploadChunk handles PATCH /my/files/{fileID}/chunks (multipart/form-data).
//
//	@Summary		Upload one chunk with its linkage metadata
//	@Tags			chunks
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			fileID			path		string	true	"File ID"
//	@Param			X-Stream-Token	header		string	true	"Bearer stream token"
//	@Success		200				{object}	ChunkResponse
//	@Failure		422				{object}	models.Envelope
//	@Security		AccessToken
//	@Router			/my/files/{fileID}/chunks [patch]
func (h *Handler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChunkBytes)
	if err := r.ParseMultipartForm(maxChunkBytes); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "chunk too large or invalid multipart")
		return
	}

	file, _, err := r.FormFile(models.FieldData)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "missing 'data' field in multipart form")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "failed to read chunk")
		return
	}

	req := fileservice.ChunkUploadRequest{
		Digest:     r.FormValue(models.FieldChunkDigest),
		FileDigest: r.FormValue(models.FieldFileDigest),
		Data:       data,
	}
	if req.ID, err = strconv.Atoi(r.FormValue(models.FieldID)); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid 'id'")
		return
	}
	if req.NextChunkID, err = strconv.Atoi(r.FormValue(models.FieldNextChunkID)); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid 'nextChunkID'")
		return
	}
	if req.Size, err = strconv.ParseInt(r.FormValue(models.FieldChunkSize), 10, 64); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid 'chunkSize'")
		return
	}

	rec, err := h.svc.UploadChunk(r.Context(), chi.URLParam(r, "fileID"), streamToken(r), req)
	if err != nil {
		writeServiceError(w, "upload chunk", err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

// CompleteFile handles PUT /my/files/{fileID}/eof.
//
//	@Summary		Signal that every planned chunk was transmitted
//	@Tags			files
//	@Produce		json
//	@Param			fileID			path		string	true	"File ID"
//	@Param			X-Stream-Token	header		string	true	"Bearer stream token"
//	@Success		200				{object}	FileResponse
//	@Failure		409				{object}	models.Envelope
//	@Security		AccessToken
//	@Router			/my/files/{fileID}/eof [put]
func (h *Handler) CompleteFile(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.CompleteFile(r.Context(), chi.URLParam(r, "fileID"), streamToken(r))
	if err != nil {
		writeServiceError(w, "complete file", err)
		return
	}
	writeData(w, http.StatusOK, m.Entry())
}

// Download handles GET /my/files/{fileID}/download.
//
//	@Summary		Download the reconstructed file
//	@Tags			files
//	@Produce		octet-stream
//	@Param			fileID	path	string	true	"File ID"
//	@Success		200
//	@Failure		404		{object}	models.Envelope
//	@Security		AccessToken
//	@Router			/my/files/{fileID}/download [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	data, m, err := h.svc.Download(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		writeServiceError(w, "download", err)
		return
	}
	w.Header().Set("Content-Type", m.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `attachment; filename=`+strconv.Quote(m.FileName))
	w.Header().Set("X-File-Digest", m.FileDigest)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
