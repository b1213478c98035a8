package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/audiosplit/audiosplit-api/internal/session"
	"github.com/audiosplit/audiosplit-api/internal/split"
	"github.com/audiosplit/audiosplit-api/internal/storage"
	"github.com/audiosplit/audiosplit-api/internal/upload"
)

// multipartMemory bounds how much of a multipart form is held in memory;
// larger parts spill to disk.
const multipartMemory = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	sessions       *session.Service
	uploads        *upload.Assembler
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sessions *session.Service, uploads *upload.Assembler, maxUploadBytes int64, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		sessions:       sessions,
		uploads:        uploads,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// GetConfig handles GET /config requests. It exposes the upload limits so
// the client can reject oversized files before transferring them.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ConfigResponse{
		MaxUploadBytes: h.maxUploadBytes,
		MaxUploadMB:    int(h.maxUploadBytes / (1024 * 1024)),
		AllowedFormats: upload.AllowedFormats(),
	})
}

// Upload handles POST /upload requests: the single-shot upload path.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	// Body cap: upload size plus some slack for the multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartMemory)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeUploadParseError(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file in request", "MISSING_FILE")
		return
	}
	defer func() { _ = file.Close() }()

	up, err := h.uploads.SaveDirect(r.Context(), header.Filename, file)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	sess, err := h.createSession(r.Context(), up)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse(sess))
}

// UploadChunk handles POST /upload-chunk requests: the chunked upload path
// for large files. The final chunk responds like a completed upload.
func (h *Handlers) UploadChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartMemory)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeUploadParseError(w, err)
		return
	}

	chunkIndex, err := strconv.Atoi(r.FormValue("chunkNumber"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chunkNumber", "INVALID_CHUNK_NUMBER")
		return
	}
	totalChunks, err := strconv.Atoi(r.FormValue("totalChunks"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid totalChunks", "INVALID_TOTAL_CHUNKS")
		return
	}
	declaredSize, err := strconv.ParseInt(r.FormValue("fileSize"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fileSize", "INVALID_FILE_SIZE")
		return
	}
	filename := r.FormValue("filename")

	chunk, _, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no chunk in request", "MISSING_CHUNK")
		return
	}
	defer func() { _ = chunk.Close() }()

	result, err := h.uploads.Receive(r.Context(), filename, chunkIndex, totalChunks, declaredSize, chunk)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if !result.Complete {
		writeJSON(w, http.StatusOK, ChunkResponse{
			Complete:       false,
			ChunksReceived: result.Received,
			TotalChunks:    result.Total,
		})
		return
	}

	sess, err := h.createSession(r.Context(), result.File)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ChunkCompleteResponse{
		Complete:       true,
		UploadResponse: uploadResponse(sess),
	})
}

// createSession is the shared tail of both upload paths.
func (h *Handlers) createSession(ctx context.Context, up *upload.File) (*session.Session, error) {
	sess, err := h.sessions.CreateFromUpload(ctx, up)
	if err != nil {
		h.uploads.Discard(up)
		return nil, err
	}
	return sess, nil
}

// GetSession handles GET /sessions/{id} requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

// Split handles POST /sessions/{id}/split requests.
func (h *Handlers) Split(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req SplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	sess, err := h.sessions.Split(r.Context(), sessionID, req.Target, split.Unit(req.Unit))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	var totalSize int64
	segments := make([]SegmentResponse, len(sess.Segments))
	for i, seg := range sess.Segments {
		totalSize += seg.Size
		segments[i] = segmentResponse(seg)
	}

	writeJSON(w, http.StatusOK, SplitResponse{
		SessionID:         sess.ID,
		State:             string(sess.State),
		SegmentCount:      len(segments),
		TotalSizeBytes:    totalSize,
		ProcessingSeconds: sess.ProcessingSec,
		Segments:          segments,
	})
}

// DownloadSegment handles GET /sessions/{id}/segments/{index} requests.
func (h *Handlers) DownloadSegment(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid segment index", "INVALID_SEGMENT_INDEX")
		return
	}

	seg, err := h.sessions.DownloadSegment(r.Context(), sessionID, index)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+seg.DownloadName+`"`)
	http.ServeFile(w, r, seg.Path)
}

// DownloadArchive handles GET /sessions/{id}/archive requests. The default
// is a streamed zip of all segments; ?push=s3 uploads the archive instead
// and returns its URL. A completed streamed download triggers best-effort
// cleanup of the session.
func (h *Handlers) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if r.URL.Query().Get("push") == "s3" {
		url, err := h.sessions.PushArchive(r.Context(), sessionID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ArchiveUploadResponse{URL: url})
		return
	}

	archive, err := h.sessions.Archive(r.Context(), sessionID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+archive.Name+`"`)

	if err := h.sessions.WriteArchive(r.Context(), sessionID, archive, w); err != nil {
		// Headers are gone; all we can do is log and cut the stream.
		h.logger.Error("archive streaming failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	// The bundled download completed; the session has served its purpose.
	go func(ctx context.Context) {
		if err := h.sessions.Cleanup(ctx, sessionID); err != nil {
			h.logger.Warn("post-download cleanup failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}(context.WithoutCancel(r.Context()))
}

// DeleteSession handles DELETE /sessions/{id} requests.
// Unlike the page-unload cleanup, an unknown session is reported.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Status: "deleted"})
}

// CleanupSession handles POST /sessions/{id}/cleanup requests: the
// best-effort page-unload signal. Always succeeds, even for sessions that
// are already gone.
func (h *Handlers) CleanupSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Cleanup(r.Context(), r.PathValue("id")); err != nil {
		h.logger.Warn("cleanup failed",
			slog.String("session_id", r.PathValue("id")),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Status: "ok"})
}

// writeUploadParseError distinguishes an oversized body from a malformed one.
func (h *Handlers) writeUploadParseError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the maximum upload size", "FILE_TOO_LARGE")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
}

// writeDomainError maps domain errors to HTTP status codes and stable error
// codes. Unexpected failures become a generic 500 with full detail in the
// server log only.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrInvalidFilename):
		writeError(w, http.StatusBadRequest, "invalid filename", "INVALID_FILENAME")
	case errors.Is(err, upload.ErrInvalidFileType):
		writeError(w, http.StatusBadRequest, "unsupported audio format", "INVALID_FILE_TYPE")
	case errors.Is(err, upload.ErrEmptyFile):
		writeError(w, http.StatusBadRequest, "uploaded file is empty", "EMPTY_FILE")
	case errors.Is(err, upload.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the maximum upload size", "FILE_TOO_LARGE")
	case errors.Is(err, upload.ErrIncompleteUpload):
		writeError(w, http.StatusBadRequest, "upload incomplete: size mismatch", "INCOMPLETE_UPLOAD")
	case errors.Is(err, upload.ErrConcurrentUpload):
		writeError(w, http.StatusConflict, "another chunk of this upload is being processed", "CONCURRENT_UPLOAD")
	case errors.Is(err, upload.ErrChunkOutOfOrder):
		writeError(w, http.StatusBadRequest, "chunk out of order", "CHUNK_OUT_OF_ORDER")
	case errors.Is(err, split.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, "segment target must be positive", "INVALID_TARGET")
	case errors.Is(err, split.ErrInvalidUnit):
		writeError(w, http.StatusBadRequest, "unit must be seconds or megabytes", "INVALID_UNIT")
	case errors.Is(err, split.ErrTargetTooLarge):
		writeError(w, http.StatusBadRequest, "segment target exceeds the allowed maximum", "TARGET_TOO_LARGE")
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, "a split is already running for this session", "SESSION_BUSY")
	case errors.Is(err, session.ErrNotCompleted):
		writeError(w, http.StatusConflict, "no completed split for this session", "SPLIT_NOT_COMPLETED")
	case errors.Is(err, session.ErrSegmentOutOfRange):
		writeError(w, http.StatusNotFound, "segment not found", "SEGMENT_NOT_FOUND")
	case errors.Is(err, storage.ErrS3NotConfigured):
		writeError(w, http.StatusBadRequest, "archive push is not configured", "S3_NOT_CONFIGURED")
	default:
		var encErr *split.EncodingError
		if errors.As(err, &encErr) {
			writeError(w, http.StatusInternalServerError, "audio processing failed", "ENCODING_FAILED")
			return
		}
		h.logger.Error("unexpected error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

func uploadResponse(sess *session.Session) UploadResponse {
	return UploadResponse{
		SessionID: sess.ID,
		Filename:  sess.Source.Name,
		Size:      sess.Source.Size,
		Format:    sess.Source.Format,
		State:     string(sess.State),
	}
}

func sessionResponse(sess *session.Session) SessionResponse {
	resp := SessionResponse{
		ID:       sess.ID,
		State:    string(sess.State),
		Filename: sess.Source.Name,
		Size:     sess.Source.Size,
		Format:   sess.Source.Format,
		Error:    sess.Error,
	}
	for _, seg := range sess.Segments {
		resp.Segments = append(resp.Segments, segmentResponse(seg))
	}
	return resp
}

func segmentResponse(seg session.Segment) SegmentResponse {
	return SegmentResponse{
		Index:        seg.Index,
		Filename:     seg.DownloadName,
		Size:         seg.Size,
		StartSeconds: seg.StartSec,
		EndSeconds:   seg.EndSec,
		Downloads:    seg.Downloads,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
