// Package server provides the HTTP boundary for the audio split API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// SplitRequest is the HTTP request body for splitting a session's source file.
type SplitRequest struct {
	// Target is the requested segment size in the given unit.
	Target float64 `json:"target" validate:"required,gt=0"`
	// Unit selects how Target is interpreted.
	Unit string `json:"unit" validate:"required,oneof=seconds megabytes"`
}

// UploadResponse is the HTTP response after a completed upload.
type UploadResponse struct {
	// SessionID identifies the created session.
	SessionID string `json:"session_id"`
	// Filename is the sanitized original filename.
	Filename string `json:"filename"`
	// Size is the received file size in bytes.
	Size int64 `json:"size"`
	// Format is the detected audio format.
	Format string `json:"format"`
	// State is the initial session state.
	State string `json:"state"`
}

// ChunkResponse is the HTTP response for a chunk that did not complete the upload.
type ChunkResponse struct {
	Complete       bool `json:"complete"`
	ChunksReceived int  `json:"chunks_received"`
	TotalChunks    int  `json:"total_chunks"`
}

// ChunkCompleteResponse is the HTTP response for the final chunk.
type ChunkCompleteResponse struct {
	Complete bool `json:"complete"`
	UploadResponse
}

// SegmentResponse describes one produced segment.
type SegmentResponse struct {
	Index        int     `json:"index"`
	Filename     string  `json:"filename"`
	Size         int64   `json:"size"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Downloads    int     `json:"downloads"`
}

// SessionResponse is the HTTP response for session details.
type SessionResponse struct {
	ID       string            `json:"id"`
	State    string            `json:"state"`
	Filename string            `json:"filename"`
	Size     int64             `json:"size"`
	Format   string            `json:"format"`
	Error    string            `json:"error,omitempty"`
	Segments []SegmentResponse `json:"segments,omitempty"`
}

// SplitResponse is the HTTP response after a completed split.
type SplitResponse struct {
	SessionID         string            `json:"session_id"`
	State             string            `json:"state"`
	SegmentCount      int               `json:"segment_count"`
	TotalSizeBytes    int64             `json:"total_size_bytes"`
	ProcessingSeconds float64           `json:"processing_seconds"`
	Segments          []SegmentResponse `json:"segments"`
}

// ConfigResponse exposes the limits a client needs before uploading.
type ConfigResponse struct {
	MaxUploadBytes int64    `json:"max_upload_bytes"`
	MaxUploadMB    int      `json:"max_upload_mb"`
	AllowedFormats []string `json:"allowed_formats"`
}

// ArchiveUploadResponse is the HTTP response when the bundled archive is
// pushed to external storage instead of streamed.
type ArchiveUploadResponse struct {
	URL string `json:"url"`
}

// CleanupResponse is the HTTP response for cleanup requests.
type CleanupResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
