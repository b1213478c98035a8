package upload

import "errors"

// Static errors for upload validation and chunk reassembly.
// All validation errors are raised before any session exists.
var (
	// ErrInvalidFilename is returned when the filename sanitizes to nothing.
	ErrInvalidFilename = errors.New("upload: invalid filename")
	// ErrInvalidFileType is returned when the extension or content signature
	// is not in the allowed audio set.
	ErrInvalidFileType = errors.New("upload: file type not allowed")
	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = errors.New("upload: file is empty")
	// ErrFileTooLarge is returned when an upload exceeds the configured maximum.
	ErrFileTooLarge = errors.New("upload: file exceeds maximum size")
	// ErrIncompleteUpload is returned when the reassembled size does not
	// match the declared total size.
	ErrIncompleteUpload = errors.New("upload: reassembled size does not match declared size")
	// ErrConcurrentUpload is returned when two chunks for the same upload
	// key are processed at the same time.
	ErrConcurrentUpload = errors.New("upload: concurrent chunk for the same upload")
	// ErrChunkOutOfOrder is returned when a chunk index does not follow the
	// strictly increasing order the protocol requires.
	ErrChunkOutOfOrder = errors.New("upload: chunk index out of order")
)
