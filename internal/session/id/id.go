// Package id provides opaque session identifier generation.
//
// The identifier is the sole capability token for downloading and deleting a
// session's files, so it is derived from crypto/rand only: never sequential,
// never from filenames or timestamps.
package id

import (
	"crypto/rand"
	"encoding/base64"
)

// tokenBytes gives 256 bits of entropy, matching a 43-character URL-safe token.
const tokenBytes = 32

// Generate creates a new unguessable session ID of 43 URL-safe characters.
func Generate() string {
	b := make([]byte, tokenBytes)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
