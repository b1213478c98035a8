package upload

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// allowedAudioFormats maps accepted extensions to the MIME types their
// content may legitimately carry.
var allowedAudioFormats = map[string][]string{
	"mp3":  {"audio/mpeg", "audio/mp3"},
	"wav":  {"audio/wav", "audio/wave", "audio/x-wav"},
	"ogg":  {"audio/ogg", "application/ogg"},
	"m4a":  {"audio/mp4", "audio/x-m4a", "audio/m4a"},
	"flac": {"audio/flac", "audio/x-flac"},
	"aac":  {"audio/aac", "audio/x-aac"},
	"wma":  {"audio/x-ms-wma", "video/x-ms-asf"},
}

// AllowedFormats returns the accepted extensions in sorted order.
func AllowedFormats() []string {
	formats := make([]string, 0, len(allowedAudioFormats))
	for ext := range allowedAudioFormats {
		formats = append(formats, ext)
	}
	sort.Strings(formats)
	return formats
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SanitizeFilename reduces a user-supplied filename to a safe form: the base
// name only, with anything outside [A-Za-z0-9_.-] collapsed to underscores.
// The result is used solely for names offered at download time; stored paths
// never embed it. Returns ErrInvalidFilename when nothing safe remains.
func SanitizeFilename(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" || !strings.Contains(base, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return base, nil
}

// FormatFromFilename returns the lowercase extension if it is in the allowed
// audio set, or ErrInvalidFileType.
func FormatFromFilename(name string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if _, ok := allowedAudioFormats[ext]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileType, ext)
	}
	return ext, nil
}

// verifySignature checks that the file content matches the claimed format.
// An unrecognized signature is tolerated (detection is best-effort, as some
// codecs inside permitted containers are not distinguishable); a positively
// identified mismatching type is rejected.
func verifySignature(path, format string) error {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		// Unreadable content is caught later by the probe.
		return nil
	}
	if detected.Is("application/octet-stream") {
		return nil
	}
	for _, allowed := range allowedAudioFormats[format] {
		if detected.Is(allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: content detected as %s, extension %q", ErrInvalidFileType, detected.String(), format)
}
