package storage

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
)

// ArchiveEntry names one file to include in a bundled archive.
type ArchiveEntry struct {
	// Path is the stored location of the file.
	Path string
	// Name is the filename the entry carries inside the archive.
	Name string
}

// WriteArchive streams a zip archive of the given entries to w.
// Entries use Deflate so already-compressed audio still shrinks slightly
// and the archive stays readable by every client.
func WriteArchive(w io.Writer, entries []ArchiveEntry) error {
	zw := zip.NewWriter(w)

	for _, entry := range entries {
		if err := writeEntry(zw, entry); err != nil {
			_ = zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, entry ArchiveEntry) error {
	f, err := os.Open(entry.Path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
	}
	defer func() { _ = f.Close() }()

	dst, err := zw.Create(entry.Name)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", entry.Name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("write archive entry %s: %w", entry.Name, err)
	}
	return nil
}
