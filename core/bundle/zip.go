package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// deterministicTimestamp pins every archive entry's mtime so two exports of
// identical content are byte-identical.
var deterministicTimestamp = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// File is one in-memory archive entry.
type File struct {
	Path string
	Data []byte
	Mode os.FileMode
}

// WriteDeterministicZip writes files as a deflate-compressed zip with
// sorted forward-slash paths and pinned timestamps. Duplicate paths are an
// error.
func WriteDeterministicZip(writer io.Writer, files []File) error {
	sorted := append([]File{}, files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	seen := make(map[string]bool, len(sorted))
	zipWriter := zip.NewWriter(writer)
	for _, file := range sorted {
		if file.Path == "" {
			return fmt.Errorf("zip entry has empty path")
		}
		if seen[file.Path] {
			return fmt.Errorf("duplicate zip entry path: %s", file.Path)
		}
		seen[file.Path] = true

		header := &zip.FileHeader{
			Name:     file.Path,
			Method:   zip.Deflate,
			Modified: deterministicTimestamp,
		}
		mode := file.Mode
		if mode == 0 {
			mode = 0o644
		}
		header.SetMode(mode)
		entryWriter, err := zipWriter.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create zip entry %s: %w", file.Path, err)
		}
		if _, err := entryWriter.Write(file.Data); err != nil {
			return fmt.Errorf("write zip entry %s: %w", file.Path, err)
		}
	}
	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	return nil
}
