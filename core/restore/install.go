package restore

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"kaucja/core/bundle"
	coreerrors "kaucja/core/errors"
	"kaucja/core/fsx"
)

// extractToTemp unpacks every file entry except the bundle manifest into a
// fresh temporary directory next to the final target. Containment is
// rechecked per entry against the temporary root, independently of the
// inspector's path screening.
func extractToTemp(entries []*zip.File, targetRoot string, limits SafetyLimits) (string, error) {
	parent := filepath.Dir(targetRoot)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", coreerrors.Wrap(fmt.Errorf("create restore parent directory: %w", err),
			coreerrors.CodeRestoreFSError, "")
	}
	tempRoot, err := os.MkdirTemp(parent, ".restore-*")
	if err != nil {
		return "", coreerrors.Wrap(fmt.Errorf("create restore staging directory: %w", err),
			coreerrors.CodeRestoreFSError, "")
	}

	for _, entry := range entries {
		normalized, err := safeEntryPath(entry.Name)
		if err != nil {
			return tempRoot, err
		}
		if normalized == bundle.ManifestFileName {
			continue
		}
		target := filepath.Join(tempRoot, filepath.FromSlash(normalized))
		if !fsx.IsWithin(tempRoot, target) {
			return tempRoot, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
				fmt.Sprintf("archive entry %q escapes the staging directory", entry.Name))
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return tempRoot, coreerrors.Wrap(fmt.Errorf("create directory for %s: %w", normalized, err),
				coreerrors.CodeRestoreFSError, "")
		}
		if err := extractEntry(entry, target, limits.MaxSingleFileBytes); err != nil {
			return tempRoot, err
		}
	}
	return tempRoot, nil
}

func extractEntry(entry *zip.File, target string, maxBytes int64) error {
	reader, err := entry.Open()
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("open archive entry %s: %w", entry.Name, err),
			coreerrors.CodeRestoreInvalidArchive, "")
	}
	defer func() {
		_ = reader.Close()
	}()

	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) // #nosec G304 -- target is containment-checked above
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("create %s: %w", target, err),
			coreerrors.CodeRestoreFSError, "")
	}
	written, copyErr := io.Copy(file, io.LimitReader(reader, maxBytes+1))
	closeErr := file.Close()
	if copyErr != nil {
		return coreerrors.Wrap(fmt.Errorf("write %s: %w", target, copyErr),
			coreerrors.CodeRestoreFSError, "")
	}
	if closeErr != nil {
		return coreerrors.Wrap(fmt.Errorf("close %s: %w", target, closeErr),
			coreerrors.CodeRestoreFSError, "")
	}
	if written > maxBytes {
		return coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			fmt.Sprintf("archive entry %q exceeds max_single_file_bytes while extracting", entry.Name))
	}
	return nil
}

// installRun moves the staged tree into its final location. The target must
// not exist; the caller resolves overwrite policy beforehand.
func installRun(tempRoot, targetRoot string) error {
	if err := fsx.MoveDir(tempRoot, targetRoot); err != nil {
		return coreerrors.Wrap(fmt.Errorf("install restored run at %s: %w", targetRoot, err),
			coreerrors.CodeRestoreFSError, "")
	}
	return nil
}

// rollbackInstall removes an installed target root after a metadata
// failure. Removal stays confined to the data root.
func rollbackInstall(dataRoot, targetRoot string) bool {
	return fsx.RemoveTreeWithin(dataRoot, targetRoot) == nil
}

func cleanupTemp(tempRoot string) {
	if tempRoot != "" {
		_ = os.RemoveAll(tempRoot)
	}
}
