package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	coreerrors "kaucja/core/errors"
	"kaucja/core/storage"
)

const (
	// ManifestFileName is the archive entry holding the bundle manifest.
	ManifestFileName = "bundle_manifest.json"
	// ManifestVersion tags the manifest document format.
	ManifestVersion = "v1"
)

// Signature is the keyed MAC over the canonical manifest bytes.
type Signature struct {
	Algorithm  string `json:"algorithm"`
	HMACSHA256 string `json:"hmac_sha256"`
}

// FileRecord describes one archived file. RelativePath is a forward-slash
// path relative to the run root.
type FileRecord struct {
	RelativePath string `json:"relative_path"`
	SizeBytes    int64  `json:"size_bytes"`
	SHA256       string `json:"sha256"`
}

// Manifest is the signable index of a run bundle. It covers every archived
// file except itself.
type Manifest struct {
	Version   string       `json:"version"`
	RunID     string       `json:"run_id"`
	SessionID string       `json:"session_id"`
	Files     []FileRecord `json:"files"`
	Signature *Signature   `json:"signature,omitempty"`
}

// CollectTree walks the artifact tree in path-sorted order and returns the
// content of every regular file. The root must exist, be a directory and
// not a symlink; symlinks anywhere in the tree and paths resolving outside
// the root abort the whole collection.
func CollectTree(root string) ([]File, error) {
	info, err := os.Lstat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerrors.Wrap(fmt.Errorf("artifacts root not found: %s", root), coreerrors.CodeExportNotFound, "")
		}
		return nil, fmt.Errorf("stat artifacts root: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, coreerrors.New(coreerrors.CodeExportUnsafePath, "artifacts root must not be a symlink: "+root)
	}
	if !info.IsDir() {
		return nil, coreerrors.New(coreerrors.CodeExportNotADirectory, "artifacts root is not a directory: "+root)
	}

	resolvedRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts root: %w", err)
	}

	var files []File
	walkErr := filepath.WalkDir(resolvedRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type()&os.ModeSymlink != 0 {
			return coreerrors.New(coreerrors.CodeExportUnsafePath, "refusing to export symlinked path: "+path)
		}
		if entry.IsDir() {
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		relative, err := filepath.Rel(resolvedRoot, path)
		if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
			return coreerrors.New(coreerrors.CodeExportUnsafePath, "path traversal attempt detected: "+path)
		}
		data, err := os.ReadFile(path) // #nosec G304 -- path comes from walking the caller-provided root
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, File{
			Path: filepath.ToSlash(relative),
			Data: data,
			Mode: 0o644,
		})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if len(files) == 0 {
		return nil, coreerrors.New(coreerrors.CodeExportEmptyTree, "artifacts root contains no files to export: "+root)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// BuildManifestFromFiles assembles the unsigned manifest for an already
// collected tree. Identity is resolved from the run descriptor when
// present, otherwise inferred from the sessions/<id>/runs/<id> path shape.
func BuildManifestFromFiles(root string, files []File) Manifest {
	manifest := Manifest{Version: ManifestVersion, Files: make([]FileRecord, 0, len(files))}
	for _, file := range files {
		sum := sha256.Sum256(file.Data)
		manifest.Files = append(manifest.Files, FileRecord{
			RelativePath: file.Path,
			SizeBytes:    int64(len(file.Data)),
			SHA256:       hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(manifest.Files, func(i, j int) bool {
		return manifest.Files[i].RelativePath < manifest.Files[j].RelativePath
	})

	manifest.RunID, manifest.SessionID = resolveIdentity(root, files)
	return manifest
}

// BuildManifest collects the tree and assembles the unsigned manifest.
func BuildManifest(root string) (Manifest, error) {
	files, err := CollectTree(root)
	if err != nil {
		return Manifest{}, err
	}
	return BuildManifestFromFiles(root, files), nil
}

func resolveIdentity(root string, files []File) (runID, sessionID string) {
	for _, file := range files {
		if file.Path != storage.RunDescriptorFileName {
			continue
		}
		var descriptor struct {
			RunID     string `json:"run_id"`
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(file.Data, &descriptor); err == nil {
			runID = strings.TrimSpace(descriptor.RunID)
			sessionID = strings.TrimSpace(descriptor.SessionID)
		}
		break
	}

	resolved, err := filepath.Abs(root)
	if err != nil {
		resolved = root
	}
	if runID == "" {
		runID = filepath.Base(resolved)
	}
	if sessionID == "" {
		// data/sessions/<session_id>/runs/<run_id>
		runsDir := filepath.Dir(resolved)
		sessionDir := filepath.Dir(runsDir)
		if filepath.Base(runsDir) == "runs" && filepath.Base(filepath.Dir(sessionDir)) == "sessions" {
			sessionID = filepath.Base(sessionDir)
		}
	}
	return runID, sessionID
}
