package bundle

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"kaucja/core/fsx"
)

// ExportOptions configures one run-bundle export.
type ExportOptions struct {
	// ArtifactsRoot is the run's artifact tree root.
	ArtifactsRoot string
	// OutputDir receives the archive; empty means the run root's parent.
	OutputDir string
	// SigningKey, when non-empty, signs the bundle manifest.
	SigningKey string
}

// ExportRunBundle serializes a run's artifact tree into a deterministic
// signed archive named <run_id>_bundle.zip and returns the archive path.
func ExportRunBundle(options ExportOptions) (string, error) {
	resolvedRoot, err := filepath.Abs(options.ArtifactsRoot)
	if err != nil {
		return "", fmt.Errorf("resolve artifacts root: %w", err)
	}

	files, err := CollectTree(resolvedRoot)
	if err != nil {
		return "", err
	}
	manifest := BuildManifestFromFiles(resolvedRoot, files)
	manifest, err = Sign(manifest, options.SigningKey)
	if err != nil {
		return "", err
	}
	manifestBytes, err := MarshalManifest(manifest)
	if err != nil {
		return "", err
	}
	files = append(files, File{Path: ManifestFileName, Data: manifestBytes, Mode: 0o644})

	var buffer bytes.Buffer
	if err := WriteDeterministicZip(&buffer, files); err != nil {
		return "", fmt.Errorf("write bundle zip: %w", err)
	}

	destinationDir := options.OutputDir
	if destinationDir == "" {
		destinationDir = filepath.Dir(resolvedRoot)
	}
	if err := os.MkdirAll(destinationDir, 0o750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	archivePath := filepath.Join(destinationDir, manifest.RunID+"_bundle.zip")
	if err := fsx.WriteFileAtomic(archivePath, buffer.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("write bundle: %w", err)
	}
	return archivePath, nil
}
