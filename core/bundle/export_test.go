package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	coreerrors "kaucja/core/errors"
)

func writeRunTree(test *testing.T) string {
	test.Helper()
	dataDir := test.TempDir()
	root := filepath.Join(dataDir, "sessions", "sess-1", "runs", "run-1")
	for _, dir := range []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "documents", "0000001", "ocr"),
		filepath.Join(root, "llm"),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			test.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	files := []struct {
		name    string
		content string
	}{
		{"run.json", `{"session_id":"sess-1","run_id":"run-1","status":"completed"}`},
		{filepath.Join("logs", "run.log"), "log line\n"},
		{filepath.Join("documents", "0000001", "ocr", "combined.md"), "combined"},
		{filepath.Join("llm", "response_parsed.json"), "{}"},
	}
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(root, file.name), []byte(file.content), 0o600); err != nil {
			test.Fatalf("write %s: %v", file.name, err)
		}
	}
	return root
}

func TestExportRunBundleDeterministic(test *testing.T) {
	root := writeRunTree(test)
	outputA := test.TempDir()
	outputB := test.TempDir()

	pathA, err := ExportRunBundle(ExportOptions{ArtifactsRoot: root, OutputDir: outputA, SigningKey: "secret"})
	if err != nil {
		test.Fatalf("export first bundle: %v", err)
	}
	pathB, err := ExportRunBundle(ExportOptions{ArtifactsRoot: root, OutputDir: outputB, SigningKey: "secret"})
	if err != nil {
		test.Fatalf("export second bundle: %v", err)
	}
	if filepath.Base(pathA) != "run-1_bundle.zip" {
		test.Fatalf("unexpected bundle name: %s", filepath.Base(pathA))
	}

	bytesA, err := os.ReadFile(pathA)
	if err != nil {
		test.Fatalf("read first bundle: %v", err)
	}
	bytesB, err := os.ReadFile(pathB)
	if err != nil {
		test.Fatalf("read second bundle: %v", err)
	}
	if !bytes.Equal(bytesA, bytesB) {
		test.Fatalf("two exports of the same tree differ")
	}
}

func TestExportRunBundleLayoutAndManifest(test *testing.T) {
	root := writeRunTree(test)
	output := test.TempDir()
	path, err := ExportRunBundle(ExportOptions{ArtifactsRoot: root, OutputDir: output, SigningKey: "secret"})
	if err != nil {
		test.Fatalf("export bundle: %v", err)
	}

	archive, err := zip.OpenReader(path)
	if err != nil {
		test.Fatalf("open bundle: %v", err)
	}
	defer func() {
		_ = archive.Close()
	}()

	wantNames := []string{
		"bundle_manifest.json",
		"documents/0000001/ocr/combined.md",
		"llm/response_parsed.json",
		"logs/run.log",
		"run.json",
	}
	if len(archive.File) != len(wantNames) {
		test.Fatalf("entry count = %d, want %d", len(archive.File), len(wantNames))
	}
	for index, entry := range archive.File {
		if entry.Name != wantNames[index] {
			test.Fatalf("entry[%d] = %s, want %s", index, entry.Name, wantNames[index])
		}
		modified := entry.Modified.UTC()
		if modified.Year() != 1980 || modified.Month() != 1 || modified.Day() != 1 {
			test.Fatalf("entry %s timestamp not pinned: %v", entry.Name, entry.Modified)
		}
		if entry.Method != zip.Deflate {
			test.Fatalf("entry %s not deflate-compressed", entry.Name)
		}
	}

	reader, err := archive.File[0].Open()
	if err != nil {
		test.Fatalf("open manifest entry: %v", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	var manifest Manifest
	if err := json.NewDecoder(reader).Decode(&manifest); err != nil {
		test.Fatalf("decode manifest: %v", err)
	}
	if manifest.Version != ManifestVersion {
		test.Fatalf("manifest version = %s, want %s", manifest.Version, ManifestVersion)
	}
	if manifest.RunID != "run-1" || manifest.SessionID != "sess-1" {
		test.Fatalf("manifest identity = %s/%s", manifest.SessionID, manifest.RunID)
	}
	if len(manifest.Files) != 4 {
		test.Fatalf("manifest covers %d files, want 4", len(manifest.Files))
	}
	for _, record := range manifest.Files {
		if record.RelativePath == ManifestFileName {
			test.Fatalf("manifest lists itself")
		}
		if len(record.SHA256) != 64 {
			test.Fatalf("manifest digest for %s has length %d", record.RelativePath, len(record.SHA256))
		}
	}
	if manifest.Signature == nil || manifest.Signature.Algorithm != AlgHMACSHA256 {
		test.Fatalf("manifest signature missing or wrong algorithm")
	}
}

func TestExportRunBundleUnsignedHasNoSignature(test *testing.T) {
	root := writeRunTree(test)
	path, err := ExportRunBundle(ExportOptions{ArtifactsRoot: root, OutputDir: test.TempDir()})
	if err != nil {
		test.Fatalf("export bundle: %v", err)
	}
	archive, err := zip.OpenReader(path)
	if err != nil {
		test.Fatalf("open bundle: %v", err)
	}
	defer func() {
		_ = archive.Close()
	}()
	reader, err := archive.File[0].Open()
	if err != nil {
		test.Fatalf("open manifest entry: %v", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	var manifest Manifest
	if err := json.NewDecoder(reader).Decode(&manifest); err != nil {
		test.Fatalf("decode manifest: %v", err)
	}
	if manifest.Signature != nil {
		test.Fatalf("unsigned export produced a signature")
	}
}

func TestCollectTreeErrors(test *testing.T) {
	if _, err := CollectTree(filepath.Join(test.TempDir(), "missing")); coreerrors.CodeOf(err) != coreerrors.CodeExportNotFound {
		test.Fatalf("missing root code = %s", coreerrors.CodeOf(err))
	}

	filePath := filepath.Join(test.TempDir(), "plain.txt")
	if err := os.WriteFile(filePath, []byte("x"), 0o600); err != nil {
		test.Fatalf("write file: %v", err)
	}
	if _, err := CollectTree(filePath); coreerrors.CodeOf(err) != coreerrors.CodeExportNotADirectory {
		test.Fatalf("non-directory code = %s", coreerrors.CodeOf(err))
	}

	emptyDir := test.TempDir()
	if _, err := CollectTree(emptyDir); coreerrors.CodeOf(err) != coreerrors.CodeExportEmptyTree {
		test.Fatalf("empty tree code = %s", coreerrors.CodeOf(err))
	}
}

func TestCollectTreeRejectsSymlink(test *testing.T) {
	root := test.TempDir()
	if err := os.WriteFile(filepath.Join(root, "real.txt"), []byte("x"), 0o600); err != nil {
		test.Fatalf("write file: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		test.Skipf("symlink not supported: %v", err)
	}
	if _, err := CollectTree(root); coreerrors.CodeOf(err) != coreerrors.CodeExportUnsafePath {
		test.Fatalf("symlink code = %s", coreerrors.CodeOf(err))
	}
}
