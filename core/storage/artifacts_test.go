package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateRunArtifacts(test *testing.T) {
	manager := NewArtifactsManager(test.TempDir())

	artifacts, err := manager.CreateRunArtifacts("sess-1", "run-1")
	if err != nil {
		test.Fatalf("create run artifacts: %v", err)
	}
	if artifacts.ArtifactsRootPath != manager.RunRoot("sess-1", "run-1") {
		test.Fatalf("root = %s", artifacts.ArtifactsRootPath)
	}
	info, err := os.Stat(artifacts.RunLogPath)
	if err != nil {
		test.Fatalf("run log missing: %v", err)
	}
	if info.IsDir() {
		test.Fatalf("run log is a directory")
	}
}

func TestCreateDocumentArtifacts(test *testing.T) {
	manager := NewArtifactsManager(test.TempDir())
	root := manager.RunRoot("sess-1", "run-1")

	document, err := manager.CreateDocumentArtifacts(root, "0000001")
	if err != nil {
		test.Fatalf("create document artifacts: %v", err)
	}
	for _, dir := range []string{
		document.OriginalDir,
		document.PagesDir,
		document.TablesDir,
		document.ImagesDir,
		document.PageRendersDir,
	} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			test.Fatalf("document dir missing: %s (%v)", dir, err)
		}
	}
	if filepath.Dir(document.CombinedMarkdown) != document.OCRDir {
		test.Fatalf("combined markdown not under ocr dir: %s", document.CombinedMarkdown)
	}
}

func TestCreateLLMArtifacts(test *testing.T) {
	manager := NewArtifactsManager(test.TempDir())
	root := manager.RunRoot("sess-1", "run-1")

	llm, err := manager.CreateLLMArtifacts(root)
	if err != nil {
		test.Fatalf("create llm artifacts: %v", err)
	}
	if info, err := os.Stat(llm.LLMDir); err != nil || !info.IsDir() {
		test.Fatalf("llm dir missing: %v", err)
	}
	if filepath.Base(llm.ResponseParsedPath) != ResponseParsedName {
		test.Fatalf("parsed response path = %s", llm.ResponseParsedPath)
	}
	if filepath.Base(llm.ValidationPath) != ValidationName {
		test.Fatalf("validation path = %s", llm.ValidationPath)
	}
}
