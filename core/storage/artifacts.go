package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Artifact tree layout constants. Restore and export both key off these
// names; changing any of them is a bundle-format change.
const (
	RunDescriptorFileName = "run.json"
	LogsDirName           = "logs"
	DocumentsDirName      = "documents"
	LLMDirName            = "llm"
	RunLogFileName        = "run.log"
	CombinedMarkdownName  = "combined.md"
	ResponseParsedName    = "response_parsed.json"
	ValidationName        = "validation.json"
)

type RunArtifacts struct {
	ArtifactsRootPath string
	LogsDir           string
	RunLogPath        string
}

type DocumentArtifacts struct {
	DocID            string
	DocumentRootPath string
	OriginalDir      string
	OCRDir           string
	PagesDir         string
	TablesDir        string
	ImagesDir        string
	PageRendersDir   string
	CombinedMarkdown string
	RawResponsePath  string
	QualityPath      string
}

type LLMArtifacts struct {
	LLMDir             string
	RequestPath        string
	ResponseRawPath    string
	ResponseParsedPath string
	ValidationPath     string
}

// ArtifactsManager resolves and creates the canonical per-run directory
// layout under a data directory.
type ArtifactsManager struct {
	DataDir string
}

func NewArtifactsManager(dataDir string) *ArtifactsManager {
	return &ArtifactsManager{DataDir: dataDir}
}

// RunRoot returns data_dir/sessions/<session_id>/runs/<run_id>.
func (m *ArtifactsManager) RunRoot(sessionID, runID string) string {
	return filepath.Join(m.DataDir, "sessions", sessionID, "runs", runID)
}

func (m *ArtifactsManager) CreateRunArtifacts(sessionID, runID string) (RunArtifacts, error) {
	return m.EnsureRunStructure(m.RunRoot(sessionID, runID))
}

func (m *ArtifactsManager) EnsureRunStructure(artifactsRootPath string) (RunArtifacts, error) {
	logsDir := filepath.Join(artifactsRootPath, LogsDirName)
	if err := os.MkdirAll(logsDir, 0o750); err != nil {
		return RunArtifacts{}, fmt.Errorf("create logs directory: %w", err)
	}
	runLogPath := filepath.Join(logsDir, RunLogFileName)
	handle, err := os.OpenFile(runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- path built from managed layout
	if err != nil {
		return RunArtifacts{}, fmt.Errorf("create run log: %w", err)
	}
	if err := handle.Close(); err != nil {
		return RunArtifacts{}, fmt.Errorf("close run log: %w", err)
	}
	return RunArtifacts{
		ArtifactsRootPath: artifactsRootPath,
		LogsDir:           logsDir,
		RunLogPath:        runLogPath,
	}, nil
}

func (m *ArtifactsManager) CreateDocumentArtifacts(artifactsRootPath, docID string) (DocumentArtifacts, error) {
	documentRoot := filepath.Join(artifactsRootPath, DocumentsDirName, docID)
	originalDir := filepath.Join(documentRoot, "original")
	ocrDir := filepath.Join(documentRoot, "ocr")
	pagesDir := filepath.Join(ocrDir, "pages")
	tablesDir := filepath.Join(ocrDir, "tables")
	imagesDir := filepath.Join(ocrDir, "images")
	pageRendersDir := filepath.Join(ocrDir, "page_renders")

	for _, dir := range []string{originalDir, pagesDir, tablesDir, imagesDir, pageRendersDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return DocumentArtifacts{}, fmt.Errorf("create document directory %s: %w", dir, err)
		}
	}

	return DocumentArtifacts{
		DocID:            docID,
		DocumentRootPath: documentRoot,
		OriginalDir:      originalDir,
		OCRDir:           ocrDir,
		PagesDir:         pagesDir,
		TablesDir:        tablesDir,
		ImagesDir:        imagesDir,
		PageRendersDir:   pageRendersDir,
		CombinedMarkdown: filepath.Join(ocrDir, CombinedMarkdownName),
		RawResponsePath:  filepath.Join(ocrDir, "raw_response.json"),
		QualityPath:      filepath.Join(ocrDir, "quality.json"),
	}, nil
}

func (m *ArtifactsManager) CreateLLMArtifacts(artifactsRootPath string) (LLMArtifacts, error) {
	llmDir := filepath.Join(artifactsRootPath, LLMDirName)
	if err := os.MkdirAll(llmDir, 0o750); err != nil {
		return LLMArtifacts{}, fmt.Errorf("create llm directory: %w", err)
	}
	return LLMArtifacts{
		LLMDir:             llmDir,
		RequestPath:        filepath.Join(llmDir, "request.txt"),
		ResponseRawPath:    filepath.Join(llmDir, "response_raw.txt"),
		ResponseParsedPath: filepath.Join(llmDir, ResponseParsedName),
		ValidationPath:     filepath.Join(llmDir, ValidationName),
	}, nil
}
