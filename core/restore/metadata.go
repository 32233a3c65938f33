package restore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	coreerrors "kaucja/core/errors"
	"kaucja/core/storage"
)

// reconstructMetadata rebuilds the relational rows for a restored run from
// the descriptor and the installed artifact tree. Everything happens inside
// one transaction, so a failure leaves the database untouched.
func reconstructMetadata(repo Repository, descriptor runDescriptor, targetRoot string) ([]string, error) {
	var warnings []string
	err := repo.RestoreTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO sessions (session_id, created_at) VALUES (?, ?)`,
			descriptor.SessionID, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if err := upsertRun(tx, descriptor, targetRoot); err != nil {
			return err
		}
		documentWarnings, err := rebuildDocuments(tx, descriptor, targetRoot)
		if err != nil {
			return err
		}
		warnings = append(warnings, documentWarnings...)
		llmWarnings, err := rebuildLLMOutput(tx, descriptor.RunID, targetRoot)
		if err != nil {
			return err
		}
		warnings = append(warnings, llmWarnings...)
		return nil
	})
	if err != nil {
		return warnings, coreerrors.Wrap(fmt.Errorf("reconstruct run metadata: %w", err),
			coreerrors.CodeRestoreDBError, "")
	}
	return warnings, nil
}

func upsertRun(tx *sql.Tx, descriptor runDescriptor, targetRoot string) error {
	if _, err := tx.Exec(
		`INSERT INTO runs (
			run_id, session_id, created_at, provider, model,
			openai_reasoning_effort, gemini_thinking_level,
			prompt_name, prompt_version, schema_version, status,
			error_code, error_message,
			timings_json, usage_json, usage_normalized_json, cost_json,
			artifacts_root_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			session_id = excluded.session_id,
			created_at = excluded.created_at,
			provider = excluded.provider,
			model = excluded.model,
			openai_reasoning_effort = excluded.openai_reasoning_effort,
			gemini_thinking_level = excluded.gemini_thinking_level,
			prompt_name = excluded.prompt_name,
			prompt_version = excluded.prompt_version,
			schema_version = excluded.schema_version,
			status = excluded.status,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			timings_json = excluded.timings_json,
			usage_json = excluded.usage_json,
			usage_normalized_json = excluded.usage_normalized_json,
			cost_json = excluded.cost_json,
			artifacts_root_path = excluded.artifacts_root_path`,
		descriptor.RunID, descriptor.SessionID, descriptor.CreatedAt,
		descriptor.Provider, descriptor.Model,
		descriptor.OpenAIReasoningEffort, descriptor.GeminiThinkingLevel,
		descriptor.PromptName, descriptor.PromptVersion, descriptor.SchemaVersion,
		string(descriptor.Status), descriptor.ErrorCode, descriptor.ErrorMessage,
		descriptor.TimingsJSON, descriptor.UsageJSON, descriptor.UsageNormalizedJSON,
		descriptor.CostJSON, targetRoot,
	); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

func rebuildDocuments(tx *sql.Tx, descriptor runDescriptor, targetRoot string) ([]string, error) {
	if _, err := tx.Exec(`DELETE FROM documents WHERE run_id = ?`, descriptor.RunID); err != nil {
		return nil, fmt.Errorf("clear documents: %w", err)
	}

	documents := descriptor.Documents
	var warnings []string
	if len(documents) == 0 {
		inferred, err := inferDocuments(targetRoot)
		if err != nil {
			return nil, err
		}
		documents = inferred
	}

	for _, document := range documents {
		documentRoot := filepath.Join(targetRoot, storage.DocumentsDirName, document.DocID)
		ocrArtifactsPath := filepath.Join(documentRoot, "ocr")

		originalFilename, originalPath, found := findOriginalFile(documentRoot, document.DocID)
		if !found {
			warnings = append(warnings, "Original file not found for doc_id="+document.DocID)
		}

		ocrStatus := document.OCRStatus
		if !storage.ValidOCRStatus(ocrStatus) {
			if ocrStatus != "" {
				warnings = append(warnings, fmt.Sprintf(
					"document %s has invalid ocr_status %q; assuming ok", document.DocID, ocrStatus))
			}
			ocrStatus = string(storage.OCRStatusOK)
		}

		pagesCount := document.PagesCount
		if pagesCount == nil {
			pagesCount = countOCRPages(ocrArtifactsPath)
		}

		var originalMime *string
		if extension := filepath.Ext(originalFilename); extension != "" {
			if mediaType := mime.TypeByExtension(extension); mediaType != "" {
				originalMime = &mediaType
			}
		}
		ocrModel := descriptor.OCRModel

		if _, err := tx.Exec(
			`INSERT INTO documents (
				run_id, doc_id, original_filename, original_mime, original_path,
				ocr_status, ocr_model, pages_count, ocr_artifacts_path, ocr_error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			descriptor.RunID, document.DocID, originalFilename, originalMime, originalPath,
			ocrStatus, ocrModel, pagesCount, ocrArtifactsPath, document.OCRError,
		); err != nil {
			return nil, fmt.Errorf("insert document %s: %w", document.DocID, err)
		}
	}
	return warnings, nil
}

// inferDocuments derives the document list from documents/<doc_id>/ when
// the descriptor carries none.
func inferDocuments(targetRoot string) ([]descriptorDocument, error) {
	documentsDir := filepath.Join(targetRoot, storage.DocumentsDirName)
	entries, err := os.ReadDir(documentsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list restored documents: %w", err)
	}
	var documents []descriptorDocument
	for _, entry := range entries {
		if entry.IsDir() {
			documents = append(documents, descriptorDocument{DocID: entry.Name()})
		}
	}
	sort.Slice(documents, func(left, right int) bool {
		return documents[left].DocID < documents[right].DocID
	})
	return documents, nil
}

// findOriginalFile picks the lexicographically first file under original/;
// absent one it falls back to <doc_id>.bin so the row still points inside
// the restored tree.
func findOriginalFile(documentRoot, docID string) (filename, path string, found bool) {
	originalDir := filepath.Join(documentRoot, "original")
	entries, err := os.ReadDir(originalDir)
	if err == nil {
		var names []string
		for _, entry := range entries {
			if !entry.IsDir() {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)
		if len(names) > 0 {
			return names[0], filepath.Join(originalDir, names[0]), true
		}
	}
	fallback := docID + ".bin"
	return fallback, filepath.Join(originalDir, fallback), false
}

func countOCRPages(ocrArtifactsPath string) *int64 {
	entries, err := os.ReadDir(filepath.Join(ocrArtifactsPath, "pages"))
	if err != nil {
		return nil
	}
	var count int64
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			count++
		}
	}
	return &count
}

func rebuildLLMOutput(tx *sql.Tx, runID, targetRoot string) ([]string, error) {
	if _, err := tx.Exec(`DELETE FROM llm_outputs WHERE run_id = ?`, runID); err != nil {
		return nil, fmt.Errorf("clear llm outputs: %w", err)
	}

	parsedPath := filepath.Join(targetRoot, storage.LLMDirName, storage.ResponseParsedName)
	if _, err := os.Stat(parsedPath); err != nil {
		if os.IsNotExist(err) {
			return []string{"LLM parsed response file is missing."}, nil
		}
		return nil, fmt.Errorf("stat llm response: %w", err)
	}

	// Missing or unreadable validation artifact means the response cannot
	// be trusted: the row is recorded invalid and points at the validation
	// path that should have existed.
	var warnings []string
	valid := false
	validationPath := filepath.Join(targetRoot, storage.LLMDirName, storage.ValidationName)
	errorsPath := &validationPath
	rawValidation, err := os.ReadFile(validationPath) // #nosec G304 -- path built from managed layout
	if err == nil {
		var payload struct {
			Valid bool `json:"valid"`
		}
		if unmarshalErr := json.Unmarshal(rawValidation, &payload); unmarshalErr != nil {
			warnings = append(warnings, "Validation artifact is unreadable; response_valid set to false.")
		} else if payload.Valid {
			valid = true
			errorsPath = nil
		}
	}
	validFlag := 0
	if valid {
		validFlag = 1
	}
	if _, err := tx.Exec(
		`INSERT INTO llm_outputs (run_id, response_json_path, response_valid, schema_validation_errors_path)
		VALUES (?, ?, ?, ?)`,
		runID, parsedPath, validFlag, errorsPath,
	); err != nil {
		return nil, fmt.Errorf("insert llm output: %w", err)
	}
	return warnings, nil
}
