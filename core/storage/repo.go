package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"kaucja/core/fsx"
)

// Repo is the relational store for sessions, runs, documents and LLM
// outputs, plus the artifacts manager that owns the on-disk layout.
type Repo struct {
	DB        *sql.DB
	DBPath    string
	Artifacts *ArtifactsManager
}

// OpenRepo opens the database at dbPath and attaches an artifacts manager
// rooted at dataDir (defaulting to the database's directory).
func OpenRepo(dbPath, dataDir string) (*Repo, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}
	if dataDir == "" {
		dataDir = filepath.Dir(dbPath)
	}
	return &Repo{DB: db, DBPath: dbPath, Artifacts: NewArtifactsManager(dataDir)}, nil
}

func (r *Repo) Close() error {
	return r.DB.Close()
}

// DataDir is the root under which all artifact trees live.
func (r *Repo) DataDir() string {
	return r.Artifacts.DataDir
}

// CreateSession inserts the session if absent and returns the stored row.
// An empty sessionID mints a new UUID.
func (r *Repo) CreateSession(sessionID string) (SessionRecord, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	createdAt := utcNow()
	if _, err := r.DB.Exec(
		`INSERT OR IGNORE INTO sessions (session_id, created_at) VALUES (?, ?)`,
		sessionID, createdAt,
	); err != nil {
		return SessionRecord{}, fmt.Errorf("insert session: %w", err)
	}

	var record SessionRecord
	err := r.DB.QueryRow(
		`SELECT session_id, created_at FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&record.SessionID, &record.CreatedAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("load session: %w", err)
	}
	return record, nil
}

type CreateRunParams struct {
	SessionID             string
	Provider              string
	Model                 string
	PromptName            string
	PromptVersion         string
	SchemaVersion         string
	Status                RunStatus
	OpenAIReasoningEffort *string
	GeminiThinkingLevel   *string
	ArtifactsRootPath     string
}

// CreateRun mints a run_id, materializes the artifact layout and inserts the
// run row. The session row is created on demand.
func (r *Repo) CreateRun(params CreateRunParams) (RunRecord, error) {
	runID := uuid.NewString()
	createdAt := utcNow()
	if params.Status == "" {
		params.Status = RunStatusCreated
	}

	rootPath := params.ArtifactsRootPath
	if rootPath == "" {
		rootPath = r.Artifacts.RunRoot(params.SessionID, runID)
	}
	artifacts, err := r.Artifacts.EnsureRunStructure(rootPath)
	if err != nil {
		return RunRecord{}, err
	}

	if _, err := r.CreateSession(params.SessionID); err != nil {
		return RunRecord{}, err
	}

	if _, err := r.DB.Exec(
		`INSERT INTO runs (
			run_id, session_id, created_at, provider, model,
			openai_reasoning_effort, gemini_thinking_level,
			prompt_name, prompt_version, schema_version, status,
			artifacts_root_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, params.SessionID, createdAt, params.Provider, params.Model,
		params.OpenAIReasoningEffort, params.GeminiThinkingLevel,
		params.PromptName, params.PromptVersion, params.SchemaVersion,
		string(params.Status), artifacts.ArtifactsRootPath,
	); err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}

	run, err := r.GetRun(runID)
	if err != nil {
		return RunRecord{}, err
	}
	if run == nil {
		return RunRecord{}, fmt.Errorf("run not found after insert: %s", runID)
	}
	return *run, nil
}

func (r *Repo) UpdateRunStatus(runID string, status RunStatus, errorCode, errorMessage *string) error {
	result, err := r.DB.Exec(
		`UPDATE runs SET status = ?, error_code = ?, error_message = ? WHERE run_id = ?`,
		string(status), errorCode, errorMessage, runID,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// GetRun returns the run row or nil when absent.
func (r *Repo) GetRun(runID string) (*RunRecord, error) {
	var record RunRecord
	err := r.DB.QueryRow(
		`SELECT run_id, session_id, created_at, provider, model,
			openai_reasoning_effort, gemini_thinking_level,
			prompt_name, prompt_version, schema_version, status,
			error_code, error_message,
			timings_json, usage_json, usage_normalized_json, cost_json,
			artifacts_root_path
		FROM runs WHERE run_id = ?`,
		runID,
	).Scan(
		&record.RunID, &record.SessionID, &record.CreatedAt,
		&record.Provider, &record.Model,
		&record.OpenAIReasoningEffort, &record.GeminiThinkingLevel,
		&record.PromptName, &record.PromptVersion, &record.SchemaVersion,
		&record.Status, &record.ErrorCode, &record.ErrorMessage,
		&record.TimingsJSON, &record.UsageJSON, &record.UsageNormalizedJSON,
		&record.CostJSON, &record.ArtifactsRootPath,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	return &record, nil
}

// GetDocuments returns the document rows for a run in doc_id order.
func (r *Repo) GetDocuments(runID string) ([]DocumentRecord, error) {
	rows, err := r.DB.Query(
		`SELECT id, run_id, doc_id, original_filename, original_mime,
			original_path, ocr_status, ocr_model, pages_count,
			ocr_artifacts_path, ocr_error
		FROM documents WHERE run_id = ? ORDER BY doc_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []DocumentRecord
	for rows.Next() {
		var record DocumentRecord
		if err := rows.Scan(
			&record.ID, &record.RunID, &record.DocID,
			&record.OriginalFilename, &record.OriginalMime, &record.OriginalPath,
			&record.OCRStatus, &record.OCRModel, &record.PagesCount,
			&record.OCRArtifactsPath, &record.OCRError,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return records, nil
}

// GetLLMOutput returns the LLM output row or nil when absent.
func (r *Repo) GetLLMOutput(runID string) (*LLMOutputRecord, error) {
	var record LLMOutputRecord
	var valid int
	err := r.DB.QueryRow(
		`SELECT run_id, response_json_path, response_valid, schema_validation_errors_path
		FROM llm_outputs WHERE run_id = ?`,
		runID,
	).Scan(&record.RunID, &record.ResponseJSONPath, &valid, &record.SchemaValidationErrorsPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load llm output: %w", err)
	}
	record.ResponseValid = valid == 1
	return &record, nil
}

// DeleteRun removes the run's rows and its artifact tree. Row deletion and
// artifact deletion are independent; the result reports both.
func (r *Repo) DeleteRun(runID string) DeleteRunResult {
	result := DeleteRunResult{RunID: runID}

	run, err := r.GetRun(runID)
	if err != nil {
		return deleteRunFailure(result, "DELETE_DB_ERROR", err.Error())
	}
	if run == nil {
		return deleteRunFailure(result, "DELETE_RUN_NOT_FOUND", "run not found: "+runID)
	}

	if _, err := os.Stat(run.ArtifactsRootPath); err == nil {
		if removeErr := fsx.RemoveTreeWithin(r.Artifacts.DataDir, run.ArtifactsRootPath); removeErr != nil {
			return deleteRunFailure(result, "DELETE_FS_ERROR", removeErr.Error())
		}
		result.ArtifactsDeleted = true
	} else if os.IsNotExist(err) {
		result.ArtifactsMissing = true
	} else {
		return deleteRunFailure(result, "DELETE_FS_ERROR", err.Error())
	}

	if _, err := r.DB.Exec(`DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return deleteRunFailure(result, "DELETE_DB_ERROR", err.Error())
	}
	result.Deleted = true
	return result
}

// RestoreTx runs fn inside one transaction; fn's error aborts it.
func (r *Repo) RestoreTx(fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func deleteRunFailure(result DeleteRunResult, code, message string) DeleteRunResult {
	result.ErrorCode = &code
	result.ErrorMessage = &message
	return result
}

func utcNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
