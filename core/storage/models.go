package storage

// RunStatus is the lifecycle state recorded for a run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// OCRStatus is the per-document OCR outcome.
type OCRStatus string

const (
	OCRStatusPending OCRStatus = "pending"
	OCRStatusOK      OCRStatus = "ok"
	OCRStatusFailed  OCRStatus = "failed"
)

func ValidRunStatus(status string) bool {
	switch RunStatus(status) {
	case RunStatusCreated, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

func ValidOCRStatus(status string) bool {
	switch OCRStatus(status) {
	case OCRStatusPending, OCRStatusOK, OCRStatusFailed:
		return true
	}
	return false
}

type SessionRecord struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
}

type RunRecord struct {
	RunID                 string    `json:"run_id"`
	SessionID             string    `json:"session_id"`
	CreatedAt             string    `json:"created_at"`
	Provider              string    `json:"provider"`
	Model                 string    `json:"model"`
	PromptName            string    `json:"prompt_name"`
	PromptVersion         string    `json:"prompt_version"`
	SchemaVersion         string    `json:"schema_version"`
	Status                RunStatus `json:"status"`
	ArtifactsRootPath     string    `json:"artifacts_root_path"`
	OpenAIReasoningEffort *string   `json:"openai_reasoning_effort,omitempty"`
	GeminiThinkingLevel   *string   `json:"gemini_thinking_level,omitempty"`
	ErrorCode             *string   `json:"error_code,omitempty"`
	ErrorMessage          *string   `json:"error_message,omitempty"`
	TimingsJSON           string    `json:"timings_json"`
	UsageJSON             string    `json:"usage_json"`
	UsageNormalizedJSON   string    `json:"usage_normalized_json"`
	CostJSON              string    `json:"cost_json"`
}

type DocumentRecord struct {
	ID               int64     `json:"id"`
	RunID            string    `json:"run_id"`
	DocID            string    `json:"doc_id"`
	OriginalFilename string    `json:"original_filename"`
	OriginalMime     *string   `json:"original_mime,omitempty"`
	OriginalPath     string    `json:"original_path"`
	OCRStatus        OCRStatus `json:"ocr_status"`
	OCRModel         *string   `json:"ocr_model,omitempty"`
	PagesCount       *int64    `json:"pages_count,omitempty"`
	OCRArtifactsPath *string   `json:"ocr_artifacts_path,omitempty"`
	OCRError         *string   `json:"ocr_error,omitempty"`
}

type LLMOutputRecord struct {
	RunID                      string  `json:"run_id"`
	ResponseJSONPath           string  `json:"response_json_path"`
	ResponseValid              bool    `json:"response_valid"`
	SchemaValidationErrorsPath *string `json:"schema_validation_errors_path,omitempty"`
}

// DeleteRunResult reports a best-effort run deletion: database rows and the
// artifact tree are removed independently and either may fail.
type DeleteRunResult struct {
	RunID            string  `json:"run_id"`
	Deleted          bool    `json:"deleted"`
	ErrorCode        *string `json:"error_code,omitempty"`
	ErrorMessage     *string `json:"error_message,omitempty"`
	ArtifactsDeleted bool    `json:"artifacts_deleted"`
	ArtifactsMissing bool    `json:"artifacts_missing"`
}

// RestoreRunResult is the one outcome record of a restore invocation. It is
// created once and never mutated after return.
type RestoreRunResult struct {
	Status            string   `json:"status"`
	RunID             string   `json:"run_id,omitempty"`
	SessionID         string   `json:"session_id,omitempty"`
	ArtifactsRootPath string   `json:"artifacts_root_path,omitempty"`
	RestoredPaths     []string `json:"restored_paths"`
	Warnings          []string `json:"warnings"`
	Errors            []string `json:"errors"`
	ErrorCode         string   `json:"error_code,omitempty"`
	ErrorMessage      string   `json:"error_message,omitempty"`
	ManifestStatus    string   `json:"manifest_verification_status"`
	FilesChecked      int      `json:"files_checked"`
	SignatureStatus   string   `json:"signature_verification_status"`
	ArchiveSigned     bool     `json:"archive_signed"`
	SignatureRequired bool     `json:"signature_required"`
	VerifyOnly        bool     `json:"verify_only"`
	RollbackAttempted bool     `json:"rollback_attempted"`
	RollbackSucceeded *bool    `json:"rollback_succeeded"`
}

const (
	RestoreStatusVerified = "verified"
	RestoreStatusRestored = "restored"
	RestoreStatusFailed   = "failed"
)
