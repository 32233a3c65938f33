package restore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	coreerrors "kaucja/core/errors"
	"kaucja/core/storage"
)

const unknownValue = "unknown"

// runDescriptor is the normalized content of run.json. Every field is
// populated: anything the descriptor omits or garbles falls back to a
// default, with a warning, so a partially corrupted bundle still restores.
type runDescriptor struct {
	SessionID string
	RunID     string
	CreatedAt string

	Provider      string
	Model         string
	PromptName    string
	PromptVersion string
	SchemaVersion string
	OCRModel      string

	Status       storage.RunStatus
	ErrorCode    *string
	ErrorMessage *string

	OpenAIReasoningEffort *string
	GeminiThinkingLevel   *string

	TimingsJSON         string
	UsageJSON           string
	UsageNormalizedJSON string
	CostJSON            string

	Documents []descriptorDocument

	Warnings []string
}

type descriptorDocument struct {
	DocID      string
	OCRStatus  string
	PagesCount *int64
	OCRError   *string
}

// parseRunDescriptor decodes run.json. Identity is the only hard
// requirement; every other section is parsed best-effort.
func parseRunDescriptor(raw []byte) (runDescriptor, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return runDescriptor{}, coreerrors.Wrap(
			fmt.Errorf("parse %s: %w", storage.RunDescriptorFileName, err),
			coreerrors.CodeRestoreInvalidArchive, "")
	}

	descriptor := runDescriptor{
		Provider:            unknownValue,
		Model:               unknownValue,
		PromptName:          unknownValue,
		PromptVersion:       unknownValue,
		OCRModel:            "mistral-ocr-latest",
		Status:              storage.RunStatusCompleted,
		TimingsJSON:         "{}",
		UsageJSON:           "{}",
		UsageNormalizedJSON: "{}",
		CostJSON:            "{}",
	}

	descriptor.SessionID = rawString(payload["session_id"])
	descriptor.RunID = rawString(payload["run_id"])
	if descriptor.SessionID == "" || descriptor.RunID == "" {
		return runDescriptor{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			storage.RunDescriptorFileName+" must contain non-empty session_id and run_id")
	}

	descriptor.parseInputs(payload["inputs"])
	descriptor.parseStatus(payload)
	descriptor.parseMetrics(payload["metrics"])
	descriptor.parseArtifacts(payload["artifacts"])
	return descriptor, nil
}

func (d *runDescriptor) parseInputs(raw json.RawMessage) {
	var inputs map[string]json.RawMessage
	if len(raw) == 0 {
		d.warnSection("inputs", "missing")
		d.SchemaVersion = d.PromptVersion
		return
	}
	if err := json.Unmarshal(raw, &inputs); err != nil {
		d.warnSection("inputs", "unreadable")
		d.SchemaVersion = d.PromptVersion
		return
	}
	d.Provider = stringOrDefault(inputs["provider"], unknownValue)
	d.Model = stringOrDefault(inputs["model"], unknownValue)
	d.PromptName = stringOrDefault(inputs["prompt_name"], unknownValue)
	d.PromptVersion = stringOrDefault(inputs["prompt_version"], unknownValue)
	d.SchemaVersion = stringOrDefault(inputs["schema_version"], d.PromptVersion)

	var llmParams map[string]json.RawMessage
	if err := json.Unmarshal(inputs["llm_params"], &llmParams); err == nil {
		d.OpenAIReasoningEffort = optionalString(llmParams["openai_reasoning_effort"])
		d.GeminiThinkingLevel = optionalString(llmParams["gemini_thinking_level"])
	}
	var ocrParams map[string]json.RawMessage
	if err := json.Unmarshal(inputs["ocr_params"], &ocrParams); err == nil {
		d.OCRModel = stringOrDefault(ocrParams["model"], d.OCRModel)
	}
}

func (d *runDescriptor) parseStatus(payload map[string]json.RawMessage) {
	status := rawString(payload["status"])
	switch {
	case status == "":
		d.Warnings = append(d.Warnings,
			storage.RunDescriptorFileName+" has no status; assuming completed")
	case storage.ValidRunStatus(status):
		d.Status = storage.RunStatus(status)
	default:
		d.Warnings = append(d.Warnings, fmt.Sprintf(
			"%s has invalid status %q; assuming completed", storage.RunDescriptorFileName, status))
	}

	d.CreatedAt = rawString(payload["created_at"])
	if d.CreatedAt == "" {
		d.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	d.ErrorCode = optionalString(payload["error_code"])
	d.ErrorMessage = optionalString(payload["error_message"])
}

func (d *runDescriptor) parseMetrics(raw json.RawMessage) {
	var metrics map[string]json.RawMessage
	if len(raw) == 0 {
		return
	}
	if err := json.Unmarshal(raw, &metrics); err != nil {
		d.warnSection("metrics", "unreadable")
		return
	}
	d.TimingsJSON = objectOrDefault(metrics["timings"], d.TimingsJSON)
	d.UsageJSON = objectOrDefault(metrics["usage"], d.UsageJSON)
	d.UsageNormalizedJSON = objectOrDefault(metrics["usage_normalized"], d.UsageNormalizedJSON)
	d.CostJSON = objectOrDefault(metrics["cost"], d.CostJSON)
}

func (d *runDescriptor) parseArtifacts(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var artifacts struct {
		Documents []struct {
			DocID      string  `json:"doc_id"`
			OCRStatus  string  `json:"ocr_status"`
			PagesCount *int64  `json:"pages_count"`
			OCRError   *string `json:"ocr_error"`
		} `json:"documents"`
	}
	if err := json.Unmarshal(raw, &artifacts); err != nil {
		d.warnSection("artifacts", "unreadable")
		return
	}
	for _, document := range artifacts.Documents {
		docID := strings.TrimSpace(document.DocID)
		if docID == "" {
			d.Warnings = append(d.Warnings,
				storage.RunDescriptorFileName+" lists a document without doc_id; skipping it")
			continue
		}
		d.Documents = append(d.Documents, descriptorDocument{
			DocID:      docID,
			OCRStatus:  strings.TrimSpace(document.OCRStatus),
			PagesCount: document.PagesCount,
			OCRError:   document.OCRError,
		})
	}
	sort.Slice(d.Documents, func(left, right int) bool {
		return d.Documents[left].DocID < d.Documents[right].DocID
	})
}

func (d *runDescriptor) warnSection(section, problem string) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(
		"%s section %q is %s; using defaults", storage.RunDescriptorFileName, section, problem))
}

func rawString(raw json.RawMessage) string {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func stringOrDefault(raw json.RawMessage, fallback string) string {
	if value := rawString(raw); value != "" {
		return value
	}
	return fallback
}

func optionalString(raw json.RawMessage) *string {
	value := rawString(raw)
	if value == "" {
		return nil
	}
	return &value
}

// objectOrDefault keeps a metrics member as JSON text when it is a JSON
// object, otherwise returns the fallback.
func objectOrDefault(raw json.RawMessage, fallback string) string {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") && json.Valid(raw) {
		return trimmed
	}
	return fallback
}
