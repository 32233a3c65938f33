package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestRepo(test *testing.T) (*Repo, string) {
	test.Helper()
	dataDir := test.TempDir()
	repo, err := OpenRepo(filepath.Join(dataDir, "kaucja.sqlite3"), dataDir)
	if err != nil {
		test.Fatalf("open repo: %v", err)
	}
	test.Cleanup(func() {
		_ = repo.Close()
	})
	return repo, dataDir
}

func TestCreateSessionIdempotent(test *testing.T) {
	repo, _ := openTestRepo(test)

	first, err := repo.CreateSession("sess-1")
	if err != nil {
		test.Fatalf("create session: %v", err)
	}
	second, err := repo.CreateSession("sess-1")
	if err != nil {
		test.Fatalf("re-create session: %v", err)
	}
	if first.CreatedAt != second.CreatedAt {
		test.Fatalf("insert-or-ignore changed created_at: %s != %s", first.CreatedAt, second.CreatedAt)
	}

	minted, err := repo.CreateSession("")
	if err != nil {
		test.Fatalf("create session with minted id: %v", err)
	}
	if minted.SessionID == "" {
		test.Fatalf("empty session id was not replaced")
	}
}

func TestCreateRunMaterializesLayout(test *testing.T) {
	repo, dataDir := openTestRepo(test)

	run, err := repo.CreateRun(CreateRunParams{
		SessionID:     "sess-1",
		Provider:      "openai",
		Model:         "gpt-4o",
		PromptName:    "invoice",
		PromptVersion: "3",
		SchemaVersion: "7",
	})
	if err != nil {
		test.Fatalf("create run: %v", err)
	}
	if run.Status != RunStatusCreated {
		test.Fatalf("default status = %s", run.Status)
	}
	wantRoot := filepath.Join(dataDir, "sessions", "sess-1", "runs", run.RunID)
	if run.ArtifactsRootPath != wantRoot {
		test.Fatalf("artifacts root = %s, want %s", run.ArtifactsRootPath, wantRoot)
	}
	if _, err := os.Stat(filepath.Join(wantRoot, LogsDirName, RunLogFileName)); err != nil {
		test.Fatalf("run log not materialized: %v", err)
	}

	loaded, err := repo.GetRun(run.RunID)
	if err != nil {
		test.Fatalf("load run: %v", err)
	}
	if loaded == nil || loaded.Provider != "openai" || loaded.TimingsJSON != "{}" {
		test.Fatalf("loaded run = %+v", loaded)
	}
}

func TestUpdateRunStatus(test *testing.T) {
	repo, _ := openTestRepo(test)
	run, err := repo.CreateRun(CreateRunParams{SessionID: "sess-1", Provider: "openai", Model: "gpt-4o", PromptName: "p", PromptVersion: "1", SchemaVersion: "1"})
	if err != nil {
		test.Fatalf("create run: %v", err)
	}

	errorCode := "LLM_TIMEOUT"
	errorMessage := "provider timed out"
	if err := repo.UpdateRunStatus(run.RunID, RunStatusFailed, &errorCode, &errorMessage); err != nil {
		test.Fatalf("update status: %v", err)
	}
	loaded, err := repo.GetRun(run.RunID)
	if err != nil {
		test.Fatalf("load run: %v", err)
	}
	if loaded.Status != RunStatusFailed || loaded.ErrorCode == nil || *loaded.ErrorCode != errorCode {
		test.Fatalf("updated run = %+v", loaded)
	}

	if err := repo.UpdateRunStatus("does-not-exist", RunStatusCompleted, nil, nil); err == nil {
		test.Fatalf("updating a missing run should fail")
	}
}

func TestGetRunAbsent(test *testing.T) {
	repo, _ := openTestRepo(test)
	run, err := repo.GetRun("does-not-exist")
	if err != nil {
		test.Fatalf("load absent run: %v", err)
	}
	if run != nil {
		test.Fatalf("absent run returned a row: %+v", run)
	}
}

func TestDeleteRun(test *testing.T) {
	repo, _ := openTestRepo(test)
	run, err := repo.CreateRun(CreateRunParams{SessionID: "sess-1", Provider: "openai", Model: "gpt-4o", PromptName: "p", PromptVersion: "1", SchemaVersion: "1"})
	if err != nil {
		test.Fatalf("create run: %v", err)
	}

	result := repo.DeleteRun(run.RunID)
	if !result.Deleted || !result.ArtifactsDeleted {
		test.Fatalf("delete result = %+v", result)
	}
	if _, err := os.Stat(run.ArtifactsRootPath); !os.IsNotExist(err) {
		test.Fatalf("artifact tree not removed")
	}
	if loaded, err := repo.GetRun(run.RunID); err != nil || loaded != nil {
		test.Fatalf("run row not removed: %v %v", loaded, err)
	}

	missing := repo.DeleteRun("does-not-exist")
	if missing.Deleted || missing.ErrorCode == nil || *missing.ErrorCode != "DELETE_RUN_NOT_FOUND" {
		test.Fatalf("missing delete result = %+v", missing)
	}
}
