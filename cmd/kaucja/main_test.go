package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRunTree(test *testing.T) string {
	test.Helper()
	dataDir := test.TempDir()
	root := filepath.Join(dataDir, "sessions", "sess-1", "runs", "run-1")
	if err := os.MkdirAll(filepath.Join(root, "logs"), 0o750); err != nil {
		test.Fatalf("mkdir: %v", err)
	}
	descriptor := `{"session_id":"sess-1","run_id":"run-1","status":"completed"}`
	if err := os.WriteFile(filepath.Join(root, "run.json"), []byte(descriptor), 0o600); err != nil {
		test.Fatalf("write run.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "logs", "run.log"), []byte("line\n"), 0o600); err != nil {
		test.Fatalf("write run.log: %v", err)
	}
	return root
}

func TestRunDispatch(test *testing.T) {
	if code := run([]string{"kaucja"}); code != exitInvalidInput {
		test.Fatalf("bare invocation exit = %d", code)
	}
	if code := run([]string{"kaucja", "frobnicate"}); code != exitInvalidInput {
		test.Fatalf("unknown command exit = %d", code)
	}
	if code := run([]string{"kaucja", "version"}); code != exitOK {
		test.Fatalf("version exit = %d", code)
	}
	if code := run([]string{"kaucja", "export", "--help"}); code != exitOK {
		test.Fatalf("export help exit = %d", code)
	}
	if code := run([]string{"kaucja", "export"}); code != exitInvalidInput {
		test.Fatalf("export without root exit = %d", code)
	}
	if code := run([]string{"kaucja", "restore"}); code != exitInvalidInput {
		test.Fatalf("restore without zip exit = %d", code)
	}
}

func TestExportAndRestoreCommands(test *testing.T) {
	root := writeRunTree(test)
	outputDir := test.TempDir()

	code := run([]string{"kaucja", "export",
		"--artifacts-root", root,
		"--output-dir", outputDir,
		"--json"})
	if code != exitOK {
		test.Fatalf("export exit = %d", code)
	}
	bundlePath := filepath.Join(outputDir, "run-1_bundle.zip")
	if _, err := os.Stat(bundlePath); err != nil {
		test.Fatalf("bundle not written: %v", err)
	}

	restoreDataDir := test.TempDir()
	dbPath := filepath.Join(restoreDataDir, "kaucja.sqlite3")

	code = run([]string{"kaucja", "verify",
		"--zip-path", bundlePath,
		"--db-path", dbPath,
		"--data-dir", restoreDataDir,
		"--json"})
	if code != exitOK {
		test.Fatalf("verify exit = %d", code)
	}
	if _, err := os.Stat(filepath.Join(restoreDataDir, "sessions")); !os.IsNotExist(err) {
		test.Fatalf("verify must not write artifacts")
	}

	code = run([]string{"kaucja", "restore",
		"--zip-path", bundlePath,
		"--db-path", dbPath,
		"--data-dir", restoreDataDir,
		"--json"})
	if code != exitOK {
		test.Fatalf("restore exit = %d", code)
	}
	restoredDescriptor := filepath.Join(restoreDataDir, "sessions", "sess-1", "runs", "run-1", "run.json")
	if _, err := os.Stat(restoredDescriptor); err != nil {
		test.Fatalf("restored descriptor missing: %v", err)
	}

	code = run([]string{"kaucja", "restore",
		"--zip-path", bundlePath,
		"--db-path", dbPath,
		"--data-dir", restoreDataDir,
		"--json"})
	if code != exitFailure {
		test.Fatalf("second restore without overwrite exit = %d", code)
	}

	code = run([]string{"kaucja", "restore",
		"--zip-path", bundlePath,
		"--db-path", dbPath,
		"--data-dir", restoreDataDir,
		"--overwrite-existing",
		"--json"})
	if code != exitOK {
		test.Fatalf("overwrite restore exit = %d", code)
	}
}
