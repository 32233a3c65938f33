package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"kaucja/core/config"
	"kaucja/core/restore"
	"kaucja/core/storage"
)

type restoreFlags struct {
	zipPath          string
	dbPath           string
	dataDir          string
	configPath       string
	signingKeyEnv    string
	overwrite        bool
	noRollback       bool
	requireSignature bool
	jsonOutput       bool
	help             bool
}

func runRestore(arguments []string) int {
	return runRestoreCommand("restore", arguments, false)
}

// runVerifyBundle is restore with verify_only pinned on: full safety,
// integrity and signature checks with zero disk or database mutation.
func runVerifyBundle(arguments []string) int {
	return runRestoreCommand("verify", arguments, true)
}

func runRestoreCommand(name string, arguments []string, verifyOnly bool) int {
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var flags restoreFlags
	flagSet.StringVar(&flags.zipPath, "zip-path", "", "bundle zip to restore")
	flagSet.StringVar(&flags.dbPath, "db-path", "", "sqlite database path")
	flagSet.StringVar(&flags.dataDir, "data-dir", "", "artifact data root")
	flagSet.StringVar(&flags.configPath, "config", "", "config file path")
	flagSet.StringVar(&flags.signingKeyEnv, "signing-key-env", "", "env var holding the HMAC signing key")
	flagSet.BoolVar(&flags.overwrite, "overwrite-existing", false, "replace an already-restored run")
	flagSet.BoolVar(&flags.noRollback, "no-rollback-on-metadata-failure", false, "keep restored files when metadata restore fails")
	flagSet.BoolVar(&flags.requireSignature, "require-signature", false, "reject unsigned or unverifiable bundles")
	flagSet.BoolVar(&flags.jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&flags.help, "help", false, "show help")
	if !verifyOnly {
		flagSet.BoolVar(&verifyOnly, "verify-only", false, "verify the bundle without restoring it")
	}

	if err := flagSet.Parse(arguments); err != nil {
		fmt.Fprintln(os.Stderr, name+":", err)
		return exitInvalidInput
	}
	if flags.help {
		printRestoreUsage(name)
		return exitOK
	}
	if strings.TrimSpace(flags.zipPath) == "" {
		fmt.Fprintln(os.Stderr, name+": --zip-path is required")
		return exitInvalidInput
	}

	settings, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, name+":", err)
		return exitInvalidInput
	}
	if flags.dbPath != "" {
		settings.DBPath = flags.dbPath
	}
	if flags.dataDir != "" {
		settings.DataDir = flags.dataDir
	}
	signingKey := settings.SigningKey()
	if env := strings.TrimSpace(flags.signingKeyEnv); env != "" {
		signingKey = strings.TrimSpace(os.Getenv(env))
	}
	requireSignature := settings.RestoreRequireSignature || flags.requireSignature

	repo, err := storage.OpenRepo(settings.DBPath, settings.DataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, name+":", err)
		return exitFailure
	}
	defer func() {
		_ = repo.Close()
	}()

	result := restore.Run(restore.Options{
		Repo:                             repo,
		ZipPath:                          flags.zipPath,
		OverwriteExisting:                flags.overwrite,
		DisableRollbackOnMetadataFailure: flags.noRollback,
		Limits: restore.SafetyLimits{
			MaxEntries:                settings.RestoreMaxEntries,
			MaxTotalUncompressedBytes: settings.RestoreMaxTotalUncompressedBytes,
			MaxSingleFileBytes:        settings.RestoreMaxSingleFileBytes,
			MaxCompressionRatio:       settings.RestoreMaxCompressionRatio,
		},
		SigningKey:       signingKey,
		RequireSignature: requireSignature,
		VerifyOnly:       verifyOnly,
	})
	return writeRestoreOutput(flags.jsonOutput, result)
}

func writeRestoreOutput(jsonOutput bool, result storage.RestoreRunResult) int {
	exitCode := exitFailure
	if result.Status == storage.RestoreStatusRestored || result.Status == storage.RestoreStatusVerified {
		exitCode = exitOK
	}
	if jsonOutput {
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode output:", err)
			return exitFailure
		}
		fmt.Println(string(encoded))
		return exitCode
	}
	if exitCode == exitOK {
		fmt.Printf("%s: run %s (session %s)\n", result.Status, result.RunID, result.SessionID)
		for _, warning := range result.Warnings {
			fmt.Println("warning:", warning)
		}
	} else {
		fmt.Fprintf(os.Stderr, "failed [%s]: %s\n", result.ErrorCode, result.ErrorMessage)
		for _, warning := range result.Warnings {
			fmt.Fprintln(os.Stderr, "warning:", warning)
		}
	}
	return exitCode
}

func printRestoreUsage(name string) {
	fmt.Println(`kaucja ` + name + ` --zip-path <bundle.zip> [flags]

Flags:
  --zip-path                         bundle zip (required)
  --db-path                          sqlite database path
  --data-dir                         artifact data root
  --config                           config file path
  --signing-key-env                  env var holding the HMAC signing key
  --overwrite-existing               replace an already-restored run
  --no-rollback-on-metadata-failure  keep restored files when metadata restore fails
  --require-signature                reject unsigned or unverifiable bundles
  --json                             emit JSON output`)
}
