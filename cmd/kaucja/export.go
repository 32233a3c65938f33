package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"kaucja/core/bundle"
	"kaucja/core/config"
	coreerrors "kaucja/core/errors"
)

type exportOutput struct {
	OK         bool   `json:"ok"`
	BundlePath string `json:"bundle_path,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

func runExport(arguments []string) int {
	flagSet := flag.NewFlagSet("export", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var artifactsRoot string
	var outputDir string
	var signingKeyEnv string
	var configPath string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&artifactsRoot, "artifacts-root", "", "run artifact tree to bundle")
	flagSet.StringVar(&outputDir, "output-dir", "", "directory for the bundle zip (default: artifact tree's parent)")
	flagSet.StringVar(&signingKeyEnv, "signing-key-env", "", "env var holding the HMAC signing key")
	flagSet.StringVar(&configPath, "config", "", "config file path")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeExportOutput(jsonOutput, exportOutput{OK: false, Error: err.Error()}, exitInvalidInput)
	}
	if helpFlag {
		printExportUsage()
		return exitOK
	}
	if strings.TrimSpace(artifactsRoot) == "" {
		return writeExportOutput(jsonOutput, exportOutput{OK: false, Error: "--artifacts-root is required"}, exitInvalidInput)
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return writeExportOutput(jsonOutput, exportOutput{OK: false, Error: err.Error()}, exitInvalidInput)
	}
	signingKey := settings.SigningKey()
	if env := strings.TrimSpace(signingKeyEnv); env != "" {
		signingKey = strings.TrimSpace(os.Getenv(env))
	}

	bundlePath, err := bundle.ExportRunBundle(bundle.ExportOptions{
		ArtifactsRoot: artifactsRoot,
		OutputDir:     outputDir,
		SigningKey:    signingKey,
	})
	if err != nil {
		return writeExportOutput(jsonOutput, exportOutput{
			OK:        false,
			ErrorCode: string(coreerrors.CodeOf(err)),
			Error:     err.Error(),
		}, exitFailure)
	}
	return writeExportOutput(jsonOutput, exportOutput{OK: true, BundlePath: bundlePath}, exitOK)
}

func writeExportOutput(jsonOutput bool, output exportOutput, exitCode int) int {
	if jsonOutput {
		encoded, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode output:", err)
			return exitFailure
		}
		fmt.Println(string(encoded))
		return exitCode
	}
	if output.OK {
		fmt.Println("bundle written:", output.BundlePath)
	} else {
		fmt.Fprintln(os.Stderr, "export failed:", output.Error)
	}
	return exitCode
}

func printExportUsage() {
	fmt.Println(`kaucja export --artifacts-root <dir> [flags]

Flags:
  --artifacts-root   run artifact tree to bundle (required)
  --output-dir       directory for the bundle zip (default: tree's parent)
  --signing-key-env  env var holding the HMAC signing key
  --config           config file path
  --json             emit JSON output`)
}
