// Package restore rebuilds a run from an exported bundle: archive safety
// screening, bundle-manifest integrity and signature verification, atomic
// installation of the artifact tree and transactional reconstruction of the
// run's database rows. Every failure surfaces as a failed RestoreRunResult
// with a stable error code, never as a raw error.
package restore

import (
	"archive/zip"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"kaucja/core/bundle"
	coreerrors "kaucja/core/errors"
	"kaucja/core/fsx"
	"kaucja/core/storage"
)

// Repository is the slice of the storage layer a restore needs. *storage.Repo
// satisfies it.
type Repository interface {
	DeleteRun(runID string) storage.DeleteRunResult
	RestoreTx(fn func(tx *sql.Tx) error) error
	DataDir() string
}

type Options struct {
	Repo    Repository
	ZipPath string

	// DataDir overrides the repository's data root when set.
	DataDir string

	OverwriteExisting bool

	// DisableRollbackOnMetadataFailure keeps restored files on disk when the
	// metadata transaction fails. The zero value rolls the installed tree
	// back, so omitting the field keeps the safe behavior.
	DisableRollbackOnMetadataFailure bool

	Limits           SafetyLimits
	SigningKey       string
	RequireSignature bool
	VerifyOnly       bool
}

// Run restores one bundle. The returned result is complete in every branch;
// callers decide success by Status alone.
func Run(options Options) storage.RestoreRunResult {
	result := storage.RestoreRunResult{
		Status:            storage.RestoreStatusFailed,
		RestoredPaths:     []string{},
		Warnings:          []string{},
		Errors:            []string{},
		ManifestStatus:    "not_checked",
		SignatureStatus:   bundle.SignatureStatusNotChecked,
		SignatureRequired: options.RequireSignature,
		VerifyOnly:        options.VerifyOnly,
	}
	limits := options.Limits.withDefaults()

	dataRoot := options.DataDir
	if dataRoot == "" {
		dataRoot = options.Repo.DataDir()
	}
	dataRoot, err := filepath.Abs(dataRoot)
	if err != nil {
		return failResult(result, coreerrors.Wrap(err, coreerrors.CodeRestoreFSError, ""))
	}

	info, err := os.Stat(options.ZipPath)
	if err != nil || info.IsDir() {
		return failResult(result, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			"Archive file not found: "+options.ZipPath))
	}

	archive, err := zip.OpenReader(options.ZipPath)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrAlgorithm) || errors.Is(err, zip.ErrChecksum) {
			return failResult(result, coreerrors.Wrap(
				fmt.Errorf("invalid zip archive: %w", err),
				coreerrors.CodeRestoreInvalidArchive, ""))
		}
		return failResult(result, coreerrors.Wrap(
			fmt.Errorf("open archive: %w", err),
			coreerrors.CodeRestoreFSError, ""))
	}
	defer func() {
		_ = archive.Close()
	}()

	inspection, err := InspectArchive(&archive.Reader, limits)
	if err != nil {
		return failResult(result, err)
	}

	var bundleRunID, bundleSessionID string
	if inspection.HasBundleManifest {
		result.ManifestStatus = "verifying"
		result.SignatureStatus = bundle.SignatureStatusVerifying
		verification, err := verifyBundleManifest(
			inspection.FileEntries, limits, options.SigningKey, options.RequireSignature)
		if err != nil {
			return failResult(result, err)
		}
		result.ManifestStatus = "verified"
		result.FilesChecked = verification.FilesChecked
		result.ArchiveSigned = verification.Signed
		result.SignatureStatus = verification.Status
		result.Warnings = append(result.Warnings, verification.Warnings...)
		bundleRunID = verification.RunID
		bundleSessionID = verification.SessionID
	} else {
		result.ManifestStatus = "legacy_missing_manifest"
		result.SignatureStatus = bundle.SignatureStatusLegacyMissing
		result.Warnings = append(result.Warnings,
			bundle.ManifestFileName+" is missing; legacy archive restored without integrity verification.")
		if options.RequireSignature {
			return failResult(result, coreerrors.New(coreerrors.CodeRestoreInvalidSignature,
				"archive signature is required in strict mode, but "+bundle.ManifestFileName+" is missing"))
		}
	}

	descriptor, err := loadRunDescriptor(inspection.FileEntries, limits)
	if err != nil {
		return failResult(result, err)
	}
	result.Warnings = append(result.Warnings, descriptor.Warnings...)
	if err := checkBundleIdentity(descriptor.RunID, descriptor.SessionID, bundleRunID, bundleSessionID); err != nil {
		return failResult(result, err)
	}
	result.RunID = descriptor.RunID
	result.SessionID = descriptor.SessionID

	targetRoot := filepath.Join(dataRoot, "sessions", descriptor.SessionID, "runs", descriptor.RunID)
	if !fsx.IsWithin(dataRoot, targetRoot) {
		return failResult(result, coreerrors.New(coreerrors.CodeRestoreFSError,
			"resolved target path is outside data root: "+targetRoot))
	}
	result.ArtifactsRootPath = targetRoot

	if options.VerifyOnly {
		result.Status = storage.RestoreStatusVerified
		return result
	}

	tempRoot, err := extractToTemp(inspection.FileEntries, targetRoot, limits)
	defer cleanupTemp(tempRoot)
	if err != nil {
		return failResult(result, err)
	}

	if _, statErr := os.Stat(targetRoot); statErr == nil {
		if !options.OverwriteExisting {
			return failResult(result, coreerrors.New(coreerrors.CodeRestoreRunExists,
				"Run already exists: "+descriptor.RunID))
		}
		deletion := options.Repo.DeleteRun(descriptor.RunID)
		if !deletion.Deleted {
			message := "failed to remove existing run before restore"
			if deletion.ErrorMessage != nil {
				message += ": " + *deletion.ErrorMessage
			}
			return failResult(result, coreerrors.New(coreerrors.CodeRestoreFSError, message))
		}
		if _, statErr := os.Stat(targetRoot); statErr == nil {
			if removeErr := fsx.RemoveTreeWithin(dataRoot, targetRoot); removeErr != nil {
				return failResult(result, coreerrors.Wrap(removeErr, coreerrors.CodeRestoreFSError, ""))
			}
		}
	} else if !os.IsNotExist(statErr) {
		return failResult(result, coreerrors.Wrap(statErr, coreerrors.CodeRestoreFSError, ""))
	}

	if err := installRun(tempRoot, targetRoot); err != nil {
		return failResult(result, err)
	}

	metadataWarnings, metadataErr := reconstructMetadata(options.Repo, descriptor, targetRoot)
	result.Warnings = append(result.Warnings, metadataWarnings...)
	result.RestoredPaths = restoredPaths(targetRoot)

	if metadataErr != nil {
		if !options.DisableRollbackOnMetadataFailure {
			result.RollbackAttempted = true
			succeeded := rollbackInstall(dataRoot, targetRoot)
			result.RollbackSucceeded = &succeeded
			if !succeeded {
				result.Warnings = append(result.Warnings,
					"Rollback failed after metadata restore failure; restored files may remain on disk.")
			}
		}
		result.Errors = append(result.Errors, metadataErr.Error())
		result.ErrorCode = string(coreerrors.CodeRestoreDBError)
		result.ErrorMessage = "Metadata restore failed for one or more entities."
		return result
	}

	result.Status = storage.RestoreStatusRestored
	return result
}

// loadRunDescriptor reads and parses the run.json entry. The inspector has
// already guaranteed exactly one is present at the archive root.
func loadRunDescriptor(entries []*zip.File, limits SafetyLimits) (runDescriptor, error) {
	for _, entry := range entries {
		normalized, err := safeEntryPath(entry.Name)
		if err != nil {
			return runDescriptor{}, err
		}
		if normalized != storage.RunDescriptorFileName {
			continue
		}
		raw, err := readEntry(entry, limits.MaxSingleFileBytes)
		if err != nil {
			return runDescriptor{}, err
		}
		return parseRunDescriptor(raw)
	}
	return runDescriptor{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
		"archive does not contain "+storage.RunDescriptorFileName)
}

// restoredPaths lists the target root plus the well-known files that made it
// to disk. The root is always first even when the move itself failed.
func restoredPaths(targetRoot string) []string {
	candidates := []string{
		filepath.Join(targetRoot, storage.RunDescriptorFileName),
		filepath.Join(targetRoot, storage.LogsDirName, storage.RunLogFileName),
		filepath.Join(targetRoot, storage.LLMDirName, storage.ResponseParsedName),
		filepath.Join(targetRoot, storage.LLMDirName, storage.ValidationName),
	}
	paths := []string{targetRoot}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			paths = append(paths, candidate)
		}
	}
	return paths
}

// failResult converts an error into the terminal failed result, demoting any
// in-flight verification status.
func failResult(result storage.RestoreRunResult, err error) storage.RestoreRunResult {
	if result.ManifestStatus == "verifying" || result.ManifestStatus == "verified" {
		result.ManifestStatus = "failed"
	}
	if result.SignatureStatus == bundle.SignatureStatusVerifying ||
		result.SignatureStatus == bundle.SignatureStatusVerified {
		result.SignatureStatus = bundle.SignatureStatusFailed
	}
	code := coreerrors.CodeOf(err)
	if code == "" {
		code = coreerrors.CodeRestoreDBError
	}
	result.Status = storage.RestoreStatusFailed
	result.ErrorCode = string(code)
	result.ErrorMessage = err.Error()
	result.Errors = append(result.Errors, err.Error())
	return result
}
