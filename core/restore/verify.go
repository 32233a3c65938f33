package restore

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"kaucja/core/bundle"
	coreerrors "kaucja/core/errors"
)

// Verification is the outcome of bundle-manifest integrity checking.
type Verification struct {
	FilesChecked int
	RunID        string
	SessionID    string
	Signed       bool
	Status       string
	Warnings     []string
}

// verifyBundleManifest recomputes size and digest of every archived file
// against the manifest, requires the manifest's path set to exactly equal
// the archive's, applies the signature matrix and returns the manifest's
// declared identity for the descriptor cross-check.
func verifyBundleManifest(entries []*zip.File, limits SafetyLimits, signingKey string, requireSignature bool) (Verification, error) {
	var manifestEntry *zip.File
	actual := make(map[string]*zip.File, len(entries))
	for _, entry := range entries {
		normalized, err := safeEntryPath(entry.Name)
		if err != nil {
			return Verification{}, err
		}
		if normalized == bundle.ManifestFileName {
			manifestEntry = entry
			continue
		}
		actual[normalized] = entry
	}
	if manifestEntry == nil {
		return Verification{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			bundle.ManifestFileName+" is not present")
	}

	rawManifest, err := readEntry(manifestEntry, limits.MaxSingleFileBytes)
	if err != nil {
		return Verification{}, err
	}
	manifest, err := bundle.ParseManifest(rawManifest)
	if err != nil {
		return Verification{}, err
	}

	expected := make(map[string]bundle.FileRecord, len(manifest.Files))
	for _, record := range manifest.Files {
		relativePath := strings.TrimSpace(record.RelativePath)
		if relativePath == bundle.ManifestFileName {
			return Verification{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
				bundle.ManifestFileName+" must not include itself in files[]")
		}
		if _, duplicate := expected[relativePath]; duplicate {
			return Verification{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
				bundle.ManifestFileName+" has duplicate path: "+relativePath)
		}
		record.SHA256 = strings.ToLower(strings.TrimSpace(record.SHA256))
		expected[relativePath] = record
	}

	missing := pathSetDifference(expected, actual)
	extra := entrySetDifference(actual, expected)
	if len(missing) > 0 || len(extra) > 0 {
		return Verification{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			fmt.Sprintf("%s paths mismatch: missing=%v extra=%v", bundle.ManifestFileName, missing, extra))
	}

	paths := make([]string, 0, len(expected))
	for path := range expected {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		record := expected[path]
		payload, err := readEntry(actual[path], limits.MaxSingleFileBytes)
		if err != nil {
			return Verification{}, err
		}
		if int64(len(payload)) != record.SizeBytes {
			return Verification{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
				fmt.Sprintf("integrity mismatch for %q: size %d != %d", path, len(payload), record.SizeBytes))
		}
		sum := sha256.Sum256(payload)
		if hex.EncodeToString(sum[:]) != record.SHA256 {
			return Verification{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
				fmt.Sprintf("integrity mismatch for %q: sha256 does not match", path))
		}
	}

	signature, err := bundle.VerifySignature(rawManifest, signingKey, requireSignature)
	if err != nil {
		return Verification{}, err
	}

	return Verification{
		FilesChecked: len(expected),
		RunID:        strings.TrimSpace(manifest.RunID),
		SessionID:    strings.TrimSpace(manifest.SessionID),
		Signed:       signature.Signed,
		Status:       signature.Status,
		Warnings:     signature.Warnings,
	}, nil
}

// checkBundleIdentity rejects manifest/descriptor substitution: when the
// manifest declares an identity it must match the run descriptor's.
func checkBundleIdentity(runID, sessionID, bundleRunID, bundleSessionID string) error {
	if bundleRunID != "" && bundleRunID != runID {
		return coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			fmt.Sprintf("%s run_id does not match %s: bundle=%s run=%s",
				bundle.ManifestFileName, "run.json", bundleRunID, runID))
	}
	if bundleSessionID != "" && bundleSessionID != sessionID {
		return coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			fmt.Sprintf("%s session_id does not match %s: bundle=%s run=%s",
				bundle.ManifestFileName, "run.json", bundleSessionID, sessionID))
	}
	return nil
}

func pathSetDifference(expected map[string]bundle.FileRecord, actual map[string]*zip.File) []string {
	var diff []string
	for path := range expected {
		if _, ok := actual[path]; !ok {
			diff = append(diff, path)
		}
	}
	sort.Strings(diff)
	return diff
}

func entrySetDifference(actual map[string]*zip.File, expected map[string]bundle.FileRecord) []string {
	var diff []string
	for path := range actual {
		if _, ok := expected[path]; !ok {
			diff = append(diff, path)
		}
	}
	sort.Strings(diff)
	return diff
}

// readEntry reads one archive entry with a hard byte cap; the declared
// sizes were validated by the inspector, the cap guards against entries
// that lie about their size.
func readEntry(entry *zip.File, maxBytes int64) ([]byte, error) {
	reader, err := entry.Open()
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("open archive entry %s: %w", entry.Name, err),
			coreerrors.CodeRestoreInvalidArchive, "")
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("read archive entry %s: %w", entry.Name, err),
			coreerrors.CodeRestoreInvalidArchive, "")
	}
	if int64(len(data)) > maxBytes {
		return nil, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			fmt.Sprintf("archive entry %q exceeds max_single_file_bytes while reading", entry.Name))
	}
	return data, nil
}
