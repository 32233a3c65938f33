package restore

import (
	"archive/zip"
	"fmt"
	"os"
	"sort"
	"strings"

	"kaucja/core/bundle"
	coreerrors "kaucja/core/errors"
	"kaucja/core/storage"
)

var layoutRoots = map[string]bool{
	storage.LogsDirName:      true,
	storage.DocumentsDirName: true,
	storage.LLMDirName:       true,
}

// Inspection is the outcome of static archive validation: the file entries
// that passed every check, in sorted-path order, plus whether a bundle
// manifest entry is present.
type Inspection struct {
	FileEntries       []*zip.File
	HasBundleManifest bool
}

// InspectArchive validates an untrusted archive before any byte of content
// is extracted: entry count, path legality, symlink rejection, per-entry
// and aggregate decompression ceilings, and run-bundle structure.
func InspectArchive(reader *zip.Reader, limits SafetyLimits) (Inspection, error) {
	limits = limits.withDefaults()

	entries := append([]*zip.File{}, reader.File...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	if len(entries) == 0 {
		return Inspection{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive, "archive is empty")
	}
	if len(entries) > limits.MaxEntries {
		return Inspection{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			fmt.Sprintf("archive has too many entries (%d), limit is %d", len(entries), limits.MaxEntries))
	}

	inspection := Inspection{}
	seenPaths := make(map[string]bool, len(entries))
	hasDescriptor := false
	hasLayoutRoot := false
	var totalUncompressed int64

	for _, entry := range entries {
		normalized, err := safeEntryPath(entry.Name)
		if err != nil {
			return Inspection{}, err
		}
		if seenPaths[normalized] {
			return Inspection{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
				"archive contains duplicated entry path: "+entry.Name)
		}
		seenPaths[normalized] = true

		if isDirEntry(entry) {
			continue
		}
		if entry.Mode()&os.ModeSymlink != 0 {
			return Inspection{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
				"archive contains symlink entry: "+entry.Name)
		}

		if normalized == storage.RunDescriptorFileName {
			hasDescriptor = true
		}
		if normalized == bundle.ManifestFileName {
			inspection.HasBundleManifest = true
		}
		if firstSegment := strings.SplitN(normalized, "/", 2)[0]; layoutRoots[firstSegment] {
			hasLayoutRoot = true
		}

		if err := checkBombLimits(entry, limits); err != nil {
			return Inspection{}, err
		}
		totalUncompressed += int64(entry.UncompressedSize64) // #nosec G115 -- bounded by MaxSingleFileBytes above

		inspection.FileEntries = append(inspection.FileEntries, entry)
	}

	if totalUncompressed > limits.MaxTotalUncompressedBytes {
		return Inspection{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			fmt.Sprintf("archive uncompressed size exceeds allowed limit: %d > %d",
				totalUncompressed, limits.MaxTotalUncompressedBytes))
	}
	if !hasDescriptor {
		return Inspection{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			"archive does not contain "+storage.RunDescriptorFileName)
	}
	if !hasLayoutRoot {
		return Inspection{}, coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			"archive must contain at least one layout root from logs/documents/llm")
	}

	return inspection, nil
}

func checkBombLimits(entry *zip.File, limits SafetyLimits) error {
	uncompressed := int64(entry.UncompressedSize64) // #nosec G115 -- compared against limit immediately
	if uncompressed < 0 || uncompressed > limits.MaxSingleFileBytes {
		return coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			fmt.Sprintf("archive entry %q exceeds max_single_file_bytes: %d > %d",
				entry.Name, entry.UncompressedSize64, limits.MaxSingleFileBytes))
	}

	compressed := int64(entry.CompressedSize64) // #nosec G115 -- floored at 1 below
	if compressed < 1 {
		compressed = 1
	}
	ratio := float64(uncompressed) / float64(compressed)
	if ratio > limits.MaxCompressionRatio {
		return coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			fmt.Sprintf("archive entry %q exceeds max_compression_ratio: %.2f > %.2f",
				entry.Name, ratio, limits.MaxCompressionRatio))
	}
	return nil
}

// safeEntryPath normalizes an archive entry name to a safe relative POSIX
// path: no empty, "." or ".." segments, no absolute anchor, no drive-style
// prefix. Directory entries keep their normalized form without the
// trailing slash so a directory and a file cannot alias the same path.
func safeEntryPath(name string) (string, error) {
	if name == "" {
		return "", coreerrors.New(coreerrors.CodeRestoreInvalidArchive, "archive entry has empty name")
	}
	trimmed := strings.TrimSuffix(name, "/")
	if trimmed == "" || strings.HasPrefix(name, "/") {
		return "", coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			"archive entry uses absolute path: "+name)
	}
	segments := strings.Split(trimmed, "/")
	for _, segment := range segments {
		if segment == "" || segment == "." || segment == ".." {
			return "", coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
				"archive entry has invalid path: "+name)
		}
	}
	if strings.Contains(segments[0], ":") {
		return "", coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			"archive entry has invalid drive-style path: "+name)
	}
	if strings.Contains(trimmed, `\`) {
		return "", coreerrors.New(coreerrors.CodeRestoreInvalidArchive,
			"archive entry has invalid path: "+name)
	}
	return trimmed, nil
}

func isDirEntry(entry *zip.File) bool {
	return strings.HasSuffix(entry.Name, "/")
}
