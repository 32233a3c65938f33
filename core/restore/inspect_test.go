package restore

import (
	"archive/zip"
	"bytes"
	"io/fs"
	"strings"
	"testing"

	"kaucja/core/bundle"
	coreerrors "kaucja/core/errors"
)

func zipReaderFor(test *testing.T, files []bundle.File) *zip.Reader {
	test.Helper()
	var buffer bytes.Buffer
	if err := bundle.WriteDeterministicZip(&buffer, files); err != nil {
		test.Fatalf("write test zip: %v", err)
	}
	reader, err := zip.NewReader(bytes.NewReader(buffer.Bytes()), int64(buffer.Len()))
	if err != nil {
		test.Fatalf("open test zip: %v", err)
	}
	return reader
}

func minimalBundleFiles() []bundle.File {
	return []bundle.File{
		{Path: "run.json", Data: []byte(`{"session_id":"s","run_id":"r"}`)},
		{Path: "logs/run.log", Data: []byte("line\n")},
	}
}

func TestInspectArchiveAccepts(test *testing.T) {
	reader := zipReaderFor(test, minimalBundleFiles())
	inspection, err := InspectArchive(reader, SafetyLimits{})
	if err != nil {
		test.Fatalf("inspect: %v", err)
	}
	if len(inspection.FileEntries) != 2 {
		test.Fatalf("file entries = %d, want 2", len(inspection.FileEntries))
	}
	if inspection.HasBundleManifest {
		test.Fatalf("no manifest was written but one was detected")
	}
}

func TestInspectArchiveDetectsManifest(test *testing.T) {
	files := append(minimalBundleFiles(), bundle.File{
		Path: bundle.ManifestFileName,
		Data: []byte(`{"version":"v1","files":[]}`),
	})
	inspection, err := InspectArchive(zipReaderFor(test, files), SafetyLimits{})
	if err != nil {
		test.Fatalf("inspect: %v", err)
	}
	if !inspection.HasBundleManifest {
		test.Fatalf("manifest entry not detected")
	}
}

func TestInspectArchiveRejectsTraversal(test *testing.T) {
	cases := []string{
		"../escape.txt",
		"/etc/passwd",
		"documents/../../escape.txt",
		"documents/./x.txt",
		`logs\run.log`,
		"c:/windows/system32",
	}
	for _, name := range cases {
		files := append(minimalBundleFiles(), bundle.File{Path: name, Data: []byte("x")})
		_, err := InspectArchive(zipReaderFor(test, files), SafetyLimits{})
		if coreerrors.CodeOf(err) != coreerrors.CodeRestoreInvalidArchive {
			test.Fatalf("path %q: code = %s", name, coreerrors.CodeOf(err))
		}
	}
}

func TestInspectArchiveRejectsDuplicatePaths(test *testing.T) {
	var buffer bytes.Buffer
	zipWriter := zip.NewWriter(&buffer)
	for _, name := range []string{"run.json", "run.json", "logs/run.log"} {
		entryWriter, err := zipWriter.Create(name)
		if err != nil {
			test.Fatalf("create entry: %v", err)
		}
		if _, err := entryWriter.Write([]byte("{}")); err != nil {
			test.Fatalf("write entry: %v", err)
		}
	}
	if err := zipWriter.Close(); err != nil {
		test.Fatalf("close zip: %v", err)
	}
	reader, err := zip.NewReader(bytes.NewReader(buffer.Bytes()), int64(buffer.Len()))
	if err != nil {
		test.Fatalf("open zip: %v", err)
	}
	if _, err := InspectArchive(reader, SafetyLimits{}); coreerrors.CodeOf(err) != coreerrors.CodeRestoreInvalidArchive {
		test.Fatalf("duplicate path code = %s", coreerrors.CodeOf(err))
	}
}

func TestInspectArchiveRejectsSymlinkEntry(test *testing.T) {
	var buffer bytes.Buffer
	zipWriter := zip.NewWriter(&buffer)
	for _, file := range minimalBundleFiles() {
		entryWriter, err := zipWriter.Create(file.Path)
		if err != nil {
			test.Fatalf("create entry: %v", err)
		}
		if _, err := entryWriter.Write(file.Data); err != nil {
			test.Fatalf("write entry: %v", err)
		}
	}
	header := &zip.FileHeader{Name: "logs/evil", Method: zip.Deflate}
	header.SetMode(fs.ModeSymlink | 0o777)
	entryWriter, err := zipWriter.CreateHeader(header)
	if err != nil {
		test.Fatalf("create symlink entry: %v", err)
	}
	if _, err := entryWriter.Write([]byte("../../outside")); err != nil {
		test.Fatalf("write symlink entry: %v", err)
	}
	if err := zipWriter.Close(); err != nil {
		test.Fatalf("close zip: %v", err)
	}
	reader, err := zip.NewReader(bytes.NewReader(buffer.Bytes()), int64(buffer.Len()))
	if err != nil {
		test.Fatalf("open zip: %v", err)
	}

	_, err = InspectArchive(reader, SafetyLimits{})
	if coreerrors.CodeOf(err) != coreerrors.CodeRestoreInvalidArchive {
		test.Fatalf("symlink entry code = %s", coreerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "symlink entry") {
		test.Fatalf("symlink entry error = %v", err)
	}
}

func TestInspectArchiveRejectsMissingDescriptor(test *testing.T) {
	files := []bundle.File{
		{Path: "logs/run.log", Data: []byte("line\n")},
	}
	_, err := InspectArchive(zipReaderFor(test, files), SafetyLimits{})
	if coreerrors.CodeOf(err) != coreerrors.CodeRestoreInvalidArchive {
		test.Fatalf("missing run.json code = %s", coreerrors.CodeOf(err))
	}
}

func TestInspectArchiveRejectsMissingLayoutRoot(test *testing.T) {
	files := []bundle.File{
		{Path: "run.json", Data: []byte(`{"session_id":"s","run_id":"r"}`)},
		{Path: "notes.txt", Data: []byte("x")},
	}
	_, err := InspectArchive(zipReaderFor(test, files), SafetyLimits{})
	if coreerrors.CodeOf(err) != coreerrors.CodeRestoreInvalidArchive {
		test.Fatalf("missing layout root code = %s", coreerrors.CodeOf(err))
	}
}

func TestInspectArchiveEntryCountCeiling(test *testing.T) {
	files := minimalBundleFiles()
	_, err := InspectArchive(zipReaderFor(test, files), SafetyLimits{MaxEntries: 1})
	if coreerrors.CodeOf(err) != coreerrors.CodeRestoreInvalidArchive {
		test.Fatalf("entry ceiling code = %s", coreerrors.CodeOf(err))
	}
}

func TestInspectArchiveSingleFileCeiling(test *testing.T) {
	files := append(minimalBundleFiles(), bundle.File{
		Path: "documents/big.bin",
		Data: []byte(strings.Repeat("x", 64)),
	})
	_, err := InspectArchive(zipReaderFor(test, files), SafetyLimits{MaxSingleFileBytes: 32})
	if coreerrors.CodeOf(err) != coreerrors.CodeRestoreInvalidArchive {
		test.Fatalf("single file ceiling code = %s", coreerrors.CodeOf(err))
	}
}

func TestInspectArchiveAggregateCeiling(test *testing.T) {
	files := append(minimalBundleFiles(),
		bundle.File{Path: "documents/a.bin", Data: bytes.Repeat([]byte{0x41, 0x7a}, 40)},
		bundle.File{Path: "documents/b.bin", Data: bytes.Repeat([]byte{0x42, 0x7b}, 40)},
	)
	_, err := InspectArchive(zipReaderFor(test, files), SafetyLimits{
		MaxSingleFileBytes:        100,
		MaxTotalUncompressedBytes: 120,
	})
	if coreerrors.CodeOf(err) != coreerrors.CodeRestoreInvalidArchive {
		test.Fatalf("aggregate ceiling code = %s", coreerrors.CodeOf(err))
	}
}

func TestInspectArchiveCompressionRatioCeiling(test *testing.T) {
	files := append(minimalBundleFiles(), bundle.File{
		Path: "documents/zeros.bin",
		Data: make([]byte, 256*1024),
	})
	_, err := InspectArchive(zipReaderFor(test, files), SafetyLimits{})
	if coreerrors.CodeOf(err) != coreerrors.CodeRestoreInvalidArchive {
		test.Fatalf("ratio ceiling code = %s", coreerrors.CodeOf(err))
	}
}
