package bundle

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"

	coreerrors "kaucja/core/errors"
	"kaucja/core/jcs"
)

//go:embed bundle_manifest_schema.json
var manifestSchemaJSON []byte

var (
	manifestSchemaOnce sync.Once
	manifestSchema     *jsonschema.Schema
	manifestSchemaErr  error
)

func compiledManifestSchema() (*jsonschema.Schema, error) {
	manifestSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		manifestSchema, manifestSchemaErr = compiler.Compile(manifestSchemaJSON)
	})
	return manifestSchema, manifestSchemaErr
}

// ParseManifest validates raw bundle-manifest bytes against the embedded
// schema and decodes them. Any shape deviation is a hard
// RESTORE_INVALID_ARCHIVE; signature shape is checked separately so
// signature problems keep their own error code.
func ParseManifest(raw []byte) (Manifest, error) {
	schema, err := compiledManifestSchema()
	if err != nil {
		return Manifest{}, fmt.Errorf("compile manifest schema: %w", err)
	}
	result := schema.ValidateJSON(raw)
	if !result.IsValid() {
		return Manifest{}, coreerrors.Wrap(
			fmt.Errorf("%s schema validation failed: %v", ManifestFileName, result.Errors),
			coreerrors.CodeRestoreInvalidArchive, "")
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, coreerrors.Wrap(
			fmt.Errorf("parse %s: %w", ManifestFileName, err),
			coreerrors.CodeRestoreInvalidArchive, "")
	}
	return manifest, nil
}

// MarshalManifest encodes a manifest as canonical JSON so the archived
// bytes are stable and directly signable.
func MarshalManifest(manifest Manifest) ([]byte, error) {
	encoded, err := jcs.MarshalCanonical(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ManifestFileName, err)
	}
	return encoded, nil
}
