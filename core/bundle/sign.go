package bundle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	coreerrors "kaucja/core/errors"
	"kaucja/core/jcs"
)

// AlgHMACSHA256 is the only signature algorithm the bundle format carries.
const AlgHMACSHA256 = "hmac-sha256"

// Signature verification outcomes. "invalid" never appears here: a present
// but mismatched signature is a hard error, not a status.
const (
	SignatureStatusUnsigned      = "unsigned"
	SignatureStatusSignedNoKey   = "signed_unverified_missing_key"
	SignatureStatusVerified      = "verified"
	SignatureStatusNotChecked    = "not_checked"
	SignatureStatusVerifying     = "verifying"
	SignatureStatusFailed        = "failed"
	SignatureStatusLegacyMissing = "missing_manifest_unsigned_legacy"
)

// Sign attaches an HMAC-SHA256 signature computed over the canonical JSON
// encoding of the manifest with the signature member absent. An empty key
// leaves the manifest unsigned.
func Sign(manifest Manifest, key string) (Manifest, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		manifest.Signature = nil
		return manifest, nil
	}
	unsigned := manifest
	unsigned.Signature = nil
	mac, err := computeMAC(unsigned, key)
	if err != nil {
		return Manifest{}, fmt.Errorf("sign manifest: %w", err)
	}
	manifest.Signature = &Signature{Algorithm: AlgHMACSHA256, HMACSHA256: mac}
	return manifest, nil
}

// SignatureVerification is the outcome of the four-way signature matrix.
type SignatureVerification struct {
	Signed   bool
	Status   string
	Warnings []string
}

// VerifySignature applies the signature matrix to raw manifest bytes:
// unsigned (allowed unless required), signed without a configured key
// (allowed unless required), verified, or a hard RESTORE_INVALID_SIGNATURE
// error for any malformed or mismatching signature.
func VerifySignature(rawManifest []byte, key string, requireSignature bool) (SignatureVerification, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(rawManifest, &payload); err != nil {
		return SignatureVerification{}, coreerrors.Wrap(
			fmt.Errorf("parse %s: %w", ManifestFileName, err),
			coreerrors.CodeRestoreInvalidArchive, "")
	}

	rawSignature, present := payload["signature"]
	if !present || string(rawSignature) == "null" {
		if requireSignature {
			return SignatureVerification{}, coreerrors.New(
				coreerrors.CodeRestoreInvalidSignature,
				"archive signature is required in strict mode, but "+ManifestFileName+" has no signature section")
		}
		return SignatureVerification{
			Signed: false,
			Status: SignatureStatusUnsigned,
			Warnings: []string{
				"archive is unsigned (" + ManifestFileName + " has no signature); strict mode is disabled, continuing restore",
			},
		}, nil
	}

	var signature Signature
	if err := json.Unmarshal(rawSignature, &signature); err != nil {
		return SignatureVerification{}, coreerrors.New(
			coreerrors.CodeRestoreInvalidSignature,
			ManifestFileName+" signature must be a JSON object")
	}
	algorithm := strings.ToLower(strings.TrimSpace(signature.Algorithm))
	if algorithm != AlgHMACSHA256 {
		if algorithm == "" {
			algorithm = "<empty>"
		}
		return SignatureVerification{}, coreerrors.New(
			coreerrors.CodeRestoreInvalidSignature,
			"unsupported signature algorithm in "+ManifestFileName+": "+algorithm)
	}
	provided := strings.ToLower(strings.TrimSpace(signature.HMACSHA256))
	if !isHex64(provided) {
		return SignatureVerification{}, coreerrors.New(
			coreerrors.CodeRestoreInvalidSignature,
			ManifestFileName+" signature value has invalid format")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		if requireSignature {
			return SignatureVerification{}, coreerrors.New(
				coreerrors.CodeRestoreInvalidSignature,
				"archive signature is present, but verification key is not configured")
		}
		return SignatureVerification{
			Signed: true,
			Status: SignatureStatusSignedNoKey,
			Warnings: []string{
				"archive is signed, but no signing key is configured; signature was not verified",
			},
		}, nil
	}

	delete(payload, "signature")
	signable, err := json.Marshal(payload)
	if err != nil {
		return SignatureVerification{}, fmt.Errorf("prepare signable manifest: %w", err)
	}
	expected, err := macHex(signable, key)
	if err != nil {
		return SignatureVerification{}, fmt.Errorf("compute manifest signature: %w", err)
	}
	providedRaw, err := hex.DecodeString(provided)
	if err != nil {
		return SignatureVerification{}, coreerrors.New(
			coreerrors.CodeRestoreInvalidSignature,
			ManifestFileName+" signature value has invalid format")
	}
	expectedRaw, _ := hex.DecodeString(expected)
	if !hmac.Equal(providedRaw, expectedRaw) {
		return SignatureVerification{}, coreerrors.New(
			coreerrors.CodeRestoreInvalidSignature,
			ManifestFileName+" signature mismatch")
	}
	return SignatureVerification{Signed: true, Status: SignatureStatusVerified}, nil
}

func computeMAC(manifest Manifest, key string) (string, error) {
	raw, err := json.Marshal(manifest)
	if err != nil {
		return "", err
	}
	return macHex(raw, key)
}

func macHex(rawJSON []byte, key string) (string, error) {
	canonical, err := jcs.Canonicalize(rawJSON)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func isHex64(value string) bool {
	if len(value) != 64 {
		return false
	}
	for _, char := range value {
		if (char < '0' || char > '9') && (char < 'a' || char > 'f') {
			return false
		}
	}
	return true
}
