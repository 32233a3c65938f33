// Package config resolves runtime settings from an optional YAML file with
// KAUCJA_* environment overrides on top. Flags beat both; that precedence is
// the CLI's business.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

const DefaultPath = ".kaucja/config.yaml"

type Settings struct {
	DBPath  string `yaml:"db_path"`
	DataDir string `yaml:"data_dir"`

	RestoreMaxEntries                int     `yaml:"restore_max_entries"`
	RestoreMaxTotalUncompressedBytes int64   `yaml:"restore_max_total_uncompressed_bytes"`
	RestoreMaxSingleFileBytes        int64   `yaml:"restore_max_single_file_bytes"`
	RestoreMaxCompressionRatio       float64 `yaml:"restore_max_compression_ratio"`
	RestoreRequireSignature          bool    `yaml:"restore_require_signature"`

	BundleSigningKeyEnv string `yaml:"bundle_signing_key_env"`
}

func Default() Settings {
	return Settings{
		DBPath:                           "data/kaucja.sqlite3",
		DataDir:                          "data",
		RestoreMaxEntries:                1000,
		RestoreMaxTotalUncompressedBytes: 512 * 1024 * 1024,
		RestoreMaxSingleFileBytes:        128 * 1024 * 1024,
		RestoreMaxCompressionRatio:       200.0,
		BundleSigningKeyEnv:              "KAUCJA_BUNDLE_SIGNING_KEY",
	}
}

// Load reads settings from path (missing file is fine) and applies
// environment overrides.
func Load(path string) (Settings, error) {
	settings := Default()
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		trimmedPath = DefaultPath
	}

	// #nosec G304 -- config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil && !os.IsNotExist(err) {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}
	if err == nil && len(strings.TrimSpace(string(content))) > 0 {
		if err := yaml.Unmarshal(content, &settings); err != nil {
			return Settings{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := settings.applyEnv(); err != nil {
		return Settings{}, err
	}
	settings.normalize()
	return settings, nil
}

func (s *Settings) applyEnv() error {
	s.DBPath = envString("KAUCJA_DB_PATH", s.DBPath)
	s.DataDir = envString("KAUCJA_DATA_DIR", s.DataDir)
	s.BundleSigningKeyEnv = envString("KAUCJA_BUNDLE_SIGNING_KEY_ENV", s.BundleSigningKeyEnv)

	var err error
	if s.RestoreMaxEntries, err = envInt("KAUCJA_RESTORE_MAX_ENTRIES", s.RestoreMaxEntries); err != nil {
		return err
	}
	if s.RestoreMaxTotalUncompressedBytes, err = envInt64("KAUCJA_RESTORE_MAX_TOTAL_UNCOMPRESSED_BYTES", s.RestoreMaxTotalUncompressedBytes); err != nil {
		return err
	}
	if s.RestoreMaxSingleFileBytes, err = envInt64("KAUCJA_RESTORE_MAX_SINGLE_FILE_BYTES", s.RestoreMaxSingleFileBytes); err != nil {
		return err
	}
	if s.RestoreMaxCompressionRatio, err = envFloat("KAUCJA_RESTORE_MAX_COMPRESSION_RATIO", s.RestoreMaxCompressionRatio); err != nil {
		return err
	}
	if s.RestoreRequireSignature, err = envBool("KAUCJA_RESTORE_REQUIRE_SIGNATURE", s.RestoreRequireSignature); err != nil {
		return err
	}
	return nil
}

func (s *Settings) normalize() {
	s.DBPath = strings.TrimSpace(s.DBPath)
	s.DataDir = strings.TrimSpace(s.DataDir)
	s.BundleSigningKeyEnv = strings.TrimSpace(s.BundleSigningKeyEnv)
}

// SigningKey reads the bundle signing key from the configured environment
// variable. Empty means unsigned export and unverified restore.
func (s Settings) SigningKey() string {
	if s.BundleSigningKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(s.BundleSigningKeyEnv))
}

func envString(key, def string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return def
}

func envInt(key string, def int) (int, error) {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return parsed, nil
	}
	return def, nil
}

func envInt64(key string, def int64) (int64, error) {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return parsed, nil
	}
	return def, nil
}

func envFloat(key string, def float64) (float64, error) {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return parsed, nil
	}
	return def, nil
}

func envBool(key string, def bool) (bool, error) {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", key, err)
		}
		return parsed, nil
	}
	return def, nil
}
