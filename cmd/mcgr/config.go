package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds CLI configuration options.
type Config struct {
	CachePath  string `json:"cache_path"`            //nolint:tagliatelle // snake_case for config file
	Limit      int    `json:"limit,omitempty"`       // default lookup limit (0 = unbounded)
	DumpFormat string `json:"dump_format,omitempty"` // "json" or "cbor"
}

// ConfigFileName is the default config file name, looked up in the working
// directory.
const ConfigFileName = ".mcgr.json"

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigInvalid      = errors.New("invalid config file")
	errBadDumpFormat      = errors.New("dump_format must be \"json\" or \"cbor\"")
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DumpFormat: "json",
	}
}

// LoadConfig loads configuration with the following precedence (highest
// wins): defaults, config file, CLI flags (applied by the caller).
//
// configPath, when non-empty, names an explicit config file that must exist.
// Otherwise .mcgr.json in workDir is loaded if present. Config files are
// JSONC (comments and trailing commas allowed).
func LoadConfig(workDir, configPath string) (Config, error) {
	cfg := DefaultConfig()

	cfgFile := configPath

	mustExist := configPath != ""
	if !mustExist {
		cfgFile = filepath.Join(workDir, ConfigFileName)
	} else if !filepath.IsAbs(cfgFile) {
		cfgFile = filepath.Join(workDir, cfgFile)
	}

	data, err := os.ReadFile(cfgFile) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, nil
		}

		return Config{}, fmt.Errorf("%w: %s", errConfigFileNotFound, cfgFile)
	}

	fileCfg, parseErr := parseConfig(data)
	if parseErr != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, cfgFile, parseErr)
	}

	cfg = mergeConfig(cfg, fileCfg)

	validateErr := validateConfig(cfg)
	if validateErr != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, cfgFile, validateErr)
	}

	return cfg, nil
}

func parseConfig(data []byte) (Config, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	unmarshalErr := json.Unmarshal(standardized, &cfg)
	if unmarshalErr != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", unmarshalErr)
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.CachePath != "" {
		base.CachePath = overlay.CachePath
	}

	if overlay.Limit != 0 {
		base.Limit = overlay.Limit
	}

	if overlay.DumpFormat != "" {
		base.DumpFormat = overlay.DumpFormat
	}

	return base
}

func validateConfig(cfg Config) error {
	switch cfg.DumpFormat {
	case "json", "cbor":
		return nil
	default:
		return errBadDumpFormat
	}
}
