// Package config holds the recognized options of the storage core and their
// validation rules.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Obfuscation modes for storage keys.
const (
	ModeDeterministicHash = "DeterministicHash"
	ModeRandomUuid        = "RandomUuid"
	ModePreserveStructure = "PreserveStructure"
	ModeFlatNamespace     = "FlatNamespace"
)

// Chunk size bounds and defaults for the chunked pipeline.
const (
	MinChunkSize          = 64 * 1024
	MaxChunkSize          = 16 * 1024 * 1024
	DefaultChunkSize      = 256 * 1024
	DefaultChunkThreshold = 5 * 1024 * 1024
)

// DefaultHamtThreshold is the file count at which the forest migrates to
// the HAMT representation.
const DefaultHamtThreshold = 1000

// DefaultKekRetention is how long the previous keypair is kept after a
// rotation.
const DefaultKekRetention = 30 * 24 * time.Hour

// Options are the recognized configuration keys of the core.
type Options struct {
	// ObfuscationMode selects how logical paths map to storage keys.
	ObfuscationMode string `json:"obfuscation_mode"`

	// Aead selects the AEAD family: "aes-256-gcm" or "chacha20-poly1305".
	Aead string `json:"aead"`

	// ChunkSizeBytes is the chunk size for chunked mode, in [64 KiB, 16 MiB].
	ChunkSizeBytes int `json:"chunk_size_bytes"`

	// ChunkThresholdBytes is the object size above which chunked mode is used.
	ChunkThresholdBytes int `json:"chunk_threshold_bytes"`

	// HamtMigrationThreshold is the file count at which the forest
	// migrates to HAMT.
	HamtMigrationThreshold int `json:"hamt_migration_threshold"`

	// KekRetentionWindow is how long the previous keypair is retained after
	// rotation, in seconds.
	KekRetentionWindow int64 `json:"kek_retention_window"`
}

// DefaultOptions returns the recommended configuration: flat-namespace
// obfuscation, AES-256-GCM, 256 KiB chunks above 5 MiB, HAMT at 1000 files.
func DefaultOptions() Options {
	return Options{
		ObfuscationMode:        ModeFlatNamespace,
		Aead:                   "aes-256-gcm",
		ChunkSizeBytes:         DefaultChunkSize,
		ChunkThresholdBytes:    DefaultChunkThreshold,
		HamtMigrationThreshold: DefaultHamtThreshold,
		KekRetentionWindow:     int64(DefaultKekRetention / time.Second),
	}
}

// validModes lists the accepted obfuscation mode strings.
var validModes = map[string]bool{
	ModeDeterministicHash: true,
	ModeRandomUuid:        true,
	ModePreserveStructure: true,
	ModeFlatNamespace:     true,
}

// validAeads lists the accepted AEAD names.
var validAeads = map[string]bool{
	"aes-256-gcm":       true,
	"chacha20-poly1305": true,
}

// Validate checks that all option values are within acceptable ranges and
// returns the first error encountered, or nil if valid.
func (o Options) Validate() error {
	if !validModes[o.ObfuscationMode] {
		return ErrInvalidObfuscationMode
	}
	if !validAeads[o.Aead] {
		return ErrInvalidAead
	}
	if o.ChunkSizeBytes < MinChunkSize || o.ChunkSizeBytes > MaxChunkSize {
		return ErrInvalidChunkSize
	}
	if o.ChunkThresholdBytes <= 0 {
		return ErrInvalidChunkThreshold
	}
	if o.HamtMigrationThreshold <= 0 {
		return ErrInvalidHamtThreshold
	}
	if o.KekRetentionWindow < 0 {
		return ErrInvalidRetentionWindow
	}
	return nil
}

// LoadOptions reads options from a JSON file. Fields missing from the file
// keep their defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, ErrConfigNotFound
		}
		return opts, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}
