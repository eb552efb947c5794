package config

import "errors"

var (
	// ErrInvalidObfuscationMode indicates an unrecognized obfuscation mode.
	ErrInvalidObfuscationMode = errors.New("config: invalid obfuscation mode (must be \"DeterministicHash\", \"RandomUuid\", \"PreserveStructure\", or \"FlatNamespace\")")

	// ErrInvalidAead indicates an unrecognized AEAD name.
	ErrInvalidAead = errors.New("config: invalid aead (must be \"aes-256-gcm\" or \"chacha20-poly1305\")")

	// ErrInvalidChunkSize indicates a chunk size outside [64 KiB, 16 MiB].
	ErrInvalidChunkSize = errors.New("config: chunk size must be between 64 KiB and 16 MiB")

	// ErrInvalidChunkThreshold indicates a non-positive chunked-mode threshold.
	ErrInvalidChunkThreshold = errors.New("config: chunk threshold must be positive")

	// ErrInvalidHamtThreshold indicates a non-positive HAMT migration threshold.
	ErrInvalidHamtThreshold = errors.New("config: hamt migration threshold must be positive")

	// ErrInvalidRetentionWindow indicates a negative KEK retention window.
	ErrInvalidRetentionWindow = errors.New("config: kek retention window must not be negative")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")
)
