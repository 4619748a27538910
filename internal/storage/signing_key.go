// Package storage keeps the client's local credentials on disk.
package storage

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GenerateSigningSeed generates a new ed25519 seed.
func GenerateSigningSeed() ([]byte, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate signing seed: %w", err)
	}
	return seed, nil
}

// SaveSigningSeed writes the seed as base64 with owner-only permissions.
func SaveSigningSeed(path string, seed []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(seed)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write signing key: %w", err)
	}
	return nil
}

// LoadSigningSeed reads a seed written by SaveSigningSeed.
func LoadSigningSeed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid signing key length: %d (expected %d)", len(seed), ed25519.SeedSize)
	}
	return seed, nil
}

// GetOrCreateSigningSeed loads the seed at path, creating one if the file
// does not exist. A file that exists but cannot be decoded is an error.
func GetOrCreateSigningSeed(path string) ([]byte, error) {
	seed, err := LoadSigningSeed(path)
	if err == nil {
		return seed, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	seed, err = GenerateSigningSeed()
	if err != nil {
		return nil, err
	}
	if err := SaveSigningSeed(path, seed); err != nil {
		return nil, err
	}
	return seed, nil
}
