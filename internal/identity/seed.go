package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/postalsys/meshcore/internal/crypto"
)

// seedFileName is the name of the file storing the identity seed
const seedFileName = "identity_seed"

var (
	// ErrSeedNotFound is returned when no seed file exists in the data directory
	ErrSeedNotFound = errors.New("identity seed not found")

	// ErrInvalidSeed is returned when the seed file or string is malformed
	ErrInvalidSeed = errors.New("invalid identity seed")
)

// ParseSeed parses a 64 character hex seed.
func ParseSeed(s string) (*crypto.SigningKeys, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")

	if len(s) != crypto.SeedSize*2 {
		return nil, fmt.Errorf("%w: got %d hex chars, expected %d", ErrInvalidSeed, len(s), crypto.SeedSize*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	return crypto.SigningKeysFromBytes(b)
}

// StoreSeed persists the seed of keys to dataDir with owner-only permissions.
func StoreSeed(dataDir string, keys *crypto.SigningKeys) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	filePath := filepath.Join(dataDir, seedFileName)
	seed := keys.Seed()

	// Write atomically by writing to temp file first
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, []byte(hex.EncodeToString(seed[:])+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write identity seed: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to persist identity seed: %w", err)
	}

	return nil
}

// LoadSeed reads the signing keys stored in dataDir.
func LoadSeed(dataDir string) (*crypto.SigningKeys, error) {
	filePath := filepath.Join(dataDir, seedFileName)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrSeedNotFound, filePath)
		}
		return nil, fmt.Errorf("failed to read identity seed: %w", err)
	}

	return ParseSeed(string(data))
}

// LoadOrCreate loads the seed from dataDir, or generates and persists a new
// one if none exists. The bool result reports whether a seed was created.
func LoadOrCreate(dataDir string) (*crypto.SigningKeys, bool, error) {
	keys, err := LoadSeed(dataDir)
	if err == nil {
		return keys, false, nil
	}
	if !errors.Is(err, ErrSeedNotFound) {
		return nil, false, err
	}

	keys, err = crypto.GenerateSigningKeys()
	if err != nil {
		return nil, false, err
	}
	if err := StoreSeed(dataDir, keys); err != nil {
		return nil, false, err
	}

	return keys, true, nil
}

// SeedExists checks if a seed file exists in the data directory.
func SeedExists(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, seedFileName))
	return err == nil
}
