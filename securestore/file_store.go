package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

const (
	saltSize = 16
	// scrypt parameters (N, r, p) sized for a one-time derivation at startup
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// FileStore is a Store backed by a single AES-256-GCM encrypted file. The
// encryption key is derived from a device keystore secret supplied by the
// platform, so the blob carries the same at-rest confidentiality as the
// hardware-backed store it stands in for.
type FileStore struct {
	path   string
	aead   cipher.AEAD
	salt   []byte
	logger *slog.Logger

	mu     sync.Mutex
	values map[string]string
}

// NewFileStore opens (or creates) the encrypted store at path. secret is the
// platform keystore secret used to derive the encryption key.
func NewFileStore(path string, secret []byte, logger *slog.Logger) (*FileStore, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("keystore secret is required")
	}

	fs := &FileStore{
		path:   path,
		logger: logger,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		fs.salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, fs.salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := fs.deriveAEAD(secret); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read secure store: %w", err)
	default:
		if len(data) < saltSize {
			return nil, fmt.Errorf("secure store file is truncated")
		}
		fs.salt = data[:saltSize]
		if err := fs.deriveAEAD(secret); err != nil {
			return nil, err
		}
		if err := fs.open(data[saltSize:]); err != nil {
			return nil, err
		}
	}

	return fs, nil
}

func (fs *FileStore) deriveAEAD(secret []byte) error {
	key, err := scrypt.Key(secret, fs.salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return fmt.Errorf("failed to derive store key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	fs.aead = gcm
	return nil
}

func (fs *FileStore) open(sealed []byte) error {
	if len(sealed) < fs.aead.NonceSize() {
		return fmt.Errorf("secure store file is truncated")
	}

	nonce, ciphertext := sealed[:fs.aead.NonceSize()], sealed[fs.aead.NonceSize():]
	plaintext, err := fs.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("failed to decrypt secure store: %w", err)
	}

	if err := json.Unmarshal(plaintext, &fs.values); err != nil {
		return fmt.Errorf("failed to decode secure store: %w", err)
	}
	return nil
}

// persist seals the current values and writes them atomically. Caller holds fs.mu.
func (fs *FileStore) persist() error {
	plaintext, err := json.Marshal(fs.values)
	if err != nil {
		return fmt.Errorf("failed to encode secure store: %w", err)
	}

	nonce := make([]byte, fs.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+fs.aead.Overhead())
	sealed = append(sealed, fs.salt...)
	sealed = append(sealed, nonce...)
	sealed = fs.aead.Seal(sealed, nonce, plaintext, nil)

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".securestore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write secure store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close secure store: %w", err)
	}

	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace secure store: %w", err)
	}
	return nil
}

// Get returns the value for key, or ("", false) if absent
func (fs *FileStore) Get(ctx context.Context, key string) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	value, ok := fs.values[key]
	return value, ok
}

// GetJSON decodes the value for key into dest
func (fs *FileStore) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, ok := fs.Get(ctx, key)
	if !ok {
		return false
	}
	return decodeValue(raw, dest, fs.logger)
}

// Set stores value under key, JSON-encoding non-string values
func (fs *FileStore) Set(ctx context.Context, key string, value any) bool {
	encoded, err := encodeValue(value)
	if err != nil {
		fs.logger.Warn("failed to encode secure store value",
			slog.String("key", key), slog.Any("error", err))
		return false
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	previous, had := fs.values[key]
	fs.values[key] = encoded
	if err := fs.persist(); err != nil {
		// Roll back the in-memory map so reads stay consistent with disk
		if had {
			fs.values[key] = previous
		} else {
			delete(fs.values, key)
		}
		fs.logger.Warn("failed to persist secure store",
			slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

// Remove deletes key; removing an absent key succeeds
func (fs *FileStore) Remove(ctx context.Context, key string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	previous, had := fs.values[key]
	if !had {
		return true
	}

	delete(fs.values, key)
	if err := fs.persist(); err != nil {
		fs.values[key] = previous
		fs.logger.Warn("failed to persist secure store",
			slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

// ClearAll removes every listed key
func (fs *FileStore) ClearAll(ctx context.Context, keys ...string) bool {
	ok := true
	for _, key := range keys {
		if !fs.Remove(ctx, key) {
			ok = false
		}
	}
	return ok
}
