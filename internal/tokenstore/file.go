package tokenstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-jose/go-jose/v3"
	"golang.org/x/crypto/hkdf"

	"mcpgate/pkg/logging"
)

const (
	recordFileExt = ".jwe"

	keyDerivationSalt = "mcpgate/tokenstore"
	keyDerivationInfo = "token-record-encryption"
)

// fileEnvelope is the plaintext of an encrypted record file. The service name
// is stored inside because file names are hashes.
type fileEnvelope struct {
	Service string  `json:"service"`
	Record  *Record `json:"record"`
}

// FileStore persists one JWE-encrypted file per service.
//
// SECURITY: the directory is created 0700 and files are written 0600. Files
// are encrypted with A256GCM under a key derived from the configured secret,
// so a copied token directory is useless without the secret. Token values
// are never logged.
type FileStore struct {
	mu  sync.Mutex
	dir string
	key []byte
}

// NewFileStore creates a FileStore rooted at dir. The secret must be non-empty.
func NewFileStore(dir, secret string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("token directory is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("token encryption secret is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token storage directory: %w", err)
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	return &FileStore{dir: dir, key: key}, nil
}

// deriveKey stretches the configured secret into a 32-byte A256GCM key.
func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(keyDerivationSalt), []byte(keyDerivationInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive token encryption key: %w", err)
	}
	return key, nil
}

// fileName returns a filesystem-safe name for a service.
func fileName(service string) string {
	hash := sha256.Sum256([]byte(service))
	return hex.EncodeToString(hash[:16]) + recordFileExt
}

// Get decrypts and returns the record for service.
func (s *FileStore) Get(_ context.Context, service string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.readFile(filepath.Join(s.dir, fileName(service)))
	if err != nil {
		return nil, err
	}
	if env.Service != service {
		return nil, ErrNotFound
	}
	return env.Record, nil
}

// Set encrypts rec and atomically replaces the service's file.
func (s *FileStore) Set(_ context.Context, service string, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("nil record for service %s", service)
	}

	plaintext, err := json.Marshal(fileEnvelope{Service: service, Record: rec})
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}

	encrypter, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: s.key}, nil)
	if err != nil {
		return fmt.Errorf("failed to create encrypter: %w", err)
	}
	obj, err := encrypter.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt token record: %w", err)
	}
	compact, err := obj.CompactSerialize()
	if err != nil {
		return fmt.Errorf("failed to serialize token record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.dir, fileName(service), []byte(compact)); err != nil {
		logging.Warn("TokenStore", "Failed to persist token for service=%s: %v", service, err)
		return fmt.Errorf("failed to persist token: %w", err)
	}

	logging.Debug("TokenStore", "Persisted token for service=%s (expires: %v, has_refresh_token: %t)",
		service, rec.ExpiresAt, rec.RefreshToken != "")
	return nil
}

// Delete removes the service's file. A missing file is not an error.
func (s *FileStore) Delete(_ context.Context, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, fileName(service)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

// ListServiceNames decrypts every record file to recover the service names.
// Files that cannot be read are skipped.
func (s *FileStore) ListServiceNames(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read token directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != recordFileExt {
			continue
		}
		env, err := s.readFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			logging.Warn("TokenStore", "Skipping unreadable token file %s: %v", entry.Name(), err)
			continue
		}
		names = append(names, env.Service)
	}

	sort.Strings(names)
	return names, nil
}

// readFile decrypts one record file. REQUIRES: s.mu held.
func (s *FileStore) readFile(path string) (*fileEnvelope, error) {
	// #nosec G304 -- path is built from a hash, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	obj, err := jose.ParseEncrypted(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	plaintext, err := obj.Decrypt(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(plaintext, &env); err != nil || env.Record == nil {
		return nil, fmt.Errorf("%w: invalid record payload", ErrCorrupt)
	}
	return &env, nil
}

// writeFileAtomic writes data to a temp file in dir and renames it into place.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}
