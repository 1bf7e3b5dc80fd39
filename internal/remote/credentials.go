package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/driver-console/internal/models"
)

// Credentials is what a successful login leaves behind.
type Credentials struct {
	Token  string         `json:"token"`
	Driver *models.Driver `json:"driver,omitempty"`
}

type CredentialStore interface {
	Load() (Credentials, bool)
	Save(c Credentials) error
	Clear() error
}

type MemoryCredentials struct {
	mu sync.RWMutex
	c  *Credentials
}

func NewMemoryCredentials() *MemoryCredentials { return &MemoryCredentials{} }

func (m *MemoryCredentials) Load() (Credentials, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.c == nil {
		return Credentials{}, false
	}
	return *m.c, true
}

func (m *MemoryCredentials) Save(c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = &c
	return nil
}

func (m *MemoryCredentials) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = nil
	return nil
}

// FileCredentials keeps credentials in a JSON file readable only by the
// current user so a restart does not force a new login.
type FileCredentials struct {
	mu   sync.Mutex
	path string
}

func NewFileCredentials(path string) *FileCredentials {
	return &FileCredentials{path: path}
}

func (f *FileCredentials) Load() (Credentials, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.path)
	if err != nil {
		return Credentials{}, false
	}
	var c Credentials
	if err := json.Unmarshal(b, &c); err != nil || c.Token == "" {
		return Credentials{}, false
	}
	return c, true
}

func (f *FileCredentials) Save(c Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileCredentials) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// tokenExpired inspects a JWT's exp claim without verifying the
// signature; only the server can do that. Opaque tokens never expire
// locally.
func tokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
