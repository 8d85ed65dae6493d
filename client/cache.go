package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/go-patient-auth/users"
)

// IdentityCache keeps the last known identity between process runs. It never holds credentials.
type IdentityCache interface {
	Load() (*users.Identity, error)
	Save(identity users.Identity) error
	Clear() error
}

var (
	_ IdentityCache = (*FileCache)(nil)
	_ IdentityCache = (*MemoryCache)(nil)
)

// FileCache stores the identity as JSON in a single file.
type FileCache struct {
	path string
}

func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Load returns nil, nil when nothing has been cached.
func (c *FileCache) Load() (*users.Identity, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[FileCache.Load] %w", err)
	}

	var identity users.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("[FileCache.Load] decoding %s: %w", c.path, err)
	}
	if identity.ID == "" {
		return nil, nil
	}
	return &identity, nil
}

func (c *FileCache) Save(identity users.Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("[FileCache.Save] %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("[FileCache.Save] %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("[FileCache.Save] %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("[FileCache.Save] %w", err)
	}
	return nil
}

func (c *FileCache) Clear() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("[FileCache.Clear] %w", err)
	}
	return nil
}

// MemoryCache is an in-process cache, mostly for tests.
type MemoryCache struct {
	mu       sync.RWMutex
	identity *users.Identity
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Load() (*users.Identity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return nil, nil
	}
	identity := *c.identity
	return &identity, nil
}

func (c *MemoryCache) Save(identity users.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = &identity
	return nil
}

func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = nil
	return nil
}
