// Package rules caches "always allow" permission decisions so repeated
// prompts for the same tool invocation are answered without a round trip
// to the chat. The cache is an in-memory fingerprint set with optional
// best-effort JSON persistence; losing the file only costs extra prompts.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Cache is a set of prompt fingerprints the user chose to always allow.
// Safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	allow map[string]bool
	path  string // empty disables persistence
}

// New creates a cache. When path is non-empty, previously persisted
// fingerprints are loaded; a missing or corrupt file starts empty.
func New(path string) *Cache {
	c := &Cache{allow: make(map[string]bool), path: path}
	if path != "" {
		c.load()
	}
	return c
}

// Fingerprint derives the cache key from the prompt text alone, so the
// same tool invocation is recognised across sessions.
func Fingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// IsAllowed reports whether the prompt was previously always-allowed.
func (c *Cache) IsAllowed(prompt string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allow[Fingerprint(prompt)]
}

// Allow records an "always" decision for the prompt and persists the set
// when a path is configured.
func (c *Cache) Allow(prompt string) {
	c.mu.Lock()
	c.allow[Fingerprint(prompt)] = true
	snapshot := c.keys()
	c.mu.Unlock()

	if c.path != "" {
		if err := save(c.path, snapshot); err != nil {
			slog.Warn("rules: persist failed", "path", c.path, "err", err)
		}
	}
}

// Len returns the number of cached fingerprints.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.allow)
}

// keys returns the fingerprints; caller holds c.mu.
func (c *Cache) keys() []string {
	out := make([]string, 0, len(c.allow))
	for k := range c.allow {
		out = append(out, k)
	}
	return out
}

func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var fingerprints []string
	if err := json.Unmarshal(data, &fingerprints); err != nil {
		slog.Warn("rules: ignoring corrupt cache file", "path", c.path, "err", err)
		return
	}
	for _, fp := range fingerprints {
		c.allow[fp] = true
	}
}

// save writes the fingerprint list atomically (temp + rename).
func save(path string, fingerprints []string) error {
	data, err := json.Marshal(fingerprints)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
