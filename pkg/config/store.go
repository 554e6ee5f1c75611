package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultConfigPath is used when MCP_CONFIG_PATH is unset.
const DefaultConfigPath = "./mcp_config.json"

// Store is the single owner of reads and writes to the persisted config
// file. Every mutation goes through Update, which loads, mutates, and
// rewrites atomically via a temp-file-and-rename.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore builds a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Read loads the current document, treating a missing file as empty.
func (s *Store) Read() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *Store) readLocked() (*Document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{MCPServers: map[string]*BackendSpec{}}, nil
		}
		return nil, fmt.Errorf("reading config store %s: %w", s.path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing config store %s: %w", s.path, err)
	}
	if doc.MCPServers == nil {
		doc.MCPServers = map[string]*BackendSpec{}
	}
	for id, spec := range doc.MCPServers {
		spec.ID = id
	}
	return &doc, nil
}

// Update loads the document, applies mutate, and rewrites the file
// atomically. mutate may add, replace, or delete entries in place.
func (s *Store) Update(mutate func(doc *Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	mutate(doc)
	return s.writeLocked(doc)
}

func (s *Store) writeLocked(doc *Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".mcp_config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("writing temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming temp config file: %w", err)
	}
	return nil
}
