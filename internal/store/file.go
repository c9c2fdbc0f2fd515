// Package store provides the durable backends for the mapping registry.
//
// Every backend persists the whole mapping.Table as one unit and loads
// fail-soft: when the stored state is missing or cannot be decoded the
// backend logs a warning and returns an empty table.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Mastinoo/Invictusmessages/internal/mapping"
)

// Compile-time assertion: *FileStore satisfies mapping.Store.
var _ mapping.Store = (*FileStore)(nil)

// FileStore keeps the mapping table in a JSON document on disk.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore returns a FileStore writing to path. A nil logger defaults to
// slog.Default().
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the document path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the document. A missing file is the normal first-run case and
// is not logged as a problem.
func (s *FileStore) Load(_ context.Context) mapping.Table {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("mappings unreadable, starting empty", "path", s.path, "error", err)
		}
		return mapping.Table{}
	}

	t, err := decodeTable(data)
	if err != nil {
		s.logger.Warn("mappings malformed, starting empty", "path", s.path, "error", err)
		return mapping.Table{}
	}
	return t
}

// Save writes the document to a temp file next to the target, syncs it and
// renames it over the previous document.
func (s *FileStore) Save(ctx context.Context, t mapping.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeTable(t)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}

// encodeTable renders t in the persisted layout: an object keyed by guild ID
// whose values are ordered lists of mappings.
func encodeTable(t mapping.Table) ([]byte, error) {
	if t == nil {
		t = mapping.Table{}
	}
	data, err := json.MarshalIndent(t.Clone(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("store: encode mappings: %w", err)
	}
	return append(data, '\n'), nil
}

// decodeTable parses the persisted layout. Entries without a source or
// target are dropped; unknown fields are ignored.
func decodeTable(data []byte) (mapping.Table, error) {
	var raw map[string][]mapping.Mapping
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("store: decode mappings: %w", err)
	}

	t := make(mapping.Table, len(raw))
	for guildID, list := range raw {
		for _, m := range list {
			if m.Source == "" || m.Target == "" {
				continue
			}
			if m.TargetGuild == guildID {
				m.TargetGuild = ""
			}
			t[guildID] = append(t[guildID], m)
		}
	}
	return t, nil
}
