package estimation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type fileEntry struct {
	Resources []string `yaml:"resources,omitempty"`
	Handler   string   `yaml:"handler,omitempty"`
	Duration  string   `yaml:"duration,omitempty"`
}

// FileStore keeps all entries in one YAML document, rewritten on every Put.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]fileEntry
}

// NewFileStore loads path; a missing file starts an empty store.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, entries: make(map[string]fileEntry)}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &s.entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if s.entries == nil {
		s.entries = make(map[string]fileEntry)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, submitter string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fe, ok := s.entries[submitter]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e := Entry{Resources: append([]string(nil), fe.Resources...), Handler: fe.Handler}
	if fe.Duration != "" {
		d, err := time.ParseDuration(fe.Duration)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid duration %q for %s: %w", fe.Duration, submitter, err)
		}
		e.Duration = d
	}
	return e, nil
}

func (s *FileStore) Put(_ context.Context, submitter string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fe := fileEntry{Resources: append([]string(nil), e.Resources...), Handler: e.Handler}
	if e.Duration > 0 {
		fe.Duration = e.Duration.String()
	}
	s.entries[submitter] = fe

	b, err := yaml.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}
