// Package file persists conversations as JSON files on the local filesystem.
//
// Layout under the base path:
//
//	<workspace>/<conversation>.json   committed state
//	<workspace>/<conversation>.jsonl  transition log, one record per line
//
// Compare-and-swap is serialized by an in-process mutex, so a base path must
// be owned by a single process.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/aretw0/concierge/pkg/domain"
)

const (
	stateExt = ".json"
	logExt   = ".jsonl"
)

// Store implements ports.ConversationStore and ports.ConversationLister.
type Store struct {
	BasePath string

	mu sync.Mutex
}

// New creates a Store rooted at basePath.
// If basePath is empty, it defaults to ".concierge/conversations".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".concierge", "conversations")
	}
	return &Store{BasePath: basePath}
}

var errInvalidKey = errors.New("file store: invalid conversation key")

// checkKey rejects ids that are empty or would escape the base path.
func checkKey(key domain.ConversationKey) error {
	for _, id := range []string{key.WorkspaceID, key.ConversationID} {
		if id == "" || id == "." || id == ".." {
			return fmt.Errorf("%w: %q", errInvalidKey, key.String())
		}
	}
	return nil
}

func (s *Store) dir(workspaceID string) string {
	return filepath.Join(s.BasePath, url.PathEscape(workspaceID))
}

func (s *Store) path(key domain.ConversationKey, ext string) string {
	return filepath.Join(s.dir(key.WorkspaceID), url.PathEscape(key.ConversationID)+ext)
}

// Load reads the committed state.
func (s *Store) Load(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return s.read(key)
}

func (s *Store) read(key domain.ConversationKey) (*domain.ConversationState, error) {
	data, err := os.ReadFile(s.path(key, stateExt))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	var state domain.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation state: %w", err)
	}
	return &state, nil
}

// CompareAndSwap writes next when the stored version matches expectedVersion.
func (s *Store) CompareAndSwap(ctx context.Context, next *domain.ConversationState, expectedVersion int64) (*domain.ConversationState, error) {
	key := next.Key()
	if err := checkKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	stored, err := s.read(key)
	switch {
	case err == nil:
		current = stored.Version
	case !errors.Is(err, domain.ErrConversationNotFound):
		return nil, err
	}
	if current != expectedVersion {
		return nil, &domain.ConflictError{Key: key, ExpectedVersion: expectedVersion}
	}

	committed := next.Clone()
	committed.Version = expectedVersion + 1
	data, err := json.MarshalIndent(committed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	if err := writeAtomic(s.dir(key.WorkspaceID), s.path(key, stateExt), data); err != nil {
		return nil, err
	}
	return committed, nil
}

// writeAtomic writes to a temp file in the destination directory, syncs it
// and renames it over dest.
func writeAtomic(dir, dest string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure conversation directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*"+stateExt)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Append adds one JSON line to the conversation log.
func (s *Store) Append(ctx context.Context, record domain.TransitionRecord) error {
	key := record.Key()
	if err := checkKey(key); err != nil {
		return err
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir(key.WorkspaceID), 0o755); err != nil {
		return fmt.Errorf("failed to ensure conversation directory: %w", err)
	}
	f, err := os.OpenFile(s.path(key, logExt), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transition log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return f.Close()
}

// Transitions reads the log in append order. A missing log is empty.
func (s *Store) Transitions(ctx context.Context, key domain.ConversationKey) ([]domain.TransitionRecord, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key, logExt))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open transition log: %w", err)
	}
	defer f.Close()

	var records []domain.TransitionRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec domain.TransitionRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transition: %w", err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transition log: %w", err)
	}
	return records, nil
}

// List returns the conversation ids of a workspace, sorted.
func (s *Store) List(ctx context.Context, workspaceID string) ([]string, error) {
	if err := checkKey(domain.ConversationKey{WorkspaceID: workspaceID, ConversationID: "-"}); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir(workspaceID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != stateExt || strings.HasPrefix(name, "tmp-") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, stateExt))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
