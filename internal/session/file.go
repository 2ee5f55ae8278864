package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// credentialsFile is the record name inside an identity's namespace directory.
const credentialsFile = "creds.json"

// FileStore keeps each identity's credentials in <root>/<identity>/creds.json.
// Writes go through renameio (temp file, fsync, rename) so the file is either
// the old record or the new one, never a mix.
type FileStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // identity → namespace lock
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Namespace returns the directory that holds identity's state.
func (s *FileStore) Namespace(identity string) string {
	return filepath.Join(s.root, identity)
}

func (s *FileStore) lock(identity string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		s.locks[identity] = l
	}
	return l
}

func (s *FileStore) Load(_ context.Context, identity string) (*Credentials, error) {
	if _, err := NormalizeIdentity(identity); err != nil {
		return nil, err
	}
	l := s.lock(identity)
	l.Lock()
	defer l.Unlock()
	return s.read(identity)
}

func (s *FileStore) read(identity string) (*Credentials, error) {
	data, err := os.ReadFile(filepath.Join(s.Namespace(identity), credentialsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode credentials for %s: %w", identity, err)
	}
	return &c, nil
}

func (s *FileStore) Save(_ context.Context, identity string, blob []byte) (*Credentials, error) {
	if _, err := NormalizeIdentity(identity); err != nil {
		return nil, err
	}
	l := s.lock(identity)
	l.Lock()
	defer l.Unlock()

	var revision uint64
	prev, err := s.read(identity)
	switch {
	case err == nil:
		revision = prev.Revision
	case errors.Is(err, ErrNotFound):
	default:
		// A corrupt record is replaced rather than blocking re-linking.
		slog.Warn("session: replacing unreadable credentials", "identity", identity, "error", err)
	}

	c := &Credentials{
		Identity:  identity,
		Blob:      append([]byte(nil), blob...),
		Revision:  revision + 1,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}

	dir := s.Namespace(identity)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create namespace: %w", err)
	}

	pending, err := renameio.NewPendingFile(filepath.Join(dir, credentialsFile), renameio.WithPermissions(0600))
	if err != nil {
		return nil, fmt.Errorf("create pending credentials file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			slog.Debug("session: cleanup pending file", "error", err)
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return nil, fmt.Errorf("write credentials: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("atomically replace credentials: %w", err)
	}
	return c, nil
}

func (s *FileStore) Clear(_ context.Context, identity string) error {
	if _, err := NormalizeIdentity(identity); err != nil {
		return err
	}
	l := s.lock(identity)
	l.Lock()
	defer l.Unlock()

	err := os.Remove(filepath.Join(s.Namespace(identity), credentialsFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list session dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := NormalizeIdentity(e.Name()); err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), credentialsFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Close() error { return nil }
