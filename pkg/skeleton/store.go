package skeleton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// ErrInvalidTenantID is returned when a tenant id cannot be used as a
// storage key or file name.
var ErrInvalidTenantID = errors.New("invalid tenant ID: contains path traversal or invalid characters")

// SnapshotStore persists the last published snapshot of each tenant.
// Load returns nil, nil when no snapshot exists.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, tenantID string) (*Snapshot, error)
	Delete(ctx context.Context, tenantID string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

var (
	_ SnapshotStore = (*MemorySnapshotStore)(nil)
	_ SnapshotStore = (*FileSnapshotStore)(nil)
	_ SnapshotStore = (*BadgerSnapshotStore)(nil)
)

// validateTenantID rejects ids with path separators, traversal sequences or
// NUL bytes.
func validateTenantID(tenantID string) error {
	if tenantID == "" {
		return ErrInvalidTenantID
	}
	if strings.Contains(tenantID, "..") {
		return ErrInvalidTenantID
	}
	if strings.ContainsAny(tenantID, `/\`) {
		return ErrInvalidTenantID
	}
	if strings.ContainsRune(tenantID, '\x00') {
		return ErrInvalidTenantID
	}
	return nil
}

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string][]byte)}
}

func (m *MemorySnapshotStore) Save(_ context.Context, snap *Snapshot) error {
	if err := validateTenantID(snap.TenantID); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.TenantID] = data
	return nil
}

func (m *MemorySnapshotStore) Load(_ context.Context, tenantID string) (*Snapshot, error) {
	m.mu.RLock()
	data, ok := m.snaps[tenantID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeSnapshot(data)
}

func (m *MemorySnapshotStore) Delete(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, tenantID)
	return nil
}

func (m *MemorySnapshotStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.snaps))
	for id := range m.snaps {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemorySnapshotStore) Close() error { return nil }

// FileSnapshotStore writes one JSON file per tenant. Writes go to a
// temporary file that is renamed into place.
type FileSnapshotStore struct {
	dir string
}

// NewFileSnapshotStore creates the store, creating dir if needed. An empty
// dir uses os.TempDir()/strata-skeleton.
func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "strata-skeleton")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileSnapshotStore{dir: dir}, nil
}

// Dir returns the snapshot directory.
func (f *FileSnapshotStore) Dir() string {
	return f.dir
}

func (f *FileSnapshotStore) path(tenantID string) (string, error) {
	if err := validateTenantID(tenantID); err != nil {
		return "", err
	}
	full := filepath.Join(f.dir, fmt.Sprintf("skeleton_%s.json", tenantID))
	if !isPathWithinDirectory(full, f.dir) {
		return "", ErrInvalidTenantID
	}
	return full, nil
}

func isPathWithinDirectory(path, directory string) bool {
	cleanPath := filepath.Clean(path)
	cleanDir := filepath.Clean(directory)
	if !strings.HasSuffix(cleanDir, string(filepath.Separator)) {
		cleanDir += string(filepath.Separator)
	}
	return strings.HasPrefix(cleanPath, cleanDir)
}

func (f *FileSnapshotStore) Save(_ context.Context, snap *Snapshot) error {
	path, err := f.path(snap.TenantID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}
	return nil
}

func (f *FileSnapshotStore) Load(_ context.Context, tenantID string) (*Snapshot, error) {
	path, err := f.path(tenantID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	return decodeSnapshot(data)
}

func (f *FileSnapshotStore) Delete(_ context.Context, tenantID string) error {
	path, err := f.path(tenantID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}
	return nil
}

func (f *FileSnapshotStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || !strings.HasPrefix(name, "skeleton_") {
			continue
		}
		out = append(out, strings.TrimSuffix(strings.TrimPrefix(name, "skeleton_"), ".json"))
	}
	sort.Strings(out)
	return out, nil
}

func (f *FileSnapshotStore) Close() error { return nil }

const badgerKeyPrefix = "skeleton/"

// BadgerSnapshotStore keeps snapshots in an embedded Badger database.
type BadgerSnapshotStore struct {
	db *badger.DB
}

// NewBadgerSnapshotStore opens a Badger database at dir. An empty dir opens
// an in-memory database.
func NewBadgerSnapshotStore(dir string) (*BadgerSnapshotStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", dir, err)
	}
	return &BadgerSnapshotStore{db: db}, nil
}

func (b *BadgerSnapshotStore) Save(_ context.Context, snap *Snapshot) error {
	if err := validateTenantID(snap.TenantID); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+snap.TenantID), data)
	})
}

func (b *BadgerSnapshotStore) Load(_ context.Context, tenantID string) (*Snapshot, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + tenantID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for tenant %s: %w", tenantID, err)
	}
	return decodeSnapshot(data)
}

func (b *BadgerSnapshotStore) Delete(_ context.Context, tenantID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + tenantID))
	})
}

func (b *BadgerSnapshotStore) List(_ context.Context) ([]string, error) {
	var out []string
	prefix := []byte(badgerKeyPrefix)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), badgerKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerSnapshotStore) Close() error {
	return b.db.Close()
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
