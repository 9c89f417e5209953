package txstore

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/iov-one/custos/errors"
)

// MemBackend keeps the namespace blob in memory. Use it in tests.
type MemBackend struct {
	mu   sync.Mutex
	blob []byte
}

var _ Backend = (*MemBackend)(nil)

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{}
}

func (b *MemBackend) Load() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blob == nil {
		return nil, nil
	}
	out := make([]byte, len(b.blob))
	copy(out, b.blob)
	return out, nil
}

func (b *MemBackend) Save(raw []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blob = make([]byte, len(raw))
	copy(b.blob, raw)
	return nil
}

// FileBackend persists the namespace blob as a single file. Writes go
// through a temporary file and a rename so a crash never leaves a half
// written namespace behind.
type FileBackend struct {
	path string
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend returns a backend storing under the given path. The
// parent directory must exist.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Load() ([]byte, error) {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}
	return raw, nil
}

func (b *FileBackend) Save(raw []byte) error {
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return errors.Wrap(err, "write temporary file")
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return errors.Wrap(err, "rename")
	}
	return nil
}

// LevelBackend persists the namespace blob in a leveldb database under
// the storage key.
type LevelBackend struct {
	db *leveldb.DB
}

var _ Backend = (*LevelBackend)(nil)

// OpenLevel opens (creating when needed) a leveldb database at the
// given directory.
func OpenLevel(dir string) (*LevelBackend, error) {
	db, err := leveldb.OpenFile(filepath.Clean(dir), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open leveldb")
	}
	return &LevelBackend{db: db}, nil
}

func (b *LevelBackend) Load() ([]byte, error) {
	raw, err := b.db.Get([]byte(StorageKey), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "leveldb get")
	}
	return raw, nil
}

func (b *LevelBackend) Save(raw []byte) error {
	if err := b.db.Put([]byte(StorageKey), raw, nil); err != nil {
		return errors.Wrap(err, "leveldb put")
	}
	return nil
}

// Close releases the underlying database.
func (b *LevelBackend) Close() error {
	return b.db.Close()
}
