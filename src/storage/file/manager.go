package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

const DefaultBlockSize int32 = 4096

// Manager performs block-granular I/O against the files of one database
// directory. All blocks have the same fixed size, chosen at construction.
type Manager struct {
	fs        afero.Fs
	dbDir     string
	blockSize int32

	mu    sync.Mutex
	open  map[string]afero.File
	isNew bool
}

func NewManager(fs afero.Fs, dbDir string, blockSize int32) (*Manager, error) {
	if blockSize < 2*IntSize {
		return nil, fmt.Errorf("block size %d is too small", blockSize)
	}

	exists, err := afero.DirExists(fs, dbDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat db dir %s: %w", dbDir, err)
	}
	if !exists {
		if err := fs.MkdirAll(dbDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create db dir %s: %w", dbDir, err)
		}
	}

	return &Manager{
		fs:        fs,
		dbDir:     dbDir,
		blockSize: blockSize,
		open:      map[string]afero.File{},
		isNew:     !exists,
	}, nil
}

func (m *Manager) BlockSize() int32 {
	return m.blockSize
}

// IsNew reports whether the database directory was created by this manager.
func (m *Manager) IsNew() bool {
	return m.isNew
}

// Read copies the block's bytes into p. A block past the current end of
// file reads as zeroes, which is what a freshly appended block holds.
func (m *Manager) Read(blk BlockID, p *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getFile(blk.Filename)
	if err != nil {
		return err
	}

	p.Clear()
	_, err = f.ReadAt(p.Contents(), int64(blk.Num)*int64(m.blockSize))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("failed to read %v: %w", blk, err)
	}
	return nil
}

func (m *Manager) Write(blk BlockID, p *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getFile(blk.Filename)
	if err != nil {
		return err
	}

	_, err = f.WriteAt(p.Contents(), int64(blk.Num)*int64(m.blockSize))
	if err != nil {
		return fmt.Errorf("failed to write %v: %w", blk, err)
	}
	return nil
}

// Append extends filename by one zero-filled block and returns its locator.
func (m *Manager) Append(filename string) (BlockID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getFile(filename)
	if err != nil {
		return BlockID{}, err
	}

	num, err := m.blockCount(f)
	if err != nil {
		return BlockID{}, fmt.Errorf("failed to size %s: %w", filename, err)
	}

	blk := NewBlockID(filename, num)
	zeroes := make([]byte, m.blockSize)
	if _, err := f.WriteAt(zeroes, int64(num)*int64(m.blockSize)); err != nil {
		return BlockID{}, fmt.Errorf("failed to append to %s: %w", filename, err)
	}
	return blk, nil
}

// Size returns the number of blocks in filename.
func (m *Manager) Size(filename string) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getFile(filename)
	if err != nil {
		return 0, err
	}

	n, err := m.blockCount(f)
	if err != nil {
		return 0, fmt.Errorf("failed to size %s: %w", filename, err)
	}
	return n, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for name, f := range m.open {
		err = errors.Join(err, f.Close())
		delete(m.open, name)
	}
	return err
}

func (m *Manager) blockCount(f afero.File) (int32, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return int32(st.Size() / int64(m.blockSize)), nil
}

func (m *Manager) getFile(filename string) (afero.File, error) {
	if f, ok := m.open[filename]; ok {
		return f, nil
	}

	path := filepath.Join(m.dbDir, filepath.Clean(filename))
	f, err := m.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	m.open[filename] = f
	return f, nil
}
