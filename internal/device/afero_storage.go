package device

import (
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/spf13/afero"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
)

// AferoStore is a FileStore backed by an afero filesystem. It serves SD card and
// CTRNAND trees unpacked into host directories, and in-memory trees in tests.
type AferoStore struct {
	fs afero.Fs
}

var _ interfaces.FileStore = (*AferoStore)(nil)

// NewAferoStore wraps fs
func NewAferoStore(fs afero.Fs) *AferoStore {
	return &AferoStore{fs: fs}
}

// NewDirStore roots a store at a host directory. Absolute store paths such as
// "/luma/config.bin" resolve below root.
func NewDirStore(root string) (*AferoStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open store root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store root %s is not a directory", root)
	}
	return NewAferoStore(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

// Fs exposes the underlying filesystem
func (s *AferoStore) Fs() afero.Fs {
	return s.fs
}

// ReadFile reads an entire file
func (s *AferoStore) ReadFile(name string) ([]byte, error) {
	return afero.ReadFile(s.fs, clean(name))
}

// WriteFile creates parent directories as needed and replaces the file contents
func (s *AferoStore) WriteFile(name string, data []byte) error {
	name = clean(name)
	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(name), err)
	}
	return afero.WriteFile(s.fs, name, data, 0o644)
}

// ReadDir lists the entry names of a directory in lexical order
func (s *AferoStore) ReadDir(dir string) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, clean(dir))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

func clean(name string) string {
	return path.Clean("/" + name)
}
