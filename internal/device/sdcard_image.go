package device

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
)

// ImageStore is a FileStore over the FAT32 filesystem of a raw SD card image.
type ImageStore struct {
	disk *disk.Disk
	fs   filesystem.FileSystem
}

var _ interfaces.FileStore = (*ImageStore)(nil)

// OpenImageStore opens the FAT32 filesystem of the image at imagePath. The first
// partition is used when a partition table exists, otherwise the whole image.
func OpenImageStore(imagePath string) (*ImageStore, error) {
	d, err := diskfs.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SD image %q: %w", imagePath, err)
	}

	fsys, err := d.GetFilesystem(1)
	if err != nil {
		fsys, err = d.GetFilesystem(0)
		if err != nil {
			d.Backend.Close()
			return nil, fmt.Errorf("no FAT filesystem in SD image %q: %w", imagePath, err)
		}
	}
	if fsys.Type() != filesystem.TypeFat32 {
		d.Backend.Close()
		return nil, fmt.Errorf("SD image %q holds a non-FAT32 filesystem", imagePath)
	}

	return &ImageStore{disk: d, fs: fsys}, nil
}

// Close releases the image file
func (s *ImageStore) Close() error {
	return s.disk.Backend.Close()
}

// ReadFile reads an entire file
func (s *ImageStore) ReadFile(name string) ([]byte, error) {
	name = clean(name)
	if err := s.exists(name); err != nil {
		return nil, err
	}
	f, err := s.fs.OpenFile(name, os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile creates parent directories as needed and writes data from the
// start of the file.
func (s *ImageStore) WriteFile(name string, data []byte) error {
	name = clean(name)
	if dir := path.Dir(name); dir != "/" {
		if err := s.fs.Mkdir(dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", name, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// ReadDir lists the entry names of a directory in lexical order
func (s *ImageStore) ReadDir(dir string) ([]string, error) {
	infos, err := s.fs.ReadDir(clean(dir))
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrNotExist}
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.Name() == "." || fi.Name() == ".." {
			continue
		}
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

// exists maps a missing file onto fs.ErrNotExist, which the FAT32 driver does
// not do itself. FAT names are case-insensitive.
func (s *ImageStore) exists(name string) error {
	notExist := &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	infos, err := s.fs.ReadDir(path.Dir(name))
	if err != nil {
		return notExist
	}
	base := path.Base(name)
	for _, fi := range infos {
		if strings.EqualFold(fi.Name(), base) && !fi.IsDir() {
			return nil
		}
	}
	return notExist
}
