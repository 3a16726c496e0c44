package host

import (
	"io"

	"github.com/spf13/afero"
)

// File is one open descriptor.
//
// Stdio entries carry a Reader or Writer. Directories carry the
// filesystem rooted at them. Regular files carry the open afero.File.
type File struct {
	File   afero.File
	Fs     afero.Fs
	Reader io.Reader
	Writer io.Writer
	// Path is the guest-visible path.
	Path string
	// Preopen is the guest name of a preopened directory, empty otherwise.
	Preopen string
	Dir     bool
}

// FileTable is a descriptor table. New descriptors take the lowest free
// number.
type FileTable struct {
	entries map[uint32]*File
}

// NewFileTable creates an empty table.
func NewFileTable() *FileTable {
	return &FileTable{entries: make(map[uint32]*File)}
}

// Insert adds f under the lowest free descriptor and returns it.
func (t *FileTable) Insert(f *File) uint32 {
	var fd uint32
	for {
		if _, used := t.entries[fd]; !used {
			break
		}
		fd++
	}
	t.entries[fd] = f
	return fd
}

// Set binds f to fd, replacing any previous entry.
func (t *FileTable) Set(fd uint32, f *File) {
	t.entries[fd] = f
}

// Get returns the entry for fd.
func (t *FileTable) Get(fd uint32) (*File, bool) {
	f, ok := t.entries[fd]
	return f, ok
}

// Remove unbinds fd and closes its file, if any.
func (t *FileTable) Remove(fd uint32) (*File, bool) {
	f, ok := t.entries[fd]
	if !ok {
		return nil, false
	}
	delete(t.entries, fd)
	if f.File != nil {
		_ = f.File.Close()
	}
	return f, true
}

// Len returns the number of open descriptors.
func (t *FileTable) Len() int {
	return len(t.entries)
}

// Close closes every open file and empties the table.
func (t *FileTable) Close() error {
	var first error
	for fd, f := range t.entries {
		if f.File != nil {
			if err := f.File.Close(); err != nil && first == nil {
				first = err
			}
		}
		delete(t.entries, fd)
	}
	return first
}
