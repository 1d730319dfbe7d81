package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o640
	incomingDir     = ".incoming"
)

// FSStore keeps artifacts as regular files directly under a root directory.
type FSStore struct {
	root  string
	index sync.Map // filename -> Info, for artifacts written by this process
}

// NewFSStore creates the root directory if needed and returns a store over it.
func NewFSStore(root string) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, incomingDir), dirPermissions); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FSStore{root: abs}, nil
}

// Root returns the absolute store directory.
func (s *FSStore) Root() string { return s.root }

// resolve maps a filename to its location, refusing anything that would land
// outside the root.
func (s *FSStore) resolve(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if name == incomingDir {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	path := filepath.Join(s.root, name)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("%w: %q escapes the store root", ErrInvalidName, name)
	}
	return path, nil
}

// Put writes data to a staging file and publishes it with a hard link, which
// fails if the name is already taken. Readers never observe partial content.
func (s *FSStore) Put(_ context.Context, filename, contentType string, data []byte) (*Info, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, incomingDir), "put-*")
	if err != nil {
		return nil, fmt.Errorf("stage artifact %q: %w", filename, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write artifact %q: %w", filename, err)
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("chmod artifact %q: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close artifact %q: %w", filename, err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, filename)
		}
		return nil, fmt.Errorf("publish artifact %q: %w", filename, err)
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat artifact %q: %w", filename, err)
	}
	if contentType == "" {
		contentType = ContentTypeFor(filename)
	}
	info := Info{
		Filename:    filename,
		ContentType: contentType,
		Size:        st.Size(),
		Digest:      Digest(data),
		ModTime:     st.ModTime().UTC(),
	}
	s.index.Store(filename, info)
	return &info, nil
}

// Open returns the artifact for reading. Only regular files directly under the
// root are served; symlinks and directories are reported as missing.
func (s *FSStore) Open(_ context.Context, filename string) (*Artifact, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}

	st, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("stat artifact %q: %w", filename, err)
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %q: %w", filename, err)
	}

	info := Info{
		Filename:    filename,
		ContentType: ContentTypeFor(filename),
		Size:        st.Size(),
		ModTime:     st.ModTime().UTC(),
	}
	if known, ok := s.index.Load(filename); ok {
		info = known.(Info)
	}
	return &Artifact{Info: info, ReadCloser: f}, nil
}

var _ Store = (*FSStore)(nil)
