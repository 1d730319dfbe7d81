// Package artifact stores the immutable binary outputs produced by composition
// jobs. A store is a flat namespace: filenames never contain path separators.
package artifact

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrExists      = errors.New("artifact already exists")
	ErrInvalidName = errors.New("invalid artifact name")
)

const maxNameLen = 255

// Store is the artifact namespace. Implementations must be safe for
// concurrent use; each filename is written at most once.
type Store interface {
	Put(ctx context.Context, filename, contentType string, data []byte) (*Info, error)
	Open(ctx context.Context, filename string) (*Artifact, error)
}

// Info describes a stored artifact.
type Info struct {
	Filename    string
	ContentType string
	Size        int64
	Digest      string
	ModTime     time.Time
}

// Artifact is an open artifact. Callers must Close it.
type Artifact struct {
	Info
	io.ReadCloser
}

// ValidateName rejects anything that is not a single plain path element.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidName, maxNameLen)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case filepath.IsAbs(name) || filepath.VolumeName(name) != "":
		return fmt.Errorf("%w: %q is absolute", ErrInvalidName, name)
	}
	return nil
}

// Digest returns the hex BLAKE2b-256 digest of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ContentTypeFor guesses a content type from the filename extension.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4":
		return "video/mp4"
	case ".wav":
		return "audio/wav"
	}
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
