// Package static resolves request paths against the local root directory.
package static

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	securejoin "github.com/cyphar/filepath-securejoin"

	"spiffs-devproxy/internal/config"
)

// IndexFile is served when a request path names a directory.
const IndexFile = "index.html"

var (
	// ErrNotFound means no servable file exists for the path; the request
	// should be forwarded upstream.
	ErrNotFound = errors.New("no local file")

	// ErrOutsideRoot means the path would escape the root directory.
	ErrOutsideRoot = errors.New("path escapes root directory")
)

// Entry is a servable local file.
type Entry struct {
	Path string

	// DirIndex is set when the request path named a directory and Path is
	// that directory's index file.
	DirIndex bool
}

// Resolver maps URL paths to files below a fixed root directory.
type Resolver struct {
	root string
}

// NewResolver creates a Resolver for the configured root directory.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{root: cfg.Static.Root}
}

// Root returns the root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Lookup returns the file that should be served for urlPath. A directory
// resolves to its index file when one exists.
func (r *Resolver) Lookup(urlPath string) (Entry, error) {
	rel := strings.TrimLeft(urlPath, "/")
	if rel != "" && !filepath.IsLocal(filepath.FromSlash(rel)) {
		return Entry{}, ErrOutsideRoot
	}

	// SecureJoin evaluates symlinks as if root were "/", so a link can never
	// lead outside of it.
	full, err := securejoin.SecureJoin(r.root, rel)
	if err != nil {
		return Entry{}, classify(err)
	}

	info, err := os.Stat(full)
	if err != nil {
		return Entry{}, classify(err)
	}
	if info.Mode().IsRegular() {
		return Entry{Path: full}, nil
	}
	if !info.IsDir() {
		return Entry{}, ErrNotFound
	}

	index := filepath.Join(full, IndexFile)
	info, err = os.Stat(index)
	if err != nil {
		return Entry{}, classify(err)
	}
	if !info.Mode().IsRegular() {
		return Entry{}, ErrNotFound
	}
	return Entry{Path: index, DirIndex: true}, nil
}

func classify(err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return ErrNotFound
	}
	return fmt.Errorf("resolve local file: %w", err)
}
