package docs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/hupe1980/relaymesh/core"
)

var _ core.DocumentStore = (*Dir)(nil)

// DefaultExtensions are the document types listed by a Dir.
var DefaultExtensions = []string{".txt", ".md", ".json", ".xml"}

// DirOptions configure a Dir store.
type DirOptions struct {
	// Extensions restricts listed documents. Empty means DefaultExtensions.
	Extensions []string
}

// Dir is a DocumentStore backed by the files of a single directory.
// Subdirectories are ignored.
type Dir struct {
	root string
	fsys fs.FS
	opts DirOptions
}

// NewDir creates a store over directory root. The directory is not required
// to exist yet; List reports ErrUnavailable until it does.
func NewDir(root string, optFns ...func(o *DirOptions)) *Dir {
	return NewFS(root, os.DirFS(root), optFns...)
}

// NewFS creates a store over an arbitrary file system. location is reported
// by Location.
func NewFS(location string, fsys fs.FS, optFns ...func(o *DirOptions)) *Dir {
	opts := DirOptions{Extensions: DefaultExtensions}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dir{root: location, fsys: fsys, opts: opts}
}

// Location implements core.DocumentStore.
func (d *Dir) Location() string { return d.root }

// List implements core.DocumentStore.
func (d *Dir) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(d.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, d.root, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !d.accepts(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Read implements core.DocumentStore.
func (d *Dir) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := path.Clean(strings.TrimPrefix(name, "./"))
	if !fs.ValidPath(clean) || strings.Contains(clean, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	data, err := fs.ReadFile(d.fsys, clean)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", name, err)
	}
	return data, nil
}

func (d *Dir) accepts(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range d.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
