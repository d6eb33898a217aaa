package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/livepeer/transcode-worker/log"
)

// Local is the filesystem-backed Workspace: resources map directly to
// paths under a base directory.
type Local struct {
	base string
}

// NewLocal builds a Local workspace rooted at base.
func NewLocal(base string) *Local {
	return &Local{base: base}
}

func (l *Local) resolve(r Resource) string {
	parts := append([]string{l.base}, r.PathParts()...)
	return filepath.Join(parts...)
}

func (l *Local) EnsureCollection(ctx context.Context, relativePath string) (string, error) {
	c := NewCollection(splitPath(relativePath)...)
	if err := l.CreateCollection(ctx, c); err != nil {
		return "", err
	}
	return l.AbsoluteURI(c), nil
}

func (l *Local) CreateCollection(_ context.Context, c Collection) error {
	return os.MkdirAll(l.resolve(c), 0o755)
}

func (l *Local) DeleteCollection(_ context.Context, c Collection) error {
	path := l.resolve(c)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.LogNoRequestID("delete_collection: directory already missing", "path", path)
		return nil
	}
	return os.RemoveAll(path)
}

func (l *Local) Exists(_ context.Context, r Resource) (bool, error) {
	_, err := os.Stat(l.resolve(r))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *Local) Read(_ context.Context, f File) ([]byte, error) {
	return os.ReadFile(l.resolve(f))
}

func (l *Local) Write(_ context.Context, f File, content []byte) error {
	path := l.resolve(f)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (l *Local) AbsoluteURI(r Resource) string {
	path := l.resolve(r)
	if r.IsCollection() {
		path += string(filepath.Separator)
	}
	return "file://" + path
}

// splitPath breaks a relative path into path components, ignoring empty
// segments produced by leading/trailing or duplicate separators.
func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(filepath.ToSlash(p), "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
