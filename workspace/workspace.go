// Package workspace implements the uniform Resource/Collection/File
// abstraction the pipeline uses for both its scratch tree and its final
// output tree, over two backends: a local filesystem and WebDAV.
package workspace

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Config carries the transport timeouts a Workspace backend honors on
// every network call it makes (WebDAV only; the local backend ignores it).
type Config struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Workspace is a uniform interface over a rooted tree of resources,
// selected by the scheme of the URI it was built from: file:// for Local,
// dav:// or davs:// for WebDAV.
type Workspace interface {
	// EnsureCollection creates the directory named by the relative path
	// and every missing ancestor, and returns its absolute URI. Idempotent.
	EnsureCollection(ctx context.Context, relativePath string) (string, error)
	// CreateCollection creates the named collection and every missing
	// ancestor; an existing collection is not an error.
	CreateCollection(ctx context.Context, c Collection) error
	// DeleteCollection recursively removes a collection. A missing
	// collection is not an error; it is logged and treated as success.
	DeleteCollection(ctx context.Context, c Collection) error
	// Exists reports whether a resource is present.
	Exists(ctx context.Context, r Resource) (bool, error)
	// Read returns the whole contents of a file.
	Read(ctx context.Context, f File) ([]byte, error)
	// Write stores content as a file, replacing any existing content.
	Write(ctx context.Context, f File, content []byte) error
	// AbsoluteURI returns the backend's canonical URI for a resource,
	// with a trailing slash iff the resource is a Collection.
	AbsoluteURI(r Resource) string
}

// New dispatches on uri's scheme to build the matching backend. An
// unrecognized scheme is a fatal configuration error.
func New(rawURI string, cfg Config) (Workspace, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("workspace: invalid uri %q: %w", rawURI, err)
	}
	switch u.Scheme {
	case "file":
		return NewLocal(u.Path), nil
	case "dav":
		return NewWebDAV(u, cfg, false), nil
	case "davs":
		return NewWebDAV(u, cfg, true), nil
	default:
		return nil, fmt.Errorf("workspace: unrecognized uri scheme %q", u.Scheme)
	}
}
