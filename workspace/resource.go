package workspace

import "strings"

// Resource identifies a directory or file within a Workspace by an ordered
// tuple of path components rooted at the workspace base. Resources are
// value objects: two resources with equal parts are interchangeable, even
// across different Workspace instances.
type Resource interface {
	// PathParts is the ordered tuple of path components rooted at the
	// workspace base.
	PathParts() []string
	// IsCollection distinguishes a directory-like Resource from a File,
	// which AbsoluteURI uses to decide on a trailing slash.
	IsCollection() bool
}

type resource struct {
	parts []string
}

func (r resource) PathParts() []string { return append([]string{}, r.parts...) }

// Basename is the last path component, or "" for the workspace root.
func Basename(r Resource) string {
	parts := r.PathParts()
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Path renders the resource as a slash-separated path rooted at "/".
func Path(r Resource) string {
	return "/" + strings.Join(r.PathParts(), "/")
}

// Collection is a directory-like Resource.
type Collection struct {
	resource
}

// NewCollection builds a Collection from path parts relative to the
// workspace root.
func NewCollection(parts ...string) Collection {
	return Collection{resource{parts: parts}}
}

func (Collection) IsCollection() bool { return true }

// Collection returns a child collection.
func (c Collection) Collection(parts ...string) Collection {
	return NewCollection(append(c.PathParts(), parts...)...)
}

// File returns a child file.
func (c Collection) File(parts ...string) File {
	return NewFile(append(c.PathParts(), parts...)...)
}

// File is a file Resource.
type File struct {
	resource
}

// NewFile builds a File from path parts relative to the workspace root.
func NewFile(parts ...string) File {
	return File{resource{parts: parts}}
}

func (File) IsCollection() bool { return false }

// Root is the workspace's own base, i.e. the empty-parts Collection.
func Root() Collection {
	return NewCollection()
}
