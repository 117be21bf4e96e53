package github

import (
	"fmt"
	"time"

	"github.com/sdejongh/branchsync/pkg/models"
)

// Repository is the subset of the repository resource used by the probe
type Repository struct {
	FullName      string      `json:"full_name"`
	DefaultBranch string      `json:"default_branch"`
	Private       bool        `json:"private"`
	Permissions   Permissions `json:"permissions"`
}

// Permissions lists what the authenticated caller may do
type Permissions struct {
	Admin bool `json:"admin"`
	Push  bool `json:"push"`
	Pull  bool `json:"pull"`
}

// RateLimit mirrors the X-RateLimit-* response headers
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
	Known     bool
}

// Reference is a git ref
type Reference struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA  string `json:"sha"`
		Type string `json:"type"`
	} `json:"object"`
}

// Commit is a git commit object
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Tree    struct {
		SHA string `json:"sha"`
	} `json:"tree"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
}

// TreeEntry is one entry of a create-tree request.
// SHA is a pointer so that a deletion serializes as null.
type TreeEntry struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	SHA  *string `json:"sha"`
}

// BlobEntry creates a tree entry pointing at a blob
func BlobEntry(path, mode, sha string) TreeEntry {
	return TreeEntry{Path: path, Mode: mode, Type: "blob", SHA: &sha}
}

// DeleteEntry creates a tree entry that removes path from the base tree
func DeleteEntry(path, mode string) TreeEntry {
	return TreeEntry{Path: path, Mode: mode, Type: "blob"}
}

type blobRequest struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type treeRequest struct {
	BaseTree string      `json:"base_tree,omitempty"`
	Tree     []TreeEntry `json:"tree"`
}

type commitRequest struct {
	Message string   `json:"message"`
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
}

type refUpdateRequest struct {
	SHA   string `json:"sha"`
	Force bool   `json:"force"`
}

type shaResponse struct {
	SHA string `json:"sha"`
}

func (r shaResponse) required(op, p string) (string, error) {
	if r.SHA == "" {
		return "", models.ParseError(op, p, fmt.Errorf("response has no sha"))
	}
	return r.SHA, nil
}
