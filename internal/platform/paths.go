package platform

import (
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// NormalizePath normalizes a path for the current platform
func NormalizePath(p string) string {
	normalized := filepath.Clean(p)

	// On Windows, ensure UNC paths are preserved
	if runtime.GOOS == "windows" {
		if strings.HasPrefix(p, "\\\\") && !strings.HasPrefix(normalized, "\\\\") {
			normalized = "\\\\" + normalized
		}
	}

	return normalized
}

// IsUNCPath checks if a path is a UNC path (Windows network share)
func IsUNCPath(p string) bool {
	if runtime.GOOS != "windows" {
		return false
	}
	return strings.HasPrefix(p, "\\\\") || strings.HasPrefix(p, "//")
}

// IsAbsolute checks if a path is absolute
func IsAbsolute(p string) bool {
	if IsUNCPath(p) {
		return true
	}
	return filepath.IsAbs(p)
}

// ValidatePath checks if a local path is valid for the current platform
func ValidatePath(p string) error {
	if p == "" {
		return &PathError{Path: p, Message: "path is empty"}
	}

	if runtime.GOOS == "windows" {
		invalidChars := []string{"<", ">", "\"", "|", "?", "*"}
		for _, char := range invalidChars {
			if strings.Contains(p, char) && !IsUNCPath(p) {
				return &PathError{Path: p, Message: "path contains invalid character: " + char}
			}
		}
	}

	return nil
}

// ValidateRelPath checks that a slash-separated path stays inside the tree it is relative to.
// Manifest keys, change records, archive entries and tree entries all go through it.
func ValidateRelPath(p string) error {
	if p == "" {
		return &PathError{Path: p, Message: "path is empty"}
	}
	if strings.ContainsRune(p, 0) {
		return &PathError{Path: p, Message: "path contains null byte"}
	}
	if path.IsAbs(p) || filepath.IsAbs(p) || strings.Contains(p, "\\") {
		return &PathError{Path: p, Message: "path must be relative and slash-separated"}
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return &PathError{Path: p, Message: "path resolves to the root"}
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return &PathError{Path: p, Message: "path escapes base directory"}
	}
	return nil
}

// CleanRelPath returns the canonical slash-separated form of a relative path
func CleanRelPath(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	return strings.TrimPrefix(p, "./")
}

// IsWithinDir reports whether full is dir or a path below it
func IsWithinDir(dir, full string) bool {
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." &&
		!strings.HasPrefix(rel, "../") &&
		!filepath.IsAbs(rel)
}

// PathError represents a path validation error
type PathError struct {
	Path    string
	Message string
}

func (e *PathError) Error() string {
	return "invalid path '" + e.Path + "': " + e.Message
}
