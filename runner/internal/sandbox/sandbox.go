// Package sandbox validates that a runner-chosen working directory stays
// inside a fixed root, the formal containment check of §4.9. No ecosystem
// library does path-prefix containment any better than the standard
// library's own filepath.Clean/filepath.Rel — the whole point of the check
// is "does the OS path separator semantics agree this is a prefix," which
// is exactly what filepath already normalizes for.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when a candidate path resolves outside root.
var ErrEscapesRoot = errors.New("sandbox: path escapes root")

// ErrNotDirectory is returned when a validated path exists but is not a
// directory.
var ErrNotDirectory = errors.New("sandbox: not a directory")

// Sandbox enforces that every working directory handed to a spawned worker
// resolves underneath a fixed root.
type Sandbox struct {
	root string
}

// New returns a Sandbox rooted at root, which must already be an absolute
// path — callers resolve any relative configuration value before calling
// this, since a relative root has no fixed meaning to validate against.
func New(root string) (*Sandbox, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("sandbox: root must be absolute, got %q", root)
	}
	return &Sandbox{root: filepath.Clean(root)}, nil
}

// Root returns the sandbox's absolute root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve validates candidate (absolute or relative to root) against the
// sandbox per §4.9's three-step rule, and confirms the result exists and is
// a directory. Returns the cleaned absolute path on success.
func (s *Sandbox) Resolve(candidate string) (string, error) {
	var resolved string
	if filepath.IsAbs(candidate) {
		resolved = filepath.Clean(candidate)
	} else {
		resolved = filepath.Clean(filepath.Join(s.root, candidate))
	}

	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return "", fmt.Errorf("sandbox: %w", ErrEscapesRoot)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrEscapesRoot
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("sandbox: stat %s: %w", resolved, err)
	}
	if !info.IsDir() {
		return "", ErrNotDirectory
	}
	return resolved, nil
}
