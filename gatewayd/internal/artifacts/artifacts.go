// Package artifacts implements the streamed upload/download/delete contract
// of §4.6. Files live under a root directory keyed by run id; the artifacts
// table (gatewayd/internal/store) is only updated once a file has been
// fully and successfully written, the same write-the-file-before-the-row
// ordering the restic extractor uses for binaries: a crash mid-upload can
// only ever leave an orphan file, never a row pointing at nothing.
package artifacts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

// ErrTooLarge is returned by Upload when the stream exceeds the configured
// maximum size. The caller maps this to an HTTP 413.
var ErrTooLarge = errors.New("artifacts: upload exceeds maximum size")

// Store manages artifact files on disk and their rows in the database.
type Store struct {
	root    string
	maxSize int64
	db      *store.Store
	logger  *zap.Logger
}

// New creates a Store rooted at root. root is created if it does not exist.
func New(root string, maxSize int64, db *store.Store, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("artifacts: create root %q: %w", root, err)
	}
	return &Store{root: root, maxSize: maxSize, db: db, logger: logger.Named("artifacts")}, nil
}

// runDir returns (and creates) the directory holding files for one run.
func (s *Store) runDir(runID string) (string, error) {
	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("artifacts: create run dir %q: %w", dir, err)
	}
	return dir, nil
}

// sanitizeName implements §4.6's exact rule: basename only, any character
// outside [A-Za-z0-9._-] replaced with '_', prefixed with a random 12-char
// id so two uploads of the same name never collide on disk.
func sanitizeName(name string) (string, error) {
	base := filepath.Base(name)
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	prefix, err := randomID(12)
	if err != nil {
		return "", err
	}
	return prefix + "_" + b.String(), nil
}

func randomID(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("artifacts: generate id: %w", err)
	}
	return hex.EncodeToString(buf)[:n], nil
}

// inferType maps a sanitized filename's extension to one of the artifact
// type enum values, falling back to ArtifactFile for anything unrecognized.
func inferType(name string) store.ArtifactType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".log":
		return store.ArtifactLog
	case ".txt":
		return store.ArtifactText
	case ".json":
		return store.ArtifactJSON
	case ".diff":
		return store.ArtifactDiff
	case ".patch":
		return store.ArtifactPatch
	case ".md", ".markdown":
		return store.ArtifactMarkdown
	default:
		return store.ArtifactFile
	}
}

// Upload streams src into a new file under runID's directory, enforcing
// maxSize with a running byte count. On overrun the partial file is deleted
// and ErrTooLarge is returned — no artifacts row is created (§8 scenario 6).
func (s *Store) Upload(ctx context.Context, runID, name string, src io.Reader) (store.Artifact, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return store.Artifact{}, err
	}

	safeName, err := sanitizeName(name)
	if err != nil {
		return store.Artifact{}, err
	}
	destPath := filepath.Join(dir, safeName)

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return store.Artifact{}, fmt.Errorf("artifacts: create file: %w", err)
	}

	written, copyErr := io.Copy(f, io.LimitReader(src, s.maxSize+1))
	closeErr := f.Close()

	overrun := written > s.maxSize
	if copyErr != nil || closeErr != nil || overrun {
		os.Remove(destPath)
		if overrun {
			return store.Artifact{}, ErrTooLarge
		}
		if copyErr != nil {
			return store.Artifact{}, fmt.Errorf("artifacts: write: %w", copyErr)
		}
		return store.Artifact{}, fmt.Errorf("artifacts: close: %w", closeErr)
	}

	artifact, err := s.db.CreateArtifact(ctx, store.Artifact{
		RunID: runID,
		Name:  safeName,
		Type:  inferType(safeName),
		Size:  written,
		Path:  destPath,
	})
	if err != nil {
		os.Remove(destPath)
		return store.Artifact{}, fmt.Errorf("artifacts: record row: %w", err)
	}

	s.logger.Info("artifact uploaded",
		zap.String("run_id", runID), zap.String("artifact_id", artifact.ID), zap.Int64("size", written))
	return artifact, nil
}

// UploadDiff is the git-diff-output special case: the content is already in
// memory, so it is handed to Upload as a reader under the name
// "latest.diff". Upload's random prefix still applies, so every call stores
// a new artifact named "<prefix>_latest.diff"; earlier diffs are not replaced.
func (s *Store) UploadDiff(ctx context.Context, runID, content string) (store.Artifact, error) {
	return s.Upload(ctx, runID, "latest.diff", strings.NewReader(content))
}

// Open returns a ReadCloser over the artifact's file content, its inferred
// content type, and its row, for a streaming attachment download.
func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, string, store.Artifact, error) {
	a, err := s.db.GetArtifact(ctx, id)
	if err != nil {
		return nil, "", store.Artifact{}, err
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, "", store.Artifact{}, fmt.Errorf("artifacts: open file: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(a.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, a, nil
}

// Delete removes the file then the row, per §4.6. Idempotent on a missing
// file: os.Remove's ErrNotExist is swallowed so a retried or double delete
// still clears the row.
func (s *Store) Delete(ctx context.Context, id string) error {
	a, err := s.db.GetArtifact(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifacts: delete file: %w", err)
	}
	return s.db.DeleteArtifact(ctx, id)
}
