// Package capture keeps screen captures on disk for the length of a session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pricelens/backend/internal/domain"
	"go.uber.org/zap"
)

// Store writes captures under <root>/<session>/ and removes them on cleanup.
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore creates root when missing. An empty root uses a directory under
// the system temp dir.
func NewStore(root string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	root = strings.TrimSpace(root)
	if root == "" {
		root = filepath.Join(os.TempDir(), "pricelens-captures")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &Store{root: root, logger: logger.With(zap.String("component", "capture"))}, nil
}

// Save writes data atomically and returns the file path.
func (s *Store) Save(ctx context.Context, sessionID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("capture is empty")
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+".png")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write capture tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit capture: %w", err)
	}
	return path, nil
}

// Remove deletes one capture. A file that is already gone is not an error.
func (s *Store) Remove(path string) error {
	if !s.owns(path) {
		return fmt.Errorf("capture path %q is outside %s", path, s.root)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Cleanup deletes every capture of a session.
func (s *Store) Cleanup(sessionID string) error {
	dir := s.sessionDir(sessionID)
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("capture cleanup failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sanitize(sessionID))
}

func (s *Store) owns(path string) bool {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func sanitize(id string) string {
	id = strings.TrimSpace(id)
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, `\`, "_")
	id = strings.ReplaceAll(id, "..", "_")
	if id == "" {
		return "session"
	}
	return id
}

var _ domain.CaptureStore = (*Store)(nil)
