package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catena/internal/interfaces"
)

// ArtifactStorage implements interfaces.ArtifactStorage on the local
// filesystem. Fragments live under <root>/<jobID>/fragments/ and the
// combined artifact is written next to them, so a finalizer failure leaves
// fragments intact for inspection.
type ArtifactStorage struct {
	root   string
	logger arbor.ILogger
}

// NewArtifactStorage creates a filesystem-backed artifact store
func NewArtifactStorage(root string, logger arbor.ILogger) (interfaces.ArtifactStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root directory is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &ArtifactStorage{root: root, logger: logger}, nil
}

// FragmentName builds the canonical fragment file name. The chunk index is
// embedded in the name because storage listing order is not stable.
func FragmentName(chunkIndex int) string {
	return fmt.Sprintf("chunk_%d.csv", chunkIndex)
}

func (s *ArtifactStorage) fragmentDir(jobID string) string {
	return filepath.Join(s.root, jobID, "fragments")
}

func (s *ArtifactStorage) WriteFragment(ctx context.Context, jobID string, chunkIndex int, data []byte) error {
	dir := s.fragmentDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create fragment directory: %w", err)
	}

	path := filepath.Join(dir, FragmentName(chunkIndex))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write fragment %s: %w", path, err)
	}
	return nil
}

func (s *ArtifactStorage) ListFragments(ctx context.Context, jobID string) ([]string, error) {
	entries, err := os.ReadDir(s.fragmentDir(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list fragments for job %s: %w", jobID, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "chunk_") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *ArtifactStorage) ReadFragment(ctx context.Context, jobID string, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.fragmentDir(jobID), name))
	if err != nil {
		return nil, fmt.Errorf("failed to read fragment %s: %w", name, err)
	}
	return data, nil
}

func (s *ArtifactStorage) WriteArtifact(ctx context.Context, jobID string, data []byte) (string, error) {
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	path := filepath.Join(dir, "export.csv")

	// Write to a temp file and rename so a crash mid-write never leaves a
	// partial artifact at the final location.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}

	s.logger.Debug().Str("job_id", jobID).Str("path", path).Msg("Combined artifact written")
	return path, nil
}

func (s *ArtifactStorage) DeleteFragments(ctx context.Context, jobID string) error {
	if err := os.RemoveAll(s.fragmentDir(jobID)); err != nil {
		return fmt.Errorf("failed to delete fragments for job %s: %w", jobID, err)
	}
	return nil
}
