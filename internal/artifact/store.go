// Package artifact manages durable, task-scoped storage for files produced
// by the analysis pipeline. The pipeline writes transient files into a
// shared output directory; this package copies them into per-task
// directories and serves them back by task ID and filename.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Artifact kind keys used in task artifact maps.
const (
	KindReport      = "report"
	KindChart       = "chart"
	KindInfographic = "infographic"
	KindDocument    = "document"
)

// Common artifact store errors.
var (
	// ErrArtifactNotFound is returned when a requested artifact file does
	// not exist, either at its transient source or in durable storage.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrInvalidFilename is returned when a filename would escape its
	// task-scoped directory.
	ErrInvalidFilename = errors.New("invalid artifact filename")
)

// Store persists pipeline output files into task-scoped directories on the
// local filesystem. Task directories are isolated per task identifier, so
// concurrent executions never contend for the same paths.
type Store struct {
	root       string
	outputsDir string
	logger     *slog.Logger
}

// NewStore creates a filesystem artifact store rooted at root, consuming
// transient pipeline files from outputsDir. The root directory is created
// if it does not exist.
func NewStore(root, outputsDir string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("artifact storage root cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact storage root: %w", err)
	}

	return &Store{
		root:       root,
		outputsDir: outputsDir,
		logger:     logger.With(slog.String("component", "artifact_store")),
	}, nil
}

// Persist copies one artifact from the transient output directory into the
// task's durable directory, creating it if needed. The source is copied,
// not moved, so the pipeline may reuse it. Returns the task-relative path
// "{taskID}/{filename}". Returns ErrArtifactNotFound if the source file is
// absent. Persisting the same artifact twice is a no-op overwrite.
func (s *Store) Persist(taskID, filename string) (string, error) {
	if err := validFilename(filename); err != nil {
		return "", err
	}

	source := filepath.Join(s.outputsDir, filename)
	if _, err := os.Stat(source); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, filename)
		}
		return "", fmt.Errorf("failed to stat artifact source: %w", err)
	}

	taskDir := filepath.Join(s.root, taskID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create task artifact directory: %w", err)
	}

	dest := filepath.Join(taskDir, filename)
	if err := copyFile(source, dest); err != nil {
		return "", fmt.Errorf("failed to copy artifact %s: %w", filename, err)
	}

	s.logger.Info("artifact persisted",
		slog.String("task_id", taskID),
		slog.String("filename", filename))

	return filepath.Join(taskID, filename), nil
}

// PersistAll persists each artifact kind independently and returns the map
// of kinds that succeeded. A failure on one kind is logged and that kind is
// omitted from the result; partial success is the expected outcome, never
// an aggregate failure.
func (s *Store) PersistAll(taskID string, artifacts map[string]string) map[string]string {
	saved := make(map[string]string, len(artifacts))

	for kind, filename := range artifacts {
		if _, err := s.Persist(taskID, filename); err != nil {
			s.logger.Warn("failed to persist artifact, omitting from result",
				slog.String("task_id", taskID),
				slog.String("kind", kind),
				slog.String("filename", filename),
				slog.String("error", err.Error()))
			continue
		}
		saved[kind] = filename
	}

	return saved
}

// Get retrieves an artifact's contents from durable storage.
// Returns ErrArtifactNotFound if the file does not exist.
func (s *Store) Get(taskID, filename string) ([]byte, error) {
	if err := validFilename(filename); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.root, taskID, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, taskID, filename)
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	return data, nil
}

// Exists reports whether an artifact is present in durable storage.
func (s *Store) Exists(taskID, filename string) bool {
	if validFilename(filename) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(s.root, taskID, filename))
	return err == nil
}

// Path returns the absolute path of an artifact within the task's
// durable directory. The file is not required to exist.
func (s *Store) Path(taskID, filename string) string {
	return filepath.Join(s.root, taskID, filename)
}

// TaskDir returns the task's durable artifact directory.
func (s *Store) TaskDir(taskID string) string {
	return filepath.Join(s.root, taskID)
}

// DeleteAll removes the task's artifact directory and everything in it.
// It is a no-op if the directory does not exist.
func (s *Store) DeleteAll(taskID string) error {
	taskDir := filepath.Join(s.root, taskID)
	if err := os.RemoveAll(taskDir); err != nil {
		return fmt.Errorf("failed to delete task artifacts: %w", err)
	}

	s.logger.Info("task artifacts deleted", slog.String("task_id", taskID))
	return nil
}

// LatestArtifacts scans the transient output directory for the newest file
// of each known artifact kind. Pipeline tools write timestamped filenames,
// so the most recently modified match wins. Kinds with no match are absent
// from the result.
func (s *Store) LatestArtifacts() map[string]string {
	artifacts := make(map[string]string)

	if _, err := os.Stat(s.outputsDir); err != nil {
		s.logger.Warn("pipeline output directory does not exist",
			slog.String("outputs_dir", s.outputsDir))
		return artifacts
	}

	patterns := map[string][]string{
		KindChart:       {"revenue_chart_*.png"},
		KindReport:      {"investment_report_*.html"},
		KindInfographic: {"infographic_*.png", "infographic_*.jpg"},
	}

	for kind, globs := range patterns {
		if name := s.newestMatch(globs); name != "" {
			artifacts[kind] = name
		}
	}

	s.logger.Info("collected pipeline artifacts", slog.Int("count", len(artifacts)))
	return artifacts
}

// newestMatch returns the base name of the most recently modified file
// matching any of the given glob patterns, or "" when nothing matches.
func (s *Store) newestMatch(globs []string) string {
	var (
		newest    string
		newestMod int64
	)

	for _, glob := range globs {
		matches, err := filepath.Glob(filepath.Join(s.outputsDir, glob))
		if err != nil {
			s.logger.Warn("bad artifact glob pattern",
				slog.String("pattern", glob),
				slog.String("error", err.Error()))
			continue
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				continue
			}
			if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
				newest = filepath.Base(match)
				newestMod = mod
			}
		}
	}

	return newest
}

// validFilename rejects names that could escape the task directory.
func validFilename(filename string) error {
	if filename == "" ||
		filename != filepath.Base(filename) ||
		strings.HasPrefix(filename, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return nil
}

// copyFile copies src to dst, truncating dst if it already exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
