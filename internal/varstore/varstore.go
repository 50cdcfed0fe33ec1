package varstore

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/randr97/mage-ai/internal/pipeline"
	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

const (
	variableDir = ".variables"
	variableExt = ".json"
	stagingGlob = ".staging-"
)

// Store persists named block outputs under
// pipelines/<pipeline>/.variables/<block>/<name>.json. Values are opaque
// blobs; the store never inspects their structure.
//
// Publishes are atomic: the blob lands in a staging file in the target
// directory and is renamed into place, so readers either see the previous
// committed value or the new one, never a partial write.
type Store struct {
	root string
}

// New creates a store rooted at the project directory.
func New(projectRoot string) *Store {
	return &Store{root: projectRoot}
}

// Put commits a value for the (pipeline, block, name) key, replacing any
// prior value.
func (s *Store) Put(pipelineID, blockID, name string, value []byte) error {
	dir := s.blockDir(pipelineID, blockID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	staging, err := os.CreateTemp(dir, name+stagingGlob+"*")
	if err != nil {
		return err
	}
	stagingPath := staging.Name()

	if _, err := staging.Write(value); err != nil {
		staging.Close()
		os.Remove(stagingPath)
		return err
	}
	if err := staging.Close(); err != nil {
		os.Remove(stagingPath)
		return err
	}

	if err := os.Rename(stagingPath, filepath.Join(dir, name+variableExt)); err != nil {
		os.Remove(stagingPath)
		return err
	}
	return nil
}

// Get returns the committed value for the key, or NotFoundError when it
// was never written.
func (s *Store) Get(pipelineID, blockID, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.blockDir(pipelineID, blockID), name+variableExt))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, streamerrors.NewNotFoundError(pipelineID, blockID, name)
		}
		return nil, err
	}
	return data, nil
}

// Has reports whether a committed value exists for the key.
func (s *Store) Has(pipelineID, blockID, name string) bool {
	_, err := os.Stat(filepath.Join(s.blockDir(pipelineID, blockID), name+variableExt))
	return err == nil
}

// List returns the committed variable names of a pipeline grouped by
// block, each list sorted.
func (s *Store) List(pipelineID string) (map[string][]string, error) {
	base := filepath.Join(pipeline.Dir(s.root, pipelineID), variableDir)
	blocks, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string][]string{}, nil
		}
		return nil, err
	}

	out := make(map[string][]string, len(blocks))
	for _, block := range blocks {
		if !block.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(base, block.Name()))
		if err != nil {
			return nil, err
		}
		var names []string
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, variableExt) || strings.Contains(name, stagingGlob) {
				continue
			}
			names = append(names, strings.TrimSuffix(name, variableExt))
		}
		sort.Strings(names)
		out[block.Name()] = names
	}
	return out, nil
}

// Delete removes one committed variable. Deleting a missing key is not an
// error.
func (s *Store) Delete(pipelineID, blockID, name string) error {
	err := os.Remove(filepath.Join(s.blockDir(pipelineID, blockID), name+variableExt))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// DeleteBlock removes every variable a block ever committed, for use when
// the block itself is removed from the pipeline.
func (s *Store) DeleteBlock(pipelineID, blockID string) error {
	return os.RemoveAll(s.blockDir(pipelineID, blockID))
}

func (s *Store) blockDir(pipelineID, blockID string) string {
	return filepath.Join(pipeline.Dir(s.root, pipelineID), variableDir, blockID)
}
