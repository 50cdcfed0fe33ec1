package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/randr97/mage-ai/internal/status"
	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

const (
	// PipelinesDir is the project subdirectory containing one directory
	// per pipeline.
	PipelinesDir = "pipelines"
	// MetadataFile is the per-pipeline metadata document.
	MetadataFile = "metadata.yaml"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

type metadataDoc struct {
	Name   string   `yaml:"name,omitempty"`
	UUID   string   `yaml:"uuid" validate:"required,block_id"`
	Blocks []*Block `yaml:"blocks,omitempty" validate:"omitempty,dive"`
}

// Dir returns the directory of a pipeline inside the project.
func Dir(projectRoot, pipelineID string) string {
	return filepath.Join(projectRoot, PipelinesDir, pipelineID)
}

// Load reads and validates a pipeline's metadata document. Stored
// downstream edges, when present, must be the structural inverse of the
// declared upstream edges; they are rederived after the check so stale
// authoring artifacts cannot leak into execution.
func Load(projectRoot, pipelineID string) (*Pipeline, error) {
	path := filepath.Join(Dir(projectRoot, pipelineID), MetadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, streamerrors.NewNotFoundError(pipelineID, "", "")
		}
		return nil, streamerrors.NewParseError(path, 0, err)
	}

	var doc metadataDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, streamerrors.NewParseError(path, extractLine(err), err)
	}

	if err := validatorInstance().Struct(&doc); err != nil {
		return nil, convertValidationError(err)
	}

	p := &Pipeline{UUID: doc.UUID, Name: doc.Name, Blocks: doc.Blocks}
	for _, b := range p.Blocks {
		if b.Status == "" {
			b.Status = status.NotRun
		}
	}
	p.rebuildIndex()
	if len(p.index) != len(p.Blocks) {
		return nil, streamerrors.NewValidationError("blocks", "duplicate block id in metadata", nil)
	}

	if _, err := p.Graph(); err != nil {
		return nil, err
	}

	derived := p.deriveDownstream()
	for _, b := range p.Blocks {
		if b.DownstreamIDs != nil && !equal(b.DownstreamIDs, derived[b.UUID]) {
			return nil, streamerrors.NewValidationError(
				"downstream_blocks",
				"stored downstream edges of "+b.UUID+" do not invert the upstream edges",
				nil,
			)
		}
		b.DownstreamIDs = derived[b.UUID]
	}

	return p, nil
}

// Save writes the pipeline's metadata document, recomputing derived edges
// first.
func (p *Pipeline) Save(projectRoot string) error {
	if err := p.Validate(); err != nil {
		return err
	}

	doc := metadataDoc{Name: p.Name, UUID: p.UUID, Blocks: p.Blocks}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return streamerrors.NewValidationError("metadata", "cannot encode pipeline metadata", err)
	}

	dir := Dir(projectRoot, p.UUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MetadataFile), data, 0o644)
}

// List returns the pipeline ids found under the project, in directory
// order.
func List(projectRoot string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(projectRoot, PipelinesDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

func convertValidationError(err error) error {
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return streamerrors.NewValidationError("metadata", invalid.Error(), invalid)
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return streamerrors.NewValidationError(
			first.Namespace(),
			fmt.Sprintf("failed %q validation", first.Tag()),
			err,
		)
	}
	return streamerrors.NewValidationError("metadata", err.Error(), err)
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}
	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}
	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}
