package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

// SourceExt is the file extension of block source files.
const SourceExt = ".py"

var kindTemplates = map[BlockKind]string{
	KindDataLoader: `def load_data():
    # Return the frame this loader produces.
    return None
`,
	KindTransformer: `def transform(df):
    # Receive upstream frames positionally; return the transformed frame.
    return df
`,
	KindDataExporter: `def export_data(df):
    # Receive upstream frames positionally; export side effects only.
    pass
`,
	KindScratchpad: "",
}

// SourcePath returns the location of a block's source file inside the
// project.
func SourcePath(projectRoot string, kind BlockKind, blockID string) string {
	return filepath.Join(projectRoot, kind.Dir(), blockID+SourceExt)
}

// Source returns the opaque source text of a block together with its kind.
// The core never parses it; the execution runtime's isolated context is
// the only judge of its validity.
func (p *Pipeline) Source(projectRoot, blockID string) (string, BlockKind, error) {
	b, err := p.Block(blockID)
	if err != nil {
		return "", "", err
	}

	data, err := os.ReadFile(SourcePath(projectRoot, b.Kind, b.UUID))
	if err != nil {
		return "", "", streamerrors.NewParseError(SourcePath(projectRoot, b.Kind, b.UUID), 0, err)
	}
	return string(data), b.Kind, nil
}

// Scaffold creates the source file for a new block from the kind's starter
// template and returns the derived block id. An existing file is left
// untouched.
func Scaffold(projectRoot, name string, kind BlockKind) (string, error) {
	if !kind.Valid() {
		return "", streamerrors.NewValidationError("type", "unknown block kind "+string(kind), nil)
	}

	id := CleanName(name)
	if id == "" {
		return "", streamerrors.NewValidationError("name", "block name yields an empty id", nil)
	}

	dir := filepath.Join(projectRoot, kind.Dir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, id+SourceExt)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}
	if err := os.WriteFile(path, []byte(kindTemplates[kind]), 0o644); err != nil {
		return "", err
	}
	return id, nil
}

// DiscoverSources lists the block source ids present in the project,
// grouped by kind.
func DiscoverSources(projectRoot string) (map[BlockKind][]string, error) {
	found := make(map[BlockKind][]string)
	for _, kind := range Kinds() {
		entries, err := os.ReadDir(filepath.Join(projectRoot, kind.Dir()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), SourceExt) {
				continue
			}
			found[kind] = append(found[kind], strings.TrimSuffix(entry.Name(), SourceExt))
		}
	}
	return found, nil
}

// CleanName lowercases a display name and collapses it into a block id.
func CleanName(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
