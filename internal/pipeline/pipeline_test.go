package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randr97/mage-ai/internal/status"
	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

func demoPipeline(t *testing.T) *Pipeline {
	t.Helper()

	p := New("demo", "Demo")
	require.NoError(t, p.AddBlock(&Block{UUID: "load", Kind: KindDataLoader}))
	require.NoError(t, p.AddBlock(&Block{UUID: "clean", Kind: KindTransformer, UpstreamIDs: []string{"load"}}))
	require.NoError(t, p.AddBlock(&Block{UUID: "export", Kind: KindDataExporter, UpstreamIDs: []string{"clean"}}))
	return p
}

func TestAddBlockDerivesDownstreamEdges(t *testing.T) {
	t.Parallel()

	p := demoPipeline(t)

	load, err := p.Block("load")
	require.NoError(t, err)
	require.Equal(t, []string{"clean"}, load.DownstreamIDs)
	require.Equal(t, status.NotRun, load.Status)

	clean, err := p.Block("clean")
	require.NoError(t, err)
	require.Equal(t, []string{"export"}, clean.DownstreamIDs)

	require.NoError(t, p.Validate())
}

func TestAddBlockRejectsCycleAndRollsBack(t *testing.T) {
	t.Parallel()

	p := demoPipeline(t)

	err := p.AddBlock(&Block{UUID: "bad", Kind: KindTransformer, UpstreamIDs: []string{"bad"}})
	var cycleErr *streamerrors.CycleError
	require.ErrorAs(t, err, &cycleErr)

	_, err = p.Block("bad")
	require.Error(t, err)
	require.Len(t, p.Blocks, 3)
}

func TestAddBlockRejectsUnknownUpstream(t *testing.T) {
	t.Parallel()

	p := demoPipeline(t)

	err := p.AddBlock(&Block{UUID: "orphan", Kind: KindTransformer, UpstreamIDs: []string{"ghost"}})
	var dangling *streamerrors.DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
	require.Equal(t, "ghost", dangling.BlockID)
}

func TestRemoveBlockRequiresDetach(t *testing.T) {
	t.Parallel()

	p := demoPipeline(t)

	err := p.RemoveBlock("load", false)
	var hasDeps *streamerrors.HasDependentsError
	require.ErrorAs(t, err, &hasDeps)
	require.Equal(t, []string{"clean"}, hasDeps.Dependents)

	require.NoError(t, p.RemoveBlock("load", true))
	clean, err := p.Block("clean")
	require.NoError(t, err)
	require.Empty(t, clean.UpstreamIDs)
	require.NoError(t, p.Validate())
}

func TestSetUpstreamRewiresAndRollsBackOnCycle(t *testing.T) {
	t.Parallel()

	p := demoPipeline(t)

	err := p.SetUpstream("load", []string{"export"})
	var cycleErr *streamerrors.CycleError
	require.ErrorAs(t, err, &cycleErr)

	load, err := p.Block("load")
	require.NoError(t, err)
	require.Empty(t, load.UpstreamIDs)

	require.NoError(t, p.SetUpstream("export", []string{"load"}))
	load, err = p.Block("load")
	require.NoError(t, err)
	require.Equal(t, []string{"clean", "export"}, load.DownstreamIDs)
}

func TestMetadataRoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	p := demoPipeline(t)
	p.Blocks[0].Status = status.Succeeded
	require.NoError(t, p.Save(root))

	loaded, err := Load(root, "demo")
	require.NoError(t, err)
	require.Equal(t, "demo", loaded.UUID)
	require.Equal(t, p.BlockIDs(), loaded.BlockIDs())

	load, err := loaded.Block("load")
	require.NoError(t, err)
	require.Equal(t, status.Succeeded, load.Status)
	require.Equal(t, []string{"clean"}, load.DownstreamIDs)
	require.NoError(t, loaded.Validate())
}

func TestLoadRejectsInvalidDownstreamEdges(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	p := demoPipeline(t)
	require.NoError(t, p.Save(root))

	// Corrupt the stored inverse edges by hand.
	doc := `uuid: demo
blocks:
  - uuid: load
    type: data_loader
    downstream_blocks: [export]
  - uuid: clean
    type: transformer
    upstream_blocks: [load]
  - uuid: export
    type: data_exporter
    upstream_blocks: [clean]
`
	writeMetadata(t, root, "demo", doc)

	_, err := Load(root, "demo")
	var valErr *streamerrors.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestLoadRejectsBadBlockID(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMetadata(t, root, "demo", "uuid: demo\nblocks:\n  - uuid: \"Bad Name\"\n    type: data_loader\n")

	_, err := Load(root, "demo")
	var valErr *streamerrors.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestScaffoldAndDiscover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	id, err := Scaffold(root, "Load Sales Data", KindDataLoader)
	require.NoError(t, err)
	require.Equal(t, "load_sales_data", id)

	_, err = Scaffold(root, "Drop Nulls", KindTransformer)
	require.NoError(t, err)

	found, err := DiscoverSources(root)
	require.NoError(t, err)
	require.Equal(t, []string{"load_sales_data"}, found[KindDataLoader])
	require.Equal(t, []string{"drop_nulls"}, found[KindTransformer])

	p := New("demo", "Demo")
	require.NoError(t, p.AddBlock(&Block{UUID: id, Kind: KindDataLoader}))
	src, kind, err := p.Source(root, id)
	require.NoError(t, err)
	require.Equal(t, KindDataLoader, kind)
	require.Contains(t, src, "def load_data")
}

func TestCleanName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Load Sales Data": "load_sales_data",
		"  spaced  out  ": "spaced_out",
		"UPPER-case.name": "upper_case_name",
		"___":             "",
	}
	for in, want := range cases {
		require.Equal(t, want, CleanName(in), in)
	}
}

func TestKindArityTable(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"df"}, KindDataLoader.OutputVariables())
	require.Equal(t, []string{"df"}, KindTransformer.OutputVariables())
	require.Empty(t, KindDataExporter.OutputVariables())
	require.Empty(t, KindScratchpad.OutputVariables())
	require.False(t, BlockKind("widget").Valid())
}

func writeMetadata(t *testing.T, root, pipelineID, doc string) {
	t.Helper()
	dir := Dir(root, pipelineID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(doc), 0o644))
}
