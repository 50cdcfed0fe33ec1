package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randr97/mage-ai/internal/config"
	"github.com/randr97/mage-ai/internal/pipeline"
	"github.com/randr97/mage-ai/internal/status"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "mage dev")
}

func TestCreateAndListPipelines(t *testing.T) {
	root := t.TempDir()

	out, err := runCLI(t, "-p", root, "create", "pipeline", "Daily ETL")
	require.NoError(t, err)
	require.Contains(t, out, "daily_etl")

	out, err = runCLI(t, "-p", root, "create", "block", "Load users",
		"--pipeline", "daily_etl", "--type", "data_loader")
	require.NoError(t, err)
	require.Contains(t, out, "load_users")

	out, err = runCLI(t, "-p", root, "list")
	require.NoError(t, err)
	require.Contains(t, out, "daily_etl")
	require.Contains(t, out, "1")

	// The scaffolded source exists where the runtime will look for it.
	_, err = os.Stat(pipeline.SourcePath(root, pipeline.KindDataLoader, "load_users"))
	require.NoError(t, err)
}

func TestCreateBlockRejectsUnknownKind(t *testing.T) {
	root := t.TempDir()
	_, err := runCLI(t, "-p", root, "create", "pipeline", "demo")
	require.NoError(t, err)

	_, err = runCLI(t, "-p", root, "create", "block", "x", "--pipeline", "demo", "--type", "mystery")
	require.Error(t, err)
}

func TestShowCommand(t *testing.T) {
	root := t.TempDir()
	p := pipeline.New("demo", "Demo")
	require.NoError(t, p.AddBlock(&pipeline.Block{UUID: "load", Kind: pipeline.KindDataLoader}))
	require.NoError(t, p.AddBlock(&pipeline.Block{UUID: "clean", Kind: pipeline.KindTransformer, UpstreamIDs: []string{"load"}}))
	require.NoError(t, p.Save(root))

	out, err := runCLI(t, "-p", root, "show", "demo")
	require.NoError(t, err)
	require.Contains(t, out, "clean")
	require.Contains(t, out, "transformer")
	require.Contains(t, out, "load")
}

func TestListEmptyProject(t *testing.T) {
	out, err := runCLI(t, "-p", t.TempDir(), "list")
	require.NoError(t, err)
	require.Contains(t, out, "No pipelines found")
}

// writeShellBlock replaces a scaffolded source with a shell script that
// speaks the runner protocol, so runs need no Python interpreter.
func writeShellBlock(t *testing.T, root string, kind pipeline.BlockKind, id, script string) {
	t.Helper()
	path := pipeline.SourcePath(root, kind, id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
}

func shellProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	settings := config.Defaults()
	settings.Interpreter = []string{"sh"}
	require.NoError(t, config.Save(root, settings))

	p := pipeline.New("demo", "Demo")
	require.NoError(t, p.AddBlock(&pipeline.Block{UUID: "load", Kind: pipeline.KindDataLoader}))
	require.NoError(t, p.AddBlock(&pipeline.Block{UUID: "export", Kind: pipeline.KindDataExporter, UpstreamIDs: []string{"load"}}))
	require.NoError(t, p.Save(root))

	writeShellBlock(t, root, pipeline.KindDataLoader, "load", `cat >/dev/null
echo '{"type":"output","text":"loaded 3 rows"}'
echo '{"type":"result","outputs":{"df":[1,2,3]}}'
`)
	writeShellBlock(t, root, pipeline.KindDataExporter, "export", `cat >/dev/null
echo '{"type":"result","outputs":{}}'
`)
	return root
}

func TestRunCommandEndToEnd(t *testing.T) {
	root := shellProject(t)

	out, err := runCLI(t, "-p", root, "run", "--pipeline", "demo")
	require.NoError(t, err)
	require.Contains(t, out, "loaded 3 rows")
	require.Contains(t, out, "Run finished: succeeded")

	reloaded, err := pipeline.Load(root, "demo")
	require.NoError(t, err)
	for _, b := range reloaded.Blocks {
		require.Equal(t, status.Succeeded, b.Status)
	}

	// The run is visible in the history afterwards.
	out, err = runCLI(t, "-p", root, "history")
	require.NoError(t, err)
	require.Contains(t, out, "demo")
	require.Contains(t, out, "succeeded")
}

func TestRunCommandReportsFailure(t *testing.T) {
	root := shellProject(t)
	writeShellBlock(t, root, pipeline.KindDataLoader, "load", `cat >/dev/null
echo '{"type":"error","kind":"Exception","message":"no such table"}'
exit 1
`)

	out, err := runCLI(t, "-p", root, "run", "--pipeline", "demo")
	require.Error(t, err)
	require.Contains(t, out, "no such table")
	require.Contains(t, out, "Run finished: failed")

	reloaded, err := pipeline.Load(root, "demo")
	require.NoError(t, err)
	exportBlock, blockErr := reloaded.Block("export")
	require.NoError(t, blockErr)
	require.Equal(t, status.NotRun, exportBlock.Status)
}

func TestRunCommandUnknownPipeline(t *testing.T) {
	_, err := runCLI(t, "-p", t.TempDir(), "run", "--pipeline", "ghost")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
}
