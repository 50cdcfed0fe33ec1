package varstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randr97/mage-ai/internal/pipeline"
	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := New(t.TempDir())
	require.NoError(t, store.Put("demo", "load", "df", []byte(`{"rows":2}`)))

	got, err := store.Get("demo", "load", "df")
	require.NoError(t, err)
	require.JSONEq(t, `{"rows":2}`, string(got))
	require.True(t, store.Has("demo", "load", "df"))
}

func TestGetUnwrittenVariableFails(t *testing.T) {
	t.Parallel()

	store := New(t.TempDir())

	_, err := store.Get("demo", "load", "df")
	var notFound *streamerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "demo", notFound.PipelineID)
	require.Equal(t, "load", notFound.BlockID)
	require.Equal(t, "df", notFound.Variable)
	require.False(t, store.Has("demo", "load", "df"))
}

func TestPutReplacesPriorValue(t *testing.T) {
	t.Parallel()

	store := New(t.TempDir())
	require.NoError(t, store.Put("demo", "load", "df", []byte("old")))
	require.NoError(t, store.Put("demo", "load", "df", []byte("new")))

	got, err := store.Get("demo", "load", "df")
	require.NoError(t, err)
	require.Equal(t, "new", string(got))
}

func TestPutLeavesNoStagingResidue(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := New(root)
	require.NoError(t, store.Put("demo", "load", "df", []byte("value")))

	dir := filepath.Join(pipeline.Dir(root, "demo"), ".variables", "load")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "df.json", entries[0].Name())
}

func TestListGroupsByBlock(t *testing.T) {
	t.Parallel()

	store := New(t.TempDir())
	require.NoError(t, store.Put("demo", "load", "df", []byte("1")))
	require.NoError(t, store.Put("demo", "load", "profile", []byte("2")))
	require.NoError(t, store.Put("demo", "clean", "df", []byte("3")))

	got, err := store.List("demo")
	require.NoError(t, err)
	require.Equal(t, map[string][]string{
		"load":  {"df", "profile"},
		"clean": {"df"},
	}, got)
}

func TestListEmptyPipeline(t *testing.T) {
	t.Parallel()

	store := New(t.TempDir())
	got, err := store.List("demo")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDeleteVariableAndBlock(t *testing.T) {
	t.Parallel()

	store := New(t.TempDir())
	require.NoError(t, store.Put("demo", "load", "df", []byte("1")))
	require.NoError(t, store.Put("demo", "load", "profile", []byte("2")))

	require.NoError(t, store.Delete("demo", "load", "df"))
	require.False(t, store.Has("demo", "load", "df"))
	require.True(t, store.Has("demo", "load", "profile"))

	// Idempotent on missing keys.
	require.NoError(t, store.Delete("demo", "load", "df"))

	require.NoError(t, store.DeleteBlock("demo", "load"))
	require.False(t, store.Has("demo", "load", "profile"))
}
