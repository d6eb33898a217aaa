package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalEnsureCollectionIdempotent(t *testing.T) {
	dir := t.TempDir()
	ws := NewLocal(dir)
	ctx := context.Background()

	uri, err := ws.EnsureCollection(ctx, "sources/chunks")
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "sources", "chunks")+string(filepath.Separator), uri)

	// idempotent: calling again on an existing tree is not an error.
	uri2, err := ws.EnsureCollection(ctx, "sources/chunks")
	require.NoError(t, err)
	require.Equal(t, uri, uri2)

	info, err := os.Stat(filepath.Join(dir, "sources", "chunks"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestLocalWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ws := NewLocal(dir)
	ctx := context.Background()

	f := NewCollection("results").File("chunk-0.json")
	require.NoError(t, ws.Write(ctx, f, []byte(`{"ok":true}`)))

	ok, err := ws.Exists(ctx, f)
	require.NoError(t, err)
	require.True(t, ok)

	content, err := ws.Read(ctx, f)
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(content))
}

func TestLocalExistsFalseForMissing(t *testing.T) {
	ws := NewLocal(t.TempDir())
	ok, err := ws.Exists(context.Background(), NewFile("does-not-exist.json"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocalDeleteCollectionMissingIsNotError(t *testing.T) {
	ws := NewLocal(t.TempDir())
	err := ws.DeleteCollection(context.Background(), NewCollection("never-created"))
	require.NoError(t, err)
}

func TestLocalAbsoluteURITrailingSlash(t *testing.T) {
	dir := t.TempDir()
	ws := NewLocal(dir)
	c := NewCollection("sources")
	f := NewFile("sources", "source.json")
	require.True(t, strings.HasSuffix(ws.AbsoluteURI(c), string(filepath.Separator)))
	require.False(t, strings.HasSuffix(ws.AbsoluteURI(f), string(filepath.Separator)))
}
