package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

func writeFile(t *testing.T, root string, rel string, data string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(data), 0o644))
}

func TestLocalSourceList_FiltersAndSorts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "catalog/b.jpg", "bbb")
	writeFile(t, root, "catalog/a.png", "aa")
	writeFile(t, root, "catalog/sub/c.webp", "cccc")
	writeFile(t, root, "catalog/readme.txt", "not an image")
	writeFile(t, root, "other/d.jpg", "dd")

	src, err := New(cfgFor(map[string]interface{}{"root_dir": root}))
	require.NoError(t, err)

	files, err := src.List(context.Background(), "catalog")
	require.NoError(t, err)
	require.Len(t, files, 3)

	require.Equal(t, "catalog/a.png", files[0].RemoteID)
	require.Equal(t, "catalog/b.jpg", files[1].RemoteID)
	require.Equal(t, "catalog/sub/c.webp", files[2].RemoteID)
	require.Equal(t, "a.png", files[0].RelativePath)
	require.Equal(t, "sub/c.webp", files[2].RelativePath)
	require.Equal(t, int64(2), files[0].SizeBytes)
	require.NotZero(t, files[0].ModifiedAt)
	require.Empty(t, files[0].ContentHash)
}

func TestLocalSourceList_IncludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.jpg", "a")
	writeFile(t, root, "deep/b.jpg", "b")
	writeFile(t, root, "deep/skip.png", "s")

	src, err := New(cfgFor(map[string]interface{}{
		"root_dir": root,
		"include":  []string{"**/*.jpg", "*.jpg"},
	}))
	require.NoError(t, err)

	files, err := src.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "a.jpg", files[0].RemoteID)
	require.Equal(t, "deep/b.jpg", files[1].RemoteID)
}

func TestLocalSourceList_ContentHash(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.jpg", "same")
	writeFile(t, root, "b.jpg", "same")
	writeFile(t, root, "c.jpg", "different")

	src, err := New(cfgFor(map[string]interface{}{"root_dir": root, "hash_content": true}))
	require.NoError(t, err)

	files, err := src.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, files, 3)
	require.NotEmpty(t, files[0].ContentHash)
	require.Equal(t, files[0].ContentHash, files[1].ContentHash)
	require.NotEqual(t, files[0].ContentHash, files[2].ContentHash)
}

func TestLocalSourceList_MissingFolderUnreachable(t *testing.T) {
	root := t.TempDir()
	src, err := New(cfgFor(map[string]interface{}{"root_dir": root}))
	require.NoError(t, err)

	_, err = src.List(context.Background(), "no-such-folder")
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrSourceUnreachable)
}

func TestLocalSourceOpen_RoundTrip(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "catalog/a.jpg", "payload-bytes")

	src, err := New(cfgFor(map[string]interface{}{"root_dir": root}))
	require.NoError(t, err)

	files, err := src.List(context.Background(), "catalog")
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := src.Open(context.Background(), files[0])
	require.NoError(t, err)
	require.Equal(t, []byte("payload-bytes"), data)
}

func TestLocalSourcePing(t *testing.T) {
	root := t.TempDir()
	src, err := New(cfgFor(map[string]interface{}{"root_dir": root}))
	require.NoError(t, err)
	require.NoError(t, src.Ping(context.Background()))

	gone, err := New(cfgFor(map[string]interface{}{"root_dir": filepath.Join(root, "missing")}))
	require.NoError(t, err)
	require.Error(t, gone.Ping(context.Background()))
}

func TestNewSource_UnknownType(t *testing.T) {
	cfg := cfgFor(nil)
	cfg.Type = "carrier-pigeon"
	_, err := New(cfg)
	require.Error(t, err)
}
