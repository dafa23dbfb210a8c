package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CMoncur/proto-scrape/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "archive")
		store, err := local.New(local.Config{Dir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("MissingDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("PathIsFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "f")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Dir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{Dir: dir})
	require.NoError(t, err)

	t.Run("WritesFile", func(t *testing.T) {
		uri, err := store.PutObject(context.Background(), "icodrops/2024/page.html", "text/html", strings.NewReader("<html></html>"))
		require.NoError(t, err)
		want := filepath.Join(dir, "icodrops", "2024", "page.html")
		assert.Equal(t, "file://"+want, uri)
		got, err := os.ReadFile(want)
		require.NoError(t, err)
		assert.Equal(t, "<html></html>", string(got))
	})
	t.Run("Overwrites", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "a.html", "", strings.NewReader("one"))
		require.NoError(t, err)
		_, err = store.PutObject(context.Background(), "a.html", "", strings.NewReader("two"))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(dir, "a.html"))
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})
	t.Run("RejectsTraversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.html", "", strings.NewReader("x"))
		assert.Error(t, err)
	})
	t.Run("RejectsEmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
		assert.Error(t, err)
	})
}
