package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newFileRepo(t *testing.T) (*FileRepository, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "maps")
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	return repo, dir
}

func TestNewFileRepository_EmptyDir(t *testing.T) {
	_, err := NewFileRepository("")
	assert.Error(t, err)
}

func TestFileRepository_SaveLoadDelete(t *testing.T) {
	repo, dir := newFileRepo(t)
	ctx := context.Background()
	payload := []byte(`{"rooms":{}}`)

	require.NoError(t, repo.Save(ctx, Metadata{Name: "a/b c", RoomCount: 3, UpdatedAt: 10}, payload))

	got, err := repo.Load(ctx, "a/b c")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	metas, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Metadata{{Name: "a/b c", RoomCount: 3, UpdatedAt: 10}}, metas)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "one metadata and one payload file, no temp files left")

	require.NoError(t, repo.Delete(ctx, "a/b c"))
	require.NoError(t, repo.Delete(ctx, "a/b c"))
	_, err = repo.Load(ctx, "a/b c")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileRepository_PayloadIsCompressed(t *testing.T) {
	repo, dir := newFileRepo(t)
	payload := []byte(strings.Repeat(`{"id":"room"}`, 200))
	require.NoError(t, repo.Save(context.Background(), Metadata{Name: "big"}, payload))

	matches, err := filepath.Glob(filepath.Join(dir, "*"+payloadSuffix))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	raw, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Less(t, len(raw), len(payload))

	decoded, err := snappy.Decode(nil, raw)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestFileRepository_ListSkipsForeignFiles(t *testing.T) {
	repo, dir := newFileRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, Metadata{Name: "ok"}, []byte("{}")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk"+metaSuffix), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hi"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"+metaSuffix), 0o755))

	metas, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "ok", metas[0].Name)
}

func TestFileRepository_CorruptPayload(t *testing.T) {
	repo, _ := newFileRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, Metadata{Name: "x"}, []byte("{}")))
	require.NoError(t, os.WriteFile(repo.path("x", payloadSuffix), []byte{0xff, 0xff, 0xff}, 0o644))

	_, err := repo.Load(ctx, "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFileRepository_CancelledContext(t *testing.T) {
	repo, _ := newFileRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, repo.Save(ctx, Metadata{Name: "x"}, nil), context.Canceled)
	_, err := repo.Load(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, repo.Delete(ctx, "x"), context.Canceled)
}

// Property: any name round-trips through the file layout.
func TestPropertyFileRepositoryNames(t *testing.T) {
	repo, _ := newFileRepo(t)
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringN(1, 40, -1).Draw(t, "name")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "payload")
		ctx := context.Background()

		if err := repo.Save(ctx, Metadata{Name: name}, payload); err != nil {
			t.Fatalf("save %q: %v", name, err)
		}
		got, err := repo.Load(ctx, name)
		if err != nil {
			t.Fatalf("load %q: %v", name, err)
		}
		if string(got) != string(payload) {
			t.Fatalf("payload mismatch for %q", name)
		}
		if err := repo.Delete(ctx, name); err != nil {
			t.Fatalf("delete %q: %v", name, err)
		}
	})
}
