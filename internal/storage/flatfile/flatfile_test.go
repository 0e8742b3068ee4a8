package flatfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "state")

	s, err := New(filepath.Join(dir, "posted_links.txt"), filepath.Join(dir, "checkpoint.txt"))
	require.NoError(t, err)

	return s, dir
}

func TestStore_LedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	urls, err := s.LoadPublishedURLs(ctx)
	require.NoError(t, err)
	assert.Empty(t, urls)

	require.NoError(t, s.AppendPublishedURL(ctx, "http://x.com/a.jpg"))
	require.NoError(t, s.AppendPublishedURL(ctx, "https://i.redd.it/b"))

	urls, err = s.LoadPublishedURLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x.com/a.jpg", "https://i.redd.it/b"}, urls)

	raw, err := os.ReadFile(filepath.Join(dir, "posted_links.txt"))
	require.NoError(t, err)
	assert.Equal(t, "http://x.com/a.jpg\nhttps://i.redd.it/b\n", string(raw))
}

func TestStore_LedgerRejectsLineBreaks(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.AppendPublishedURL(context.Background(), "http://x.com/a\nb.jpg")
	require.Error(t, err)
}

func TestStore_LedgerSkipsBlankLines(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "posted_links.txt"), []byte("a\n\n  \nb\n"), 0o600))

	urls, err := s.LoadPublishedURLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, urls)
}

func TestStore_CheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	got, err := s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	want := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	require.NoError(t, s.SaveCheckpoint(ctx, want))

	got, err = s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	_, err = os.Stat(filepath.Join(dir, "checkpoint.txt.tmp"))
	assert.True(t, os.IsNotExist(err), "temp file must not survive a save")
}

func TestStore_CheckpointHandEdited(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint.txt"), []byte("2024-03-01 12:30:45\n"), 0o600))

	got, err := s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC), got)
}

func TestStore_CheckpointGarbage(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint.txt"), []byte("not a date at all"), 0o600))

	_, err := s.LoadCheckpoint(ctx)
	require.Error(t, err)
}

func TestStore_Ping(t *testing.T) {
	s, dir := newTestStore(t)

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, os.RemoveAll(dir))
	require.Error(t, s.Ping(context.Background()))
}

func TestSyncDir(t *testing.T) {
	require.NoError(t, syncDir(t.TempDir()))
	assert.Error(t, syncDir(filepath.Join(t.TempDir(), "missing")))
}
