package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/boombox/internal/audiotest"
	"github.com/petervdpas/boombox/internal/media"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "BingBongAudio"))
	require.NoError(t, err)
	return s
}

func TestLayout(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	assert.Equal(t, filepath.Join(s.Dir(), "bingbong_ABCDEFGHIJK.wav"), s.AudioPath("ABCDEFGHIJK"))
	assert.Equal(t, filepath.Join(s.Dir(), "bingbong_ABCDEFGHIJK.json"), s.MetaPath("ABCDEFGHIJK"))
}

func TestLookupMissThenPutThenHit(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	id := media.ID("ABCDEFGHIJK")

	_, ok := s.Lookup(id)
	assert.False(t, ok)

	audiotest.WriteTone(t, s.AudioPath(id), 0.5, 440)
	e, err := s.Put(id, "  Never Gonna  ")
	require.NoError(t, err)
	assert.Equal(t, "Never Gonna", e.Title)
	assert.Equal(t, "Never Gonna", s.Title(id))

	hit, ok := s.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "Never Gonna", hit.Title)
	assert.Equal(t, s.AudioPath(id), hit.AudioPath)
	assert.InDelta(t, 0.5, hit.Duration.Seconds(), 0.05)
}

func TestPutWithoutTitleDefaultsToUnknown(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	id := media.ID("A9993E36")
	audiotest.WriteTone(t, s.AudioPath(id), 0.1, 440)

	e, err := s.Put(id, "")
	require.NoError(t, err)
	assert.Equal(t, UnknownTitle, e.Title)
}

func TestPutWithoutAudioFails(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	_, err := s.Put("missing0", "x")
	assert.Error(t, err)
}

func TestLookupDropsInvalidWAV(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	id := media.ID("DEADBEEF")
	audiotest.WriteGarbage(t, s.AudioPath(id))
	require.NoError(t, os.WriteFile(s.MetaPath(id), []byte(`{"title":"x"}`), 0o644))

	_, ok := s.Lookup(id)
	assert.False(t, ok)
	assert.NoFileExists(t, s.AudioPath(id))
	assert.NoFileExists(t, s.MetaPath(id))
}

func TestEvictRemovesLeastRecentlyAccessed(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	base := time.Now().Add(-time.Hour)

	// entry i was last accessed at base+i minutes, so 0 and 1 are oldest.
	for i := 0; i < 7; i++ {
		id := media.ID(fmt.Sprintf("ID%09d", i))
		audiotest.WriteTone(t, s.AudioPath(id), 0.05, 440)
		_, err := s.Put(id, fmt.Sprintf("song %d", i))
		require.NoError(t, err)
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(s.AudioPath(id), at, at))
	}

	removed := s.Evict(5)
	assert.Equal(t, 2, removed)

	for i := 0; i < 7; i++ {
		id := media.ID(fmt.Sprintf("ID%09d", i))
		if i < 2 {
			assert.NoFileExists(t, s.AudioPath(id))
			assert.NoFileExists(t, s.MetaPath(id))
		} else {
			assert.FileExists(t, s.AudioPath(id))
			assert.FileExists(t, s.MetaPath(id))
		}
	}

	assert.Zero(t, s.Evict(5), "already within bounds")
}

func TestLookupRefreshesAccessOrder(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	old := time.Now().Add(-time.Hour)

	ids := []media.ID{"OLDEST0000A", "MIDDLE0000B", "NEWEST0000C"}
	for i, id := range ids {
		audiotest.WriteTone(t, s.AudioPath(id), 0.05, 440)
		_, err := s.Put(id, string(id))
		require.NoError(t, err)
		at := old.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(s.AudioPath(id), at, at))
	}

	_, ok := s.Lookup(ids[0])
	require.True(t, ok)

	assert.Equal(t, 1, s.Evict(2))
	assert.FileExists(t, s.AudioPath(ids[0]))
	assert.NoFileExists(t, s.AudioPath(ids[1]))
	assert.FileExists(t, s.AudioPath(ids[2]))
}

func TestListAndClear(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	for _, id := range []media.ID{"AAAAAAAA", "BBBBBBBB"} {
		audiotest.WriteTone(t, s.AudioPath(id), 0.05, 440)
		_, err := s.Put(id, "")
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "unrelated.txt"), []byte("x"), 0o644))

	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.Clear())
	list, err = s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.FileExists(t, filepath.Join(s.Dir(), "unrelated.txt"))
}
