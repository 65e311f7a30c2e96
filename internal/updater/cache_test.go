package updater

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCache_Missing(t *testing.T) {
	cache, err := LoadCache(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, cache)
}

func TestSaveAndLoadCache(t *testing.T) {
	tmp := t.TempDir()
	original := &VersionCache{
		LatestVersion:   "1.2.0",
		CurrentVersion:  "1.1.0",
		CheckedAt:       time.Now().Truncate(time.Second),
		UpdateAvailable: true,
	}
	require.NoError(t, SaveCache(tmp, original))

	loaded, err := LoadCache(tmp)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", loaded.LatestVersion)
	assert.Equal(t, "1.1.0", loaded.CurrentVersion)
	assert.True(t, loaded.UpdateAvailable)
	assert.True(t, original.CheckedAt.Equal(loaded.CheckedAt))
}

func TestLoadCache_Corrupted(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, cacheFileName), []byte("not valid json{{{"), 0644))

	_, err := LoadCache(tmp)
	assert.Error(t, err)
}

func TestRecordRelease(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, RecordRelease(tmp, "1.0.0", "v1.0.1"))
	cache, err := LoadCache(tmp)
	require.NoError(t, err)
	assert.True(t, cache.UpdateAvailable)

	require.NoError(t, RecordRelease(tmp, "1.0.1", "v1.0.1"))
	cache, err = LoadCache(tmp)
	require.NoError(t, err)
	assert.False(t, cache.UpdateAvailable)
}

func TestIsCacheStale(t *testing.T) {
	tests := []struct {
		name     string
		cache    *VersionCache
		expected bool
	}{
		{"nil cache is stale", nil, true},
		{"fresh cache", &VersionCache{CheckedAt: time.Now()}, false},
		{"stale cache", &VersionCache{CheckedAt: time.Now().Add(-25 * time.Hour)}, true},
		{"just past boundary", &VersionCache{CheckedAt: time.Now().Add(-24*time.Hour - time.Second)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsCacheStale(tt.cache, DefaultCacheMaxAge))
		})
	}
}

func TestCheckAndPrintBanner_FreshCache(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, RecordRelease(tmp, "1.0.0", "1.3.0"))

	f := newFakeGitHub()
	u := newTestUpdater(t, f)
	var out bytes.Buffer
	<-u.CheckAndPrintBanner(context.Background(), &out, tmp)

	assert.Contains(t, out.String(), "Update available: 1.0.0 -> 1.3.0")
	assert.Contains(t, out.String(), "retrosoft update")
	assert.Zero(t, f.requests.Load(), "a fresh cache needs no network")
}

func TestCheckAndPrintBanner_RefreshesStaleCache(t *testing.T) {
	tmp := t.TempDir()
	f := newFakeGitHub()
	f.setRelease("v2.0.0")
	u := newTestUpdater(t, f)

	var out bytes.Buffer
	<-u.CheckAndPrintBanner(context.Background(), &out, tmp)
	assert.Empty(t, out.String(), "first run has nothing cached to print")

	cache, err := LoadCache(tmp)
	require.NoError(t, err)
	require.NotNil(t, cache)
	assert.Equal(t, "v2.0.0", cache.LatestVersion)
	assert.True(t, cache.UpdateAvailable)
}
