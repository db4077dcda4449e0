package config_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/telemetry"
)

func newTestCache(t *testing.T) *config.Cache {
	t.Helper()
	loader := config.NewLoader(t.TempDir(), telemetry.NoopLogger{})
	cache, err := config.NewCache(context.Background(), loader, telemetry.NoopLogger{}, true)
	require.NoError(t, err)
	return cache
}

// TestETagIsomorphism verifies that two users whose
// filtered app lists differ get different ETags, and two users whose
// filtered lists are identical (an admin with ["*"] vs. a user explicitly
// granted the same full set) get the same ETag.
func TestETagIsomorphism(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, cache.PutResource(ctx, "apps", id, config.App{ID: id, Enabled: true}))
	}

	admin := config.UserView{Key: "admin", Apps: config.AllowAllFilter()}
	ab := config.UserView{Key: "ab", Apps: config.NewResourceFilter([]string{"A", "B"})}
	abc := config.UserView{Key: "abc-explicit", Apps: config.NewResourceFilter([]string{"A", "B", "C"})}

	adminView := cache.Apps(admin)
	abView := cache.Apps(ab)
	abcView := cache.Apps(abc)

	assert.Len(t, adminView.Data, 3)
	assert.Len(t, abView.Data, 2)
	assert.Len(t, abcView.Data, 3)

	assert.NotEqual(t, adminView.ETag, abView.ETag, "different filtered content must yield different ETags")
	assert.Equal(t, adminView.ETag, abcView.ETag, "identical filtered content must yield the same ETag regardless of how the filter was expressed")
}

// TestETagChangesOnContentChange ensures an admin write (which changes the
// filtered content, not just an opaque version counter) produces a new ETag.
func TestETagChangesOnContentChange(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.PutResource(ctx, "apps", "A", config.App{ID: "A", Enabled: true}))
	view := config.UserView{Key: "u", Apps: config.AllowAllFilter()}
	before := cache.Apps(view)

	require.NoError(t, cache.PutResource(ctx, "apps", "A", config.App{ID: "A", Enabled: true, Name: map[string]string{"en": "Renamed"}}))
	after := cache.Apps(view)

	assert.NotEqual(t, before.ETag, after.ETag)
}

// TestModelFromDiskMatchesSnapshotAfterWrite exercises the cold-cache disk
// read path directly: after a write, the disk read returns the same stored
// key as the in-memory snapshot.
func TestModelFromDiskMatchesSnapshotAfterWrite(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.PutResource(ctx, "models", "gpt", config.Model{ID: "gpt", Provider: config.ProviderOpenAI, EncryptedAPIKey: "enc-value"}))

	inMemory, ok := cache.Model("gpt")
	require.True(t, ok)
	assert.Equal(t, "enc-value", inMemory.EncryptedAPIKey)

	fromDisk, ok := cache.ModelFromDisk("gpt")
	require.True(t, ok)
	assert.Equal(t, "enc-value", fromDisk.EncryptedAPIKey)
}
