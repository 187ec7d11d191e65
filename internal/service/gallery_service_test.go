package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/genstudio/internal/models"
)

func seedGeneration(env *testEnv, id, userID, storagePath string, at time.Time) {
	env.records.items[id] = models.Generation{ID: id, UserID: userID, StoragePath: storagePath, CreatedAt: at}
	if storagePath != "" {
		env.media.objects[storagePath] = true
	}
}

func TestGallery_List(t *testing.T) {
	env := newTestEnv()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedGeneration(env, "a", "u1", "", base)
	seedGeneration(env, "b", "u1", "", base.Add(time.Hour))
	seedGeneration(env, "c", "u2", "", base)

	list, err := env.gallery.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, 50, env.records.lastLimit)

	_, err = env.gallery.List(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	env.records.listErr = errBoom
	_, err = env.gallery.List(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestGallery_DeleteOwn(t *testing.T) {
	env := newTestEnv()
	seedGeneration(env, "g1", "u1", "generations/u1/g1.png", time.Now())

	require.NoError(t, env.gallery.Delete(context.Background(), "u1", "g1"))

	assert.Zero(t, env.records.count())
	assert.Equal(t, []string{"generations/u1/g1.png"}, env.media.deleted)
	assert.Empty(t, env.media.objects)
}

func TestGallery_DeleteByNonOwnerIsForbidden(t *testing.T) {
	env := newTestEnv()
	env.credits.set("u1", 7)
	env.credits.set("u2", 3)
	seedGeneration(env, "g1", "u1", "generations/u1/g1.png", time.Now())

	err := env.gallery.Delete(context.Background(), "u2", "g1")
	assert.ErrorIs(t, err, ErrForbidden)

	assert.Equal(t, 1, env.records.count())
	assert.Empty(t, env.media.deleted)
	b1, _ := env.credits.balance("u1")
	b2, _ := env.credits.balance("u2")
	assert.Equal(t, 7, b1)
	assert.Equal(t, 3, b2)
}

func TestGallery_DeleteMissing(t *testing.T) {
	env := newTestEnv()

	err := env.gallery.Delete(context.Background(), "u1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	err = env.gallery.Delete(context.Background(), "", "nope")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGallery_DeleteStorageFailureIsSwallowed(t *testing.T) {
	env := newTestEnv()
	seedGeneration(env, "g1", "u1", "generations/u1/g1.png", time.Now())
	env.media.deleteErr = errBoom

	require.NoError(t, env.gallery.Delete(context.Background(), "u1", "g1"))
	assert.Zero(t, env.records.count())
}

func TestGallery_DeleteVideoSkipsStorage(t *testing.T) {
	env := newTestEnv()
	seedGeneration(env, "v1", "u1", "", time.Now())

	require.NoError(t, env.gallery.Delete(context.Background(), "u1", "v1"))
	assert.Empty(t, env.media.deleted)
}

func TestGallery_DeleteRecordFailure(t *testing.T) {
	env := newTestEnv()
	seedGeneration(env, "g1", "u1", "", time.Now())
	env.records.deleteErr = errBoom

	err := env.gallery.Delete(context.Background(), "u1", "g1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
