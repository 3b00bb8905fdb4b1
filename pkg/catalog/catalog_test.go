package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/models"
)

func newStore(t *testing.T) *database.LocalDatabase {
	t.Helper()
	db, err := database.NewLocalDatabase("file:"+uuid.NewString()+"?mode=memory&cache=shared", false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedCatalog(t *testing.T, db *database.LocalDatabase) {
	t.Helper()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(24 * time.Hour)
	require.NoError(t, db.Seed(context.Background(),
		&models.Room{ID: "open-low", Host: "h", AccessType: models.AccessOpen, RequestedBoosting: 1, OneTimeDate: &future},
		&models.Room{ID: "open-high", Host: "h", AccessType: models.AccessOpen, RequestedBoosting: 9},
		&models.Room{ID: "private", Host: "h", AccessType: models.AccessPrivate, RequestedBoosting: 5},
		&models.Room{ID: "limited", Host: "h", AccessType: models.AccessLimited, RequestedBoosting: 3},
		&models.Room{ID: "expired", Host: "h", AccessType: models.AccessOpen, RequestedBoosting: 100, OneTimeDate: &past},
		&models.Room{ID: "recurring-live", Host: "h", AccessType: models.AccessOpen, Recurring: true, OneTimeDate: &past, EndDatetime: &future},
		&models.Room{ID: "unknown", Host: "h", AccessType: "Hidden"},
		&models.Participant{ThinkTankID: "open-high", ParticipantID: "a", Status: models.ParticipantAccepted},
		&models.Participant{ThinkTankID: "open-high", ParticipantID: "b", Status: models.ParticipantPending},
		&models.Participant{ThinkTankID: "private", ParticipantID: "a", Status: models.ParticipantAccepted},
	))
}

func roomIDs(res *Result) []string {
	ids := []string{}
	for _, r := range res.Rooms {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestLoadAuthenticated(t *testing.T) {
	db := newStore(t)
	seedCatalog(t, db)

	res, err := NewLoader(db, nil, 0).Load(context.Background(), &models.User{ID: "viewer"})
	require.NoError(t, err)

	assert.Equal(t, []string{"open-high", "private", "limited", "open-low", "recurring-live"}, roomIDs(res))
	assert.ElementsMatch(t, []string{"a", "b"}, res.Participants["open-high"])
	assert.Equal(t, 1, res.Accepted["open-high"])
	assert.True(t, res.Has("private", "a"))
	assert.False(t, res.Has("limited", "a"))
}

func TestLoadAnonymousOnlySeesOpen(t *testing.T) {
	db := newStore(t)
	seedCatalog(t, db)

	res, err := NewLoader(db, nil, 0).Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"open-high", "open-low", "recurring-live"}, roomIDs(res))
}

func TestLoadEmpty(t *testing.T) {
	res, err := NewLoader(newStore(t), nil, 0).Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, res.Rooms)
}

func TestShared(t *testing.T) {
	db := newStore(t)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.Seed(context.Background(),
		&models.Room{ID: "pair", Host: "h", AccessType: models.AccessPrivate},
		&models.Room{ID: "crowd", Host: "h", AccessType: models.AccessPrivate},
		&models.Room{ID: "old-pair", Host: "h", AccessType: models.AccessPrivate, OneTimeDate: &past},
		&models.Room{ID: "solo", Host: "h", AccessType: models.AccessPrivate},
		&models.Participant{ThinkTankID: "pair", ParticipantID: "me", Status: models.ParticipantAccepted},
		&models.Participant{ThinkTankID: "pair", ParticipantID: "you", Status: models.ParticipantPending},
		&models.Participant{ThinkTankID: "crowd", ParticipantID: "me", Status: models.ParticipantAccepted},
		&models.Participant{ThinkTankID: "crowd", ParticipantID: "you", Status: models.ParticipantAccepted},
		&models.Participant{ThinkTankID: "crowd", ParticipantID: "them", Status: models.ParticipantAccepted},
		&models.Participant{ThinkTankID: "old-pair", ParticipantID: "me", Status: models.ParticipantAccepted},
		&models.Participant{ThinkTankID: "old-pair", ParticipantID: "you", Status: models.ParticipantAccepted},
		&models.Participant{ThinkTankID: "solo", ParticipantID: "me", Status: models.ParticipantAccepted},
	))

	res, err := NewLoader(db, nil, 0).Shared(context.Background(), "me", "you")
	require.NoError(t, err)
	assert.Equal(t, []string{"pair"}, roomIDs(res))
	assert.ElementsMatch(t, []string{"me", "you"}, res.Participants["pair"])
}

type failingStore struct {
	database.DatabaseInterface
}

func (failingStore) ListRooms(context.Context) ([]models.Room, error) {
	return nil, errors.New("connection reset")
}

func TestLoadReadErrorAborts(t *testing.T) {
	_, err := NewLoader(failingStore{}, nil, 0).Load(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestLoadUsesCache(t *testing.T) {
	db := newStore(t)
	seedCatalog(t, db)
	cache, err := NewLRUCache(8)
	require.NoError(t, err)
	loader := NewLoader(db, cache, time.Minute)
	ctx := context.Background()

	first, err := loader.Load(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, db.CreateRoom(ctx, &models.Room{ID: "new", Host: "h", AccessType: models.AccessOpen, RequestedBoosting: 50}))
	cached, err := loader.Load(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, roomIDs(first), roomIDs(cached))

	loader.Invalidate(ctx)
	fresh, err := loader.Load(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", fresh.Rooms[0].ID)
}

func TestLRUCacheExpiry(t *testing.T) {
	cache, err := NewLRUCache(2)
	require.NoError(t, err)
	now := time.Now()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", &Result{}, time.Second))
	_, ok, _ := cache.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = cache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestInvalidateDropsSharedListings(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	require.NoError(t, db.Seed(ctx,
		&models.Room{ID: "pair", Host: "h", AccessType: models.AccessPrivate},
		&models.Participant{ThinkTankID: "pair", ParticipantID: "me", Status: models.ParticipantAccepted},
		&models.Participant{ThinkTankID: "pair", ParticipantID: "you", Status: models.ParticipantAccepted},
	))
	cache, err := NewLRUCache(8)
	require.NoError(t, err)
	loader := NewLoader(db, cache, time.Minute)

	res, err := loader.Shared(ctx, "me", "you")
	require.NoError(t, err)
	require.Len(t, res.Rooms, 1)

	require.NoError(t, db.DeleteParticipant(ctx, "pair", "you"))
	res, err = loader.Shared(ctx, "me", "you")
	require.NoError(t, err)
	assert.Len(t, res.Rooms, 1, "served from cache until invalidated")

	loader.Invalidate(ctx)
	res, err = loader.Shared(ctx, "me", "you")
	require.NoError(t, err)
	assert.Empty(t, res.Rooms)
}

type brokenGenerationCache struct {
	noopCache
	sets int
}

func (c *brokenGenerationCache) Generation(context.Context) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

func (c *brokenGenerationCache) Set(context.Context, string, *Result, time.Duration) error {
	c.sets++
	return nil
}

func TestLoadBypassesCacheWithoutGeneration(t *testing.T) {
	db := newStore(t)
	seedCatalog(t, db)
	cache := &brokenGenerationCache{}

	res, err := NewLoader(db, cache, time.Minute).Load(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Rooms)
	assert.Zero(t, cache.sets)
}
