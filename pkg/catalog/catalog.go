// Package catalog lists the rooms visible to a viewer together with a
// participant index for those rooms.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/models"
)

const (
	keyAnonymous     = "rooms:anonymous"
	keyAuthenticated = "rooms:authenticated"
)

func log() hclog.Logger {
	return logging.Named("catalog")
}

// Result is a catalog snapshot. Rooms is nil when nothing is visible.
type Result struct {
	Rooms []models.Room `json:"rooms"`
	// Participants maps room id to the ids of every participant row, any status.
	Participants map[string][]string `json:"participants"`
	Accepted     map[string]int      `json:"accepted"`
}

// Has reports whether userID holds a participant row in roomID.
func (r *Result) Has(roomID, userID string) bool {
	for _, id := range r.Participants[roomID] {
		if id == userID {
			return true
		}
	}
	return false
}

type Loader struct {
	db    database.DatabaseInterface
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewLoader builds a loader. A nil cache or a zero ttl disables caching.
func NewLoader(db database.DatabaseInterface, cache Cache, ttl time.Duration) *Loader {
	if cache == nil || ttl <= 0 {
		cache = noopCache{}
	}
	return &Loader{db: db, cache: cache, ttl: ttl, now: time.Now}
}

// Load returns the rooms visible to viewer, ordered by requested_boosting
// descending. A nil viewer only sees Open rooms.
func (l *Loader) Load(ctx context.Context, viewer *models.User) (*Result, error) {
	base := keyAuthenticated
	if viewer == nil {
		base = keyAnonymous
	}
	key := l.cacheKey(ctx, base)
	if res, ok := l.fromCache(ctx, key); ok {
		return res, nil
	}

	rooms, err := l.db.ListRooms(ctx)
	if err != nil {
		log().Error("failed to load rooms", "error", err)
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}

	now := l.now()
	visible := make([]models.Room, 0, len(rooms))
	for _, room := range rooms {
		if room.Expired(now) || !room.Listable() {
			continue
		}
		if viewer == nil && room.Access().Kind != models.AccessKindOpen {
			continue
		}
		visible = append(visible, room)
	}
	sortByBoosting(visible)

	res, err := l.index(ctx, visible)
	if err != nil {
		return nil, err
	}
	l.toCache(ctx, key, res)
	return res, nil
}

// Shared returns the rooms whose participants are exactly viewerID and
// receiverID, skipping expired ones.
func (l *Loader) Shared(ctx context.Context, viewerID, receiverID string) (*Result, error) {
	key := l.cacheKey(ctx, "shared:"+viewerID+":"+receiverID)
	if res, ok := l.fromCache(ctx, key); ok {
		return res, nil
	}

	mine, err := l.db.ListParticipantRoomIDs(ctx, viewerID)
	if err != nil {
		log().Error("failed to load viewer rooms", "user", viewerID, "error", err)
		return nil, fmt.Errorf("failed to load viewer rooms: %w", err)
	}
	theirs, err := l.db.ListParticipantRoomIDs(ctx, receiverID)
	if err != nil {
		log().Error("failed to load receiver rooms", "user", receiverID, "error", err)
		return nil, fmt.Errorf("failed to load receiver rooms: %w", err)
	}
	common := intersect(mine, theirs)

	rooms, err := l.db.ListRoomsByIDs(ctx, common)
	if err != nil {
		log().Error("failed to load shared rooms", "error", err)
		return nil, fmt.Errorf("failed to load shared rooms: %w", err)
	}
	full, err := l.index(ctx, rooms)
	if err != nil {
		return nil, err
	}

	now := l.now()
	kept := make([]models.Room, 0, len(full.Rooms))
	for _, room := range full.Rooms {
		ids := full.Participants[room.ID]
		if len(ids) != 2 || !full.Has(room.ID, viewerID) || !full.Has(room.ID, receiverID) {
			continue
		}
		if room.Expired(now) {
			continue
		}
		kept = append(kept, room)
	}
	sortByBoosting(kept)

	res := &Result{Participants: map[string][]string{}, Accepted: map[string]int{}}
	for _, room := range kept {
		res.Rooms = append(res.Rooms, room)
		res.Participants[room.ID] = full.Participants[room.ID]
		res.Accepted[room.ID] = full.Accepted[room.ID]
	}
	l.toCache(ctx, key, res)
	return res, nil
}

// Invalidate drops every cached listing, shared ones included, after a ledger write.
func (l *Loader) Invalidate(ctx context.Context) {
	if err := l.cache.Bump(ctx); err != nil {
		log().Warn("failed to invalidate catalog cache", "error", err)
	}
}

// cacheKey prefixes base with the cache generation. It returns "" when the
// generation is unreadable, which bypasses the cache.
func (l *Loader) cacheKey(ctx context.Context, base string) string {
	gen, err := l.cache.Generation(ctx)
	if err != nil {
		log().Warn("catalog cache generation unavailable", "error", err)
		return ""
	}
	return fmt.Sprintf("g%d:%s", gen, base)
}

// index reads the participant rows of rooms and builds the per-room sets.
func (l *Loader) index(ctx context.Context, rooms []models.Room) (*Result, error) {
	res := &Result{Participants: map[string][]string{}, Accepted: map[string]int{}}
	if len(rooms) == 0 {
		return res, nil
	}

	ids := make([]string, len(rooms))
	for i, room := range rooms {
		ids[i] = room.ID
		res.Participants[room.ID] = []string{}
		res.Accepted[room.ID] = 0
	}
	rows, err := l.db.ListParticipants(ctx, ids)
	if err != nil {
		log().Error("failed to load participants", "error", err)
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}

	seen := map[string]map[string]bool{}
	for _, p := range rows {
		if seen[p.ThinkTankID] == nil {
			seen[p.ThinkTankID] = map[string]bool{}
		}
		if !seen[p.ThinkTankID][p.ParticipantID] {
			seen[p.ThinkTankID][p.ParticipantID] = true
			res.Participants[p.ThinkTankID] = append(res.Participants[p.ThinkTankID], p.ParticipantID)
		}
		if p.Status == models.ParticipantAccepted {
			res.Accepted[p.ThinkTankID]++
		}
	}
	res.Rooms = rooms
	return res, nil
}

func (l *Loader) fromCache(ctx context.Context, key string) (*Result, bool) {
	if key == "" {
		return nil, false
	}
	res, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		log().Warn("catalog cache read failed", "key", key, "error", err)
		return nil, false
	}
	return res, ok
}

func (l *Loader) toCache(ctx context.Context, key string, res *Result) {
	if key == "" {
		return
	}
	if err := l.cache.Set(ctx, key, res, l.ttl); err != nil {
		log().Warn("catalog cache write failed", "key", key, "error", err)
	}
}

func sortByBoosting(rooms []models.Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].RequestedBoosting > rooms[j].RequestedBoosting
	})
}

func intersect(a, b []string) []string {
	in := make(map[string]bool, len(a))
	for _, id := range a {
		in[id] = true
	}
	out := []string{}
	for _, id := range b {
		if in[id] {
			out = append(out, id)
			in[id] = false
		}
	}
	return out
}
