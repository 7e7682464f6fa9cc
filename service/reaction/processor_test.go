package reaction

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NProject/tools/errs"
)

type fakeRepo struct {
	mu      sync.Mutex
	applied []*ReactionEvent
	failOn  string // entity id that triggers an apply failure
}

func (r *fakeRepo) ApplyReaction(_ context.Context, ev *ReactionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && ev.EntityID == r.failOn {
		return errs.New("storage down")
	}
	r.applied = append(r.applied, ev)
	return nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated map[string]int
}

func (c *fakeCache) InvalidateEntity(_ context.Context, entityID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalidated == nil {
		c.invalidated = make(map[string]int)
	}
	c.invalidated[entityID]++
	return nil
}

func makeEvents(n int, entities int) []*ReactionEvent {
	evs := make([]*ReactionEvent, 0, n)
	for i := 0; i < n; i++ {
		evs = append(evs, &ReactionEvent{
			EventID:      fmt.Sprintf("ev-%d", i),
			EntityID:     fmt.Sprintf("note-%d", i%entities),
			UserID:       fmt.Sprintf("user-%d", i),
			ReactionType: "like",
			Timestamp:    time.Now(),
		})
	}
	return evs
}

func TestProcessBatchAppliesAll(t *testing.T) {
	repo := &fakeRepo{}
	cache := &fakeCache{}
	proc := NewProcessor(repo, cache, NewMemIdem(time.Minute), time.Minute)

	evs := makeEvents(1000, 25)
	applied, err := proc.ProcessBatch(context.Background(), evs)
	require.NoError(t, err)
	assert.Equal(t, 1000, applied)
	assert.Equal(t, 1000, repo.count())

	// One invalidation per touched entity, not per event.
	assert.Len(t, cache.invalidated, 25)
	for entity, n := range cache.invalidated {
		assert.Equal(t, 1, n, "entity %s invalidated more than once in batch", entity)
	}
}

func TestProcessBatchEntityStaysOnOneShard(t *testing.T) {
	evs := makeEvents(1000, 25)
	shardOf := make(map[string]int)
	for _, ev := range evs {
		s := ShardFor(ev.EntityID, 8)
		if prev, ok := shardOf[ev.EntityID]; ok {
			require.Equal(t, prev, s, "entity %s routed to two shards", ev.EntityID)
		}
		shardOf[ev.EntityID] = s
	}
}

func TestProcessBatchDedupOnRedelivery(t *testing.T) {
	repo := &fakeRepo{}
	proc := NewProcessor(repo, nil, NewMemIdem(time.Minute), time.Minute)

	evs := makeEvents(100, 10)
	applied, err := proc.ProcessBatch(context.Background(), evs)
	require.NoError(t, err)
	assert.Equal(t, 100, applied)

	// Redelivering the same batch applies nothing new.
	applied, err = proc.ProcessBatch(context.Background(), evs)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
	assert.Equal(t, 100, repo.count())
}

func TestProcessBatchPartialFailureThenReplay(t *testing.T) {
	repo := &fakeRepo{failOn: "note-1"}
	proc := NewProcessor(repo, nil, NewMemIdem(time.Minute), time.Minute)

	evs := []*ReactionEvent{
		{EventID: "a", EntityID: "note-0", UserID: "u1", ReactionType: "like"},
		{EventID: "b", EntityID: "note-1", UserID: "u2", ReactionType: "like"},
		{EventID: "c", EntityID: "note-2", UserID: "u3", ReactionType: "like"},
	}
	applied, err := proc.ProcessBatch(context.Background(), evs)
	require.Error(t, err)
	assert.Equal(t, 1, applied)

	// Storage recovers, the batch is redelivered. The event that already
	// landed is filtered by dedup and the rest go through exactly once,
	// including the one whose apply failed the first time round.
	repo.failOn = ""
	applied, err = proc.ProcessBatch(context.Background(), evs)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 3, repo.count())

	got := make(map[string]int)
	for _, ev := range repo.applied {
		got[ev.EntityID]++
	}
	assert.Equal(t, map[string]int{"note-0": 1, "note-1": 1, "note-2": 1}, got,
		"the failed event must be applied on replay, the rest exactly once")
}

func TestMemIdemSeenAfterMark(t *testing.T) {
	idem := NewMemIdem(time.Minute)
	ctx := context.Background()

	seen, err := idem.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen, "a key is not seen until it is marked")

	// Seen does not mark.
	seen, err = idem.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, idem.Mark(ctx, "k1", time.Minute))
	seen, err = idem.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = idem.Seen(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDedupKeyDistinguishesFields(t *testing.T) {
	base := ReactionEvent{EventID: "e", EntityID: "n", UserID: "u", ReactionType: "like"}
	other := base
	other.ReactionType = "heart"
	assert.NotEqual(t, base.DedupKey(), other.DedupKey())
	other = base
	other.UserID = "v"
	assert.NotEqual(t, base.DedupKey(), other.DedupKey())
}
