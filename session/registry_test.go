package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(st core.ConversationStore, c *clock, every int) *Registry {
	n := 0
	return NewRegistry(func(o *Options) {
		o.Store = st
		o.Now = c.now
		o.CleanupEvery = every
		o.NewID = func() string {
			n++
			return fmt.Sprintf("gen-%d", n)
		}
	})
}

func snapshot(sessionID, input string) core.Snapshot {
	return core.Snapshot{
		UserID:    "u1",
		SessionID: sessionID,
		UserInput: input,
		History: []core.Turn{
			{Role: core.RoleUser, Content: input},
			{Role: core.RoleAssistant, Content: "answer"},
		},
	}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newTestRegistry(nil, c, 0)

	t.Run("empty id generates one", func(t *testing.T) {
		sess, isNew := r.GetOrCreate(ctx, "", "u1")
		assert.True(t, isNew)
		assert.Equal(t, "gen-1", sess.ID)
		assert.Equal(t, "u1", sess.UserID)
	})

	t.Run("unknown id is adopted", func(t *testing.T) {
		sess, isNew := r.GetOrCreate(ctx, "s-42", "u1")
		assert.True(t, isNew)
		assert.Equal(t, "s-42", sess.ID)
	})

	t.Run("known id is reused and touched", func(t *testing.T) {
		c.advance(time.Hour)
		sess, isNew := r.GetOrCreate(ctx, "s-42", "u1")
		assert.False(t, isNew)
		assert.Equal(t, c.t, sess.LastActive)
	})

	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ExpiredSessionIsReplaced(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	mem := store.NewMemory()
	r := newTestRegistry(mem, c, 0)

	r.GetOrCreate(ctx, "s1", "u1")
	r.Record(snapshot("s1", "hello"), false)

	c.advance(DefaultExpiry + time.Minute)
	sess, isNew := r.GetOrCreate(ctx, "s1", "u1")
	require.True(t, isNew)
	assert.Equal(t, "gen-1", sess.ID)
	assert.Empty(t, sess.History)

	_, ok := r.Get("s1")
	assert.False(t, ok)

	saved, err := mem.Recent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "hello", saved[0].UserInput)
}

func TestRegistry_RecordAndHistory(t *testing.T) {
	c := &clock{t: time.Now().UTC()}
	r := newTestRegistry(nil, c, 0)

	r.Record(snapshot("s1", "first"), true)
	hist := r.History("s1")
	require.Len(t, hist, 2)
	assert.Equal(t, "first", hist[0].Content)

	hist[0].Content = "mutated"
	assert.Equal(t, "first", r.History("s1")[0].Content)

	assert.Nil(t, r.History("missing"))
}

func TestRegistry_End(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Now().UTC()}

	t.Run("saves unsaved session", func(t *testing.T) {
		mem := store.NewMemory()
		r := newTestRegistry(mem, c, 0)
		r.Record(snapshot("s1", "hi"), false)

		ok, err := r.End(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0, r.Len())
		assert.Equal(t, 1, mem.Len())
	})

	t.Run("skips persisted session", func(t *testing.T) {
		mem := store.NewMemory()
		r := newTestRegistry(mem, c, 0)
		r.Record(snapshot("s1", "hi"), true)

		ok, err := r.End(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0, mem.Len())
	})

	t.Run("unknown session", func(t *testing.T) {
		r := newTestRegistry(nil, c, 0)
		ok, err := r.End(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRegistry_PeriodicCleanup(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	mem := store.NewMemory()
	r := newTestRegistry(mem, c, 3)

	r.GetOrCreate(ctx, "old", "u1")
	r.Record(snapshot("old", "stale"), false)

	c.advance(DefaultExpiry + time.Second)
	r.GetOrCreate(ctx, "a", "u1")
	assert.Equal(t, 2, r.Len())

	r.GetOrCreate(ctx, "b", "u1")
	assert.Equal(t, 2, r.Len(), "third request evicts the expired session")

	_, ok := r.Get("old")
	assert.False(t, ok)
	assert.Equal(t, 1, mem.Len())
}

func TestRegistry_Flush(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Now().UTC()}
	mem := store.NewMemory()
	r := newTestRegistry(mem, c, 0)

	r.Record(snapshot("s1", "a"), false)
	r.Record(snapshot("s2", "b"), true)
	r.GetOrCreate(ctx, "s3", "u1")

	require.NoError(t, r.Flush(ctx))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 1, mem.Len())
}
