package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendTurn_BoundsHistory(t *testing.T) {
	s := New("ds_1", "")
	for i := 0; i < 5; i++ {
		s.AppendTurn(Turn{Utterance: string(rune('a' + i))}, 3)
	}
	require.Len(t, s.Turns, 3)
	assert.Equal(t, "c", s.Turns[0].Utterance)
	assert.Equal(t, "e", s.Turns[2].Utterance)
	assert.False(t, s.Turns[2].At.IsZero())
	assert.Equal(t, s.Turns[2].At, s.LastActiveAt)

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].Utterance)
	assert.Nil(t, s.Recent(0))
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s, err := store.Create(ctx, "ds_1", "u1")
	require.NoError(t, err)

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	got.AppendTurn(Turn{Utterance: "hi"}, 0)
	got.PendingClarification = &Clarification{Question: "which?"}

	again, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Turns, "mutating a fetched session must not leak into the store")
	assert.Nil(t, again.PendingClarification)

	require.NoError(t, store.Upsert(ctx, got))
	again, err = store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, again.Turns, 1)
}

func TestStore_NotFoundAndEvict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	s, err := store.Create(ctx, "ds_1", "")
	require.NoError(t, err)
	assert.True(t, store.Evict(ctx, s.ID))
	assert.False(t, store.Evict(ctx, s.ID))
	assert.Equal(t, 0, store.Len())
}

func TestStore_CreateWithID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s, err := store.CreateWithID(ctx, "fixed", "ds_1", "")
	require.NoError(t, err)
	assert.Equal(t, "fixed", s.ID)

	_, err = store.CreateWithID(ctx, "fixed", "ds_1", "")
	assert.ErrorIs(t, err, ErrExists)
}

func TestStore_LockSerializesPerSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := store.Lock(ctx, "s1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
}

func TestStore_LockIndependentSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	unlockA, err := store.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := store.Lock(ctx, "b")
	require.NoError(t, err, "a held lock on one session must not block another")
	unlockB()
}

func TestStore_LockHonorsContext(t *testing.T) {
	store := NewMemoryStore()
	unlock, err := store.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = store.Lock(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	again, err := store.Lock(context.Background(), "s1")
	require.NoError(t, err)
	again()
}

func TestStore_UpdateDoesNotReviveEvicted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s, err := store.Create(ctx, "ds", "")
	require.NoError(t, err)
	s.AppendTurn(Turn{Utterance: "total", Terminal: "done"}, 0)
	require.NoError(t, store.Update(ctx, s))

	require.True(t, store.Evict(ctx, s.ID))
	assert.ErrorIs(t, store.Update(ctx, s), ErrNotFound)
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestStore_LockSlotsAreReleased(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("unknown-%d", i)
		unlock, err := store.Lock(ctx, id)
		require.NoError(t, err)
		_, err = store.Get(ctx, id)
		require.ErrorIs(t, err, ErrNotFound)
		unlock()
	}
	assert.Equal(t, 0, store.lockCount())

	unlock, err := store.Lock(ctx, "held")
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = store.Lock(waitCtx, "held")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, store.lockCount())
	unlock()
	assert.Equal(t, 0, store.lockCount())
}

func TestStore_EvictIdle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	old, _ := store.Create(ctx, "ds", "")
	old.LastActiveAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Upsert(ctx, old))

	busy, _ := store.Create(ctx, "ds", "")
	busy.LastActiveAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Upsert(ctx, busy))
	unlock, err := store.Lock(ctx, busy.ID)
	require.NoError(t, err)
	defer unlock()

	fresh, _ := store.Create(ctx, "ds", "")

	assert.Equal(t, 1, store.EvictIdle(time.Minute))
	_, err = store.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, busy.ID)
	assert.NoError(t, err)
	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestStore_ListOrdersByActivity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a, _ := store.Create(ctx, "ds", "")
	a.LastActiveAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Upsert(ctx, a))
	b, _ := store.Create(ctx, "ds", "")

	list := store.List(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}

func TestSession_Export(t *testing.T) {
	s := New("ds_1", "u1")
	s.AppendTurn(Turn{Utterance: "total amount", Answer: "350.5", Terminal: "done"}, 0)
	s.AppendTurn(Turn{Utterance: "hello", Answer: "hi", Terminal: "done"}, 0)

	dir, err := s.Export(t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "session.json"))
	require.NoError(t, err)
	var sum Summary
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Equal(t, 2, sum.TurnCount)

	f, err := os.Open(filepath.Join(dir, "turns.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestSession_ExportRejectsUnsafeIDs(t *testing.T) {
	root := t.TempDir()
	exports := filepath.Join(root, "exports")

	for _, id := range []string{"../escaped", "..", "a/b", `a\b`, ""} {
		t.Run(id, func(t *testing.T) {
			_, err := NewWithID(id, "ds", "").Export(exports)
			assert.ErrorIs(t, err, ErrInvalidID)
		})
	}
	_, err := os.Stat(filepath.Join(root, "escaped"))
	assert.True(t, os.IsNotExist(err))
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID(New("ds", "").ID))
	assert.False(t, ValidID("../escaped"))
	assert.False(t, ValidID("lost-session"))
	assert.False(t, ValidID(""))
}
