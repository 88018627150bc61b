package task

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateAndGet(t *testing.T) {
	r := NewRegistry()
	created, err := r.Create("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	got, err := r.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = r.Create("t1")
	assert.Error(t, err)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	for i := range 50 {
		_, err := r.Create(fmt.Sprintf("t%d", i))
		require.NoError(t, err)
	}
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_TransitionsAreMonotonic(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("t1")
	require.NoError(t, err)

	_, ok := r.Complete("t1", Result{Success: true})
	assert.False(t, ok, "complete must not skip processing")

	require.True(t, r.MarkProcessing("t1"))
	assert.False(t, r.MarkProcessing("t1"), "processing twice")

	done, ok := r.Complete("t1", Result{Success: true, Content: "minutes"})
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, done.Status)

	_, ok = r.Fail("t1", "late failure")
	assert.False(t, ok, "terminal task must not change")

	got, err := r.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, "minutes", got.Result.Content)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Create("t1")
	r.MarkProcessing("t1")
	r.Complete("t1", Result{Success: true, Content: "original"})

	got, _ := r.Get("t1")
	got.Result.Content = "mutated"
	got.Status = StatusFailed

	again, _ := r.Get("t1")
	assert.Equal(t, "original", again.Result.Content)
	assert.Equal(t, StatusCompleted, again.Status)
}

func TestRegistry_ListInsertionOrder(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Create(id)
		require.NoError(t, err)
	}
	r.MarkProcessing("a")

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "a", list[1].ID)
	assert.Equal(t, StatusProcessing, list[1].Status)
	assert.True(t, list[1].UpdatedAt.After(list[1].CreatedAt))
	assert.Equal(t, "b", list[2].ID)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i)
			_, err := r.Create(id)
			assert.NoError(t, err)
			r.MarkProcessing(id)
			_, _ = r.Get(id)
			_ = r.List()
			r.Complete(id, Result{Success: true})
		}(i)
	}
	wg.Wait()

	list := r.List()
	assert.Len(t, list, 100)
	for _, s := range list {
		assert.Equal(t, StatusCompleted, s.Status)
	}
}
