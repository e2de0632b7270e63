package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDirectoryPut(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	_, replaced, err := dir.Put(ctx, "abc", "conn1")
	require.NoError(t, err)
	assert.False(t, replaced)

	prev, replaced, err := dir.Put(ctx, "abc", "conn2")
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, "conn1", prev.ConnectionHandle)
	assert.Equal(t, "abc", prev.LicenseKey)

	rec, found, err := dir.Lookup(ctx, "abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "conn2", rec.ConnectionHandle)
	assert.False(t, rec.EstablishedAt.IsZero())

	_, found, _ = dir.LicenseFor(ctx, "conn1")
	assert.False(t, found, "superseded handle leaves the reverse index")

	key, found, _ := dir.LicenseFor(ctx, "conn2")
	assert.True(t, found)
	assert.Equal(t, "abc", key)

	n, _ := dir.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestMemoryDirectoryPutMovesHandle(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	_, _, _ = dir.Put(ctx, "abc", "conn1")
	_, replaced, _ := dir.Put(ctx, "def", "conn1")
	assert.False(t, replaced)

	_, found, _ := dir.Lookup(ctx, "abc")
	assert.False(t, found, "a handle owns at most one license")

	key, _, _ := dir.LicenseFor(ctx, "conn1")
	assert.Equal(t, "def", key)
}

func TestMemoryDirectoryRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("matching handle", func(t *testing.T) {
		dir := NewMemoryDirectory()
		_, _, _ = dir.Put(ctx, "abc", "conn1")

		removed, err := dir.Remove(ctx, "abc", "conn1")
		require.NoError(t, err)
		assert.True(t, removed)

		_, found, _ := dir.Lookup(ctx, "abc")
		assert.False(t, found)
		_, found, _ = dir.LicenseFor(ctx, "conn1")
		assert.False(t, found)
	})

	t.Run("stale handle", func(t *testing.T) {
		dir := NewMemoryDirectory()
		_, _, _ = dir.Put(ctx, "abc", "conn1")
		_, _, _ = dir.Put(ctx, "abc", "conn2")

		removed, err := dir.Remove(ctx, "abc", "conn1")
		require.NoError(t, err)
		assert.False(t, removed)

		rec, found, _ := dir.Lookup(ctx, "abc")
		require.True(t, found)
		assert.Equal(t, "conn2", rec.ConnectionHandle)
	})

	t.Run("unbound license", func(t *testing.T) {
		dir := NewMemoryDirectory()
		removed, err := dir.Remove(ctx, "abc", "conn1")
		require.NoError(t, err)
		assert.False(t, removed)
	})
}

func TestMemoryDirectoryConcurrentPutSameKey(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	const writers = 64
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		replaced = make(map[string]int)
		fresh    int
	)

	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-start
			prev, ok, err := dir.Put(ctx, "abc", fmt.Sprintf("conn-%d", id))
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			if ok {
				replaced[prev.ConnectionHandle]++
			} else {
				fresh++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	rec, found, _ := dir.Lookup(ctx, "abc")
	require.True(t, found)

	assert.Equal(t, 1, fresh, "exactly one writer binds an empty key")
	assert.Len(t, replaced, writers-1, "every handle but the winner is displaced once")
	for handle, n := range replaced {
		assert.Equal(t, 1, n, "%s displaced more than once", handle)
		assert.NotEqual(t, rec.ConnectionHandle, handle)
	}

	key, found, _ := dir.LicenseFor(ctx, rec.ConnectionHandle)
	assert.True(t, found)
	assert.Equal(t, "abc", key)
}

func TestMemoryDirectoryConcurrentDistinctKeys(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("lic-%d", id)
			handle := fmt.Sprintf("conn-%d", id)
			_, _, _ = dir.Put(ctx, key, handle)
			if id%2 == 0 {
				_, _ = dir.Remove(ctx, key, handle)
			}
		}(i)
	}
	wg.Wait()

	n, err := dir.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestMemoryDirectoryRemoveRacesPut(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		dir := NewMemoryDirectory()
		_, _, _ = dir.Put(ctx, "abc", "old")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = dir.Remove(ctx, "abc", "old")
		}()
		go func() {
			defer wg.Done()
			_, _, _ = dir.Put(ctx, "abc", "new")
		}()
		wg.Wait()

		rec, found, _ := dir.Lookup(ctx, "abc")
		require.True(t, found, "a stale remove must never delete the newer binding")
		assert.Equal(t, "new", rec.ConnectionHandle)
	}
}
