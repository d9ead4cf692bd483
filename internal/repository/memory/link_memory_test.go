package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"streamlink/internal/model"
	"streamlink/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkMemory_InsertLookup(t *testing.T) {
	store := NewLinkMemory(0)
	ctx := context.Background()

	size := int64(1000)
	link := &model.Link{
		Token:        "tok-1",
		ObjectRef:    "videos/file_1.mp4",
		MIME:         "video/mp4",
		Filename:     "clip.mp4",
		DeclaredSize: &size,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Insert(ctx, link))

	got, err := store.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, link, got)

	// mutating the returned copy must not leak into the store
	*got.DeclaredSize = 1
	again, err := store.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), *again.DeclaredSize)

	err = store.Insert(ctx, link)
	assert.ErrorIs(t, err, repository.ErrDuplicateToken)

	_, err = store.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLinkMemory_Delete(t *testing.T) {
	store := NewLinkMemory(0)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &model.Link{Token: "a", CreatedAt: time.Now()}))
	assert.NoError(t, store.Delete(ctx, "a"))
	assert.NoError(t, store.Delete(ctx, "a"), "delete is idempotent")

	_, err := store.Lookup(ctx, "a")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLinkMemory_SweepExpired(t *testing.T) {
	store := NewLinkMemory(2)
	ctx := context.Background()
	cutoff := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(ctx, &model.Link{
			Token:     fmt.Sprintf("old-%d", i),
			CreatedAt: cutoff.Add(-time.Duration(i+1) * time.Minute),
		}))
	}
	require.NoError(t, store.Insert(ctx, &model.Link{Token: "edge", CreatedAt: cutoff}))
	require.NoError(t, store.Insert(ctx, &model.Link{Token: "new", CreatedAt: cutoff.Add(time.Hour)}))

	removed, err := store.SweepExpired(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), removed)
	assert.Equal(t, 2, store.Len())

	_, err = store.Lookup(ctx, "edge")
	assert.NoError(t, err, "records created exactly at the cutoff stay")

	removed, err = store.SweepExpired(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestLinkMemory_Concurrent(t *testing.T) {
	store := NewLinkMemory(3)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("t-%d", i)
			_ = store.Insert(ctx, &model.Link{Token: token, ObjectRef: "ref", CreatedAt: old})
			if l, err := store.Lookup(ctx, token); err == nil {
				assert.Equal(t, "ref", l.ObjectRef)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = store.SweepExpired(ctx, time.Now())
	}()
	wg.Wait()

	_, err := store.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}
