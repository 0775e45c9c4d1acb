package memory

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterRepositoryConcurrentCallsAreGapFree(t *testing.T) {
	repo := NewCounterRepository()
	const calls = 50

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []int64
	)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := repo.NextDaily(context.Background(), "orders", "20250301")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, n := range got {
		require.Equal(t, int64(i+1), n)
	}
}

func TestCounterRepositoryResetsOnNewDay(t *testing.T) {
	repo := NewCounterRepository()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := repo.NextDaily(ctx, "orders", "20250301")
		require.NoError(t, err)
		require.Equal(t, int64(i), n)
	}

	n, err := repo.NextDaily(ctx, "orders", "20250302")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = repo.NextDaily(ctx, "returns", "20250302")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestCounterRepositoryRejectsBlankInput(t *testing.T) {
	_, err := NewCounterRepository().NextDaily(context.Background(), "", "20250301")
	require.Error(t, err)
}
