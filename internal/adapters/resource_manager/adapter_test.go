package resource_manager

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestResolveLimits(t *testing.T) {
	limits, err := ResolveLimits(nil, map[domain.ResourceClass]int{
		domain.ResourceLLM:  5,
		domain.ResourceHTTP: 0,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, limits[domain.ResourceLLM])
	assert.Equal(t, 4, limits[domain.ResourceHTTP], "zero keeps the default")
	assert.Equal(t, 1, limits[domain.ResourceImage])
	assert.Equal(t, 4, limits[domain.ResourceCPU])

	limits, err = ResolveLimits(map[domain.ResourceClass]int{domain.ResourceCPU: 8}, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, limits[domain.ResourceCPU])

	_, err = ResolveLimits(nil, map[domain.ResourceClass]int{domain.ResourceLLM: -1})
	assert.Error(t, err)

	_, err = ResolveLimits(nil, map[domain.ResourceClass]int{"gpu": 1})
	assert.Error(t, err)
}

func TestAdapter_AcquireRelease(t *testing.T) {
	rm := NewAdapter(map[domain.ResourceClass]int{domain.ResourceLLM: 2}, nil)
	ctx := context.Background()

	require.NoError(t, rm.Acquire(ctx, domain.ResourceLLM))
	require.NoError(t, rm.Acquire(ctx, domain.ResourceLLM))

	stats := rm.Stats()[domain.ResourceLLM]
	if stats.Active != 2 {
		t.Errorf("Expected 2 active llm slots, got %d", stats.Active)
	}
	assert.Equal(t, 1.0, stats.Utilization)

	require.NoError(t, rm.Release(domain.ResourceLLM))
	require.NoError(t, rm.Release(domain.ResourceLLM))
	assert.Equal(t, 0, rm.Stats()[domain.ResourceLLM].Active)
	assert.Equal(t, 2, rm.Stats()[domain.ResourceLLM].Peak)
}

func TestAdapter_ReleaseUnderflow(t *testing.T) {
	rm := NewAdapter(nil, nil)

	err := rm.Release(domain.ResourceHTTP)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.CategoryResource, domain.GetErrorCategory(err))
}

func TestAdapter_UnknownClass(t *testing.T) {
	rm := NewAdapter(nil, nil)
	assert.Error(t, rm.Acquire(context.Background(), "gpu"))
	assert.Error(t, rm.Release("gpu"))
}

func TestAdapter_ClassesAreIndependent(t *testing.T) {
	rm := NewAdapter(map[domain.ResourceClass]int{domain.ResourceImage: 1}, nil)
	ctx := context.Background()

	require.NoError(t, rm.Acquire(ctx, domain.ResourceImage))

	done := make(chan error, 1)
	go func() { done <- rm.Acquire(ctx, domain.ResourceCPU) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cpu acquire blocked behind image pool")
	}
}

func TestAdapter_FIFOOrder(t *testing.T) {
	rm := NewAdapter(map[domain.ResourceClass]int{domain.ResourceLLM: 1}, nil)
	ctx := context.Background()
	require.NoError(t, rm.Acquire(ctx, domain.ResourceLLM))

	const waiters = 8
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := rm.Acquire(ctx, domain.ResourceLLM); err != nil {
				t.Errorf("waiter %d: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			_ = rm.Release(domain.ResourceLLM)
		}(i)

		want := i + 1
		waitFor(t, func() bool { return rm.Stats()[domain.ResourceLLM].Waiting == want })
	}

	require.NoError(t, rm.Release(domain.ResourceLLM))
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
	assert.Equal(t, 0, rm.Stats()[domain.ResourceLLM].Active)
}

func TestAdapter_HandoffKeepsActiveCount(t *testing.T) {
	rm := NewAdapter(map[domain.ResourceClass]int{domain.ResourceHTTP: 1}, nil)
	ctx := context.Background()
	require.NoError(t, rm.Acquire(ctx, domain.ResourceHTTP))

	acquired := make(chan struct{})
	go func() {
		_ = rm.Acquire(ctx, domain.ResourceHTTP)
		close(acquired)
	}()
	waitFor(t, func() bool { return rm.Stats()[domain.ResourceHTTP].Waiting == 1 })

	require.NoError(t, rm.Release(domain.ResourceHTTP))
	<-acquired

	stats := rm.Stats()[domain.ResourceHTTP]
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Peak)
	assert.Equal(t, int64(2), stats.Acquired)
}

func TestAdapter_CancelWhileQueued(t *testing.T) {
	rm := NewAdapter(map[domain.ResourceClass]int{domain.ResourceLLM: 1}, nil)
	require.NoError(t, rm.Acquire(context.Background(), domain.ResourceLLM))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- rm.Acquire(ctx, domain.ResourceLLM) }()
	waitFor(t, func() bool { return rm.Stats()[domain.ResourceLLM].Waiting == 1 })

	cancel()
	err := <-result
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.CategoryCanceled, domain.GetErrorCategory(err))
	assert.Equal(t, 0, rm.Stats()[domain.ResourceLLM].Waiting)

	require.NoError(t, rm.Release(domain.ResourceLLM))
	assert.Equal(t, 0, rm.Stats()[domain.ResourceLLM].Active)
	assert.NoError(t, rm.Acquire(context.Background(), domain.ResourceLLM))
}

func TestAdapter_CanceledContextNeverAcquires(t *testing.T) {
	rm := NewAdapter(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, rm.Acquire(ctx, domain.ResourceCPU))
	assert.Equal(t, 0, rm.Stats()[domain.ResourceCPU].Active)
}

func TestAdapter_GrantRacingCancelDoesNotLeak(t *testing.T) {
	for i := 0; i < 200; i++ {
		rm := NewAdapter(map[domain.ResourceClass]int{domain.ResourceImage: 1}, nil)
		require.NoError(t, rm.Acquire(context.Background(), domain.ResourceImage))

		ctx, cancel := context.WithCancel(context.Background())
		result := make(chan error, 1)
		go func() { result <- rm.Acquire(ctx, domain.ResourceImage) }()
		waitFor(t, func() bool { return rm.Stats()[domain.ResourceImage].Waiting == 1 })

		go cancel()
		require.NoError(t, rm.Release(domain.ResourceImage))

		if err := <-result; err == nil {
			require.NoError(t, rm.Release(domain.ResourceImage))
		}
		cancel()

		stats := rm.Stats()[domain.ResourceImage]
		require.Equal(t, 0, stats.Active, "iteration %d leaked a slot", i)
		require.Equal(t, 0, stats.Waiting)
	}
}

func TestAdapter_NeverExceedsLimitUnderLoad(t *testing.T) {
	limits := map[domain.ResourceClass]int{
		domain.ResourceLLM:   2,
		domain.ResourceHTTP:  4,
		domain.ResourceImage: 1,
		domain.ResourceCPU:   3,
	}
	rm := NewAdapter(limits, nil)

	var current, peak [4]int64
	index := map[domain.ResourceClass]int{
		domain.ResourceLLM: 0, domain.ResourceHTTP: 1, domain.ResourceImage: 2, domain.ResourceCPU: 3,
	}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			class := domain.ResourceClasses[r.Intn(len(domain.ResourceClasses))]
			idx := index[class]

			ctx := context.Background()
			if r.Intn(5) == 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(r.Intn(3))*time.Millisecond)
				defer cancel()
			}
			if err := rm.Acquire(ctx, class); err != nil {
				return
			}

			n := atomic.AddInt64(&current[idx], 1)
			for {
				p := atomic.LoadInt64(&peak[idx])
				if n <= p || atomic.CompareAndSwapInt64(&peak[idx], p, n) {
					break
				}
			}
			time.Sleep(time.Duration(r.Intn(500)) * time.Microsecond)
			atomic.AddInt64(&current[idx], -1)

			if err := rm.Release(class); err != nil {
				t.Errorf("release: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	for class, idx := range index {
		assert.LessOrEqual(t, peak[idx], int64(limits[class]), "class %s exceeded its limit", class)
		stats := rm.Stats()[class]
		assert.Equal(t, 0, stats.Active)
		assert.Equal(t, 0, stats.Waiting)
		assert.LessOrEqual(t, stats.Peak, limits[class])
	}
}
