package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-photos/internal/domain"
)

func job() domain.Job {
	return domain.Job{ImageID: uuid.New(), AccountID: uuid.New(), OriginalObjectKey: domain.NewObjectKey()}
}

func TestMemoryFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	first, second := job(), job()
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))
	assert.Equal(t, 2, q.Len())

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestMemoryDequeueWaitsForEnqueue(t *testing.T) {
	q := NewMemory()
	want := job()
	got := make(chan domain.Job, 1)

	go func() {
		j, err := q.Dequeue(context.Background())
		if err == nil {
			got <- j
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), want))

	select {
	case j := <-got:
		assert.Equal(t, want, j)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestMemoryDequeueHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewMemory().Dequeue(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestMemoryCloseDrainsThenReportsClosed(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	pending := job()
	require.NoError(t, q.Enqueue(ctx, pending))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, job()), ErrClosed)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, pending, got)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryCloseWakesWaiters(t *testing.T) {
	q := NewMemory()
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := q.Dequeue(context.Background())
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter not released by Close")
		}
	}
}

func TestMemoryEachJobDeliveredOnce(t *testing.T) {
	const producers, perProducer, consumers = 4, 250, 8
	q := NewMemory()
	ctx := context.Background()

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[j.ImageID]++
				mu.Unlock()
			}
		}()
	}

	var pw sync.WaitGroup
	for i := 0; i < producers; i++ {
		pw.Add(1)
		go func() {
			defer pw.Done()
			for n := 0; n < perProducer; n++ {
				if err := q.Enqueue(ctx, job()); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}()
	}
	pw.Wait()
	require.NoError(t, q.Close())
	wg.Wait()

	assert.Len(t, seen, producers*perProducer)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s delivered %d times", id, n)
	}
}
