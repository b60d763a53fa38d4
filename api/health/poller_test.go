package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoll(t *testing.T) {
	var storageErr atomic.Value
	storageErr.Store(errors.New("bucket unreachable"))

	p := NewPoller(time.Minute,
		Check{Name: "repository", Fn: func(context.Context) error { return nil }},
		Check{Name: "storage", Fn: func(context.Context) error {
			err, _ := storageErr.Load().(error)
			return err
		}},
	)

	statuses := p.Poll(context.Background())
	require.Len(t, statuses, 2)
	require.True(t, statuses[0].Up)
	require.False(t, statuses[1].Up)
	require.Equal(t, "bucket unreachable", statuses[1].Error)

	last, ok := p.Last("storage")
	require.True(t, ok)
	require.False(t, last.Up)

	storageErr.Store(error(nil))
	p.Poll(context.Background())
	last, _ = p.Last("storage")
	require.True(t, last.Up)

	_, ok = p.Last("missing")
	require.False(t, ok)
}

func TestPollHonoursTimeout(t *testing.T) {
	p := NewPoller(time.Minute, Check{Name: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	p.Timeout = 20 * time.Millisecond

	start := time.Now()
	statuses := p.Poll(context.Background())
	require.False(t, statuses[0].Up)
	require.Less(t, time.Since(start), time.Second)
}

func TestRunStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	p := NewPoller(10*time.Millisecond, Check{Name: "x", Fn: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
