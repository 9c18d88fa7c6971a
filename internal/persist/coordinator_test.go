// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWindows() Windows {
	return Windows{
		Message:     30 * time.Millisecond,
		MessageList: 30 * time.Millisecond,
		ChatMeta:    30 * time.Millisecond,
	}
}

func TestCoordinatorCoalescesBurst(t *testing.T) {
	c := NewCoordinator(testWindows(), nil)
	defer c.Close()

	var mu sync.Mutex
	var writes []int

	for i := 1; i <= 10; i++ {
		snapshot := i
		c.Submit(KindMessage, func(ctx context.Context) error {
			mu.Lock()
			writes = append(writes, snapshot)
			mu.Unlock()
			return nil
		})
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, writes, 1, "a burst inside one window must produce one write")
	assert.Equal(t, 10, writes[0], "the write must carry the last snapshot")
}

func TestCoordinatorKindsThrottleIndependently(t *testing.T) {
	c := NewCoordinator(testWindows(), nil)
	defer c.Close()

	var msgWrites, metaWrites atomic.Int64
	c.Submit(KindMessage, func(ctx context.Context) error {
		msgWrites.Add(1)
		return nil
	})
	c.Submit(KindChatMeta, func(ctx context.Context) error {
		metaWrites.Add(1)
		return nil
	})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), msgWrites.Load())
	assert.Equal(t, int64(1), metaWrites.Load())
}

func TestCoordinatorFlushRunsPendingImmediately(t *testing.T) {
	c := NewCoordinator(Windows{Message: time.Hour}, nil)
	defer c.Close()

	var wrote atomic.Bool
	c.Submit(KindMessage, func(ctx context.Context) error {
		wrote.Store(true)
		return nil
	})

	require.NoError(t, c.Flush(context.Background()))
	assert.True(t, wrote.Load(), "flush must not wait for the window")
}

func TestCoordinatorFlushAfterWindowFindsNothing(t *testing.T) {
	c := NewCoordinator(testWindows(), nil)
	defer c.Close()

	var writes atomic.Int64
	c.Submit(KindMessage, func(ctx context.Context) error {
		writes.Add(1)
		return nil
	})

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, int64(1), writes.Load(), "flush must not repeat an already-executed write")
}

func TestCoordinatorFlushReturnsFirstError(t *testing.T) {
	c := NewCoordinator(Windows{Message: time.Hour, ChatMeta: time.Hour}, nil)
	defer c.Close()

	failure := errors.New("disk full")
	c.Submit(KindMessage, func(ctx context.Context) error { return failure })

	var metaRan atomic.Bool
	c.Submit(KindChatMeta, func(ctx context.Context) error {
		metaRan.Store(true)
		return nil
	})

	err := c.Flush(context.Background())
	assert.ErrorIs(t, err, failure)
	assert.True(t, metaRan.Load(), "later kinds still execute after an earlier failure")
}

func TestCoordinatorThrottledFailureDoesNotPropagate(t *testing.T) {
	c := NewCoordinator(testWindows(), nil)
	defer c.Close()

	c.Submit(KindMessage, func(ctx context.Context) error {
		return errors.New("transient")
	})
	// The failing write fires on its own; nothing to assert beyond the
	// absence of a panic and a clean flush afterwards.
	time.Sleep(100 * time.Millisecond)
	assert.NoError(t, c.Flush(context.Background()))
}

func TestCoordinatorCloseDropsPending(t *testing.T) {
	c := NewCoordinator(Windows{Message: time.Hour}, nil)

	var wrote atomic.Bool
	c.Submit(KindMessage, func(ctx context.Context) error {
		wrote.Store(true)
		return nil
	})

	c.Close()
	c.Close() // idempotent

	c.Submit(KindMessage, func(ctx context.Context) error {
		wrote.Store(true)
		return nil
	})
	assert.NoError(t, c.Flush(context.Background()))
	assert.False(t, wrote.Load())
}

func TestCoordinatorFlushWaitsForInFlightWrite(t *testing.T) {
	c := NewCoordinator(Windows{Message: 10 * time.Millisecond}, nil)
	defer c.Close()

	var mu sync.Mutex
	stored := ""

	started := make(chan struct{})
	release := make(chan struct{})
	c.Submit(KindMessage, func(ctx context.Context) error {
		close(started)
		<-release
		mu.Lock()
		stored = "v1-partial"
		mu.Unlock()
		return nil
	})

	// The window elapses and the first write starts, then stalls.
	<-started

	c.Submit(KindMessage, func(ctx context.Context) error {
		mu.Lock()
		stored = "v2-final"
		mu.Unlock()
		return nil
	})

	flushed := make(chan error, 1)
	go func() {
		flushed <- c.Flush(context.Background())
	}()

	select {
	case <-flushed:
		t.Fatal("Flush returned while an older write was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-flushed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "v2-final", stored, "last submitted snapshot must win")
}
