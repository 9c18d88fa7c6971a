// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// WRITE KINDS
// =============================================================================

// WriteKind identifies one independently throttled write stream.
type WriteKind int

const (
	// KindMessage is a single-message upsert, the hottest stream during
	// generation, so it gets the tightest window.
	KindMessage WriteKind = iota

	// KindMessageList replaces a chat's full message list.
	KindMessageList

	// KindChatMeta updates title, system prompt, and recency.
	KindChatMeta

	kindCount
)

func (k WriteKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindMessageList:
		return "message-list"
	case KindChatMeta:
		return "chat-meta"
	default:
		return "unknown"
	}
}

// Task executes one write carrying a full-state snapshot. The snapshot is
// captured at submission time; executing it later or twice must yield the
// same stored state.
type Task func(ctx context.Context) error

// Windows holds the per-kind throttle windows. Zero fields take defaults.
type Windows struct {
	Message     time.Duration
	MessageList time.Duration
	ChatMeta    time.Duration
}

// DefaultWindows returns the default throttle configuration.
func DefaultWindows() Windows {
	return Windows{
		Message:     150 * time.Millisecond,
		MessageList: 500 * time.Millisecond,
		ChatMeta:    500 * time.Millisecond,
	}
}

func (w Windows) forKind(kind WriteKind) time.Duration {
	defaults := DefaultWindows()
	switch kind {
	case KindMessage:
		if w.Message > 0 {
			return w.Message
		}
		return defaults.Message
	case KindMessageList:
		if w.MessageList > 0 {
			return w.MessageList
		}
		return defaults.MessageList
	default:
		if w.ChatMeta > 0 {
			return w.ChatMeta
		}
		return defaults.ChatMeta
	}
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator throttles persistence writes with per-kind trailing-edge
// coalescing: the first submission of a kind arms a timer, later
// submissions within the window replace the pending snapshot, and when the
// timer fires only the most recent snapshot is written. Flush executes
// pending snapshots synchronously and is mandatory at every turn exit so
// the terminal state is never lost to throttling.
type Coordinator struct {
	mu      sync.Mutex
	windows Windows
	log     *slog.Logger

	pending [kindCount]Task
	timers  [kindCount]*time.Timer
	closed  bool

	// exec serializes write execution per kind. It is acquired before the
	// pending snapshot is selected, so an execution always writes the
	// newest snapshot available at that point and a slow in-flight write
	// can never land after a later one.
	exec [kindCount]sync.Mutex
}

// NewCoordinator creates a coordinator. A nil logger falls back to the
// process default.
func NewCoordinator(windows Windows, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{windows: windows, log: log}
}

// Submit queues a write of the given kind. If a write of the same kind is
// already pending, the new snapshot replaces it; the window keeps its
// original deadline (trailing edge of the first submission in the burst).
func (c *Coordinator) Submit(kind WriteKind, task Task) {
	if kind < 0 || kind >= kindCount || task == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.pending[kind] = task
	if c.timers[kind] == nil {
		c.timers[kind] = time.AfterFunc(c.windows.forKind(kind), func() {
			c.fire(kind)
		})
	}
}

// fire runs when a throttle window elapses. Failures here are warnings;
// the final flush will retry with a newer snapshot.
func (c *Coordinator) fire(kind WriteKind) {
	c.exec[kind].Lock()
	defer c.exec[kind].Unlock()

	c.mu.Lock()
	task := c.pending[kind]
	c.pending[kind] = nil
	c.timers[kind] = nil
	c.mu.Unlock()

	if task == nil {
		return
	}
	if err := task(context.Background()); err != nil {
		c.log.Warn("throttled write failed", "kind", kind.String(), "error", err)
	}
}

// Flush synchronously executes the pending snapshots for the given kinds,
// or for all kinds when none are named. Timers are disarmed first so no
// write runs twice. Returns the first error encountered; completion of the
// remaining kinds is still attempted.
func (c *Coordinator) Flush(ctx context.Context, kinds ...WriteKind) error {
	if len(kinds) == 0 {
		kinds = []WriteKind{KindMessage, KindMessageList, KindChatMeta}
	}

	var firstErr error
	for _, kind := range kinds {
		if kind < 0 || kind >= kindCount {
			continue
		}

		// Waiting on exec first lets an in-flight throttled write of an
		// older snapshot finish before the newest snapshot is written.
		c.exec[kind].Lock()

		c.mu.Lock()
		if c.timers[kind] != nil {
			c.timers[kind].Stop()
			c.timers[kind] = nil
		}
		task := c.pending[kind]
		c.pending[kind] = nil
		c.mu.Unlock()

		if task == nil {
			c.exec[kind].Unlock()
			continue
		}
		err := task(ctx)
		c.exec[kind].Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close disarms all timers and rejects further submissions. Pending
// snapshots are dropped; call Flush first if they matter. Idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for kind := range c.timers {
		if c.timers[kind] != nil {
			c.timers[kind].Stop()
			c.timers[kind] = nil
		}
		c.pending[kind] = nil
	}
}
