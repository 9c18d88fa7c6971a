// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/loomchat/internal/model"
)

func newTestInterpreter(onUpdate UpdateFunc) *Interpreter {
	return New(Config{
		RequestStart: time.Now(),
		OnUpdate:     onUpdate,
	})
}

func TestLazyMessageCreation(t *testing.T) {
	it := newTestInterpreter(nil)
	assert.Nil(t, it.Message(), "no message before the first fragment")

	it.Feed("hello", "")
	require.NotNil(t, it.Message())
	assert.True(t, it.Message().IsLoading)
}

func TestPlainAnswerStream(t *testing.T) {
	it := newTestInterpreter(nil)
	it.Feed("Hello", "")
	it.Feed(" world", "")

	msg := it.Finalize()
	require.NotNil(t, msg)
	assert.Equal(t, "Hello world", it.AnswerText())
	assert.Equal(t, "Hello world", msg.Content)
	assert.Empty(t, it.ReasoningText())
	assert.Equal(t, EncodingUnknown, it.Encoding())
	assert.False(t, msg.IsLoading)
	assert.False(t, msg.IsThinking)
}

// Marker split across fragment boundaries must classify identically to
// the same text delivered in one piece.
func TestTagMarkerSplitAcrossFragments(t *testing.T) {
	split := newTestInterpreter(nil)
	split.Feed("<th", "")
	split.Feed("ink>reasoning</th", "")
	split.Feed("ink> answer", "")
	split.Finalize()

	whole := newTestInterpreter(nil)
	whole.Feed("<think>reasoning</think> answer", "")
	whole.Finalize()

	assert.Equal(t, "reasoning", split.ReasoningText())
	assert.Equal(t, " answer", split.AnswerText())
	assert.Equal(t, whole.ReasoningText(), split.ReasoningText())
	assert.Equal(t, whole.AnswerText(), split.AnswerText())
	assert.Equal(t, EncodingTag, split.Encoding())
}

func TestTagAnalysisMarkers(t *testing.T) {
	it := newTestInterpreter(nil)
	for _, frag := range []string{"<analysis>", "step1", "</analysis>", "answer"} {
		it.Feed(frag, "")
	}
	msg := it.Finalize()

	require.NotNil(t, msg)
	assert.Equal(t, "step1", it.ReasoningText())
	assert.Equal(t, "answer", it.AnswerText())
	assert.False(t, msg.IsThinking)
	assert.Equal(t, "<analysis>step1</analysis>answer", msg.Content)
}

func TestChannelEncodingSynthesizesMarkers(t *testing.T) {
	it := newTestInterpreter(nil)
	it.Feed("", "let me ")
	it.Feed("", "think")
	assert.Equal(t, EncodingChannel, it.Encoding())
	assert.True(t, it.Message().IsThinking)

	it.Feed("the answer", "")
	msg := it.Finalize()

	assert.Equal(t, "let me think", it.ReasoningText())
	assert.Equal(t, "the answer", it.AnswerText())
	assert.Equal(t, "<think>let me think</think>the answer", msg.Content)
	assert.False(t, msg.IsThinking)
}

// Whichever encoding appears first is latched; signals from the other
// encoding are treated as not occurring for the turn.
func TestEncodingLatch(t *testing.T) {
	it := newTestInterpreter(nil)
	it.Feed("<think>a</think>b", "")
	assert.Equal(t, EncodingTag, it.Encoding())

	it.Feed("c", "ignored thinking")
	it.Finalize()

	assert.Equal(t, "a", it.ReasoningText())
	assert.Equal(t, "bc", it.AnswerText())
}

func TestChannelLatchTreatsInlineMarkersAsText(t *testing.T) {
	it := newTestInterpreter(nil)
	it.Feed("", "reasoning")
	it.Feed("<think>not a marker</think>", "")
	it.Finalize()

	assert.Equal(t, "reasoning", it.ReasoningText())
	assert.Equal(t, "<think>not a marker</think>", it.AnswerText())
}

// Answer text held back as a possible marker prefix must keep its place
// when a thinking fragment latches the channel encoding.
func TestChannelLatchReleasesHeldBackAnswerText(t *testing.T) {
	it := newTestInterpreter(nil)
	it.Feed("hello <t", "")
	it.Feed("", "deliberation")
	it.Feed("world", "")

	msg := it.Finalize()
	require.NotNil(t, msg)
	assert.Equal(t, "hello <tworld", it.AnswerText())
	assert.Equal(t, "deliberation", it.ReasoningText())
	assert.Equal(t, "hello <t<think>deliberation</think>world", msg.Content)
}

func TestCancelMidReasoning(t *testing.T) {
	it := newTestInterpreter(nil)
	it.Feed("<think>partial thought", "")
	require.True(t, it.Message().IsThinking)

	time.Sleep(150 * time.Millisecond)
	msg := it.Finalize()

	require.NotNil(t, msg)
	assert.False(t, msg.IsThinking)
	assert.False(t, msg.IsLoading)
	// Elapsed duration is recorded, not discarded.
	assert.GreaterOrEqual(t, msg.ReasoningMs, int64(100))
	assert.Less(t, msg.ReasoningMs, int64(1000))
	assert.Equal(t, "partial thought", it.ReasoningText())
	// Open segment is closed in the accumulated text.
	assert.Equal(t, "<think>partial thought</think>", msg.Content)
}

func TestReasoningTickReemits(t *testing.T) {
	var updates atomic.Int64
	it := New(Config{
		RequestStart: time.Now(),
		TickInterval: 10 * time.Millisecond,
		OnUpdate:     func(*model.Message) { updates.Add(1) },
	})

	it.Feed("<think>mulling", "")
	base := updates.Load()
	time.Sleep(60 * time.Millisecond)
	it.Finalize()

	assert.Greater(t, updates.Load(), base, "tick should re-emit while reasoning")

	// No further updates after finalization.
	time.Sleep(40 * time.Millisecond)
	final := updates.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, final, updates.Load())
}

func TestFinalizeIdempotent(t *testing.T) {
	it := newTestInterpreter(nil)
	it.Feed("hi", "")

	first := it.Finalize()
	second := it.Finalize()
	assert.Same(t, first, second)

	// Fragments after finalization are dropped.
	it.Feed("late", "")
	assert.Equal(t, "hi", it.AnswerText())
}

func TestFinalizeWithoutFragments(t *testing.T) {
	it := newTestInterpreter(nil)
	assert.Nil(t, it.Finalize())
}

func TestMetricsRecomputedPerFragment(t *testing.T) {
	var snapshots []model.Metrics
	it := New(Config{
		RequestStart: time.Now().Add(-time.Second),
		OnUpdate: func(m *model.Message) {
			snapshots = append(snapshots, m.Stats)
		},
	})

	it.Feed("aaaa", "")
	it.Feed("bbbb", "")
	it.Finalize()

	require.GreaterOrEqual(t, len(snapshots), 3)
	for _, s := range snapshots {
		assert.True(t, s.Defined())
		assert.GreaterOrEqual(t, s.CharsPerSecond, 0.0)
		assert.LessOrEqual(t, s.FirstTokenLatencyMs, s.ElapsedMs)
	}
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, 8, last.OutputChars)
}

func TestUpdateSnapshotsAreDetached(t *testing.T) {
	var seen []*model.Message
	it := New(Config{
		RequestStart: time.Now(),
		OnUpdate:     func(m *model.Message) { seen = append(seen, m) },
	})

	it.Feed("first", "")
	it.Feed(" second", "")
	it.Finalize()

	require.GreaterOrEqual(t, len(seen), 2)
	assert.Equal(t, "first", seen[0].Content, "earlier snapshot must not see later mutations")
	assert.NotSame(t, seen[0], seen[1])
}
