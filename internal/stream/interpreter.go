// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jeranaias/loomchat/internal/metrics"
	"github.com/jeranaias/loomchat/internal/model"
)

// =============================================================================
// ENCODING AND MODE
// =============================================================================

// Encoding identifies how a model signals reasoning output.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingTag              // inline markers in the answer channel
	EncodingChannel          // dedicated reasoning field per fragment
)

// Mode is the interpreter state.
type Mode int

const (
	ModeAnswering Mode = iota
	ModeReasoning
)

// markerPairs lists the inline open/close markers recognized in tag
// encoding, in detection priority order.
var markerPairs = [][2]string{
	{"<think>", "</think>"},
	{"<thinking>", "</thinking>"},
	{"<analysis>", "</analysis>"},
	{"<reasoning>", "</reasoning>"},
}

// Synthesized markers for channel encoding, so accumulated text looks the
// same regardless of how the model delivered its reasoning.
const (
	syntheticOpen  = "<think>"
	syntheticClose = "</think>"
)

// windowCap bounds the unclassified tail kept for cross-fragment marker
// detection. No marker is longer than this.
const windowCap = 64

// defaultTickInterval is the reasoning re-emission period.
const defaultTickInterval = 100 * time.Millisecond

// =============================================================================
// INTERPRETER
// =============================================================================

// UpdateFunc receives a detached message snapshot after every fragment,
// every reasoning tick, and at finalization. The snapshot is a deep copy;
// the receiver may retain it.
type UpdateFunc func(msg *model.Message)

// Config parameterizes an Interpreter for one turn.
type Config struct {
	// RequestStart anchors latency metrics. Required.
	RequestStart time.Time

	// OnUpdate is invoked with a snapshot on every observable change.
	// Optional.
	OnUpdate UpdateFunc

	// TickInterval overrides the reasoning re-emission period. Zero means
	// the default.
	TickInterval time.Duration
}

// Interpreter consumes the fragments of one streaming response. It is
// created per turn and must not be reused. Safe for concurrent access
// between the fragment loop and the reasoning tick.
type Interpreter struct {
	mu sync.Mutex

	onUpdate     UpdateFunc
	tickInterval time.Duration
	now          func() time.Time

	requestStart  time.Time
	firstFragment time.Time
	outputChars   int

	encoding Encoding
	mode     Mode

	// window holds the unclassified tail of the answer channel, kept back
	// only while it could be a marker prefix split across fragments.
	window      string
	closeMarker string

	accum     strings.Builder // uniform marker-bearing text
	answer    strings.Builder
	reasoning strings.Builder

	reasoningStart time.Time
	reasoningMs    int64 // frozen duration of closed segments

	msg *model.Message

	ticker   *time.Ticker
	tickDone chan struct{}

	finalized bool
}

// New creates an interpreter for a single turn.
func New(cfg Config) *Interpreter {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	return &Interpreter{
		onUpdate:     cfg.OnUpdate,
		tickInterval: interval,
		now:          time.Now,
		requestStart: cfg.RequestStart,
	}
}

// =============================================================================
// FRAGMENT CONSUMPTION
// =============================================================================

// Feed processes one fragment. Answer text arrives in content; models with
// a dedicated reasoning channel deliver reasoning in thinking. A fragment
// is processed to completion before Feed returns.
func (it *Interpreter) Feed(content, thinking string) {
	if content == "" && thinking == "" {
		return
	}

	it.mu.Lock()
	if it.finalized {
		it.mu.Unlock()
		return
	}

	// The assistant message exists only once output does.
	if it.msg == nil {
		it.msg = model.NewAssistantMessage()
		it.firstFragment = it.now()
	}
	it.outputChars += utf8.RuneCountInString(content)

	if thinking != "" && it.encoding != EncodingTag {
		it.outputChars += utf8.RuneCountInString(thinking)
		if it.encoding != EncodingChannel {
			// Text held back as a possible marker prefix is plain answer
			// once the channel encoding is latched; release it before the
			// synthetic marker so it keeps its place in the output.
			it.flushWindowLocked(0)
		}
		it.encoding = EncodingChannel
		if it.mode != ModeReasoning {
			it.accum.WriteString(syntheticOpen)
			it.enterReasoningLocked()
		}
		it.reasoning.WriteString(thinking)
		it.accum.WriteString(thinking)
	}

	if content != "" {
		if it.encoding == EncodingChannel {
			if it.mode == ModeReasoning {
				it.accum.WriteString(syntheticClose)
				it.exitReasoningLocked()
			}
			it.answer.WriteString(content)
			it.accum.WriteString(content)
		} else {
			it.window += content
			it.scanWindowLocked()
		}
	}

	snapshot := it.snapshotLocked()
	it.mu.Unlock()
	it.publish(snapshot)
}

// scanWindowLocked classifies the unclassified tail, holding back at most
// a marker-length suffix that could complete on the next fragment.
func (it *Interpreter) scanWindowLocked() {
	for {
		if it.mode == ModeAnswering {
			idx, pair := findOpenMarker(it.window)
			if idx < 0 {
				it.flushWindowLocked(openMarkerHoldback(it.window))
				return
			}
			it.answer.WriteString(it.window[:idx])
			it.accum.WriteString(it.window[:idx])
			it.accum.WriteString(pair[0])
			it.window = it.window[idx+len(pair[0]):]
			it.encoding = EncodingTag
			it.closeMarker = pair[1]
			it.enterReasoningLocked()
			continue
		}

		idx := strings.Index(it.window, it.closeMarker)
		if idx < 0 {
			it.flushWindowLocked(markerHoldback(it.window, it.closeMarker))
			return
		}
		it.reasoning.WriteString(it.window[:idx])
		it.accum.WriteString(it.window[:idx])
		it.accum.WriteString(it.closeMarker)
		it.window = it.window[idx+len(it.closeMarker):]
		it.exitReasoningLocked()
	}
}

// flushWindowLocked moves everything before the holdback point into the
// current mode's text.
func (it *Interpreter) flushWindowLocked(hold int) {
	if hold > len(it.window) {
		hold = len(it.window)
	}
	flush := it.window[:len(it.window)-hold]
	if flush == "" {
		return
	}
	if it.mode == ModeReasoning {
		it.reasoning.WriteString(flush)
	} else {
		it.answer.WriteString(flush)
	}
	it.accum.WriteString(flush)
	it.window = it.window[len(it.window)-hold:]
}

// findOpenMarker returns the earliest open marker occurrence in s.
func findOpenMarker(s string) (int, [2]string) {
	best := -1
	var bestPair [2]string
	for _, pair := range markerPairs {
		if idx := strings.Index(s, pair[0]); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			bestPair = pair
		}
	}
	return best, bestPair
}

// openMarkerHoldback returns how many trailing bytes of s could be the
// start of any open marker.
func openMarkerHoldback(s string) int {
	for _, pair := range markerPairs {
		if n := markerHoldback(s, pair[0]); n > 0 {
			return n
		}
	}
	return 0
}

// markerHoldback returns the length of the longest proper suffix of s that
// is a prefix of marker.
func markerHoldback(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	if max > windowCap {
		max = windowCap
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}

// =============================================================================
// REASONING SEGMENTS AND TICK
// =============================================================================

func (it *Interpreter) enterReasoningLocked() {
	it.mode = ModeReasoning
	it.reasoningStart = it.now()
	if it.msg != nil {
		it.msg.IsThinking = true
	}
	it.startTickLocked()
}

func (it *Interpreter) exitReasoningLocked() {
	it.reasoningMs += it.now().Sub(it.reasoningStart).Milliseconds()
	it.mode = ModeAnswering
	if it.msg != nil {
		it.msg.IsThinking = false
	}
	it.stopTickLocked()
}

// liveReasoningMsLocked returns total reasoning duration including the
// open segment, if any.
func (it *Interpreter) liveReasoningMsLocked() int64 {
	ms := it.reasoningMs
	if it.mode == ModeReasoning {
		ms += it.now().Sub(it.reasoningStart).Milliseconds()
	}
	return ms
}

func (it *Interpreter) startTickLocked() {
	if it.ticker != nil {
		return
	}
	it.ticker = time.NewTicker(it.tickInterval)
	it.tickDone = make(chan struct{})

	ticker, done := it.ticker, it.tickDone
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				it.tick()
			}
		}
	}()
}

// stopTickLocked is idempotent; every exit path funnels through it.
func (it *Interpreter) stopTickLocked() {
	if it.ticker == nil {
		return
	}
	it.ticker.Stop()
	close(it.tickDone)
	it.ticker = nil
	it.tickDone = nil
}

// tick re-emits the live state so observers can render a moving
// reasoning duration between fragments.
func (it *Interpreter) tick() {
	it.mu.Lock()
	if it.finalized || it.mode != ModeReasoning {
		it.mu.Unlock()
		return
	}
	snapshot := it.snapshotLocked()
	it.mu.Unlock()
	it.publish(snapshot)
}

// =============================================================================
// SNAPSHOTS AND FINALIZATION
// =============================================================================

// snapshotLocked refreshes the message from interpreter state and returns
// a detached copy.
func (it *Interpreter) snapshotLocked() *model.Message {
	if it.msg == nil {
		return nil
	}
	it.msg.Content = it.accum.String()
	it.msg.ReasoningMs = it.liveReasoningMsLocked()
	it.msg.Stats = metrics.Compute(it.requestStart, it.firstFragment, it.now(), it.outputChars)
	return it.msg.Clone()
}

func (it *Interpreter) publish(snapshot *model.Message) {
	if snapshot != nil && it.onUpdate != nil {
		it.onUpdate(snapshot)
	}
}

// Finalize closes the turn on any exit path: normal completion, user
// cancellation, or transport error. It drains the held-back tail, closes
// an open reasoning segment with its elapsed duration, clears the loading
// flag, computes the final metrics snapshot, and stops the tick. Safe to
// call more than once; only the first call has effect.
//
// Returns the finalized message, or nil if no fragment ever arrived.
func (it *Interpreter) Finalize() *model.Message {
	it.mu.Lock()
	if it.finalized {
		msg := it.msg
		it.mu.Unlock()
		return msg
	}
	it.finalized = true

	// Whatever is still held back is plain text of the current mode.
	it.flushWindowLocked(0)

	if it.mode == ModeReasoning {
		marker := it.closeMarker
		if marker == "" {
			marker = syntheticClose
		}
		it.accum.WriteString(marker)
		it.exitReasoningLocked()
	}
	it.stopTickLocked()

	if it.msg == nil {
		it.mu.Unlock()
		return nil
	}

	it.msg.IsLoading = false
	it.msg.IsThinking = false
	snapshot := it.snapshotLocked()
	msg := it.msg
	it.mu.Unlock()

	it.publish(snapshot)
	return msg
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Message returns the in-progress assistant message, or nil before the
// first fragment.
func (it *Interpreter) Message() *model.Message {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.msg
}

// AnswerText returns the classified answer text so far.
func (it *Interpreter) AnswerText() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.answer.String()
}

// ReasoningText returns the classified reasoning text so far.
func (it *Interpreter) ReasoningText() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.reasoning.String()
}

// Encoding returns the latched encoding, or EncodingUnknown if no
// reasoning signal has been observed.
func (it *Interpreter) Encoding() Encoding {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.encoding
}

// ReasoningMs returns the total reasoning duration so far.
func (it *Interpreter) ReasoningMs() int64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.liveReasoningMsLocked()
}
