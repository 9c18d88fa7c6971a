// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics computes generation latency and throughput.
//
// Compute is a pure function over timestamps so it can be called on every
// streamed fragment without touching shared state, and tested without
// clocks or sleeps.
package metrics

import (
	"time"

	"github.com/jeranaias/loomchat/internal/model"
)

// minThroughputWindow floors the throughput denominator so a fragment
// arriving in the same instant as the first one cannot divide by zero.
const minThroughputWindow = time.Millisecond

// Compute derives a metrics snapshot from the turn's timestamps.
//
// requestStart is when the transport request was issued. firstFragment is
// the arrival time of the first fragment, or the zero time while none has
// been observed; until then FirstTokenLatencyMs is -1 and throughput is 0.
func Compute(requestStart, firstFragment, now time.Time, outputChars int) model.Metrics {
	m := model.Metrics{
		FirstTokenLatencyMs: -1,
		OutputChars:         outputChars,
	}

	if elapsed := now.Sub(requestStart); elapsed > 0 {
		m.ElapsedMs = elapsed.Milliseconds()
	}

	if firstFragment.IsZero() {
		return m
	}

	ttft := firstFragment.Sub(requestStart)
	if ttft < 0 {
		ttft = 0
	}
	m.FirstTokenLatencyMs = ttft.Milliseconds()
	if m.FirstTokenLatencyMs > m.ElapsedMs {
		// Clock skew between the two readings; keep the invariant
		// first-token latency <= elapsed.
		m.ElapsedMs = m.FirstTokenLatencyMs
	}

	window := now.Sub(firstFragment)
	if window < minThroughputWindow {
		window = minThroughputWindow
	}
	m.CharsPerSecond = float64(outputChars) / window.Seconds()

	return m
}
