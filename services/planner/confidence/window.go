// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package confidence

// Window is the rolling record of a pattern's most recent applications,
// oldest first. It is stored with the pattern.
type Window []bool

// Push appends an outcome and drops the oldest entries beyond size.
// The receiver is not modified.
func (w Window) Push(success bool, size int) Window {
	out := make(Window, 0, len(w)+1)
	out = append(out, w...)
	out = append(out, success)
	if size > 0 && len(out) > size {
		out = out[len(out)-size:]
	}
	return out
}

// Rate returns the success rate over the window and false when it is empty.
func (w Window) Rate() (float64, bool) {
	if len(w) == 0 {
		return 0, false
	}
	n := 0
	for _, ok := range w {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(w)), true
}

// Degraded applies the rollback rule.
//
// # Description
//
// A pattern is degraded when its rolling success rate is more than
// DegradedDrop below its historical success rate and the window holds at
// least DegradedMinSamples applications. The historical rate counts every
// recorded outcome, including the run the pattern was learned from. The
// rule is re-evaluated after every outcome, so a pattern recovers as soon
// as the gap closes.
//
// # Inputs
//
//   - w: Rolling window after the newest outcome was pushed.
//   - h: Counters after the newest outcome was recorded.
//   - cfg: Tuning knobs.
//
// # Outputs
//
//   - bool: True if the pattern should be ranked as degraded.
func Degraded(w Window, h History, cfg Config) bool {
	if len(w) < cfg.DegradedMinSamples || h.Usage <= 0 {
		return false
	}
	rolling, _ := w.Rate()
	historical := float64(h.Success) / float64(h.Usage)
	return historical-rolling > cfg.DegradedDrop
}
