package sink

import (
	"fmt"
	"strings"
)

// TriggerMode selects the policy that gates frame emission.
type TriggerMode int

const (
	// TriggerFree emits every completed frame unconditionally.
	TriggerFree TriggerMode = iota
	// TriggerAuto emits every frame but records whether any bin on
	// the trigger channel reached the level, for plot metadata.
	TriggerAuto
	// TriggerNormal withholds frames until a bin on the trigger
	// channel reaches the level.
	TriggerNormal
	// TriggerTag withholds frames until a stream tag with the
	// configured key is seen within the trigger channel's window.
	TriggerTag
)

// String returns the canonical lower-case mode name.
func (m TriggerMode) String() string {
	switch m {
	case TriggerFree:
		return "free"
	case TriggerAuto:
		return "auto"
	case TriggerNormal:
		return "normal"
	case TriggerTag:
		return "tag"
	default:
		return "unknown"
	}
}

// ParseTriggerMode converts a name (case-insensitive) to a
// TriggerMode. Returns TriggerFree and an error for unknown names.
func ParseTriggerMode(name string) (TriggerMode, error) {
	switch strings.ToLower(name) {
	case "free", "":
		return TriggerFree, nil
	case "auto":
		return TriggerAuto, nil
	case "normal", "norm":
		return TriggerNormal, nil
	case "tag":
		return TriggerTag, nil
	default:
		return TriggerFree, fmt.Errorf("unknown trigger mode: %q", name)
	}
}

// triggerEvaluator decides, per completed frame, whether to emit it,
// withhold it, or (in the withholding modes) whether the trigger
// condition has now been met.
//
// In the withholding modes the post-trigger policy is explicit: with
// rearm disabled (the default) the first trigger latches and the sink
// free-runs until reset; with rearm enabled every frame must satisfy
// the condition again.
type triggerEvaluator struct {
	mode    TriggerMode
	level   float32
	channel int
	tagKey  string
	rearm   bool

	armed       bool     // latched trigger state (also the AUTO trigger-seen flag)
	pendingTags []uint64 // absolute offsets of matching tags, oldest first
}

// configure replaces the trigger configuration and returns the
// evaluator to its initial state for the new mode. Mode-irrelevant
// fields are cleared so stale state cannot leak between modes.
func (t *triggerEvaluator) configure(mode TriggerMode, level float32, channel int, tagKey string) {
	t.mode = mode
	t.level = level
	t.channel = channel
	t.tagKey = ""
	if mode == TriggerTag {
		t.tagKey = tagKey
	}
	t.reset()
}

// reset clears armed state and any recorded tags, returning the
// evaluator to the initial state of the current mode.
func (t *triggerEvaluator) reset() {
	t.armed = false
	t.pendingTags = t.pendingTags[:0]
}

// clearTags drops recorded tag positions without touching armed
// state. Needed when the absolute sample positions they refer to are
// invalidated, as on an FFT resize.
func (t *triggerEvaluator) clearTags() {
	t.pendingTags = t.pendingTags[:0]
}

// observeTag records a tag position for TAG mode. Matching is by key
// only; the value is ignored. Tags on other channels or with other
// keys are dropped here rather than at evaluation time.
func (t *triggerEvaluator) observeTag(tag Tag, absOffset uint64) {
	if t.mode != TriggerTag || tag.Channel != t.channel || tag.Key != t.tagKey {
		return
	}
	t.pendingTags = append(t.pendingTags, absOffset)
}

// levelMet reports whether any bin of the trigger channel's row
// reaches the configured level.
func (t *triggerEvaluator) levelMet(rows [][]float32) bool {
	if t.channel < 0 || t.channel >= len(rows) {
		return false
	}
	for _, mag := range rows[t.channel] {
		if mag >= t.level {
			return true
		}
	}
	return false
}

// tagMet reports whether a recorded tag falls inside the [start,end)
// sample span the trigger channel's window was taken from. Consumed
// and stale tag positions are discarded.
func (t *triggerEvaluator) tagMet(start, end uint64) bool {
	met := false
	remaining := t.pendingTags[:0]
	for _, off := range t.pendingTags {
		switch {
		case off < start:
			// Stale: the span containing it was already analyzed.
		case off < end:
			met = true
		default:
			remaining = append(remaining, off)
		}
	}
	t.pendingTags = remaining
	return met
}

// evaluate inspects a completed frame's channel rows (the axis row is
// not included) and the trigger channel's consumed sample span, and
// reports whether the frame should be emitted. Withheld frames are
// discarded by the caller, never queued.
func (t *triggerEvaluator) evaluate(rows [][]float32, spanStart, spanEnd uint64) bool {
	switch t.mode {
	case TriggerAuto:
		// Auto never blocks output; armed only records whether the
		// trigger event was seen on this frame.
		t.armed = t.levelMet(rows)
		return true

	case TriggerNormal:
		if t.armed && !t.rearm {
			return true
		}
		t.armed = t.levelMet(rows)
		return t.armed

	case TriggerTag:
		if t.armed && !t.rearm {
			// Still consume recorded tags so they cannot fire later.
			t.tagMet(spanStart, spanEnd)
			return true
		}
		t.armed = t.tagMet(spanStart, spanEnd)
		return t.armed

	default: // TriggerFree
		return true
	}
}
