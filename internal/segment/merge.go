package segment

import (
	"strings"
	"unicode"
)

// Accumulator folds per-chunk batches of absolute-time segments into one
// time-sorted subtitle list, suppressing the duplication that overlapping
// chunk windows cause at their boundaries.
//
// Deduplication compares an incoming segment against the current last element
// plus an exact-triple guard over the accumulated list: batches arrive in
// chunk order and the list is re-sorted after every fold, so boundary
// duplicates are always adjacent, while the triple guard keeps a refold of
// already-merged segments from growing the list. Full interval-overlap
// resolution against arbitrary earlier segments is intentionally not done.
type Accumulator struct {
	segs []Segment

	// suffixThreshold is the minimum normalized length (in runes) an incoming
	// text must have for the suffix-containment rule to drop it. Empirically
	// tuned; short fragments ("ok", "so") are too ambiguous to suppress.
	suffixThreshold int
}

func NewAccumulator(suffixThreshold int) *Accumulator {
	return &Accumulator{suffixThreshold: suffixThreshold}
}

// Fold merges one chunk's segments, already rebased to absolute seconds, into
// the accumulated list, then re-sorts and re-indexes. Returns the number of
// segments accepted.
func (a *Accumulator) Fold(batch []Raw) int {
	accepted := 0
	for _, r := range batch {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		if r.End <= r.Start {
			continue
		}
		if len(a.segs) > 0 {
			last := a.segs[len(a.segs)-1]
			if text == last.Text {
				continue
			}
			in := normalizeText(text)
			if len([]rune(in)) > a.suffixThreshold && strings.HasSuffix(normalizeText(last.Text), in) {
				// Backend re-emitted a trailing partial phrase that the
				// previous segment already fully captured.
				continue
			}
		}
		if a.contains(r.Start, r.End, text) {
			continue
		}
		a.segs = append(a.segs, Segment{Start: r.Start, End: r.End, Text: text})
		accepted++
	}
	sortAndReindex(a.segs)
	return accepted
}

// contains reports whether an identical {start, end, text} triple is already
// accumulated. Folding a batch a second time must not grow the list.
func (a *Accumulator) contains(start, end float64, text string) bool {
	for _, s := range a.segs {
		if s.Start == start && s.End == end && s.Text == text {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current sorted, densely indexed list.
func (a *Accumulator) Snapshot() []Segment {
	out := make([]Segment, len(a.segs))
	copy(out, a.segs)
	return out
}

func (a *Accumulator) Len() int {
	return len(a.segs)
}

// normalizeText lowercases and strips punctuation so that "Hello, world!" and
// "hello world" compare equal for dedup purposes.
func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
