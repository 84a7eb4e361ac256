package segment

import "sort"

// Raw is a backend-produced span relative to the start of the chunk it was
// computed from, in a possibly unknown time unit. See DetectScale.
type Raw struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Segment is a finished subtitle cue on the absolute file timeline, in seconds.
// ID is the position in the current sorted list and is reassigned on every
// merge; it is not a stable identity.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func sortAndReindex(segs []Segment) {
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	for i := range segs {
		segs[i].ID = i
	}
}
