package protocol

import (
	"time"

	"github.com/sublabs/subgen-core/internal/segment"
)

// Progress carries the incremental subtitle list for a running job. Each
// message holds the full merged list so late subscribers never miss segments.
type Progress struct {
	JobID    uint64            `json:"job_id"`
	Source   string            `json:"source"`
	Chunk    int               `json:"chunk"`
	Chunks   int               `json:"chunks,omitempty"`
	Segments []segment.Segment `json:"segments"`
}

// Status announces job state transitions.
type Status struct {
	JobID     uint64    `json:"job_id"`
	Source    string    `json:"source"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Complete is published once per finished job with the persisted track id.
type Complete struct {
	JobID    uint64            `json:"job_id"`
	TrackID  string            `json:"track_id,omitempty"`
	Source   string            `json:"source"`
	Backend  string            `json:"backend"`
	Segments []segment.Segment `json:"segments"`
	Elapsed  float64           `json:"elapsed_seconds"`
}

const (
	SubjectProgress = "subtitle.progress"
	SubjectStatus   = "subtitle.status"
	SubjectComplete = "subtitle.complete"
)
