package segment

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Backends are inconsistent about timestamp units: some emit seconds, some
// centiseconds, some milliseconds, and the unit can differ per response even
// for the same server. DetectScale infers a multiplicative factor that maps a
// chunk's raw timestamps into seconds, using the chunk's known real duration
// as the anchor. It is deterministic and derived per chunk, never cached.

const (
	minPlausibleDur = 0.1  // seconds, shortest believable average cue
	maxPlausibleDur = 60.0 // seconds, longest believable average cue
	endSlack        = 1.5  // scaled max end may overshoot chunk duration by this factor
	targetDur       = 3.0  // seconds, prior for a typical subtitle line
)

var scaleCandidates = []float64{1.0, 0.01, 0.001}

// DetectScale returns the factor converting raw timestamps to seconds.
// chunkDur is the real duration of the chunk the batch came from, in seconds.
func DetectScale(batch []Raw, chunkDur float64) float64 {
	var durSum, maxEnd float64
	n := 0
	for _, r := range batch {
		if r.End <= r.Start {
			continue
		}
		durSum += r.End - r.Start
		if r.End > maxEnd {
			maxEnd = r.End
		}
		n++
	}
	if n == 0 {
		return 1.0
	}
	avg := durSum / float64(n)

	var valid []float64
	for _, c := range scaleCandidates {
		scaledAvg := avg * c
		if scaledAvg < minPlausibleDur || scaledAvg > maxPlausibleDur {
			continue
		}
		if chunkDur > 0 && maxEnd*c > endSlack*chunkDur {
			continue
		}
		valid = append(valid, c)
	}

	switch len(valid) {
	case 1:
		return valid[0]
	case 0:
		// Nothing plausible; pick whatever lands the max end nearest the
		// chunk duration.
		best := scaleCandidates[0]
		bestDist := math.Inf(1)
		for _, c := range scaleCandidates {
			if d := math.Abs(maxEnd*c - chunkDur); d < bestDist {
				bestDist = d
				best = c
			}
		}
		return best
	default:
		// Multiple plausible scales: prefer the one whose average duration is
		// closest to the typical-line prior, compared in log space.
		best := valid[0]
		bestDist := math.Inf(1)
		for _, c := range valid {
			if d := math.Abs(math.Log(avg * c / targetDur)); d < bestDist {
				bestDist = d
				best = c
			}
		}
		return best
	}
}

// ParseClock parses a timestamp that may be a plain number ("12.5"), an
// MM:SS(.ms) string, or an HH:MM:SS(,ms) string. Either '.' or ',' is accepted
// as the decimal separator.
func ParseClock(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	s = strings.ReplaceAll(s, ",", ".")

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, fmt.Errorf("malformed timestamp %q: %w", s, err)
		}
		total = total*60 + v
	}
	return total, nil
}
