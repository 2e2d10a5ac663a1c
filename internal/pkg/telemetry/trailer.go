package telemetry

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var epoch = time.Unix(0, 0).UTC()

// ParseTimetbl reads a trailer gateway timestamp. Zone-less values are taken
// in loc. Anything unparsable reads as the epoch so it loses to every valid
// timestamp.
func ParseTimetbl(s string, loc *time.Location) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return epoch
	}
	if loc == nil {
		loc = time.UTC
	}

	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return epoch
	}
	return t
}

// LatestPerRouter keeps, for each router id, only the trailer report with the
// latest timetbl. A report replaces the current pick only when strictly newer,
// so the first of several equal timestamps is kept. Survivors stay in input
// order and a second pass changes nothing.
func LatestPerRouter(trailers []Device, loc *time.Location) []Device {
	bestIndex := make(map[string]int)
	bestTime := make(map[string]time.Time)

	for i, d := range trailers {
		ts := epoch
		if d.Trailer != nil {
			ts = ParseTimetbl(d.Trailer.Timetbl, loc)
		}

		current, ok := bestTime[d.RouterID]
		if !ok || ts.After(current) {
			bestIndex[d.RouterID] = i
			bestTime[d.RouterID] = ts
		}
	}

	latest := make([]Device, 0, len(bestIndex))
	for i, d := range trailers {
		if bestIndex[d.RouterID] == i {
			latest = append(latest, d)
		}
	}
	return latest
}
