package domain

import (
	"sort"
	"strings"
)

type observationKey struct {
	station string
	instant int64
}

// Deduplicate keeps one record per (station, instant) and returns them sorted
// by station then timestamp, along with the number of records dropped.
//
// Among candidates for the same key the one with the fewest null measurements
// wins. If two candidates are equally complete, the one appearing later in
// candidates wins: callers pass records in ingestion order, so the most
// recently read duplicate is kept.
func Deduplicate(candidates []CleanObservationRecord) ([]CleanObservationRecord, int) {
	best := make(map[observationKey]int, len(candidates))
	nulls := make(map[observationKey]int, len(candidates))

	for i, rec := range candidates {
		key := observationKey{station: rec.StationID, instant: rec.Timestamp.UnixNano()}
		n := rec.NullCount()
		if _, seen := best[key]; !seen || n <= nulls[key] {
			best[key] = i
			nulls[key] = n
		}
	}

	out := make([]CleanObservationRecord, 0, len(best))
	for _, i := range best {
		out = append(out, candidates[i])
	}
	sort.Slice(out, func(i, j int) bool {
		if c := strings.Compare(out[i].StationID, out[j].StationID); c != 0 {
			return c < 0
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	return out, len(candidates) - len(out)
}
