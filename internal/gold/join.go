// Package gold joins cleaned conflict events with their city's state.
package gold

import (
	"context"

	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
	"github.com/withObsrvr/obsrvr-medallion/internal/transform"
)

// JoinStats summarizes a join.
type JoinStats struct {
	Probed        int64
	Matched       int64
	Unmatched     int64
	AmbiguousKeys int64 // city keys seen more than once on the build side
}

func (s JoinStats) merge(other JoinStats) JoinStats {
	s.Probed += other.Probed
	s.Matched += other.Matched
	s.Unmatched += other.Unmatched
	return s
}

// Index maps a city key to its state.
type Index struct {
	states    map[string]string
	ambiguous int64
}

// BuildIndex builds the hash side of the join. The first row for a key
// wins; later duplicates are counted as ambiguous. Empty keys are skipped.
func BuildIndex(cities []tables.CityDigest) *Index {
	idx := &Index{states: make(map[string]string, len(cities))}
	for _, c := range cities {
		if c.CityKey == "" {
			continue
		}
		if _, ok := idx.states[c.CityKey]; ok {
			idx.ambiguous++
			continue
		}
		idx.states[c.CityKey] = c.State
	}
	return idx
}

// Lookup returns the state of a city key.
func (idx *Index) Lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	state, ok := idx.states[key]
	return state, ok
}

// Len returns the number of distinct keys.
func (idx *Index) Len() int {
	return len(idx.states)
}

// Join inner-joins conflicts with cities on the city key. Output follows
// conflict order and holds at most one row per conflict.
func Join(ctx context.Context, conflicts []tables.ConflictRecord, cities []tables.CityDigest, opts transform.Options) ([]tables.EnrichedConflict, JoinStats, error) {
	idx := BuildIndex(cities)

	opts = opts.Normalized()
	parts := make([]JoinStats, transform.NumPartitions(len(conflicts), opts.PartitionSize))

	out, err := transform.MapPartitions(ctx, conflicts, opts, func(ctx context.Context, part int, rows []tables.ConflictRecord) ([]tables.EnrichedConflict, error) {
		st := &parts[part]
		joined := make([]tables.EnrichedConflict, 0, len(rows))
		for _, c := range rows {
			st.Probed++
			state, ok := idx.Lookup(c.CityKey)
			if !ok {
				st.Unmatched++
				continue
			}
			st.Matched++
			joined = append(joined, tables.Enrich(state, c))
		}
		return joined, nil
	})
	if err != nil {
		return nil, JoinStats{}, err
	}

	stats := JoinStats{AmbiguousKeys: idx.ambiguous}
	for _, p := range parts {
		stats = stats.merge(p)
	}
	return out, stats, nil
}
