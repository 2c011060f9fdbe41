// Package match corroborates candidates across antennas: independent
// detection of the same (time, DM) signature by separate receivers strongly
// disfavors local interference.
package match

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/frbseek/frbseek/store"
)

// Tolerance defines how close two candidates must be, in both time and DM,
// to be considered the same event.
type Tolerance struct {
	DTSec float64
	DDM   float64
}

// Match is a group of candidates from at least two distinct antennas within
// the tolerances of one another.
type Match struct {
	Candidates []store.Candidate
}

// Antennas returns the distinct antennas contributing to the match.
func (m Match) Antennas() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range m.Candidates {
		if !seen[c.Antenna] {
			seen[c.Antenna] = true
			out = append(out, c.Antenna)
		}
	}
	sort.Strings(out)
	return out
}

// Find queries accepted candidates of the experiment and groups those whose
// (time, DM) coordinates fall within the tolerances across at least two
// distinct antennas. Groups are ordered by earliest candidate time. Grouping
// is greedy over time-ordered candidates; a candidate joins at most one
// group.
func Find(ctx context.Context, st store.Store, experiment string, tol Tolerance) ([]Match, error) {
	if tol.DTSec <= 0 || tol.DDM <= 0 {
		return nil, fmt.Errorf("tolerances must be positive, got dt=%g ddm=%g", tol.DTSec, tol.DDM)
	}
	cands, err := st.QueryCandidates(ctx, store.Query{
		Experiment:   experiment,
		AcceptedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query candidates for experiment %q: %s", experiment, err)
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].TimeSec < cands[j].TimeSec })

	assigned := make([]bool, len(cands))
	var matches []Match
	for i := range cands {
		if assigned[i] {
			continue
		}
		group := []int{i}
		antennas := map[string]bool{cands[i].Antenna: true}
		for j := i + 1; j < len(cands); j++ {
			if assigned[j] {
				continue
			}
			if cands[j].TimeSec-cands[i].TimeSec > tol.DTSec {
				break
			}
			if math.Abs(cands[j].DM-cands[i].DM) > tol.DDM {
				continue
			}
			group = append(group, j)
			antennas[cands[j].Antenna] = true
		}
		if len(antennas) < 2 {
			continue
		}
		m := Match{}
		for _, idx := range group {
			assigned[idx] = true
			m.Candidates = append(m.Candidates, cands[idx])
		}
		matches = append(matches, m)
	}
	return matches, nil
}
