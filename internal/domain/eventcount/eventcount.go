// Package eventcount defines the running per-participant action tallies.
package eventcount

import (
	"sort"

	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
)

// Key identifies one tally. The action carries its kind, so GREENFLAG
// under block and GREENFLAG under click are separate tallies.
type Key struct {
	Experiment  int64
	Participant int64
	Action      taxonomy.Action
}

// Count is the number of times one action occurred for one participant.
type Count struct {
	Key
	Count int64
}

// Entry is the JSON shape of a single count.
type Entry struct {
	Action string `json:"event"`
	Count  int64  `json:"count"`
}

// Summary groups a participant's counts by kind.
type Summary struct {
	Experiment  int64                     `json:"experiment"`
	Participant int64                     `json:"user"`
	ByKind      map[taxonomy.Kind][]Entry `json:"counts"`
}

// Of returns the tally for action, or zero when it never occurred.
func (s Summary) Of(action taxonomy.Action) int64 {
	for _, e := range s.ByKind[action.Kind] {
		if e.Action == action.Name {
			return e.Count
		}
	}
	return 0
}

// Total returns the sum of all tallies of kind.
func (s Summary) Total(kind taxonomy.Kind) int64 {
	var n int64
	for _, e := range s.ByKind[kind] {
		n += e.Count
	}
	return n
}

// Summarize groups counts for one participant. Every kind is present in the
// result, with an empty slice when nothing was counted. Entries within a
// kind are sorted by action name.
func Summarize(experiment, participant int64, counts []Count) Summary {
	s := Summary{
		Experiment:  experiment,
		Participant: participant,
		ByKind:      make(map[taxonomy.Kind][]Entry, len(taxonomy.Kinds())),
	}
	for _, k := range taxonomy.Kinds() {
		s.ByKind[k] = []Entry{}
	}
	for _, c := range counts {
		if c.Experiment != experiment || c.Participant != participant {
			continue
		}
		k := c.Action.Kind
		s.ByKind[k] = append(s.ByKind[k], Entry{Action: c.Action.Name, Count: c.Count})
	}
	for k := range s.ByKind {
		entries := s.ByKind[k]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Action < entries[j].Action })
	}
	return s
}

// Sort orders counts by participant, then kind, then action name.
func Sort(counts []Count) {
	sort.Slice(counts, func(i, j int) bool {
		a, b := counts[i], counts[j]
		if a.Participant != b.Participant {
			return a.Participant < b.Participant
		}
		if a.Action.Kind != b.Action.Kind {
			return a.Action.Kind < b.Action.Kind
		}
		return a.Action.Name < b.Action.Name
	})
}
