// Package emit ranks a finished selection into the final ordered token
// list. It only reads the graph, so it lives apart from the selector's
// mutable state and is testable against hand-built graphs.
package emit

import (
	"sort"

	"github.com/subtok/vocab/pkg/vocab"
)

type ranked struct {
	name    string
	utility int64
}

// Solution enumerates the enabled multi-character candidates, ranks
// them by descending simulated utility (ties broken by ascending token
// string), and appends every root token in index order. The utility of
// an enabled candidate is what disabling it would cost: the hop count
// to its nearest enabled ancestor times the uses routed through that
// chain, summed over both the left and right chains.
func Solution(g *vocab.Graph) []string {
	multi := make([]ranked, 0, g.CandidateCount())
	roots := make([]string, 0, g.RootCount())

	for i := range g.Tokens {
		idx := int32(i)
		t := &g.Tokens[idx]
		if t.IsRoot() {
			roots = append(roots, g.String(idx))
			continue
		}
		if !t.Enabled() {
			continue
		}
		leftLen, leftUses := g.SimulateLeft(idx)
		rightLen, rightUses := g.SimulateRight(idx)
		multi = append(multi, ranked{
			name:    g.String(idx),
			utility: leftLen*int64(leftUses) + rightLen*int64(rightUses),
		})
	}

	sort.Slice(multi, func(i, j int) bool {
		if multi[i].utility != multi[j].utility {
			return multi[i].utility > multi[j].utility
		}
		return multi[i].name < multi[j].name
	})

	out := make([]string, 0, len(multi)+len(roots))
	for _, r := range multi {
		out = append(out, r.name)
	}
	return append(out, roots...)
}
