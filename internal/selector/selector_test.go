package selector

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/subtok/vocab/pkg/trie"
	"github.com/subtok/vocab/pkg/vocab"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildGraph extracts candidates from texts single-threadedly, the way
// the extractor would, so tests get deterministic token arrays.
func buildGraph(t *testing.T, texts []string, maxLen int) *vocab.Graph {
	t.Helper()
	tr := trie.New(0)
	for _, text := range texts {
		runes := []rune(text)
		for start := range runes {
			length := maxLen
			if rem := len(runes) - start; rem < length {
				length = rem
			}
			tr.AddString(runes[start:], length)
		}
	}
	return vocab.NewGraph(tr.BuildTokens(), 64)
}

func runSelector(t *testing.T, g *vocab.Graph, pref, passes int) *Selector {
	t.Helper()
	s := New(g, Options{
		PrefTokenCount: pref,
		BatchSize:      2,
		PassCount:      passes,
		Workers:        2,
		Log:            discard(),
	})
	s.Run(context.Background())
	return s
}

func TestRootsStayEnabledAndOutOfPools(t *testing.T) {
	g := buildGraph(t, []string{"abab", "abab", "cdcd"}, 3)
	s := runSelector(t, g, 2, 20)

	for i := range g.Tokens {
		if g.Tokens[i].IsRoot() && !g.Tokens[i].Enabled() {
			t.Errorf("root %q disabled after run", g.String(int32(i)))
		}
	}
	for _, p := range []*pool{&s.enabled, &s.disabled} {
		for _, idx := range p.candidates {
			if g.Tokens[idx].IsRoot() {
				t.Errorf("root %q found in a selection pool", g.String(idx))
			}
		}
	}
}

func TestPoolPartitionAtQuiescence(t *testing.T) {
	g := buildGraph(t, []string{"abab", "abab", "cdcd"}, 3)
	s := runSelector(t, g, 2, 20)

	got := len(s.enabled.candidates) + len(s.disabled.candidates)
	if got != int(s.totCand) {
		t.Fatalf("|enabled|+|disabled| = %d, want %d", got, s.totCand)
	}
	if s.enabled.count.Load() != int64(len(s.enabled.candidates)) {
		t.Errorf("enabled count %d != len %d", s.enabled.count.Load(), len(s.enabled.candidates))
	}
	if s.disabled.count.Load() != int64(len(s.disabled.candidates)) {
		t.Errorf("disabled count %d != len %d", s.disabled.count.Load(), len(s.disabled.candidates))
	}
	seen := make(map[int32]bool)
	for _, p := range []*pool{&s.enabled, &s.disabled} {
		for _, idx := range p.candidates {
			if seen[idx] {
				t.Errorf("candidate %d present in both pools", idx)
			}
			seen[idx] = true
		}
	}
	for _, idx := range s.enabled.candidates {
		if !g.Tokens[idx].Enabled() {
			t.Errorf("candidate %d in enabled pool but flag is off", idx)
		}
	}
	for _, idx := range s.disabled.candidates {
		if g.Tokens[idx].Enabled() {
			t.Errorf("candidate %d in disabled pool but flag is on", idx)
		}
	}
}

// The quiescent raw score identity: every occurrence still routed to
// an enabled token T saves Length(T)-1 tokens over root-by-root
// encoding, so raw_score must equal the sum of LeftUses*(Length-1)
// over enabled candidates once no tasks are in flight.
func TestRawScoreConsistencyAtQuiescence(t *testing.T) {
	g := buildGraph(t, []string{"abcabc", "abcabc", "xyxy"}, 3)
	s := runSelector(t, g, 3, 30)

	var want int64
	for i := range g.Tokens {
		tok := &g.Tokens[i]
		if tok.IsRoot() || !tok.Enabled() {
			continue
		}
		want += int64(tok.LeftUses()) * int64(tok.Length-1)
	}
	if got := s.rawScore.Load(); got != want {
		t.Fatalf("rawScore = %d, want %d", got, want)
	}
	if s.enabledCnt.Load() != int64(len(s.enabled.candidates)) {
		t.Errorf("enabledCnt = %d, pool holds %d", s.enabledCnt.Load(), len(s.enabled.candidates))
	}
}

// Uses-conservation: for every token U, its original occurrence count
// must equal its current LeftUses plus the covered uses of every
// enabled candidate whose left chain passes through U before (or when)
// it reaches its first enabled ancestor. Covered uses are themselves
// recursive (a token's occurrences routed away by its own enabled
// descendants still reach U through it), so enabled tokens are folded
// longest-first.
func TestLeftUsesConservation(t *testing.T) {
	texts := []string{"abcabc", "aabba", "cbacba"}
	g := buildGraph(t, texts, 4)
	fresh := buildGraph(t, texts, 4) // identical build keeps initial counts
	if fresh.Len() != g.Len() {
		t.Fatalf("non-deterministic build: %d vs %d tokens", fresh.Len(), g.Len())
	}

	runSelector(t, g, 4, 30)

	// Fold enabled candidates longest-first so each one's covered uses
	// include what its descendants routed through it.
	byLength := make(map[uint16][]int32)
	var maxLen uint16
	for i := range g.Tokens {
		tok := &g.Tokens[i]
		if tok.IsRoot() || !tok.Enabled() {
			continue
		}
		byLength[tok.Length] = append(byLength[tok.Length], int32(i))
		if tok.Length > maxLen {
			maxLen = tok.Length
		}
	}
	incoming := make([]uint64, g.Len())
	for l := maxLen; l >= 2; l-- {
		for _, idx := range byLength[l] {
			covered := g.Tokens[idx].LeftUses() + incoming[idx]
			cur := g.Tokens[idx].LeftParent
			for {
				incoming[cur] += covered
				if g.Tokens[cur].Enabled() {
					break
				}
				cur = g.Tokens[cur].LeftParent
			}
		}
	}

	for i := range g.Tokens {
		initial := fresh.Tokens[i].LeftUses()
		got := g.Tokens[i].LeftUses() + incoming[i]
		if got != initial {
			t.Errorf("token %q: leftUses %d + incoming %d = %d, want initial %d",
				g.String(int32(i)), g.Tokens[i].LeftUses(), incoming[i], got, initial)
		}
	}
}

func TestScoreIsZeroWithNothingEnabled(t *testing.T) {
	g := buildGraph(t, []string{"abab"}, 2)
	s := New(g, Options{PrefTokenCount: 1, Log: discard()})
	if got := s.score(100, 0); got != 0 {
		t.Fatalf("score(100, 0) = %v, want 0", got)
	}
}

func TestRunWithNoCandidatesReturnsImmediately(t *testing.T) {
	g := buildGraph(t, []string{"abc"}, 1) // maxLen 1 leaves roots only
	s := New(g, Options{PrefTokenCount: 5, PassCount: 0, Log: discard()})
	res := s.Run(context.Background())
	if res.Passes != 0 || res.EnabledCount != 0 {
		t.Fatalf("res = %+v, want zero passes and zero enabled", res)
	}
}

func TestControlSignalStopsUnlimitedRun(t *testing.T) {
	g := buildGraph(t, []string{"abab", "cdcd"}, 2)
	s := New(g, Options{
		PrefTokenCount: 1,
		BatchSize:      1,
		PassCount:      0, // unlimited, only the control line can stop it
		Workers:        1,
		Control:        strings.NewReader("stop\n"),
		Log:            discard(),
	})
	res := s.Run(context.Background())
	if !res.Stopped {
		t.Fatal("run did not report being stopped by the control signal")
	}
}

func TestCancelledContextStopsRun(t *testing.T) {
	g := buildGraph(t, []string{"abab", "cdcd"}, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(g, Options{PrefTokenCount: 1, PassCount: 0, Log: discard()})
	res := s.Run(ctx)
	if !res.Stopped {
		t.Fatal("run did not stop on context cancellation")
	}
}

// The annealing dynamics are stochastic; a single run can wedge on the
// lower-frequency candidate. Fresh restarts are independent, so
// requiring one of many runs to find the dominant token keeps the
// failure probability negligible while still exercising convergence.
func TestConvergesToDominantCandidate(t *testing.T) {
	texts := []string{"ab", "ab", "ab", "cd"}
	for attempt := 0; attempt < 25; attempt++ {
		g := buildGraph(t, texts, 2)
		s := runSelector(t, g, 1, 30)
		if s.enabledCnt.Load() != 1 {
			continue
		}
		idx := s.enabled.candidates[0]
		if g.String(idx) == "ab" {
			return
		}
	}
	t.Fatal("no restart converged to the dominant candidate \"ab\"")
}
