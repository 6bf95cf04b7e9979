package selector

import (
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// pool is one of the two selection pools (enabled / disabled). The
// mutex guards the candidate slice; the count mirrors its length
// atomically so sampling decisions can read it without locking.
type pool struct {
	mu         sync.Mutex
	candidates []int32
	count      atomic.Int64
}

func (p *pool) seed(candidates []int32) {
	p.candidates = candidates
	p.count.Store(int64(len(candidates)))
}

// popRandom removes up to k uniformly chosen candidates in one lock
// acquisition, swap-with-back then pop so each removal is O(1). It
// returns fewer than k when the pool runs short.
func (p *pool) popRandom(k int) []int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k > len(p.candidates) {
		k = len(p.candidates)
	}
	out := make([]int32, 0, k)
	for i := 0; i < k; i++ {
		j := rand.IntN(len(p.candidates))
		last := len(p.candidates) - 1
		p.candidates[j], p.candidates[last] = p.candidates[last], p.candidates[j]
		out = append(out, p.candidates[last])
		p.candidates = p.candidates[:last]
	}
	p.count.Add(-int64(len(out)))
	return out
}

// push returns candidates to the pool in one lock acquisition.
func (p *pool) push(candidates []int32) {
	if len(candidates) == 0 {
		return
	}
	p.mu.Lock()
	p.candidates = append(p.candidates, candidates...)
	p.mu.Unlock()
	p.count.Add(int64(len(candidates)))
}

type sample struct {
	x float64
	w float64
}

// runBatchTask is the unit of work one pass dispatches: pick how many
// of this batch's steps are enables (binomially, weighted so the
// enabled count drifts toward the target vocabulary size), run the
// enable and disable sub-batches, then fold every observed delta into
// the Lomax fit with its importance-sampling correction.
func (s *Selector) runBatchTask(batchSize int) {
	n := s.enabledCnt.Load()
	enableWeight := n * (s.totCand - s.prefCand)
	disableWeight := (s.totCand - n) * s.prefCand
	total := enableWeight + disableWeight
	if total == 0 {
		return
	}

	enableCnt := binomial(batchSize, float64(disableWeight)/float64(total))
	// Never request more disables than there are enabled candidates,
	// nor more enables than there are disabled ones.
	if min := batchSize - int(n); enableCnt < min {
		enableCnt = min
	}
	if max := int(s.totCand - n); enableCnt > max {
		enableCnt = max
	}

	corrEnable := float64(total) / (float64(s.totCand) * float64(s.prefCand))
	var corrDisable float64
	if s.totCand > s.prefCand {
		corrDisable = float64(total) / (float64(s.totCand) * float64(s.totCand-s.prefCand))
	}

	s.storeTemp(0.003 * math.Exp(-float64(s.genCnt.Load())/float64(s.totCand)*0.1))

	samples := make([]sample, 0, batchSize)
	enabled := s.runBatch(true, enableCnt, corrEnable, &samples)
	disabled := s.runBatch(false, batchSize-enableCnt, corrDisable, &samples)

	for _, smp := range samples {
		s.dist.AddPoint(smp.x, smp.w)
	}
	// Tiny batches may not have accumulated variance yet; keep the
	// previous published fit in that case.
	_ = s.dist.UpdateParams()

	s.pushBack(enabled)
	s.pushBack(disabled)
}

// runBatch processes k steps in one direction: pop k candidates from
// the source pool, and for each one simulate the left-chain utility
// delta, accept or reject the toggle by the Glauber rule at the
// current temperature, and apply accepted toggles to the graph and the
// shared counters. It returns the popped candidates; the caller pushes
// them back to whichever pool matches their final state.
func (s *Selector) runBatch(enable bool, k int, corr float64, samples *[]sample) []int32 {
	if k <= 0 {
		return nil
	}
	from := &s.disabled
	sign := int64(1)
	if !enable {
		from = &s.enabled
		sign = -1
	}
	batch := from.popRandom(k)

	for _, idx := range batch {
		deltaLen, uses := s.graph.SimulateLeft(idx)
		deltaRaw := deltaLen * int64(uses)

		rawScore := s.rawScore.Load()
		enabledCnt := s.enabledCnt.Load()
		deltaScore := s.score(rawScore+sign*deltaRaw, enabledCnt+sign) - s.score(rawScore, enabledCnt)

		if rand.Float64() < glauber(deltaScore, s.loadTemp()) {
			applied := s.graph.ApplyLeft(idx, enable)
			s.graph.ApplyRight(idx, enable)
			s.rawScore.Add(sign * int64(applied))
			s.enabledCnt.Add(sign)
		}

		*samples = append(*samples, sample{x: float64(deltaRaw), w: corr})
		s.genCnt.Add(1)
	}
	return batch
}

// pushBack routes processed candidates to the pool matching their
// final enabled state, one lock acquisition per pool.
func (s *Selector) pushBack(batch []int32) {
	if len(batch) == 0 {
		return
	}
	var toEnabled, toDisabled []int32
	for _, idx := range batch {
		if s.graph.Tokens[idx].Enabled() {
			toEnabled = append(toEnabled, idx)
		} else {
			toDisabled = append(toDisabled, idx)
		}
	}
	s.enabled.push(toEnabled)
	s.disabled.push(toDisabled)
}

// glauber is the acceptance probability 1/(1+exp(-delta/temp)): above
// 1/2 for improving moves, approaching a step function as temp falls.
func glauber(deltaScore, temp float64) float64 {
	return 1 / (1 + math.Exp(-deltaScore/temp))
}

// binomial samples Binomial(n, p) by n Bernoulli draws; n is a batch
// size, small enough that the direct method beats anything clever.
func binomial(n int, p float64) int {
	cnt := 0
	for i := 0; i < n; i++ {
		if rand.Float64() < p {
			cnt++
		}
	}
	return cnt
}
