// Package selector implements the simulated-annealing vocabulary
// selector: batched stochastic toggling of candidate tokens over the
// flat token graph, scored against a running Lomax fit of the per-step
// utility distribution, until the enabled set settles near the target
// vocabulary size.
package selector

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/subtok/vocab/internal/progress"
	"github.com/subtok/vocab/internal/taskpool"
	"github.com/subtok/vocab/pkg/lomax"
	"github.com/subtok/vocab/pkg/vocab"
)

// Options configures one selector run.
type Options struct {
	// PrefTokenCount is the target vocabulary size P. Clamped to the
	// number of non-root candidates.
	PrefTokenCount int
	// BatchSize is the number of candidates toggled per worker task;
	// <= 0 defaults to the hardware thread count.
	BatchSize int
	// PassCount is the number of annealing passes to run; <= 0 means
	// unlimited, i.e. run until the control stream produces a line or
	// the context is cancelled.
	PassCount int
	// Workers caps concurrency. <= 0 defaults to GOMAXPROCS, then
	// clamped so that BatchSize*Workers <= candidate count.
	Workers int
	// Control, when non-nil, is polled (non-blockingly, at pass
	// boundaries) for a line of input that stops the run.
	Control io.Reader
	// Log defaults to slog.Default().
	Log *slog.Logger
	// Reporter, when non-nil, receives one snapshot per pass.
	Reporter *progress.Reporter
}

// Result summarizes a finished run.
type Result struct {
	Passes       int
	GenCount     int64
	Score        float64
	EnabledCount int64
	// Stopped reports whether the run ended on a control signal or
	// context cancellation rather than by exhausting PassCount.
	Stopped bool
}

// Selector owns the mutable optimization state over a Graph. One
// Selector corresponds to one run; it is not reusable.
type Selector struct {
	graph *vocab.Graph
	dist  *lomax.Estimator

	totCand  int64
	prefCand int64

	enabledCnt atomic.Int64
	rawScore   atomic.Int64
	genCnt     atomic.Int64
	tempBits   atomic.Uint64

	enabled  pool
	disabled pool

	batchSize int
	workers   int
	passCount int

	control  io.Reader
	log      *slog.Logger
	reporter *progress.Reporter
}

// New initializes a Selector over g: every non-root candidate starts
// disabled, and the Lomax estimator is seeded with the raw moments of
// uses*(size-1) over the full candidate set so the first params update
// works from real variance instead of a degenerate fit.
func New(g *vocab.Graph, opts Options) *Selector {
	totCand := int64(g.CandidateCount())
	prefCand := int64(opts.PrefTokenCount)
	if prefCand < 1 {
		prefCand = 1
	}
	if prefCand > totCand && totCand > 0 {
		prefCand = totCand
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = runtime.GOMAXPROCS(0)
	}
	if int64(batchSize) > totCand && totCand > 0 {
		batchSize = int(totCand)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	// Keep concurrent staleness bounded: at most one pass's worth of
	// candidates in flight across all workers.
	for workers > 1 && int64(batchSize*workers) > totCand {
		workers--
	}

	logger := opts.Log
	if logger == nil {
		logger = slog.Default()
	}

	s := &Selector{
		graph:     g,
		dist:      lomax.New(),
		totCand:   totCand,
		prefCand:  prefCand,
		batchSize: batchSize,
		workers:   workers,
		passCount: opts.PassCount,
		control:   opts.Control,
		log:       logger,
		reporter:  opts.Reporter,
	}
	s.storeTemp(0.003)

	candidates := make([]int32, 0, totCand)
	var m1, m2 float64
	for i := range g.Tokens {
		t := &g.Tokens[i]
		if t.IsRoot() {
			continue
		}
		candidates = append(candidates, int32(i))
		x := float64(t.LeftUses()) * float64(t.Length-1)
		m1 += x
		m2 += x * x
	}
	s.disabled.seed(candidates)
	if totCand > 0 {
		s.dist.SetMoments(m1/float64(totCand), m2/float64(totCand))
		// Degenerate moments (tiny candidate sets with no variance)
		// leave the estimator unpublished; score() falls back to an
		// unnormalized denominator until real samples accumulate.
		_ = s.dist.UpdateParams()
		s.dist.SetHalfLife(float64(totCand))
	}
	return s
}

// storeTemp / loadTemp keep the temperature in an atomic so concurrent
// batch tasks and the pass reporter read a coherent value.
func (s *Selector) storeTemp(t float64) {
	s.tempBits.Store(math.Float64bits(t))
}

func (s *Selector) loadTemp() float64 {
	return math.Float64frombits(s.tempBits.Load())
}

// score is the aggregate score for a hypothetical (rawScore, enabled
// count) pair: the raw score normalized by the Lomax model's estimate
// of the best achievable contribution at this fill level, shaped by
// the f*(2-f) penalty peaking at the target vocabulary size.
func (s *Selector) score(rawScore int64, enabledCnt int64) float64 {
	if enabledCnt <= 0 {
		return 0
	}
	denom := float64(s.totCand)
	if s.dist.Ready() {
		denom *= s.dist.GetBest(float64(enabledCnt) / float64(s.totCand))
	}
	f := float64(enabledCnt) / float64(s.prefCand)
	return float64(rawScore) / denom * f * (2 - f)
}

// Score returns the aggregate score of the current state.
func (s *Selector) Score() float64 {
	return s.score(s.rawScore.Load(), s.enabledCnt.Load())
}

// EnabledCount returns the number of currently enabled candidates.
func (s *Selector) EnabledCount() int64 {
	return s.enabledCnt.Load()
}

// Run executes the annealing loop: PassCount passes (or until stopped),
// each pass dispatching ceil(totCand/batchSize) batch tasks onto a
// worker pool and reporting the resulting state. The control stream is
// polled without blocking at every pass boundary.
func (s *Selector) Run(ctx context.Context) Result {
	if s.totCand == 0 {
		s.log.Info("no candidates to select, vocabulary is roots only")
		return Result{}
	}

	stop := s.watchControl()

	workerPool := taskpool.New(s.workers)
	defer workerPool.Close()

	tasksPerPass := int((s.totCand + int64(s.batchSize) - 1) / int64(s.batchSize))

	var res Result
	for pass := 0; s.passCount <= 0 || pass < s.passCount; pass++ {
		select {
		case <-stop:
			res.Stopped = true
		case <-ctx.Done():
			res.Stopped = true
		default:
		}
		if res.Stopped {
			break
		}

		for i := 0; i < tasksPerPass; i++ {
			workerPool.Enqueue(func() { s.runBatchTask(s.batchSize) })
		}
		workerPool.Wait()

		res.Passes = pass + 1
		s.report(pass)
	}

	res.GenCount = s.genCnt.Load()
	res.Score = s.Score()
	res.EnabledCount = s.enabledCnt.Load()
	s.log.Info("annealing finished",
		"passes", res.Passes,
		"gen_count", res.GenCount,
		"score", res.Score,
		"enabled", res.EnabledCount,
		"stopped", res.Stopped)
	return res
}

func (s *Selector) report(pass int) {
	score := s.Score()
	s.log.Info("pass complete",
		"pass", pass,
		"gen_count", s.genCnt.Load(),
		"score", score,
		"enabled", s.enabledCnt.Load(),
		"temp", s.loadTemp())
	if s.reporter != nil {
		s.reporter.Publish(progress.Snapshot{
			Pass:         pass,
			GenCount:     s.genCnt.Load(),
			Score:        score,
			EnabledCount: s.enabledCnt.Load(),
			Temperature:  s.loadTemp(),
		})
	}
}

// watchControl starts a reader goroutine over the control stream and
// returns a channel closed when a line arrives. With no control stream
// the channel never fires. The goroutine leaks only until its blocking
// read returns, which is the contract of a polled stdin-like stream.
func (s *Selector) watchControl() <-chan struct{} {
	stop := make(chan struct{})
	if s.control == nil {
		return stop
	}
	go func() {
		scanner := bufio.NewScanner(s.control)
		scanner.Scan()
		close(stop)
	}()
	return stop
}
