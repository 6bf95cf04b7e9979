// Package lomax implements an online weighted fit of a two-parameter
// Lomax (Pareto type II) distribution, used by the annealing selector
// to model the distribution of per-step utility magnitudes.
package lomax

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
)

// ErrDegenerate is returned by UpdateParams when the accumulated
// moments do not admit a valid Lomax fit (m2 <= 2*m1^2). Callers must
// not call GetBest/GetPDF/GetCDF until a non-degenerate update has
// succeeded at least once.
var ErrDegenerate = errors.New("lomax: degenerate fit, m2 <= 2*m1^2")

type params struct {
	beta  float64
	sigma float64
	ready bool
}

// Estimator holds the online moment accumulators and the most recently
// fitted beta/sigma parameters. Construct one with New: the zero value
// has nothing published, so Ready and the Get* readers panic on it.
// Readers should check Ready() before trusting a fit.
//
// AddPoint and UpdateParams run under mu; GetBest/GetPDF/GetCDF read
// the published params atomically and never block on mu.
type Estimator struct {
	mu    sync.Mutex
	alpha float64
	m1    float64
	m2    float64

	published atomic.Value // params
}

// New returns an Estimator with alpha = 1 (half-life of ln(2)).
func New() *Estimator {
	e := &Estimator{alpha: 1}
	e.published.Store(params{beta: 1, sigma: 1})
	return e
}

// SetHalfLife sets alpha = ln(2)/h. All subsequent AddPoint calls use
// this weight until changed again.
func (e *Estimator) SetHalfLife(h float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alpha = math.Ln2 / h
}

// SetMoments seeds the raw moments directly, used to initialize from
// pre-computed per-candidate statistics rather than from scratch.
func (e *Estimator) SetMoments(m1, m2 float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.m1 = m1
	e.m2 = m2
}

// AddPoint folds one observation into the running moments:
//
//	m1 += (x - m1) * alpha * w
//	m2 += (x^2 - m2) * alpha * w
//
// w is an importance-sampling correction factor supplied by the
// caller; the exponential-weight update is exact only in the limit
// alpha*w << 1, an approximation this estimator accepts by contract.
func (e *Estimator) AddPoint(x, w float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	weight := e.alpha * w
	e.m1 += (x - e.m1) * weight
	e.m2 += (x*x - e.m2) * weight
}

// UpdateParams recomputes beta/sigma from the current moments and
// publishes them for lock-free reads. Returns ErrDegenerate (without
// publishing) when m2 <= 2*m1^2.
func (e *Estimator) UpdateParams() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	denom := e.m2 - 2*e.m1*e.m1
	if denom <= 0 {
		return ErrDegenerate
	}
	t := e.m2 / denom
	sigma := e.m1 * t
	beta := t + 1
	e.published.Store(params{beta: beta, sigma: sigma, ready: true})
	return nil
}

// Ready reports whether UpdateParams has ever published a fit.
func (e *Estimator) Ready() bool {
	return e.published.Load().(params).ready
}

// GetParams returns the most recently published beta, sigma.
func (e *Estimator) GetParams() (beta, sigma float64) {
	p := e.published.Load().(params)
	return p.beta, p.sigma
}

// GetMean returns the current raw first moment.
func (e *Estimator) GetMean() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m1
}

// GetVar returns the current raw variance estimate (m2 - m1^2).
func (e *Estimator) GetVar() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m2 - e.m1*e.m1
}

// GetPDF evaluates the fitted Lomax density at x.
func (e *Estimator) GetPDF(x float64) float64 {
	beta, sigma := e.GetParams()
	return beta / sigma * math.Pow(1+x/sigma, -(beta + 1))
}

// GetCDF evaluates the fitted Lomax cumulative distribution at x.
func (e *Estimator) GetCDF(x float64) float64 {
	beta, sigma := e.GetParams()
	return 1 - math.Pow(1+x/sigma, -beta)
}

// GetBest returns the integral of the inverse CDF from 1-p to 1, i.e.
// the mean contribution of the top-p fraction under the fitted Lomax:
//
//	sigma * (p^(1-1/beta) / (1-1/beta) - p)
func (e *Estimator) GetBest(p float64) float64 {
	beta, sigma := e.GetParams()
	t := 1.0 - 1.0/beta
	return sigma * (math.Pow(p, t)/t - p)
}
