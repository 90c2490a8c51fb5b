package planarsim

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrNonFinite is returned when a stage evaluation produces NaN or Inf.
	// It is fatal: the driver aborts and flags the trace as truncated.
	ErrNonFinite = errors.New("integrator: non-finite stage output")
	// ErrStepTooSmall is returned by the driver's RK45 sub-integration to an
	// event time when a rejected step has shrunk below 1e-15 s. A step
	// rejected at hMin is force-accepted instead.
	ErrStepTooSmall = errors.New("integrator: step too small")
)

// rk4 advances (q, v, t) by a fixed step with the classical four-stage
// Runge–Kutta scheme applied to ẏ = f(t, y), y = (q, v). It has no error
// estimate and always accepts. Stage scratch is allocated once and reused, so
// the hot path does not allocate.
type rk4 struct {
	f      DerivativeFunc
	kq, kv [4][]float64
	tq, tv []float64
	sq, sv []float64 // stage accumulators
}

func newRK4(n int, f DerivativeFunc) *rk4 {
	r := &rk4{f: f}
	for i := range r.kq {
		r.kq[i] = make([]float64, n)
		r.kv[i] = make([]float64, n)
	}
	r.tq = make([]float64, n)
	r.tv = make([]float64, n)
	r.sq = make([]float64, n)
	r.sv = make([]float64, n)
	return r
}

// step advances q and v in place by h. The only failure mode is a non-finite
// stage output.
func (r *rk4) step(t float64, q, v []float64, h float64) error {
	// k1 at t.
	r.f(t, q, v, r.kq[0], r.kv[0])
	// k2 at t + h/2 on the k1 slope.
	floats.AddScaledTo(r.tq, q, 0.5*h, r.kq[0])
	floats.AddScaledTo(r.tv, v, 0.5*h, r.kv[0])
	r.f(t+0.5*h, r.tq, r.tv, r.kq[1], r.kv[1])
	// k3 at t + h/2 on the k2 slope.
	floats.AddScaledTo(r.tq, q, 0.5*h, r.kq[1])
	floats.AddScaledTo(r.tv, v, 0.5*h, r.kv[1])
	r.f(t+0.5*h, r.tq, r.tv, r.kq[2], r.kv[2])
	// k4 at t + h on the k3 slope.
	floats.AddScaledTo(r.tq, q, h, r.kq[2])
	floats.AddScaledTo(r.tv, v, h, r.kv[2])
	r.f(t+h, r.tq, r.tv, r.kq[3], r.kv[3])

	for i := range r.kq {
		if !allFinite(r.kq[i]) || !allFinite(r.kv[i]) {
			return ErrNonFinite
		}
	}

	// y += h/6 (k1 + 2k2 + 2k3 + k4)
	copy(r.sq, r.kq[0])
	floats.AddScaled(r.sq, 2, r.kq[1])
	floats.AddScaled(r.sq, 2, r.kq[2])
	floats.Add(r.sq, r.kq[3])
	floats.AddScaled(q, h/6, r.sq)
	copy(r.sv, r.kv[0])
	floats.AddScaled(r.sv, 2, r.kv[1])
	floats.AddScaled(r.sv, 2, r.kv[2])
	floats.Add(r.sv, r.kv[3])
	floats.AddScaled(v, h/6, r.sv)
	return nil
}

// Dormand–Prince 5(4) tableau.
var (
	dpC = [7]float64{0, 1. / 5, 3. / 10, 4. / 5, 8. / 9, 1, 1}
	dpA = [7][6]float64{
		{},
		{1. / 5},
		{3. / 40, 9. / 40},
		{44. / 45, -56. / 15, 32. / 9},
		{19372. / 6561, -25360. / 2187, 64448. / 6561, -212. / 729},
		{9017. / 3168, -355. / 33, 46732. / 5247, 49. / 176, -5103. / 18656},
		{35. / 384, 0, 500. / 1113, 125. / 192, -2187. / 6784, 11. / 84},
	}
	// 5th order weights (the last stage row doubles as b5, FSAL).
	dpB5 = [7]float64{35. / 384, 0, 500. / 1113, 125. / 192, -2187. / 6784, 11. / 84, 0}
	// 4th order embedded weights.
	dpB4 = [7]float64{5179. / 57600, 0, 7571. / 16695, 393. / 640, -92097. / 339200, 187. / 2100, 1. / 40}
)

// rk45 advances (q, v, t) with the embedded Dormand–Prince scheme. Each
// attempt yields the 5th order solution, a 4th order companion and their
// componentwise max-norm difference as the local error estimate.
type rk45 struct {
	f        DerivativeFunc
	kq, kv   [7][]float64
	tq, tv   []float64
	y5q, y5v []float64
	y4q, y4v []float64
}

func newRK45(n int, f DerivativeFunc) *rk45 {
	r := &rk45{f: f}
	for i := range r.kq {
		r.kq[i] = make([]float64, n)
		r.kv[i] = make([]float64, n)
	}
	r.tq = make([]float64, n)
	r.tv = make([]float64, n)
	r.y5q = make([]float64, n)
	r.y5v = make([]float64, n)
	r.y4q = make([]float64, n)
	r.y4v = make([]float64, n)
	return r
}

// attempt tries one step of size h against tolerance tol. On acceptance the
// 5th order solution is written into q and v. The returned factor is the
// suggested multiplier for the next step size, which the driver clamps to its
// policy bounds. force accepts the step regardless of the error estimate, used
// by the driver to land exactly on an event time.
func (r *rk45) attempt(t float64, q, v []float64, h, tol float64, force bool) (accepted bool, errEst, factor float64, err error) {
	r.f(t, q, v, r.kq[0], r.kv[0])
	for s := 1; s < 7; s++ {
		copy(r.tq, q)
		copy(r.tv, v)
		for j := 0; j < s; j++ {
			if dpA[s][j] == 0 {
				continue
			}
			floats.AddScaled(r.tq, h*dpA[s][j], r.kq[j])
			floats.AddScaled(r.tv, h*dpA[s][j], r.kv[j])
		}
		r.f(t+dpC[s]*h, r.tq, r.tv, r.kq[s], r.kv[s])
	}
	for s := range r.kq {
		if !allFinite(r.kq[s]) || !allFinite(r.kv[s]) {
			return false, 0, 0, ErrNonFinite
		}
	}

	copy(r.y5q, q)
	copy(r.y5v, v)
	copy(r.y4q, q)
	copy(r.y4v, v)
	for s := 0; s < 7; s++ {
		if dpB5[s] != 0 {
			floats.AddScaled(r.y5q, h*dpB5[s], r.kq[s])
			floats.AddScaled(r.y5v, h*dpB5[s], r.kv[s])
		}
		if dpB4[s] != 0 {
			floats.AddScaled(r.y4q, h*dpB4[s], r.kq[s])
			floats.AddScaled(r.y4v, h*dpB4[s], r.kv[s])
		}
	}
	errEst = math.Max(maxAbsDiff(r.y5q, r.y4q), maxAbsDiff(r.y5v, r.y4v))

	if errEst == 0 {
		factor = 1.5
	} else {
		factor = clamp(0.9*math.Pow(tol/errEst, 0.2), 0.5, 2.0)
	}
	if errEst <= tol || force {
		copy(q, r.y5q)
		copy(v, r.y5v)
		return true, errEst, factor, nil
	}
	return false, errEst, factor, nil
}
