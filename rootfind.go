package planarsim

import (
	"errors"
	"math"
)

// RootMethod selects the bracketing algorithm of the event root-finder.
type RootMethod uint8

const (
	// AutoRoot picks an algorithm from the bracket width: bisection below
	// 0.1, secant up to 1.0, Brent beyond.
	AutoRoot RootMethod = iota
	// Bisection halves the interval; linear but unconditional convergence.
	Bisection
	// Secant interpolates through the two latest points.
	Secant
	// Brent combines inverse quadratic interpolation with bisection safeguards.
	Brent
)

func (m RootMethod) String() string {
	switch m {
	case AutoRoot:
		return "auto"
	case Bisection:
		return "bisection"
	case Secant:
		return "secant"
	case Brent:
		return "brent"
	}
	panic("cannot stringify unknown root method")
}

const (
	bisectionMaxIter = 100
	secantMaxIter    = 50
	brentMaxIter     = 100
	// secantGuard aborts the secant update when consecutive function values
	// are too close to divide.
	secantGuard = 1e-14
)

// ErrNoBracket is returned when the endpoint values have a strictly positive
// product; the driver then treats the predicate as not firing in this step.
var ErrNoBracket = errors.New("rootfind: no bracketed root")

// RootResult reports the outcome of a root search.
type RootResult struct {
	T          float64
	Iterations int
	Converged  bool
	Residual   float64
	Method     RootMethod
}

// FindRoot locates t* in [t0, t1] with |g(t*)| <= tol for a continuous g
// bracketing a sign change, g(t0)·g(t1) <= 0. With AutoRoot the algorithm is
// chosen from the interval width. A non-converged result still carries the
// best estimate; the caller decides whether to use it.
func FindRoot(g func(float64) float64, t0, t1, tol float64, method RootMethod) (RootResult, error) {
	g0, g1 := g(t0), g(t1)
	if g0*g1 > 0 {
		return RootResult{}, ErrNoBracket
	}
	if math.Abs(g0) <= tol {
		return RootResult{T: t0, Converged: true, Residual: math.Abs(g0), Method: method}, nil
	}
	if math.Abs(g1) <= tol {
		return RootResult{T: t1, Converged: true, Residual: math.Abs(g1), Method: method}, nil
	}
	if method == AutoRoot {
		switch width := t1 - t0; {
		case width < 0.1:
			method = Bisection
		case width <= 1.0:
			method = Secant
		default:
			method = Brent
		}
	}
	switch method {
	case Bisection:
		return bisect(g, t0, t1, g0, g1, tol), nil
	case Secant:
		return secant(g, t0, t1, g0, g1, tol), nil
	case Brent:
		return brent(g, t0, t1, g0, g1, tol), nil
	}
	panic("unknown root method")
}

func bisect(g func(float64) float64, a, b, ga, gb, tol float64) RootResult {
	res := RootResult{Method: Bisection}
	for i := 1; i <= bisectionMaxIter; i++ {
		m := 0.5 * (a + b)
		gm := g(m)
		res.T, res.Iterations, res.Residual = m, i, math.Abs(gm)
		if res.Residual <= tol {
			res.Converged = true
			return res
		}
		if ga*gm <= 0 {
			b, gb = m, gm
		} else {
			a, ga = m, gm
		}
	}
	return res
}

func secant(g func(float64) float64, a, b, ga, gb, tol float64) RootResult {
	res := RootResult{Method: Secant}
	x0, x1, f0, f1 := a, b, ga, gb
	for i := 1; i <= secantMaxIter; i++ {
		if math.Abs(f1-f0) < secantGuard {
			// Division guard: fall back on the best point so far.
			res.T, res.Iterations, res.Residual = x1, i, math.Abs(f1)
			return res
		}
		x2 := x1 - f1*(x1-x0)/(f1-f0)
		f2 := g(x2)
		res.T, res.Iterations, res.Residual = x2, i, math.Abs(f2)
		if res.Residual <= tol {
			res.Converged = true
			return res
		}
		x0, f0 = x1, f1
		x1, f1 = x2, f2
	}
	return res
}

// brent follows the classical Brent–Dekker safeguards: the interpolated
// candidate is discarded for a bisection step when it leaves ((3a+b)/4, b) or
// when the previous two step sizes are too small relative to the tolerance.
func brent(g func(float64) float64, a, b, fa, fb, tol float64) RootResult {
	res := RootResult{Method: Brent}
	if math.Abs(fa) < math.Abs(fb) {
		a, b = b, a
		fa, fb = fb, fa
	}
	c, fc := a, fa
	d, e := b-a, b-a
	for i := 1; i <= brentMaxIter; i++ {
		var s float64
		if fa != fc && fb != fc {
			// Inverse quadratic interpolation.
			s = a*fb*fc/((fa-fb)*(fa-fc)) +
				b*fa*fc/((fb-fa)*(fb-fc)) +
				c*fa*fb/((fc-fa)*(fc-fb))
		} else {
			// Secant step.
			s = b - fb*(b-a)/(fb-fa)
		}
		lo, hi := (3*a+b)/4, b
		if lo > hi {
			lo, hi = hi, lo
		}
		bisectStep := s < lo || s > hi ||
			math.Abs(s-b) >= math.Abs(e)/2 ||
			math.Abs(e) < tol
		if bisectStep {
			s = 0.5 * (a + b)
			e = d
		} else {
			e = d
		}
		d = math.Abs(s - b)
		fs := g(s)
		res.T, res.Iterations, res.Residual = s, i, math.Abs(fs)
		if res.Residual <= tol {
			res.Converged = true
			return res
		}
		c, fc = b, fb
		if fa*fs < 0 {
			b, fb = s, fs
		} else {
			a, fa = s, fs
		}
		if math.Abs(fa) < math.Abs(fb) {
			a, b = b, a
			fa, fb = fb, fa
		}
	}
	return res
}
