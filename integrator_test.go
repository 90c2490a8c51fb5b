package planarsim

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
)

// oscillator is ẍ = -x packed as one degree of freedom in (q, v); the extra
// two components stay at rest.
func oscillator(t float64, q, v, qDot, vDot []float64) {
	copy(qDot, v)
	vDot[0] = -q[0]
	vDot[1] = 0
	vDot[2] = 0
}

func TestRK4Oscillator(t *testing.T) {
	r := newRK4(3, oscillator)
	q := []float64{1, 0, 0}
	v := []float64{0, 0, 0}
	h := 0.01
	for i := 0; i < 100; i++ {
		if err := r.step(float64(i)*h, q, v, h); err != nil {
			t.Fatal(err)
		}
	}
	// Exact solution at t=1: q = cos(1), v = -sin(1).
	if !scalar.EqualWithinAbs(q[0], math.Cos(1), 1e-8) {
		t.Fatalf("q(1) = %.12f, want %.12f", q[0], math.Cos(1))
	}
	if !scalar.EqualWithinAbs(v[0], -math.Sin(1), 1e-8) {
		t.Fatalf("v(1) = %.12f, want %.12f", v[0], -math.Sin(1))
	}
}

func TestRK4ConvergenceOrder(t *testing.T) {
	finalErr := func(h float64) float64 {
		r := newRK4(3, oscillator)
		q := []float64{1, 0, 0}
		v := []float64{0, 0, 0}
		n := int(math.Round(1 / h))
		for i := 0; i < n; i++ {
			if err := r.step(float64(i)*h, q, v, h); err != nil {
				t.Fatal(err)
			}
		}
		return math.Abs(q[0] - math.Cos(1))
	}
	e1 := finalErr(0.1)
	e2 := finalErr(0.05)
	ratio := e1 / e2
	// Fourth order: halving h divides the global error by ~16.
	if ratio < 8 || ratio > 32 {
		t.Fatalf("error ratio %f not consistent with 4th order", ratio)
	}
}

func TestRK4NonFiniteIsFatal(t *testing.T) {
	blowUp := func(t float64, q, v, qDot, vDot []float64) {
		copy(qDot, v)
		vDot[0] = math.NaN()
	}
	r := newRK4(3, blowUp)
	q := []float64{1, 0, 0}
	v := []float64{0, 0, 0}
	if err := r.step(0, q, v, 0.1); err != ErrNonFinite {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
}

func TestRK45AcceptReject(t *testing.T) {
	r := newRK45(3, oscillator)
	q := []float64{1, 0, 0}
	v := []float64{0, 0, 0}
	// A huge step against a tight tolerance must be rejected without
	// advancing the state.
	ok, errEst, factor, err := r.attempt(0, q, v, 1.0, 1e-12, false)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("1s step at 1e-12 tolerance should be rejected")
	}
	if errEst <= 1e-12 {
		t.Fatalf("error estimate %g suspiciously small", errEst)
	}
	if factor != 0.5 {
		t.Fatalf("rejected step factor = %f, want the 0.5 clamp", factor)
	}
	if q[0] != 1 || v[0] != 0 {
		t.Fatal("rejected step must not advance the state")
	}
	// A small step is accepted and advances.
	ok, _, _, err = r.attempt(0, q, v, 0.001, 1e-9, false)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("1ms step at 1e-9 tolerance should be accepted")
	}
	if !scalar.EqualWithinAbs(q[0], math.Cos(0.001), 1e-10) {
		t.Fatalf("q after accepted step = %.12f", q[0])
	}
}

func TestRK45ZeroErrorFactor(t *testing.T) {
	// Constant dynamics: both embedded solutions coincide, e = 0, and the
	// growth factor must be the fixed 1.5.
	constant := func(t float64, q, v, qDot, vDot []float64) {
		copy(qDot, v)
		for i := range vDot {
			vDot[i] = 0
		}
	}
	r := newRK45(3, constant)
	q := []float64{0, 0, 0}
	v := []float64{1, 0, 0}
	ok, errEst, factor, err := r.attempt(0, q, v, 0.1, 1e-9, false)
	if err != nil || !ok {
		t.Fatalf("constant dynamics must accept: ok=%v err=%v", ok, err)
	}
	if errEst != 0 {
		t.Fatalf("constant dynamics error estimate = %g", errEst)
	}
	if factor != 1.5 {
		t.Fatalf("zero-error factor = %f, want 1.5", factor)
	}
	if !scalar.EqualWithinAbs(q[0], 0.1, 1e-14) {
		t.Fatalf("q = %f", q[0])
	}
}

func TestRK45ForceAccept(t *testing.T) {
	r := newRK45(3, oscillator)
	q := []float64{1, 0, 0}
	v := []float64{0, 0, 0}
	ok, _, _, err := r.attempt(0, q, v, 1.0, 1e-12, true)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("forced attempt must accept")
	}
	if q[0] == 1 {
		t.Fatal("forced attempt must advance the state")
	}
}

func TestRK45NonFiniteIsFatal(t *testing.T) {
	blowUp := func(t float64, q, v, qDot, vDot []float64) {
		copy(qDot, v)
		vDot[0] = math.Inf(1)
	}
	r := newRK45(3, blowUp)
	q := []float64{1, 0, 0}
	v := []float64{0, 0, 0}
	if _, _, _, err := r.attempt(0, q, v, 0.1, 1e-6, false); err != ErrNonFinite {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
}
