package planarsim

import (
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
)

func TestEnergyOf(t *testing.T) {
	bodies := []Body{
		{ID: "ball", Shape: Shape{Kind: Circle, R: 0.1}, Mass: 2},
	}
	q := []float64{0, 5, 0}
	v := []float64{3, -4, 1}
	g := Vec2{0, -9.8}
	e := EnergyOf(bodies, q, v, g)
	inertia := bodies[0].InertiaOrDefault() // ½mr² = 0.01
	wantEk := 0.5*2*25 + 0.5*inertia*1
	wantEp := 2 * 9.8 * 5
	if !scalar.EqualWithinAbs(e.Ek, wantEk, 1e-12) {
		t.Fatalf("Ek = %f, want %f", e.Ek, wantEk)
	}
	if !scalar.EqualWithinAbs(e.Ep, wantEp, 1e-12) {
		t.Fatalf("Ep = %f, want %f", e.Ep, wantEp)
	}
	if !scalar.EqualWithinAbs(e.Em, wantEk+wantEp, 1e-12) {
		t.Fatalf("Em = %f", e.Em)
	}
}

func TestEnergyPotentialSignMirrored(t *testing.T) {
	// |g_y| keeps "above the origin" positive in both orientations.
	bodies := []Body{{ID: "p", Shape: Shape{Kind: Point}, Mass: 1}}
	q := []float64{0, 2, 0}
	v := []float64{0, 0, 0}
	up := EnergyOf(bodies, q, v, Vec2{0, -9.8})
	down := EnergyOf(bodies, q, v, Vec2{0, 9.8})
	if up.Ep != down.Ep {
		t.Fatalf("Ep differs across axis orientation: %f vs %f", up.Ep, down.Ep)
	}
	if up.Ep <= 0 {
		t.Fatalf("Ep above the origin must be positive, got %f", up.Ep)
	}
}

func TestLinearMomentum(t *testing.T) {
	bodies := []Body{
		{ID: "a", Shape: Shape{Kind: Point}, Mass: 2},
		{ID: "b", Shape: Shape{Kind: Point}, Mass: 3},
	}
	v := []float64{1, 0, 0, -1, 2, 0}
	p := LinearMomentum(bodies, v)
	if !scalar.EqualWithinAbs(p.X, 2-3, 1e-14) || !scalar.EqualWithinAbs(p.Y, 6, 1e-14) {
		t.Fatalf("P = %+v", p)
	}
}

func TestAngularMomentum(t *testing.T) {
	bodies := []Body{{ID: "a", Shape: Shape{Kind: Circle, R: 1}, Mass: 2, Inertia: 1}}
	q := []float64{1, 0, 0}
	v := []float64{0, 3, 0.5}
	// L = Iω + m (r × v) = 0.5 + 2·(1·3 − 0·0) = 6.5
	l := AngularMomentum(bodies, q, v)
	if !scalar.EqualWithinAbs(l, 6.5, 1e-14) {
		t.Fatalf("L = %f", l)
	}
}

func TestEnergyNoBodies(t *testing.T) {
	e := EnergyOf(nil, nil, nil, Vec2{0, -9.8})
	if e.Ek != 0 || e.Ep != 0 || e.Em != 0 {
		t.Fatalf("empty state energy = %+v", e)
	}
}
