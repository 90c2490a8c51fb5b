package planarsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats/scalar"
)

func TestEvalExprArithmetic(t *testing.T) {
	vars := map[string]float64{"a": 6, "b": 2, "ball.vy_final": -4.9}
	for _, tc := range []struct {
		expr string
		want float64
	}{
		{"a / b", 3},
		{"a - b * 2", 2},
		{"(a - b) * 2", 8},
		{"-a + 8", 2},
		{"a / (b + 1)", 2},
		{"abs(ball.vy_final)", 4.9},
		{"sqrt(a * a)", 6},
		{"1.5e1 / a", 2.5},
	} {
		got, err := evalExpr(tc.expr, vars)
		if err != nil {
			t.Fatalf("%s: %v", tc.expr, err)
		}
		if !scalar.EqualWithinAbs(got, tc.want, 1e-12) {
			t.Fatalf("%s = %f, want %f", tc.expr, got, tc.want)
		}
	}
}

func TestEvalExprErrors(t *testing.T) {
	vars := map[string]float64{"a": 1}
	for _, expr := range []string{
		"a / 0",
		"missing_quantity",
		"a +",
		"(a",
		"foo(a)",
		"sqrt(-1 * 4)",
		"a ) b",
	} {
		_, err := evalExpr(expr, vars)
		assert.Error(t, err, "expr %q", expr)
	}
}
