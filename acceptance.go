package planarsim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// AssertionKind enumerates the four declared assertion families.
type AssertionKind uint8

const (
	// KindEventTime asserts the first matching event falls in a time window.
	KindEventTime AssertionKind = iota + 1
	// KindConservation asserts a bounded relative drift of a conserved quantity.
	KindConservation
	// KindShape asserts a least-squares model fit of a time series.
	KindShape
	// KindRatio asserts a normalized expression over trace quantities equals 1.
	KindRatio
)

func (k AssertionKind) String() string {
	switch k {
	case KindEventTime:
		return "event_time"
	case KindConservation:
		return "conservation"
	case KindShape:
		return "shape"
	case KindRatio:
		return "ratio"
	}
	panic("cannot stringify unknown assertion kind")
}

// ConservedQuantity selects what a conservation assertion tracks.
type ConservedQuantity uint8

const (
	// QuantityEnergy tracks total mechanical energy.
	QuantityEnergy ConservedQuantity = iota + 1
	// QuantityMomentum tracks the magnitude of total linear momentum.
	QuantityMomentum
	// QuantityAngularMomentum tracks total angular momentum about the origin.
	QuantityAngularMomentum
)

func (q ConservedQuantity) String() string {
	switch q {
	case QuantityEnergy:
		return "energy"
	case QuantityMomentum:
		return "momentum"
	case QuantityAngularMomentum:
		return "angular_momentum"
	}
	panic("cannot stringify unknown conserved quantity")
}

// ShapeSource selects the time series a shape assertion fits.
type ShapeSource uint8

const (
	// OfTrajectory fits the vertical position y(t).
	OfTrajectory ShapeSource = iota + 1
	// OfVelocity fits the vertical velocity vy(t).
	OfVelocity
)

func (s ShapeSource) String() string {
	switch s {
	case OfTrajectory:
		return "trajectory"
	case OfVelocity:
		return "velocity"
	}
	panic("cannot stringify unknown shape source")
}

// ShapePattern enumerates the fit models.
type ShapePattern uint8

const (
	// PatternParabola fits a t² + b t + c.
	PatternParabola ShapePattern = iota + 1
	// PatternLinear fits a t + b.
	PatternLinear
	// PatternExponential fits A e^{kt} through a log-linear fit.
	PatternExponential
	// PatternMonotonic scores directional consistency.
	PatternMonotonic
	// PatternSinglePeak scores rise-then-fall consistency.
	PatternSinglePeak
	// PatternOscillating scores repeated mean crossings.
	PatternOscillating
)

func (p ShapePattern) String() string {
	switch p {
	case PatternParabola:
		return "parabola"
	case PatternLinear:
		return "linear"
	case PatternExponential:
		return "exponential"
	case PatternMonotonic:
		return "monotonic"
	case PatternSinglePeak:
		return "single_peak"
	case PatternOscillating:
		return "oscillating"
	}
	panic("cannot stringify unknown shape pattern")
}

// Assertion is one declared acceptance test. Only the fields of its kind are
// consulted.
type Assertion struct {
	ID   string
	Kind AssertionKind

	// event_time
	Event  string
	Window [2]float64

	// conservation
	Quantity ConservedQuantity
	Drift    float64

	// shape
	Of      ShapeSource
	Body    string // defaults to the first declared body
	Pattern ShapePattern
	R2Min   float64 // zero means the contract default

	// ratio
	Expr string

	Tol float64
}

// AssertionResult is the outcome of one executed assertion.
type AssertionResult struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	Passed    bool                   `json:"passed"`
	Score     float64                `json:"score"`
	Actual    float64                `json:"actualValue"`
	Expected  float64                `json:"expectedValue"`
	Tolerance float64                `json:"tolerance"`
	Error     float64                `json:"error"`
	Message   string                 `json:"message"`
	HardError bool                   `json:"hardError,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Summary aggregates the per-assertion outcomes.
type Summary struct {
	Total        int     `json:"total"`
	Passed       int     `json:"passed"`
	Failed       int     `json:"failed"`
	PassRate     float64 `json:"passRate"`
	AverageScore float64 `json:"averageScore"`
}

// Report is the acceptance verdict over one trace.
type Report struct {
	Success      bool              `json:"success"`
	OverallScore float64           `json:"overallScore"`
	PerAssertion []AssertionResult `json:"perAssertion"`
	Summary      Summary           `json:"summary"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// passRateThreshold is the minimum pass rate for overall success; a single
// hard error also vetoes success.
const passRateThreshold = 0.8

// RunAcceptance executes every declared assertion against the trace and
// aggregates a score. It never panics on bad data: an assertion that cannot
// execute becomes a hard error on that assertion and the others continue.
func RunAcceptance(c *Contract, res *Result) *Report {
	rep := &Report{}
	if len(c.Assertions) == 0 {
		rep.Success = true
		rep.OverallScore = 1.0
		rep.Warnings = append(rep.Warnings, "no acceptance assertions declared")
		rep.Summary = Summary{PassRate: 1, AverageScore: 1}
		return rep
	}

	hardErrors := 0
	var totalScore float64
	for _, a := range c.Assertions {
		r := runAssertion(c, res, a)
		rep.PerAssertion = append(rep.PerAssertion, r)
		if r.HardError {
			hardErrors++
		}
		if r.Passed {
			rep.Summary.Passed++
		} else {
			rep.Summary.Failed++
		}
		totalScore += r.Score
	}
	rep.Summary.Total = len(c.Assertions)
	rep.Summary.PassRate = float64(rep.Summary.Passed) / float64(rep.Summary.Total)
	rep.Summary.AverageScore = totalScore / float64(rep.Summary.Total)
	rep.OverallScore = rep.Summary.AverageScore
	rep.Success = rep.Summary.PassRate >= passRateThreshold && hardErrors == 0
	return rep
}

func runAssertion(c *Contract, res *Result, a Assertion) AssertionResult {
	r := AssertionResult{ID: a.ID, Kind: a.Kind.String()}
	tr := &res.Trace
	if len(tr.Samples) == 0 {
		return hardError(r, "trace has no samples")
	}
	switch a.Kind {
	case KindEventTime:
		return runEventTime(tr, a, r)
	case KindConservation:
		return runConservation(c, tr, a, r)
	case KindShape:
		return runShape(c, tr, a, r)
	case KindRatio:
		return runRatio(c, tr, a, r)
	}
	return hardError(r, fmt.Sprintf("unknown assertion kind %d", a.Kind))
}

func hardError(r AssertionResult, msg string) AssertionResult {
	r.HardError = true
	r.Passed = false
	r.Score = 0
	r.Message = msg
	return r
}

func runEventTime(tr *Trace, a Assertion, r AssertionResult) AssertionResult {
	lo, hi := a.Window[0], a.Window[1]
	r.Expected = 0.5 * (lo + hi)
	r.Tolerance = hi - lo
	ev, found := tr.FirstEvent(a.Event)
	if !found {
		r.Passed = false
		r.Score = 0
		r.Error = 1
		r.Message = fmt.Sprintf("event %q was never recorded", a.Event)
		return r
	}
	r.Actual = ev.T
	width := hi - lo
	if width <= 0 {
		return hardError(r, fmt.Sprintf("degenerate window [%g, %g]", lo, hi))
	}
	switch {
	case ev.T < lo:
		r.Error = (ev.T - lo) / width
	case ev.T > hi:
		r.Error = (ev.T - hi) / width
	default:
		r.Error = 0
	}
	r.Passed = r.Error == 0
	r.Score = math.Max(0, 1-math.Abs(r.Error))
	if r.Passed {
		r.Message = fmt.Sprintf("event %q at t=%.6f inside [%g, %g]", a.Event, ev.T, lo, hi)
	} else {
		r.Message = fmt.Sprintf("event %q at t=%.6f outside [%g, %g]", a.Event, ev.T, lo, hi)
	}
	return r
}

func runConservation(c *Contract, tr *Trace, a Assertion, r AssertionResult) AssertionResult {
	if tr.Stats.Truncated {
		return hardError(r, "trace truncated, final state missing")
	}
	first, last := tr.First(), tr.Last()
	var drift float64
	const floor = 1e-12
	switch a.Quantity {
	case QuantityEnergy:
		e0, e1 := first.Energy.Em, last.Energy.Em
		drift = math.Abs(e1-e0) / math.Max(math.Abs(e0), floor)
	case QuantityMomentum:
		p0 := momentumAt(c, first)
		p1 := momentumAt(c, last)
		drift = math.Abs(p1-p0) / math.Max(p0, floor)
	case QuantityAngularMomentum:
		l0 := angularAt(c, first)
		l1 := angularAt(c, last)
		drift = math.Abs(l1-l0) / math.Max(math.Abs(l0), floor)
	default:
		return hardError(r, "unknown conserved quantity")
	}
	r.Actual = drift
	r.Expected = 0
	r.Tolerance = a.Drift
	r.Error = drift
	if a.Drift <= 0 {
		return hardError(r, "conservation bound must be positive")
	}
	r.Passed = drift <= a.Drift
	r.Score = math.Max(0, 1-drift/a.Drift)
	r.Message = fmt.Sprintf("%s drift %.3e against bound %g", a.Quantity, drift, a.Drift)
	r.Detail = map[string]interface{}{"quantity": a.Quantity.String()}
	return r
}

func momentumAt(c *Contract, s Sample) float64 {
	var p Vec2
	for i, b := range c.Bodies {
		p.X += b.Mass * s.Bodies[i].VX
		p.Y += b.Mass * s.Bodies[i].VY
	}
	return p.Norm()
}

func angularAt(c *Contract, s Sample) float64 {
	var l float64
	for i, b := range c.Bodies {
		bs := s.Bodies[i]
		l += b.InertiaOrDefault()*bs.Omega + b.Mass*(bs.X*bs.VY-bs.Y*bs.VX)
	}
	return l
}

func runShape(c *Contract, tr *Trace, a Assertion, r AssertionResult) AssertionResult {
	if tr.Stats.Truncated {
		return hardError(r, "trace truncated, series incomplete")
	}
	idx := 0
	if a.Body != "" {
		var ok bool
		idx, ok = c.BodyIndex(a.Body)
		if !ok {
			return hardError(r, fmt.Sprintf("unknown body %q", a.Body))
		}
	} else if len(c.Bodies) == 0 {
		return hardError(r, "shape assertion on a contract with no bodies")
	}
	n := len(tr.Samples)
	if n < 3 {
		return hardError(r, fmt.Sprintf("series too short (%d samples)", n))
	}
	ts := make([]float64, n)
	ys := make([]float64, n)
	for i, s := range tr.Samples {
		ts[i] = s.T
		switch a.Of {
		case OfTrajectory:
			ys[i] = s.Bodies[idx].Y
		case OfVelocity:
			ys[i] = s.Bodies[idx].VY
		default:
			return hardError(r, "unknown shape source")
		}
	}

	r2min := a.R2Min
	if r2min == 0 {
		r2min = c.Tolerances.R2Min
	}
	r2, detail, err := fitPattern(a.Pattern, ts, ys)
	if err != nil {
		return hardError(r, err.Error())
	}
	r.Actual = r2
	r.Expected = r2min
	r.Tolerance = a.Tol
	r.Error = math.Max(0, r2min-r2)
	r.Passed = r2 >= r2min
	r.Score = r2
	r.Detail = detail
	r.Message = fmt.Sprintf("%s of %s fit %s with R²=%.6f (min %g)", a.Of, c.Bodies[idx].ID, a.Pattern, r2, r2min)
	return r
}

// fitPattern returns an R²-like goodness of fit in [0, 1] for the model.
func fitPattern(p ShapePattern, ts, ys []float64) (float64, map[string]interface{}, error) {
	switch p {
	case PatternParabola:
		return polyFit(ts, ys, 2)
	case PatternLinear:
		return polyFit(ts, ys, 1)
	case PatternExponential:
		return expFit(ts, ys)
	case PatternMonotonic:
		return monotonicScore(ys)
	case PatternSinglePeak:
		return singlePeakScore(ys)
	case PatternOscillating:
		return oscillationScore(ys)
	}
	return 0, nil, fmt.Errorf("unknown shape pattern %d", p)
}

// polyFit solves the least-squares polynomial of the given degree through QR
// and reports R² of the estimates.
func polyFit(ts, ys []float64, degree int) (float64, map[string]interface{}, error) {
	n := len(ts)
	cols := degree + 1
	x := mat.NewDense(n, cols, nil)
	for i, t := range ts {
		pw := 1.0
		for j := cols - 1; j >= 0; j-- {
			x.Set(i, j, pw)
			pw *= t
		}
	}
	var qr mat.QR
	qr.Factorize(x)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, mat.NewVecDense(n, ys)); err != nil {
		return 0, nil, fmt.Errorf("least squares solve failed: %v", err)
	}
	est := make([]float64, n)
	for i, t := range ts {
		pw := 1.0
		for j := cols - 1; j >= 0; j-- {
			est[i] += beta.AtVec(j) * pw
			pw *= t
		}
	}
	r2 := rSquared(est, ys)
	coeffs := make([]float64, cols)
	for j := range coeffs {
		coeffs[j] = beta.AtVec(j)
	}
	return r2, map[string]interface{}{"coefficients": coeffs, "degree": degree}, nil
}

// expFit fits A e^{kt} by a log-linear least squares; all values must share a
// sign and be bounded away from zero.
func expFit(ts, ys []float64) (float64, map[string]interface{}, error) {
	sign := Sign(ys[0])
	logs := make([]float64, len(ys))
	for i, y := range ys {
		if y*sign <= 1e-300 {
			return 0, nil, fmt.Errorf("exponential fit needs same-sign values, got %g at index %d", y, i)
		}
		logs[i] = math.Log(y * sign)
	}
	alpha, betaK := stat.LinearRegression(ts, logs, nil, false)
	est := make([]float64, len(ys))
	for i, t := range ts {
		est[i] = sign * math.Exp(alpha+betaK*t)
	}
	r2 := rSquared(est, ys)
	return r2, map[string]interface{}{"rate": betaK, "scale": sign * math.Exp(alpha)}, nil
}

func monotonicScore(ys []float64) (float64, map[string]interface{}, error) {
	if len(ys) < 2 {
		return 0, nil, fmt.Errorf("series too short for monotonicity")
	}
	up, down := 0, 0
	for i := 1; i < len(ys); i++ {
		switch {
		case ys[i] > ys[i-1]:
			up++
		case ys[i] < ys[i-1]:
			down++
		}
	}
	total := len(ys) - 1
	score := float64(maxInt(up, down)+total-up-down) / float64(total)
	dir := "increasing"
	if down > up {
		dir = "decreasing"
	}
	return score, map[string]interface{}{"direction": dir}, nil
}

func singlePeakScore(ys []float64) (float64, map[string]interface{}, error) {
	if len(ys) < 3 {
		return 0, nil, fmt.Errorf("series too short for a peak")
	}
	peak := 0
	for i, y := range ys {
		if y > ys[peak] {
			peak = i
		}
	}
	good, total := 0, len(ys)-1
	for i := 1; i < len(ys); i++ {
		if i <= peak && ys[i] >= ys[i-1] || i > peak && ys[i] <= ys[i-1] {
			good++
		}
	}
	return float64(good) / float64(total), map[string]interface{}{"peakIndex": peak}, nil
}

func oscillationScore(ys []float64) (float64, map[string]interface{}, error) {
	if len(ys) < 4 {
		return 0, nil, fmt.Errorf("series too short for oscillation")
	}
	mean := stat.Mean(ys, nil)
	crossings := 0
	prev := Sign(ys[0] - mean)
	for _, y := range ys[1:] {
		s := Sign(y - mean)
		if s != prev {
			crossings++
			prev = s
		}
	}
	// Two mean crossings make half a cycle; saturate at three.
	score := math.Min(1, float64(crossings)/3)
	return score, map[string]interface{}{"meanCrossings": crossings}, nil
}

func rSquared(est, ys []float64) float64 {
	mean := stat.Mean(ys, nil)
	var ssRes, ssTot float64
	for i := range ys {
		ssRes += (ys[i] - est[i]) * (ys[i] - est[i])
		ssTot += (ys[i] - mean) * (ys[i] - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return math.Max(0, 1-ssRes/ssTot)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func runRatio(c *Contract, tr *Trace, a Assertion, r AssertionResult) AssertionResult {
	if tr.Stats.Truncated {
		return hardError(r, "trace truncated, final quantities missing")
	}
	if a.Tol <= 0 {
		return hardError(r, "ratio tolerance must be positive")
	}
	vars := traceQuantities(c, tr)
	actual, err := evalExpr(a.Expr, vars)
	if err != nil {
		return hardError(r, err.Error())
	}
	r.Actual = actual
	r.Expected = 1
	r.Tolerance = a.Tol
	r.Error = math.Abs(actual - 1)
	r.Passed = r.Error <= a.Tol
	r.Score = math.Max(0, 1-r.Error/a.Tol)
	r.Message = fmt.Sprintf("%s = %.6f (expected 1 ± %g)", a.Expr, actual, a.Tol)
	return r
}

// traceQuantities builds the named quantities a ratio expression may
// reference: per-body initial/final pose and velocity components plus the
// global energies and momenta.
func traceQuantities(c *Contract, tr *Trace) map[string]float64 {
	first, last := tr.First(), tr.Last()
	vars := map[string]float64{
		"t_final":                  last.T,
		"ek_initial":               first.Energy.Ek,
		"ek_final":                 last.Energy.Ek,
		"ep_initial":               first.Energy.Ep,
		"ep_final":                 last.Energy.Ep,
		"em_initial":               first.Energy.Em,
		"em_final":                 last.Energy.Em,
		"momentum_initial":         momentumAt(c, first),
		"momentum_final":           momentumAt(c, last),
		"angular_momentum_initial": angularAt(c, first),
		"angular_momentum_final":   angularAt(c, last),
	}
	for i, b := range c.Bodies {
		f, l := first.Bodies[i], last.Bodies[i]
		vars[b.ID+".x_initial"] = f.X
		vars[b.ID+".y_initial"] = f.Y
		vars[b.ID+".theta_initial"] = f.Theta
		vars[b.ID+".vx_initial"] = f.VX
		vars[b.ID+".vy_initial"] = f.VY
		vars[b.ID+".omega_initial"] = f.Omega
		vars[b.ID+".speed_initial"] = math.Hypot(f.VX, f.VY)
		vars[b.ID+".x_final"] = l.X
		vars[b.ID+".y_final"] = l.Y
		vars[b.ID+".theta_final"] = l.Theta
		vars[b.ID+".vx_final"] = l.VX
		vars[b.ID+".vy_final"] = l.VY
		vars[b.ID+".omega_final"] = l.Omega
		vars[b.ID+".speed_final"] = math.Hypot(l.VX, l.VY)
	}
	return vars
}
