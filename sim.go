package planarsim

import (
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	kitlog "github.com/go-kit/kit/log"
)

// timeFuzz is the time comparison slack used by the driver when deciding
// whether two instants coincide.
const timeFuzz = 1e-12

// SimLogInit initializes a logfmt logger tagged with the run name.
func SimLogInit(name string) kitlog.Logger {
	klog := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stdout))
	return kitlog.With(klog, "sim", name)
}

type nopLogger struct{}

func (nopLogger) Log(...interface{}) error { return nil }

// Result is what a simulation always returns: whatever trace was produced,
// the accumulated warnings, and at most one fatal.
type Result struct {
	Trace    Trace
	Warnings []string
	Fatal    error
}

// Option configures a Sim at construction.
type Option func(*Sim)

// WithLogger sets the run logger. The default discards everything.
func WithLogger(l kitlog.Logger) Option {
	return func(s *Sim) { s.logger = l }
}

// WithExport streams every recorded sample to the export sink while the
// simulation runs. The files are finalized when Run returns.
func WithExport(conf ExportConfig) Option {
	return func(s *Sim) { s.export = &conf }
}

// Sim owns one simulation: the frozen contract, the integrator state and the
// trace under construction. It is single-threaded and synchronous; concurrent
// scenes each get their own Sim.
type Sim struct {
	contract Contract
	logger   kitlog.Logger
	export   *ExportConfig

	fixed *rk4
	adapt *rk45

	t    float64
	q, v []float64
	h    float64

	// trial and probe scratch, reused across iterations
	tq, tv []float64
	eq, ev []float64

	trace    Trace
	warnings []string

	histChan chan Sample
	histWG   sync.WaitGroup
}

// NewSim validates the contract and builds a simulator. The contract is
// captured by value; the caller's copy is never read again.
func NewSim(c Contract, opts ...Option) (*Sim, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	n := c.DOF()
	if c.Derivative == nil {
		c.Derivative = GravityDerivative(&c)
	}
	s := &Sim{
		contract: c,
		logger:   nopLogger{},
		fixed:    newRK4(n, c.Derivative),
		tq:       make([]float64, n),
		tv:       make([]float64, n),
		eq:       make([]float64, n),
		ev:       make([]float64, n),
	}
	if c.Solver.Type == RK45 {
		s.adapt = newRK45(n, c.Derivative)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sim) warn(msg string) {
	s.warnings = append(s.warnings, msg)
	s.logger.Log("level", "warning", "subsys", "sim", "t", s.t, "message", msg)
}

// pushSample records the current state. An event landing exactly on the
// previous sample time (e.g. a contact at t=0) replaces that sample so post-
// event state stays observable without breaking strict time monotonicity.
func (s *Sim) pushSample() {
	smp := Sample{
		T:      s.t,
		Bodies: make([]BodyState, len(s.contract.Bodies)),
		Energy: EnergyOf(s.contract.Bodies, s.q, s.v, s.contract.World.Gravity),
	}
	for i := range s.contract.Bodies {
		smp.Bodies[i] = BodyState{
			X: s.q[3*i], Y: s.q[3*i+1], Theta: s.q[3*i+2],
			VX: s.v[3*i], VY: s.v[3*i+1], Omega: s.v[3*i+2],
		}
	}
	if n := len(s.trace.Samples); n > 0 && smp.T <= s.trace.Samples[n-1].T+timeFuzz {
		s.trace.Samples[n-1] = smp
	} else {
		s.trace.Samples = append(s.trace.Samples, smp)
	}
	if s.histChan != nil {
		s.histChan <- smp
	}
}

// tryStep integrates one trial step of size h from (t, q, v) into the trial
// scratch. For RK45 the step may be rejected; RK4 always accepts.
func (s *Sim) tryStep(h float64, force bool) (ok bool, factor float64, err error) {
	copy(s.tq, s.q)
	copy(s.tv, s.v)
	if s.contract.Solver.Type == RK4 {
		if err = s.fixed.step(s.t, s.tq, s.tv, h); err != nil {
			return false, 0, err
		}
		return true, 0, nil
	}
	ok, _, factor, err = s.adapt.attempt(s.t, s.tq, s.tv, h, s.contract.Solver.Tol, force)
	return ok, factor, err
}

// probeAt integrates a throwaway copy of the step-start state to tc and
// evaluates the predicate there. Used by the event root-finder.
func (s *Sim) probeAt(g PredicateFunc, tc float64) float64 {
	copy(s.eq, s.q)
	copy(s.ev, s.v)
	Δ := tc - s.t
	if Δ > timeFuzz {
		n := int(math.Ceil(Δ / s.contract.Solver.H0))
		if n < 1 {
			n = 1
		}
		hh := Δ / float64(n)
		tt := s.t
		for i := 0; i < n; i++ {
			if err := s.fixed.step(tt, s.eq, s.ev, hh); err != nil {
				return math.NaN()
			}
			tt += hh
		}
	}
	return g(tc, s.eq, s.ev)
}

// integrateTo advances (q, v) in place exactly to target, per the solver's
// sub-stepping rule: equal RK4 sub-steps of at most h0, or adaptive RK45 steps
// whose last step is force-accepted to land on target.
func (s *Sim) integrateTo(target float64) error {
	Δ := target - s.t
	if Δ <= timeFuzz {
		if target > s.t {
			s.t = target
		}
		return nil
	}
	if s.contract.Solver.Type == RK4 {
		n := int(math.Ceil(Δ / s.contract.Solver.H0))
		if n < 1 {
			n = 1
		}
		hh := Δ / float64(n)
		for i := 0; i < n; i++ {
			if err := s.fixed.step(s.t, s.q, s.v, hh); err != nil {
				return err
			}
			s.t += hh
		}
		s.t = target
		return nil
	}
	hh := math.Min(Δ, s.h)
	for target-s.t > timeFuzz {
		rem := target - s.t
		step := math.Min(hh, rem)
		if step < 1e-15 {
			return ErrStepTooSmall
		}
		force := step >= rem-timeFuzz
		ok, _, factor, err := s.adapt.attempt(s.t, s.q, s.v, step, s.contract.Solver.Tol, force)
		if err != nil {
			return err
		}
		if !ok {
			s.trace.Stats.Rejects++
			hh = math.Max(step/2, s.contract.Solver.HMin)
			if step <= s.contract.Solver.HMin*(1+timeFuzz) {
				// Pinned at hMin: land anyway rather than spin.
				force = true
				ok, _, _, err = s.adapt.attempt(s.t, s.q, s.v, step, s.contract.Solver.Tol, true)
				if err != nil {
					return err
				}
				s.warn("event sub-integration pinned at hMin")
			} else {
				continue
			}
		}
		s.t += step
		hh = clamp(step*factor, s.contract.Solver.HMin, s.contract.Solver.HMax)
	}
	s.t = target
	return nil
}

// eventHit is one predicate whose crossing was located inside the step.
type eventHit struct {
	idx      int
	tStar    float64
	residual float64
}

// scanEvents brackets every predicate over [t, t+h] using the step-start state
// and the trial end state, refines each genuine crossing, and returns the hits
// at the earliest crossing time: smallest |g| first, declaration order on ties.
func (s *Sim) scanEvents(h float64) []eventHit {
	if len(s.contract.Events) == 0 {
		return nil
	}
	tol := s.contract.Tolerances.EventTimeSec
	t1 := s.t + h
	var hits []eventHit
	for i, ev := range s.contract.Events {
		g0 := ev.G(s.t, s.q, s.v)
		g1 := ev.G(t1, s.tq, s.tv)
		if math.IsNaN(g0) || math.IsNaN(g1) {
			continue
		}
		// A genuine sign change starts clear of zero; a grazing zero at the
		// step start is not an event.
		if g0*g1 > 0 || math.Abs(g0) <= tol {
			continue
		}
		g := ev.G
		res, err := FindRoot(func(tc float64) float64 { return s.probeAt(g, tc) }, s.t, t1, tol, AutoRoot)
		if err != nil {
			continue
		}
		if !res.Converged {
			res.T = 0.5 * (s.t + t1)
			s.warn(fmt.Sprintf("root finder did not converge for %s, firing at interval midpoint", ev.ID))
		}
		// Secant iterates may leave the bracket; the crossing is only
		// meaningful inside this step.
		res.T = clamp(res.T, s.t, t1)
		hits = append(hits, eventHit{idx: i, tStar: res.T, residual: res.Residual})
	}
	if len(hits) == 0 {
		return nil
	}
	earliest := hits[0].tStar
	for _, hit := range hits[1:] {
		if hit.tStar < earliest {
			earliest = hit.tStar
		}
	}
	tied := hits[:0]
	for _, hit := range hits {
		if hit.tStar <= earliest+tol {
			tied = append(tied, hit)
		}
	}
	sort.SliceStable(tied, func(a, b int) bool {
		if tied[a].residual != tied[b].residual {
			return tied[a].residual < tied[b].residual
		}
		return tied[a].idx < tied[b].idx
	})
	return tied
}

// applyAction dispatches on the event action tag, mutating v only for
// resolve_contact. Returns whether the run should stop, and any fatal.
func (s *Sim) applyAction(hit eventHit) (stop bool, err error) {
	ev := s.contract.Events[hit.idx]
	rec := Event{ID: ev.ID, T: hit.tStar}
	switch ev.Action {
	case ActionResolveContact:
		idx, _ := s.contract.BodyIndex(ev.Body)
		surf, _ := s.contract.SurfaceByID(ev.Surface)
		body := &s.contract.Bodies[idx]
		cb := ContactBody{
			Mass:    body.Mass,
			Inertia: body.InertiaOrDefault(),
			Pos:     Vec2{s.q[3*idx], s.q[3*idx+1]},
			Vel:     Vec2{s.v[3*idx], s.v[3*idx+1]},
			Omega:   s.v[3*idx+2],
			Theta:   s.q[3*idx+2],
		}
		cpt := cb.Pos.Sub(surf.Normal.Scale(supportOffset(body.Shape, surf.Normal)))
		mat := s.contract.ContactMaterial(body, surf)
		imp, cerr := ResolveContact(&cb, cpt, surf.Normal, mat, s.contract.Tolerances)
		if cerr != nil {
			return false, cerr
		}
		for _, w := range imp.Warnings {
			s.warn(fmt.Sprintf("%s: %s", ev.ID, w))
		}
		s.v[3*idx] = cb.Vel.X
		s.v[3*idx+1] = cb.Vel.Y
		s.v[3*idx+2] = cb.Omega
		rec.Info = EventInfo{Impulse: imp.J, Normal: surf.Normal, Regime: imp.Regime, Dissipated: imp.Dissipated}
		s.logger.Log("level", "info", "subsys", "sim", "event", ev.ID, "t", hit.tStar,
			"action", ev.Action, "regime", imp.Regime, "dissipated(J)", imp.Dissipated)
	case ActionSwitchPhase, ActionCustom:
		rec.Info = EventInfo{Payload: ev.Payload}
		s.logger.Log("level", "info", "subsys", "sim", "event", ev.ID, "t", hit.tStar, "action", ev.Action)
	case ActionStop:
		rec.Info = EventInfo{Payload: ev.Payload}
		s.logger.Log("level", "notice", "subsys", "sim", "event", ev.ID, "t", hit.tStar, "action", ev.Action)
		stop = true
	default:
		panic("unknown event action")
	}
	s.trace.Events = append(s.trace.Events, rec)
	return stop, nil
}

// Run executes the simulation to t_end (or to a stop event, or to a fatal) and
// returns the trace, the warnings and at most one fatal. Run may only be
// called once per Sim.
func (s *Sim) Run() *Result {
	c := &s.contract
	s.q, s.v = c.InitialState()
	s.t = 0
	s.h = clamp(c.Solver.H0, c.Solver.HMin, c.Solver.HMax)

	if s.export != nil {
		s.histChan = make(chan Sample, 1000)
		s.histWG.Add(1)
		go func() {
			defer s.histWG.Done()
			StreamSamples(*s.export, s.histChan)
		}()
	}

	s.logger.Log("level", "info", "subsys", "sim", "status", "starting",
		"solver", c.Solver.Type, "bodies", len(c.Bodies), "tEnd", c.TEnd, "h0", c.Solver.H0)

	wallStart := time.Now()
	s.pushSample()
	var fatal error
	hMinWarned := false

	// A scene with no bodies has nothing to integrate.
	if len(c.Bodies) == 0 {
		s.t = c.TEnd
	}

loop:
	for s.t < c.TEnd-timeFuzz {
		hStep := math.Min(s.h, c.TEnd-s.t)
		ok, factor, err := s.tryStep(hStep, false)
		if err != nil {
			fatal = err
			s.trace.Stats.Truncated = true
			break
		}
		if !ok {
			s.trace.Stats.Rejects++
			if hStep <= c.Solver.HMin*(1+timeFuzz) || hStep < 1e-15 {
				if !hMinWarned {
					s.warn("error tolerance not met at hMin, continuing at hMin")
					hMinWarned = true
				}
				ok, _, err = s.tryStep(hStep, true)
				if err != nil {
					fatal = err
					s.trace.Stats.Truncated = true
					break
				}
			} else {
				s.h = math.Max(hStep/2, c.Solver.HMin)
				continue
			}
		}

		if hits := s.scanEvents(hStep); len(hits) != 0 {
			if err := s.integrateTo(hits[0].tStar); err != nil {
				fatal = err
				s.trace.Stats.Truncated = true
				break
			}
			stop := false
			for _, hit := range hits {
				st, aerr := s.applyAction(hit)
				if aerr != nil {
					fatal = aerr
					s.trace.Stats.Truncated = true
					break loop
				}
				stop = stop || st
			}
			s.pushSample()
			if stop {
				break
			}
			continue
		}

		// Ordinary accepted step.
		copy(s.q, s.tq)
		copy(s.v, s.tv)
		s.t += hStep
		s.trace.Stats.Steps++
		s.pushSample()
		if c.Solver.Type == RK45 {
			s.h = clamp(hStep*factor, c.Solver.HMin, c.Solver.HMax)
		} else {
			s.h = clamp(s.h*1.01, c.Solver.HMin, c.Solver.HMax)
		}
	}

	s.trace.Stats.CPUms = float64(time.Since(wallStart).Microseconds()) / 1000
	s.trace.Stats.FinalH = s.h
	if s.histChan != nil {
		close(s.histChan)
		s.histWG.Wait()
	}

	status := "finished"
	if fatal != nil {
		status = "truncated"
		s.logger.Log("level", "critical", "subsys", "sim", "status", status, "error", fatal)
	} else {
		s.logger.Log("level", "notice", "subsys", "sim", "status", status,
			"t", s.t, "steps", s.trace.Stats.Steps, "rejects", s.trace.Stats.Rejects,
			"events", len(s.trace.Events), "wall(ms)", s.trace.Stats.CPUms)
	}
	return &Result{Trace: s.trace, Warnings: s.warnings, Fatal: fatal}
}
