package planarsim

// EventAction defines what the driver does when a predicate crosses zero.
type EventAction uint8

const (
	// ActionResolveContact applies a contact impulse to the declared body.
	ActionResolveContact EventAction = iota + 1
	// ActionSwitchPhase records the crossing and continues without touching state.
	ActionSwitchPhase
	// ActionStop records the crossing and ends the simulation.
	ActionStop
	// ActionCustom records the crossing with the declared payload and continues.
	ActionCustom
)

func (a EventAction) String() string {
	switch a {
	case ActionResolveContact:
		return "resolve_contact"
	case ActionSwitchPhase:
		return "switch_phase"
	case ActionStop:
		return "stop"
	case ActionCustom:
		return "custom"
	}
	panic("cannot stringify unknown event action")
}

// PredicateFunc is a compiled scalar event function g(t; q, v) whose sign
// change marks an event of interest. The core treats it as opaque.
type PredicateFunc func(t float64, q, v []float64) float64

// EventPredicate pairs a predicate with its declared action. Body and Surface
// are only consulted for resolve_contact.
type EventPredicate struct {
	ID      string
	G       PredicateFunc
	Action  EventAction
	Body    string
	Surface string
	Payload map[string]interface{}
}

// GravityDerivative compiles the standard constant-gravity dynamics for the
// declared bodies: q̇ = v, linear acceleration = g, no angular acceleration.
// Contracts with richer dynamics (constraint forces, drag) supply their own
// DerivativeFunc.
func GravityDerivative(c *Contract) DerivativeFunc {
	g := c.World.Gravity
	return func(t float64, q, v, qDot, vDot []float64) {
		copy(qDot, v)
		for i := 0; i < len(vDot)/3; i++ {
			vDot[3*i+0] = g.X
			vDot[3*i+1] = g.Y
			vDot[3*i+2] = 0
		}
	}
}

// supportOffset returns the distance from a body center to its lowest point
// along the direction opposite the surface normal.
func supportOffset(s Shape, n Vec2) float64 {
	switch s.Kind {
	case Circle:
		return s.R
	case Box:
		// Axis-aligned support extent projected on the normal.
		return s.HalfW*abs(n.X) + s.HalfH*abs(n.Y)
	case Point:
		return 0
	}
	panic("unknown shape kind")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// PlaneGapPredicate compiles the signed distance from the body support point
// to the surface plane: positive when clear, negative when penetrating.
func PlaneGapPredicate(c *Contract, bodyID, surfaceID string) PredicateFunc {
	idx, ok := c.BodyIndex(bodyID)
	if !ok {
		panic("plane gap predicate references unknown body " + bodyID)
	}
	surf, ok := c.SurfaceByID(surfaceID)
	if !ok {
		panic("plane gap predicate references unknown surface " + surfaceID)
	}
	shape := c.Bodies[idx].Shape
	p, n := surf.Point, surf.Normal
	off := supportOffset(shape, n)
	return func(t float64, q, v []float64) float64 {
		center := Vec2{q[3*idx], q[3*idx+1]}
		return center.Sub(p).Dot(n) - off
	}
}

// NormalVelocityPredicate compiles the body center velocity component along
// the surface normal. Its zero crossing marks the turnaround of an approach.
func NormalVelocityPredicate(c *Contract, bodyID, surfaceID string) PredicateFunc {
	idx, ok := c.BodyIndex(bodyID)
	if !ok {
		panic("normal velocity predicate references unknown body " + bodyID)
	}
	surf, ok := c.SurfaceByID(surfaceID)
	if !ok {
		panic("normal velocity predicate references unknown surface " + surfaceID)
	}
	n := surf.Normal
	return func(t float64, q, v []float64) float64 {
		return Vec2{v[3*idx], v[3*idx+1]}.Dot(n)
	}
}

// SeparationPredicate compiles the center distance of two bodies minus the
// declared clearance (e.g. the sum of their radii).
func SeparationPredicate(c *Contract, aID, bID string, clearance float64) PredicateFunc {
	ai, ok := c.BodyIndex(aID)
	if !ok {
		panic("separation predicate references unknown body " + aID)
	}
	bi, ok := c.BodyIndex(bID)
	if !ok {
		panic("separation predicate references unknown body " + bID)
	}
	return func(t float64, q, v []float64) float64 {
		d := Vec2{q[3*ai] - q[3*bi], q[3*ai+1] - q[3*bi+1]}
		return d.Norm() - clearance
	}
}
