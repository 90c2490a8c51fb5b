package planarsim

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// outputDir returns the export directory, overridable through the
// PLANARSIM_OUTPUT environment variable.
func outputDir() string {
	if dir := os.Getenv("PLANARSIM_OUTPUT"); dir != "" {
		return dir
	}
	return "."
}

// The on-disk contract document. Field names are normative for downstream
// layers; the core only ever sees the converted Contract.
type contractDoc struct {
	World struct {
		Coord     string             `mapstructure:"coord"`
		Gravity   []float64          `mapstructure:"gravity"`
		Constants map[string]float64 `mapstructure:"constants"`
		AngleUnit string             `mapstructure:"angle_unit"`
	} `mapstructure:"world"`
	Bodies []struct {
		ID    string `mapstructure:"id"`
		Kind  string `mapstructure:"kind"`
		Shape struct {
			Type   string  `mapstructure:"type"`
			Radius float64 `mapstructure:"radius"`
			HalfW  float64 `mapstructure:"half_w"`
			HalfH  float64 `mapstructure:"half_h"`
		} `mapstructure:"shape"`
		Mass     float64            `mapstructure:"mass"`
		Inertia  float64            `mapstructure:"inertia"`
		Init     map[string]float64 `mapstructure:"init"`
		Material *materialDoc       `mapstructure:"material"`
		Contacts []string           `mapstructure:"contacts"`
	} `mapstructure:"bodies"`
	Surfaces []struct {
		ID       string       `mapstructure:"id"`
		Type     string       `mapstructure:"type"`
		Point    []float64    `mapstructure:"point"`
		Normal   []float64    `mapstructure:"normal"`
		Material *materialDoc `mapstructure:"material"`
	} `mapstructure:"surfaces"`
	ExpectedEvents []struct {
		Name       string    `mapstructure:"name"`
		Type       string    `mapstructure:"type"`
		Body       string    `mapstructure:"body"`
		Surface    string    `mapstructure:"surface"`
		TimeWindow []float64 `mapstructure:"time_window"`
	} `mapstructure:"expected_events"`
	AcceptanceTests []assertionDoc     `mapstructure:"acceptance_tests"`
	Tolerances      map[string]float64 `mapstructure:"tolerances"`
	Solver          struct {
		Type string  `mapstructure:"type"`
		H0   float64 `mapstructure:"h0"`
		HMin float64 `mapstructure:"hMin"`
		HMax float64 `mapstructure:"hMax"`
		Tol  float64 `mapstructure:"tol"`
	} `mapstructure:"solver"`
	TEnd float64 `mapstructure:"t_end"`
}

type materialDoc struct {
	Restitution float64 `mapstructure:"restitution"`
	MuS         float64 `mapstructure:"mu_s"`
	MuK         float64 `mapstructure:"mu_k"`
}

type assertionDoc struct {
	Name     string    `mapstructure:"name"`
	Kind     string    `mapstructure:"kind"`
	Event    string    `mapstructure:"event"`
	Window   []float64 `mapstructure:"window"`
	Quantity string    `mapstructure:"quantity"`
	Drift    float64   `mapstructure:"drift"`
	Of       string    `mapstructure:"of"`
	Body     string    `mapstructure:"body"`
	Pattern  string    `mapstructure:"pattern"`
	R2Min    float64   `mapstructure:"r2_min"`
	Expr     string    `mapstructure:"expr"`
	Tol      float64   `mapstructure:"tol"`
}

// LoadContract reads a JSON or TOML contract document and converts it to the
// in-memory representation: defaults applied, surface normals normalized,
// degree angles converted at ingest, and the declarative dynamics and event
// predicates compiled. Richer dynamics can still be injected on the returned
// Contract before NewSim.
func LoadContract(path string) (*Contract, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%s: %s", path, err)
	}
	var doc contractDoc
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("%s: %s", path, err)
	}
	return compileContract(&doc)
}

func compileContract(doc *contractDoc) (*Contract, error) {
	c := &Contract{TEnd: doc.TEnd}

	switch doc.World.Coord {
	case "y_up", "":
		c.World.Coord = YUp
	case "y_down":
		c.World.Coord = YDown
	default:
		return nil, ConfigError{"world.coord", "unknown orientation " + doc.World.Coord}
	}
	if len(doc.World.Gravity) == 2 {
		c.World.Gravity = Vec2{doc.World.Gravity[0], doc.World.Gravity[1]}
	} else if len(doc.World.Gravity) != 0 {
		return nil, ConfigError{"world.gravity", "must be [gx, gy]"}
	}
	c.World.Constants = doc.World.Constants

	degrees := doc.World.AngleUnit == "deg"

	for i, b := range doc.Bodies {
		body := Body{ID: b.ID, Kind: b.Kind, Mass: b.Mass, Inertia: b.Inertia, Contacts: b.Contacts}
		switch strings.ToLower(b.Shape.Type) {
		case "circle", "ball":
			body.Shape = Shape{Kind: Circle, R: b.Shape.Radius}
		case "box":
			body.Shape = Shape{Kind: Box, HalfW: b.Shape.HalfW, HalfH: b.Shape.HalfH}
		case "point", "":
			body.Shape = Shape{Kind: Point}
		default:
			return nil, ConfigError{fmt.Sprintf("bodies[%d].shape.type", i), "unknown shape " + b.Shape.Type}
		}
		body.Init = BodyState{
			X: b.Init["x"], Y: b.Init["y"], Theta: b.Init["theta"],
			VX: b.Init["vx"], VY: b.Init["vy"], Omega: b.Init["omega"],
		}
		if degrees {
			body.Init.Theta *= deg2rad
			body.Init.Omega *= deg2rad
		}
		if b.Material != nil {
			body.Material = Material{Restitution: b.Material.Restitution, MuS: b.Material.MuS, MuK: b.Material.MuK}
		}
		c.Bodies = append(c.Bodies, body)
	}

	for i, s := range doc.Surfaces {
		if s.Type != "" && s.Type != "plane" {
			return nil, ConfigError{fmt.Sprintf("surfaces[%d].type", i), "only plane surfaces are supported"}
		}
		if len(s.Point) != 2 || len(s.Normal) != 2 {
			return nil, ConfigError{fmt.Sprintf("surfaces[%d]", i), "point and normal must be [x, y]"}
		}
		surf := Surface{
			ID:     s.ID,
			Point:  Vec2{s.Point[0], s.Point[1]},
			Normal: Vec2{s.Normal[0], s.Normal[1]},
		}
		if s.Material != nil {
			surf.Material = &Material{Restitution: s.Material.Restitution, MuS: s.Material.MuS, MuK: s.Material.MuK}
		}
		// Normalize here, not just in Validate: the compiled predicates
		// capture the normal by value.
		if surf.Normal.Norm() > 0 {
			surf.Normal = surf.Normal.Unit()
		}
		c.Surfaces = append(c.Surfaces, surf)
	}

	c.Tolerances = DefaultTolerances()
	if t, ok := doc.Tolerances["r2_min"]; ok {
		c.Tolerances.R2Min = t
	}
	if t, ok := doc.Tolerances["rel_err"]; ok {
		c.Tolerances.RelErr = t
	}
	if t, ok := doc.Tolerances["event_time_sec"]; ok {
		c.Tolerances.EventTimeSec = t
	}
	if t, ok := doc.Tolerances["energy_drift_rel"]; ok {
		c.Tolerances.EnergyDriftRel = t
	}
	if t, ok := doc.Tolerances["v_eps"]; ok {
		c.Tolerances.VEps = t
	}
	if t, ok := doc.Tolerances["impulse_min"]; ok {
		c.Tolerances.ImpulseMin = t
	}

	switch strings.ToLower(doc.Solver.Type) {
	case "rk4":
		c.Solver.Type = RK4
	case "rk45":
		c.Solver.Type = RK45
	case "":
		return nil, ConfigError{"solver.type", "missing"}
	default:
		return nil, ConfigError{"solver.type", "unknown solver " + doc.Solver.Type}
	}
	c.Solver.H0 = doc.Solver.H0
	c.Solver.HMin = doc.Solver.HMin
	c.Solver.HMax = doc.Solver.HMax
	c.Solver.Tol = doc.Solver.Tol

	// The declarative path gets constant-gravity dynamics; richer contracts
	// replace Derivative before NewSim.
	c.Derivative = GravityDerivative(c)

	for i, ev := range doc.ExpectedEvents {
		pred := EventPredicate{ID: ev.Name, Body: ev.Body, Surface: ev.Surface}
		switch ev.Type {
		case "contact":
			pred.Action = ActionResolveContact
			pred.G = PlaneGapPredicate(c, ev.Body, ev.Surface)
		case "separation":
			pred.Action = ActionSwitchPhase
			pred.G = PlaneGapPredicate(c, ev.Body, ev.Surface)
		case "velocity_zero":
			pred.Action = ActionSwitchPhase
			pred.G = NormalVelocityPredicate(c, ev.Body, ev.Surface)
		default:
			return nil, ConfigError{fmt.Sprintf("expected_events[%d].type", i), "unknown event type " + ev.Type}
		}
		c.Events = append(c.Events, pred)
	}

	for i, a := range doc.AcceptanceTests {
		as := Assertion{ID: a.Name, Event: a.Event, Drift: a.Drift, Body: a.Body, R2Min: a.R2Min, Expr: a.Expr, Tol: a.Tol}
		if as.ID == "" {
			as.ID = fmt.Sprintf("assertion_%d", i)
		}
		switch a.Kind {
		case "event_time":
			as.Kind = KindEventTime
			if len(a.Window) != 2 {
				return nil, ConfigError{fmt.Sprintf("acceptance_tests[%d].window", i), "must be [lo, hi]"}
			}
			as.Window = [2]float64{a.Window[0], a.Window[1]}
		case "conservation":
			as.Kind = KindConservation
			switch a.Quantity {
			case "energy":
				as.Quantity = QuantityEnergy
			case "momentum":
				as.Quantity = QuantityMomentum
			case "angular_momentum":
				as.Quantity = QuantityAngularMomentum
			default:
				return nil, ConfigError{fmt.Sprintf("acceptance_tests[%d].quantity", i), "unknown quantity " + a.Quantity}
			}
		case "shape":
			as.Kind = KindShape
			switch a.Of {
			case "trajectory", "":
				as.Of = OfTrajectory
			case "velocity":
				as.Of = OfVelocity
			default:
				return nil, ConfigError{fmt.Sprintf("acceptance_tests[%d].of", i), "unknown series " + a.Of}
			}
			switch a.Pattern {
			case "parabola":
				as.Pattern = PatternParabola
			case "linear":
				as.Pattern = PatternLinear
			case "exponential":
				as.Pattern = PatternExponential
			case "monotonic":
				as.Pattern = PatternMonotonic
			case "single_peak":
				as.Pattern = PatternSinglePeak
			case "oscillating":
				as.Pattern = PatternOscillating
			default:
				return nil, ConfigError{fmt.Sprintf("acceptance_tests[%d].pattern", i), "unknown pattern " + a.Pattern}
			}
		case "ratio":
			as.Kind = KindRatio
		default:
			return nil, ConfigError{fmt.Sprintf("acceptance_tests[%d].kind", i), "unknown assertion kind " + a.Kind}
		}
		c.Assertions = append(c.Assertions, as)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
