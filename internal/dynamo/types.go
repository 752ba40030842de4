package dynamo

import (
	"fmt"
	"math"
)

// ControllerMode selects the control law.
type ControllerMode string

const (
	ModeP  ControllerMode = "p"
	ModePD ControllerMode = "pd"
)

func (m ControllerMode) Valid() bool { return m == ModeP || m == ModePD }

// PlantPolicy selects how the output voltage is advanced each tick.
type PlantPolicy string

const (
	// DirectSettle: the output settles to input voltage plus control.
	DirectSettle PlantPolicy = "direct_settle"
	// Incremental: the output integrates control and disturbance over dt.
	Incremental PlantPolicy = "incremental"
)

func (p PlantPolicy) Valid() bool { return p == DirectSettle || p == Incremental }

// TripMode selects the protection policy.
type TripMode string

const (
	TripInstantaneous TripMode = "instantaneous"
	TripEnergy        TripMode = "energy"
)

func (m TripMode) Valid() bool { return m == TripInstantaneous || m == TripEnergy }

// ResetBaseline selects the output voltage restored by a reset.
type ResetBaseline string

const (
	BaselineReference ResetBaseline = "reference"
	BaselineInput     ResetBaseline = "input"
)

func (b ResetBaseline) Valid() bool { return b == BaselineReference || b == BaselineInput }

type GainKind int

const (
	Proportional GainKind = iota
	Derivative
)

func (k GainKind) String() string {
	switch k {
	case Proportional:
		return "kp"
	case Derivative:
		return "kd"
	default:
		return fmt.Sprintf("gain(%d)", int(k))
	}
}

// ParseGainKind accepts "kp"/"kd" and the long names.
func ParseGainKind(s string) (GainKind, error) {
	switch s {
	case "kp", "p", "proportional":
		return Proportional, nil
	case "kd", "d", "derivative":
		return Derivative, nil
	}
	return 0, fmt.Errorf("%w: gain %q", ErrUnknownKind, s)
}

type DisturbanceKind int

const (
	Inductive DisturbanceKind = iota
	Electromagnetic
)

// DisturbanceKinds lists every kind in consumption order.
var DisturbanceKinds = []DisturbanceKind{Inductive, Electromagnetic}

func (k DisturbanceKind) String() string {
	switch k {
	case Inductive:
		return "inductive"
	case Electromagnetic:
		return "electromagnetic"
	default:
		return fmt.Sprintf("disturbance(%d)", int(k))
	}
}

func (k DisturbanceKind) Valid() bool { return k == Inductive || k == Electromagnetic }

func ParseDisturbanceKind(s string) (DisturbanceKind, error) {
	switch s {
	case "inductive", "ind", "i":
		return Inductive, nil
	case "electromagnetic", "em", "e":
		return Electromagnetic, nil
	}
	return 0, fmt.Errorf("%w: disturbance %q", ErrUnknownKind, s)
}

// TripReason says why protection disconnected the output.
type TripReason int

const (
	NoTrip TripReason = iota
	FuseBlown
	ControllerFailure
)

func (r TripReason) String() string {
	switch r {
	case NoTrip:
		return "none"
	case FuseBlown:
		return "fuse_blown"
	case ControllerFailure:
		return "controller_failure"
	default:
		return "unknown"
	}
}

// FaultStatus is the externally visible latch state. The zero value is Normal.
type FaultStatus struct {
	Reason TripReason
}

func (f FaultStatus) Tripped() bool { return f.Reason != NoTrip }

func (f FaultStatus) String() string {
	if !f.Tripped() {
		return "normal"
	}
	return "tripped(" + f.Reason.String() + ")"
}

// Disturbance holds the magnitudes consumed by a single tick.
type Disturbance struct {
	Inductive       float64
	Electromagnetic float64
}

func (d Disturbance) Total() float64 { return d.Inductive + d.Electromagnetic }

// State is the plant state owned by the tick.
type State struct {
	Tick        uint64
	Output      float64
	PrevError   float64
	FaultEnergy float64
}

// Elapsed returns logical time for the state's tick count.
func (s State) Elapsed(dt float64) float64 { return float64(s.Tick) * dt }

// Sample is one history record. Immutable once appended.
type Sample struct {
	Tick            uint64  `json:"tick"`
	T               float64 `json:"t"`
	Reference       float64 `json:"reference"`
	Measured        float64 `json:"measured"`
	Error           float64 `json:"error"`
	P               float64 `json:"p"`
	D               float64 `json:"d"`
	Control         float64 `json:"control"`
	Output          float64 `json:"output"`
	Inductive       float64 `json:"inductive"`
	Electromagnetic float64 `json:"electromagnetic"`
	FaultEnergy     float64 `json:"fault_energy"`
	Faulted         bool    `json:"faulted"`
}

// Window selects a suffix of history. Count wins when both are set;
// the zero Window selects everything.
type Window struct {
	Seconds float64
	Count   int
}

func LastSeconds(s float64) Window { return Window{Seconds: s} }
func LastCount(n int) Window { return Window{Count: n} }

func IsFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
