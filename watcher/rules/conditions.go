package rules

// CloseAllDoors is the logical command sent when a door condition trips.
const CloseAllDoors = "close-all-doors"

const (
	AllDoorsCloseOnDrive    = "all-doors-close-on-drive"
	AnyDoorOpenWhileIdle    = "any-door-open-while-idle"
	UnlockedAfterQuickClose = "unlocked-after-quick-close"
)

// Condition is a named predicate over the derived state that sends Command when
// it becomes true.
type Condition struct {
	Name      string
	Predicate func(VehicleState, TelemetryRecord) bool
	Command   string
}

// TripState remembers, per condition name, that a command was already sent during
// the current true-interval of that condition.
type TripState map[string]bool

func (t TripState) Clone() TripState {
	out := make(TripState, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Trip is a condition that fired and the command it wants sent.
type Trip struct {
	Condition string
	Command   string
}

// DefaultConditions returns the standing door conditions in evaluation order.
func DefaultConditions(signals SignalNames) []Condition {
	signals = signals.WithDefaults()
	return []Condition{
		{
			Name: AllDoorsCloseOnDrive,
			Predicate: func(s VehicleState, r TelemetryRecord) bool {
				in := signals.Extract(r)
				return in.EngineOn && in.Speed == 0 && s.DoorClosedAfterOpening
			},
			Command: CloseAllDoors,
		},
		{
			Name: AnyDoorOpenWhileIdle,
			Predicate: func(s VehicleState, r TelemetryRecord) bool {
				in := signals.Extract(r)
				return in.EngineOn && in.Speed == 0 && s.Doors.AnyOpen()
			},
			Command: CloseAllDoors,
		},
		{
			Name: UnlockedAfterQuickClose,
			Predicate: func(s VehicleState, r TelemetryRecord) bool {
				in := signals.Extract(r)
				return !in.EngineOn && in.Speed == 0 && s.DoorClosedWithinWindow && !in.DoorLocked
			},
			Command: CloseAllDoors,
		},
	}
}

// Evaluate runs every condition in order against the state. It returns the trips
// to dispatch now and the updated trip state; the input trip state is not modified.
func Evaluate(conditions []Condition, s VehicleState, r TelemetryRecord, trips TripState) ([]Trip, TripState) {
	next := trips.Clone()
	var fire []Trip
	for _, c := range conditions {
		if !c.Predicate(s, r) {
			next[c.Name] = false
			continue
		}
		if next[c.Name] {
			continue
		}
		fire = append(fire, Trip{Condition: c.Name, Command: c.Command})
		next[c.Name] = true
	}
	return fire, next
}
