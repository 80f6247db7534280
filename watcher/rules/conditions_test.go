package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func toggleCondition(on *bool) []Condition {
	return []Condition{{
		Name:      "toggle",
		Predicate: func(VehicleState, TelemetryRecord) bool { return *on },
		Command:   "cmd",
	}}
}

func TestConditionFiresOncePerTrueInterval(t *testing.T) {
	on := true
	conds := toggleCondition(&on)
	trips := TripState{}

	total := 0
	for i := 0; i < 3; i++ {
		var fire []Trip
		fire, trips = Evaluate(conds, VehicleState{}, TelemetryRecord{}, trips)
		total += len(fire)
	}
	assert.Equal(t, 1, total)
	assert.True(t, trips["toggle"])
}

func TestConditionRearmsAfterFalse(t *testing.T) {
	on := true
	conds := toggleCondition(&on)
	trips := TripState{}

	var fired []Trip
	for _, v := range []bool{true, false, true} {
		on = v
		var fire []Trip
		fire, trips = Evaluate(conds, VehicleState{}, TelemetryRecord{}, trips)
		fired = append(fired, fire...)
	}
	assert.Equal(t, []Trip{{"toggle", "cmd"}, {"toggle", "cmd"}}, fired)
}

func TestEvaluateDoesNotMutateInput(t *testing.T) {
	on := true
	trips := TripState{}
	_, next := Evaluate(toggleCondition(&on), VehicleState{}, TelemetryRecord{}, trips)
	assert.Empty(t, trips)
	assert.True(t, next["toggle"])
}

func TestDefaultConditions(t *testing.T) {
	n := DefaultSignalNames()
	conds := DefaultConditions(n)

	tests := []struct {
		name    string
		state   VehicleState
		signals map[string]Value
		want    []string
	}{
		{
			name:    "closed after opening while idling",
			state:   VehicleState{DoorClosedAfterOpening: true},
			signals: map[string]Value{n.Ignition: Bool(true), n.Speed: Number(0)},
			want:    []string{AllDoorsCloseOnDrive},
		},
		{
			name:    "closed after opening while moving",
			state:   VehicleState{DoorClosedAfterOpening: true},
			signals: map[string]Value{n.Ignition: Bool(true), n.Speed: Number(12)},
		},
		{
			name:    "door open while idling",
			state:   VehicleState{Doors: DoorStatus{Trunk: true}},
			signals: map[string]Value{n.Ignition: Bool(true)},
			want:    []string{AnyDoorOpenWhileIdle},
		},
		{
			name:    "both engine-on conditions",
			state:   VehicleState{DoorClosedAfterOpening: true, Doors: DoorStatus{FrontLeft: true}},
			signals: map[string]Value{n.Ignition: Bool(true)},
			want:    []string{AllDoorsCloseOnDrive, AnyDoorOpenWhileIdle},
		},
		{
			name:    "quick close left unlocked",
			state:   VehicleState{DoorClosedWithinWindow: true},
			signals: map[string]Value{n.Ignition: Bool(false), n.Locked: Bool(false)},
			want:    []string{UnlockedAfterQuickClose},
		},
		{
			name:    "quick close already locked",
			state:   VehicleState{DoorClosedWithinWindow: true},
			signals: map[string]Value{n.Locked: Bool(true)},
		},
		{
			name:  "missing signals",
			state: VehicleState{},
		},
		{
			name:  "missing signals with quick close",
			state: VehicleState{DoorClosedWithinWindow: true},
			want:  []string{UnlockedAfterQuickClose},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fire, _ := Evaluate(conds, tc.state, NewRecord("x", 0, tc.signals), TripState{})
			var got []string
			for _, f := range fire {
				assert.Equal(t, CloseAllDoors, f.Command)
				got = append(got, f.Condition)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

// Door opened at t=0 and closed at t=10s with the engine idling: the drive
// condition fires exactly once while the state holds.
func TestCloseOnDriveScenario(t *testing.T) {
	n := DefaultSignalNames()
	tr := NewTracker(n, 0)
	conds := DefaultConditions(n)

	s := VehicleState{}
	trips := TripState{}
	fired := 0
	steps := []struct {
		ms   int64
		open bool
	}{
		{0, true},
		{10000, false},
		{15000, false},
		{20000, false},
	}
	for _, step := range steps {
		r := record(step.ms, doorSignals(true, step.open, 0))
		s = tr.Update(s, r, step.ms)
		var fire []Trip
		fire, trips = Evaluate(conds, s, r, trips)
		for _, f := range fire {
			if f.Condition == AllDoorsCloseOnDrive {
				fired++
			}
		}
	}
	assert.True(t, s.DoorClosedAfterOpening)
	assert.Equal(t, 1, fired)
}
