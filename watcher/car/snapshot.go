package car

import (
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/golang/glog"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/kodek/tesla"
)

// Extra signal names produced for Tesla vehicles besides the door signals.
const (
	SignalLatitude     = "position.latitude"
	SignalLongitude    = "position.longitude"
	SignalShiftState   = "vehicle.shift.state"
	SignalBatteryLevel = "battery.level"
	SignalOdometer     = "vehicle.mileage"
	SignalWakeState    = "vehicle.state"
)

// NewRecord converts a Tesla vehicle data response into a telemetry record whose
// door, ignition, speed and lock signals use the given names.
func NewRecord(vehicleData *tesla.VehicleData, names rules.SignalNames, now time.Time) rules.TelemetryRecord {
	glog.V(2).Infof("Parsing message: %s", spew.Sdump(vehicleData))
	names = names.WithDefaults()

	shiftState := vehicleData.DriveState.ShiftState
	vs := vehicleData.VehicleState
	signals := map[string]rules.Value{
		names.FrontLeftDoor:  rules.Bool(vs.Df != 0),
		names.FrontRightDoor: rules.Bool(vs.Pf != 0),
		names.RearLeftDoor:   rules.Bool(vs.Dr != 0),
		names.RearRightDoor:  rules.Bool(vs.Pr != 0),
		names.Trunk:          rules.Bool(vs.Rt != 0),
		names.Locked:         rules.Bool(vs.Locked),
		// A shift state is only reported while the car is powered on.
		names.Ignition:     rules.Bool(shiftState != ""),
		names.Speed:        rules.Number(float64(vehicleData.DriveState.Speed)),
		SignalLatitude:     rules.Number(vehicleData.DriveState.Latitude),
		SignalLongitude:    rules.Number(vehicleData.DriveState.Longitude),
		SignalShiftState:   rules.String(shiftState),
		SignalBatteryLevel: rules.Number(float64(vehicleData.ChargeState.BatteryLevel)),
		SignalOdometer:     rules.Number(vehicleData.VehicleState.Odometer),
		SignalWakeState:    rules.String(vehicleData.State),
	}
	return rules.NewRecord(vehicleData.Vin, now.UnixNano()/int64(time.Millisecond), signals)
}
