package car

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/kodek/doorguard/common"
	"github.com/kodek/doorguard/watcher/clock"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/kodek/tesla"
	"github.com/pkg/errors"
)

// Tesla command names accepted by TeslaClient.SendCommand.
const (
	TeslaDoorLock    = "door_lock"
	TeslaDoorUnlock  = "door_unlock"
	TeslaHonkHorn    = "honk_horn"
	TeslaFlashLights = "flash_lights"
	TeslaWakeUp      = "wake_up"
)

// TeslaClient serves a Tesla account as a telemetry provider: its vehicles are the
// roster, vehicle data is the telemetry and the vehicle commands are the sink.
// Devices are identified by VIN.
type TeslaClient struct {
	tc         *tesla.Client
	names      rules.SignalNames
	clock      clock.Clock
	vehicles   sync.Map
	vehicleMux sync.Mutex
}

// NewTeslaBlockingClient wraps a tesla.Client.
func NewTeslaBlockingClient(tc *tesla.Client, names rules.SignalNames) (*TeslaClient, error) {
	return &TeslaClient{
		tc:    tc,
		names: names.WithDefaults(),
		clock: clock.NewReal(),
	}, nil
}

// DialTesla logs into the Tesla account of auth and serves it as a provider.
func DialTesla(auth common.TeslaAuth, names rules.SignalNames) (*TeslaClient, error) {
	if auth.Username == "" || auth.Password == "" {
		return nil, errors.New("Tesla username and password are required")
	}
	glog.Infof("Logging into Tesla as %s", auth.Username)
	tc, err := tesla.NewClient(teslaAuth(auth))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot log into Tesla as %s", auth.Username)
	}
	return NewTeslaBlockingClient(tc, names)
}

func teslaAuth(auth common.TeslaAuth) *tesla.Auth {
	return &tesla.Auth{
		ClientID:     auth.ClientId,
		ClientSecret: auth.ClientSecret,
		Email:        auth.Username,
		Password:     auth.Password,
	}
}

func (c *TeslaClient) Devices(ctx context.Context) ([]Device, error) {
	vehicles, err := c.tc.Vehicles()
	if err != nil {
		return nil, errors.Wrap(err, "cannot list Tesla vehicles")
	}
	var out []Device
	for i := range vehicles {
		v := vehicles[i].Vehicle
		if v == nil {
			glog.Errorf("Vehicle at index %d is null! This is unexpected.", i)
			continue
		}
		c.vehicles.Store(v.Vin, v)
		out = append(out, Device{
			ID:     int64(v.ID),
			Ident:  v.Vin,
			Name:   v.DisplayName,
			Online: v.State != nil && *v.State == "online",
		})
	}
	return out, nil
}

// Latest fetches the current vehicle data. It does not wake a sleeping car.
func (c *TeslaClient) Latest(ctx context.Context, d Device) (rules.TelemetryRecord, error) {
	vehicle, err := c.getVehicle(d.Ident)
	if err != nil {
		return rules.TelemetryRecord{}, err
	}

	vehicleData, err := vehicle.VehicleData()
	if err != nil {
		return rules.TelemetryRecord{}, errors.Wrapf(err, "cannot fetch vehicle data for %s", d.Ident)
	}
	return NewRecord(vehicleData, c.names, c.clock.Now()), nil
}

// SendCommand runs a vehicle command. Properties are ignored; Tesla door commands
// take none.
func (c *TeslaClient) SendCommand(ctx context.Context, d Device, name string, properties map[string]interface{}) error {
	vehicle, err := c.getVehicle(d.Ident)
	if err != nil {
		return err
	}
	switch name {
	case TeslaDoorLock:
		err = vehicle.LockDoors()
	case TeslaDoorUnlock:
		err = vehicle.UnlockDoors()
	case TeslaHonkHorn:
		err = vehicle.HonkHorn()
	case TeslaFlashLights:
		err = vehicle.FlashLights()
	case TeslaWakeUp:
		_, err = vehicle.Wakeup()
	default:
		return errors.Errorf("unsupported Tesla command %q", name)
	}
	return errors.Wrapf(err, "command %s failed for %s", name, d.Ident)
}

// Memoizes the tesla.Vehicle lookup on success.
func (c *TeslaClient) getVehicle(vin string) (*tesla.Vehicle, error) {
	c.vehicleMux.Lock()
	defer c.vehicleMux.Unlock()

	val, ok := c.vehicles.Load(vin)
	if ok {
		return val.(*tesla.Vehicle), nil
	}

	// It's not there.
	if err := c.updateVehicleCache(); err != nil {
		return nil, err
	}

	val, ok = c.vehicles.Load(vin)
	if ok {
		return val.(*tesla.Vehicle), nil
	}

	// It's still not there, so it must be missing from the account.
	return nil, errors.Errorf("No car found with vin %s in Tesla account!", vin)
}

func (c *TeslaClient) updateVehicleCache() error {
	vehicles, err := c.tc.Vehicles()
	if err != nil {
		return errors.Wrap(err, "cannot list Tesla vehicles")
	}

	for i := range vehicles {
		var v = vehicles[i].Vehicle
		if v == nil {
			continue
		}
		c.vehicles.Store(v.Vin, v)
		glog.Infof("Found car with VIN %s.", v.Vin)
	}
	return nil
}
