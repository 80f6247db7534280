package car

import "fmt"

// Device is a telemetry device (a tracker box or a car) as known to the provider.
type Device struct {
	// ID is the provider's own identifier, used in API paths.
	ID int64 `json:"id"`
	// Ident is the stable identity users refer to the device by (IMEI or VIN).
	Ident  string `json:"ident"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

func (d Device) String() string {
	if d.Name == "" {
		return d.Ident
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Ident)
}
