package watcher

import (
	"github.com/kodek/doorguard/common"
	"github.com/kodek/doorguard/watcher/car"
	"github.com/kodek/doorguard/watcher/flespi"
	"github.com/pkg/errors"
)

// Provider is a telematics backend: it lists devices, reports their telemetry and
// accepts commands.
type Provider interface {
	car.Roster
	Fetcher
	CommandSink
}

// NewProvider connects to the provider named in the configuration.
func NewProvider(conf common.Configuration) (Provider, error) {
	w := conf.Watcher
	switch w.Provider {
	case common.ProviderFlespi:
		return flespi.NewClient(w.Flespi.BaseUrl, w.Flespi.Token, w.Flespi.DeviceSelector), nil
	case common.ProviderTesla:
		c, err := car.DialTesla(w.TeslaAuth, w.Signals)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, errors.Errorf("unknown provider %q", w.Provider)
}

// NewSource picks how telemetry reaches the sessions: pushed over MQTT when
// enabled for flespi, polled from p otherwise.
func NewSource(conf common.Configuration, p Fetcher, r Resolver) (Source, error) {
	w := conf.Watcher
	if w.Provider == common.ProviderFlespi && w.Flespi.Mqtt.Enabled {
		src, err := flespi.NewMQTTSource(w.Flespi.Mqtt.Broker, w.Flespi.Token, w.Flespi.Mqtt.ClientId, r)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return NewPollingSource(p, r, w.Cadence()), nil
}
