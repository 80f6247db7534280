package common

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kodek/doorguard/watcher/rules"
	"github.com/pkg/errors"
)

const (
	ProviderFlespi = "flespi"
	ProviderTesla  = "tesla"

	DefaultCadenceMs      = 5000
	DefaultFlespiBaseUrl  = "https://flespi.io"
	DefaultFlespiBroker   = "wss://mqtt.flespi.io:443"
	DefaultFeedbackBuffer = 100
	redacted              = "<redacted>"
)

type Configuration struct {
	Watcher Watcher
}

type Watcher struct {
	Port     int
	Provider string
	Flespi   FlespiConfig
	// TeslaAuth is used when Provider is "tesla".
	TeslaAuth TeslaAuth
	Devices   []Device
	// CadenceMs is the telemetry poll and evaluation interval.
	CadenceMs int
	// DoorCloseWindowSeconds is the quick-close grace period.
	DoorCloseWindowSeconds int
	RosterPollSeconds      int
	FeedbackBuffer         int
	Signals                rules.SignalNames
	// Commands maps logical commands (e.g. "close-all-doors") to provider commands.
	Commands       map[string]string
	InfluxDbConfig InfluxDbConfig
	SqlitePath     string
	Pushover       PushoverConfig
}

type Device struct {
	Monitor bool
	Ident   string
}

type FlespiConfig struct {
	Token   string
	BaseUrl string
	// DeviceSelector narrows the roster, e.g. "telemetry.channel.id=1211469".
	DeviceSelector string
	Mqtt           MqttConfig
}

type MqttConfig struct {
	Enabled  bool
	Broker   string
	ClientId string
}

type TeslaAuth struct {
	ClientId     string
	ClientSecret string
	Username     string
	Password     string
}

type InfluxDbConfig struct {
	Address  string
	Username string
	Password string
	Database string
}

type PushoverConfig struct {
	Token string
	User  string
}

var configPath = flag.String("config", "", "The path to the config file")

func LoadConfig() Configuration {
	var path string
	if *configPath == "" {
		path = os.Getenv("HOME") + "/.doorguard_conf.json"
	} else {
		path = *configPath
	}

	f, err := os.Open(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	conf, err := ReadConfig(f)
	if err != nil {
		panic(err)
	}
	return conf
}

// ReadConfig decodes a JSON configuration and fills in defaults.
func ReadConfig(r io.Reader) (Configuration, error) {
	decoder := json.NewDecoder(r)
	conf := Configuration{}
	if err := decoder.Decode(&conf); err != nil {
		return conf, errors.Wrap(err, "cannot decode config")
	}
	conf.applyDefaults()
	return conf, nil
}

func (c *Configuration) applyDefaults() {
	w := &c.Watcher
	if w.Provider == "" {
		w.Provider = ProviderFlespi
	}
	if w.CadenceMs <= 0 {
		w.CadenceMs = DefaultCadenceMs
	}
	if w.DoorCloseWindowSeconds <= 0 {
		w.DoorCloseWindowSeconds = int(rules.DefaultDoorCloseWindow / time.Second)
	}
	if w.FeedbackBuffer <= 0 {
		w.FeedbackBuffer = DefaultFeedbackBuffer
	}
	if w.Flespi.BaseUrl == "" {
		w.Flespi.BaseUrl = DefaultFlespiBaseUrl
	}
	if w.Flespi.Mqtt.Broker == "" {
		w.Flespi.Mqtt.Broker = DefaultFlespiBroker
	}
	w.Signals = w.Signals.WithDefaults()
	if w.Commands == nil {
		w.Commands = make(map[string]string)
	}
	if _, ok := w.Commands[rules.CloseAllDoors]; !ok {
		switch w.Provider {
		case ProviderTesla:
			w.Commands[rules.CloseAllDoors] = "door_lock"
		default:
			w.Commands[rules.CloseAllDoors] = "lvcanclosealldoors"
		}
	}
}

// Validate reports configuration that would keep the watcher from starting.
func (c *Configuration) Validate() error {
	w := c.Watcher
	if w.Port == 0 {
		return errors.New("Port 0 currently not supported. Please set config.Watcher.Port to continue.")
	}
	switch w.Provider {
	case ProviderFlespi:
		if w.Flespi.Token == "" {
			return errors.New("config.Watcher.Flespi.Token is required for the flespi provider")
		}
	case ProviderTesla:
		if w.TeslaAuth.Username == "" || w.TeslaAuth.Password == "" {
			return errors.New("config.Watcher.TeslaAuth credentials are required for the tesla provider")
		}
	default:
		return errors.Errorf("unknown provider %q", w.Provider)
	}
	return nil
}

func (w *Watcher) Cadence() time.Duration {
	return time.Duration(w.CadenceMs) * time.Millisecond
}

func (w *Watcher) DoorCloseWindow() time.Duration {
	return time.Duration(w.DoorCloseWindowSeconds) * time.Second
}

func (w *Watcher) RosterPollInterval() time.Duration {
	return time.Duration(w.RosterPollSeconds) * time.Second
}

// ProviderCommand maps a logical command to the provider's command name. Unknown
// commands are passed through unchanged.
func (w *Watcher) ProviderCommand(logical string) string {
	if name, ok := w.Commands[logical]; ok {
		return name
	}
	return logical
}

// WriteRedacted writes the configuration as JSON with all secrets replaced.
func (c *Configuration) WriteRedacted(w io.Writer) {
	cp := *c
	hide := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	hide(&cp.Watcher.Flespi.Token)
	hide(&cp.Watcher.TeslaAuth.ClientSecret)
	hide(&cp.Watcher.TeslaAuth.Password)
	hide(&cp.Watcher.InfluxDbConfig.Password)
	hide(&cp.Watcher.Pushover.Token)
	hide(&cp.Watcher.Pushover.User)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cp); err != nil {
		fmt.Fprintf(w, "Cannot encode config: %s", err)
	}
}
