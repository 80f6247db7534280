package common

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigDefaults(t *testing.T) {
	conf, err := ReadConfig(strings.NewReader(`{"Watcher": {"Port": 8080, "Flespi": {"Token": "abc"}}}`))
	require.NoError(t, err)

	w := conf.Watcher
	assert.Equal(t, ProviderFlespi, w.Provider)
	assert.Equal(t, 5*time.Second, w.Cadence())
	assert.Equal(t, 7*time.Second, w.DoorCloseWindow())
	assert.Equal(t, "lvcanclosealldoors", w.ProviderCommand("close-all-doors"))
	assert.Equal(t, "custom", w.ProviderCommand("custom"))
	assert.Equal(t, "engine.ignition.status", w.Signals.Ignition)
	assert.NoError(t, conf.Validate())
}

func TestReadConfigTesla(t *testing.T) {
	conf, err := ReadConfig(strings.NewReader(`{"Watcher": {
		"Port": 1, "Provider": "tesla", "CadenceMs": 1000,
		"TeslaAuth": {"Username": "u", "Password": "p"},
		"Signals": {"Ignition": "ignition"}
	}}`))
	require.NoError(t, err)
	assert.Equal(t, "door_lock", conf.Watcher.ProviderCommand("close-all-doors"))
	assert.Equal(t, time.Second, conf.Watcher.Cadence())
	assert.Equal(t, "ignition", conf.Watcher.Signals.Ignition)
	assert.Equal(t, "can.vehicle.speed", conf.Watcher.Signals.Speed)
	assert.NoError(t, conf.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		json string
		ok   bool
	}{
		{`{"Watcher": {"Flespi": {"Token": "abc"}}}`, false},
		{`{"Watcher": {"Port": 1}}`, false},
		{`{"Watcher": {"Port": 1, "Provider": "tesla"}}`, false},
		{`{"Watcher": {"Port": 1, "Provider": "other"}}`, false},
		{`{"Watcher": {"Port": 1, "Flespi": {"Token": "abc"}}}`, true},
	}
	for _, tc := range tests {
		conf, err := ReadConfig(strings.NewReader(tc.json))
		require.NoError(t, err)
		if err := conf.Validate(); (err == nil) != tc.ok {
			t.Errorf("Validate(%s) = %v, expected ok=%t", tc.json, err, tc.ok)
		}
	}
}

func TestWriteRedacted(t *testing.T) {
	conf, err := ReadConfig(strings.NewReader(`{"Watcher": {
		"Flespi": {"Token": "flespi-secret"},
		"Pushover": {"Token": "push-secret", "User": "push-user"},
		"InfluxDbConfig": {"Address": "http://influx:8086", "Password": "influx-secret"}
	}}`))
	require.NoError(t, err)

	var buf bytes.Buffer
	conf.WriteRedacted(&buf)
	out := buf.String()
	for _, secret := range []string{"flespi-secret", "push-secret", "push-user", "influx-secret"} {
		assert.NotContains(t, out, secret)
	}
	assert.Contains(t, out, "http://influx:8086")
	assert.Contains(t, out, redacted)
	assert.Equal(t, "flespi-secret", conf.Watcher.Flespi.Token, "redaction must not modify the config")
}
