package flespi

import (
	"context"
	"testing"
	"time"

	"github.com/kodek/doorguard/watcher/car"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	rec, err := parseMessage([]byte(`{
		"ident": "860000000000001",
		"timestamp": 1700000000.25,
		"engine.ignition.status": false,
		"can.front.left.door.status": true,
		"can.vehicle.speed": 0
	}`), "860000000000001", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000250), rec.TimestampMs)
	assert.True(t, rec.Bool("can.front.left.door.status"))
	assert.False(t, rec.Bool("engine.ignition.status"))
}

func TestParseMessageFallsBackToNow(t *testing.T) {
	rec, err := parseMessage([]byte(`{"can.vehicle.speed": 12}`), "x", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.TimestampMs)
	assert.Equal(t, float64(12), rec.Number("can.vehicle.speed"))
}

func TestParseMessageRejectsForeignIdent(t *testing.T) {
	_, err := parseMessage([]byte(`{"ident": "other"}`), "x", 0)
	assert.Error(t, err)

	_, err = parseMessage([]byte(`not json`), "x", 0)
	assert.Error(t, err)
}

func TestOfferKeepsNewest(t *testing.T) {
	out := make(chan rules.TelemetryRecord, 1)
	offer(out, rules.NewRecord("x", 1, nil))
	offer(out, rules.NewRecord("x", 2, nil))
	offer(out, rules.NewRecord("x", 3, nil))

	rec := <-out
	assert.Equal(t, int64(3), rec.TimestampMs)
	assert.Empty(t, out)
}

type neverResolves struct{}

func (neverResolves) Resolve(string) (car.Device, bool) { return car.Device{}, false }

func TestRecordsClosesWhenCancelledBeforeResolution(t *testing.T) {
	src, err := NewMQTTSource("tcp://127.0.0.1:1", "token", "", neverResolves{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	records, err := src.Records(ctx, "x")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-records:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("records channel was not closed")
	}
}
