package main

import (
	"context"
	"testing"
	"time"

	"github.com/kodek/doorguard/watcher/car"
	"github.com/kodek/doorguard/watcher/clock"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	devices []car.Device
	doors   map[string]bool
}

func (f *fakeProvider) Devices(ctx context.Context) ([]car.Device, error) {
	return f.devices, nil
}

func (f *fakeProvider) Latest(ctx context.Context, d car.Device) (rules.TelemetryRecord, error) {
	n := rules.DefaultSignalNames()
	return rules.NewRecord(d.Ident, 0, map[string]rules.Value{
		n.Ignition:      rules.Bool(false),
		n.FrontLeftDoor: rules.Bool(f.doors[d.Ident]),
	}), nil
}

func TestSampleTracksStateAcrossSamples(t *testing.T) {
	p := &fakeProvider{
		devices: []car.Device{{ID: 1, Ident: "a", Online: true}, {ID: 2, Ident: "b"}},
		doors:   map[string]bool{"a": true},
	}
	fc := &clock.FakeClock{CurrentTime: time.Unix(1700000000, 0)}
	s := newSampler(p, rules.NewTracker(rules.DefaultSignalNames(), rules.DefaultDoorCloseWindow), fc)

	points := s.Sample(context.Background())
	// Both devices report online state; only the online one reports doors.
	require.Len(t, points, 3)
	assert.Equal(t, "online_state", points[0].Name())
	assert.Equal(t, "doors", points[1].Name())
	assert.True(t, s.states["a"].Doors.FrontLeft)

	fc.Advance(5 * time.Second)
	p.doors["a"] = false
	s.Sample(context.Background())
	assert.True(t, s.states["a"].DoorClosedWithinWindow)
	_, tracked := s.states["b"]
	assert.False(t, tracked)
}
