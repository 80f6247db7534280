package car

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRoster struct {
	devices []Device
	err     error
}

func (r *fakeRoster) Devices(ctx context.Context) ([]Device, error) {
	return r.devices, r.err
}

func TestPollerReportsNewAndChangedDevices(t *testing.T) {
	roster := &fakeRoster{devices: []Device{
		{ID: 1, Ident: "imei-1", Online: true},
		{ID: 2, Ident: "imei-2"},
	}}
	p, err := NewPoller(roster, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	p.AddDeviceChangeListener(func(d Device) {
		got = append(got, d.Ident)
	})

	p.PollOnce(context.Background())
	if len(got) != 2 {
		t.Fatalf("first poll reported %v, expected both devices", got)
	}

	got = nil
	p.PollOnce(context.Background())
	if len(got) != 0 {
		t.Errorf("unchanged roster reported %v", got)
	}

	roster.devices[1].Online = true
	p.PollOnce(context.Background())
	if len(got) != 1 || got[0] != "imei-2" {
		t.Errorf("online change reported %v, expected [imei-2]", got)
	}

	d, ok := p.Lookup("imei-2")
	if !ok || !d.Online || d.ID != 2 {
		t.Errorf("Lookup(imei-2) = %+v, %t", d, ok)
	}
}

func TestPollerKeepsCacheOnError(t *testing.T) {
	roster := &fakeRoster{devices: []Device{{ID: 7, Ident: "imei-7"}}}
	p, _ := NewPoller(roster, time.Second)
	p.PollOnce(context.Background())

	roster.err = errors.New("provider down")
	calls := 0
	p.AddDeviceChangeListener(func(Device) { calls++ })
	p.PollOnce(context.Background())

	if calls != 0 {
		t.Errorf("listener called %d times on a failed poll", calls)
	}
	if _, ok := p.Lookup("imei-7"); !ok {
		t.Error("failed poll dropped a cached device")
	}
}

func TestPollerStopsOnCancel(t *testing.T) {
	p, _ := NewPoller(&fakeRoster{}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}
