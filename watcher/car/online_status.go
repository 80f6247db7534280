package car

import (
	"context"
	"flag"
	"sync"
	"time"

	"github.com/golang/glog"
)

var pollInterval = flag.Duration("roster_polling_interval", 1*time.Minute, "How often to refresh the provider's device list.")

// Roster lists the devices visible to the provider account.
type Roster interface {
	Devices(ctx context.Context) ([]Device, error)
}

type OnDeviceChangeFunc func(d Device)

// Poller periodically fetches the device roster and notifies listeners about devices
// that are new or whose online status changed.
type Poller struct {
	roster          Roster
	interval        time.Duration
	mu              sync.Mutex
	changeStatusFns []OnDeviceChangeFunc
	identToDevice   map[string]Device
}

func (p *Poller) AddDeviceChangeListener(listenerFn OnDeviceChangeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changeStatusFns = append(p.changeStatusFns, listenerFn)
}

// NewPoller creates a Poller. A zero interval uses -roster_polling_interval.
func NewPoller(r Roster, interval time.Duration) (*Poller, error) {
	if interval <= 0 {
		interval = *pollInterval
	}
	p := &Poller{
		roster:          r,
		interval:        interval,
		identToDevice:   make(map[string]Device),
		changeStatusFns: make([]OnDeviceChangeFunc, 0),
	}
	return p, nil
}

// Start polls until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.PollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			glog.Info("Stopping roster poller")
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce fetches the roster a single time and fires listeners for changes.
func (p *Poller) PollOnce(ctx context.Context) {
	glog.V(1).Info("Polling device roster")
	devices, err := p.roster.Devices(ctx)
	if err != nil {
		glog.Errorf("Error while fetching device roster: %s", err)
		return
	}

	p.mu.Lock()
	var changed []Device
	for _, d := range devices {
		prev, seen := p.identToDevice[d.Ident]
		p.identToDevice[d.Ident] = d
		if seen && !statusHasChanged(prev, d) {
			continue
		}
		changed = append(changed, d)
	}
	listeners := append([]OnDeviceChangeFunc(nil), p.changeStatusFns...)
	p.mu.Unlock()

	for _, d := range changed {
		glog.Infof("Device %s changed (online: %t)", d, d.Online)
		for _, listenerFn := range listeners {
			listenerFn(d)
		}
	}
}

// Lookup returns the last roster entry for ident.
func (p *Poller) Lookup(ident string) (Device, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.identToDevice[ident]
	return d, ok
}

func statusHasChanged(prev Device, next Device) bool {
	return prev.Online != next.Online || prev.ID != next.ID || prev.Name != next.Name
}
