package watcher

import (
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/kodek/doorguard/watcher/car"
)

// Directory resolves idents to provider devices. It is fed by the roster poller.
type Directory struct {
	mu      sync.RWMutex
	devices map[string]car.Device
}

func NewDirectory() *Directory {
	return &Directory{devices: make(map[string]car.Device)}
}

func (d *Directory) Resolve(ident string) (car.Device, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.devices[ident]
	return dev, ok
}

func (d *Directory) Put(dev car.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[dev.Ident] = dev
}

// OnDeviceChange is a car.OnDeviceChangeFunc.
func (d *Directory) OnDeviceChange(dev car.Device) {
	glog.Infof("Device %s is now known (online: %t)", dev, dev.Online)
	d.Put(dev)
}

// Devices lists known devices ordered by ident.
func (d *Directory) Devices() []car.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]car.Device, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ident < out[j].Ident })
	return out
}
