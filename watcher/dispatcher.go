package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/kodek/doorguard/watcher/car"
	"github.com/kodek/doorguard/watcher/clock"
	"github.com/kodek/doorguard/watcher/databases"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/pkg/errors"
)

// ErrDeviceNotResolved is returned when a command targets a device whose provider
// details are not loaded yet. Nothing is sent.
var ErrDeviceNotResolved = errors.New("device details not loaded yet")

// CommandSink sends commands to devices through the telematics provider.
type CommandSink interface {
	SendCommand(ctx context.Context, d car.Device, name string, properties map[string]interface{}) error
}

// Ack describes a command the provider accepted.
type Ack struct {
	ID              string    `json:"id"`
	Ident           string    `json:"ident"`
	Command         string    `json:"command"`
	ProviderCommand string    `json:"provider_command"`
	At              time.Time `json:"at"`
}

// Dispatcher sends logical commands to devices. It never retries; the outcome of
// every attempt is reported to the notifier and recorded.
type Dispatcher struct {
	sink     CommandSink
	resolver Resolver
	notifier Notifier
	commands func(string) string
	store    databases.Database
	clock    clock.Clock
}

// NewDispatcher creates a Dispatcher. commands maps a logical command name to the
// provider's name, usually common.Watcher.ProviderCommand; store may be nil.
func NewDispatcher(sink CommandSink, resolver Resolver, notifier Notifier, commands func(string) string, store databases.Database) *Dispatcher {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if commands == nil {
		commands = func(c string) string { return c }
	}
	return &Dispatcher{
		sink:     sink,
		resolver: resolver,
		notifier: notifier,
		commands: commands,
		store:    store,
		clock:    clock.NewReal(),
	}
}

// Dispatch sends command to the device known as ident.
func (d *Dispatcher) Dispatch(ctx context.Context, ident, command string) (Ack, error) {
	return d.send(ctx, ident, "", command)
}

// DispatchTrip sends the command of a tripped condition.
func (d *Dispatcher) DispatchTrip(ctx context.Context, ident string, trip rules.Trip) (Ack, error) {
	return d.send(ctx, ident, trip.Condition, trip.Command)
}

func (d *Dispatcher) send(ctx context.Context, ident, condition, command string) (Ack, error) {
	dev, ok := d.resolver.Resolve(ident)
	if !ok {
		glog.Warningf("Not sending %s to %s: device details not loaded", command, ident)
		DispatchTotal.WithLabelValues(command, "unresolved").Inc()
		return Ack{}, ErrDeviceNotResolved
	}

	ack := Ack{
		ID:              uuid.New().String(),
		Ident:           ident,
		Command:         command,
		ProviderCommand: d.commands(command),
		At:              d.clock.Now(),
	}
	if condition != "" {
		glog.Infof("Condition %s tripped for %s; sending %s (%s)", condition, dev, ack.ProviderCommand, ack.ID)
	} else {
		glog.Infof("Sending %s to %s (%s)", ack.ProviderCommand, dev, ack.ID)
	}

	start := time.Now()
	err := d.sink.SendCommand(ctx, dev, ack.ProviderCommand, nil)
	DispatchLatency.WithLabelValues(command).Observe(time.Since(start).Seconds())

	event := databases.DispatchEvent{
		ID:              ack.ID,
		Timestamp:       ack.At,
		Ident:           ident,
		Condition:       condition,
		Command:         command,
		ProviderCommand: ack.ProviderCommand,
		Success:         err == nil,
	}
	f := Feedback{Ident: ident, At: ack.At}
	if err != nil {
		DispatchTotal.WithLabelValues(command, "failed").Inc()
		glog.Errorf("Failed to send %s to %s: %s", ack.ProviderCommand, dev, err)
		event.Error = err.Error()
		f.Type = FeedbackError
		f.Message = fmt.Sprintf("Failed to send command to %s", ack.ProviderCommand)
	} else {
		DispatchTotal.WithLabelValues(command, "success").Inc()
		f.Type = FeedbackSuccess
		f.Message = fmt.Sprintf("Command to %s sent successfully", ack.ProviderCommand)
	}

	if nErr := d.notifier.Notify(f); nErr != nil {
		glog.Errorf("Cannot deliver feedback for %s: %s", ident, nErr)
	}
	if d.store != nil {
		if sErr := d.store.InsertDispatch(ctx, event); sErr != nil {
			glog.Errorf("Cannot record dispatch %s: %s", ack.ID, sErr)
		}
	}

	if err != nil {
		return Ack{}, errors.Wrapf(err, "cannot send %s to %s", ack.ProviderCommand, ident)
	}
	return ack, nil
}
