package databases

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/pkg/errors"
)

// ErrNoRecords is returned by GetLatest when nothing was stored for a device.
var ErrNoRecords = errors.New("no records stored for device")

// ErrNotSupported is returned by stores that cannot answer a query.
var ErrNotSupported = errors.New("operation not supported by this database")

// DispatchEvent is one attempt to send a command to a device.
type DispatchEvent struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Ident           string    `json:"ident"`
	Condition       string    `json:"condition,omitempty"`
	Command         string    `json:"command"`
	ProviderCommand string    `json:"provider_command"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
}

type Database interface {
	GetLatest(ctx context.Context, ident string) (*rules.TelemetryRecord, error)

	Insert(ctx context.Context, record rules.TelemetryRecord, state rules.VehicleState) error

	InsertDispatch(ctx context.Context, event DispatchEvent) error

	Close() error
}

// DispatchLog is implemented by databases that can list past dispatches.
type DispatchLog interface {
	ListDispatches(ctx context.Context, ident string, limit int) ([]DispatchEvent, error)
}

// Multi writes to every database. Reads are served by the first database that
// supports them.
type Multi []Database

func (m Multi) GetLatest(ctx context.Context, ident string) (*rules.TelemetryRecord, error) {
	for _, db := range m {
		rec, err := db.GetLatest(ctx, ident)
		if errors.Cause(err) == ErrNotSupported {
			continue
		}
		return rec, err
	}
	return nil, ErrNotSupported
}

func (m Multi) Insert(ctx context.Context, record rules.TelemetryRecord, state rules.VehicleState) error {
	var first error
	for _, db := range m {
		if err := db.Insert(ctx, record, state); err != nil {
			glog.Errorf("Cannot write record for %s: %s", record.Ident, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (m Multi) InsertDispatch(ctx context.Context, event DispatchEvent) error {
	var first error
	for _, db := range m {
		if err := db.InsertDispatch(ctx, event); err != nil {
			glog.Errorf("Cannot write dispatch %s: %s", event.ID, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, db := range m {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
