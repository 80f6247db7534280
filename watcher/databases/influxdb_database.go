package databases

import (
	"context"
	"time"

	"github.com/golang/glog"
	influxdb "github.com/influxdata/influxdb1-client/v2"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/pkg/errors"
)

type influxDbDatabase struct {
	conn     influxdb.Client
	database string
}

func (this *influxDbDatabase) GetLatest(ctx context.Context, ident string) (*rules.TelemetryRecord, error) {
	return nil, ErrNotSupported
}

func (this *influxDbDatabase) Insert(ctx context.Context, record rules.TelemetryRecord, state rules.VehicleState) error {
	glog.V(1).Infof("Recording measurement for %s to influxdb", record.Ident)

	bp, err := newBatch(this.database)
	if err != nil {
		return err
	}
	ts := time.Unix(0, record.TimestampMs*int64(time.Millisecond))

	// Indexed tags
	tags := map[string]string{
		"ident": record.Ident,
	}

	// Raw telemetry, one field per signal.
	fields := make(map[string]interface{}, record.Len())
	for name, v := range record.Signals() {
		if x := v.Interface(); x != nil {
			fields[name] = x
		}
	}
	if len(fields) > 0 {
		telemetry, err := influxdb.NewPoint("telemetry", tags, fields, ts)
		if err != nil {
			return errors.Wrap(err, "cannot build telemetry point")
		}
		bp.AddPoint(telemetry)
	}

	doors, err := DoorsPoint(record.Ident, state, ts)
	if err != nil {
		return err
	}
	bp.AddPoint(doors)

	return errors.Wrap(this.conn.Write(bp), "cannot write to influxdb")
}

func (this *influxDbDatabase) InsertDispatch(ctx context.Context, event DispatchEvent) error {
	bp, err := newBatch(this.database)
	if err != nil {
		return err
	}
	tags := map[string]string{
		"ident":     event.Ident,
		"condition": event.Condition,
		"command":   event.Command,
	}
	fields := map[string]interface{}{
		"id":               event.ID,
		"provider_command": event.ProviderCommand,
		"success":          event.Success,
		"error":            event.Error,
	}
	p, err := influxdb.NewPoint("dispatch", tags, fields, event.Timestamp)
	if err != nil {
		return errors.Wrap(err, "cannot build dispatch point")
	}
	bp.AddPoint(p)
	return errors.Wrap(this.conn.Write(bp), "cannot write to influxdb")
}

func (this *influxDbDatabase) Close() error {
	return this.conn.Close()
}

func newBatch(database string) (influxdb.BatchPoints, error) {
	bp, err := influxdb.NewBatchPoints(influxdb.BatchPointsConfig{
		Database:  database,
		Precision: "ms",
	})
	return bp, errors.Wrap(err, "cannot create batch")
}

// DoorsPoint is the derived door state of a device as an influxdb point.
func DoorsPoint(ident string, state rules.VehicleState, ts time.Time) (*influxdb.Point, error) {
	_, open := state.DoorOpenedAt()
	p, err := influxdb.NewPoint(
		"doors",
		map[string]string{"ident": ident},
		map[string]interface{}{
			"front_left":                state.Doors.FrontLeft,
			"front_right":               state.Doors.FrontRight,
			"rear_left":                 state.Doors.RearLeft,
			"rear_right":                state.Doors.RearRight,
			"trunk":                     state.Doors.Trunk,
			"door_open_timer":           open,
			"door_closed_after_opening": state.DoorClosedAfterOpening,
			"door_closed_within_window": state.DoorClosedWithinWindow,
		}, ts)
	return p, errors.Wrap(err, "cannot build doors point")
}

func OpenInfluxDbDatabase(address string, username string, password string, database string) (Database, error) {
	c, err := OpenInfluxDbClient(address, username, password)
	if err != nil {
		return nil, err
	}

	return &influxDbDatabase{
		conn:     c,
		database: database,
	}, nil
}

// OpenInfluxDbClient creates a new HTTP client for influxdb.
func OpenInfluxDbClient(address string, username string, password string) (influxdb.Client, error) {
	c, err := influxdb.NewHTTPClient(influxdb.HTTPConfig{
		Addr:     address,
		Username: username,
		Password: password,
	})
	return c, errors.Wrap(err, "cannot create influxdb client")
}
