// Tracks the derived door state of every device without sending commands.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/golang/glog"
	influxdb "github.com/influxdata/influxdb1-client/v2"
	"github.com/kodek/doorguard/common"
	"github.com/kodek/doorguard/watcher"
	"github.com/kodek/doorguard/watcher/car"
	"github.com/kodek/doorguard/watcher/clock"
	"github.com/kodek/doorguard/watcher/databases"
	"github.com/kodek/doorguard/watcher/rules"
)

var sampleInterval = flag.Duration("sample_interval", 1*time.Minute, "How often to sample every device.")

func main() {
	flag.Set("logtostderr", "true")
	flag.Parse()

	glog.Info("Loading config")
	conf := common.LoadConfig()

	// Open database
	influxClient := initDatabase(conf)
	defer influxClient.Close()

	p, err := watcher.NewProvider(conf)
	if err != nil {
		panic(err)
	}

	s := newSampler(p, rules.NewTracker(conf.Watcher.Signals, conf.Watcher.DoorCloseWindow()), clock.NewReal())
	for {
		points := s.Sample(context.Background())
		write(conf, influxClient, points)
		time.Sleep(*sampleInterval)
	}
}

type roster interface {
	car.Roster
	watcher.Fetcher
}

// sampler folds each sample into a per-device derived state.
type sampler struct {
	provider roster
	tracker  rules.Tracker
	clock    clock.Clock
	states   map[string]rules.VehicleState
}

func newSampler(p roster, t rules.Tracker, c clock.Clock) *sampler {
	return &sampler{
		provider: p,
		tracker:  t,
		clock:    c,
		states:   make(map[string]rules.VehicleState),
	}
}

func (s *sampler) Sample(ctx context.Context) []*influxdb.Point {
	glog.Info("Starting sample")
	devices, err := s.provider.Devices(ctx)
	if err != nil {
		glog.Errorf("Error while getting devices: %s", err)
		return nil
	}

	var points []*influxdb.Point
	now := s.clock.Now()
	for _, d := range devices {
		online, err := influxdb.NewPoint(
			"online_state",
			map[string]string{
				"ident":  d.Ident,
				"name":   d.Name,
				"binary": "tools/state_tracker",
			},
			map[string]interface{}{
				"online": d.Online,
			},
			now)
		if err != nil {
			glog.Errorf("Cannot build point for %s: %s", d, err)
			continue
		}
		points = append(points, online)

		if !d.Online {
			continue
		}
		rec, err := s.provider.Latest(ctx, d)
		if err != nil {
			glog.Errorf("Cannot fetch telemetry of %s: %s", d, err)
			continue
		}
		state := s.tracker.Update(s.states[d.Ident], rec, clock.NowMs(s.clock))
		s.states[d.Ident] = state
		glog.Infof("Recording device: %s (doors open: %t)", d, state.Doors.AnyOpen())

		doors, err := databases.DoorsPoint(d.Ident, state, now)
		if err != nil {
			glog.Errorf("Cannot build point for %s: %s", d, err)
			continue
		}
		points = append(points, doors)
	}
	glog.Info("Done!")
	return points
}

func write(conf common.Configuration, influxClient influxdb.Client, points []*influxdb.Point) {
	bp, err := influxdb.NewBatchPoints(influxdb.BatchPointsConfig{
		Database:  conf.Watcher.InfluxDbConfig.Database,
		Precision: "s",
	})
	if err != nil {
		panic(err)
	}
	bp.AddPoints(points)

	err = influxClient.Write(bp)
	if err != nil {
		glog.Errorf("Cannot write to influxdb: %s", err)
	}
}

func initDatabase(conf common.Configuration) influxdb.Client {
	influxConf := conf.Watcher.InfluxDbConfig
	if influxConf.Address == "" {
		glog.Fatal("config.Watcher.InfluxDbConfig.Address is required by the state tracker")
	}
	c, err := databases.OpenInfluxDbClient(influxConf.Address, influxConf.Username, influxConf.Password)
	if err != nil {
		panic(err)
	}
	return c
}
