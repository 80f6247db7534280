package watcher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/kodek/doorguard/common"
	"github.com/kodek/doorguard/watcher/car"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/pkg/errors"
)

// Fetcher pulls the latest telemetry of a device from the provider.
type Fetcher interface {
	Latest(ctx context.Context, d car.Device) (rules.TelemetryRecord, error)
}

// Source produces the telemetry records of one device. The channel is closed once
// ctx is done.
type Source interface {
	Records(ctx context.Context, ident string) (<-chan rules.TelemetryRecord, error)
}

type Resolver interface {
	Resolve(ident string) (car.Device, bool)
}

// PollingSource turns a Fetcher into a Source by fetching on a fixed interval.
// Unread records are replaced by newer ones, so a busy consumer only sees the latest.
type PollingSource struct {
	fetcher  Fetcher
	resolver Resolver
	interval time.Duration
}

func NewPollingSource(f Fetcher, r Resolver, interval time.Duration) *PollingSource {
	return &PollingSource{
		fetcher:  f,
		resolver: r,
		interval: interval,
	}
}

func (p *PollingSource) Records(ctx context.Context, ident string) (<-chan rules.TelemetryRecord, error) {
	if p.interval <= 0 {
		return nil, errors.Errorf("invalid polling interval %s", p.interval)
	}
	out := make(chan rules.TelemetryRecord, 1)
	go p.pollIndefinitely(ctx, ident, out)
	return out, nil
}

func (p *PollingSource) pollIndefinitely(ctx context.Context, ident string, out chan rules.TelemetryRecord) {
	defer close(out)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if rec, ok := p.fetch(ctx, ident); ok {
			offerLatest(out, rec)
		}
		select {
		case <-ctx.Done():
			glog.Infof("Stopped polling %s", ident)
			return
		case <-ticker.C:
		}
	}
}

func (p *PollingSource) fetch(ctx context.Context, ident string) (rules.TelemetryRecord, bool) {
	d, ok := p.resolver.Resolve(ident)
	if !ok {
		glog.V(1).Infof("Device %s not resolved yet; skipping fetch", ident)
		return rules.TelemetryRecord{}, false
	}

	onError := func(e error, d time.Duration) {
		FetchErrors.WithLabelValues(ident).Inc()
		glog.Errorf("Error fetching %s. Retrying in (%s): %s\n", ident, common.Round(d, time.Millisecond), e)
	}

	// Give up before the next tick; a fresh attempt starts then.
	retryStrategy := backoff.NewExponentialBackOff()
	retryStrategy.MaxElapsedTime = p.interval

	var rec rules.TelemetryRecord
	err := backoff.RetryNotify(func() error {
		var err error
		rec, err = p.fetcher.Latest(ctx, d)
		return err
	}, backoff.WithContext(retryStrategy, ctx), onError)
	if err != nil {
		if ctx.Err() == nil {
			glog.Errorf("Could not fetch telemetry for %s: %s", d, err)
		}
		return rules.TelemetryRecord{}, false
	}
	return rec, true
}

// offerLatest sends rec without blocking, replacing an unread older record.
func offerLatest(out chan rules.TelemetryRecord, rec rules.TelemetryRecord) {
	select {
	case out <- rec:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- rec:
	default:
	}
}
