package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/kodek/doorguard/common"
	"github.com/kodek/doorguard/watcher"
	"github.com/kodek/doorguard/watcher/car"
	"github.com/kodek/doorguard/watcher/databases"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = flag.Set("logtostderr", "true")
	flag.Parse()

	glog.Info("Loading config")
	conf := common.LoadConfig()
	if err := conf.Validate(); err != nil {
		glog.Fatal(err)
	}
	w := conf.Watcher

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := watcher.NewProvider(conf)
	if err != nil {
		glog.Fatal(err)
	}

	directory := watcher.NewDirectory()
	poller, err := car.NewPoller(p, w.RosterPollInterval())
	if err != nil {
		glog.Fatal(err)
	}
	poller.AddDeviceChangeListener(directory.OnDeviceChange)

	// Open databases
	store, err := openDatabases(w)
	if err != nil {
		glog.Fatal(err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			glog.Errorf("Cannot close databases: %s", err)
		}
	}()

	feedback := watcher.NewFeedbackLog(w.FeedbackBuffer)
	notifier := watcher.MultiNotifier{watcher.LogNotifier{}, feedback}
	if w.Pushover.Token != "" {
		notifier = append(notifier, watcher.NewPushoverFacade(w.Pushover.Token, w.Pushover.User))
	} else {
		glog.Info("Pushover not configured; feedback stays local.")
	}

	dispatcher := watcher.NewDispatcher(p, directory, notifier, w.ProviderCommand, store)
	source, err := watcher.NewSource(conf, p, directory)
	if err != nil {
		glog.Fatal(err)
	}
	if w.Provider == common.ProviderFlespi && w.Flespi.Mqtt.Enabled {
		glog.Infof("Streaming telemetry from %s", w.Flespi.Mqtt.Broker)
	} else {
		glog.Infof("Polling telemetry every %s", w.Cadence())
	}
	tracker := rules.NewTracker(w.Signals, w.DoorCloseWindow())
	conditions := rules.DefaultConditions(w.Signals)

	manager := watcher.NewManager(ctx, func(ident string) (*watcher.Session, error) {
		return watcher.NewSession(watcher.SessionConfig{
			Ident:      ident,
			Source:     source,
			Tracker:    tracker,
			Conditions: conditions,
			Dispatcher: dispatcher,
			Store:      store,
			Cadence:    w.Cadence(),
		})
	})
	poller.AddDeviceChangeListener(notifyWatchedDevices(manager, notifier))

	for _, d := range w.Devices {
		if !d.Monitor {
			glog.Infof("Ignoring device %s. Monitoring disabled in config.", d.Ident)
			continue
		}
		if _, err := manager.Attach(d.Ident); err != nil {
			glog.Errorf("Cannot watch %s: %s", d.Ident, err)
		}
	}

	mux := common.NewKodekMux("Doorguard-Watcher")
	mux.HandleFunc("/", common.RedirectToStatusz)
	a := &api{
		manager:    manager,
		directory:  directory,
		dispatcher: dispatcher,
		feedback:   feedback,
		conf:       conf,
	}
	a.register(mux)

	listenSpec := fmt.Sprintf(":%d", w.Port)
	srv := &http.Server{Addr: listenSpec, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Start(gctx)
	})
	g.Go(func() error {
		glog.Infof("Starting doorguard watcher at %s (provider %s)", listenSpec, w.Provider)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		glog.Info("Shutting down")
		manager.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		glog.Fatal(err)
	}
}

func openDatabases(w common.Watcher) (databases.Multi, error) {
	var store databases.Multi
	influxConf := w.InfluxDbConfig
	if influxConf.Address != "" {
		db, err := databases.OpenInfluxDbDatabase(
			influxConf.Address,
			influxConf.Username,
			influxConf.Password,
			influxConf.Database)
		if err != nil {
			return nil, err
		}
		store = append(store, db)
	}
	if w.SqlitePath != "" {
		db, err := databases.OpenSqliteDatabase(w.SqlitePath)
		if err != nil {
			store.Close()
			return nil, err
		}
		store = append(store, db)
	}
	if len(store) == 0 {
		glog.Warning("No database configured; telemetry will not be recorded.")
	}
	return store, nil
}

// notifyWatchedDevices tells the user when a watched device goes on or offline.
func notifyWatchedDevices(manager *watcher.Manager, notifier watcher.Notifier) car.OnDeviceChangeFunc {
	return func(d car.Device) {
		if _, ok := manager.Get(d.Ident); !ok {
			return
		}
		state := "offline"
		if d.Online {
			state = "online"
		}
		f := watcher.Feedback{
			Ident:   d.Ident,
			Message: fmt.Sprintf("Device %s is %s", d, state),
			Type:    watcher.FeedbackSuccess,
			At:      time.Now(),
		}
		if err := notifier.Notify(f); err != nil {
			glog.Errorf("Cannot send device notification: %s", err)
		}
	}
}
