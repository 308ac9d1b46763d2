// Command twin-dashboard polls the telemetry API for the selected asset and
// keeps the 3D viewer's annotations, the readout and the charts in sync.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/twin-monitor/internal/client"
	"github.com/sweeney/twin-monitor/internal/config"
	"github.com/sweeney/twin-monitor/internal/dashboard"
	"github.com/sweeney/twin-monitor/internal/mqtt"
	"github.com/sweeney/twin-monitor/internal/status"
	"github.com/sweeney/twin-monitor/internal/telemetry"
	"github.com/sweeney/twin-monitor/internal/web"
)

// statusInterval is how often the MQTT connection state is refreshed.
const statusInterval = 5 * time.Second

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig parses flags, loads the config file they name and applies the
// flags that were set on top of it.
func loadConfig(args []string) (*config.Config, error) {
	fs := pflag.NewFlagSet("twin-dashboard", pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "YAML config file")
	apiBase := fs.String("api", "", "telemetry API base URL")
	httpAddr := fs.String("http", "", "dashboard HTTP address")
	asset := fs.String("asset", "", "asset key to select at startup")
	live := fs.Duration("live", 0, "live telemetry polling period")
	history := fs.Duration("history", 0, "history polling period")
	debounce := fs.Duration("debounce", 0, "annotation debounce window")
	broker := fs.String("broker", "", "MQTT broker address")
	publish := fs.Bool("publish", false, "publish trip and lifecycle events to MQTT")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	d := &cfg.Dashboard
	if fs.Changed("api") {
		d.APIBase = *apiBase
	}
	if fs.Changed("http") {
		d.HTTPAddr = *httpAddr
	}
	if fs.Changed("asset") {
		d.Asset = *asset
	}
	if fs.Changed("live") {
		d.LivePeriod = config.Duration(*live)
	}
	if fs.Changed("history") {
		d.HistoryPeriod = config.Duration(*history)
	}
	if fs.Changed("debounce") {
		d.Debounce = config.Duration(*debounce)
	}
	if fs.Changed("broker") {
		cfg.MQTT.Broker = *broker
	}
	if fs.Changed("publish") {
		d.PublishEvents = *publish
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	d := cfg.Dashboard

	broker := ""
	if d.PublishEvents {
		broker = cfg.MQTT.Broker
	}
	tracker := status.NewTracker(time.Now(), status.Config{
		LiveMs:     d.LivePeriod.Std().Milliseconds(),
		HistoryMs:  d.HistoryPeriod.Std().Milliseconds(),
		DebounceMs: d.Debounce.Std().Milliseconds(),
		APIBase:    d.APIBase,
		Broker:     broker,
		HTTPAddr:   d.HTTPAddr,
	})

	api := client.New(d.APIBase, d.Token, d.RequestTimeout.Std())
	if !api.HasCredential() {
		log.Printf("no bearer credential (set %s); telemetry will not be polled", config.TokenEnv)
	}

	// Event publishing is optional; the dashboard runs without a broker.
	var publisher *mqtt.RealPublisher
	if d.PublishEvents {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:       cfg.MQTT.Broker,
			Username:     cfg.MQTT.Username,
			Password:     cfg.MQTT.Password,
			ClientPrefix: "twin-dashboard",
		})
		if err != nil {
			log.Printf("mqtt unavailable, not publishing events: %v", err)
		} else {
			publisher = p
			defer publisher.Close()
		}
	}

	hub := web.NewHub()
	defer hub.Close()
	board := web.NewChartBoard(d.SeriesCapacity, d.ChartAssetsHost)

	sessCfg := dashboard.Config{
		Source:         api,
		Scene:          hub,
		Notifier:       hub,
		Viewer:         hub,
		Chart:          board,
		Tracker:        tracker,
		LivePeriod:     d.LivePeriod.Std(),
		HistoryPeriod:  d.HistoryPeriod.Std(),
		Debounce:       d.Debounce.Std(),
		SeriesCapacity: d.SeriesCapacity,
		AlarmCooldown:  d.AlarmCooldown.Std(),
	}
	var pub mqtt.Publisher
	var conn mqtt.ConnectionStatus
	if publisher != nil {
		sessCfg.Trips = publisher
		pub, conn = publisher, publisher
		tracker.SetMQTTConnected(publisher.IsConnected())
	}
	sess := dashboard.NewSession(sessCfg)

	if pub != nil {
		publishSystem(pub, tracker, "STARTUP", "")
	}

	srv := web.New(d.HTTPAddr, web.Config{
		Tracker:  tracker,
		Controls: sess,
		Assets:   api,
		Hub:      hub,
		Charts:   board,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		log.Printf("http server listening on %s", d.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if d.Asset != "" {
		g.Go(func() error {
			if err := selectInitial(ctx, api, sess, d.Asset); err != nil {
				log.Printf("initial asset: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		return runLoop(ctx, sess, pub, conn, tracker, ticker.C, sigCh)
	})

	log.Printf("started: api=%s live=%v history=%v debounce=%v", d.APIBase, d.LivePeriod.Std(), d.HistoryPeriod.Std(), d.Debounce.Std())
	return g.Wait()
}

// selector is the part of the session selectInitial drives.
type selector interface {
	Select(ctx context.Context, a telemetry.Asset)
}

// selectInitial selects the asset with the given key from the API's list.
func selectInitial(ctx context.Context, lister web.AssetLister, sel selector, key string) error {
	assets, err := lister.Assets(ctx)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	for _, a := range assets {
		if a.Key == key {
			sel.Select(ctx, a)
			return nil
		}
	}
	return fmt.Errorf("asset %q not found", key)
}

// closer stops the session's timers.
type closer interface {
	Close()
}

// runLoop refreshes connection status until a signal arrives or ctx ends,
// then closes the session and announces the shutdown. pub and conn may be
// nil.
func runLoop(ctx context.Context, sess closer, pub mqtt.Publisher, conn mqtt.ConnectionStatus, tracker *status.Tracker, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			sess.Close()
			return nil

		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			sess.Close()
			if pub == nil {
				return nil
			}
			if conn != nil {
				tracker.SetMQTTConnected(conn.IsConnected())
			}
			publishSystem(pub, tracker, "SHUTDOWN", signalName(s))
			return nil

		case <-tick:
			if conn != nil {
				tracker.SetMQTTConnected(conn.IsConnected())
			}
		}
	}
}

func publishSystem(pub mqtt.Publisher, tracker *status.Tracker, event, reason string) {
	snap := tracker.Snapshot()
	err := pub.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
