// Command twin-api ingests plant telemetry from MQTT, records measurements
// and serves assets, latest values, icon mappings and reports over HTTP.
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

	"github.com/sweeney/twin-monitor/internal/api"
	"github.com/sweeney/twin-monitor/internal/config"
	"github.com/sweeney/twin-monitor/internal/ingest"
	"github.com/sweeney/twin-monitor/internal/mqtt"
	"github.com/sweeney/twin-monitor/internal/store"
)

// pruneInterval is how often old measurements are deleted.
const pruneInterval = time.Hour

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func loadConfig(args []string) (*config.Config, error) {
	fs := pflag.NewFlagSet("twin-api", pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "YAML config file")
	httpAddr := fs.String("http", "", "API HTTP address")
	db := fs.String("db", "", "SQLite database path")
	broker := fs.String("broker", "", "MQTT broker address")
	retention := fs.Duration("retention", 0, "measurement retention (0 keeps everything)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	if fs.Changed("http") {
		cfg.API.HTTPAddr = *httpAddr
	}
	if fs.Changed("db") {
		cfg.API.Database = *db
	}
	if fs.Changed("broker") {
		cfg.MQTT.Broker = *broker
	}
	if fs.Changed("retention") {
		cfg.API.Retention = config.Duration(*retention)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	st, err := store.Open(cfg.API.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seed(ctx, st, cfg.Assets); err != nil {
		return err
	}

	in := ingest.New(ingest.Config{
		Routes:   routes(cfg.Assets),
		Recorder: st,
	})

	if topics := in.Topics(); len(topics) > 0 {
		sub, err := mqtt.NewRealSubscriber(mqtt.Options{
			Broker:       cfg.MQTT.Broker,
			Username:     cfg.MQTT.Username,
			Password:     cfg.MQTT.Password,
			ClientPrefix: "twin-api",
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer sub.Close()
		if err := sub.Subscribe(topics, in.Handle); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		log.Printf("subscribed to %d topics on %s", len(topics), cfg.MQTT.Broker)
	} else {
		log.Printf("no topics configured, not ingesting")
	}

	toks := tokens(cfg.API.Tokens, os.Getenv(config.TokenEnv))
	if len(toks) == 0 {
		log.Printf("no API tokens configured (api.tokens or %s); every request will be rejected", config.TokenEnv)
	}
	srv := api.New(cfg.API.HTTPAddr, st, in.Cache(), toks)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("api listening on %s", cfg.API.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if r := cfg.API.Retention.Std(); r > 0 {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		g.Go(func() error {
			pruneLoop(ctx, st, r, time.Now, ticker.C)
			return nil
		})
	}
	return g.Wait()
}

// seed upserts the configured assets. Mappings are replaced only for assets
// that list some, so mappings managed elsewhere survive a restart.
func seed(ctx context.Context, st *store.Store, assets []config.AssetConfig) error {
	for _, a := range assets {
		if err := st.UpsertAsset(ctx, a.Asset); err != nil {
			return fmt.Errorf("seed asset %s: %w", a.Key, err)
		}
		if len(a.Mappings) == 0 {
			continue
		}
		if err := st.ReplaceMappings(ctx, a.ID, a.Mappings); err != nil {
			return fmt.Errorf("seed mappings for %s: %w", a.Key, err)
		}
	}
	if len(assets) > 0 {
		log.Printf("seeded %d assets", len(assets))
	}
	return nil
}

// routes flattens the configured topics into ingest routes.
func routes(assets []config.AssetConfig) []ingest.Route {
	var out []ingest.Route
	for _, a := range assets {
		for _, tc := range a.Topics {
			out = append(out, ingest.Route{AssetID: a.ID, Topic: tc.Topic, Label: tc.Label})
		}
	}
	return out
}

// tokens returns the configured tokens plus env, skipping blanks and
// duplicates.
func tokens(configured []string, env string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range append(append([]string(nil), configured...), env) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// pruner deletes old measurements.
type pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// pruneLoop deletes measurements older than retention now and on every tick
// until ctx ends.
func pruneLoop(ctx context.Context, p pruner, retention time.Duration, now func() time.Time, tick <-chan time.Time) {
	prune := func() {
		n, err := p.Prune(ctx, now().Add(-retention))
		if err != nil {
			log.Printf("prune: %v", err)
			return
		}
		if n > 0 {
			log.Printf("pruned %d measurements", n)
		}
	}

	prune()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			prune()
		}
	}
}
