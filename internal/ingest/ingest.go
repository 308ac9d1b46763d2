package ingest

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sweeney/twin-monitor/internal/metrics"
	"github.com/sweeney/twin-monitor/internal/mqtt"
	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// DefaultMetrics maps JSON paths in sensor payloads to report metrics.
var DefaultMetrics = map[string]string{
	"ENERGY.Voltage": "V",
	"ENERGY.Current": "C",
	"ENERGY.Power":   "PA",
}

// scalarMetrics are recognised as the last segment of a scalar topic.
var scalarMetrics = map[string]string{"V": "V", "C": "C", "PA": "PA"}

// Route binds an MQTT topic to an asset. Label names the value in the cache;
// for JSON object payloads, a route for "<topic>/<subkey>" labels that
// sub-key.
type Route struct {
	AssetID int
	Topic   string
	Label   string
}

// Recorder stores measurements.
type Recorder interface {
	RecordMeasurement(ctx context.Context, assetID int, metric string, at time.Time, value float64) error
}

// Config configures an Ingestor.
type Config struct {
	Routes   []Route
	Cache    *Cache
	Recorder Recorder

	// Metrics maps JSON paths to metric names; DefaultMetrics if nil.
	Metrics map[string]string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Ingestor handles MQTT messages for a set of routed topics.
type Ingestor struct {
	cache    *Cache
	recorder Recorder
	metrics  map[string]string
	now      func() time.Time

	routes map[string]Route
	labels map[int]map[string]string
}

// New creates an Ingestor.
func New(cfg Config) *Ingestor {
	if cfg.Cache == nil {
		cfg.Cache = NewCache()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = DefaultMetrics
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	in := &Ingestor{
		cache:    cfg.Cache,
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		routes:   make(map[string]Route, len(cfg.Routes)),
		labels:   make(map[int]map[string]string),
	}
	for _, r := range cfg.Routes {
		if r.Topic == "" || r.AssetID <= 0 {
			log.Printf("ingest: skipping route %+v", r)
			continue
		}
		in.routes[r.Topic] = r
		if in.labels[r.AssetID] == nil {
			in.labels[r.AssetID] = make(map[string]string)
		}
		if r.Label != "" {
			in.labels[r.AssetID][r.Topic] = r.Label
		}
	}
	return in
}

// Cache returns the latest-value cache the ingestor writes to.
func (in *Ingestor) Cache() *Cache {
	return in.cache
}

// Topics lists the subscribed topics in sorted order. Sub-key routes
// ("<topic>/<subkey>" under a routed topic) only label and are not
// subscribed separately.
func (in *Ingestor) Topics() []string {
	out := make([]string, 0, len(in.routes))
	for t := range in.routes {
		if parent, ok := in.parentRoute(t); ok && parent != t {
			continue
		}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (in *Ingestor) parentRoute(topic string) (string, bool) {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 {
		return "", false
	}
	parent := topic[:i]
	_, ok := in.routes[parent]
	return parent, ok
}

// Handle processes one message. Safe for concurrent use.
func (in *Ingestor) Handle(msg mqtt.Message) {
	route, ok := in.routes[msg.Topic]
	if !ok {
		metrics.IngestMessages.WithLabelValues("unrouted").Inc()
		return
	}
	now := in.now()
	labels := in.labels[route.AssetID]

	values := make(map[string]any)
	var obj map[string]any

	switch v := Coerce(msg.Payload).(type) {
	case map[string]any:
		obj = v
		for sub, subv := range v {
			label := labels[msg.Topic+"/"+sub]
			if label == "" {
				label = sub
			}
			values[label] = subv
		}
	default:
		label := route.Label
		if label == "" {
			label = msg.Topic
		}
		values[label] = v
	}

	if len(values) > 0 {
		in.cache.Merge(route.AssetID, values, msg.Topic, obj, now)
	}
	metrics.IngestMessages.WithLabelValues("ok").Inc()

	if in.recorder != nil {
		in.record(route.AssetID, msg, obj != nil, now)
	}
}

// Measurements extracts report metrics from a message: configured JSON
// paths for object payloads, or the topic's last segment for scalar ones.
func (in *Ingestor) Measurements(msg mqtt.Message, isObject bool) map[string]float64 {
	out := make(map[string]float64)
	if isObject {
		for path, metric := range in.metrics {
			r := gjson.GetBytes(msg.Payload, path)
			if r.Type == gjson.Number {
				out[metric] = r.Float()
			}
		}
		return out
	}

	last := msg.Topic[strings.LastIndexByte(msg.Topic, '/')+1:]
	metric, ok := scalarMetrics[strings.ToUpper(last)]
	if !ok {
		return out
	}
	if f, ok := telemetry.ParseNumber(string(msg.Payload)); ok {
		out[metric] = f
	}
	return out
}

func (in *Ingestor) record(assetID int, msg mqtt.Message, isObject bool, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for metric, v := range in.Measurements(msg, isObject) {
		// Don't drop the message on a storage failure.
		if err := in.recorder.RecordMeasurement(ctx, assetID, metric, at, v); err != nil {
			metrics.IngestMessages.WithLabelValues("error").Inc()
			log.Printf("ingest: record %s for asset %d: %v", metric, assetID, err)
		}
	}
}
