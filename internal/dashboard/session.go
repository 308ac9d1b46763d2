// Package dashboard owns the selected asset and keeps the annotation
// overlay, readout, trip events and charts in sync with its telemetry.
package dashboard

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sweeney/twin-monitor/internal/clock"
	"github.com/sweeney/twin-monitor/internal/logic"
	"github.com/sweeney/twin-monitor/internal/overlay"
	"github.com/sweeney/twin-monitor/internal/poll"
	"github.com/sweeney/twin-monitor/internal/series"
	"github.com/sweeney/twin-monitor/internal/status"
	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// Source fetches telemetry for an asset.
type Source interface {
	Latest(ctx context.Context, assetID int) (*telemetry.Payload, error)
	IconMappings(ctx context.Context, assetID int) ([]telemetry.Mapping, error)
	Series(ctx context.Context, assetKey string) (map[string][]series.Point, error)
}

// credentialed is implemented by sources that need a credential to fetch.
type credentialed interface {
	HasCredential() bool
}

// Chart renders live and historical series.
type Chart interface {
	AppendPoint(metric string, t time.Time, v float64)
	ReplaceSeries(metric string, pts []series.Point)
	Reset()
}

// Viewer is told which asset's model to show.
type Viewer interface {
	ShowAsset(a telemetry.Asset)
}

// TripPublisher publishes trip events.
type TripPublisher interface {
	Publish(e logic.Event) error
}

// Config configures a Session. Source and Scene are required.
type Config struct {
	Source   Source
	Scene    overlay.Scene
	Notifier overlay.Notifier
	Viewer   Viewer
	Chart    Chart
	Tracker  *status.Tracker
	Trips    TripPublisher
	Clock    clock.Clock

	LivePeriod     time.Duration
	HistoryPeriod  time.Duration
	Debounce       time.Duration
	SeriesCapacity int
	AlarmCooldown  time.Duration
}

// Session is the single owner of the selected asset, its last payload and
// mappings, the polling timers and the overlay controller.
type Session struct {
	source   Source
	viewer   Viewer
	chart    Chart
	tracker  *status.Tracker
	trips    TripPublisher
	clock    clock.Clock
	ctrl     *overlay.Controller
	debounce *overlay.Debouncer
	buf      *series.Buffer
	live     *poll.Manager
	history  *poll.Manager

	selectMu sync.Mutex // serialises Select

	mu       sync.Mutex
	asset    telemetry.Asset
	mappings []telemetry.Mapping
	stale    bool // the last mappings fetch failed
	payload  *telemetry.Payload
	icons    []overlay.Annotation
	lastTS   float64
	detector *logic.Detector
}

// NewSession creates an idle Session. Nothing is polled until Select.
func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.LivePeriod <= 0 {
		cfg.LivePeriod = poll.LivePeriod
	}
	if cfg.HistoryPeriod <= 0 {
		cfg.HistoryPeriod = poll.HistoryPeriod
	}
	if cfg.Chart == nil {
		cfg.Chart = nopChart{}
	}
	if cfg.Tracker == nil {
		cfg.Tracker = status.NewTracker(cfg.Clock.Now(), status.Config{})
	}

	s := &Session{
		source:   cfg.Source,
		viewer:   cfg.Viewer,
		chart:    cfg.Chart,
		tracker:  cfg.Tracker,
		trips:    cfg.Trips,
		clock:    cfg.Clock,
		ctrl:     overlay.NewController(cfg.Scene),
		buf:      series.NewBuffer(cfg.SeriesCapacity),
		detector: logic.NewDetector("", cfg.AlarmCooldown),
	}
	s.debounce = overlay.NewDebouncer(cfg.Clock, cfg.Debounce, s.reconcile)
	s.live = poll.NewManager(poll.Config{
		Name:     "live",
		Period:   cfg.LivePeriod,
		Clock:    cfg.Clock,
		Tick:     s.liveTick,
		OnSwitch: s.onSwitch,
	})
	s.history = poll.NewManager(poll.Config{
		Name:   "history",
		Period: cfg.HistoryPeriod,
		Clock:  cfg.Clock,
		Tick:   s.historyTick,
	})

	if cfg.Notifier != nil {
		cfg.Notifier.OnModelLoading(s.sceneLoading)
		cfg.Notifier.OnModelReady(s.sceneReady)
	}
	return s
}

// Select makes a the active asset. Selecting the active asset again resumes
// polling without resetting anything. Without a credential, or for an asset
// with no ID, Select does nothing.
func (s *Session) Select(ctx context.Context, a telemetry.Asset) {
	if c, ok := s.source.(credentialed); ok && !c.HasCredential() {
		log.Printf("dashboard: no credential, not polling %q", a.Key)
		return
	}
	key := a.SessionKey()
	if a.ID <= 0 || key == "" {
		log.Printf("dashboard: asset %q has no id, not polling", a.Key)
		return
	}

	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.mu.Lock()
	same := s.asset.ID == a.ID && s.asset.SessionKey() == key
	stale := s.stale
	s.mu.Unlock()

	if same {
		if stale {
			s.refetchMappings(ctx, a)
		}
		s.live.Start(key)
		s.history.Start(key)
		s.syncPolling()
		return
	}

	valid, ok := s.fetchMappings(ctx, a)

	// Ticks still in flight for the previous asset check s.asset under s.mu
	// and drop their result once this commits.
	s.mu.Lock()
	s.asset = a
	s.mappings = valid
	s.stale = !ok
	s.icons = nil
	s.tracker.SetAsset(a)
	s.mu.Unlock()

	s.sceneLoading()
	if s.viewer != nil {
		s.viewer.ShowAsset(a)
	}

	s.live.Start(key)
	s.history.Start(key)
	s.syncPolling()
}

// fetchMappings returns a's valid icon mappings. ok is false if the fetch
// failed, in which case a later Select of the same asset retries it.
func (s *Session) fetchMappings(ctx context.Context, a telemetry.Asset) ([]telemetry.Mapping, bool) {
	key := a.SessionKey()
	mappings, err := s.source.IconMappings(ctx, a.ID)
	if err != nil {
		log.Printf("dashboard: icon mappings for %s: %v", key, err)
		return nil, false
	}
	valid, skipped := telemetry.Valid(mappings)
	for _, err := range skipped {
		log.Printf("dashboard: skipping mapping for %s: %v", key, err)
	}
	return valid, true
}

func (s *Session) refetchMappings(ctx context.Context, a telemetry.Asset) {
	valid, ok := s.fetchMappings(ctx, a)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asset.SessionKey() != a.SessionKey() {
		return
	}
	s.mappings = valid
	s.stale = false
}

// Pause stops polling and keeps all accumulated state.
func (s *Session) Pause() {
	s.live.Pause()
	s.history.Pause()
	s.syncPolling()
}

// Resume restarts polling the active asset with an immediate tick.
func (s *Session) Resume() {
	s.live.Resume()
	s.history.Resume()
	s.syncPolling()
}

// Close stops polling and cancels any pending reconciliation.
func (s *Session) Close() {
	s.live.Stop()
	s.history.Stop()
	s.debounce.Reset()
	s.syncPolling()
}

// SetVisible applies the user's annotation visibility toggle.
func (s *Session) SetVisible(visible bool) {
	s.ctrl.SetVisible(visible)
	s.tracker.SetOverlay(s.ctrl.State())
}

// Asset returns the active asset.
func (s *Session) Asset() telemetry.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asset
}

// Payload returns the last received payload, or nil.
func (s *Session) Payload() *telemetry.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload
}

// Mappings returns the active asset's valid icon mappings.
func (s *Session) Mappings() []telemetry.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Mapping(nil), s.mappings...)
}

// Points returns the rolling series for metric, oldest first.
func (s *Session) Points(metric string) []series.Point {
	return s.buf.Points(metric)
}

// Metrics lists the metrics with rolling series.
func (s *Session) Metrics() []string {
	return s.buf.Metrics()
}

// Overlay returns the overlay controller state.
func (s *Session) Overlay() overlay.State {
	return s.ctrl.State()
}

// Polling returns the live poller status.
func (s *Session) Polling() poll.Status {
	return s.live.Status()
}

// Tracker returns the status tracker the session reports into.
func (s *Session) Tracker() *status.Tracker {
	return s.tracker
}

// onSwitch runs under the live manager's lock when the asset changes.
func (s *Session) onSwitch(prev, next string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payload = nil
	s.icons = nil
	s.lastTS = 0
	s.buf.ResetAll()
	s.chart.Reset()
	s.debounce.Reset()
	s.detector.Reset(next)
	if prev != "" {
		log.Printf("dashboard: switched from %s to %s", prev, next)
	}
}

func (s *Session) liveTick(ctx context.Context, key string) error {
	s.mu.Lock()
	id := s.asset.ID
	current := s.asset.SessionKey() == key
	s.mu.Unlock()
	if !current {
		return nil
	}

	p, err := s.source.Latest(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch latest: %w", err)
	}
	if p == nil {
		p = &telemetry.Payload{Values: map[string]any{}}
	}

	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.asset.SessionKey() != key {
		s.mu.Unlock()
		return nil
	}
	s.payload = p

	at := p.Time()
	if at.IsZero() {
		at = s.clock.Now()
	}
	events := s.detector.Process(logic.Input{Values: p.Values, Time: at})
	recent, counts := s.detector.Recent(), s.detector.Counts()

	if p.Timestamp <= 0 || p.Timestamp != s.lastTS {
		s.pushLocked(p, at)
		s.lastTS = p.Timestamp
	}

	icons := overlay.Build(s.mappings, p)
	s.icons = icons
	s.debounce.Update(icons)
	s.tracker.UpdateReadout(p)
	s.tracker.UpdateEvents(recent, counts)
	s.mu.Unlock()

	for _, e := range events {
		log.Printf("dashboard: %s: %s", key, e.Message())
		if s.trips == nil {
			continue
		}
		// Don't stop the tick on publish failure.
		if err := s.trips.Publish(e); err != nil {
			log.Printf("dashboard: publish trip: %v", err)
		}
	}
	return nil
}

// pushLocked appends every numeric top-level value to the rolling series.
func (s *Session) pushLocked(p *telemetry.Payload, at time.Time) {
	labels := make([]string, 0, len(p.Values))
	for label := range p.Values {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		v, ok := telemetry.Normalize(p.Values[label])
		if !ok {
			continue
		}
		f, ok := v.Float()
		if !ok {
			continue
		}
		s.buf.Push(label, at, f)
		s.chart.AppendPoint(label, at, f)
	}
}

func (s *Session) historyTick(ctx context.Context, key string) error {
	data, err := s.source.Series(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch series: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.asset.SessionKey() != key {
		return nil
	}
	for metric, pts := range data {
		s.chart.ReplaceSeries(metric, pts)
	}
	return nil
}

// reconcile is the debouncer's apply step.
func (s *Session) reconcile(icons []overlay.Annotation) {
	// Failures are logged by the controller. Forgetting the signature makes
	// the next tick retry even if nothing changed.
	if err := s.ctrl.Reconcile(context.Background(), icons); err != nil {
		s.debounce.Forget()
	}
	s.tracker.SetOverlay(s.ctrl.State())
}

// sceneLoading holds the last built icons so the reloaded model is repainted
// without waiting for a tick, which never comes while paused.
func (s *Session) sceneLoading() {
	s.mu.Lock()
	icons := s.icons
	s.mu.Unlock()

	s.ctrl.SceneReloading(icons)
	s.tracker.SetOverlay(s.ctrl.State())
}

func (s *Session) sceneReady() {
	if err := s.ctrl.OnSceneReady(context.Background()); err != nil {
		log.Printf("dashboard: scene ready: %v", err)
	}

	s.mu.Lock()
	icons := s.icons
	s.mu.Unlock()

	// A model reload drops what was pending; let the next tick repaint.
	if overlay.HasChanged(s.ctrl.Current(), icons) {
		s.debounce.Forget()
	}
	s.tracker.SetOverlay(s.ctrl.State())
}

func (s *Session) syncPolling() {
	st := s.live.Status()
	s.tracker.SetPolling(st.Running, st.Paused)
}

type nopChart struct{}

func (nopChart) AppendPoint(string, time.Time, float64) {}
func (nopChart) ReplaceSeries(string, []series.Point)   {}
func (nopChart) Reset()                                 {}
