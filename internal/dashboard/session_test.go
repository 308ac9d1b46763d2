package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/twin-monitor/internal/clock"
	"github.com/sweeney/twin-monitor/internal/mqtt"
	"github.com/sweeney/twin-monitor/internal/overlay"
	"github.com/sweeney/twin-monitor/internal/poll"
	"github.com/sweeney/twin-monitor/internal/series"
	"github.com/sweeney/twin-monitor/internal/telemetry"
)

var (
	north = telemetry.Asset{ID: 1, Key: "north", Name: "North Farm"}
	south = telemetry.Asset{ID: 2, Key: "south", Name: "South Farm"}
	t0    = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	clk      *clock.Fake
	src      *FakeSource
	scene    *overlay.FakeScene
	notifier *overlay.FakeNotifier
	chart    *FakeChart
	trips    *mqtt.FakePublisher
	s        *Session
}

func tmpl(s string) *string { return &s }

func payload(ts float64, values map[string]any) *telemetry.Payload {
	return &telemetry.Payload{Timestamp: ts, Values: values}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.NewFake(t0),
		src:      NewFakeSource(),
		scene:    overlay.NewFakeScene(),
		notifier: &overlay.FakeNotifier{},
		chart:    NewFakeChart(),
		trips:    mqtt.NewFakePublisher(),
	}
	temp := telemetry.Mapping{TargetID: 7, Key: "temp", LabelTemplate: tmpl("{value} °C")}
	h.src.Mappings[north.ID] = []telemetry.Mapping{temp}
	h.src.Mappings[south.ID] = []telemetry.Mapping{temp}

	h.s = NewSession(Config{
		Source:   h.src,
		Scene:    h.scene,
		Notifier: h.notifier,
		Chart:    h.chart,
		Trips:    h.trips,
		Clock:    h.clk,
	})
	t.Cleanup(h.s.Close)
	return h
}

// next advances to the next live tick and lets its debounce window elapse.
func (h *harness) next() {
	h.clk.Advance(poll.LivePeriod)
	h.clk.Advance(overlay.DefaultDebounce)
}

// loaded selects north, runs the first tick and makes the scene ready.
func (h *harness) loaded(t *testing.T) {
	t.Helper()
	h.s.Select(context.Background(), north)
	h.clk.Advance(0)
	h.clk.Advance(overlay.DefaultDebounce)
	h.notifier.Ready()
	require.Len(t, h.scene.Loads, 1)
}

func labels(icons []overlay.Annotation) []string {
	out := make([]string, len(icons))
	for i, a := range icons {
		out[i] = a.Label
	}
	return out
}

func TestPendingAppliedOnSceneReady(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": "36,5"}))

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)
	h.clk.Advance(overlay.DefaultDebounce)

	assert.Empty(t, h.scene.Loads, "no render before the model is ready")
	st := h.s.Overlay()
	assert.True(t, st.Pending)
	assert.Equal(t, overlay.PhaseLoading, st.Phase)

	h.notifier.Ready()

	require.Len(t, h.scene.Loads, 1)
	assert.Equal(t, []string{"36.50 °C"}, labels(h.scene.Loads[0].Annotations))
	assert.Equal(t, []string{"36.50 °C"}, labels(h.scene.Shown()))
	assert.Equal(t, overlay.PhaseLoaded, h.s.Overlay().Phase)
	assert.False(t, h.s.Overlay().Pending)
}

func TestMissingValueRendersPlaceholder(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"other": 1}))

	h.loaded(t)

	assert.Equal(t, []string{"— °C"}, labels(h.scene.Shown()))
}

func TestIdenticalTicksDoNotReload(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0}))
	h.loaded(t)

	h.src.SetPayload(north.ID, payload(1002, map[string]any{"temp": 20.0}))
	h.next()
	h.src.SetPayload(north.ID, payload(1004, map[string]any{"temp": 20.0}))
	h.next()

	assert.Len(t, h.scene.Loads, 1)
	assert.Equal(t, 0, h.scene.Unloads)
	assert.Equal(t, 1, h.s.Overlay().Reloads)
	assert.Equal(t, 3, h.src.Calls(north.ID))
}

func TestChangedValueReloads(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0}))
	h.loaded(t)

	h.src.SetPayload(north.ID, payload(1002, map[string]any{"temp": 21.0}))
	h.next()

	require.Len(t, h.scene.Loads, 2)
	assert.Equal(t, 1, h.scene.Unloads)
	assert.Equal(t, []string{"21.00 °C"}, labels(h.scene.Shown()))
}

func TestVisibilityOffSurvivesReconciliations(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0}))
	h.loaded(t)

	h.s.SetVisible(false)

	h.src.SetPayload(north.ID, payload(1002, map[string]any{"temp": 21.0}))
	h.next()
	h.src.SetPayload(north.ID, payload(1004, map[string]any{"temp": 22.0}))
	h.next()

	require.Len(t, h.scene.Loads, 3)
	assert.Nil(t, h.scene.Shown())
	assert.False(t, h.scene.Live().Visible())
	assert.False(t, h.s.Overlay().Visible)
	assert.Equal(t, []string{"22.00 °C"}, labels(h.scene.Live().Annotations))
}

func TestSelectSameAssetKeepsBuffers(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0}))

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)
	require.Len(t, h.s.Points("temp"), 1)

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)

	assert.Len(t, h.s.Points("temp"), 1)
	assert.Equal(t, 1, h.chart.Resets)
	assert.Equal(t, 1, h.src.MappingCalls[north.ID])
	assert.NotNil(t, h.s.Payload())
}

func TestSelectOtherAssetClearsBuffers(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0, "V": 220.0}))
	h.src.SetPayload(south.ID, payload(1000, map[string]any{"temp": 30.0}))

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)
	require.Len(t, h.s.Points("V"), 1)

	h.s.Select(context.Background(), south)

	assert.Empty(t, h.s.Points("temp"))
	assert.Empty(t, h.s.Points("V"))
	assert.Nil(t, h.s.Payload())
	assert.Equal(t, 2, h.chart.Resets)
	assert.Equal(t, south, h.s.Asset())

	h.clk.Advance(0)
	pts := h.s.Points("temp")
	require.Len(t, pts, 1)
	assert.Equal(t, 30.0, pts[0].Value)
	assert.Empty(t, h.s.Points("V"))
}

func TestNoTickForPreviousAssetAfterSwitch(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 1.0}))
	h.src.SetPayload(south.ID, payload(1000, map[string]any{"temp": 2.0}))

	switched := false
	h.src.OnLatest = func(assetID int) {
		if assetID == north.ID && !switched {
			switched = true
			h.s.Select(context.Background(), south)
		}
	}

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)

	require.True(t, switched)
	require.NotNil(t, h.s.Payload())
	assert.Equal(t, 2.0, h.s.Payload().Values["temp"])
	assert.Equal(t, []float64{2}, values(h.s.Points("temp")))
	assert.Equal(t, "south", h.s.Polling().Key)
}

func values(pts []series.Point) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}

func TestSelectWithoutCredentialIsNoop(t *testing.T) {
	h := newHarness(t)
	h.src.NoCredential = true

	h.s.Select(context.Background(), north)

	assert.Zero(t, h.src.MappingCalls[north.ID])
	assert.False(t, h.s.Polling().Running)
	assert.Zero(t, h.clk.Pending())
}

func TestSelectWithoutIDIsNoop(t *testing.T) {
	h := newHarness(t)

	h.s.Select(context.Background(), telemetry.Asset{Key: "nameless"})

	assert.Empty(t, h.src.MappingCalls)
	assert.False(t, h.s.Polling().Running)
	assert.Zero(t, h.clk.Pending())
}

func TestMalformedMappingsAreSkipped(t *testing.T) {
	h := newHarness(t)
	h.src.Mappings[north.ID] = []telemetry.Mapping{
		{TargetID: 0, Key: "temp"},
		{TargetID: 8, LabelTemplate: tmpl("nothing")},
		{TargetID: 9, Key: "V"},
	}
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"V": 220.0}))

	h.loaded(t)

	require.Len(t, h.s.Mappings(), 1)
	assert.Equal(t, []string{"220.00"}, labels(h.scene.Shown()))
}

func TestPauseRetainsStateAndResumeTicksImmediately(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0}))

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)

	h.s.Pause()
	h.clk.Advance(10 * time.Second)

	assert.Equal(t, 1, h.src.Calls(north.ID))
	assert.Len(t, h.s.Points("temp"), 1)
	assert.NotNil(t, h.s.Payload())
	snap := h.s.Tracker().Snapshot()
	assert.True(t, snap.Paused)
	assert.False(t, snap.Polling)

	h.src.SetPayload(north.ID, payload(1012, map[string]any{"temp": 21.0}))
	h.s.Resume()
	h.clk.Advance(0)

	assert.Equal(t, 2, h.src.Calls(north.ID))
	assert.Equal(t, []float64{20, 21}, values(h.s.Points("temp")))
	assert.False(t, h.s.Tracker().Snapshot().Paused)
}

func TestSelectSameAssetWhilePausedResumes(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0}))

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)
	h.s.Pause()

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)

	assert.True(t, h.s.Polling().Running)
	assert.Equal(t, 2, h.src.Calls(north.ID))
	assert.Len(t, h.s.Points("temp"), 1, "same timestamp is not pushed twice")
}

func TestTransportErrorSkipsTick(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0}))
	h.src.LatestError = errors.New("connection refused")

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)
	assert.Nil(t, h.s.Payload())

	h.src.mu.Lock()
	h.src.LatestError = nil
	h.src.mu.Unlock()
	h.clk.Advance(poll.LivePeriod)

	assert.NotNil(t, h.s.Payload())
	assert.True(t, h.s.Polling().Running)
}

func TestDuplicateTimestampNotPushedTwice(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0}))

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)
	h.clk.Advance(poll.LivePeriod)

	assert.Len(t, h.s.Points("temp"), 1)
	assert.Len(t, h.chart.Appended["temp"], 1)
}

func TestMissingTimestampUsesClock(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(0, map[string]any{"temp": 20.0, "state": "ON"}))

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)
	h.clk.Advance(poll.LivePeriod)

	pts := h.s.Points("temp")
	require.Len(t, pts, 2)
	assert.Equal(t, t0, pts[0].Time)
	assert.Equal(t, t0.Add(poll.LivePeriod), pts[1].Time)
	assert.Empty(t, h.s.Points("state"), "text values are not charted")
}

func TestHistoryTickReplacesChartSeries(t *testing.T) {
	h := newHarness(t)
	hist := []series.Point{{Time: t0.Add(-time.Minute), Value: 219}, {Time: t0, Value: 221}}
	h.src.History["north"] = map[string][]series.Point{"V": hist}

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)

	assert.Equal(t, hist, h.chart.Replaced["V"])
	assert.Equal(t, 1, h.src.SeriesCalls["north"])

	h.clk.Advance(poll.HistoryPeriod)
	assert.Equal(t, 2, h.src.SeriesCalls["north"])
}

func TestTripsArePublishedAndTracked(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"POWER2": "ON"}))

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)
	h.clk.Advance(poll.LivePeriod)

	require.Len(t, h.trips.Events, 1)
	assert.Equal(t, "north", h.trips.Events[0].Asset)
	assert.Equal(t, "Trip on phase B", h.trips.Events[0].Message())

	snap := h.s.Tracker().Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, 1, snap.Counts.B)
	require.Len(t, snap.Readout, 1)
	assert.Equal(t, "ON", snap.Readout[0].Value)
}

func TestModelReloadRepaintsHeldIcons(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0}))
	h.loaded(t)

	h.notifier.Loading()
	assert.Equal(t, overlay.PhaseLoading, h.s.Overlay().Phase)
	h.notifier.Ready()

	require.Len(t, h.scene.Loads, 2)
	assert.Equal(t, []string{"20.00 °C"}, labels(h.scene.Loads[1].Annotations))

	h.next()
	assert.Len(t, h.scene.Loads, 2, "unchanged labels do not reload")
	assert.Equal(t, []string{"20.00 °C"}, labels(h.scene.Shown()))
}

func TestModelReloadWhilePausedKeepsAnnotations(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": "36,5"}))
	h.loaded(t)

	h.s.Pause()
	h.notifier.Loading()
	h.notifier.Ready()

	require.Len(t, h.scene.Loads, 2)
	assert.Equal(t, []string{"36.50 °C"}, labels(h.scene.Loads[1].Annotations))
	for i := 0; i < 5; i++ {
		h.next()
	}
	assert.Equal(t, []string{"36.50 °C"}, labels(h.scene.Shown()))
	assert.Equal(t, 1, h.src.Calls(north.ID))
}

func TestFailedLoadRetriedOnNextTick(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": "36,5"}))
	h.loaded(t)

	h.scene.LoadError = errors.New("viewer gone")
	h.src.SetPayload(north.ID, payload(1002, map[string]any{"temp": 37.0}))
	h.next()
	assert.Empty(t, h.scene.Shown())
	assert.Equal(t, overlay.PhaseUnloaded, h.s.Overlay().Phase)

	h.scene.LoadError = nil
	h.src.SetPayload(north.ID, payload(1004, map[string]any{"temp": 37.0}))
	h.next()

	require.Len(t, h.scene.Loads, 2)
	assert.Equal(t, []string{"37.00 °C"}, labels(h.scene.Shown()))
	assert.Equal(t, overlay.PhaseLoaded, h.s.Overlay().Phase)

	h.next()
	assert.Len(t, h.scene.Loads, 2, "suppression resumes after a good load")
}

func TestMappingFetchRetriedOnReselect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0}))
	h.src.MappingError = errors.New("503 Service Unavailable")

	h.s.Select(ctx, north)
	h.clk.Advance(0)
	h.clk.Advance(overlay.DefaultDebounce)
	h.notifier.Ready()
	assert.Empty(t, h.s.Mappings())
	assert.Empty(t, h.scene.Shown())

	h.src.mu.Lock()
	h.src.MappingError = nil
	h.src.mu.Unlock()
	h.s.Select(ctx, north)

	assert.Equal(t, 2, h.src.MappingCalls[north.ID])
	require.Len(t, h.s.Mappings(), 1)
	assert.Len(t, h.s.Points("temp"), 1, "reselect keeps buffers")

	h.next()
	assert.Equal(t, []string{"20.00 °C"}, labels(h.scene.Shown()))

	h.s.Select(ctx, north)
	assert.Equal(t, 2, h.src.MappingCalls[north.ID], "no refetch once loaded")
}

func TestTickForReplacedAssetIsDropped(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 1.0, "POWER1": "ON"}))
	h.src.SetPayload(south.ID, payload(1000, map[string]any{"temp": 2.0}))

	h.s.Select(context.Background(), north)
	h.s.Select(context.Background(), south)

	// A north tick that got past its cancellation check.
	require.NoError(t, h.s.liveTick(context.Background(), "north"))

	assert.Nil(t, h.s.Payload())
	assert.Empty(t, h.s.Points("temp"))
	assert.Empty(t, h.trips.Events)
	snap := h.s.Tracker().Snapshot()
	assert.Equal(t, "south", snap.Asset.Key)
	assert.Empty(t, snap.Readout)
}

func TestCloseStopsPolling(t *testing.T) {
	h := newHarness(t)
	h.src.SetPayload(north.ID, payload(1000, map[string]any{"temp": 20.0}))

	h.s.Select(context.Background(), north)
	h.clk.Advance(0)
	h.s.Close()
	h.clk.Advance(time.Minute)

	assert.Equal(t, 1, h.src.Calls(north.ID))
	assert.Zero(t, h.clk.Pending())
	assert.Empty(t, h.scene.Loads)
}
