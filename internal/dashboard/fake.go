package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/twin-monitor/internal/series"
	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// FakeSource serves canned telemetry for testing.
type FakeSource struct {
	mu sync.Mutex

	// Payloads maps asset ID to the payload Latest returns.
	Payloads map[int]*telemetry.Payload

	// Mappings maps asset ID to the mappings IconMappings returns.
	Mappings map[int][]telemetry.Mapping

	// History maps asset key to the series Series returns.
	History map[string]map[string][]series.Point

	// LatestError, if set, will be returned by Latest.
	LatestError error

	// MappingError, if set, will be returned by IconMappings.
	MappingError error

	// NoCredential makes HasCredential report false.
	NoCredential bool

	// OnLatest, if set, runs inside Latest before it returns.
	OnLatest func(assetID int)

	LatestCalls  map[int]int
	MappingCalls map[int]int
	SeriesCalls  map[string]int
}

// NewFakeSource creates an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		Payloads:     make(map[int]*telemetry.Payload),
		Mappings:     make(map[int][]telemetry.Mapping),
		History:      make(map[string]map[string][]series.Point),
		LatestCalls:  make(map[int]int),
		MappingCalls: make(map[int]int),
		SeriesCalls:  make(map[string]int),
	}
}

// SetPayload replaces the payload served for assetID.
func (f *FakeSource) SetPayload(assetID int, p *telemetry.Payload) {
	f.mu.Lock()
	f.Payloads[assetID] = p
	f.mu.Unlock()
}

// HasCredential reports whether a credential is configured.
func (f *FakeSource) HasCredential() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.NoCredential
}

// Latest returns the canned payload for assetID.
func (f *FakeSource) Latest(_ context.Context, assetID int) (*telemetry.Payload, error) {
	f.mu.Lock()
	f.LatestCalls[assetID]++
	p, err, hook := f.Payloads[assetID], f.LatestError, f.OnLatest
	f.mu.Unlock()

	if hook != nil {
		hook(assetID)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// IconMappings returns the canned mappings for assetID.
func (f *FakeSource) IconMappings(_ context.Context, assetID int) ([]telemetry.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MappingCalls[assetID]++
	if f.MappingError != nil {
		return nil, f.MappingError
	}
	return f.Mappings[assetID], nil
}

// Series returns the canned history for assetKey.
func (f *FakeSource) Series(_ context.Context, assetKey string) (map[string][]series.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SeriesCalls[assetKey]++
	return f.History[assetKey], nil
}

// Calls returns the number of Latest calls for assetID.
func (f *FakeSource) Calls(assetID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.LatestCalls[assetID]
}

// FakeChart records chart calls for testing.
type FakeChart struct {
	Appended map[string][]series.Point
	Replaced map[string][]series.Point
	Resets   int
}

// NewFakeChart creates an empty FakeChart.
func NewFakeChart() *FakeChart {
	return &FakeChart{
		Appended: make(map[string][]series.Point),
		Replaced: make(map[string][]series.Point),
	}
}

// AppendPoint records a live point.
func (c *FakeChart) AppendPoint(metric string, t time.Time, v float64) {
	c.Appended[metric] = append(c.Appended[metric], series.Point{Time: t, Value: v})
}

// ReplaceSeries records a history replacement.
func (c *FakeChart) ReplaceSeries(metric string, pts []series.Point) {
	c.Replaced[metric] = pts
}

// Reset clears everything recorded.
func (c *FakeChart) Reset() {
	c.Appended = make(map[string][]series.Point)
	c.Replaced = make(map[string][]series.Point)
	c.Resets++
}
