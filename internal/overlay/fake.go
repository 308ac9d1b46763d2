package overlay

import "context"

// FakeScene records extension lifecycle calls for test assertions.
type FakeScene struct {
	// Loads contains the config of every successful load, in order.
	Loads []ExtensionConfig

	// Unloads counts successful unloads.
	Unloads int

	// Extensions contains every instance handed out, in order.
	Extensions []*FakeExtension

	// LoadError, if set, will be returned by LoadAnnotationExtension.
	LoadError error

	// UnloadError, if set, will be returned by UnloadAnnotationExtension.
	UnloadError error
}

// NewFakeScene creates a FakeScene for testing.
func NewFakeScene() *FakeScene {
	return &FakeScene{}
}

// LoadAnnotationExtension records the config and returns a new instance.
func (s *FakeScene) LoadAnnotationExtension(_ context.Context, cfg ExtensionConfig) (Extension, error) {
	if s.LoadError != nil {
		return nil, s.LoadError
	}
	s.Loads = append(s.Loads, cfg)
	ext := &FakeExtension{Annotations: cfg.Annotations, visible: true}
	s.Extensions = append(s.Extensions, ext)
	return ext, nil
}

// UnloadAnnotationExtension marks the newest instance unloaded.
func (s *FakeScene) UnloadAnnotationExtension(context.Context) error {
	if s.UnloadError != nil {
		return s.UnloadError
	}
	s.Unloads++
	if ext := s.Live(); ext != nil {
		ext.Unloaded = true
	}
	return nil
}

// Live returns the newest instance that has not been unloaded.
func (s *FakeScene) Live() *FakeExtension {
	if len(s.Extensions) == 0 {
		return nil
	}
	ext := s.Extensions[len(s.Extensions)-1]
	if ext.Unloaded {
		return nil
	}
	return ext
}

// Shown returns what a user would currently see.
func (s *FakeScene) Shown() []Annotation {
	ext := s.Live()
	if ext == nil || !ext.visible {
		return nil
	}
	return ext.Annotations
}

// FakeExtension is an annotation extension instance created by FakeScene.
type FakeExtension struct {
	Annotations  []Annotation
	Applies      int
	StaleCleared int
	Shows        int
	Unloaded     bool

	// ApplyError, if set, will be returned by SetAnnotations.
	ApplyError error

	visible bool
}

// SetAnnotations records the applied set.
func (e *FakeExtension) SetAnnotations(icons []Annotation) error {
	if e.ApplyError != nil {
		return e.ApplyError
	}
	e.Annotations = icons
	e.Applies++
	return nil
}

// Visible reports the instance visibility.
func (e *FakeExtension) Visible() bool { return e.visible }

// SetVisible sets the instance visibility, as a user toggle would.
func (e *FakeExtension) SetVisible(visible bool) { e.visible = visible }

// ClearStale counts stale-render clears.
func (e *FakeExtension) ClearStale() { e.StaleCleared++ }

// Show counts explicit shows.
func (e *FakeExtension) Show() { e.Shows++ }

// FakeNotifier holds registered lifecycle callbacks until a test fires them.
type FakeNotifier struct {
	loading []func()
	ready   []func()
}

// OnModelLoading registers f.
func (n *FakeNotifier) OnModelLoading(f func()) { n.loading = append(n.loading, f) }

// OnModelReady registers f.
func (n *FakeNotifier) OnModelReady(f func()) { n.ready = append(n.ready, f) }

// Loading runs every registered loading callback.
func (n *FakeNotifier) Loading() {
	for _, f := range n.loading {
		f()
	}
}

// Ready runs every registered ready callback.
func (n *FakeNotifier) Ready() {
	for _, f := range n.ready {
		f()
	}
}
