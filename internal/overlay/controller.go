package overlay

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/twin-monitor/internal/metrics"
)

// Phase is the annotation extension lifecycle phase.
type Phase int

const (
	PhaseUnloaded Phase = iota
	PhaseLoading
	PhaseLoaded
)

func (p Phase) String() string {
	switch p {
	case PhaseUnloaded:
		return "UNLOADED"
	case PhaseLoading:
		return "LOADING"
	case PhaseLoaded:
		return "LOADED"
	}
	return "UNKNOWN"
}

// State is a point-in-time view of the controller.
type State struct {
	Phase       Phase
	Ready       bool
	Visible     bool
	Pending     bool
	Annotations int
	Reloads     int
}

// Controller drives the scene's annotation extension. Every reconciliation
// replaces the extension instance; the user's visibility choice is carried
// from each instance to the next.
type Controller struct {
	scene Scene

	mu         sync.Mutex
	phase      Phase
	ready      bool
	visible    bool
	pending    []Annotation
	hasPending bool
	ext        Extension
	current    []Annotation
	reloads    int
}

// NewController creates a Controller for scene. Annotations start visible and
// the scene starts not ready.
func NewController(scene Scene) *Controller {
	return &Controller{scene: scene, visible: true}
}

// Reconcile shows icons on the scene. Before the scene is ready the icons are
// held as pending and applied by OnSceneReady.
func (c *Controller) Reconcile(ctx context.Context, icons []Annotation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconcileLocked(ctx, icons)
}

func (c *Controller) reconcileLocked(ctx context.Context, icons []Annotation) error {
	if !c.ready {
		c.pending = append([]Annotation(nil), icons...)
		c.hasPending = true
		metrics.OverlayPending.Inc()
		return nil
	}

	if c.ext != nil {
		c.visible = c.ext.Visible()
	}

	last := c.phase
	c.phase = PhaseLoading

	if c.ext != nil {
		if err := c.scene.UnloadAnnotationExtension(ctx); err != nil {
			c.phase = last
			metrics.SceneFailures.WithLabelValues("unload").Inc()
			log.Printf("overlay: unload extension: %v", err)
			return fmt.Errorf("unload annotation extension: %w", err)
		}
		c.ext = nil
		c.current = nil
		last = PhaseUnloaded
	}

	ext, err := c.scene.LoadAnnotationExtension(ctx, ExtensionConfig{Annotations: icons})
	if err != nil {
		c.phase = last
		metrics.SceneFailures.WithLabelValues("load").Inc()
		log.Printf("overlay: load extension: %v", err)
		return fmt.Errorf("load annotation extension: %w", err)
	}

	// Load-time config and an explicit apply are not guaranteed to agree.
	if err := ext.SetAnnotations(icons); err != nil {
		metrics.SceneFailures.WithLabelValues("apply").Inc()
		log.Printf("overlay: apply annotations: %v", err)
	}

	ext.SetVisible(c.visible)
	if c.visible {
		// A recreated instance does not inherit its predecessor's rendering.
		ext.ClearStale()
		ext.Show()
	}

	c.ext = ext
	c.current = append([]Annotation(nil), icons...)
	c.phase = PhaseLoaded
	c.reloads++
	metrics.OverlayReconciliations.Inc()
	return nil
}

// OnSceneReady marks the scene ready and applies the pending icons, or an
// empty set if nothing is pending.
func (c *Controller) OnSceneReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ready = true
	icons := c.pending
	c.pending, c.hasPending = nil, false
	return c.reconcileLocked(ctx, icons)
}

// SceneLoading records that the scene's model is being replaced. The
// extension goes away with the old model; visibility is kept and anything
// pending for the old model is dropped.
func (c *Controller) SceneLoading() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sceneLoadingLocked()
}

// SceneReloading is SceneLoading for a model that comes back with the same
// content. A non-nil icons is held as pending so that OnSceneReady repaints
// it instead of an empty set.
func (c *Controller) SceneReloading(icons []Annotation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sceneLoadingLocked()
	if icons != nil {
		c.pending = append([]Annotation(nil), icons...)
		c.hasPending = true
	}
}

func (c *Controller) sceneLoadingLocked() {
	if c.ext != nil {
		c.visible = c.ext.Visible()
	}
	c.ext = nil
	c.current = nil
	c.ready = false
	c.pending, c.hasPending = nil, false
	c.phase = PhaseLoading
}

// SetVisible applies the user's visibility toggle.
func (c *Controller) SetVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.visible = visible
	if c.ext == nil {
		return
	}
	c.ext.SetVisible(visible)
	if visible {
		c.ext.Show()
	}
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	visible := c.visible
	if c.ext != nil {
		visible = c.ext.Visible()
	}
	return State{
		Phase:       c.phase,
		Ready:       c.ready,
		Visible:     visible,
		Pending:     c.hasPending,
		Annotations: len(c.current),
		Reloads:     c.reloads,
	}
}

// Current returns the annotation set of the live extension instance.
func (c *Controller) Current() []Annotation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Annotation(nil), c.current...)
}
