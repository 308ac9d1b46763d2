package overlay

import "context"

// ExtensionConfig is handed to the scene when the annotation extension loads.
type ExtensionConfig struct {
	Annotations []Annotation
}

// Scene is the 3D viewer hosting the annotation extension. The extension has
// no incremental update: a new annotation set means unload and load again.
// Implementations must not call back into the Controller from these methods.
type Scene interface {
	LoadAnnotationExtension(ctx context.Context, cfg ExtensionConfig) (Extension, error)
	UnloadAnnotationExtension(ctx context.Context) error
}

// Extension is a loaded annotation extension instance.
type Extension interface {
	// SetAnnotations replaces the rendered annotation set.
	SetAnnotations(icons []Annotation) error

	Visible() bool
	SetVisible(visible bool)

	// ClearStale removes rendering left behind by a previous instance.
	ClearStale()

	// Show forces the instance's annotations onto the screen.
	Show()
}

// Notifier delivers scene model lifecycle notifications.
type Notifier interface {
	// OnModelLoading registers f to run when a model starts loading.
	OnModelLoading(f func())

	// OnModelReady registers f to run when a model has finished loading.
	OnModelReady(f func())
}
