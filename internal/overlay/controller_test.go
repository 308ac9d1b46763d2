package overlay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyController(t *testing.T) (*Controller, *FakeScene) {
	t.Helper()
	scene := NewFakeScene()
	c := NewController(scene)
	require.NoError(t, c.OnSceneReady(context.Background()))
	return c, scene
}

func TestControllerPendingUntilReady(t *testing.T) {
	scene := NewFakeScene()
	c := NewController(scene)
	ctx := context.Background()

	c.SceneLoading()
	assert.Equal(t, PhaseLoading, c.State().Phase)

	require.NoError(t, c.Reconcile(ctx, icons("a")))
	assert.Empty(t, scene.Loads, "nothing loads before the scene is ready")
	assert.True(t, c.State().Pending)

	require.NoError(t, c.OnSceneReady(ctx))
	require.Len(t, scene.Loads, 1, "pending icons apply exactly once, with no empty render first")
	assert.Equal(t, icons("a"), scene.Loads[0].Annotations)
	assert.Equal(t, icons("a"), scene.Shown())

	st := c.State()
	assert.Equal(t, PhaseLoaded, st.Phase)
	assert.False(t, st.Pending)
	assert.Equal(t, 1, st.Reloads)
}

func TestControllerReadyWithoutPendingRendersEmpty(t *testing.T) {
	c, scene := readyController(t)

	require.Len(t, scene.Loads, 1)
	assert.Empty(t, scene.Loads[0].Annotations)
	assert.Equal(t, PhaseLoaded, c.State().Phase)
}

func TestControllerReloadCycle(t *testing.T) {
	c, scene := readyController(t)
	ctx := context.Background()

	require.NoError(t, c.Reconcile(ctx, icons("a")))
	require.NoError(t, c.Reconcile(ctx, icons("b")))

	assert.Len(t, scene.Loads, 3)
	assert.Equal(t, 2, scene.Unloads)
	live := scene.Live()
	require.NotNil(t, live)
	assert.Equal(t, icons("b"), live.Annotations)
	assert.Equal(t, 1, live.Applies, "icons are applied explicitly after load")
	assert.Equal(t, 1, live.StaleCleared)
	assert.Equal(t, 1, live.Shows)
	assert.Equal(t, icons("b"), c.Current())
}

func TestControllerVisibilityOffSurvivesReloads(t *testing.T) {
	c, scene := readyController(t)
	ctx := context.Background()

	// User hides annotations on the live instance.
	scene.Live().SetVisible(false)

	require.NoError(t, c.Reconcile(ctx, icons("a")))
	require.NoError(t, c.Reconcile(ctx, icons("b")))

	live := scene.Live()
	require.NotNil(t, live)
	assert.False(t, live.Visible())
	assert.Empty(t, scene.Shown(), "hidden annotations must stay hidden")
	assert.Equal(t, 0, live.Shows)
	assert.Equal(t, 0, live.StaleCleared)
	assert.False(t, c.State().Visible)
}

func TestControllerSetVisible(t *testing.T) {
	c, scene := readyController(t)
	ctx := context.Background()
	require.NoError(t, c.Reconcile(ctx, icons("a")))

	c.SetVisible(false)
	assert.Empty(t, scene.Shown())

	c.SetVisible(true)
	assert.Equal(t, icons("a"), scene.Shown())
	assert.Equal(t, 2, scene.Live().Shows)
}

func TestControllerVisibilitySurvivesModelReload(t *testing.T) {
	c, scene := readyController(t)
	ctx := context.Background()
	scene.Live().SetVisible(false)

	c.SceneLoading()
	require.NoError(t, c.Reconcile(ctx, icons("a")))
	require.NoError(t, c.OnSceneReady(ctx))

	assert.False(t, scene.Live().Visible())
	assert.Equal(t, 0, scene.Unloads, "the model reload takes the old instance with it")
}

func TestControllerSceneLoadingDropsPending(t *testing.T) {
	scene := NewFakeScene()
	c := NewController(scene)
	ctx := context.Background()

	require.NoError(t, c.Reconcile(ctx, icons("old")))
	c.SceneLoading()
	require.NoError(t, c.OnSceneReady(ctx))

	require.Len(t, scene.Loads, 1)
	assert.Empty(t, scene.Loads[0].Annotations)
}

func TestControllerSceneReloadingRepaintsHeldIcons(t *testing.T) {
	c, scene := readyController(t)
	ctx := context.Background()
	require.NoError(t, c.Reconcile(ctx, icons("a")))

	c.SceneReloading(icons("a"))
	assert.True(t, c.State().Pending)
	require.NoError(t, c.OnSceneReady(ctx))

	require.Len(t, scene.Loads, 3)
	assert.Equal(t, icons("a"), scene.Loads[2].Annotations, "no empty render after the reload")
	assert.Equal(t, icons("a"), scene.Shown())
}

func TestControllerSceneReloadingNilHoldsNothing(t *testing.T) {
	c, scene := readyController(t)

	c.SceneReloading(nil)
	assert.False(t, c.State().Pending)
	require.NoError(t, c.OnSceneReady(context.Background()))

	require.Len(t, scene.Loads, 2)
	assert.Empty(t, scene.Loads[1].Annotations)
}

func TestControllerLoadFailureHoldsPhase(t *testing.T) {
	c, scene := readyController(t)
	ctx := context.Background()
	require.NoError(t, c.Reconcile(ctx, icons("a")))

	scene.LoadError = errors.New("viewer gone")
	err := c.Reconcile(ctx, icons("b"))
	require.Error(t, err)
	assert.Equal(t, PhaseUnloaded, c.State().Phase, "the unload succeeded, so unloaded is the last phase reached")

	scene.LoadError = nil
	require.NoError(t, c.Reconcile(ctx, icons("c")))
	assert.Equal(t, PhaseLoaded, c.State().Phase)
	assert.Equal(t, icons("c"), scene.Shown())
}

func TestControllerUnloadFailureKeepsInstance(t *testing.T) {
	c, scene := readyController(t)
	ctx := context.Background()
	require.NoError(t, c.Reconcile(ctx, icons("a")))

	scene.UnloadError = errors.New("busy")
	require.Error(t, c.Reconcile(ctx, icons("b")))
	assert.Equal(t, PhaseLoaded, c.State().Phase)
	assert.Equal(t, icons("a"), scene.Shown())

	scene.UnloadError = nil
	require.NoError(t, c.Reconcile(ctx, icons("b")))
	assert.Equal(t, icons("b"), scene.Shown())
}

func TestControllerApplyFailureStillLoads(t *testing.T) {
	scene := &applyFailScene{FakeScene: NewFakeScene()}
	c := NewController(scene)
	require.NoError(t, c.OnSceneReady(context.Background()))
	assert.Equal(t, PhaseLoaded, c.State().Phase)
}

type applyFailScene struct {
	*FakeScene
}

func (s *applyFailScene) LoadAnnotationExtension(ctx context.Context, cfg ExtensionConfig) (Extension, error) {
	ext, err := s.FakeScene.LoadAnnotationExtension(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ext.(*FakeExtension).ApplyError = errors.New("apply failed")
	return ext, nil
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "UNLOADED", PhaseUnloaded.String())
	assert.Equal(t, "LOADING", PhaseLoading.String())
	assert.Equal(t, "LOADED", PhaseLoaded.String())
	assert.Equal(t, "UNKNOWN", Phase(9).String())
}
