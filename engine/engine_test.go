package engine

import (
	"testing"

	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
	"github.com/spaghettifunk/cascade/engine/renderer/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phasesConfig = `
[renderer]
buffering_depth = 3

[[phases]]
name = "probe-bake"
buffering_depth = 1
render_count = 2

[[phases]]
name = "post"
enabled = false
`

func newTestPhaseList(t *testing.T) *phaseList {
	t.Helper()
	cfg, err := core.ParseConfig([]byte(phasesConfig))
	require.NoError(t, err)
	return newPhaseList(cfg)
}

func TestPhaseListResolve(t *testing.T) {
	pl := newTestPhaseList(t)

	opts, ok := pl.resolve(PhaseOptions{Name: "probe-bake", OneTime: true, BufferingDepth: 2})
	require.True(t, ok)
	assert.Equal(t, 1, opts.BufferingDepth, "config overrides the game")
	assert.Equal(t, 2, opts.RenderCount)
	assert.True(t, opts.OneTime)

	opts, ok = pl.resolve(PhaseOptions{Name: "scene", RenderCount: 2})
	require.True(t, ok)
	assert.Equal(t, 3, opts.BufferingDepth, "renderer default")
	assert.Equal(t, 2, opts.RenderCount, "game value kept when undeclared")

	opts, ok = pl.resolve(PhaseOptions{Name: "other"})
	require.True(t, ok)
	assert.Equal(t, 1, opts.RenderCount)

	_, ok = pl.resolve(PhaseOptions{Name: "post"})
	assert.False(t, ok)
}

func TestPhaseListBuildsGraphInDeclarationOrder(t *testing.T) {
	pl := newTestPhaseList(t)
	dev := graphtest.NewDevice()

	newPhase := func(name string, oneShot bool) graph.Phase {
		p, err := graph.NewComputePhase(dev, graph.ComputePhaseConfig{
			Name:           name,
			BufferingDepth: 1,
			RenderCount:    1,
			OneShotCapture: oneShot,
		})
		require.NoError(t, err)
		return p
	}

	_, err := pl.build(dev)
	require.ErrorIs(t, err, core.ErrEmptyGraph)

	bake := newPhase("bake", true)
	scene := newPhase("scene", false)
	post := newPhase("post", false)
	pl.add(scene, false)
	pl.add(bake, true)
	pl.add(post, false)

	rg, err := pl.build(dev)
	require.NoError(t, err)
	assert.Equal(t, []graph.Phase{bake}, rg.OneTimePhases())
	assert.Equal(t, []graph.Phase{scene, post}, rg.SteadyPhases())
	assert.Equal(t, graph.OneTimePending, rg.OneTimeState())
}

func TestEngineEvents(t *testing.T) {
	cfg := core.DefaultConfig()
	app, err := NewApplicationConfig(cfg)
	require.NoError(t, err)

	var resized [][2]uint32
	e, err := New(&Game{
		ApplicationConfig: app,
		FnOnResize: func(w, h uint32) error {
			resized = append(resized, [2]uint32{w, h})
			return nil
		},
	})
	require.NoError(t, err)
	e.events.Register(core.EventCodeApplicationQuit, e, e.onEvent)
	e.events.Register(core.EventCodeResized, e, e.onResized)

	e.events.Fire(core.EventCodeResized, nil, core.EventContext{U32: [4]uint32{0, 0}})
	assert.True(t, e.isSuspended)

	e.events.Fire(core.EventCodeResized, nil, core.EventContext{U32: [4]uint32{640, 480}})
	assert.False(t, e.isSuspended)
	assert.Equal(t, [][2]uint32{{640, 480}}, resized)

	// same size again is ignored
	e.events.Fire(core.EventCodeResized, nil, core.EventContext{U32: [4]uint32{640, 480}})
	assert.Len(t, resized, 1)

	assert.True(t, e.events.Fire(core.EventCodeApplicationQuit, nil, core.EventContext{}))
	assert.False(t, e.isRunning.Load())
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(&Game{})
	require.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = NewApplicationConfig(&core.EngineConfig{Logging: core.LoggingSection{Level: "loud"}})
	require.ErrorIs(t, err, core.ErrInvalidConfig)
}
