package testbed

import (
	"math"
	"time"

	"github.com/spaghettifunk/cascade/engine"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
	"github.com/spaghettifunk/cascade/engine/renderer/views"
)

const (
	probeCount  = 4
	probeExtent = 128
)

var clearColor = [4]float32{0.1, 0.1, 0.2, 1.0}

type TestGame struct {
	*engine.Game
}

type gameState struct {
	elapsed time.Duration
	width   uint32
	height  uint32

	probes *views.ProbeBakeView
	scene  *views.SceneView
	post   *views.PostProcessView
}

func NewTestGame(app *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			State:             &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

// Initialize declares the frame: a one-time probe bake, then the scene
// tonemapped on its way to the swapchain.
func (g *TestGame) Initialize(builder *engine.GraphBuilder) error {
	state := g.State.(*gameState)

	probes, err := views.NewProbeBakeView(probeCount)
	if err != nil {
		return err
	}
	bake, err := builder.CapturePhase(engine.PhaseOptions{Name: "probe-bake", OneTime: true},
		graph.Extent{Width: probeExtent, Height: probeExtent}, probes.Pools(), 1, clearColor, probes)
	if err != nil {
		return err
	}
	if bake != nil {
		state.probes = probes
	}

	state.scene = views.NewSceneView(nil)
	chain, err := builder.PostProcessedScene(engine.PhaseOptions{Name: "scene"}, engine.PhaseOptions{Name: "post"},
		clearColor, "tonemap", state.scene)
	if err != nil {
		return err
	}
	if chain.View != nil {
		state.post = chain.View
		state.post.OnInput = func(in graph.Output) {
			core.LogDebug("post: tonemapping scene image %v", in.Image)
		}
	}
	return nil
}

func (g *TestGame) Update(deltaTime time.Duration) error {
	state := g.State.(*gameState)
	state.elapsed += deltaTime
	return nil
}

func (g *TestGame) Render(deltaTime time.Duration) (interface{}, error) {
	state := g.State.(*gameState)
	return &views.Scene{
		Elapsed:  state.elapsed,
		Exposure: exposureAt(state.elapsed),
	}, nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	if state.probes != nil {
		core.LogInfo("probe bake captured %d of %d face(s) over %d probe(s)", state.probes.BakedFaces(), state.probes.Pools(), probeCount)
	}
	if state.scene != nil {
		core.LogInfo("scene drawn %d time(s)", state.scene.Draws())
	}
	if state.post != nil {
		core.LogInfo("post-processing dispatched %d time(s)", state.post.Dispatches())
	}
	return nil
}

// exposureAt slowly pulses the exposure between 0.5 and 1.5.
func exposureAt(elapsed time.Duration) float32 {
	return float32(1.0 + 0.5*math.Sin(elapsed.Seconds()))
}
