package views

import (
	"fmt"
	"testing"
	"time"

	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
	"github.com/spaghettifunk/cascade/engine/renderer/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	binds int
	err   error
}

func (p *fakePipeline) Bind(graph.CommandBuffer) error {
	p.binds++
	return p.err
}

type fakeBinder struct {
	bound []graph.Output
	err   error
}

func (b *fakeBinder) BindInput(input graph.Output) error {
	if b.err != nil {
		return b.err
	}
	b.bound = append(b.bound, input)
	return nil
}

func record(t *testing.T, state graph.RenderState, cmd graph.CommandBuffer, frame *graph.FrameContext) {
	t.Helper()
	require.NoError(t, state.UpdateUniforms(frame))
	require.NoError(t, state.UpdateDescriptors(frame))
	require.NoError(t, state.RecordDraw(cmd, frame))
}

func TestSceneViewBuildsPacket(t *testing.T) {
	var got []Packet
	sv := NewSceneView(func(_ graph.CommandBuffer, p *Packet) error {
		got = append(got, *p)
		return nil
	})
	cmd := &graphtest.CommandBuffer{}
	probe := graph.Output{Image: "probe0/img5", View: "probe0/view5"}

	record(t, sv, cmd, &graph.FrameContext{
		FrameNumber: 0,
		Area:        graph.Rect{Width: 1600, Height: 900},
		Scene:       &Scene{Elapsed: time.Second, Exposure: 0.5},
		Input:       probe,
	})
	// later frames have no one-time input anymore
	record(t, sv, cmd, &graph.FrameContext{
		FrameNumber: 1,
		Area:        graph.Rect{Width: 800, Height: 800},
	})

	require.Len(t, got, 2)
	assert.InDelta(t, 16.0/9.0, got[0].Aspect, 1e-6)
	assert.Equal(t, float32(0.5), got[0].Exposure)
	assert.Equal(t, probe, got[0].Environment)

	assert.Equal(t, uint64(1), got[1].FrameNumber)
	assert.InDelta(t, 1.0, got[1].Aspect, 1e-6)
	assert.Equal(t, float32(1.0), got[1].Exposure, "default exposure without a scene")
	assert.Equal(t, probe, got[1].Environment, "environment survives the one-time chain")
	assert.Equal(t, uint64(2), sv.Draws())
}

func TestSceneViewWithoutDrawFunc(t *testing.T) {
	sv := NewSceneView(nil)
	record(t, sv, &graphtest.CommandBuffer{}, &graph.FrameContext{})
	assert.Equal(t, float32(1.0), sv.LastPacket().Aspect)
	assert.Equal(t, uint64(1), sv.Draws())
}

func TestProbeBakeViewTracksFaces(t *testing.T) {
	_, err := NewProbeBakeView(0)
	require.ErrorIs(t, err, core.ErrInvalidConfig)

	pv, err := NewProbeBakeView(2)
	require.NoError(t, err)
	require.Equal(t, 2*CubeFaces, pv.Pools())
	cmd := &graphtest.CommandBuffer{}

	for pool := 0; pool < pv.Pools(); pool++ {
		// every face pool holds a single image
		record(t, pv, cmd, &graph.FrameContext{PoolIndex: pool})
		record(t, pv, cmd, &graph.FrameContext{PoolIndex: pool, Repeat: 1})
	}
	assert.Equal(t, 2*CubeFaces, pv.BakedFaces(), "repeated faces do not count twice")
	assert.True(t, pv.Complete())
	assert.True(t, pv.Baked(0, 0))
	assert.True(t, pv.Baked(1, 5))
	assert.False(t, pv.Baked(2, 0))
	assert.False(t, pv.Baked(0, CubeFaces))

	err = pv.UpdateUniforms(&graph.FrameContext{PoolIndex: 2 * CubeFaces})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestProbeBakeCapturesEveryFaceOnFirstFrame(t *testing.T) {
	const probes = 4
	dev := graphtest.NewDevice()
	pv, err := NewProbeBakeView(probes)
	require.NoError(t, err)

	targets := make([]graph.TargetSource, pv.Pools())
	for i := range targets {
		targets[i] = graphtest.Target(fmt.Sprintf("probe%d/face%d", i/CubeFaces, i%CubeFaces), 128, 128, 1)
	}
	bake, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:           "probe-bake",
		BufferingDepth: 1,
		RenderCount:    1,
		OneShotCapture: true,
		RenderPass:     &graphtest.RenderPass{},
		Targets:        targets,
		States:         []graph.RenderState{pv},
	})
	require.NoError(t, err)
	scene, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:             "scene",
		BufferingDepth:   2,
		RenderCount:      1,
		SwapchainDerived: true,
		RenderPass:       &graphtest.RenderPass{},
		Targets:          []graph.TargetSource{graphtest.Target("swapchain", 1920, 1080, 3)},
		States:           []graph.RenderState{NewSceneView(nil)},
	})
	require.NoError(t, err)

	g, err := graph.NewRenderGraph(dev, []graph.Phase{bake}, []graph.Phase{scene})
	require.NoError(t, err)
	defer g.Destroy()

	for frame := uint32(0); frame < 10; frame++ {
		require.NoError(t, g.WaitForFrameFences())
		require.NoError(t, g.ResetFrameFences())
		g.ProcessRendering(frame%3, graph.Rect{Width: 1920, Height: 1080}, nil)
		g.SwapAllBackBuffers()

		assert.Equal(t, probes*CubeFaces, pv.BakedFaces(), "frame %d", frame)
	}
	for probe := 0; probe < probes; probe++ {
		for face := 0; face < CubeFaces; face++ {
			assert.True(t, pv.Baked(probe, face), "probe %d face %d", probe, face)
		}
	}
	assert.Len(t, dev.Submissions, probes*CubeFaces+10)
}

func TestPostProcessViewDispatchesOverArea(t *testing.T) {
	pipeline := &fakePipeline{}
	pp := NewPostProcessView(pipeline, nil)
	var inputs []graph.Output
	pp.OnInput = func(in graph.Output) { inputs = append(inputs, in) }

	cmd := &graphtest.CommandBuffer{}
	scene := graph.Output{Image: "swapchain/img0", View: "swapchain/view0"}
	frame := &graph.FrameContext{Area: graph.Rect{Width: 1920, Height: 1080}, Input: scene}

	for i := 0; i < 2; i++ {
		require.NoError(t, pp.UpdateUniforms(frame))
		require.NoError(t, pp.UpdateDescriptors(frame))
		require.NoError(t, pp.RecordDispatch(cmd, frame))
	}

	assert.Equal(t, [][3]uint32{{120, 68, 1}, {120, 68, 1}}, cmd.Dispatches)
	assert.Equal(t, 2, pipeline.binds)
	assert.Equal(t, []graph.Output{scene}, inputs, "unchanged input is not rebound")
	assert.Equal(t, 2, pp.Dispatches())
}

func TestPostProcessViewSkipsWithoutWork(t *testing.T) {
	cmd := &graphtest.CommandBuffer{}

	pp := NewPostProcessView(nil, nil)
	require.NoError(t, pp.RecordDispatch(cmd, &graph.FrameContext{Area: graph.Rect{Width: 64, Height: 64}}))

	pp = NewPostProcessView(&fakePipeline{}, nil)
	require.NoError(t, pp.RecordDispatch(cmd, &graph.FrameContext{}))
	assert.Empty(t, cmd.Dispatches)

	failing := &fakePipeline{err: graphtest.ErrInjected}
	pp = NewPostProcessView(failing, nil)
	err := pp.RecordDispatch(cmd, &graph.FrameContext{Area: graph.Rect{Width: 64, Height: 64}})
	assert.ErrorIs(t, err, graphtest.ErrInjected)
	assert.Empty(t, cmd.Dispatches)
}

func TestPostProcessViewBindsSceneOutput(t *testing.T) {
	dev := graphtest.NewDevice()
	binder := &fakeBinder{}
	pipeline := &fakePipeline{}
	pp := NewPostProcessView(pipeline, binder)

	scene, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:             "scene",
		BufferingDepth:   2,
		RenderCount:      1,
		SwapchainDerived: true,
		RenderPass:       &graphtest.RenderPass{},
		Targets:          []graph.TargetSource{graphtest.NewResizableTarget("scene", 1920, 1080, 3)},
	})
	require.NoError(t, err)
	post, err := graph.NewComputePhase(dev, graph.ComputePhaseConfig{
		Name:           "post",
		BufferingDepth: 2,
		RenderCount:    1,
		States:         []graph.ComputeState{pp},
	})
	require.NoError(t, err)
	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene, post})
	require.NoError(t, err)
	defer g.Destroy()

	frame := func(imageIndex uint32) {
		require.NoError(t, g.WaitForFrameFences())
		require.NoError(t, g.ResetFrameFences())
		g.ProcessRendering(imageIndex, graph.Rect{Width: 1920, Height: 1080}, nil)
		g.SwapAllBackBuffers()
	}
	for _, idx := range []uint32{0, 0, 1, 2} {
		frame(idx)
	}
	assert.Equal(t, []graph.Output{
		{Image: "scene/img0", View: "scene/view0"},
		{Image: "scene/img1", View: "scene/view1"},
		{Image: "scene/img2", View: "scene/view2"},
	}, binder.bound, "each new scene image is bound once, before its dispatch")
	assert.Equal(t, 4, pp.Dispatches())

	require.NoError(t, g.UpdateSwapchainOnRenderPhases(graphtest.Target("swapchain", 1280, 720, 3)))
	frame(0)
	require.Len(t, binder.bound, 4)
	assert.Equal(t, graph.Output{Image: "scene@1/img0", View: "scene@1/view0"}, binder.bound[3],
		"the resized scene image replaces the old one")
}

func TestPostProcessViewWaitsForBoundInput(t *testing.T) {
	cmd := &graphtest.CommandBuffer{}
	binder := &fakeBinder{err: graphtest.ErrInjected}
	pp := NewPostProcessView(&fakePipeline{}, binder)
	frame := &graph.FrameContext{
		Area:  graph.Rect{Width: 64, Height: 64},
		Input: graph.Output{Image: "scene/img0", View: "scene/view0"},
	}

	require.ErrorIs(t, pp.UpdateDescriptors(frame), graphtest.ErrInjected)
	require.NoError(t, pp.RecordDispatch(cmd, frame))
	assert.Empty(t, cmd.Dispatches, "nothing is dispatched over an unbound image")

	binder.err = nil
	require.NoError(t, pp.UpdateDescriptors(frame))
	require.NoError(t, pp.RecordDispatch(cmd, frame))
	assert.Equal(t, [][3]uint32{{4, 4, 1}}, cmd.Dispatches)
	assert.Len(t, binder.bound, 1)
}

func TestWorkgroupCount(t *testing.T) {
	x, y := WorkgroupCount(graph.Rect{Width: 17, Height: 16}, 16)
	assert.Equal(t, uint32(2), x)
	assert.Equal(t, uint32(1), y)

	x, y = WorkgroupCount(graph.Rect{Width: 8, Height: 8}, 0)
	assert.Equal(t, uint32(1), x)
	assert.Equal(t, uint32(1), y)
}
