package graph_test

import (
	"fmt"
	"testing"

	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
	"github.com/spaghettifunk/cascade/engine/renderer/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fullHD = graph.Rect{Width: 1920, Height: 1080}

func newScenePhase(t *testing.T, dev *graphtest.Device, pass *graphtest.RenderPass, depth int, states ...graph.RenderState) *graph.RenderPhase {
	t.Helper()
	phase, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:             "scene",
		BufferingDepth:   depth,
		RenderCount:      1,
		SwapchainDerived: true,
		RenderPass:       pass,
		Targets:          []graph.TargetSource{graphtest.Target("swapchain", 1920, 1080, 3)},
		States:           states,
	})
	require.NoError(t, err)
	return phase
}

func newProbePhase(t *testing.T, dev *graphtest.Device, pools int, states ...graph.RenderState) *graph.RenderPhase {
	t.Helper()
	targets := make([]graph.TargetSource, pools)
	for i := range targets {
		targets[i] = graphtest.Target(fmt.Sprintf("probe%d", i), 256, 256, 6)
	}
	phase, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:           "probe-bake",
		BufferingDepth: 1,
		RenderCount:    1,
		OneShotCapture: true,
		RenderPass:     &graphtest.RenderPass{},
		Targets:        targets,
		States:         states,
	})
	require.NoError(t, err)
	return phase
}

// runFrame drives one frame the way the renderer does.
func runFrame(t *testing.T, g *graph.RenderGraph, imageIndex uint32) graph.Semaphore {
	t.Helper()
	require.NoError(t, g.WaitForFrameFences())
	require.NoError(t, g.ResetFrameFences())
	last := g.ProcessRendering(imageIndex, fullHD, nil)
	g.SwapAllBackBuffers()
	return last
}

func TestBackBufferIndexCyclesThroughDepth(t *testing.T) {
	dev := graphtest.NewDevice()
	scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2)
	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene})
	require.NoError(t, err)

	var indices []int
	var buffers []graph.CommandBuffer
	for frame := 0; frame < 5; frame++ {
		indices = append(indices, scene.CurrentBufferIndex())
		buffers = append(buffers, scene.CurrentSlot(0).CommandBuffer)
		runFrame(t, g, uint32(frame%3))
	}

	assert.Equal(t, []int{0, 1, 0, 1, 0}, indices)
	require.Len(t, dev.Submissions, 5)
	for i, sub := range dev.Submissions {
		assert.Same(t, buffers[i], sub.CommandBuffer, "frame %d", i)
	}
	assert.NotSame(t, buffers[0], buffers[1])
	assert.Same(t, buffers[0], buffers[2])
	assert.Equal(t, uint64(5), g.FrameNumber())
}

func TestChainOrdersEverySubmission(t *testing.T) {
	dev := graphtest.NewDevice()
	scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2)
	post, err := graph.NewComputePhase(dev, graph.ComputePhaseConfig{
		Name:           "post",
		BufferingDepth: 2,
		RenderCount:    1,
	})
	require.NoError(t, err)
	mirrors, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:           "mirrors",
		BufferingDepth: 2,
		RenderCount:    2,
		RenderPass:     &graphtest.RenderPass{},
		Targets: []graph.TargetSource{
			graphtest.Target("mirror0", 512, 512, 1),
			graphtest.Target("mirror1", 512, 512, 1),
		},
	})
	require.NoError(t, err)

	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene, post, mirrors})
	require.NoError(t, err)

	firstAcquire := g.FirstAcquireSemaphore()
	assert.Same(t, scene.AcquireSemaphore(0), firstAcquire)

	last := runFrame(t, g, 0)

	subs := dev.Submissions
	require.Len(t, subs, 1+1+2*2)
	assert.Same(t, firstAcquire, subs[0].Wait)
	for i := 1; i < len(subs); i++ {
		assert.Same(t, subs[i-1].Signal, subs[i].Wait, "submission %d must wait on %d", i, i-1)
	}
	assert.Same(t, subs[len(subs)-1].Signal, last)

	assert.Equal(t, "graphics", subs[0].Queue)
	assert.Equal(t, graph.StageColorAttachmentOutput, subs[0].WaitStage)
	assert.Equal(t, "compute", subs[1].Queue)
	assert.Equal(t, graph.StageComputeShader, subs[1].WaitStage)

	// repeat outer, pool inner: 0, 1, 0, 1
	g.SwapAllBackBuffers() // depth 2: back on the slots of this frame
	pool0, pool1 := mirrors.CurrentSlot(0), mirrors.CurrentSlot(1)
	assert.Same(t, pool0.CommandBuffer, subs[2].CommandBuffer)
	assert.Same(t, pool1.CommandBuffer, subs[3].CommandBuffer)
	assert.Same(t, pool0.CommandBuffer, subs[4].CommandBuffer)
	assert.Same(t, pool1.CommandBuffer, subs[5].CommandBuffer)
	assert.Same(t, pool1.CompletionSemaphore, last)
}

func TestOneTimeChainRunsExactlyOnce(t *testing.T) {
	dev := graphtest.NewDevice()
	bake := &graphtest.State{}
	probes := newProbePhase(t, dev, 4, bake)
	scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2)

	g, err := graph.NewRenderGraph(dev, []graph.Phase{probes}, []graph.Phase{scene})
	require.NoError(t, err)
	assert.Equal(t, graph.OneTimePending, g.OneTimeState())
	assert.Same(t, probes.AcquireSemaphore(0), g.FirstAcquireSemaphore())
	assert.Len(t, g.FrameFences(), 4+1)

	runFrame(t, g, 0)

	assert.Equal(t, graph.OneTimeConsumed, g.OneTimeState())
	subs := dev.Submissions
	require.Len(t, subs, 4+1)
	assert.Same(t, probes.AcquireSemaphore(0), subs[0].Wait)
	for i := 1; i < 4; i++ {
		assert.Same(t, probes.CompletionSemaphore(i-1), subs[i].Wait)
	}
	assert.Same(t, probes.CompletionSemaphore(3), subs[4].Wait, "steady chain carries the one-time completion")
	assert.Len(t, bake.Frames, 4)
	for pool, frame := range bake.Frames {
		assert.Equal(t, pool, frame.PoolIndex)
		assert.Equal(t, uint32(256), frame.Area.Width)
	}

	for frame := 1; frame < 4; frame++ {
		assert.Len(t, g.FrameFences(), 1)
		assert.Same(t, scene.AcquireSemaphore(0), g.FirstAcquireSemaphore())
		runFrame(t, g, uint32(frame))
	}
	assert.Len(t, dev.Submissions, 4+1+3)
	assert.Len(t, bake.Frames, 4)
	assert.Equal(t, graph.OneTimeConsumed, g.OneTimeState())
}

func TestOneTimeOutputFeedsSteadyPhase(t *testing.T) {
	dev := graphtest.NewDevice()
	probes := newProbePhase(t, dev, 2)
	shading := &graphtest.State{}
	scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2, shading)

	g, err := graph.NewRenderGraph(dev, []graph.Phase{probes}, []graph.Phase{scene})
	require.NoError(t, err)
	runFrame(t, g, 1)
	runFrame(t, g, 2)

	require.Len(t, shading.Frames, 2)
	assert.Equal(t, "probe1/view1", shading.Frames[0].Input.View)
	assert.Equal(t, "probe1/img1", shading.Frames[0].Input.Image)
	assert.True(t, shading.Frames[1].Input.IsZero())
	assert.Equal(t, graph.Output{Image: "probe1/img1", View: "probe1/view1"}, probes.MostRecentOutput(1))
}

func TestComputeOutputThreadsToNextPhase(t *testing.T) {
	dev := graphtest.NewDevice()
	blur := &graphtest.State{Groups: [3]uint32{120, 68, 1}}
	post, err := graph.NewComputePhase(dev, graph.ComputePhaseConfig{
		Name:           "blur",
		BufferingDepth: 2,
		RenderCount:    1,
		Outputs:        []graph.Attachment{{Image: "blurred", View: "blurred-view"}},
		States:         []graph.ComputeState{blur},
	})
	require.NoError(t, err)
	composite := &graphtest.State{}
	scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2, composite)

	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{post, scene})
	require.NoError(t, err)
	runFrame(t, g, 0)

	require.Len(t, composite.Frames, 1)
	assert.Equal(t, graph.Output{Image: "blurred", View: "blurred-view"}, composite.Frames[0].Input)

	cmd := dev.Submissions[0].CommandBuffer.(*graphtest.CommandBuffer)
	assert.Equal(t, [][3]uint32{{120, 68, 1}}, cmd.Dispatches)
	assert.Empty(t, cmd.RenderPasses)
	assert.Equal(t, fullHD, blur.Frames[0].Area)
}

func TestRenderAreaClampedToSmallestTarget(t *testing.T) {
	dev := graphtest.NewDevice()
	state := &graphtest.State{}
	phase, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:           "shadows",
		BufferingDepth: 2,
		RenderCount:    1,
		RenderPass:     &graphtest.RenderPass{},
		Targets: []graph.TargetSource{
			graphtest.Target("cascade0", 256, 256, 1),
			graphtest.Target("cascade1", 128, 64, 1),
		},
		States: []graph.RenderState{state},
	})
	require.NoError(t, err)
	assert.Equal(t, graph.Extent{Width: 128, Height: 64}, phase.Framebuffers().MinRenderArea())

	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{phase})
	require.NoError(t, err)
	runFrame(t, g, 0)

	want := graph.Rect{Width: 128, Height: 64}
	for _, sub := range dev.Submissions {
		cmd := sub.CommandBuffer.(*graphtest.CommandBuffer)
		require.Len(t, cmd.RenderPasses, 1)
		assert.Equal(t, want, cmd.RenderPasses[0].Area)
		assert.Equal(t, []graph.Rect{want}, cmd.Viewports)
		assert.Equal(t, []graph.Rect{want}, cmd.Scissors)
	}
	for _, frame := range state.Frames {
		assert.Equal(t, want, frame.Area)
	}
}

func TestResizeRebuildsOnlySwapchainPhases(t *testing.T) {
	dev := graphtest.NewDevice()
	scenePass := &graphtest.RenderPass{}
	scene := newScenePhase(t, dev, scenePass, 2)
	shadows, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:           "shadows",
		BufferingDepth: 2,
		RenderCount:    1,
		RenderPass:     &graphtest.RenderPass{},
		Targets:        []graph.TargetSource{graphtest.Target("shadow", 1024, 1024, 1)},
	})
	require.NoError(t, err)

	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{shadows, scene})
	require.NoError(t, err)
	runFrame(t, g, 0)

	before := scenePass.Live()
	require.Len(t, before, 3)
	shadowFB, ok := shadows.Framebuffers().Binding(0, 0)
	require.True(t, ok)

	require.NoError(t, g.UpdateSwapchainOnRenderPhases(graphtest.Target("swapchain", 1280, 720, 3)))

	for _, fb := range before {
		assert.True(t, fb.Destroyed)
	}
	after := scenePass.Live()
	require.Len(t, after, 3)
	for _, fb := range after {
		assert.Equal(t, graph.Extent{Width: 1280, Height: 720}, fb.Size)
		assert.Equal(t, []graph.ImageView{fb.Attachments[0], "swapchain/depth"}, fb.Attachments)
	}
	assert.Equal(t, 1, scene.Framebuffers().PoolCount())
	assert.Equal(t, 3, scene.Framebuffers().ImageCount(0))
	assert.Equal(t, graph.Extent{Width: 1280, Height: 720}, scene.Framebuffers().MinRenderArea())
	assert.False(t, shadowFB.Framebuffer.(*graphtest.Framebuffer).Destroyed)
	assert.True(t, scene.MostRecentOutput(0).IsZero())
}

func TestResizeFollowsSwapchainWithOffscreenTarget(t *testing.T) {
	dev := graphtest.NewDevice()
	pass := &graphtest.RenderPass{}
	offscreen := graphtest.NewResizableTarget("scene", 1920, 1080, 3)
	scene, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:             "scene",
		BufferingDepth:   2,
		RenderCount:      1,
		SwapchainDerived: true,
		RenderPass:       pass,
		Targets:          []graph.TargetSource{offscreen},
	})
	require.NoError(t, err)
	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene})
	require.NoError(t, err)
	runFrame(t, g, 1)
	assert.Equal(t, graph.Output{Image: "scene/img1", View: "scene/view1"}, scene.MostRecentOutput(0))

	require.NoError(t, g.UpdateSwapchainOnRenderPhases(graphtest.Target("swapchain", 1280, 720, 4)))

	assert.Equal(t, 1, offscreen.Resizes)
	live := pass.Live()
	require.Len(t, live, 4)
	for i, fb := range live {
		assert.Equal(t, graph.Extent{Width: 1280, Height: 720}, fb.Size)
		assert.Equal(t, []graph.ImageView{fmt.Sprintf("scene@1/view%d", i), "scene@1/depth"}, fb.Attachments,
			"framebuffers use the resized target, never the swapchain")
	}
	assert.Equal(t, graph.Extent{Width: 1280, Height: 720}, scene.Framebuffers().MinRenderArea())

	runFrame(t, g, 3)
	assert.Equal(t, graph.Output{Image: "scene@1/img3", View: "scene@1/view3"}, scene.MostRecentOutput(0))

	offscreen.ResizeErr = graphtest.ErrInjected
	err = g.UpdateSwapchainOnRenderPhases(graphtest.Target("swapchain", 640, 480, 4))
	require.ErrorIs(t, err, graphtest.ErrInjected)
	assert.Len(t, pass.Live(), 4, "a failed resize leaves the framebuffers alone")
}

func TestFailedRebuildStillKeepsChainAlive(t *testing.T) {
	dev := graphtest.NewDevice()
	pass := &graphtest.RenderPass{}
	scene := newScenePhase(t, dev, pass, 2)
	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene})
	require.NoError(t, err)

	pass.FailAt = len(pass.Created) + 2
	err = g.UpdateSwapchainOnRenderPhases(graphtest.Target("swapchain", 800, 600, 3))
	require.ErrorIs(t, err, graphtest.ErrInjected)
	assert.Empty(t, pass.Live())
	assert.Equal(t, 0, scene.Framebuffers().PoolCount())

	last := runFrame(t, g, 0)
	require.Len(t, dev.Submissions, 1)
	cmd := dev.Submissions[0].CommandBuffer.(*graphtest.CommandBuffer)
	assert.Empty(t, cmd.RenderPasses)
	assert.Same(t, dev.Submissions[0].Signal, last)
}

func TestRepeatWaitsForSlotBeforeReuse(t *testing.T) {
	dev := graphtest.NewDevice()
	phase, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:           "accumulate",
		BufferingDepth: 2,
		RenderCount:    3,
		RenderPass:     &graphtest.RenderPass{},
		Targets:        []graph.TargetSource{graphtest.Target("accum", 64, 64, 1)},
	})
	require.NoError(t, err)
	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{phase})
	require.NoError(t, err)

	fence := phase.CurrentFence(0).(*graphtest.Fence)
	runFrame(t, g, 0)

	assert.Len(t, dev.Submissions, 3)
	assert.Equal(t, 2, fence.Waits, "repeats 1 and 2 wait on the slot fence")
	assert.Equal(t, 1+2, fence.Resets, "one frame reset plus one per repeat")
	assert.True(t, fence.Signaled)
}

func TestFenceTimeoutAborts(t *testing.T) {
	t.Run("frame fences", func(t *testing.T) {
		dev := graphtest.NewDevice()
		scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2)
		g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene})
		require.NoError(t, err)

		dev.WaitForFencesErr = fmt.Errorf("vkWaitForFences: %w", core.ErrFenceTimeout)
		require.Panics(t, func() { _ = g.WaitForFrameFences() })
	})

	t.Run("repeat slot reuse", func(t *testing.T) {
		dev := graphtest.NewDevice()
		phase, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
			Name:           "accumulate",
			BufferingDepth: 1,
			RenderCount:    2,
			RenderPass:     &graphtest.RenderPass{},
			Targets:        []graph.TargetSource{graphtest.Target("accum", 64, 64, 1)},
		})
		require.NoError(t, err)
		g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{phase})
		require.NoError(t, err)

		phase.CurrentFence(0).(*graphtest.Fence).WaitErr = core.ErrFenceTimeout
		require.Panics(t, func() { g.ProcessRendering(0, fullHD, nil) })
	})

	t.Run("other errors are returned", func(t *testing.T) {
		dev := graphtest.NewDevice()
		scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2)
		g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene})
		require.NoError(t, err)

		dev.WaitForFencesErr = core.ErrDeviceLost
		require.ErrorIs(t, g.WaitForFrameFences(), core.ErrDeviceLost)
	})
}

func TestSlotFenceRearmedOnlyWhenIdle(t *testing.T) {
	t.Run("failed wait leaves the fence alone", func(t *testing.T) {
		dev := graphtest.NewDevice()
		phase, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
			Name:           "accumulate",
			BufferingDepth: 1,
			RenderCount:    2,
			RenderPass:     &graphtest.RenderPass{},
			Targets:        []graph.TargetSource{graphtest.Target("accum", 64, 64, 1)},
		})
		require.NoError(t, err)
		g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{phase})
		require.NoError(t, err)

		fence := phase.CurrentFence(0).(*graphtest.Fence)
		fence.WaitErr = core.ErrDeviceLost
		g.ProcessRendering(0, fullHD, nil)

		assert.Len(t, dev.Submissions, 1, "repeat 1 is dropped")
		assert.Same(t, fence, phase.CurrentFence(0), "the pending submission still owns the fence")
		assert.False(t, fence.Destroyed)
		assert.Len(t, dev.Fences, 1)
	})

	t.Run("failed begin after the wait re-arms", func(t *testing.T) {
		dev := graphtest.NewDevice()
		scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2)
		g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene})
		require.NoError(t, err)

		fence := scene.CurrentFence(0).(*graphtest.Fence)
		scene.CurrentSlot(0).CommandBuffer.(*graphtest.CommandBuffer).BeginErr = graphtest.ErrInjected
		require.NoError(t, g.WaitForFrameFences())
		require.NoError(t, g.ResetFrameFences())
		g.ProcessRendering(0, fullHD, nil)

		assert.Empty(t, dev.Submissions)
		assert.True(t, fence.Destroyed)
		rearmed := scene.CurrentFence(0).(*graphtest.Fence)
		assert.NotSame(t, fence, rearmed)
		assert.True(t, rearmed.Signaled, "next wait on the slot must not block")
	})
}

func TestSubmitFailureKeepsChainOnLastSignal(t *testing.T) {
	dev := graphtest.NewDevice()
	scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2)
	post, err := graph.NewComputePhase(dev, graph.ComputePhaseConfig{
		Name:           "post",
		BufferingDepth: 2,
		RenderCount:    1,
	})
	require.NoError(t, err)
	ui, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:           "overlay",
		BufferingDepth: 2,
		RenderCount:    1,
		RenderPass:     &graphtest.RenderPass{},
		Targets:        []graph.TargetSource{graphtest.Target("overlay", 1920, 1080, 1)},
	})
	require.NoError(t, err)
	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene, post, ui})
	require.NoError(t, err)

	oldFence := post.CurrentFence(0).(*graphtest.Fence)
	dev.Compute.FailNext = 1
	require.NoError(t, g.WaitForFrameFences())
	require.NoError(t, g.ResetFrameFences())
	last := g.ProcessRendering(0, fullHD, nil)

	subs := dev.Submissions
	require.Len(t, subs, 2)
	assert.Same(t, scene.CompletionSemaphore(0), subs[1].Wait)
	assert.Same(t, ui.CompletionSemaphore(0), last)

	assert.True(t, oldFence.Destroyed)
	rearmed := post.CurrentFence(0).(*graphtest.Fence)
	assert.NotSame(t, oldFence, rearmed)
	assert.True(t, rearmed.Signaled, "next wait on the slot must not block")
}

func TestRecordFailureSkipsSubmit(t *testing.T) {
	dev := graphtest.NewDevice()
	scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2)
	ui, err := graph.NewRenderPhase(dev, graph.RenderPhaseConfig{
		Name:           "overlay",
		BufferingDepth: 2,
		RenderCount:    1,
		RenderPass:     &graphtest.RenderPass{},
		Targets:        []graph.TargetSource{graphtest.Target("overlay", 1920, 1080, 1)},
	})
	require.NoError(t, err)
	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene, ui})
	require.NoError(t, err)

	scene.CurrentSlot(0).CommandBuffer.(*graphtest.CommandBuffer).EndErr = graphtest.ErrInjected
	last := g.ProcessRendering(0, fullHD, nil)

	require.Len(t, dev.Submissions, 1)
	assert.Same(t, scene.AcquireSemaphore(0), dev.Submissions[0].Wait, "the acquire signal is still consumed")
	assert.Same(t, ui.CompletionSemaphore(0), last)
}

func TestStateErrorsDoNotStopRecording(t *testing.T) {
	dev := graphtest.NewDevice()
	broken := &graphtest.State{DrawErr: graphtest.ErrInjected}
	healthy := &graphtest.State{}
	scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2, broken, healthy)
	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene})
	require.NoError(t, err)

	runFrame(t, g, 0)
	assert.Len(t, dev.Submissions, 1)
	assert.Len(t, broken.Frames, 1)
	assert.Len(t, healthy.Frames, 1)
}

func TestPhaseConstructionRollsBack(t *testing.T) {
	dev := graphtest.NewDevice()
	// slot [0][0] takes semaphores 1 and 2, slot [0][1] fails on its first
	dev.FailSemaphoreAt = 3
	_, err := graph.NewComputePhase(dev, graph.ComputePhaseConfig{
		Name:           "post",
		BufferingDepth: 2,
		RenderCount:    1,
	})
	require.ErrorIs(t, err, graphtest.ErrInjected)

	for _, s := range dev.Semaphores {
		assert.True(t, s.Destroyed)
	}
	for _, f := range dev.Fences {
		assert.True(t, f.Destroyed)
	}
	for _, cb := range dev.CommandBuffers {
		assert.True(t, cb.Freed)
	}
}

func TestPhaseConfigValidation(t *testing.T) {
	dev := graphtest.NewDevice()
	target := []graph.TargetSource{graphtest.Target("swapchain", 640, 480, 2)}

	tests := []struct {
		name string
		cfg  graph.RenderPhaseConfig
	}{
		{"zero depth", graph.RenderPhaseConfig{Name: "a", BufferingDepth: 0, RenderCount: 1, RenderPass: &graphtest.RenderPass{}, Targets: target}},
		{"depth too large", graph.RenderPhaseConfig{Name: "a", BufferingDepth: core.MaxBufferingDepth + 1, RenderCount: 1, RenderPass: &graphtest.RenderPass{}, Targets: target}},
		{"zero render count", graph.RenderPhaseConfig{Name: "a", BufferingDepth: 2, RenderCount: 0, RenderPass: &graphtest.RenderPass{}, Targets: target}},
		{"no render pass", graph.RenderPhaseConfig{Name: "a", BufferingDepth: 2, RenderCount: 1, Targets: target}},
		{"no targets", graph.RenderPhaseConfig{Name: "a", BufferingDepth: 2, RenderCount: 1, RenderPass: &graphtest.RenderPass{}}},
		{"swapchain with two pools", graph.RenderPhaseConfig{
			Name: "a", BufferingDepth: 2, RenderCount: 1, SwapchainDerived: true, RenderPass: &graphtest.RenderPass{},
			Targets: append(target, graphtest.Target("extra", 640, 480, 2)),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := graph.NewRenderPhase(dev, tt.cfg)
			require.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}

	_, err := graph.NewComputePhase(dev, graph.ComputePhaseConfig{
		Name: "post", BufferingDepth: 2, RenderCount: 1, PoolCount: 2,
		Outputs: []graph.Attachment{{Image: "only-one"}},
	})
	require.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestGraphConstruction(t *testing.T) {
	dev := graphtest.NewDevice()
	scene := newScenePhase(t, dev, &graphtest.RenderPass{}, 2)

	_, err := graph.NewRenderGraph(dev, nil, nil)
	require.ErrorIs(t, err, core.ErrEmptyGraph)

	_, err = graph.NewRenderGraph(dev, []graph.Phase{scene}, []graph.Phase{scene})
	require.ErrorIs(t, err, core.ErrInvalidConfig)

	g, err := graph.NewRenderGraph(dev, nil, []graph.Phase{scene})
	require.NoError(t, err)
	assert.Equal(t, graph.OneTimeConsumed, g.OneTimeState())
	assert.Same(t, scene.CompletionSemaphore(0), g.LastCompletionSemaphore())
}

func TestDestroyWaitsForIdleThenReleases(t *testing.T) {
	dev := graphtest.NewDevice()
	pass := &graphtest.RenderPass{}
	scene := newScenePhase(t, dev, pass, 3)
	probes := newProbePhase(t, dev, 2)
	g, err := graph.NewRenderGraph(dev, []graph.Phase{probes}, []graph.Phase{scene})
	require.NoError(t, err)
	runFrame(t, g, 0)

	g.Destroy()

	assert.Equal(t, 1, dev.Idles)
	assert.Positive(t, dev.Graphics.Idles)
	assert.Empty(t, pass.Live())
	for _, s := range dev.Semaphores {
		assert.True(t, s.Destroyed)
	}
	for _, f := range dev.Fences {
		assert.True(t, f.Destroyed)
	}
	for _, cb := range dev.CommandBuffers {
		assert.True(t, cb.Freed)
	}
}
