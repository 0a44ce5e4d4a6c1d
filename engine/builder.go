package engine

import (
	"fmt"

	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
	"github.com/spaghettifunk/cascade/engine/renderer/views"
	"github.com/spaghettifunk/cascade/engine/renderer/vulkan"
)

// PhaseOptions is what a game asks for when it declares a phase. A matching
// [[phases]] entry of the config overrides the depth and the render count.
type PhaseOptions struct {
	Name string
	// OneTime phases run once, in front of the first frame.
	OneTime        bool
	BufferingDepth int
	RenderCount    int
}

// phaseList keeps the declared phases in submission order.
type phaseList struct {
	config  *core.EngineConfig
	oneTime []graph.Phase
	steady  []graph.Phase
}

func newPhaseList(cfg *core.EngineConfig) *phaseList {
	return &phaseList{config: cfg}
}

// resolve applies the config to opts. It returns false for disabled phases.
func (pl *phaseList) resolve(opts PhaseOptions) (PhaseOptions, bool) {
	for _, s := range pl.config.Phases {
		if s.Name != opts.Name {
			continue
		}
		if !s.IsEnabled() {
			return opts, false
		}
		opts.BufferingDepth = s.BufferingDepth
		opts.RenderCount = s.RenderCount
	}
	if opts.BufferingDepth == 0 {
		opts.BufferingDepth = pl.config.Renderer.BufferingDepth
	}
	if opts.RenderCount == 0 {
		opts.RenderCount = 1
	}
	return opts, true
}

func (pl *phaseList) add(p graph.Phase, oneTime bool) {
	if oneTime {
		pl.oneTime = append(pl.oneTime, p)
	} else {
		pl.steady = append(pl.steady, p)
	}
	core.LogInfo("phase %q registered (one-time: %t)", p.Name(), oneTime)
}

func (pl *phaseList) build(device graph.Device) (*graph.RenderGraph, error) {
	return graph.NewRenderGraph(device, pl.oneTime, pl.steady)
}

// destroy releases the declared phases when no graph could take them over.
func (pl *phaseList) destroy() {
	for i := len(pl.steady) - 1; i >= 0; i-- {
		pl.steady[i].Destroy()
	}
	for i := len(pl.oneTime) - 1; i >= 0; i-- {
		pl.oneTime[i].Destroy()
	}
	pl.steady = nil
	pl.oneTime = nil
}

// GraphBuilder is handed to the game on initialization. It creates the GPU
// resources of every phase the game declares and collects them into the
// render graph. Declaring a disabled phase returns nil without an error.
type GraphBuilder struct {
	backend *vulkan.VulkanBackend
	phases  *phaseList
}

func newGraphBuilder(backend *vulkan.VulkanBackend, cfg *core.EngineConfig) *GraphBuilder {
	return &GraphBuilder{
		backend: backend,
		phases:  newPhaseList(cfg),
	}
}

// SwapchainPhase declares an on-screen phase drawing into the swapchain. It
// is rebuilt whenever the window is resized.
func (gb *GraphBuilder) SwapchainPhase(opts PhaseOptions, clearColor [4]float32, states ...graph.RenderState) (*graph.RenderPhase, error) {
	opts, ok := gb.phases.resolve(opts)
	if !ok {
		core.LogInfo("phase %q disabled by config", opts.Name)
		return nil, nil
	}
	pass, err := gb.backend.SwapchainRenderpass(clearColor)
	if err != nil {
		return nil, err
	}
	phase, err := graph.NewRenderPhase(gb.backend.Device(), graph.RenderPhaseConfig{
		Name:             opts.Name,
		BufferingDepth:   opts.BufferingDepth,
		RenderCount:      opts.RenderCount,
		OneShotCapture:   opts.OneTime,
		SwapchainDerived: true,
		RenderPass:       pass,
		Targets:          []graph.TargetSource{gb.backend.Swapchain()},
		States:           states,
	})
	if err != nil {
		return nil, err
	}
	gb.phases.add(phase, opts.OneTime)
	return phase, nil
}

// CapturePhase declares an offscreen phase with one framebuffer pool per
// target, each target holding images color images of the given extent.
func (gb *GraphBuilder) CapturePhase(opts PhaseOptions, extent graph.Extent, pools, images int, clearColor [4]float32, states ...graph.RenderState) (*graph.RenderPhase, error) {
	opts, ok := gb.phases.resolve(opts)
	if !ok {
		core.LogInfo("phase %q disabled by config", opts.Name)
		return nil, nil
	}
	if pools <= 0 || images <= 0 {
		return nil, fmt.Errorf("capture phase %q: %d pools of %d images: %w", opts.Name, pools, images, core.ErrInvalidConfig)
	}
	pass, err := gb.backend.CaptureRenderpass(clearColor)
	if err != nil {
		return nil, err
	}
	targets := make([]graph.TargetSource, 0, pools)
	for i := 0; i < pools; i++ {
		t, err := gb.backend.NewCaptureTarget(extent, images, true)
		if err != nil {
			return nil, fmt.Errorf("capture phase %q target %d: %w", opts.Name, i, err)
		}
		targets = append(targets, t)
	}
	phase, err := graph.NewRenderPhase(gb.backend.Device(), graph.RenderPhaseConfig{
		Name:           opts.Name,
		BufferingDepth: opts.BufferingDepth,
		RenderCount:    opts.RenderCount,
		OneShotCapture: opts.OneTime,
		RenderPass:     pass,
		Targets:        targets,
		States:         states,
	})
	if err != nil {
		return nil, err
	}
	gb.phases.add(phase, opts.OneTime)
	return phase, nil
}

// PostProcessChain is the result of PostProcessedScene. Post and View are nil
// when the scene draws straight into the swapchain.
type PostProcessChain struct {
	Scene *graph.RenderPhase
	Post  *graph.ComputePhase
	View  *views.PostProcessView
}

// PostProcessedScene declares the scene drawing into an offscreen target that
// follows the swapchain, then a compute phase running the named shader over
// that image in place and copying the result into the swapchain image. When
// the post phase is disabled or its shader cannot be loaded, the scene is
// declared as a plain swapchain phase instead.
func (gb *GraphBuilder) PostProcessedScene(sceneOpts, postOpts PhaseOptions, clearColor [4]float32, shader string, states ...graph.RenderState) (*PostProcessChain, error) {
	fallback := func() (*PostProcessChain, error) {
		scene, err := gb.SwapchainPhase(sceneOpts, clearColor, states...)
		if err != nil {
			return nil, err
		}
		return &PostProcessChain{Scene: scene}, nil
	}

	postOpts, ok := gb.phases.resolve(postOpts)
	if !ok {
		core.LogInfo("phase %q disabled by config", postOpts.Name)
		return fallback()
	}
	sceneOpts, ok = gb.phases.resolve(sceneOpts)
	if !ok {
		core.LogInfo("phase %q disabled by config, so is %q", sceneOpts.Name, postOpts.Name)
		return &PostProcessChain{}, nil
	}

	post, err := gb.backend.NewPostProcess(shader)
	if err != nil {
		core.LogWarn("phase %q: post-processing disabled: %s", postOpts.Name, err)
		return fallback()
	}

	pass, err := gb.backend.SceneRenderpass(clearColor)
	if err != nil {
		return nil, err
	}
	scene, err := graph.NewRenderPhase(gb.backend.Device(), graph.RenderPhaseConfig{
		Name:             sceneOpts.Name,
		BufferingDepth:   sceneOpts.BufferingDepth,
		RenderCount:      sceneOpts.RenderCount,
		OneShotCapture:   sceneOpts.OneTime,
		SwapchainDerived: true,
		RenderPass:       pass,
		Targets:          []graph.TargetSource{post.Target},
		States:           states,
	})
	if err != nil {
		return nil, err
	}
	gb.phases.add(scene, sceneOpts.OneTime)

	view := views.NewPostProcessView(post.Pipeline, post.Binder)
	compute, err := graph.NewComputePhase(gb.backend.Device(), graph.ComputePhaseConfig{
		Name:           postOpts.Name,
		BufferingDepth: postOpts.BufferingDepth,
		RenderCount:    postOpts.RenderCount,
		OneShotCapture: postOpts.OneTime,
		States:         []graph.ComputeState{view, vulkan.NewPresentBlit(gb.backend.Swapchain())},
	})
	if err != nil {
		return nil, err
	}
	gb.phases.add(compute, postOpts.OneTime)
	return &PostProcessChain{Scene: scene, Post: compute, View: view}, nil
}
