package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/platform"
	"github.com/spaghettifunk/cascade/engine/renderer"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
	"github.com/spaghettifunk/cascade/engine/renderer/views"
	"github.com/spaghettifunk/cascade/engine/renderer/vulkan"
)

var (
	_ renderer.Swapchain    = (*vulkan.VulkanSwapchain)(nil)
	_ graph.Device          = (*vulkan.VulkanDevice)(nil)
	_ graph.ResizableTarget = (*vulkan.SceneTarget)(nil)
	_ graph.ComputeState    = (*vulkan.PresentBlit)(nil)
	_ views.InputBinder     = (*vulkan.VulkanStorageBinder)(nil)
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    atomic.Bool
	isSuspended  bool
	events       *core.EventBus
	platform     *platform.Platform
	backend      *vulkan.VulkanBackend
	renderer     *renderer.Renderer
	width        uint32
	height       uint32
	clock        *core.Clock
	lastTime     time.Duration
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil || g.ApplicationConfig.Engine == nil {
		return nil, fmt.Errorf("game has no application config: %w", core.ErrInvalidConfig)
	}
	events := core.NewEventBus()
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		clock:        core.NewClock(),
		events:       events,
		platform:     platform.New(events),
		isSuspended:  false,
		width:        g.ApplicationConfig.StartWidth,
		height:       g.ApplicationConfig.StartHeight,
	}
	e.isRunning.Store(true)
	return e, nil
}

func (e *Engine) Events() *core.EventBus {
	return e.events
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	app := e.gameInstance.ApplicationConfig
	core.SetLogLevel(app.LogLevel)

	e.events.Register(core.EventCodeApplicationQuit, e, e.onEvent)
	e.events.Register(core.EventCodeResized, e, e.onResized)

	if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.StartWidth, app.StartHeight); err != nil {
		return err
	}

	// the framebuffer can differ from the window size on high-DPI screens
	if w, h := e.platform.FramebufferSize(); w > 0 && h > 0 {
		e.width, e.height = w, h
	}

	rcfg := app.Engine.Renderer
	e.backend = vulkan.New(e.platform, vulkan.BackendConfig{
		AppName:     app.Name,
		Width:       e.width,
		Height:      e.height,
		Debug:       rcfg.Debug,
		VSync:       rcfg.VSync,
		DiscreteGPU: rcfg.DiscreteGPU,
		ShaderDir:   rcfg.ShaderDir,
	})
	if err := e.backend.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize the renderer backend: %w", err)
	}

	builder := newGraphBuilder(e.backend, app.Engine)
	if err := e.gameInstance.FnInitialize(builder); err != nil {
		builder.phases.destroy()
		return err
	}
	rg, err := builder.phases.build(e.backend.Device())
	if err != nil {
		builder.phases.destroy()
		return fmt.Errorf("failed to build the render graph: %w", err)
	}

	e.renderer, err = renderer.New(e.backend.Device(), e.backend.Swapchain(), rg)
	if err != nil {
		rg.Destroy()
		return err
	}
	e.renderer.SetEventBus(e.events)

	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	var lastReport time.Duration

	for e.isRunning.Load() {
		if !e.platform.PumpMessages() {
			e.isRunning.Store(false)
		}
		if !e.isRunning.Load() {
			break
		}
		if e.isSuspended {
			// give the time back to the OS until the window is restored
			e.platform.Sleep(10 * time.Millisecond)
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("Game update failed, shutting down: %s", err)
			return err
		}

		scene, err := e.gameInstance.FnRender(delta)
		if err != nil {
			core.LogError("Game render failed, shutting down: %s", err)
			return err
		}

		if err := e.renderer.DrawFrame(scene, delta); err != nil {
			core.LogError("Draw frame failed, shutting down: %s", err)
			return err
		}

		if currentTime-lastReport >= 5*time.Second {
			m := e.renderer.Metrics()
			core.LogDebug("%.0f fps, %.2f ms/frame", m.FPS(), m.FrameTime())
			lastReport = currentTime
		}

		e.lastTime = currentTime
	}
	return nil
}

// Quit stops the run loop at the end of the current frame.
func (e *Engine) Quit() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown

	var err error
	if e.gameInstance.FnShutdown != nil {
		err = e.gameInstance.FnShutdown()
	}
	if e.renderer != nil {
		e.renderer.Shutdown()
		e.renderer = nil
	}
	if e.backend != nil {
		e.backend.Shutdown()
		e.backend = nil
	}
	e.events.Unregister(core.EventCodeApplicationQuit, e)
	e.events.Unregister(core.EventCodeResized, e)

	if perr := e.platform.Shutdown(); perr != nil && err == nil {
		err = perr
	}
	e.currentStage = EngineStageUninitialized
	return err
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EventCodeApplicationQuit:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code != core.EventCodeResized {
		return false
	}
	width, height := data.U32[0], data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError("game resize: %s", err)
		}
	}
	if e.renderer != nil {
		e.renderer.OnResize(width, height)
	}
	// other listeners may be interested
	return false
}
