package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

// Swapchain is the presentation engine the renderer drives. It is also the
// target source of every swapchain-derived render phase.
type Swapchain interface {
	graph.TargetSource
	// AcquireNextImage returns the index of the next presentable image and
	// signals the semaphore once it is ready. core.ErrSwapchainOutOfDate means
	// the swapchain has to be recreated before anything is rendered.
	AcquireNextImage(signal graph.Semaphore) (uint32, error)
	// Present queues the image once wait is signaled. core.ErrSwapchainOutOfDate
	// reports that the image was presented but the swapchain should be recreated.
	Present(wait graph.Semaphore, imageIndex uint32) error
	Recreate(width, height uint32) error
	Destroy()
}

// Renderer runs the per-frame sequence: wait for slot fences, acquire the next
// image, process the render graph, present, and swap every back buffer.
type Renderer struct {
	device    graph.Device
	swapchain Swapchain
	graph     *graph.RenderGraph
	events    *core.EventBus
	metrics   *core.FrameMetrics

	resizePending bool
	pendingWidth  uint32
	pendingHeight uint32
}

func New(device graph.Device, swapchain Swapchain, g *graph.RenderGraph) (*Renderer, error) {
	if device == nil || swapchain == nil {
		return nil, fmt.Errorf("renderer needs a device and a swapchain: %w", core.ErrInvalidConfig)
	}
	if g == nil || len(g.SteadyPhases()) == 0 {
		return nil, core.ErrEmptyGraph
	}
	return &Renderer{
		device:    device,
		swapchain: swapchain,
		graph:     g,
		metrics:   core.NewFrameMetrics(),
	}, nil
}

// SetEventBus makes the renderer announce swapchain rebuilds on the bus.
func (r *Renderer) SetEventBus(bus *core.EventBus) {
	r.events = bus
}

func (r *Renderer) Graph() *graph.RenderGraph {
	return r.graph
}

func (r *Renderer) Metrics() *core.FrameMetrics {
	return r.metrics
}

// OnResize records the new framebuffer size. The swapchain is rebuilt at the
// start of the next frame.
func (r *Renderer) OnResize(width, height uint32) {
	r.pendingWidth = width
	r.pendingHeight = height
	r.resizePending = true
	core.LogInfo("renderer resized: w/h: %d/%d", width, height)
}

// DrawFrame renders and presents one frame. A frame skipped because the
// swapchain is being rebuilt or the window is minimized is not an error.
func (r *Renderer) DrawFrame(scene interface{}, delta time.Duration) error {
	if r.resizePending {
		if err := r.rebuildSwapchain(); err != nil {
			if errors.Is(err, core.ErrSwapchainBooting) {
				return nil
			}
			return err
		}
		core.LogInfo("Resized, booting.")
		return nil
	}

	if err := r.graph.WaitForFrameFences(); err != nil {
		return err
	}

	imageIndex, err := r.swapchain.AcquireNextImage(r.graph.FirstAcquireSemaphore())
	if err != nil {
		if errors.Is(err, core.ErrSwapchainOutOfDate) {
			r.requestRebuild()
			return nil
		}
		return fmt.Errorf("failed to acquire the next swapchain image: %w", err)
	}

	// the frame is now certain to be submitted
	if err := r.graph.ResetFrameFences(); err != nil {
		return err
	}

	extent := r.swapchain.Extent()
	area := graph.Rect{Width: extent.Width, Height: extent.Height}
	last := r.graph.ProcessRendering(imageIndex, area, scene)

	presentErr := r.swapchain.Present(last, imageIndex)
	r.graph.SwapAllBackBuffers()

	if presentErr != nil {
		if errors.Is(presentErr, core.ErrSwapchainOutOfDate) {
			r.requestRebuild()
		} else {
			core.LogError("present failed: %s", presentErr)
			return fmt.Errorf("failed to present image %d: %w", imageIndex, presentErr)
		}
	}

	r.metrics.Update(delta)
	return nil
}

func (r *Renderer) requestRebuild() {
	if r.resizePending {
		return
	}
	extent := r.swapchain.Extent()
	r.OnResize(extent.Width, extent.Height)
}

func (r *Renderer) rebuildSwapchain() error {
	width, height := r.pendingWidth, r.pendingHeight
	if width == 0 || height == 0 {
		core.LogDebug("swapchain rebuild requested with a zero dimension, booting")
		return core.ErrSwapchainBooting
	}

	if err := r.device.WaitIdle(); err != nil {
		return fmt.Errorf("device wait idle before swapchain rebuild: %w", err)
	}
	if err := r.swapchain.Recreate(width, height); err != nil {
		core.LogError("failed to recreate the swapchain: %s", err)
		return fmt.Errorf("failed to recreate the swapchain: %w", err)
	}
	if err := r.graph.UpdateSwapchainOnRenderPhases(r.swapchain); err != nil {
		return fmt.Errorf("failed to rebuild swapchain framebuffers: %w", err)
	}
	r.resizePending = false

	if r.events != nil {
		extent := r.swapchain.Extent()
		r.events.Fire(core.EventCodeSwapchainRebuilt, r, core.EventContext{
			U32: [4]uint32{extent.Width, extent.Height},
		})
	}
	return nil
}

// Shutdown releases the render graph and then the swapchain.
func (r *Renderer) Shutdown() {
	r.graph.Destroy()
	r.swapchain.Destroy()
	core.LogInfo("renderer shut down after %d frames", r.metrics.TotalFrames())
}
