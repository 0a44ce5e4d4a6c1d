package graph

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/cascade/engine/core"
)

// OneTimeState tracks the one-time chain. Pending flips to Consumed after the
// first frame that runs it and never goes back.
type OneTimeState uint8

const (
	OneTimePending OneTimeState = iota
	OneTimeConsumed
)

func (s OneTimeState) String() string {
	if s == OneTimeConsumed {
		return "consumed"
	}
	return "pending"
}

// RenderGraph owns the phases and drives the per-frame chain: the one-time
// phases once, in front of the first frame, then the steady-state phases every
// frame. Ordering between consecutive submissions is expressed with semaphores
// only; the CPU never waits inside the chain except to reuse a slot.
type RenderGraph struct {
	device       Device
	oneTime      []Phase
	steady       []Phase
	oneTimeState OneTimeState
	frameNumber  uint64
}

func NewRenderGraph(device Device, oneTime, steady []Phase) (*RenderGraph, error) {
	if device == nil {
		return nil, fmt.Errorf("render graph: nil device: %w", core.ErrInvalidConfig)
	}
	if len(steady) == 0 {
		return nil, core.ErrEmptyGraph
	}

	seen := make(map[Phase]struct{}, len(oneTime)+len(steady))
	for _, list := range [][]Phase{oneTime, steady} {
		for _, p := range list {
			if p == nil {
				return nil, fmt.Errorf("render graph: nil phase: %w", core.ErrInvalidConfig)
			}
			if _, ok := seen[p]; ok {
				return nil, fmt.Errorf("render graph: phase %q registered twice: %w", p.Name(), core.ErrInvalidConfig)
			}
			seen[p] = struct{}{}
		}
	}

	rg := &RenderGraph{
		device:       device,
		oneTime:      append([]Phase(nil), oneTime...),
		steady:       append([]Phase(nil), steady...),
		oneTimeState: OneTimePending,
	}
	if len(oneTime) == 0 {
		rg.oneTimeState = OneTimeConsumed
	}
	return rg, nil
}

func (rg *RenderGraph) OneTimeState() OneTimeState {
	return rg.oneTimeState
}

func (rg *RenderGraph) FrameNumber() uint64 {
	return rg.frameNumber
}

func (rg *RenderGraph) OneTimePhases() []Phase {
	return rg.oneTime
}

func (rg *RenderGraph) SteadyPhases() []Phase {
	return rg.steady
}

// ProcessRendering records and submits the whole frame and returns the
// semaphore the presentation must wait on.
func (rg *RenderGraph) ProcessRendering(imageIndex uint32, area Rect, scene interface{}) Semaphore {
	var carry Semaphore
	var input Output

	if rg.oneTimeState == OneTimePending {
		core.LogInfo("frame %d: running %d one-time phase(s)", rg.frameNumber, len(rg.oneTime))
		carry, input = rg.runChain(rg.oneTime, nil, Output{}, imageIndex, area, scene)
		rg.oneTimeState = OneTimeConsumed
	}

	last, _ := rg.runChain(rg.steady, carry, input, imageIndex, area, scene)
	rg.frameNumber++
	return last
}

// runChain is the chain algorithm: repeat outer, pool inner, each submission
// waiting on the completion of the one before it. Consecutive pools of one
// repeat are serialized through the same rolling semaphore on purpose.
func (rg *RenderGraph) runChain(phases []Phase, initialWait Semaphore, input Output, imageIndex uint32, area Rect, scene interface{}) (Semaphore, Output) {
	lastSemaphore := initialWait
	if lastSemaphore == nil && len(phases) > 0 {
		// the image acquire signals the first phase's acquire semaphore
		lastSemaphore = phases[0].AcquireSemaphore(0)
	}

	for _, phase := range phases {
		for repeat := 0; repeat < phase.SingleFrameRenderCount(); repeat++ {
			for pool := 0; pool < phase.FramebufferPoolSize(); pool++ {
				out, err := phase.Record(RecordInfo{
					FrameNumber: rg.frameNumber,
					ImageIndex:  imageIndex,
					Repeat:      repeat,
					PoolIndex:   pool,
					Area:        area,
					Scene:       scene,
					Input:       input,
				})
				if err != nil {
					core.LogWarn("frame %d: phase %q pool %d not submitted: %s", rg.frameNumber, phase.Name(), pool, err)
					continue
				}
				if err := phase.Submit(lastSemaphore, pool); err != nil {
					// keep chaining from the last submission that reached the queue
					continue
				}
				lastSemaphore = phase.CompletionSemaphore(pool)
				if !out.IsZero() {
					input = out
				}
			}
		}
	}
	return lastSemaphore, input
}

// renderingPhases are the phases that record at least once this frame.
func (rg *RenderGraph) renderingPhases() []Phase {
	if rg.oneTimeState == OneTimePending {
		return append(append([]Phase(nil), rg.oneTime...), rg.steady...)
	}
	return rg.steady
}

// FrameFences returns the current fence of every pool of every phase that
// renders this frame.
func (rg *RenderGraph) FrameFences() []Fence {
	var fences []Fence
	for _, p := range rg.renderingPhases() {
		for pool := 0; pool < p.FramebufferPoolSize(); pool++ {
			fences = append(fences, p.CurrentFence(pool))
		}
	}
	return fences
}

// WaitForFrameFences throttles the CPU to the buffering depth: it blocks until
// the GPU released every slot about to be reused. A timeout aborts.
func (rg *RenderGraph) WaitForFrameFences() error {
	fences := rg.FrameFences()
	if len(fences) == 0 {
		return nil
	}
	if err := rg.device.WaitForFences(fences, FenceTimeoutNS); err != nil {
		if errors.Is(err, core.ErrFenceTimeout) {
			fatal(fmt.Errorf("frame %d fences: %w", rg.frameNumber, err))
		}
		return fmt.Errorf("frame %d: wait for fences: %w", rg.frameNumber, err)
	}
	return nil
}

// ResetFrameFences re-arms the fences returned by FrameFences. Call it once the
// frame is certain to be submitted, i.e. after a successful image acquire.
func (rg *RenderGraph) ResetFrameFences() error {
	fences := rg.FrameFences()
	if len(fences) == 0 {
		return nil
	}
	if err := rg.device.ResetFences(fences); err != nil {
		return fmt.Errorf("frame %d: reset fences: %w", rg.frameNumber, err)
	}
	return nil
}

// FirstAcquireSemaphore is the semaphore the swapchain acquire must signal:
// the first phase that runs this frame.
func (rg *RenderGraph) FirstAcquireSemaphore() Semaphore {
	return rg.renderingPhases()[0].AcquireSemaphore(0)
}

// LastCompletionSemaphore is the completion semaphore of the last steady
// phase's last pool, which presentation waits on.
func (rg *RenderGraph) LastCompletionSemaphore() Semaphore {
	last := rg.steady[len(rg.steady)-1]
	return last.CompletionSemaphore(last.FramebufferPoolSize() - 1)
}

// SwapAllBackBuffers advances every phase to its next slot, each on its own
// buffering depth.
func (rg *RenderGraph) SwapAllBackBuffers() {
	for _, p := range rg.oneTime {
		p.Swap()
	}
	for _, p := range rg.steady {
		p.Swap()
	}
}

// UpdateSwapchainOnRenderPhases rebuilds the framebuffers of every
// swapchain-derived phase. The caller must have waited for the device to idle.
func (rg *RenderGraph) UpdateSwapchainOnRenderPhases(target TargetSource) error {
	var errs []error
	for _, list := range [][]Phase{rg.oneTime, rg.steady} {
		for _, p := range list {
			if !p.SwapchainDerived() {
				continue
			}
			if err := p.UpdateSwapchain(target); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Destroy waits for the device to go idle and releases every phase, last
// built first.
func (rg *RenderGraph) Destroy() {
	if err := rg.device.WaitIdle(); err != nil {
		core.LogWarn("render graph: device wait idle: %s", err)
	}
	for i := len(rg.steady) - 1; i >= 0; i-- {
		rg.steady[i].Destroy()
	}
	for i := len(rg.oneTime) - 1; i >= 0; i-- {
		rg.oneTime[i].Destroy()
	}
	rg.steady = nil
	rg.oneTime = nil
	core.LogDebug("render graph destroyed")
}
