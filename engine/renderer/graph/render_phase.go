package graph

import (
	"fmt"

	"github.com/spaghettifunk/cascade/engine/core"
)

type RenderPhaseConfig struct {
	Name string
	// BufferingDepth is the number of back-buffer slots per pool (commonly 2 or 3).
	BufferingDepth int
	// RenderCount is how many times the phase renders every pool in one frame.
	RenderCount int
	// OneShotCapture marks baking phases that only ever run once.
	OneShotCapture bool
	// SwapchainDerived phases are rebuilt on resize; Targets must then hold
	// exactly the swapchain, or one ResizableTarget that follows it.
	SwapchainDerived bool
	RenderPass       RenderPass
	// Targets holds one entry per framebuffer pool.
	Targets []TargetSource
	States  []RenderState
}

// RenderPhase records a render pass per pool into its framebuffer pool.
type RenderPhase struct {
	*phaseBase
	pass             RenderPass
	framebuffers     *FramebufferPool
	swapchainDerived bool
	// offscreen is set when a swapchain-derived phase draws into a
	// ResizableTarget instead of the swapchain itself.
	offscreen ResizableTarget
	states    []RenderState
}

func NewRenderPhase(device Device, cfg RenderPhaseConfig) (*RenderPhase, error) {
	if cfg.RenderPass == nil {
		return nil, fmt.Errorf("render phase %q: nil render pass: %w", cfg.Name, core.ErrInvalidConfig)
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("render phase %q: no targets: %w", cfg.Name, core.ErrInvalidConfig)
	}
	if cfg.SwapchainDerived && len(cfg.Targets) != 1 {
		return nil, fmt.Errorf("render phase %q: swapchain-derived phases render to a single pool, got %d: %w", cfg.Name, len(cfg.Targets), core.ErrInvalidConfig)
	}
	if device == nil {
		return nil, fmt.Errorf("render phase %q: nil device: %w", cfg.Name, core.ErrInvalidConfig)
	}

	base, err := newPhaseBase(device, device.GraphicsQueue(), StageColorAttachmentOutput, cfg.Name, cfg.BufferingDepth, cfg.RenderCount, len(cfg.Targets), cfg.OneShotCapture)
	if err != nil {
		return nil, err
	}

	fp, err := NewFramebufferPool(cfg.RenderPass, cfg.Targets)
	if err != nil {
		base.slots.destroy()
		return nil, fmt.Errorf("render phase %q: %w", cfg.Name, err)
	}

	states := make([]RenderState, len(cfg.States))
	copy(states, cfg.States)

	core.LogDebug("render phase %q (%s) built: %d pool(s), depth %d, %d render(s) per frame",
		cfg.Name, base.id, len(cfg.Targets), cfg.BufferingDepth, cfg.RenderCount)

	rp := &RenderPhase{
		phaseBase:        base,
		pass:             cfg.RenderPass,
		framebuffers:     fp,
		swapchainDerived: cfg.SwapchainDerived,
		states:           states,
	}
	if rt, ok := cfg.Targets[0].(ResizableTarget); ok && cfg.SwapchainDerived {
		rp.offscreen = rt
	}
	return rp, nil
}

func (rp *RenderPhase) Kind() PhaseKind        { return PhaseKindRender }
func (rp *RenderPhase) SwapchainDerived() bool { return rp.swapchainDerived }

func (rp *RenderPhase) Framebuffers() *FramebufferPool {
	return rp.framebuffers
}

// Register appends a state; states record in registration order.
func (rp *RenderPhase) Register(state RenderState) {
	rp.states = append(rp.states, state)
}

// Record records one render pass of the given pool into the current slot.
// State failures are logged and recording carries on; an error is only
// returned when the command buffer itself cannot be submitted.
func (rp *RenderPhase) Record(info RecordInfo) (Output, error) {
	slot, err := rp.beginRecording(info)
	if err != nil {
		core.LogError(err.Error())
		return Output{}, err
	}
	cmd := slot.CommandBuffer

	binding, ok := rp.framebuffers.Binding(info.PoolIndex, info.ImageIndex)
	if !ok {
		err := fmt.Errorf("render phase %q: no framebuffer for pool %d", rp.name, info.PoolIndex)
		core.LogError(err.Error())
		if endErr := cmd.End(); endErr != nil {
			rp.rearmFence(slot)
			return Output{}, endErr
		}
		return Output{}, nil
	}

	area := info.Area.ClampTo(rp.framebuffers.MinRenderArea())
	frame := &FrameContext{
		FrameNumber: info.FrameNumber,
		ImageIndex:  info.ImageIndex,
		Repeat:      info.Repeat,
		PoolIndex:   info.PoolIndex,
		Area:        area,
		Scene:       info.Scene,
		Input:       info.Input,
	}

	for i, state := range rp.states {
		if err := state.UpdateUniforms(frame); err != nil {
			core.LogError("render phase %q: state %d uniforms: %s", rp.name, i, err)
		}
		if err := state.UpdateDescriptors(frame); err != nil {
			core.LogError("render phase %q: state %d descriptors: %s", rp.name, i, err)
		}
	}

	cmd.BeginRenderPass(rp.pass, binding.Framebuffer, area)
	cmd.SetViewport(area)
	cmd.SetScissor(area)
	for i, state := range rp.states {
		if err := state.RecordDraw(cmd, frame); err != nil {
			core.LogError("render phase %q: state %d draw: %s", rp.name, i, err)
		}
	}
	cmd.EndRenderPass()

	if err := cmd.End(); err != nil {
		err = fmt.Errorf("render phase %q: end command buffer: %w", rp.name, err)
		core.LogError(err.Error())
		rp.rearmFence(slot)
		return Output{}, err
	}

	out := Output{Image: binding.Target.Image, View: binding.Target.View}
	rp.lastOutputs[info.PoolIndex] = out
	return out, nil
}

// UpdateSwapchain rebuilds the framebuffer pool from the new swapchain images.
// An offscreen target is resized to the swapchain first and the pool is
// rebuilt from it. Phases rendering to fixed targets ignore it.
func (rp *RenderPhase) UpdateSwapchain(target TargetSource) error {
	if !rp.swapchainDerived {
		return nil
	}
	if rp.offscreen != nil {
		if err := rp.offscreen.Resize(target); err != nil {
			err = fmt.Errorf("render phase %q: resize offscreen target: %w", rp.name, err)
			core.LogError(err.Error())
			return err
		}
		target = rp.offscreen
	}
	if err := rp.framebuffers.Rebuild([]TargetSource{target}); err != nil {
		err = fmt.Errorf("render phase %q: rebuild framebuffers: %w", rp.name, err)
		core.LogError(err.Error())
		return err
	}
	for i := range rp.lastOutputs {
		rp.lastOutputs[i] = Output{}
	}
	core.LogDebug("render phase %q: framebuffers rebuilt at %dx%d", rp.name, target.Extent().Width, target.Extent().Height)
	return nil
}

func (rp *RenderPhase) Destroy() {
	if rp.slots == nil {
		return
	}
	rp.phaseBase.destroy()
	rp.framebuffers.Destroy()
}
