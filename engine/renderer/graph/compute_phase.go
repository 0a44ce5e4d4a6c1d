package graph

import (
	"fmt"

	"github.com/spaghettifunk/cascade/engine/core"
)

type ComputePhaseConfig struct {
	Name           string
	BufferingDepth int
	RenderCount    int
	OneShotCapture bool
	// PoolCount is the number of independent dispatch targets (default 1).
	PoolCount int
	// Outputs optionally names the storage image written per pool, so later
	// phases can sample it. Either empty or PoolCount long.
	Outputs []Attachment
	States  []ComputeState
}

// ComputePhase records dispatches. It has no render target and no framebuffer.
type ComputePhase struct {
	*phaseBase
	outputs []Attachment
	states  []ComputeState
}

func NewComputePhase(device Device, cfg ComputePhaseConfig) (*ComputePhase, error) {
	if device == nil {
		return nil, fmt.Errorf("compute phase %q: nil device: %w", cfg.Name, core.ErrInvalidConfig)
	}
	pools := cfg.PoolCount
	if pools == 0 {
		pools = 1
	}
	if len(cfg.Outputs) != 0 && len(cfg.Outputs) != pools {
		return nil, fmt.Errorf("compute phase %q: %d outputs for %d pools: %w", cfg.Name, len(cfg.Outputs), pools, core.ErrInvalidConfig)
	}

	base, err := newPhaseBase(device, device.ComputeQueue(), StageComputeShader, cfg.Name, cfg.BufferingDepth, cfg.RenderCount, pools, cfg.OneShotCapture)
	if err != nil {
		return nil, err
	}

	outputs := make([]Attachment, len(cfg.Outputs))
	copy(outputs, cfg.Outputs)
	states := make([]ComputeState, len(cfg.States))
	copy(states, cfg.States)

	core.LogDebug("compute phase %q (%s) built: %d pool(s), depth %d", cfg.Name, base.id, pools, cfg.BufferingDepth)

	return &ComputePhase{
		phaseBase: base,
		outputs:   outputs,
		states:    states,
	}, nil
}

func (cp *ComputePhase) Kind() PhaseKind        { return PhaseKindCompute }
func (cp *ComputePhase) SwapchainDerived() bool { return false }

func (cp *ComputePhase) Register(state ComputeState) {
	cp.states = append(cp.states, state)
}

// Record records every registered dispatch for the pool. The area is passed
// through untouched since there is no framebuffer to clamp against.
func (cp *ComputePhase) Record(info RecordInfo) (Output, error) {
	slot, err := cp.beginRecording(info)
	if err != nil {
		core.LogError(err.Error())
		return Output{}, err
	}
	cmd := slot.CommandBuffer

	frame := &FrameContext{
		FrameNumber: info.FrameNumber,
		ImageIndex:  info.ImageIndex,
		Repeat:      info.Repeat,
		PoolIndex:   info.PoolIndex,
		Area:        info.Area,
		Scene:       info.Scene,
		Input:       info.Input,
	}

	for i, state := range cp.states {
		if err := state.UpdateUniforms(frame); err != nil {
			core.LogError("compute phase %q: state %d uniforms: %s", cp.name, i, err)
		}
		if err := state.UpdateDescriptors(frame); err != nil {
			core.LogError("compute phase %q: state %d descriptors: %s", cp.name, i, err)
		}
	}
	for i, state := range cp.states {
		if err := state.RecordDispatch(cmd, frame); err != nil {
			core.LogError("compute phase %q: state %d dispatch: %s", cp.name, i, err)
		}
	}

	if err := cmd.End(); err != nil {
		err = fmt.Errorf("compute phase %q: end command buffer: %w", cp.name, err)
		core.LogError(err.Error())
		cp.rearmFence(slot)
		return Output{}, err
	}

	var out Output
	if len(cp.outputs) > 0 {
		out = Output{Image: cp.outputs[info.PoolIndex].Image, View: cp.outputs[info.PoolIndex].View}
	}
	cp.lastOutputs[info.PoolIndex] = out
	return out, nil
}

func (cp *ComputePhase) UpdateSwapchain(TargetSource) error {
	return nil
}

func (cp *ComputePhase) Destroy() {
	cp.phaseBase.destroy()
}
