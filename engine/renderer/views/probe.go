package views

import (
	"fmt"

	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

// CubeFaces is the number of faces of one probe capture.
const CubeFaces = 6

// ProbeBakeView records the captures of the light probes. Every cube face
// of every probe is its own single-image framebuffer pool, so one pass over
// the pools captures all of them: pool p holds face p%CubeFaces of probe
// p/CubeFaces. It remembers which faces were captured so the game can tell
// when the bake is complete.
type ProbeBakeView struct {
	probes int
	baked  []uint8
	faces  int
}

func NewProbeBakeView(probes int) (*ProbeBakeView, error) {
	if probes <= 0 {
		return nil, fmt.Errorf("probe bake with %d probes: %w", probes, core.ErrInvalidConfig)
	}
	return &ProbeBakeView{
		probes: probes,
		baked:  make([]uint8, probes),
	}, nil
}

// Pools is the number of framebuffer pools the bake phase needs.
func (pv *ProbeBakeView) Pools() int { return pv.probes * CubeFaces }

func (pv *ProbeBakeView) UpdateUniforms(frame *graph.FrameContext) error {
	if frame.PoolIndex < 0 || frame.PoolIndex >= pv.Pools() {
		return fmt.Errorf("probe face pool %d out of range [0, %d): %w", frame.PoolIndex, pv.Pools(), core.ErrInvalidConfig)
	}
	return nil
}

func (pv *ProbeBakeView) UpdateDescriptors(*graph.FrameContext) error { return nil }

// RecordDraw marks the face the pass renders into.
func (pv *ProbeBakeView) RecordDraw(_ graph.CommandBuffer, frame *graph.FrameContext) error {
	if frame.PoolIndex < 0 || frame.PoolIndex >= pv.Pools() {
		return nil
	}
	probe, face := frame.PoolIndex/CubeFaces, uint(frame.PoolIndex%CubeFaces)
	bit := uint8(1) << face
	if pv.baked[probe]&bit == 0 {
		pv.baked[probe] |= bit
		pv.faces++
	}
	core.LogDebug("probe %d: face %d captured (repeat %d)", probe, face, frame.Repeat)
	return nil
}

// BakedFaces is the number of distinct probe faces captured so far.
func (pv *ProbeBakeView) BakedFaces() int { return pv.faces }

// Complete reports whether every face of every probe was captured.
func (pv *ProbeBakeView) Complete() bool { return pv.faces == pv.Pools() }

// Baked reports whether the given face of the given probe was captured.
func (pv *ProbeBakeView) Baked(probe, face int) bool {
	if probe < 0 || probe >= pv.probes || face < 0 || face >= CubeFaces {
		return false
	}
	return pv.baked[probe]&(1<<uint(face)) != 0
}
