package views

import (
	"time"

	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

// Scene is the per-frame data the game hands to the renderer. Views that get
// anything else as the frame scene fall back to their defaults.
type Scene struct {
	Elapsed  time.Duration
	Exposure float32
}

func sceneOf(frame *graph.FrameContext) *Scene {
	if s, ok := frame.Scene.(*Scene); ok && s != nil {
		return s
	}
	return &Scene{Exposure: 1.0}
}

// Packet is what a view built for one recorded pass.
type Packet struct {
	FrameNumber uint64
	Area        graph.Rect
	Aspect      float32
	Exposure    float32
	// Environment is the probe capture the scene lights itself with, if any.
	Environment graph.Output
}

// DrawFunc records the actual draw calls of a view.
type DrawFunc func(cmd graph.CommandBuffer, packet *Packet) error

// SceneView is the on-screen world view. It tracks the render area to keep
// the projection aspect in sync and forwards the environment produced by the
// probe bake to the draw callback.
type SceneView struct {
	Draw DrawFunc

	packet      Packet
	lastArea    graph.Rect
	environment graph.Output
	draws       uint64
}

func NewSceneView(draw DrawFunc) *SceneView {
	return &SceneView{Draw: draw}
}

func (sv *SceneView) UpdateUniforms(frame *graph.FrameContext) error {
	if frame.Area != sv.lastArea {
		sv.onResize(frame.Area)
	}
	sv.packet = Packet{
		FrameNumber: frame.FrameNumber,
		Area:        frame.Area,
		Aspect:      aspect(frame.Area),
		Exposure:    sceneOf(frame).Exposure,
	}
	return nil
}

// UpdateDescriptors keeps the last probe capture handed down the chain. The
// bake only runs once, so later frames reuse it.
func (sv *SceneView) UpdateDescriptors(frame *graph.FrameContext) error {
	if !frame.Input.IsZero() {
		sv.environment = frame.Input
	}
	sv.packet.Environment = sv.environment
	return nil
}

func (sv *SceneView) RecordDraw(cmd graph.CommandBuffer, frame *graph.FrameContext) error {
	sv.draws++
	if sv.Draw == nil {
		return nil
	}
	return sv.Draw(cmd, &sv.packet)
}

func (sv *SceneView) onResize(area graph.Rect) {
	core.LogDebug("scene view: render area %dx%d", area.Width, area.Height)
	sv.lastArea = area
}

func (sv *SceneView) LastPacket() Packet { return sv.packet }
func (sv *SceneView) Draws() uint64      { return sv.draws }

func aspect(area graph.Rect) float32 {
	if area.Height == 0 {
		return 1.0
	}
	return float32(area.Width) / float32(area.Height)
}
