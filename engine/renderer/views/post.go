package views

import (
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

// Pipeline is a compute pipeline that can be bound on a command buffer.
type Pipeline interface {
	Bind(cmd graph.CommandBuffer) error
}

// InputBinder points the descriptors of a pass at the image it reads, e.g. a
// storage image set of the post-processing pipeline.
type InputBinder interface {
	BindInput(input graph.Output) error
}

// DefaultWorkgroupSize matches the local size of the post-process shaders.
const DefaultWorkgroupSize uint32 = 16

// PostProcessView dispatches one compute pass covering the render area over
// the image the chain hands down, e.g. tonemapping the scene in place. The
// binder is told about every new input before the dispatch is recorded.
type PostProcessView struct {
	Pipeline      Pipeline
	Binder        InputBinder
	WorkgroupSize uint32

	// OnInput is called whenever the chain hands a new input image down.
	OnInput func(input graph.Output)

	input      graph.Output
	dispatches int
}

func NewPostProcessView(pipeline Pipeline, binder InputBinder) *PostProcessView {
	return &PostProcessView{
		Pipeline:      pipeline,
		Binder:        binder,
		WorkgroupSize: DefaultWorkgroupSize,
	}
}

func (pp *PostProcessView) UpdateUniforms(*graph.FrameContext) error { return nil }

func (pp *PostProcessView) UpdateDescriptors(frame *graph.FrameContext) error {
	if frame.Input.IsZero() || frame.Input == pp.input {
		return nil
	}
	if pp.Binder != nil {
		if err := pp.Binder.BindInput(frame.Input); err != nil {
			// keep the old input so the next frame retries
			return err
		}
	}
	pp.input = frame.Input
	if pp.OnInput != nil {
		pp.OnInput(frame.Input)
	}
	return nil
}

// RecordDispatch binds the pipeline and dispatches enough workgroups to cover
// the area. Without a pipeline, or with a binder but no input bound yet,
// nothing is recorded.
func (pp *PostProcessView) RecordDispatch(cmd graph.CommandBuffer, frame *graph.FrameContext) error {
	if pp.Pipeline == nil || (pp.Binder != nil && pp.input.IsZero()) {
		return nil
	}
	x, y := WorkgroupCount(frame.Area, pp.WorkgroupSize)
	if x == 0 || y == 0 {
		return nil
	}
	if err := pp.Pipeline.Bind(cmd); err != nil {
		return err
	}
	cmd.Dispatch(x, y, 1)
	pp.dispatches++
	return nil
}

func (pp *PostProcessView) Dispatches() int { return pp.dispatches }

// WorkgroupCount is the number of workgroups of the given size needed to
// cover area in each dimension.
func WorkgroupCount(area graph.Rect, size uint32) (uint32, uint32) {
	if size == 0 {
		size = DefaultWorkgroupSize
	}
	return (area.Width + size - 1) / size, (area.Height + size - 1) / size
}
