package graph

// Output is what a phase produced for one pool/image: the image and view a
// later phase of the same frame may sample. The zero value means "nothing".
type Output struct {
	Image Image
	View  ImageView
}

func (o Output) IsZero() bool {
	return o.Image == nil && o.View == nil
}

// FrameContext is handed to every registered state while a phase records.
type FrameContext struct {
	FrameNumber uint64
	ImageIndex  uint32
	Repeat      int
	PoolIndex   int
	// Area is already clamped to what the bound framebuffers can hold.
	Area Rect
	// Scene is opaque to the scheduler (camera, lights, entities...).
	Scene interface{}
	// Input is the output of the previous submission in the chain, if any.
	Input Output
}

// RenderState is a unit of draw work registered on a render phase.
type RenderState interface {
	UpdateUniforms(frame *FrameContext) error
	UpdateDescriptors(frame *FrameContext) error
	RecordDraw(cmd CommandBuffer, frame *FrameContext) error
}

// ComputeState is a unit of dispatch work registered on a compute phase.
type ComputeState interface {
	UpdateUniforms(frame *FrameContext) error
	UpdateDescriptors(frame *FrameContext) error
	RecordDispatch(cmd CommandBuffer, frame *FrameContext) error
}
