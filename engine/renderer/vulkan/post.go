package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

// SceneTarget is the offscreen color and depth the scene renders into when it
// is post-processed before presentation. It holds one color image per
// swapchain image and follows the swapchain size.
type SceneTarget struct {
	context *VulkanContext
	images  *CaptureImages
	// generation is bumped on every resize so bound descriptors can tell
	// they point at destroyed views.
	generation int
}

func NewSceneTarget(context *VulkanContext, swapchain graph.TargetSource) (*SceneTarget, error) {
	st := &SceneTarget{context: context}
	if err := st.create(swapchain); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *SceneTarget) create(swapchain graph.TargetSource) error {
	ci, err := NewCaptureImages(st.context, swapchain.Extent(), swapchain.ImageCount(), CaptureFormat, true)
	if err != nil {
		return err
	}
	st.images = ci
	st.generation++
	return nil
}

func (st *SceneTarget) Extent() graph.Extent {
	if st.images == nil {
		return graph.Extent{}
	}
	return st.images.Target.Extent()
}

func (st *SceneTarget) ImageCount() int {
	if st.images == nil {
		return 0
	}
	return st.images.Target.ImageCount()
}

func (st *SceneTarget) ColorAttachment(index int) graph.Attachment {
	return st.images.Target.ColorAttachment(index)
}

func (st *SceneTarget) DepthView() graph.ImageView {
	if st.images == nil {
		return nil
	}
	return st.images.Target.DepthView()
}

// Resize recreates the images at the swapchain size. The device is idle.
func (st *SceneTarget) Resize(swapchain graph.TargetSource) error {
	st.Destroy()
	if err := st.create(swapchain); err != nil {
		return err
	}
	core.LogDebug("scene target resized to %dx%d, %d image(s)", st.Extent().Width, st.Extent().Height, st.ImageCount())
	return nil
}

func (st *SceneTarget) Destroy() {
	if st.images != nil {
		st.images.Destroy(st.context)
		st.images = nil
	}
}

// VulkanStorageBinder binds the post-processing pipeline to whichever scene
// image the chain hands down. Every scene image has its own descriptor set, so
// a frame still in flight never sees its set rewritten. The sets are only
// rewritten after the scene target was resized, when the device is idle.
type VulkanStorageBinder struct {
	set        *VulkanStorageImageSet
	pipeline   *VulkanComputePipeline
	target     *SceneTarget
	generation int
}

func NewStorageBinder(set *VulkanStorageImageSet, pipeline *VulkanComputePipeline, target *SceneTarget) *VulkanStorageBinder {
	return &VulkanStorageBinder{set: set, pipeline: pipeline, target: target}
}

// BindInput selects the set of the scene image behind input for the next
// dispatches.
func (b *VulkanStorageBinder) BindInput(input graph.Output) error {
	if b.generation != b.target.generation {
		if err := b.rewrite(); err != nil {
			return err
		}
	}
	for i := 0; i < b.target.ImageCount(); i++ {
		if b.target.ColorAttachment(i).View == input.View {
			b.pipeline.UseDescriptorSets(b.set.Sets[i])
			return nil
		}
	}
	return fmt.Errorf("post-process input %v is not a scene image: %w", input.View, core.ErrInvalidConfig)
}

func (b *VulkanStorageBinder) rewrite() error {
	if err := b.set.Grow(b.target.ImageCount()); err != nil {
		return err
	}
	for i, img := range b.target.images.colors {
		b.set.UpdateImage(i, img.View)
	}
	b.generation = b.target.generation
	core.LogDebug("post-process descriptors rewritten for %d scene image(s)", b.target.ImageCount())
	return nil
}

// PresentBlit copies the post-processed scene image into the acquired
// swapchain image and leaves it ready for presentation. Registered after the
// post-processing state, it records into the same command buffer.
type PresentBlit struct {
	swapchain *VulkanSwapchain
	source    graph.Output
}

func NewPresentBlit(swapchain *VulkanSwapchain) *PresentBlit {
	return &PresentBlit{swapchain: swapchain}
}

func (pb *PresentBlit) UpdateUniforms(*graph.FrameContext) error { return nil }

func (pb *PresentBlit) UpdateDescriptors(frame *graph.FrameContext) error {
	if !frame.Input.IsZero() {
		pb.source = frame.Input
	}
	return nil
}

func (pb *PresentBlit) RecordDispatch(cmd graph.CommandBuffer, frame *graph.FrameContext) error {
	vcb, ok := cmd.(*VulkanCommandBuffer)
	if !ok {
		return fmt.Errorf("present blit on %T: %w", cmd, core.ErrInvalidConfig)
	}
	src, ok := pb.source.Image.(vk.Image)
	if !ok || src == nil {
		return fmt.Errorf("present blit without a scene image: %w", core.ErrInvalidConfig)
	}
	if int(frame.ImageIndex) >= len(pb.swapchain.Images) {
		return fmt.Errorf("present blit to image %d of %d: %w", frame.ImageIndex, len(pb.swapchain.Images), core.ErrInvalidConfig)
	}
	dst := pb.swapchain.Images[frame.ImageIndex]
	area := frame.Area.ClampTo(pb.swapchain.Extent())
	if area.Width == 0 || area.Height == 0 {
		return nil
	}

	vk.CmdPipelineBarrier(
		vcb.Handle,
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0,
		0, nil,
		0, nil,
		2, []vk.ImageMemoryBarrier{
			colorBarrier(src, vk.ImageLayoutGeneral, vk.ImageLayoutTransferSrcOptimal,
				vk.AccessFlags(vk.AccessShaderWriteBit), vk.AccessFlags(vk.AccessTransferReadBit)),
			colorBarrier(dst, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
				0, vk.AccessFlags(vk.AccessTransferWriteBit)),
		})

	offsets := [2]vk.Offset3D{
		{X: area.X, Y: area.Y, Z: 0},
		{X: area.X + int32(area.Width), Y: area.Y + int32(area.Height), Z: 1},
	}
	layers := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	vk.CmdBlitImage(vcb.Handle,
		src, vk.ImageLayoutTransferSrcOptimal,
		dst, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{{
			SrcSubresource: layers,
			SrcOffsets:     offsets,
			DstSubresource: layers,
			DstOffsets:     offsets,
		}},
		vk.FilterNearest)

	vk.CmdPipelineBarrier(
		vcb.Handle,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		0,
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{
			colorBarrier(dst, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutPresentSrc,
				vk.AccessFlags(vk.AccessTransferWriteBit), 0),
		})
	return nil
}

func colorBarrier(image vk.Image, from, to vk.ImageLayout, srcAccess, dstAccess vk.AccessFlags) vk.ImageMemoryBarrier {
	return vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           from,
		NewLayout:           to,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
}
