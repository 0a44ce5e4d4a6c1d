package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

type RenderpassConfig struct {
	ColorFormat vk.Format
	// DepthFormat is vk.FormatUndefined for passes without a depth attachment.
	DepthFormat vk.Format

	// FinalLayout is PresentSrc for on-screen passes and ShaderReadOnlyOptimal
	// for passes whose output is sampled later.
	FinalLayout vk.ImageLayout

	ClearColor [4]float32
	Depth      float32
	Stencil    uint32
}

// VulkanRenderpass implements graph.RenderPass. The render area is supplied
// per begin, so one pass serves every target size.
type VulkanRenderpass struct {
	Handle vk.RenderPass
	Config RenderpassConfig

	context *VulkanContext
}

func (c RenderpassConfig) hasDepth() bool {
	return c.DepthFormat != vk.FormatUndefined
}

func RenderpassCreate(context *VulkanContext, config RenderpassConfig) (*VulkanRenderpass, error) {
	outRenderpass := &VulkanRenderpass{
		Config:  config,
		context: context,
	}

	attachmentDescriptions := []vk.AttachmentDescription{{
		Format:         config.ColorFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined, // Do not expect any particular layout before render pass starts.
		FinalLayout:    config.FinalLayout,      // Transitioned to after the render pass
	}}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}

	if config.hasDepth() {
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         config.DepthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	// The wait on the previous submission lands on the color output stage,
	// matching graph.StageColorAttachmentOutput.
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var pRenderPass vk.RenderPass
	err := context.locks.SafeCall(RenderpassManagement, func() error {
		return resultError("vkCreateRenderPass", vk.CreateRenderPass(context.Device.LogicalDevice, &renderpassCreateInfo, context.Allocator, &pRenderPass))
	})
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	outRenderpass.Handle = pRenderPass
	return outRenderpass, nil
}

func (vr *VulkanRenderpass) Destroy() {
	if vr.Handle != nil {
		vk.DestroyRenderPass(vr.context.Device.LogicalDevice, vr.Handle, vr.context.Allocator)
		vr.Handle = nil
	}
}

// NewFramebuffer builds a framebuffer compatible with this pass. The
// attachment count must match the pass layout.
func (vr *VulkanRenderpass) NewFramebuffer(attachments []graph.ImageView, extent graph.Extent) (graph.Framebuffer, error) {
	want := 1
	if vr.Config.hasDepth() {
		want = 2
	}
	if len(attachments) != want {
		return nil, fmt.Errorf("render pass expects %d attachments, got %d: %w", want, len(attachments), core.ErrInvalidConfig)
	}
	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		view, ok := a.(vk.ImageView)
		if !ok {
			return nil, fmt.Errorf("attachment %d is %T, not an image view: %w", i, a, core.ErrInvalidConfig)
		}
		views[i] = view
	}
	return FramebufferCreate(vr.context, vr, extent, views)
}

func (vr *VulkanRenderpass) RenderpassBegin(commandBuffer *VulkanCommandBuffer, frameBuffer vk.Framebuffer, area graph.Rect) {
	clearValues := make([]vk.ClearValue, 1, 2)
	clearValues[0].SetColor(vr.Config.ClearColor[:])
	if vr.Config.hasDepth() {
		var depth vk.ClearValue
		depth.SetDepthStencil(vr.Config.Depth, vr.Config.Stencil)
		clearValues = append(clearValues, depth)
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: frameBuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: area.X, Y: area.Y},
			Extent: vk.Extent2D{Width: area.Width, Height: area.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}

	vk.CmdBeginRenderPass(commandBuffer.Handle, &beginInfo, vk.SubpassContentsInline)
	commandBuffer.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}
