package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

// VulkanFramebuffer implements graph.Framebuffer.
type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	Renderpass  *VulkanRenderpass
	Size        graph.Extent

	context *VulkanContext
}

func FramebufferCreate(context *VulkanContext, renderpass *VulkanRenderpass, extent graph.Extent, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	outFramebuffer := &VulkanFramebuffer{
		// Take a copy of the attachments.
		Attachments: append([]vk.ImageView(nil), attachments...),
		Renderpass:  renderpass,
		Size:        extent,
		context:     context,
	}

	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(outFramebuffer.Attachments)),
		PAttachments:    outFramebuffer.Attachments,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}

	var pFramebuffer vk.Framebuffer
	if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &pFramebuffer); res != vk.Success {
		err := resultError("vkCreateFramebuffer", res)
		core.LogError(err.Error())
		return nil, err
	}
	outFramebuffer.Handle = pFramebuffer
	return outFramebuffer, nil
}

func (vfb *VulkanFramebuffer) Extent() graph.Extent {
	return vfb.Size
}

func (vfb *VulkanFramebuffer) Destroy() {
	if vfb.Handle != nil {
		vk.DestroyFramebuffer(vfb.context.Device.LogicalDevice, vfb.Handle, vfb.context.Allocator)
	}
	vfb.Attachments = nil
	vfb.Handle = nil
	vfb.Renderpass = nil
}
