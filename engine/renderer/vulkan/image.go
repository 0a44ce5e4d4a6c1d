package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Width  uint32
	Height uint32
}

func ImageCreate(
	context *VulkanContext,
	imageType vk.ImageType,
	width, height uint32,
	format vk.Format,
	tiling vk.ImageTiling,
	usage vk.ImageUsageFlags,
	memoryFlags vk.MemoryPropertyFlags,
	createView bool,
	viewAspectFlags vk.ImageAspectFlags,
) (*VulkanImage, error) {
	outImage := &VulkanImage{
		Width:  width,
		Height: height,
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: imageType,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1, // TODO: Support configurable depth.
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        tiling,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         usage,
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}

	err := context.locks.SafeCall(ImageManagement, func() error {
		var handle vk.Image
		if res := vk.CreateImage(context.Device.LogicalDevice, &imageCreateInfo, context.Allocator, &handle); res != vk.Success {
			return resultError("vkCreateImage", res)
		}
		outImage.Handle = handle
		return nil
	})
	if err != nil {
		return nil, err
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.Device.LogicalDevice, outImage.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType, err := context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, uint32(memoryFlags))
	if err != nil {
		outImage.Destroy(context)
		return nil, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: memoryType,
	}
	err = context.locks.SafeCall(MemoryManagement, func() error {
		var memory vk.DeviceMemory
		if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &memory); res != vk.Success {
			return resultError("vkAllocateMemory", res)
		}
		outImage.Memory = memory
		return resultError("vkBindImageMemory", vk.BindImageMemory(context.Device.LogicalDevice, outImage.Handle, outImage.Memory, 0))
	})
	if err != nil {
		outImage.Destroy(context)
		return nil, err
	}

	if createView {
		view, err := ImageViewCreate(context, format, outImage.Handle, viewAspectFlags)
		if err != nil {
			outImage.Destroy(context)
			return nil, err
		}
		outImage.View = view
	}

	return outImage, nil
}

func ImageViewCreate(context *VulkanContext, format vk.Format, image vk.Image, aspectFlags vk.ImageAspectFlags) (vk.ImageView, error) {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d, // TODO: Make configurable.
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectFlags,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var view vk.ImageView
	if res := vk.CreateImageView(context.Device.LogicalDevice, &viewCreateInfo, context.Allocator, &view); res != vk.Success {
		err := resultError("vkCreateImageView", res)
		core.LogError(err.Error())
		return nil, err
	}
	return view, nil
}

func (vi *VulkanImage) Destroy(context *VulkanContext) {
	if vi == nil {
		return
	}
	if vi.View != nil {
		vk.DestroyImageView(context.Device.LogicalDevice, vi.View, context.Allocator)
		vi.View = nil
	}
	if vi.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, vi.Memory, context.Allocator)
		vi.Memory = nil
	}
	if vi.Handle != nil {
		vk.DestroyImage(context.Device.LogicalDevice, vi.Handle, context.Allocator)
		vi.Handle = nil
	}
}

// CaptureImages owns the offscreen images behind a graph.CaptureTarget, e.g.
// the six faces of one probe.
type CaptureImages struct {
	Target *graph.CaptureTarget

	colors []*VulkanImage
	depth  *VulkanImage
}

// NewCaptureImages allocates count color images of the given size, sampled
// after rendering, plus one shared depth image when withDepth is set.
func NewCaptureImages(context *VulkanContext, extent graph.Extent, count int, colorFormat vk.Format, withDepth bool) (*CaptureImages, error) {
	if count <= 0 || extent.Width == 0 || extent.Height == 0 {
		return nil, fmt.Errorf("capture target %dx%d with %d images: %w", extent.Width, extent.Height, count, core.ErrInvalidConfig)
	}

	ci := &CaptureImages{Target: &graph.CaptureTarget{Size: extent}}
	for i := 0; i < count; i++ {
		img, err := ImageCreate(
			context,
			vk.ImageType2d,
			extent.Width,
			extent.Height,
			colorFormat,
			vk.ImageTilingOptimal,
			vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit|vk.ImageUsageSampledBit|vk.ImageUsageStorageBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
			true,
			vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			ci.Destroy(context)
			return nil, err
		}
		ci.colors = append(ci.colors, img)
		ci.Target.Colors = append(ci.Target.Colors, graph.Attachment{Image: img.Handle, View: img.View})
	}

	if withDepth {
		depth, err := ImageCreate(
			context,
			vk.ImageType2d,
			extent.Width,
			extent.Height,
			context.Device.DepthFormat,
			vk.ImageTilingOptimal,
			vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
			true,
			vk.ImageAspectFlags(vk.ImageAspectDepthBit))
		if err != nil {
			ci.Destroy(context)
			return nil, err
		}
		ci.depth = depth
		ci.Target.Depth = depth.View
	}
	return ci, nil
}

func (ci *CaptureImages) Destroy(context *VulkanContext) {
	for _, img := range ci.colors {
		img.Destroy(context)
	}
	ci.depth.Destroy(context)
	ci.colors = nil
	ci.depth = nil
	ci.Target.Colors = nil
	ci.Target.Depth = nil
}
