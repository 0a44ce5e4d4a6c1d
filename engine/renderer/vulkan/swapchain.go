package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
	emath "github.com/spaghettifunk/cascade/engine/math"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

// VulkanSwapchain is the on-screen target of the swapchain-derived phases.
// It satisfies graph.TargetSource and the renderer's swapchain contract.
type VulkanSwapchain struct {
	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	Images      []vk.Image
	Views       []vk.ImageView
	Size        graph.Extent

	DepthAttachment *VulkanImage

	context *VulkanContext
	vsync   bool
}

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

func SwapchainCreate(context *VulkanContext, width, height uint32, vsync bool) (*VulkanSwapchain, error) {
	swapchain := &VulkanSwapchain{context: context, vsync: vsync}
	if err := swapchain.create(width, height); err != nil {
		return nil, err
	}
	return swapchain, nil
}

// Recreate destroys the current images and builds new ones for the given
// window size. The caller waits for the device to idle first.
func (vs *VulkanSwapchain) Recreate(width, height uint32) error {
	device := vs.context.Device
	if err := DeviceQuerySwapchainSupport(device.PhysicalDevice, vs.context.Surface, &device.SwapchainSupport); err != nil {
		return err
	}
	vs.destroy()
	return vs.create(width, height)
}

func (vs *VulkanSwapchain) Destroy() {
	vs.destroy()
}

func (vs *VulkanSwapchain) Extent() graph.Extent { return vs.Size }
func (vs *VulkanSwapchain) ImageCount() int      { return len(vs.Images) }

func (vs *VulkanSwapchain) ColorAttachment(index int) graph.Attachment {
	return graph.Attachment{Image: vs.Images[index], View: vs.Views[index]}
}

func (vs *VulkanSwapchain) DepthView() graph.ImageView {
	if vs.DepthAttachment == nil {
		return nil
	}
	return vs.DepthAttachment.View
}

// AcquireNextImage asks for the next presentable image and has signal fire
// once it is ready. A suboptimal swapchain still yields an image.
func (vs *VulkanSwapchain) AcquireNextImage(signal graph.Semaphore) (uint32, error) {
	semaphore := vk.NullSemaphore
	if s, ok := signal.(*VulkanSemaphore); ok {
		semaphore = s.Handle
	}

	var imageIndex uint32
	result := vk.AcquireNextImage(vs.context.Device.LogicalDevice, vs.Handle, math.MaxUint64, semaphore, vk.NullFence, &imageIndex)
	if result == vk.Suboptimal {
		return imageIndex, nil
	}
	if err := resultError("vkAcquireNextImageKHR", result); err != nil {
		return 0, err
	}
	return imageIndex, nil
}

// Present hands the image back once wait fires. Out-of-date and suboptimal
// both report core.ErrSwapchainOutOfDate so the renderer rebuilds.
func (vs *VulkanSwapchain) Present(wait graph.Semaphore, imageIndex uint32) error {
	presentInfo := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{vs.Handle},
		PImageIndices:  []uint32{imageIndex},
	}
	if s, ok := wait.(*VulkanSemaphore); ok && s.Handle != vk.NullSemaphore {
		presentInfo.WaitSemaphoreCount = 1
		presentInfo.PWaitSemaphores = []vk.Semaphore{s.Handle}
	}

	queue := vs.context.Device.PresentQueue()
	return queue.locks.SafeQueueCall(queue.Family, func() error {
		result := vk.QueuePresent(queue.Handle, &presentInfo)
		if result == vk.Suboptimal {
			return fmt.Errorf("vkQueuePresentKHR returned %s: %w", VulkanResultString(result, false), core.ErrSwapchainOutOfDate)
		}
		return resultError("vkQueuePresentKHR", result)
	})
}

func (vs *VulkanSwapchain) create(width, height uint32) error {
	support := &vs.context.Device.SwapchainSupport
	if len(support.Formats) == 0 {
		return fmt.Errorf("surface reports no formats: %w", core.ErrUnknown)
	}

	// Choose a swap surface format.
	vs.ImageFormat = support.Formats[0]
	for _, format := range support.Formats {
		// Preferred formats
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			vs.ImageFormat = format
			break
		}
	}

	presentMode := vk.PresentModeFifo
	if !vs.vsync {
		for _, mode := range support.PresentModes {
			if mode == vk.PresentModeMailbox {
				presentMode = mode
				break
			}
		}
	}

	// Swapchain extent
	swapchainExtent := vk.Extent2D{Width: width, Height: height}
	if support.Capabilities.CurrentExtent.Width != math.MaxUint32 {
		swapchainExtent = support.Capabilities.CurrentExtent
	}

	// Clamp to the value allowed by the GPU.
	minExtent := support.Capabilities.MinImageExtent
	maxExtent := support.Capabilities.MaxImageExtent
	swapchainExtent.Width = emath.Clamp(swapchainExtent.Width, minExtent.Width, maxExtent.Width)
	swapchainExtent.Height = emath.Clamp(swapchainExtent.Height, minExtent.Height, maxExtent.Height)

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          vs.context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      vs.ImageFormat.Format,
		ImageColorSpace:  vs.ImageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}

	// Setup the queue family indices
	device := vs.context.Device
	if device.GraphicsQueueIndex != device.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(device.GraphicsQueueIndex),
			uint32(device.PresentQueueIndex),
		}
	}

	var swapchainHandle vk.Swapchain
	err := vs.context.locks.SafeCall(SwapchainManagement, func() error {
		return resultError("vkCreateSwapchainKHR", vk.CreateSwapchain(device.LogicalDevice, &swapchainCreateInfo, vs.context.Allocator, &swapchainHandle))
	})
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	vs.Handle = swapchainHandle
	vs.Size = graph.Extent{Width: swapchainExtent.Width, Height: swapchainExtent.Height}

	// Images
	var count uint32
	if res := vk.GetSwapchainImages(device.LogicalDevice, vs.Handle, &count, nil); res != vk.Success {
		return resultError("vkGetSwapchainImagesKHR", res)
	}
	vs.Images = make([]vk.Image, count)
	if res := vk.GetSwapchainImages(device.LogicalDevice, vs.Handle, &count, vs.Images); res != vk.Success {
		return resultError("vkGetSwapchainImagesKHR", res)
	}

	// Views
	vs.Views = make([]vk.ImageView, count)
	for i := range vs.Images {
		view, err := ImageViewCreate(vs.context, vs.ImageFormat.Format, vs.Images[i], vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			return err
		}
		vs.Views[i] = view
	}

	// Create depth image and its view.
	depthAttachment, err := ImageCreate(
		vs.context,
		vk.ImageType2d,
		swapchainExtent.Width,
		swapchainExtent.Height,
		device.DepthFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true,
		vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	if err != nil {
		return err
	}
	vs.DepthAttachment = depthAttachment

	core.LogInfo("Swapchain created: %dx%d, %d images.", vs.Size.Width, vs.Size.Height, len(vs.Images))
	return nil
}

func (vs *VulkanSwapchain) destroy() {
	device := vs.context.Device
	vs.DepthAttachment.Destroy(vs.context)
	vs.DepthAttachment = nil

	// Only destroy the views, not the images, since those are owned by the
	// swapchain and are thus destroyed when it is.
	for _, view := range vs.Views {
		if view != nil {
			vk.DestroyImageView(device.LogicalDevice, view, vs.context.Allocator)
		}
	}
	vs.Views = nil
	vs.Images = nil

	if vs.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(device.LogicalDevice, vs.Handle, vs.context.Allocator)
		vs.Handle = vk.NullSwapchain
	}
}
