package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

// VulkanDevice is the logical device plus the queues the render graph
// submits to. It implements graph.Device.
type VulkanDevice struct {
	context *VulkanContext

	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	SwapchainSupport   VulkanSwapchainSupportInfo
	GraphicsQueueIndex int32
	PresentQueueIndex  int32
	ComputeQueueIndex  int32

	graphics *VulkanQueue
	present  *VulkanQueue
	compute  *VulkanQueue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Compute              bool
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
	ComputeFamilyIndex  int32
}

func DeviceCreate(context *VulkanContext, requireDiscrete bool) (*VulkanDevice, error) {
	device := &VulkanDevice{
		context:            context,
		GraphicsQueueIndex: -1,
		PresentQueueIndex:  -1,
		ComputeQueueIndex:  -1,
	}
	context.Device = device

	if err := device.selectPhysicalDevice(requireDiscrete); err != nil {
		return nil, err
	}

	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	indices := []uint32{uint32(device.GraphicsQueueIndex)}
	if device.PresentQueueIndex != device.GraphicsQueueIndex {
		indices = append(indices, uint32(device.PresentQueueIndex))
	}
	if device.ComputeQueueIndex != device.GraphicsQueueIndex && device.ComputeQueueIndex != device.PresentQueueIndex {
		indices = append(indices, uint32(device.ComputeQueueIndex))
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	portabilityRequired := false
	var availableExtensionCount uint32
	if res := vk.EnumerateDeviceExtensionProperties(device.PhysicalDevice, "", &availableExtensionCount, nil); res != vk.Success {
		return nil, resultError("vkEnumerateDeviceExtensionProperties", res)
	}
	if availableExtensionCount != 0 {
		availableExtensions := make([]vk.ExtensionProperties, availableExtensionCount)
		if res := vk.EnumerateDeviceExtensionProperties(device.PhysicalDevice, "", &availableExtensionCount, availableExtensions); res != vk.Success {
			return nil, resultError("vkEnumerateDeviceExtensionProperties", res)
		}
		for i := range availableExtensions {
			availableExtensions[i].Deref()
			if extensionName(availableExtensions[i]) == "VK_KHR_portability_subset" {
				core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
				portabilityRequired = true
				break
			}
		}
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if portabilityRequired {
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var logical vk.Device
	if res := vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &logical); res != vk.Success {
		return nil, resultError("vkCreateDevice", res)
	}
	device.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	device.graphics = device.newQueue("graphics", device.GraphicsQueueIndex)
	device.present = device.newQueue("present", device.PresentQueueIndex)
	device.compute = device.newQueue("compute", device.ComputeQueueIndex)
	core.LogInfo("Queues obtained.")

	// One pool serves both graphics and compute recording, so the compute
	// family is always the graphics one.
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		return nil, resultError("vkCreateCommandPool", res)
	}
	device.GraphicsCommandPool = pool
	core.LogInfo("Graphics command pool created.")

	if !DeviceDetectDepthFormat(device) {
		device.DepthFormat = vk.FormatUndefined
		return nil, fmt.Errorf("no supported depth format: %w", core.ErrUnknown)
	}

	return device, nil
}

func (vd *VulkanDevice) newQueue(name string, family int32) *VulkanQueue {
	var handle vk.Queue
	vk.GetDeviceQueue(vd.LogicalDevice, uint32(family), 0, &handle)
	vd.context.locks.SetQueueFamily(uint32(family))
	return &VulkanQueue{
		Name:   name,
		Handle: handle,
		Family: uint32(family),
		locks:  vd.context.locks,
	}
}

func (vd *VulkanDevice) Destroy() {
	vd.graphics = nil
	vd.present = nil
	vd.compute = nil

	core.LogInfo("Destroying command pools...")
	vk.DestroyCommandPool(vd.LogicalDevice, vd.GraphicsCommandPool, vd.context.Allocator)

	core.LogInfo("Destroying logical device...")
	if vd.LogicalDevice != nil {
		vk.DestroyDevice(vd.LogicalDevice, vd.context.Allocator)
		vd.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	core.LogInfo("Releasing physical device resources...")
	vd.PhysicalDevice = nil
	vd.SwapchainSupport = VulkanSwapchainSupportInfo{}

	vd.GraphicsQueueIndex = -1
	vd.PresentQueueIndex = -1
	vd.ComputeQueueIndex = -1
}

func (vd *VulkanDevice) NewCommandBuffer() (graph.CommandBuffer, error) {
	return NewVulkanCommandBuffer(vd.context, vd.GraphicsCommandPool, true)
}

func (vd *VulkanDevice) NewSemaphore() (graph.Semaphore, error) {
	return NewSemaphore(vd.context)
}

func (vd *VulkanDevice) NewFence(signaled bool) (graph.Fence, error) {
	return NewFence(vd.context, signaled)
}

// WaitForFences blocks until every fence is signaled. Fences already known to
// be signaled are skipped.
func (vd *VulkanDevice) WaitForFences(fences []graph.Fence, timeoutNS uint64) error {
	handles, pending := fenceHandles(fences, true)
	if len(handles) == 0 {
		return nil
	}
	res := vk.WaitForFences(vd.LogicalDevice, uint32(len(handles)), handles, vk.True, timeoutNS)
	if err := resultError("vkWaitForFences", res); err != nil {
		return err
	}
	for _, f := range pending {
		f.IsSignaled = true
	}
	return nil
}

func (vd *VulkanDevice) ResetFences(fences []graph.Fence) error {
	handles, reset := fenceHandles(fences, false)
	if len(handles) == 0 {
		return nil
	}
	err := vd.context.locks.SafeCall(SynchronizationManagement, func() error {
		return resultError("vkResetFences", vk.ResetFences(vd.LogicalDevice, uint32(len(handles)), handles))
	})
	if err != nil {
		return err
	}
	for _, f := range reset {
		f.IsSignaled = false
	}
	return nil
}

// fenceHandles collects the raw handles of fences. With unsignaledOnly set the
// fences already known to be signaled are left out.
func fenceHandles(fences []graph.Fence, unsignaledOnly bool) ([]vk.Fence, []*VulkanFence) {
	handles := make([]vk.Fence, 0, len(fences))
	picked := make([]*VulkanFence, 0, len(fences))
	for _, f := range fences {
		vf, ok := f.(*VulkanFence)
		if !ok || vf.Handle == nil {
			continue
		}
		if unsignaledOnly && vf.IsSignaled {
			continue
		}
		handles = append(handles, vf.Handle)
		picked = append(picked, vf)
	}
	return handles, picked
}

func (vd *VulkanDevice) GraphicsQueue() graph.Queue { return vd.graphics }
func (vd *VulkanDevice) ComputeQueue() graph.Queue  { return vd.compute }
func (vd *VulkanDevice) PresentQueue() *VulkanQueue { return vd.present }

func (vd *VulkanDevice) WaitIdle() error {
	return vd.context.locks.SafeCall(DeviceManagement, func() error {
		return resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(vd.LogicalDevice))
	})
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", res)
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, nil); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
	}
	if supportInfo.FormatCount != 0 {
		supportInfo.Formats = make([]vk.SurfaceFormat, supportInfo.FormatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, supportInfo.Formats); res != vk.Success {
			return resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, nil); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
	}
	if supportInfo.PresentModeCount != 0 {
		supportInfo.PresentModes = make([]vk.PresentMode, supportInfo.PresentModeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, supportInfo.PresentModes); res != vk.Success {
			return resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
		}
	}
	return nil
}

func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if properties.LinearTilingFeatures&flags == flags || properties.OptimalTilingFeatures&flags == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	return false
}

func (vd *VulkanDevice) selectPhysicalDevice(requireDiscrete bool) error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(vd.context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found: %w", core.ErrUnknown)
	}

	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(vd.context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		Compute:              true,
		DiscreteGPU:          requireDiscrete,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
	if runtime.GOOS == "darwin" {
		requirements.DiscreteGPU = false
	}

	for _, physical := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(physical, &properties)
		properties.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(physical, &features)
		features.Deref()

		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(physical, &memory)
		memory.Deref()

		var support VulkanSwapchainSupportInfo
		queueInfo, ok := PhysicalDeviceMeetsRequirements(physical, vd.context.Surface, &properties, &requirements, &support)
		if !ok {
			continue
		}

		core.LogInfo("Selected device: '%s'.", vk.ToString(properties.DeviceName[:]))
		switch properties.DeviceType {
		case vk.PhysicalDeviceTypeIntegratedGpu:
			core.LogInfo("GPU type is Integrated.")
		case vk.PhysicalDeviceTypeDiscreteGpu:
			core.LogInfo("GPU type is Discrete.")
		case vk.PhysicalDeviceTypeVirtualGpu:
			core.LogInfo("GPU type is Virtual.")
		case vk.PhysicalDeviceTypeCpu:
			core.LogInfo("GPU type is CPU.")
		default:
			core.LogInfo("GPU type is Unknown.")
		}

		core.LogInfo(
			"GPU Driver version: %d.%d.%d",
			vk.Version(properties.DriverVersion).Major(),
			vk.Version(properties.DriverVersion).Minor(),
			vk.Version(properties.DriverVersion).Patch(),
		)
		core.LogInfo(
			"Vulkan API version: %d.%d.%d",
			vk.Version(properties.ApiVersion).Major(),
			vk.Version(properties.ApiVersion).Minor(),
			vk.Version(properties.ApiVersion).Patch(),
		)

		for j := 0; j < int(memory.MemoryHeapCount); j++ {
			memory.MemoryHeaps[j].Deref()
			memorySizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
			if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
				core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
			} else {
				core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
			}
		}

		vd.PhysicalDevice = physical
		vd.GraphicsQueueIndex = queueInfo.GraphicsFamilyIndex
		vd.PresentQueueIndex = queueInfo.PresentFamilyIndex
		vd.ComputeQueueIndex = queueInfo.ComputeFamilyIndex
		vd.SwapchainSupport = support
		vd.Properties = properties
		vd.Features = features
		vd.Memory = memory
		break
	}

	if vd.PhysicalDevice == nil {
		return fmt.Errorf("no physical devices were found which meet the requirements: %w", core.ErrUnknown)
	}

	core.LogInfo("Physical device selected.")
	return nil
}

// PhysicalDeviceMeetsRequirements picks the queue families of device. Compute
// is taken from the graphics family so that both share a command pool.
func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements, outSwapchainSupport *VulkanSwapchainSupportInfo) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	queueInfo := VulkanPhysicalDeviceQueueFamilyInfo{
		GraphicsFamilyIndex: -1,
		PresentFamilyIndex:  -1,
		ComputeFamilyIndex:  -1,
	}
	deviceName := vk.ToString(properties.DeviceName[:])

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device is not a discrete GPU, and one is required. Skipping.")
		return queueInfo, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := vk.QueueFlagBits(queueFamilies[i].QueueFlags)

		graphics := flags&vk.QueueGraphicsBit != 0
		compute := flags&vk.QueueComputeBit != 0
		if graphics && compute && queueInfo.GraphicsFamilyIndex < 0 {
			queueInfo.GraphicsFamilyIndex = int32(i)
			queueInfo.ComputeFamilyIndex = int32(i)
		}

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return queueInfo, false
		}
		// prefer presenting from the graphics family
		if supportsPresent == vk.True && (queueInfo.PresentFamilyIndex < 0 || queueInfo.GraphicsFamilyIndex == int32(i)) {
			queueInfo.PresentFamilyIndex = int32(i)
		}
	}

	core.LogInfo("Graphics | Present | Compute | Name")
	core.LogInfo("%8d | %7d | %7d | %s",
		queueInfo.GraphicsFamilyIndex,
		queueInfo.PresentFamilyIndex,
		queueInfo.ComputeFamilyIndex,
		deviceName)

	if (requirements.Graphics && queueInfo.GraphicsFamilyIndex < 0) ||
		(requirements.Present && queueInfo.PresentFamilyIndex < 0) ||
		(requirements.Compute && queueInfo.ComputeFamilyIndex < 0) {
		return queueInfo, false
	}
	core.LogInfo("Device meets queue requirements.")

	if err := DeviceQuerySwapchainSupport(device, surface, outSwapchainSupport); err != nil {
		core.LogWarn("Querying swapchain support failed: %s", err)
		return queueInfo, false
	}
	if outSwapchainSupport.FormatCount < 1 || outSwapchainSupport.PresentModeCount < 1 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return queueInfo, false
	}

	if len(requirements.DeviceExtensionNames) > 0 {
		var availableExtensionCount uint32
		if res := vk.EnumerateDeviceExtensionProperties(device, "", &availableExtensionCount, nil); res != vk.Success {
			return queueInfo, false
		}
		availableExtensions := make([]vk.ExtensionProperties, availableExtensionCount)
		if res := vk.EnumerateDeviceExtensionProperties(device, "", &availableExtensionCount, availableExtensions); res != vk.Success {
			return queueInfo, false
		}
		available := make(map[string]struct{}, len(availableExtensions))
		for i := range availableExtensions {
			availableExtensions[i].Deref()
			available[extensionName(availableExtensions[i])] = struct{}{}
		}
		for _, required := range requirements.DeviceExtensionNames {
			if _, found := available[required]; !found {
				core.LogInfo("Required extension not found: '%s', skipping device.", required)
				return queueInfo, false
			}
		}
	}

	return queueInfo, true
}

func extensionName(ext vk.ExtensionProperties) string {
	end := FindFirstZeroInByteArray(ext.ExtensionName[:])
	return string(ext.ExtensionName[:end])
}
