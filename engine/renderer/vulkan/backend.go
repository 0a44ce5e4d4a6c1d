package vulkan

import (
	"fmt"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/platform"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

// CaptureFormat is the color format of every offscreen capture image.
const CaptureFormat = vk.FormatR8g8b8a8Unorm

type BackendConfig struct {
	AppName     string
	Width       uint32
	Height      uint32
	Debug       bool
	VSync       bool
	DiscreteGPU bool
	ShaderDir   string
}

// VulkanBackend creates the instance, surface, device and swapchain, and owns
// every GPU object handed out through it until Shutdown.
type VulkanBackend struct {
	platform  *platform.Platform
	config    BackendConfig
	context   *VulkanContext
	swapchain *VulkanSwapchain

	// released in reverse order on shutdown
	owned []func()
}

func New(p *platform.Platform, config BackendConfig) *VulkanBackend {
	return &VulkanBackend{
		platform: p,
		config:   config,
		context: &VulkanContext{
			locks: NewVulkanLockPool(),
		},
	}
}

func (vb *VulkanBackend) Initialize() error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("GetInstanceProcAddress is nil: %w", core.ErrUnknown)
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialize vk: %w", err)
	}

	if err := vb.createInstance(); err != nil {
		return err
	}

	if vb.config.Debug {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vb.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			return fmt.Errorf("vkCreateDebugReportCallbackEXT failed: %w", err)
		}
		vb.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := vb.platform.Window.CreateWindowSurface(vb.context.Instance, nil)
	if err != nil {
		return fmt.Errorf("vulkan surface creation failed: %w", err)
	}
	vb.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	if _, err := DeviceCreate(vb.context, vb.config.DiscreteGPU); err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	sc, err := SwapchainCreate(vb.context, vb.config.Width, vb.config.Height, vb.config.VSync)
	if err != nil {
		return err
	}
	vb.swapchain = sc

	core.LogInfo("Vulkan renderer initialized successfully.")
	return nil
}

func (vb *VulkanBackend) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(vb.config.AppName),
		PEngineName:        VulkanSafeString("Cascade"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := vb.platform.GetRequiredExtensionNames()
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	if vb.config.Debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	core.LogDebug("Required extensions: %v", requiredExtensions)
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	// Validation layers should only be enabled on non-release builds.
	var layers []string
	if vb.config.Debug {
		core.LogInfo("Validation layers enabled. Enumerating...")
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkLayers(layers); err != nil {
			return err
		}
		core.LogInfo("All required validation layers are present.")
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, vb.context.Allocator, &instance); res != vk.Success {
		return resultError("vkCreateInstance", res)
	}
	vb.context.Instance = instance
	if err := vk.InitInstance(vb.context.Instance); err != nil {
		return err
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func checkLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res)
	}
	names := make(map[string]struct{}, len(available))
	for i := range available {
		available[i].Deref()
		end := FindFirstZeroInByteArray(available[i].LayerName[:])
		names[string(available[i].LayerName[:end])] = struct{}{}
	}
	for _, layer := range required {
		if _, ok := names[layer]; !ok {
			return fmt.Errorf("required validation layer is missing: %s: %w", layer, core.ErrInvalidConfig)
		}
	}
	return nil
}

func (vb *VulkanBackend) Device() *VulkanDevice {
	return vb.context.Device
}

func (vb *VulkanBackend) Swapchain() *VulkanSwapchain {
	return vb.swapchain
}

func (vb *VulkanBackend) own(release func()) {
	vb.owned = append(vb.owned, release)
}

// SwapchainRenderpass builds the pass on-screen phases draw with: swapchain
// color plus depth, left ready for presentation.
func (vb *VulkanBackend) SwapchainRenderpass(clearColor [4]float32) (*VulkanRenderpass, error) {
	return vb.NewRenderpass(RenderpassConfig{
		ColorFormat: vb.swapchain.ImageFormat.Format,
		DepthFormat: vb.context.Device.DepthFormat,
		FinalLayout: vk.ImageLayoutPresentSrc,
		ClearColor:  clearColor,
		Depth:       1.0,
	})
}

// CaptureRenderpass builds the pass offscreen phases draw with. Its output is
// sampled by later phases.
func (vb *VulkanBackend) CaptureRenderpass(clearColor [4]float32) (*VulkanRenderpass, error) {
	return vb.NewRenderpass(RenderpassConfig{
		ColorFormat: CaptureFormat,
		DepthFormat: vb.context.Device.DepthFormat,
		FinalLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		ClearColor:  clearColor,
		Depth:       1.0,
	})
}

// SceneRenderpass builds the pass of a scene that is post-processed before
// presentation. Its color is left in the general layout for storage access.
func (vb *VulkanBackend) SceneRenderpass(clearColor [4]float32) (*VulkanRenderpass, error) {
	return vb.NewRenderpass(RenderpassConfig{
		ColorFormat: CaptureFormat,
		DepthFormat: vb.context.Device.DepthFormat,
		FinalLayout: vk.ImageLayoutGeneral,
		ClearColor:  clearColor,
		Depth:       1.0,
	})
}

func (vb *VulkanBackend) NewRenderpass(config RenderpassConfig) (*VulkanRenderpass, error) {
	rp, err := RenderpassCreate(vb.context, config)
	if err != nil {
		return nil, err
	}
	vb.own(rp.Destroy)
	return rp, nil
}

func (vb *VulkanBackend) NewCaptureTarget(extent graph.Extent, count int, withDepth bool) (*graph.CaptureTarget, error) {
	ci, err := NewCaptureImages(vb.context, extent, count, CaptureFormat, withDepth)
	if err != nil {
		return nil, err
	}
	vb.own(func() { ci.Destroy(vb.context) })
	return ci.Target, nil
}

// NewSceneTarget allocates a swapchain-sized offscreen target. The render
// phase drawing into it resizes it along with the swapchain.
func (vb *VulkanBackend) NewSceneTarget() (*SceneTarget, error) {
	st, err := NewSceneTarget(vb.context, vb.swapchain)
	if err != nil {
		return nil, err
	}
	vb.own(st.Destroy)
	return st, nil
}

// VulkanPostProcess is what a post-processed scene needs from the backend: the
// offscreen target the scene draws into, the pipeline working on it in place
// and the binder selecting the image of the frame.
type VulkanPostProcess struct {
	Target   *SceneTarget
	Pipeline *VulkanComputePipeline
	Binder   *VulkanStorageBinder
}

// NewPostProcess loads the named compute shader and allocates the scene target
// it runs over. Nothing is allocated when the shader cannot be loaded.
func (vb *VulkanBackend) NewPostProcess(name string) (*VulkanPostProcess, error) {
	set, err := NewStorageImageSet(vb.context)
	if err != nil {
		return nil, err
	}
	pipeline, err := vb.NewComputePipeline(name, set.Layout)
	if err != nil {
		set.Destroy()
		return nil, err
	}
	vb.own(set.Destroy)

	target, err := vb.NewSceneTarget()
	if err != nil {
		return nil, err
	}
	return &VulkanPostProcess{
		Target:   target,
		Pipeline: pipeline,
		Binder:   NewStorageBinder(set, pipeline, target),
	}, nil
}

// NewComputePipeline loads <ShaderDir>/<name>.comp.spv and builds a pipeline
// over the given set layouts.
func (vb *VulkanBackend) NewComputePipeline(name string, layouts ...vk.DescriptorSetLayout) (*VulkanComputePipeline, error) {
	path := filepath.Join(vb.config.ShaderDir, name+".comp.spv")
	shader, err := NewShaderModule(vb.context, path, vk.ShaderStageComputeBit)
	if err != nil {
		return nil, err
	}
	// the module is not needed once the pipeline exists
	defer shader.Destroy()

	pipeline, err := NewComputePipeline(vb.context, shader, layouts)
	if err != nil {
		return nil, err
	}
	vb.own(pipeline.Destroy)
	return pipeline, nil
}

// Shutdown releases everything in the opposite order of creation. The
// swapchain and the render graph are released by the renderer beforehand.
func (vb *VulkanBackend) Shutdown() {
	if vb.context.Device != nil && vb.context.Device.LogicalDevice != nil {
		if err := vb.context.Device.WaitIdle(); err != nil {
			core.LogWarn("shutdown: %s", err)
		}
	}

	for i := len(vb.owned) - 1; i >= 0; i-- {
		vb.owned[i]()
	}
	vb.owned = nil

	if vb.context.Device != nil {
		core.LogDebug("Destroying Vulkan device...")
		vb.context.Device.Destroy()
		vb.context.Device = nil
	}

	core.LogDebug("Destroying Vulkan surface...")
	if vb.context.Surface != vk.NullSurface {
		vk.DestroySurface(vb.context.Instance, vb.context.Surface, vb.context.Allocator)
		vb.context.Surface = vk.NullSurface
	}

	if vb.context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(vb.context.Instance, vb.context.debugMessenger, vb.context.Allocator)
		vb.context.debugMessenger = vk.NullDebugReportCallback
	}

	if vb.context.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(vb.context.Instance, vb.context.Allocator)
		vb.context.Instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
