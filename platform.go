package neptunevk

import (
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

// WSIPlatform abstracts the windowing system: extensions it needs, the
// surface it creates, window geometry, input polling, and liveness.
type WSIPlatform interface {
	// RequiredInstanceExtensions lists what the surface backend needs.
	RequiredInstanceExtensions() []string
	// RequiredDeviceExtensions lists what presentation needs.
	RequiredDeviceExtensions() []string
	// CreateSurface produces the presentable surface.
	CreateSurface(instance vk.Instance) vk.Surface
	// Width and Height report the framebuffer dimensions.
	Width() uint32
	Height() uint32
	// PollInput pumps the platform event loop.
	PollInput()
	// SetResizeCallback installs the resize notification hook.
	SetResizeCallback(fn func(width, height uint32))
	// Alive reports whether the outer loop should keep running.
	Alive() bool
	// Destroy tears the platform down.
	Destroy()
}

// GLFWPlatform is the stock WSIPlatform over a GLFW window.
type GLFWPlatform struct {
	window   *glfw.Window
	onResize func(width, height uint32)
}

// NewGLFWPlatform creates a window with no client API, ready for a Vulkan
// surface.
func NewGLFWPlatform(width, height int, title string) (*GLFWPlatform, error) {
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing glfw")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, errors.New("glfw reports no vulkan support")
	}
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vk.Init(); err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "initializing vulkan")
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "creating window")
	}
	p := &GLFWPlatform{window: window}
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, w, h int) {
		if p.onResize != nil {
			p.onResize(uint32(w), uint32(h))
		}
	})
	return p, nil
}

func (p *GLFWPlatform) Window() *glfw.Window { return p.window }

func (p *GLFWPlatform) RequiredInstanceExtensions() []string {
	return p.window.GetRequiredInstanceExtensions()
}

func (p *GLFWPlatform) RequiredDeviceExtensions() []string {
	return []string{"VK_KHR_swapchain"}
}

func (p *GLFWPlatform) CreateSurface(instance vk.Instance) vk.Surface {
	surfacePtr, err := p.window.CreateWindowSurface(instance, nil)
	if err != nil {
		logger().Error("window surface creation failed", "err", err)
		return vk.NullSurface
	}
	return vk.SurfaceFromPointer(surfacePtr)
}

func (p *GLFWPlatform) Width() uint32 {
	w, _ := p.window.GetFramebufferSize()
	return uint32(w)
}

func (p *GLFWPlatform) Height() uint32 {
	_, h := p.window.GetFramebufferSize()
	return uint32(h)
}

func (p *GLFWPlatform) PollInput() {
	glfw.PollEvents()
}

func (p *GLFWPlatform) SetResizeCallback(fn func(width, height uint32)) {
	p.onResize = fn
}

func (p *GLFWPlatform) Alive() bool {
	return !p.window.ShouldClose()
}

func (p *GLFWPlatform) Destroy() {
	p.window.Destroy()
	glfw.Terminate()
}

// NewDeviceForPlatform runs the full bring-up: instance, surface, physical
// device, queue families, logical device, then the CoreDevice and its swap
// chain. The boolean result is false when a required capability is missing.
func NewDeviceForPlatform(platform WSIPlatform, opts InstanceOptions) (*CoreDevice, *CoreSwapchain, bool) {
	instance, err := createInstance(&opts, platform.RequiredInstanceExtensions())
	if err != nil {
		logger().Error("instance bring-up failed", "err", err)
		return nil, nil, false
	}
	surface := platform.CreateSurface(instance)
	if surface == vk.NullSurface {
		logger().Error("platform returned no surface")
		return nil, nil, false
	}
	gpu, err := selectPhysicalDevice(instance)
	if err != nil {
		logger().Error("physical device selection failed", "err", err)
		return nil, nil, false
	}
	families, ok := discoverQueueFamilies(gpu)
	if !ok {
		logger().Error("no usable queue families")
		return nil, nil, false
	}
	device, features, err := createLogicalDevice(gpu, families,
		append(platform.RequiredDeviceExtensions(), opts.DeviceExtensions...))
	if err != nil {
		logger().Error("logical device bring-up failed", "err", err)
		return nil, nil, false
	}

	core := NewCoreDevice(instance, gpu, device, buildQueueInfo(device, families), features, opts.FramesInFlight)

	swapchain, swapErr := core.CreateSwapchain(SwapChainDesc{
		Width:  platform.Width(),
		Height: platform.Height(),
		VSync:  true,
	}, surface, nil)
	if swapErr != SwapchainErrorNone {
		logger().Error("swapchain bring-up failed", "error", int(swapErr))
		return core, nil, false
	}
	return core, swapchain, true
}
