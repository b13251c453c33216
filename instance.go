package neptunevk

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

// InstanceOptions configure bring-up.
type InstanceOptions struct {
	AppName          string
	EnableValidation bool
	// Extra instance extensions beyond what the platform requires.
	InstanceExtensions []string
	DeviceExtensions   []string
	FramesInFlight     int
}

// createInstance builds the VkInstance. The platform's surface extensions
// are required — missing ones are a capability error and the instance is
// not created. Caller extras are optional and enabled when present.
func createInstance(opts *InstanceOptions, platformExtensions []string) (vk.Instance, error) {
	available, err := queryInstanceExtensions()
	if err != nil {
		return nil, err
	}
	extensions, missing := available.enable(platformExtensions, opts.InstanceExtensions)
	if len(missing) > 0 {
		return nil, errors.Errorf("missing required instance extensions: %v", missing)
	}

	var layers []string
	if opts.EnableValidation {
		if availableLayers, err := queryValidationLayers(); err == nil {
			layers, _ = availableLayers.enable(nil, []string{"VK_LAYER_KHRONOS_validation"})
		}
	}

	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   safeString(opts.AppName),
			PEngineName:        safeString("neptunevk"),
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &instance)
	if isError(ret) {
		return nil, newErrorf(ret, "creating instance")
	}
	vk.InitInstance(instance)
	return instance, nil
}

// selectPhysicalDevice takes the first enumerated GPU; multi-GPU selection
// is left to the caller via the raw handles.
func selectPhysicalDevice(instance vk.Instance) (vk.PhysicalDevice, error) {
	var count uint32
	ret := vk.EnumeratePhysicalDevices(instance, &count, nil)
	if isError(ret) || count == 0 {
		return nil, errors.New("no GPU devices found")
	}
	gpus := make([]vk.PhysicalDevice, count)
	ret = vk.EnumeratePhysicalDevices(instance, &count, gpus)
	if isError(ret) {
		return nil, NewError(ret)
	}
	return gpus[0], nil
}

// discoverQueueFamilies finds the graphics family plus dedicated compute
// and transfer families where the hardware splits them, falling back to the
// graphics family otherwise.
func discoverQueueFamilies(gpu vk.PhysicalDevice) (families [QueueCount]uint32, ok bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	if count == 0 {
		return families, false
	}
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, props)

	const invalid = ^uint32(0)
	graphics, compute, transfer := invalid, invalid, invalid
	for i := uint32(0); i < count; i++ {
		props[i].Deref()
		flags := props[i].QueueFlags
		if graphics == invalid && flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			graphics = i
			continue
		}
		if compute == invalid && flags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
			compute = i
			continue
		}
		if transfer == invalid && flags&vk.QueueFlags(vk.QueueTransferBit) != 0 {
			transfer = i
		}
	}
	if graphics == invalid {
		return families, false
	}
	if compute == invalid {
		compute = graphics
	}
	if transfer == invalid {
		transfer = graphics
	}
	families[QueueGraphics] = graphics
	families[QueueCompute] = compute
	families[QueueTransfer] = transfer
	return families, true
}

// createLogicalDevice builds the VkDevice with one queue per distinct
// family and the timeline-semaphore feature enabled. Required extensions
// gate creation; optional ones are enabled when present and recorded as
// feature flags.
func createLogicalDevice(gpu vk.PhysicalDevice, families [QueueCount]uint32, requiredExtensions []string) (vk.Device, DeviceFeatures, error) {
	var features DeviceFeatures

	available, err := queryDeviceExtensions(gpu)
	if err != nil {
		return nil, features, err
	}
	required := append([]string{"VK_KHR_swapchain"}, requiredExtensions...)
	optional := []string{"VK_NV_device_diagnostic_checkpoints", "VK_KHR_get_surface_capabilities2"}
	extensions, missing := available.enable(required, optional)
	if len(missing) > 0 {
		return nil, features, errors.Errorf("missing required device extensions: %v", missing)
	}
	features.supportsCheckpoints = available.Has("VK_NV_device_diagnostic_checkpoints")
	features.supportsSurfaceCaps2 = available.Has("VK_KHR_get_surface_capabilities2")
	features.timelineSemaphore = true

	distinct := map[uint32]bool{}
	var queueInfos []vk.DeviceQueueCreateInfo
	priority := []float32{1.0}
	for q := 0; q < QueueCount; q++ {
		if distinct[families[q]] {
			continue
		}
		distinct[families[q]] = true
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: families[q],
			QueueCount:       1,
			PQueuePriorities: priority,
		})
	}

	timelineFeature := vk.PhysicalDeviceTimelineSemaphoreFeatures{
		SType:             vk.StructureTypePhysicalDeviceTimelineSemaphoreFeatures,
		TimelineSemaphore: vk.True,
	}
	var device vk.Device
	ret := vk.CreateDevice(gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   unsafe.Pointer(timelineFeature.Ref()),
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}, nil, &device)
	if isError(ret) {
		return nil, features, newErrorf(ret, "creating logical device")
	}
	return device, features, nil
}

// buildQueueInfo fetches one queue per slot; slots sharing a family share
// the queue object.
func buildQueueInfo(device vk.Device, families [QueueCount]uint32) QueueInfo {
	var info QueueInfo
	fetched := map[uint32]vk.Queue{}
	for q := 0; q < QueueCount; q++ {
		family := families[q]
		if queue, ok := fetched[family]; ok {
			info.queues[q] = queue
		} else {
			var queue vk.Queue
			vk.GetDeviceQueue(device, family, 0, &queue)
			fetched[family] = queue
			info.queues[q] = queue
		}
		info.familyIndices[q] = family
	}
	return info
}
