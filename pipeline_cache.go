package neptunevk

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"unsafe"

	vk "github.com/goki/vulkan"
)

const pipelineCacheFile = "pipeline_cache.bin"

// initPipelineCache creates the device pipeline cache, seeding it from the
// exported blob when its header still matches this device.
func (d *CoreDevice) initPipelineCache() {
	var initial []byte
	path := filepath.Join(d.exportDir, pipelineCacheFile)
	if data, err := os.ReadFile(path); err == nil {
		if d.validatePipelineCacheHeader(data) {
			initial = data
		} else {
			logger().Warn("pipeline cache header mismatch, discarding", "path", path)
		}
	}

	createInfo := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if len(initial) > 0 {
		createInfo.InitialDataSize = uint(len(initial))
		createInfo.PInitialData = unsafe.Pointer(&initial[0])
	}
	ret := vk.CreatePipelineCache(d.device, &createInfo, nil, &d.pipelineCache)
	if isError(ret) && len(initial) > 0 {
		// A poisoned blob is not fatal; fall back to an empty cache.
		createInfo.InitialDataSize = 0
		createInfo.PInitialData = nil
		ret = vk.CreatePipelineCache(d.device, &createInfo, nil, &d.pipelineCache)
	}
	if isError(ret) {
		logger().Error("pipeline cache creation failed", "result", int32(ret))
		d.pipelineCache = vk.NullPipelineCache
	}
}

// validatePipelineCacheHeader checks the blob against this device's
// identity: header version one, vendor, device and cache UUID.
func (d *CoreDevice) validatePipelineCacheHeader(data []byte) bool {
	if len(data) < 32 {
		return false
	}
	headerLength := binary.LittleEndian.Uint32(data[0:])
	headerVersion := binary.LittleEndian.Uint32(data[4:])
	vendorID := binary.LittleEndian.Uint32(data[8:])
	deviceID := binary.LittleEndian.Uint32(data[12:])
	if headerLength < 32 || headerVersion != uint32(vk.PipelineCacheHeaderVersionOne) {
		return false
	}
	if vendorID != d.gpuProperties.VendorID || deviceID != d.gpuProperties.DeviceID {
		return false
	}
	for i := range d.gpuProperties.PipelineCacheUUID {
		if data[16+i] != d.gpuProperties.PipelineCacheUUID[i] {
			return false
		}
	}
	return true
}

// flushPipelineCache exports the cache contents for the next run.
func (d *CoreDevice) flushPipelineCache() {
	if d.pipelineCache == vk.NullPipelineCache {
		return
	}
	var size uint
	if ret := vk.GetPipelineCacheData(d.device, d.pipelineCache, &size, nil); isError(ret) || size == 0 {
		return
	}
	data := make([]byte, size)
	if ret := vk.GetPipelineCacheData(d.device, d.pipelineCache, &size, unsafe.Pointer(&data[0])); isError(ret) {
		return
	}
	if err := os.MkdirAll(d.exportDir, 0o755); err != nil {
		logger().Warn("pipeline cache export dir", "err", err)
		return
	}
	path := filepath.Join(d.exportDir, pipelineCacheFile)
	if err := os.WriteFile(path, data[:size], 0o644); err != nil {
		logger().Warn("pipeline cache write failed", "path", path, "err", err)
	}
}
