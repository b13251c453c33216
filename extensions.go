package neptunevk

import (
	vk "github.com/goki/vulkan"
)

// extensionSet is an availability snapshot of one enumeration domain
// (instance extensions, device extensions, or layers). Names are stored
// NUL-terminated so the enable lists can go straight into create infos.
type extensionSet map[string]bool

func (s extensionSet) Has(name string) bool {
	return s[safeString(name)]
}

// enable partitions the wanted names against availability. Required names
// that are absent come back in missing — a capability error for the caller
// to refuse bring-up with. Optional names are enabled when present and
// silently dropped otherwise. Duplicates collapse.
func (s extensionSet) enable(required, optional []string) (enabled []string, missing []string) {
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			enabled = append(enabled, name)
		}
	}
	for _, name := range safeStrings(append([]string(nil), required...)) {
		if s[name] {
			add(name)
		} else {
			missing = append(missing, name)
		}
	}
	for _, name := range safeStrings(append([]string(nil), optional...)) {
		if s[name] {
			add(name)
		}
	}
	return enabled, missing
}

// queryInstanceExtensions snapshots what the loader offers.
func queryInstanceExtensions() (extensionSet, error) {
	var count uint32
	if ret := vk.EnumerateInstanceExtensionProperties("", &count, nil); isError(ret) {
		return nil, newErrorf(ret, "enumerating instance extensions")
	}
	list := make([]vk.ExtensionProperties, count)
	if ret := vk.EnumerateInstanceExtensionProperties("", &count, list); isError(ret) {
		return nil, newErrorf(ret, "enumerating instance extensions")
	}
	set := make(extensionSet, count)
	for _, ext := range list {
		ext.Deref()
		set[safeString(vk.ToString(ext.ExtensionName[:]))] = true
	}
	return set, nil
}

// queryDeviceExtensions snapshots what one physical device offers.
func queryDeviceExtensions(gpu vk.PhysicalDevice) (extensionSet, error) {
	var count uint32
	if ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil); isError(ret) {
		return nil, newErrorf(ret, "enumerating device extensions")
	}
	list := make([]vk.ExtensionProperties, count)
	if ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list); isError(ret) {
		return nil, newErrorf(ret, "enumerating device extensions")
	}
	set := make(extensionSet, count)
	for _, ext := range list {
		ext.Deref()
		set[safeString(vk.ToString(ext.ExtensionName[:]))] = true
	}
	return set, nil
}

// queryValidationLayers snapshots the instance layers present on the host.
func queryValidationLayers() (extensionSet, error) {
	var count uint32
	if ret := vk.EnumerateInstanceLayerProperties(&count, nil); isError(ret) {
		return nil, newErrorf(ret, "enumerating layers")
	}
	list := make([]vk.LayerProperties, count)
	if ret := vk.EnumerateInstanceLayerProperties(&count, list); isError(ret) {
		return nil, newErrorf(ret, "enumerating layers")
	}
	set := make(extensionSet, count)
	for _, layer := range list {
		layer.Deref()
		set[safeString(vk.ToString(layer.LayerName[:]))] = true
	}
	return set, nil
}
