package neptunevk

import vk "github.com/goki/vulkan"

// formatHasDepth reports whether a format carries a depth aspect.
func formatHasDepth(format vk.Format) bool {
	switch format {
	case vk.FormatD16Unorm, vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint,
		vk.FormatD32Sfloat, vk.FormatX8D24UnormPack32, vk.FormatD32SfloatS8Uint:
		return true
	}
	return false
}

// formatHasStencil reports whether a format carries a stencil aspect.
func formatHasStencil(format vk.Format) bool {
	switch format {
	case vk.FormatS8Uint, vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint,
		vk.FormatD32SfloatS8Uint:
		return true
	}
	return false
}

func formatHasDepthOrStencil(format vk.Format) bool {
	return formatHasDepth(format) || formatHasStencil(format)
}

// formatToAspect derives the natural aspect mask for a format.
func formatToAspect(format vk.Format) vk.ImageAspectFlags {
	switch {
	case format == vk.FormatUndefined:
		return 0
	case format == vk.FormatS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	case formatHasDepth(format) && formatHasStencil(format):
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	case formatHasDepth(format):
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	default:
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
}

// formatToSRGB maps a UNORM color format onto its sRGB sibling, used by
// MUTABLE_SRGB default views.
func formatToSRGB(format vk.Format) vk.Format {
	switch format {
	case vk.FormatR8g8b8a8Unorm:
		return vk.FormatR8g8b8a8Srgb
	case vk.FormatB8g8r8a8Unorm:
		return vk.FormatB8g8r8a8Srgb
	case vk.FormatR8Unorm:
		return vk.FormatR8Srgb
	case vk.FormatR8g8Unorm:
		return vk.FormatR8g8Srgb
	}
	return format
}
