package neptunevk

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

// fakeAttachment fabricates an image view without touching the device; hash
// computations only read format, domain, layout type and cookies.
func fakeAttachment(format vk.Format, domain ImageDomain, swapchain bool) *ImageView {
	img := &Image{
		cookie: NewCookie(),
		info: ImageCreateInfo{
			Domain: domain,
			Width:  640,
			Height: 480,
			Format: format,
		},
		layoutType: ImageLayoutOptimal,
		refs:       1,
	}
	if swapchain {
		img.swapchainLayout = vk.ImageLayoutPresentSrc
	}
	view := &ImageView{
		cookie: NewCookie(),
		info: ImageViewCreateInfo{
			Image:  img,
			Format: format,
		},
		refs: 1,
	}
	img.view = view
	return view
}

func colorOnlyPass(att *ImageView, clearMask uint32) RenderPassInfo {
	info := RenderPassInfo{NumColorAttachments: 1}
	info.ColorAttachments[0] = att
	info.ClearAttachments = clearMask
	info.StoreAttachments = 1
	return info
}

func TestRenderPassHashDeterministic(t *testing.T) {
	att := fakeAttachment(vk.FormatB8g8r8a8Unorm, ImageDomainPhysical, false)
	a := colorOnlyPass(att, 1)
	b := colorOnlyPass(att, 1)
	assert.Equal(t, a.hash(false), b.hash(false))
	assert.Equal(t, a.hash(true), b.hash(true))
}

func TestRenderPassCompatHashIgnoresOps(t *testing.T) {
	att := fakeAttachment(vk.FormatB8g8r8a8Unorm, ImageDomainPhysical, false)
	cleared := colorOnlyPass(att, 1)
	loaded := colorOnlyPass(att, 0)
	loaded.LoadAttachments = 1

	// Concrete passes differ by their ops, compatible variants do not.
	assert.NotEqual(t, cleared.hash(false), loaded.hash(false))
	assert.Equal(t, cleared.hash(true), loaded.hash(true))
}

func TestRenderPassHashFormatSensitive(t *testing.T) {
	a := colorOnlyPass(fakeAttachment(vk.FormatB8g8r8a8Unorm, ImageDomainPhysical, false), 1)
	b := colorOnlyPass(fakeAttachment(vk.FormatR8g8b8a8Unorm, ImageDomainPhysical, false), 1)
	assert.NotEqual(t, a.hash(false), b.hash(false))
}

func TestRenderPassHashSwapchainSensitive(t *testing.T) {
	plain := colorOnlyPass(fakeAttachment(vk.FormatB8g8r8a8Unorm, ImageDomainPhysical, false), 1)
	backbuffer := colorOnlyPass(fakeAttachment(vk.FormatB8g8r8a8Unorm, ImageDomainPhysical, true), 1)
	assert.NotEqual(t, plain.hash(true), backbuffer.hash(true))
}

func TestFramebufferHashKeyedByCookies(t *testing.T) {
	attA := fakeAttachment(vk.FormatB8g8r8a8Unorm, ImageDomainPhysical, false)
	attB := fakeAttachment(vk.FormatB8g8r8a8Unorm, ImageDomainPhysical, false)

	passA := colorOnlyPass(attA, 1)
	passB := colorOnlyPass(attB, 1)
	compatHash := passA.hash(true)

	assert.NotEqual(t,
		framebufferHash(compatHash, &passA),
		framebufferHash(compatHash, &passB),
		"different attachment cookies must produce different framebuffers")

	// Clear-mask differences do not reach the framebuffer key.
	passA2 := colorOnlyPass(attA, 0)
	passA2.LoadAttachments = 1
	assert.Equal(t,
		framebufferHash(compatHash, &passA),
		framebufferHash(compatHash, &passA2))
}

func TestFramebufferExtentIsMinOverAttachments(t *testing.T) {
	small := fakeAttachment(vk.FormatB8g8r8a8Unorm, ImageDomainPhysical, false)
	small.info.Image.info.Width = 320
	small.info.Image.info.Height = 200
	big := fakeAttachment(vk.FormatD32Sfloat, ImageDomainPhysical, false)

	info := RenderPassInfo{NumColorAttachments: 1}
	info.ColorAttachments[0] = small
	info.DepthStencil = big

	w, h := framebufferExtent(&info)
	assert.Equal(t, uint32(320), w)
	assert.Equal(t, uint32(200), h)
}

func TestBuildClearValuesDepthOnly(t *testing.T) {
	depth := fakeAttachment(vk.FormatD24UnormS8Uint, ImageDomainPhysical, false)
	info := RenderPassInfo{
		DepthStencil: depth,
		OpFlags:      RenderPassOpClearDepthStencil,
		ClearDepth:   1.0,
	}
	values := buildClearValues(&info)
	assert.Len(t, values, 1, "depth-only pass carries exactly the depth clear slot")
}

func TestBuildClearValuesSparseColorMask(t *testing.T) {
	att0 := fakeAttachment(vk.FormatB8g8r8a8Unorm, ImageDomainPhysical, false)
	att1 := fakeAttachment(vk.FormatB8g8r8a8Unorm, ImageDomainPhysical, false)
	info := RenderPassInfo{NumColorAttachments: 2}
	info.ColorAttachments[0] = att0
	info.ColorAttachments[1] = att1
	info.ClearAttachments = 1 << 1

	values := buildClearValues(&info)
	assert.Len(t, values, 2, "clear slots run through the highest cleared index")
}

func TestEffectiveSubpassesImplicitSingle(t *testing.T) {
	att := fakeAttachment(vk.FormatB8g8r8a8Unorm, ImageDomainPhysical, false)
	depth := fakeAttachment(vk.FormatD32Sfloat, ImageDomainPhysical, false)
	info := RenderPassInfo{NumColorAttachments: 1, DepthStencil: depth}
	info.ColorAttachments[0] = att

	subs := effectiveSubpasses(&info)
	assert.Len(t, subs, 1)
	assert.Equal(t, []uint32{0}, subs[0].ColorAttachments)
	assert.Equal(t, DepthStencilReadWrite, subs[0].DepthStencilMode)

	info.OpFlags = RenderPassOpDepthStencilReadOnly
	subs = effectiveSubpasses(&info)
	assert.Equal(t, DepthStencilReadOnly, subs[0].DepthStencilMode)
}
