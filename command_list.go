package neptunevk

import (
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// CommandListDirtyFlags track which pieces of state must be re-emitted at
// the next draw.
type CommandListDirtyFlags uint32

const (
	CommandListDirtyPipeline CommandListDirtyFlags = 1 << iota
	CommandListDirtyViewport
	CommandListDirtyScissor
	CommandListDirtyPushConstants
	CommandListDirtyStaticState
	CommandListDirtyVertexState

	CommandListDirtyDynamicBits = CommandListDirtyViewport | CommandListDirtyScissor
	commandListDirtyAll         = CommandListDirtyFlags(0xffffffff)
)

// PipelineStaticState is the compile-pipeline state hashed into the
// per-program pipeline cache key.
type PipelineStaticState struct {
	DepthTest        bool
	DepthWrite       bool
	DepthCompare     vk.CompareOp
	BlendEnable      bool
	SrcColorBlend    vk.BlendFactor
	DstColorBlend    vk.BlendFactor
	ColorBlendOp     vk.BlendOp
	SrcAlphaBlend    vk.BlendFactor
	DstAlphaBlend    vk.BlendFactor
	AlphaBlendOp     vk.BlendOp
	CullMode         vk.CullModeFlags
	FrontFace        vk.FrontFace
	PolygonMode      vk.PolygonMode
	Topology         vk.PrimitiveTopology
	StencilTest      bool
	PrimitiveRestart bool
	WriteMask        uint32
}

func defaultStaticState() PipelineStaticState {
	return PipelineStaticState{
		DepthCompare:  vk.CompareOpLessOrEqual,
		SrcColorBlend: vk.BlendFactorOne,
		DstColorBlend: vk.BlendFactorZero,
		SrcAlphaBlend: vk.BlendFactorOne,
		DstAlphaBlend: vk.BlendFactorZero,
		CullMode:      vk.CullModeFlags(vk.CullModeNone),
		FrontFace:     vk.FrontFaceCounterClockwise,
		PolygonMode:   vk.PolygonModeFill,
		Topology:      vk.PrimitiveTopologyTriangleList,
		WriteMask:     0xf,
	}
}

// vertexAttrib is one vertex input attribute slot.
type vertexAttrib struct {
	binding uint32
	format  vk.Format
	offset  uint32
}

// resourceBinding is one slot of the bindings matrix.
type resourceBinding struct {
	bufferInfo    vk.DescriptorBufferInfo
	imageInfo     vk.DescriptorImageInfo
	bufferView    vk.BufferView
	dynamicOffset uint32
	cookie        uint64
	samplerCookie uint64
}

// CommandList records one frame's worth of commands on a single command
// buffer, tracking dirty state and flushing pipeline and descriptor state
// lazily at draw time.
type CommandList struct {
	device      *CoreDevice
	cmd         vk.CommandBuffer
	queueType   int
	threadIndex int

	dirty     CommandListDirtyFlags
	dirtySets uint32

	staticState PipelineStaticState

	attribs        [16]vertexAttrib
	attribMask     uint32
	vboBuffers     [VulkanNumVertexBuffers]vk.Buffer
	vboOffsets     [VulkanNumVertexBuffers]vk.DeviceSize
	vboStrides     [VulkanNumVertexBuffers]uint32
	vboInputRates  [VulkanNumVertexBuffers]vk.VertexInputRate
	activeVBOMask  uint32
	dirtyVBOMask   uint32
	vboCookies     [VulkanNumVertexBuffers]uint64

	indexBuffer vk.Buffer
	indexOffset vk.DeviceSize
	indexType   vk.IndexType

	program         *ShaderProgram
	pipelineLayout  *PipelineLayout
	currentPipeline vk.Pipeline
	currentVkLayout vk.PipelineLayout

	bindings      [VulkanNumDescriptorSets][VulkanNumBindings]resourceBinding
	pushConstants [VulkanPushConstantSize]byte
	bindlessSets  [VulkanNumDescriptorSets]vk.DescriptorSet
	allocatedSets [VulkanNumDescriptorSets]vk.DescriptorSet

	swapchainStages vk.PipelineStageFlags

	framebuffer          *Framebuffer
	framebufferAttachments [VulkanNumAttachments + 1]*ImageView
	renderPass           *RenderPass
	compatibleRenderPass *RenderPass
	subpassIndex         uint32
	renderPassInfo       RenderPassInfo

	viewport vk.Viewport
	scissor  vk.Rect2D

	isCompute bool

	vboBlock     *BufferBlock
	iboBlock     *BufferBlock
	uboBlock     *BufferBlock
	stagingBlock *BufferBlock

	refs int32
}

func newCommandList(device *CoreDevice, cmd vk.CommandBuffer, queueType, threadIndex int) *CommandList {
	c := &CommandList{
		device:      device,
		cmd:         cmd,
		queueType:   queueType,
		threadIndex: threadIndex,
		refs:        1,
	}
	c.beginCompute()
	return c
}

func (c *CommandList) AddRef() *CommandList {
	atomic.AddInt32(&c.refs, 1)
	return c
}

// Release drops a reference; an unsubmitted command list simply returns to
// its pool at the next frame reset.
func (c *CommandList) Release() {
	atomic.AddInt32(&c.refs, -1)
}

func (c *CommandList) Handle() vk.CommandBuffer          { return c.cmd }
func (c *CommandList) QueueType() int                    { return c.queueType }
func (c *CommandList) SwapchainStages() vk.PipelineStageFlags { return c.swapchainStages }

func (c *CommandList) setDirty(flags CommandListDirtyFlags)  { c.dirty |= flags }
func (c *CommandList) getAndClear(flags CommandListDirtyFlags) bool {
	set := c.dirty&flags != 0
	c.dirty &^= flags
	return set
}

func (c *CommandList) beginGraphics() {
	c.isCompute = false
	c.beginContext()
}

func (c *CommandList) beginCompute() {
	c.isCompute = true
	c.beginContext()
}

// beginContext resets everything a fresh program bind must re-establish.
func (c *CommandList) beginContext() {
	c.dirty = commandListDirtyAll
	c.dirtySets = ^uint32(0)
	c.dirtyVBOMask = ^uint32(0)
	c.currentPipeline = vk.NullPipeline
	c.currentVkLayout = vk.NullPipelineLayout
	c.program = nil
	c.pipelineLayout = nil
	for set := range c.allocatedSets {
		c.allocatedSets[set] = vk.NullDescriptorSet
	}
	for set := range c.bindings {
		for b := range c.bindings[set] {
			c.bindings[set][b].cookie = 0
			c.bindings[set][b].samplerCookie = 0
		}
	}
	c.staticState = defaultStaticState()
}

// SetStaticState replaces the compile-pipeline state wholesale.
func (c *CommandList) SetStaticState(state PipelineStaticState) {
	if state != c.staticState {
		c.staticState = state
		c.setDirty(CommandListDirtyStaticState | CommandListDirtyPipeline)
	}
}

func (c *CommandList) SetDepthState(test, write bool, compare vk.CompareOp) {
	if c.staticState.DepthTest != test || c.staticState.DepthWrite != write || c.staticState.DepthCompare != compare {
		c.staticState.DepthTest = test
		c.staticState.DepthWrite = write
		c.staticState.DepthCompare = compare
		c.setDirty(CommandListDirtyStaticState | CommandListDirtyPipeline)
	}
}

func (c *CommandList) SetBlendState(enable bool, srcColor, dstColor vk.BlendFactor, op vk.BlendOp) {
	c.staticState.BlendEnable = enable
	c.staticState.SrcColorBlend = srcColor
	c.staticState.DstColorBlend = dstColor
	c.staticState.ColorBlendOp = op
	c.staticState.SrcAlphaBlend = srcColor
	c.staticState.DstAlphaBlend = dstColor
	c.staticState.AlphaBlendOp = op
	c.setDirty(CommandListDirtyStaticState | CommandListDirtyPipeline)
}

func (c *CommandList) SetCullMode(mode vk.CullModeFlags) {
	if c.staticState.CullMode != mode {
		c.staticState.CullMode = mode
		c.setDirty(CommandListDirtyStaticState | CommandListDirtyPipeline)
	}
}

func (c *CommandList) SetPrimitiveTopology(topology vk.PrimitiveTopology) {
	if c.staticState.Topology != topology {
		c.staticState.Topology = topology
		c.setDirty(CommandListDirtyStaticState | CommandListDirtyPipeline)
	}
}

// SetProgram binds a shader program; idempotent on identity. A layout-hash
// change re-binds the pipeline layout pointer.
func (c *CommandList) SetProgram(program *ShaderProgram) {
	if c.program == program {
		return
	}
	c.program = program
	c.currentPipeline = vk.NullPipeline
	c.setDirty(CommandListDirtyPipeline | CommandListDirtyDynamicBits)
	if program == nil {
		return
	}
	c.dirtySets = ^uint32(0)
	c.setDirty(CommandListDirtyPushConstants)
	layout := program.PipelineLayout()
	if c.pipelineLayout == nil || layout.Hash() != c.pipelineLayout.Hash() {
		c.pipelineLayout = layout
		c.currentVkLayout = layout.Handle()
	}
}

// SetProgramFromPaths resolves a graphics program through the shader
// manager.
func (c *CommandList) SetProgramFromPaths(vertexPath, fragmentPath string, defines []string) {
	program := c.device.ShaderManager().RequestGraphicsProgram(vertexPath, fragmentPath, defines)
	if program == nil {
		logger().Error("program request failed", "vertex", vertexPath, "fragment", fragmentPath)
		return
	}
	c.SetProgram(program)
}

// SetVertexAttrib configures one attribute location sourced from a binding.
func (c *CommandList) SetVertexAttrib(location, binding uint32, format vk.Format, offset uint32) {
	a := &c.attribs[location]
	if a.binding != binding || a.format != format || a.offset != offset {
		a.binding = binding
		a.format = format
		a.offset = offset
		c.setDirty(CommandListDirtyVertexState | CommandListDirtyPipeline)
	}
	c.attribMask |= 1 << location
}

// BindVertexBuffer attaches a buffer to a vertex binding slot.
func (c *CommandList) BindVertexBuffer(binding uint32, buffer *Buffer, offset uint64, stride uint32, rate vk.VertexInputRate) {
	if c.vboStrides[binding] != stride || c.vboInputRates[binding] != rate {
		c.setDirty(CommandListDirtyVertexState | CommandListDirtyPipeline)
	}
	if c.vboCookies[binding] != buffer.Cookie() || c.vboOffsets[binding] != vk.DeviceSize(offset) {
		c.dirtyVBOMask |= 1 << binding
	}
	c.vboBuffers[binding] = buffer.Handle()
	c.vboOffsets[binding] = vk.DeviceSize(offset)
	c.vboStrides[binding] = stride
	c.vboInputRates[binding] = rate
	c.vboCookies[binding] = buffer.Cookie()
	c.activeVBOMask |= 1 << binding
}

// BindIndexBuffer attaches the index stream.
func (c *CommandList) BindIndexBuffer(buffer *Buffer, offset uint64, indexType vk.IndexType) {
	if c.indexBuffer == buffer.Handle() && c.indexOffset == vk.DeviceSize(offset) && c.indexType == indexType {
		return
	}
	c.indexBuffer = buffer.Handle()
	c.indexOffset = vk.DeviceSize(offset)
	c.indexType = indexType
	vk.CmdBindIndexBuffer(c.cmd, c.indexBuffer, c.indexOffset, indexType)
}

// PushConstants copies data into the 128-byte shadow.
func (c *CommandList) PushConstants(data []byte, offset uint32) {
	copy(c.pushConstants[offset:], data)
	c.setDirty(CommandListDirtyPushConstants)
}

// SetBindless installs a pre-allocated bindless descriptor set for a slot.
func (c *CommandList) SetBindless(set uint32, descriptorSet vk.DescriptorSet) {
	c.bindlessSets[set] = descriptorSet
	c.dirtySets |= 1 << set
}

// SetSampler stores a sampler in the bindings matrix.
func (c *CommandList) SetSampler(set, binding uint32, sampler *Sampler) {
	b := &c.bindings[set][binding]
	if sampler.Cookie() == b.samplerCookie {
		return
	}
	b.imageInfo.Sampler = sampler.Handle()
	b.samplerCookie = sampler.Cookie()
	c.dirtySets |= 1 << set
}

// SetStockSampler stores one of the device's stock samplers.
func (c *CommandList) SetStockSampler(set, binding uint32, stock StockSampler) {
	c.SetSampler(set, binding, c.device.StockSampler(stock))
}

// SetTexture binds a sampled image.
func (c *CommandList) SetTexture(set, binding uint32, view *ImageView) {
	b := &c.bindings[set][binding]
	if view.Cookie() == b.cookie {
		return
	}
	b.imageInfo.ImageView = view.Handle()
	b.imageInfo.ImageLayout = view.Image().Layout(vk.ImageLayoutShaderReadOnlyOptimal)
	b.cookie = view.Cookie()
	c.dirtySets |= 1 << set
}

// SetStorageTexture binds a storage image in general layout.
func (c *CommandList) SetStorageTexture(set, binding uint32, view *ImageView) {
	b := &c.bindings[set][binding]
	if view.Cookie() == b.cookie {
		return
	}
	b.imageInfo.ImageView = view.Handle()
	b.imageInfo.ImageLayout = vk.ImageLayoutGeneral
	b.cookie = view.Cookie()
	c.dirtySets |= 1 << set
}

// SetInputAttachment binds a subpass input attachment.
func (c *CommandList) SetInputAttachment(set, binding uint32, view *ImageView) {
	b := &c.bindings[set][binding]
	if view.Cookie() == b.cookie {
		return
	}
	b.imageInfo.ImageView = view.Handle()
	layout := vk.ImageLayoutShaderReadOnlyOptimal
	if formatHasDepthOrStencil(view.Format()) {
		layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
	}
	b.imageInfo.ImageLayout = view.Image().Layout(layout)
	b.cookie = view.Cookie()
	c.dirtySets |= 1 << set
}

// SetUniformBuffer binds a uniform range with a dynamic offset.
func (c *CommandList) SetUniformBuffer(set, binding uint32, buffer *Buffer, offset, rng uint64) {
	b := &c.bindings[set][binding]
	if buffer.Cookie() == b.cookie && b.bufferInfo.Range == vk.DeviceSize(rng) {
		if b.dynamicOffset != uint32(offset) {
			b.dynamicOffset = uint32(offset)
			c.dirtySets |= 1 << set
		}
		return
	}
	b.bufferInfo = vk.DescriptorBufferInfo{
		Buffer: buffer.Handle(),
		Offset: 0,
		Range:  vk.DeviceSize(rng),
	}
	b.dynamicOffset = uint32(offset)
	b.cookie = buffer.Cookie()
	c.dirtySets |= 1 << set
}

// SetStorageBuffer binds a storage range.
func (c *CommandList) SetStorageBuffer(set, binding uint32, buffer *Buffer, offset, rng uint64) {
	b := &c.bindings[set][binding]
	if buffer.Cookie() == b.cookie &&
		b.bufferInfo.Offset == vk.DeviceSize(offset) && b.bufferInfo.Range == vk.DeviceSize(rng) {
		return
	}
	b.bufferInfo = vk.DescriptorBufferInfo{
		Buffer: buffer.Handle(),
		Offset: vk.DeviceSize(offset),
		Range:  vk.DeviceSize(rng),
	}
	b.dynamicOffset = 0
	b.cookie = buffer.Cookie()
	c.dirtySets |= 1 << set
}

// SetBufferView binds a texel buffer view.
func (c *CommandList) SetBufferView(set, binding uint32, view *BufferView) {
	b := &c.bindings[set][binding]
	if view.Cookie() == b.cookie {
		return
	}
	b.bufferView = view.Handle()
	b.cookie = view.Cookie()
	c.dirtySets |= 1 << set
}

// SetViewport overrides the full-framebuffer default viewport.
func (c *CommandList) SetViewport(viewport vk.Viewport) {
	c.viewport = viewport
	c.setDirty(CommandListDirtyViewport)
}

// SetScissor overrides the full-framebuffer default scissor.
func (c *CommandList) SetScissor(scissor vk.Rect2D) {
	c.scissor = scissor
	c.setDirty(CommandListDirtyScissor)
}

// BeginRenderPass resolves the framebuffer, concrete pass and compatible
// pass from the frame-scoped allocators and opens the pass.
func (c *CommandList) BeginRenderPass(info *RenderPassInfo) {
	fb, renderPass, compatPass := c.device.requestRenderPassState(info)
	if fb == nil || renderPass == nil || compatPass == nil {
		logger().Error("render pass state request failed")
		return
	}
	c.framebuffer = fb
	c.renderPass = renderPass
	c.compatibleRenderPass = compatPass
	c.subpassIndex = 0
	c.renderPassInfo = *info

	for i := range c.framebufferAttachments {
		c.framebufferAttachments[i] = nil
	}
	for i := uint32(0); i < info.NumColorAttachments; i++ {
		c.framebufferAttachments[i] = info.ColorAttachments[i]
		if info.ColorAttachments[i] != nil && info.ColorAttachments[i].Image().IsSwapchainImage() {
			c.swapchainStages |= vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
		}
	}
	if info.DepthStencil != nil {
		c.framebufferAttachments[info.NumColorAttachments] = info.DepthStencil
	}

	// Render area clamped to the framebuffer extent; viewport and scissor
	// default to the full framebuffer.
	area := vk.Rect2D{
		Extent: vk.Extent2D{Width: fb.Width(), Height: fb.Height()},
	}
	c.viewport = vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(fb.Width()),
		Height:   float32(fb.Height()),
		MinDepth: 0,
		MaxDepth: 1,
	}
	c.scissor = area

	clearValues := buildClearValues(info)
	vk.CmdBeginRenderPass(c.cmd, &vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      renderPass.Handle(),
		Framebuffer:     fb.Handle(),
		RenderArea:      area,
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}, vk.SubpassContentsInline)

	c.beginGraphics()
}

// NextSubpass advances the render pass to the next subpass.
func (c *CommandList) NextSubpass() {
	c.subpassIndex++
	vk.CmdNextSubpass(c.cmd, vk.SubpassContentsInline)
	c.currentPipeline = vk.NullPipeline
	c.setDirty(CommandListDirtyPipeline | CommandListDirtyDynamicBits)
}

// EndRenderPass closes the pass and clears the render-pass run-time state.
func (c *CommandList) EndRenderPass() {
	vk.CmdEndRenderPass(c.cmd)
	c.framebuffer = nil
	c.renderPass = nil
	c.compatibleRenderPass = nil
	for i := range c.framebufferAttachments {
		c.framebufferAttachments[i] = nil
	}
	c.beginCompute()
}

// Draw flushes render state and issues a non-indexed draw. The call is
// dropped when no usable program is bound.
func (c *CommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !c.flushRenderState() {
		return
	}
	vk.CmdDraw(c.cmd, vertexCount, instanceCount, firstVertex, firstInstance)
}

// DrawIndexed flushes render state and issues an indexed draw.
func (c *CommandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !c.flushRenderState() {
		return
	}
	vk.CmdDrawIndexed(c.cmd, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

// Dispatch flushes compute state and issues a dispatch.
func (c *CommandList) Dispatch(groupsX, groupsY, groupsZ uint32) {
	if !c.flushComputeState() {
		return
	}
	vk.CmdDispatch(c.cmd, groupsX, groupsY, groupsZ)
}

// flushRenderState emits every piece of dirty state ahead of a draw.
// Returns false when the draw must be dropped.
func (c *CommandList) flushRenderState() bool {
	if c.program == nil || !c.program.HasStages() {
		return false
	}
	if c.currentPipeline == vk.NullPipeline {
		c.setDirty(CommandListDirtyPipeline)
	}
	if c.getAndClear(CommandListDirtyPipeline | CommandListDirtyStaticState | CommandListDirtyVertexState) {
		oldPipeline := c.currentPipeline
		if !c.flushGraphicsPipeline() {
			return false
		}
		if oldPipeline != c.currentPipeline {
			vk.CmdBindPipeline(c.cmd, vk.PipelineBindPointGraphics, c.currentPipeline)
			c.setDirty(CommandListDirtyDynamicBits)
		}
	}
	if c.currentPipeline == vk.NullPipeline {
		return false
	}

	if c.getAndClear(CommandListDirtyViewport) {
		vk.CmdSetViewport(c.cmd, 0, 1, []vk.Viewport{c.viewport})
	}
	if c.getAndClear(CommandListDirtyScissor) {
		vk.CmdSetScissor(c.cmd, 0, 1, []vk.Rect2D{c.scissor})
	}

	c.flushDescriptorSets(vk.PipelineBindPointGraphics)
	c.flushPushConstants()

	// Bind dirty vertex streams declared by the program.
	flushMask := c.activeVBOMask & c.dirtyVBOMask
	for binding := uint32(0); binding < VulkanNumVertexBuffers; binding++ {
		if flushMask&(1<<binding) != 0 {
			vk.CmdBindVertexBuffers(c.cmd, binding, 1,
				[]vk.Buffer{c.vboBuffers[binding]},
				[]vk.DeviceSize{c.vboOffsets[binding]})
		}
	}
	c.dirtyVBOMask &^= flushMask
	return true
}

func (c *CommandList) flushComputeState() bool {
	if c.program == nil || !c.program.IsCompute() {
		return false
	}
	if c.currentPipeline == vk.NullPipeline {
		c.setDirty(CommandListDirtyPipeline)
	}
	if c.getAndClear(CommandListDirtyPipeline) {
		oldPipeline := c.currentPipeline
		if !c.flushComputePipeline() {
			return false
		}
		if oldPipeline != c.currentPipeline {
			vk.CmdBindPipeline(c.cmd, vk.PipelineBindPointCompute, c.currentPipeline)
		}
	}
	if c.currentPipeline == vk.NullPipeline {
		return false
	}
	c.flushDescriptorSets(vk.PipelineBindPointCompute)
	c.flushPushConstants()
	return true
}

func (c *CommandList) flushPushConstants() {
	layout := c.pipelineLayout.ResourceLayout()
	if c.getAndClear(CommandListDirtyPushConstants) && layout.PushConstantRange.Size > 0 {
		vk.CmdPushConstants(c.cmd, c.currentVkLayout,
			layout.PushConstantRange.StageFlags,
			0, layout.PushConstantRange.Size,
			unsafe.Pointer(&c.pushConstants[0]))
	}
}

// flushDescriptorSets walks the program's active sets, binding bindless
// sets directly and hashing everything else through the set allocators.
func (c *CommandList) flushDescriptorSets(bindPoint vk.PipelineBindPoint) {
	layout := c.pipelineLayout.ResourceLayout()
	flushSets := layout.DescriptorSetMask & c.dirtySets
	for set := uint32(0); set < VulkanNumDescriptorSets; set++ {
		if flushSets&(1<<set) == 0 {
			continue
		}
		if layout.BindlessSetMask&(1<<set) != 0 {
			if c.bindlessSets[set] != vk.NullDescriptorSet {
				vk.CmdBindDescriptorSets(c.cmd, bindPoint, c.currentVkLayout,
					set, 1, []vk.DescriptorSet{c.bindlessSets[set]}, 0, nil)
				c.allocatedSets[set] = c.bindlessSets[set]
			}
			continue
		}
		c.flushDescriptorSet(bindPoint, set)
	}
	c.dirtySets &^= flushSets
}

func (c *CommandList) flushDescriptorSet(bindPoint vk.PipelineBindPoint, set uint32) {
	layout := c.pipelineLayout.ResourceLayout()
	setLayout := &layout.Sets[set]
	allocator := c.pipelineLayout.SetAllocator(set)
	if allocator == nil {
		return
	}

	var dynamicOffsets []uint32

	// Hash the active binding contents: per-role cookies plus dynamic
	// offsets in binding-index order.
	h := NewHasher()
	for role := DescriptorRole(0); role < RoleCount; role++ {
		mask := setLayout.RoleMasks[role]
		if mask == 0 {
			continue
		}
		h.U32(uint32(role))
		for b := uint32(0); b < VulkanNumBindings; b++ {
			if mask&(1<<b) == 0 {
				continue
			}
			binding := &c.bindings[set][b]
			h.U64(binding.cookie)
			h.U64(binding.samplerCookie)
			if role == RoleUniformBuffer {
				h.U64(uint64(binding.bufferInfo.Range))
				h.U32(binding.dynamicOffset)
			} else {
				h.U64(uint64(binding.bufferInfo.Offset))
				h.U64(uint64(binding.bufferInfo.Range))
			}
		}
	}
	for b := uint32(0); b < VulkanNumBindings; b++ {
		if setLayout.RoleMasks[RoleUniformBuffer]&(1<<b) != 0 {
			dynamicOffsets = append(dynamicOffsets, c.bindings[set][b].dynamicOffset)
		}
	}

	descriptorSet, found := allocator.GetOrAllocate(c.threadIndex, h.Get())
	if descriptorSet == vk.NullDescriptorSet {
		return
	}
	if !found {
		c.writeDescriptorSet(descriptorSet, set, setLayout)
	}
	vk.CmdBindDescriptorSets(c.cmd, bindPoint, c.currentVkLayout,
		set, 1, []vk.DescriptorSet{descriptorSet},
		uint32(len(dynamicOffsets)), dynamicOffsets)
	c.allocatedSets[set] = descriptorSet
}

func (c *CommandList) writeDescriptorSet(descriptorSet vk.DescriptorSet, set uint32, setLayout *DescriptorSetLayout) {
	var writes []vk.WriteDescriptorSet
	for role := DescriptorRole(0); role < RoleCount; role++ {
		mask := setLayout.RoleMasks[role]
		if mask == 0 {
			continue
		}
		descType := role.DescriptorType()
		for b := uint32(0); b < VulkanNumBindings; b++ {
			if mask&(1<<b) == 0 {
				continue
			}
			binding := &c.bindings[set][b]
			write := vk.WriteDescriptorSet{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          descriptorSet,
				DstBinding:      b,
				DescriptorCount: 1,
				DescriptorType:  descType,
			}
			switch role {
			case RoleUniformBuffer, RoleStorageBuffer:
				write.PBufferInfo = []vk.DescriptorBufferInfo{binding.bufferInfo}
			case RoleSampledBuffer:
				write.PTexelBufferView = []vk.BufferView{binding.bufferView}
			default:
				write.PImageInfo = []vk.DescriptorImageInfo{binding.imageInfo}
			}
			writes = append(writes, write)
		}
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(c.device.device, uint32(len(writes)), writes, 0, nil)
	}
}

// CopyBuffer records a raw region copy; the caller owns the barriers.
func (c *CommandList) CopyBuffer(dst, src *Buffer, dstOffset, srcOffset, size uint64) {
	vk.CmdCopyBuffer(c.cmd, src.Handle(), dst.Handle(), 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

// CopyToImage records buffer-to-image copies; the caller owns the barriers.
func (c *CommandList) CopyToImage(image *Image, buffer *Buffer, blits []vk.BufferImageCopy) {
	vk.CmdCopyBufferToImage(c.cmd, buffer.Handle(), image.Handle(),
		image.Layout(vk.ImageLayoutTransferDstOptimal),
		uint32(len(blits)), blits)
}

// FillBuffer floods a buffer with a 32-bit value.
func (c *CommandList) FillBuffer(buffer *Buffer, value uint32) {
	vk.CmdFillBuffer(c.cmd, buffer.Handle(), 0, vk.DeviceSize(vk.WholeSize), value)
}

// Barrier records a global memory barrier.
func (c *CommandList) Barrier(srcStages vk.PipelineStageFlags, srcAccess vk.AccessFlags, dstStages vk.PipelineStageFlags, dstAccess vk.AccessFlags) {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: srcAccess,
		DstAccessMask: dstAccess,
	}
	vk.CmdPipelineBarrier(c.cmd, srcStages, dstStages, 0,
		1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

// BufferBarrier records a buffer memory barrier.
func (c *CommandList) BufferBarrier(buffer *Buffer, srcStages vk.PipelineStageFlags, srcAccess vk.AccessFlags, dstStages vk.PipelineStageFlags, dstAccess vk.AccessFlags) {
	barrier := vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              buffer.Handle(),
		Size:                vk.DeviceSize(vk.WholeSize),
	}
	vk.CmdPipelineBarrier(c.cmd, srcStages, dstStages, 0,
		0, nil, 1, []vk.BufferMemoryBarrier{barrier}, 0, nil)
}

// ImageBarrier records a layout transition.
func (c *CommandList) ImageBarrier(image *Image, oldLayout, newLayout vk.ImageLayout, srcStages vk.PipelineStageFlags, srcAccess vk.AccessFlags, dstStages vk.PipelineStageFlags, dstAccess vk.AccessFlags) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image.Handle(),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: formatToAspect(image.Format()),
			LevelCount: vk.RemainingMipLevels,
			LayerCount: vk.RemainingArrayLayers,
		},
	}
	vk.CmdPipelineBarrier(c.cmd, srcStages, dstStages, 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

// BeginEvent opens a named debug scope. The scope doubles as a checkpoint
// marker recorded for the device-lost dump.
func (c *CommandList) BeginEvent(name string) {
	c.device.setCheckpoint(c, name)
	logger().Debug("gpu event begin", "name", name, "queue", c.queueType)
}

// EndEvent closes the current debug scope.
func (c *CommandList) EndEvent() {
	logger().Debug("gpu event end", "queue", c.queueType)
}

// AllocateVertexData carves transient vertex memory out of the frame's
// vertex block and binds it.
func (c *CommandList) AllocateVertexData(binding uint32, size uint64, stride uint32, rate vk.VertexInputRate) unsafe.Pointer {
	block, alloc := c.device.allocateFromPool(&c.vboBlock, poolClassVBO, size)
	if block == nil {
		return nil
	}
	c.BindVertexBuffer(binding, block.Buffer(), alloc.Offset, stride, rate)
	return alloc.Host
}

// AllocateIndexData carves transient index memory and binds it.
func (c *CommandList) AllocateIndexData(size uint64, indexType vk.IndexType) unsafe.Pointer {
	block, alloc := c.device.allocateFromPool(&c.iboBlock, poolClassIBO, size)
	if block == nil {
		return nil
	}
	c.BindIndexBuffer(block.Buffer(), alloc.Offset, indexType)
	return alloc.Host
}

// AllocateConstantData carves transient uniform memory and binds it with a
// dynamic offset.
func (c *CommandList) AllocateConstantData(set, binding uint32, size uint64) unsafe.Pointer {
	block, alloc := c.device.allocateFromPool(&c.uboBlock, poolClassUBO, size)
	if block == nil {
		return nil
	}
	c.SetUniformBuffer(set, binding, block.Buffer(), alloc.Offset, alloc.PaddedSize)
	return alloc.Host
}

// AllocateStagingData carves transfer-source memory for upload recording.
func (c *CommandList) AllocateStagingData(size uint64) (*Buffer, uint64, unsafe.Pointer) {
	block, alloc := c.device.allocateFromPool(&c.stagingBlock, poolClassStaging, size)
	if block == nil {
		return nil, 0, nil
	}
	return block.Buffer(), alloc.Offset, alloc.Host
}

// ownedBlocks hands the retained blocks back for frame recycling at submit.
func (c *CommandList) ownedBlocks() (vbo, ibo, ubo, staging *BufferBlock) {
	vbo, ibo, ubo, staging = c.vboBlock, c.iboBlock, c.uboBlock, c.stagingBlock
	c.vboBlock, c.iboBlock, c.uboBlock, c.stagingBlock = nil, nil, nil, nil
	return
}
