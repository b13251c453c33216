package neptunevk

import (
	vk "github.com/goki/vulkan"
)

// graphicsPipelineHash digests the compile-pipeline state: static state,
// vertex layout, subpass, compatible-pass hash and program identity.
func (c *CommandList) graphicsPipelineHash() uint64 {
	h := NewHasher()
	s := &c.staticState
	h.Bool(s.DepthTest).Bool(s.DepthWrite).U32(uint32(s.DepthCompare))
	h.Bool(s.BlendEnable)
	h.U32(uint32(s.SrcColorBlend)).U32(uint32(s.DstColorBlend)).U32(uint32(s.ColorBlendOp))
	h.U32(uint32(s.SrcAlphaBlend)).U32(uint32(s.DstAlphaBlend)).U32(uint32(s.AlphaBlendOp))
	h.U32(uint32(s.CullMode)).U32(uint32(s.FrontFace)).U32(uint32(s.PolygonMode))
	h.U32(uint32(s.Topology)).Bool(s.StencilTest).Bool(s.PrimitiveRestart)
	h.U32(s.WriteMask)

	layout := c.pipelineLayout.ResourceLayout()
	attribMask := layout.AttributeMask
	h.U32(attribMask)
	for loc := uint32(0); loc < 16; loc++ {
		if attribMask&(1<<loc) == 0 {
			continue
		}
		a := &c.attribs[loc]
		h.U32(a.binding).U32(uint32(a.format)).U32(a.offset)
		h.U32(c.vboStrides[a.binding]).U32(uint32(c.vboInputRates[a.binding]))
	}

	h.U32(c.subpassIndex)
	h.U64(c.compatibleRenderPass.Hash())
	h.U64(c.program.Cookie())
	// Viewport and scissor are dynamic; only their dynamic-ness keys in.
	h.U32(2)
	return h.Get()
}

// flushGraphicsPipeline resolves the pipeline for the current compile
// state, building and caching it on miss.
func (c *CommandList) flushGraphicsPipeline() bool {
	if c.compatibleRenderPass == nil {
		return false
	}
	hash := c.graphicsPipelineHash()
	if pipeline := c.program.FindPipeline(hash); pipeline != vk.NullPipeline {
		c.currentPipeline = pipeline
		return true
	}
	pipeline := c.buildGraphicsPipeline()
	if pipeline == vk.NullPipeline {
		return false
	}
	c.currentPipeline = c.program.AddPipeline(hash, pipeline)
	return true
}

func (c *CommandList) buildGraphicsPipeline() vk.Pipeline {
	s := &c.staticState
	layout := c.pipelineLayout.ResourceLayout()

	// Shader stages.
	var stages []vk.PipelineShaderStageCreateInfo
	for stage := ShaderStage(0); stage < ShaderStageCount; stage++ {
		shader := c.program.Shader(stage)
		if shader == nil || stage == ShaderStageCompute {
			continue
		}
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage.Flag(),
			Module: shader.Handle(),
			PName:  safeString("main"),
		})
	}
	if len(stages) == 0 {
		return vk.NullPipeline
	}

	// Vertex input from the attribute slots the program consumes.
	var attributes []vk.VertexInputAttributeDescription
	var bindings []vk.VertexInputBindingDescription
	bindingMask := uint32(0)
	for loc := uint32(0); loc < 16; loc++ {
		if layout.AttributeMask&(1<<loc) == 0 {
			continue
		}
		a := &c.attribs[loc]
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: loc,
			Binding:  a.binding,
			Format:   a.format,
			Offset:   a.offset,
		})
		if bindingMask&(1<<a.binding) == 0 {
			bindingMask |= 1 << a.binding
			bindings = append(bindings, vk.VertexInputBindingDescription{
				Binding:   a.binding,
				Stride:    c.vboStrides[a.binding],
				InputRate: c.vboInputRates[a.binding],
			})
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	restart := vk.False
	if s.PrimitiveRestart {
		restart = vk.True
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               s.Topology,
		PrimitiveRestartEnable: restart,
	}

	// Viewport and scissor are dynamic state; only counts matter here.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: 2,
		PDynamicStates:    []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: s.PolygonMode,
		CullMode:    s.CullMode,
		FrontFace:   s.FrontFace,
		LineWidth:   1.0,
	}

	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: c.compatibleRenderPass.Samples(c.subpassIndex),
		MinSampleShading:     1.0,
	}

	// Blend attachments masked by the compatible pass's active color slots
	// and the program's render-target outputs.
	colorCount := c.compatibleRenderPass.ColorCount(c.subpassIndex)
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, colorCount)
	for i := uint32(0); i < colorCount; i++ {
		att := vk.PipelineColorBlendAttachmentState{}
		if layout.RenderTargetMask&(1<<i) != 0 {
			att.ColorWriteMask = vk.ColorComponentFlags(s.WriteMask)
			if s.BlendEnable {
				att.BlendEnable = vk.True
				att.SrcColorBlendFactor = s.SrcColorBlend
				att.DstColorBlendFactor = s.DstColorBlend
				att.ColorBlendOp = s.ColorBlendOp
				att.SrcAlphaBlendFactor = s.SrcAlphaBlend
				att.DstAlphaBlendFactor = s.DstAlphaBlend
				att.AlphaBlendOp = s.AlphaBlendOp
			}
		}
		blendAttachments[i] = att
	}
	blendState := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: colorCount,
		PAttachments:    blendAttachments,
	}

	// Depth and stencil gated by the subpass's attachment availability.
	depthState := vk.PipelineDepthStencilStateCreateInfo{
		SType: vk.StructureTypePipelineDepthStencilStateCreateInfo,
	}
	if c.compatibleRenderPass.HasDepth(c.subpassIndex) {
		if s.DepthTest {
			depthState.DepthTestEnable = vk.True
			depthState.DepthCompareOp = s.DepthCompare
		}
		if s.DepthWrite {
			depthState.DepthWriteEnable = vk.True
		}
	}
	if c.compatibleRenderPass.HasStencil(c.subpassIndex) && s.StencilTest {
		depthState.StencilTestEnable = vk.True
	}

	pipelineInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthState,
		PColorBlendState:    &blendState,
		PDynamicState:       &dynamicState,
		Layout:              c.pipelineLayout.Handle(),
		RenderPass:          c.compatibleRenderPass.Handle(),
		Subpass:             c.subpassIndex,
	}

	pipelines := []vk.Pipeline{vk.NullPipeline}
	ret := vk.CreateGraphicsPipelines(c.device.device, c.device.pipelineCache, 1,
		[]vk.GraphicsPipelineCreateInfo{pipelineInfo}, nil, pipelines)
	if isError(ret) {
		logger().Error("graphics pipeline creation failed", "result", int32(ret))
		return vk.NullPipeline
	}
	return pipelines[0]
}

func (c *CommandList) computePipelineHash() uint64 {
	h := NewHasher()
	h.U64(c.program.Cookie())
	return h.Get()
}

func (c *CommandList) flushComputePipeline() bool {
	hash := c.computePipelineHash()
	if pipeline := c.program.FindPipeline(hash); pipeline != vk.NullPipeline {
		c.currentPipeline = pipeline
		return true
	}
	shader := c.program.Shader(ShaderStageCompute)
	if shader == nil {
		return false
	}
	pipelineInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: shader.Handle(),
			PName:  safeString("main"),
		},
		Layout: c.pipelineLayout.Handle(),
	}
	pipelines := []vk.Pipeline{vk.NullPipeline}
	ret := vk.CreateComputePipelines(c.device.device, c.device.pipelineCache, 1,
		[]vk.ComputePipelineCreateInfo{pipelineInfo}, nil, pipelines)
	if isError(ret) {
		logger().Error("compute pipeline creation failed", "result", int32(ret))
		return false
	}
	c.currentPipeline = c.program.AddPipeline(hash, pipelines[0])
	return true
}
