package neptunevk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ShaderCompiler is the external source compiler: it turns a shader source
// file plus preprocessor defines into SPIR-V and reports every file the
// compilation read, for staleness tracking.
type ShaderCompiler interface {
	Compile(stage ShaderStage, path string, defines []string) (spirv []byte, dependencies []string, err error)
}

// shaderVariant is one compiled permutation of a template.
type shaderVariant struct {
	definesHash uint64
	defines     []string
	spirv       []byte
	shader      *Shader
}

// shaderTemplate is the per (stage, path) unit of the manager; variants
// hang off it by defines hash.
type shaderTemplate struct {
	stage    ShaderStage
	path     string
	variants *VulkanCache[shaderVariant]
}

// ShaderManager resolves shaders and programs from source paths, caching
// compiled SPIR-V under .export/shaders together with a dependency archive
// used to detect stale artifacts.
type ShaderManager struct {
	device    *CoreDevice
	compiler  ShaderCompiler
	templates *VulkanCache[shaderTemplate]
	shaders   *VulkanCache[Shader]
	programs  *VulkanCache[ShaderProgram]
	exportDir string
}

func newShaderManager(device *CoreDevice) *ShaderManager {
	return &ShaderManager{
		device:    device,
		templates: NewVulkanCache[shaderTemplate](),
		shaders:   NewVulkanCache[Shader](),
		programs:  NewVulkanCache[ShaderProgram](),
		exportDir: filepath.Join(device.exportDir, "shaders"),
	}
}

// SetCompiler installs the source compiler. Without one, only shaders whose
// SPIR-V is already exported (or passed in raw) resolve.
func (m *ShaderManager) SetCompiler(compiler ShaderCompiler) {
	m.compiler = compiler
}

// LoadShaderCache is the warm-up hook for a precompiled pipeline archive.
// TODO: back this with the serialized shader_cache.bin once its format is
// settled; until then callers fall through to on-demand compilation.
func (m *ShaderManager) LoadShaderCache(path string) bool {
	return false
}

func templateHash(stage ShaderStage, path string) uint64 {
	h := NewHasher()
	h.U32(uint32(stage)).Str(path)
	return h.Get()
}

func definesHash(defines []string) uint64 {
	h := NewHasher()
	for _, define := range defines {
		h.Str(define)
	}
	return h.Get()
}

// LoadShader resolves the template for (stage, path), the variant for the
// defines, and returns the Shader handle, compiling or re-using exported
// SPIR-V as staleness dictates. Returns nil on compile failure.
func (m *ShaderManager) LoadShader(stage ShaderStage, path string, defines []string) *Shader {
	template, _ := m.templates.GetOrEmplace(templateHash(stage, path), func() (*shaderTemplate, error) {
		return &shaderTemplate{
			stage:    stage,
			path:     path,
			variants: NewVulkanCache[shaderVariant](),
		}, nil
	})

	variant, err := template.variants.GetOrEmplace(definesHash(defines), func() (*shaderVariant, error) {
		spirv, err := m.resolveSpirv(stage, path, defines)
		if err != nil {
			return nil, err
		}
		return &shaderVariant{
			definesHash: definesHash(defines),
			defines:     append([]string(nil), defines...),
			spirv:       spirv,
		}, nil
	})
	if err != nil {
		logger().Error("shader load failed", "path", path, "err", err)
		return nil
	}

	shader, err := m.shaders.GetOrEmplace(HashData(variant.spirv), func() (*Shader, error) {
		return newShader(m.device, stage, variant.spirv)
	})
	if err != nil {
		logger().Error("shader module failed", "path", path, "err", err)
		return nil
	}
	variant.shader = shader
	return shader
}

// resolveSpirv loads exported SPIR-V when it is still fresh, otherwise
// recompiles and re-exports.
func (m *ShaderManager) resolveSpirv(stage ShaderStage, path string, defines []string) ([]byte, error) {
	// Raw SPIR-V files bypass the compiler entirely.
	if strings.HasSuffix(path, ".spv") {
		return os.ReadFile(path)
	}

	exportPath := m.exportPath(stage, path, defines)
	if spirv, err := os.ReadFile(exportPath); err == nil && !m.isStale(exportPath) {
		return spirv, nil
	}

	if m.compiler == nil {
		return nil, errors.Errorf("no shader compiler installed for %s", path)
	}
	spirv, deps, err := m.compiler.Compile(stage, path, defines)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling %s", path)
	}
	m.export(exportPath, spirv, append(deps, path))
	return spirv, nil
}

func (m *ShaderManager) exportPath(stage ShaderStage, path string, defines []string) string {
	h := NewHasher()
	h.U32(uint32(stage)).Str(path)
	for _, d := range defines {
		h.Str(d)
	}
	name := fmt.Sprintf("%s.%016x.spv", filepath.Base(path), h.Get())
	return filepath.Join(m.exportDir, name)
}

// isStale reports whether any dependency listed in the meta archive is
// newer than the exported SPIR-V.
func (m *ShaderManager) isStale(exportPath string) bool {
	exported, err := os.Stat(exportPath)
	if err != nil {
		return true
	}
	meta, err := os.ReadFile(exportPath + ".shadermeta")
	if err != nil {
		return true
	}
	baseDir := filepath.Dir(exportPath)
	for _, line := range strings.Split(string(meta), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dep := line
		if !filepath.IsAbs(dep) {
			dep = filepath.Join(baseDir, dep)
		}
		info, err := os.Stat(dep)
		if err != nil || info.ModTime().After(exported.ModTime()) {
			return true
		}
	}
	return false
}

// export writes the SPIR-V and its dependency archive.
func (m *ShaderManager) export(exportPath string, spirv []byte, deps []string) {
	if err := os.MkdirAll(m.exportDir, 0o755); err != nil {
		logger().Warn("shader export dir", "err", err)
		return
	}
	if err := os.WriteFile(exportPath, spirv, 0o644); err != nil {
		logger().Warn("shader export write failed", "path", exportPath, "err", err)
		return
	}
	baseDir := filepath.Dir(exportPath)
	var lines []string
	for _, dep := range deps {
		if rel, err := filepath.Rel(baseDir, dep); err == nil {
			lines = append(lines, rel)
		} else {
			lines = append(lines, dep)
		}
	}
	meta := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(exportPath+".shadermeta", []byte(meta), 0o644); err != nil {
		logger().Warn("shader meta write failed", "path", exportPath, "err", err)
	}
}

// RequestShaderFromSpirv registers an in-memory SPIR-V blob.
func (m *ShaderManager) RequestShaderFromSpirv(stage ShaderStage, spirv []byte) *Shader {
	shader, err := m.shaders.GetOrEmplace(HashData(spirv), func() (*Shader, error) {
		return newShader(m.device, stage, spirv)
	})
	if err != nil {
		logger().Error("shader module failed", "err", err)
		return nil
	}
	return shader
}

// RequestGraphicsProgram bakes (or fetches) the program for a vertex +
// fragment shader pair.
func (m *ShaderManager) RequestGraphicsProgram(vertexPath, fragmentPath string, defines []string) *ShaderProgram {
	vertex := m.LoadShader(ShaderStageVertex, vertexPath, defines)
	fragment := m.LoadShader(ShaderStageFragment, fragmentPath, defines)
	if vertex == nil || fragment == nil {
		return nil
	}
	return m.RequestProgram(vertex, fragment)
}

// RequestProgram bakes (or fetches) a graphics program from shader handles.
func (m *ShaderManager) RequestProgram(vertex, fragment *Shader) *ShaderProgram {
	var shaders [ShaderStageCount]*Shader
	shaders[ShaderStageVertex] = vertex
	shaders[ShaderStageFragment] = fragment
	program, _ := m.programs.GetOrEmplace(programHash(&shaders), func() (*ShaderProgram, error) {
		return newShaderProgram(m.device, shaders), nil
	})
	return program
}

// RequestComputeProgram bakes (or fetches) a compute program.
func (m *ShaderManager) RequestComputeProgram(compute *Shader) *ShaderProgram {
	var shaders [ShaderStageCount]*Shader
	shaders[ShaderStageCompute] = compute
	program, _ := m.programs.GetOrEmplace(programHash(&shaders), func() (*ShaderProgram, error) {
		return newShaderProgram(m.device, shaders), nil
	})
	return program
}

func (m *ShaderManager) moveToReadOnly() {
	m.templates.MoveToReadOnly()
	m.shaders.MoveToReadOnly()
	m.programs.MoveToReadOnly()
	m.programs.Each(func(_ uint64, p *ShaderProgram) {
		p.moveToReadOnly()
	})
}

func (m *ShaderManager) destroy() {
	m.programs.Clear(func(p *ShaderProgram) { p.destroy() })
	m.shaders.Clear(func(s *Shader) { s.destroy() })
	m.templates.Clear(func(*shaderTemplate) {})
}
