package neptunevk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *ShaderManager {
	t.Helper()
	return &ShaderManager{
		templates: NewVulkanCache[shaderTemplate](),
		shaders:   NewVulkanCache[Shader](),
		programs:  NewVulkanCache[ShaderProgram](),
		exportDir: t.TempDir(),
	}
}

func TestLoadShaderCacheStub(t *testing.T) {
	m := testManager(t)
	assert.False(t, m.LoadShaderCache("anything.bin"))
}

func TestExportPathStableAndDistinct(t *testing.T) {
	m := testManager(t)
	a := m.exportPath(ShaderStageVertex, "shaders/tri.vert", nil)
	b := m.exportPath(ShaderStageVertex, "shaders/tri.vert", nil)
	c := m.exportPath(ShaderStageVertex, "shaders/tri.vert", []string{"USE_FOG"})
	d := m.exportPath(ShaderStageFragment, "shaders/tri.vert", nil)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "defines key a distinct variant")
	assert.NotEqual(t, a, d, "stage keys a distinct template")
}

func TestStalenessFreshExport(t *testing.T) {
	m := testManager(t)
	dep := filepath.Join(t.TempDir(), "common.glsl")
	require.NoError(t, os.WriteFile(dep, []byte("// shared"), 0o644))

	exportPath := filepath.Join(m.exportDir, "test.spv")
	m.export(exportPath, []byte{1, 2, 3, 4}, []string{dep})

	assert.False(t, m.isStale(exportPath))
}

func TestStalenessNewerDependency(t *testing.T) {
	m := testManager(t)
	dep := filepath.Join(t.TempDir(), "common.glsl")
	require.NoError(t, os.WriteFile(dep, []byte("// shared"), 0o644))

	exportPath := filepath.Join(m.exportDir, "test.spv")
	m.export(exportPath, []byte{1, 2, 3, 4}, []string{dep})

	// Bump the dependency past the export's mtime.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(dep, future, future))

	assert.True(t, m.isStale(exportPath))
}

func TestStalenessMissingPieces(t *testing.T) {
	m := testManager(t)
	assert.True(t, m.isStale(filepath.Join(m.exportDir, "never-exported.spv")))

	// Export without a meta archive is treated as stale.
	exportPath := filepath.Join(m.exportDir, "orphan.spv")
	require.NoError(t, os.MkdirAll(m.exportDir, 0o755))
	require.NoError(t, os.WriteFile(exportPath, []byte{9}, 0o644))
	assert.True(t, m.isStale(exportPath))

	// A meta archive naming a vanished dependency is stale too.
	gone := filepath.Join(t.TempDir(), "gone.glsl")
	require.NoError(t, os.WriteFile(gone, []byte("x"), 0o644))
	m.export(exportPath, []byte{9}, []string{gone})
	require.NoError(t, os.Remove(gone))
	assert.True(t, m.isStale(exportPath))
}

func TestDefinesHashOrderSensitive(t *testing.T) {
	a := definesHash([]string{"A=1", "B=2"})
	b := definesHash([]string{"B=2", "A=1"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, definesHash([]string{"A=1", "B=2"}))
}
