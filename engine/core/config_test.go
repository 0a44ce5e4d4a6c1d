package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[application]
name = "probe-bake"
start_width = 800
start_height = 600

[logging]
level = "debug"

[renderer]
buffering_depth = 3

[[phases]]
name = "probes"
buffering_depth = 1
render_count = 2

[[phases]]
name = "post"
enabled = false
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "probe-bake", cfg.Application.Name)
	assert.Equal(t, uint32(800), cfg.Application.StartWidth)
	// untouched keys keep their defaults
	assert.Equal(t, uint32(100), cfg.Application.StartPosX)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Renderer.BufferingDepth)
	assert.True(t, cfg.Renderer.VSync)
	assert.Equal(t, "assets/shaders", cfg.Renderer.ShaderDir)

	probes := cfg.Phase("probes")
	assert.Equal(t, 1, probes.BufferingDepth)
	assert.Equal(t, 2, probes.RenderCount)
	assert.True(t, probes.IsEnabled())

	post := cfg.Phase("post")
	assert.Equal(t, 3, post.BufferingDepth)
	assert.Equal(t, 1, post.RenderCount)
	assert.False(t, post.IsEnabled())

	scene := cfg.Phase("scene")
	assert.Equal(t, 3, scene.BufferingDepth)
	assert.Equal(t, 1, scene.RenderCount)
	assert.True(t, scene.IsEnabled())
}

func TestParseConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"buffering too deep", "[renderer]\nbuffering_depth = 4\n"},
		{"negative buffering", "[renderer]\nbuffering_depth = -1\n"},
		{"bad level", "[logging]\nlevel = \"loud\"\n"},
		{"unnamed phase", "[[phases]]\nrender_count = 1\n"},
		{"duplicate phase", "[[phases]]\nname = \"a\"\n[[phases]]\nname = \"a\"\n"},
		{"negative render count", "[[phases]]\nname = \"a\"\nrender_count = -2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParseConfigMalformedTOML(t *testing.T) {
	_, err := ParseConfig([]byte("[renderer\nbuffering_depth = 2"))
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestConfigWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"info\"\n"), 0o644))

	changes := make(chan *EngineConfig, 4)
	w, err := NewConfigWatcher(path, func(cfg *EngineConfig) {
		changes <- cfg
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"error\"\n"), 0o644))

	select {
	case cfg := <-changes:
		assert.Equal(t, "error", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}

	require.NoError(t, w.Close())
	// closing twice is harmless
	require.NoError(t, w.Close())
}
