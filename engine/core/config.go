package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultBufferingDepth = 2
	MaxBufferingDepth     = 3
)

type ApplicationSection struct {
	Name        string `toml:"name"`
	StartPosX   uint32 `toml:"start_pos_x"`
	StartPosY   uint32 `toml:"start_pos_y"`
	StartWidth  uint32 `toml:"start_width"`
	StartHeight uint32 `toml:"start_height"`
}

type LoggingSection struct {
	Level string `toml:"level"`
}

type RendererSection struct {
	// Default number of back-buffer slots per framebuffer pool.
	BufferingDepth int  `toml:"buffering_depth"`
	Debug          bool `toml:"debug"`
	VSync          bool `toml:"vsync"`
	DiscreteGPU    bool `toml:"discrete_gpu"`
	// Directory the SPIR-V binaries are loaded from.
	ShaderDir string `toml:"shader_dir"`
}

// PhaseSettings overrides the defaults of a phase the game declares by name.
type PhaseSettings struct {
	Name           string `toml:"name"`
	BufferingDepth int    `toml:"buffering_depth"`
	RenderCount    int    `toml:"render_count"`
	Enabled        *bool  `toml:"enabled"`
}

func (ps PhaseSettings) IsEnabled() bool {
	return ps.Enabled == nil || *ps.Enabled
}

type EngineConfig struct {
	Application ApplicationSection `toml:"application"`
	Logging     LoggingSection     `toml:"logging"`
	Renderer    RendererSection    `toml:"renderer"`
	Phases      []PhaseSettings    `toml:"phases"`
}

func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		Application: ApplicationSection{
			Name:        "Cascade",
			StartPosX:   100,
			StartPosY:   100,
			StartWidth:  1280,
			StartHeight: 720,
		},
		Logging: LoggingSection{
			Level: InfoLevel.String(),
		},
		Renderer: RendererSection{
			BufferingDepth: DefaultBufferingDepth,
			VSync:          true,
			ShaderDir:      "assets/shaders",
		},
	}
}

func LoadConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a TOML document on top of DefaultConfig and validates it.
func ParseConfig(data []byte) (*EngineConfig, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills zero values with defaults and rejects values the renderer cannot honour.
func (c *EngineConfig) Validate() error {
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Renderer.BufferingDepth == 0 {
		c.Renderer.BufferingDepth = DefaultBufferingDepth
	}
	if c.Renderer.BufferingDepth < 1 || c.Renderer.BufferingDepth > MaxBufferingDepth {
		return fmt.Errorf("renderer.buffering_depth must be in [1, %d], got %d: %w", MaxBufferingDepth, c.Renderer.BufferingDepth, ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(c.Phases))
	for i := range c.Phases {
		p := &c.Phases[i]
		if p.Name == "" {
			return fmt.Errorf("phases[%d] has no name: %w", i, ErrInvalidConfig)
		}
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("phase %q declared twice: %w", p.Name, ErrInvalidConfig)
		}
		seen[p.Name] = struct{}{}

		if p.BufferingDepth == 0 {
			p.BufferingDepth = c.Renderer.BufferingDepth
		}
		if p.BufferingDepth < 1 || p.BufferingDepth > MaxBufferingDepth {
			return fmt.Errorf("phase %q buffering_depth must be in [1, %d], got %d: %w", p.Name, MaxBufferingDepth, p.BufferingDepth, ErrInvalidConfig)
		}
		if p.RenderCount == 0 {
			p.RenderCount = 1
		}
		if p.RenderCount < 1 {
			return fmt.Errorf("phase %q render_count must be >= 1, got %d: %w", p.Name, p.RenderCount, ErrInvalidConfig)
		}
	}
	return nil
}

// Phase returns the settings for the named phase, falling back to the renderer defaults.
func (c *EngineConfig) Phase(name string) PhaseSettings {
	for _, p := range c.Phases {
		if p.Name == name {
			return p
		}
	}
	return PhaseSettings{
		Name:           name,
		BufferingDepth: c.Renderer.BufferingDepth,
		RenderCount:    1,
	}
}

// ConfigWatcher re-parses the config file whenever it is written and hands the
// result to the callback. Invalid edits are logged and ignored.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*EngineConfig)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewConfigWatcher(path string, onChange func(*EngineConfig)) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// editors replace files on save, so watch the directory and filter by name
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", abs, err)
	}

	cw := &ConfigWatcher{
		path:     abs,
		watcher:  w,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.start()
	return cw, nil
}

func (cw *ConfigWatcher) start() {
	defer cw.wg.Done()
	for {
		select {
		case e, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != cw.path {
				continue
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfig(cw.path)
			if err != nil {
				LogWarn("ignoring config change: %s", err)
				continue
			}
			LogInfo("config %s reloaded", cw.path)
			cw.onChange(cfg)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			LogError("config watcher: %s", err)
		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) Close() error {
	var err error
	cw.closeOnce.Do(func() {
		close(cw.done)
		err = cw.watcher.Close()
		cw.wg.Wait()
	})
	return err
}
