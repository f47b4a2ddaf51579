package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"scratchbrainz/deck"
)

// Config is the top-level YAML configuration for the scratchbrainz daemon.
//
// Defaults and validation live here so the rest of the daemon can assume a
// well-formed config. The file is the primary surface; flags only override.
type Config struct {
	// Track loaded at startup
	Track TrackConfig `yaml:"track"`

	// Audio output
	Audio AudioConfig `yaml:"audio"`

	// Engine loop
	Engine EngineConfig `yaml:"engine"`

	// Jog wheel input (Linux input devices)
	Jog JogConfig `yaml:"jog"`

	// IPC configuration (used by scratch-ctl)
	IPC IPCConfig `yaml:"ipc"`

	// Renderer websocket
	Renderer RendererConfig `yaml:"renderer"`

	// Initial on-screen layout; a renderer normally replaces it with set_geometry
	Geometry deck.Geometry `yaml:"geometry"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type TrackConfig struct {
	Path string `yaml:"path,omitempty"`
}

type AudioConfig struct {
	Backend    string `yaml:"backend"` // "oto" or "null"
	SampleRate int    `yaml:"sample_rate"`
	BufferMS   int    `yaml:"buffer_ms"`
}

type EngineConfig struct {
	TickHz int     `yaml:"tick_hz"`
	Pitch  float64 `yaml:"pitch"`
}

type JogConfig struct {
	Devices        []string `yaml:"devices,omitempty"`
	DegreesPerStep float64  `yaml:"degrees_per_step"`
	ReleaseMS      int      `yaml:"release_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type RendererConfig struct {
	Listen     string `yaml:"listen"`
	Path       string `yaml:"path"`
	CoalesceMS int    `yaml:"coalesce_ms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Audio: AudioConfig{
			Backend:    "oto",
			SampleRate: defaultSampleRate,
			BufferMS:   defaultBufferMS,
		},
		Engine: EngineConfig{
			TickHz: defaultTickHz,
			Pitch:  1.0,
		},
		Jog: JogConfig{
			DegreesPerStep: defaultDegreesPerStep,
			ReleaseMS:      defaultJogReleaseMS,
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		Renderer: RendererConfig{
			Listen:     defaultWSListen,
			Path:       defaultWSPath,
			CoalesceMS: defaultCoalesceMS,
		},
		Geometry: deck.Geometry{
			Platter: deck.Rect{X: 0, Y: 0, W: 400, H: 400},
			Pivot:   deck.Point{X: 460, Y: 40},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
//
// Unknown fields are rejected via KnownFields(true) to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document. A yaml.Node
	// target keeps KnownFields from masking a second document.
	var trailing yaml.Node
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds command-line overrides. Each non-nil pointer is
// applied, even when it points at a zero value; main.go decides which
// flags were actually set.
type FlagOverrides struct {
	TrackPath     *string
	AudioBackend  *string
	IPCSocketPath *string
	WSListen      *string
	LogLevel      *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.TrackPath != nil {
		cfg.Track.Path = *o.TrackPath
	}
	if o.AudioBackend != nil {
		cfg.Audio.Backend = *o.AudioBackend
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.WSListen != nil {
		cfg.Renderer.Listen = *o.WSListen
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	// Audio
	switch c.Audio.Backend {
	case "oto", "null":
	default:
		return fmt.Errorf("audio.backend must be %q or %q", "oto", "null")
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return errors.New("audio.sample_rate must be between 8000 and 192000")
	}
	if c.Audio.BufferMS <= 0 || c.Audio.BufferMS > 1000 {
		return errors.New("audio.buffer_ms must be between 1 and 1000")
	}

	// Engine
	if c.Engine.TickHz <= 0 || c.Engine.TickHz > 1000 {
		return errors.New("engine.tick_hz must be between 1 and 1000")
	}
	if c.Engine.Pitch < 0.5 || c.Engine.Pitch > 1.5 {
		return errors.New("engine.pitch must be between 0.5 and 1.5")
	}

	// Jog
	for i, dev := range c.Jog.Devices {
		if dev == "" {
			return fmt.Errorf("jog.devices[%d] is empty", i)
		}
	}
	if c.Jog.DegreesPerStep <= 0 {
		return errors.New("jog.degrees_per_step must be > 0")
	}
	if c.Jog.ReleaseMS <= 0 {
		return errors.New("jog.release_ms must be > 0")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Renderer; an empty listen address disables the websocket
	if c.Renderer.Listen != "" && c.Renderer.Path == "" {
		return errors.New("renderer.path must not be empty")
	}
	if c.Renderer.CoalesceMS < 0 {
		return errors.New("renderer.coalesce_ms must be >= 0")
	}

	// Geometry
	if !c.Geometry.Valid() {
		return errors.New("geometry must have a finite platter with positive width and height")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// TickInterval returns the engine tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Engine.TickHz)
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
