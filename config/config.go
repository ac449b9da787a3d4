// Package config holds the settings of the looper: embedded defaults,
// overridden by the user's config.yml.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/gesture"
	"gopkg.in/yaml.v2"
)

type (
	Config struct {
		Audio     Audio     `yaml:"audio"`
		Transport Transport `yaml:"transport"`
		Recording Recording `yaml:"recording"`
		Gestures  Gestures  `yaml:"gestures"`
		Sequencer Sequencer `yaml:"sequencer"`
		Tracks    Tracks    `yaml:"tracks"`
		MIDI      MIDI      `yaml:"midi"`
		YmlError  error     `yaml:"-"`
	}

	Audio struct {
		SampleRate int `yaml:"sampleRate"`
		BufferSize int `yaml:"bufferSize"`
		RingDepth  int `yaml:"ringDepth"`
		Channels   int `yaml:"channels"`
		Workers    int `yaml:"workers"` // effect processing workers per track
	}

	Transport struct {
		BPM             float64       `yaml:"bpm"`
		BeatsPerMeasure int           `yaml:"beatsPerMeasure"`
		Quantize        bool          `yaml:"quantize"`
		CountIn         bool          `yaml:"countIn"`
		MasterStagger   time.Duration `yaml:"masterStagger"`
		LoopTolerance   time.Duration `yaml:"loopTolerance"`
	}

	Recording struct {
		Directory    string `yaml:"directory"`
		NameTemplate string `yaml:"nameTemplate"`
	}

	Gestures struct {
		TapTimeout       time.Duration     `yaml:"tapTimeout"`
		LongPressTimeout time.Duration     `yaml:"longPressTimeout"`
		SwipeThreshold   float64           `yaml:"swipeThreshold"`
		Actions          map[string]string `yaml:"actions"`
	}

	Sequencer struct {
		Steps int `yaml:"steps"`
		Note  int `yaml:"note"`
	}

	Tracks struct {
		Count  int      `yaml:"count"`
		Colors []string `yaml:"colors"`
	}

	MIDI struct {
		InputPrefix  string `yaml:"inputPrefix"`
		MappingsFile string `yaml:"mappingsFile"`
	}
)

const configFile = "config.yml"

//go:embed defaults.yml
var defaultConfigYaml []byte

// Default returns the embedded defaults.
func Default() Config {
	var cfg Config
	if err := yaml.UnmarshalStrict(defaultConfigYaml, &cfg); err != nil {
		panic(fmt.Errorf("failed to unmarshal default config: %w", err))
	}
	return cfg
}

// Dir is the directory of the user's config files.
func Dir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "loopstation"), nil
}

// ReadCustomConfigYml modifies the target argument, i.e. needs a pointer
func ReadCustomConfigYml(filename string, target any) (exists bool, err error) {
	dir, err := Dir()
	if err != nil {
		return false, err
	}
	bytes, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		return false, err
	}
	return true, yaml.Unmarshal(bytes, target)
}

// Make returns the defaults overridden by the user's config.yml. A broken
// file is reported in YmlError and whatever parsed is kept.
func Make() Config {
	cfg := Default()
	exists, err := ReadCustomConfigYml(configFile, &cfg)
	if exists {
		cfg.YmlError = err
	}
	return cfg
}

// LoadFile returns the defaults overridden by the file at path.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	bytes, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", loopstation.ErrIO, err)
	}
	if err := yaml.UnmarshalStrict(bytes, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v: %v", loopstation.ErrConfiguration, path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Audio.RingDepth < 2 {
		errs = append(errs, fmt.Errorf("audio.ringDepth must be at least 2, got %d", c.Audio.RingDepth))
	}
	if c.Audio.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.bufferSize must be positive, got %d", c.Audio.BufferSize))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sampleRate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels))
	}
	if c.Transport.BPM <= 0 {
		errs = append(errs, fmt.Errorf("transport.bpm must be positive, got %v", c.Transport.BPM))
	}
	if c.Transport.BeatsPerMeasure <= 0 {
		errs = append(errs, fmt.Errorf("transport.beatsPerMeasure must be positive, got %d", c.Transport.BeatsPerMeasure))
	}
	if c.Sequencer.Steps <= 0 {
		errs = append(errs, fmt.Errorf("sequencer.steps must be positive, got %d", c.Sequencer.Steps))
	}
	if _, err := c.Bindings(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", loopstation.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// RecordingDir is the recording directory with a leading ~ expanded.
func (c Config) RecordingDir() (string, error) {
	dir, err := homedir.Expand(c.Recording.Directory)
	if err != nil {
		return "", fmt.Errorf("%w: recording directory: %v", loopstation.ErrConfiguration, err)
	}
	return dir, nil
}

// MappingsPath resolves the midi mappings file against the config directory.
func (c Config) MappingsPath() (string, error) {
	p, err := homedir.Expand(c.MIDI.MappingsFile)
	if err != nil || p == "" || filepath.IsAbs(p) {
		return p, err
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

func (c Config) GestureConfig() gesture.Config {
	return gesture.Config{
		TapTimeout:       c.Gestures.TapTimeout,
		LongPressTimeout: c.Gestures.LongPressTimeout,
		SwipeThreshold:   c.Gestures.SwipeThreshold,
	}
}

// Bindings parses the gesture actions.
func (c Config) Bindings() (gesture.Bindings, error) {
	b := gesture.Bindings{}
	for k, a := range c.Gestures.Actions {
		kind, err := gesture.ParseKind(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", loopstation.ErrConfiguration, err)
		}
		b[kind] = gesture.Action(a)
	}
	return b, b.Validate()
}

// TrackColor returns the color of the i:th track, cycling through the
// configured colors.
func (c Config) TrackColor(i int) string {
	if len(c.Tracks.Colors) == 0 {
		return ""
	}
	return c.Tracks.Colors[i%len(c.Tracks.Colors)]
}
