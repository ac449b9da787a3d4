package loopstation

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type (
	// EffectKind identifies one of the nine signal stages.
	EffectKind int

	// Effect is one entry of a track's effect chain. Params is an immutable
	// record; changing a parameter produces a new record through Set.
	Effect struct {
		Kind    EffectKind
		Name    string
		Color   string
		Enabled bool
		Params  EffectParams
	}

	// EffectParams is implemented only by the parameter records of this
	// package, one per EffectKind.
	EffectParams interface {
		Kind() EffectKind
		// Set returns a copy of the record with the parameter key changed.
		Set(key string, value any) (EffectParams, error)
		isEffectParams()
	}

	effectYaml struct {
		Kind    string    `yaml:"kind"`
		Name    string    `yaml:"name,omitempty"`
		Color   string    `yaml:"color,omitempty"`
		Enabled *bool     `yaml:"enabled,omitempty"`
		Params  yaml.Node `yaml:"params,omitempty"`
	}

	effectCatalogEntry struct {
		id, name, color string
		params          EffectParams
	}
)

const (
	Reverb EffectKind = iota
	Delay
	Filter
	Distortion
	PitchShift
	Reverse
	Stutter
	FormantFilter
	Bitcrusher
	NumEffectKinds

	// UnknownEffect marks an entry whose kind could not be resolved when it
	// was decoded. Such entries stay in the chain but are never applied.
	UnknownEffect EffectKind = -1
)

var effectCatalog = [NumEffectKinds]effectCatalogEntry{
	Reverb:        {"reverb", "Reverb", "#2196F3", ReverbParams{RoomSize: 0.5, Damping: 0.3, Wet: 0.3, Dry: 0.7}},
	Delay:         {"delay", "Delay", "#9C27B0", DelayParams{Time: 0.5, Feedback: 0.4, Wet: 0.3}},
	Filter:        {"filter", "Filter", "#FF9800", FilterParams{Frequency: 1000, Resonance: 1, Type: Lowpass}},
	Distortion:    {"distortion", "Distortion", "#F44336", DistortionParams{Amount: 0.3, Oversample: Oversample2x}},
	PitchShift:    {"pitchShift", "Pitch Shift", "#4CAF50", PitchShiftParams{Pitch: 0, WindowSize: 0.1, Mix: 1}},
	Reverse:       {"reverse", "Reverse", "#FF5722", ReverseParams{Mix: 1}},
	Stutter:       {"stutter", "Stutter", "#E91E63", StutterParams{Rate: 4, Depth: 0.5, Mix: 0.5, Sync: true}},
	FormantFilter: {"formantFilter", "Formant", "#673AB7", FormantParams{Vowel: VowelA, Intensity: 0.5, Mix: 0.5}},
	Bitcrusher:    {"bitcrusher", "Bitcrusher", "#795548", BitcrusherParams{Bits: 8, SampleRate: 0.5, Mix: 0.5}},
}

func (k EffectKind) Valid() bool {
	return k >= 0 && k < NumEffectKinds
}

func (k EffectKind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return effectCatalog[k].id
}

// ParseEffectKind resolves a catalog id such as "pitchShift".
func ParseEffectKind(id string) (EffectKind, error) {
	for i, e := range effectCatalog {
		if e.id == id {
			return EffectKind(i), nil
		}
	}
	return UnknownEffect, fmt.Errorf("%w: %q", ErrUnknownEffect, id)
}

// DefaultEffectParams returns the default parameter record of the kind, or nil
// for an invalid kind.
func DefaultEffectParams(k EffectKind) EffectParams {
	if !k.Valid() {
		return nil
	}
	return effectCatalog[k].params
}

// NewEffect creates an enabled effect with the catalog name, color and default
// parameters.
func NewEffect(k EffectKind) (Effect, error) {
	if !k.Valid() {
		return Effect{}, fmt.Errorf("%w: %d", ErrUnknownEffect, int(k))
	}
	e := effectCatalog[k]
	return Effect{Kind: k, Name: e.name, Color: e.color, Enabled: true, Params: e.params}, nil
}

// WithParam returns a copy of the effect with one parameter changed.
func (e Effect) WithParam(key string, value any) (Effect, error) {
	if e.Params == nil {
		return e, fmt.Errorf("%w: %v has no parameters", ErrUnknownEffect, e.Kind)
	}
	p, err := e.Params.Set(key, value)
	if err != nil {
		return e, fmt.Errorf("effect %v: %w", e.Kind, err)
	}
	e.Params = p
	return e, nil
}

func (e Effect) MarshalYAML() (any, error) {
	return struct {
		Kind    string       `yaml:"kind"`
		Name    string       `yaml:"name,omitempty"`
		Color   string       `yaml:"color,omitempty"`
		Enabled bool         `yaml:"enabled"`
		Params  EffectParams `yaml:"params,omitempty"`
	}{e.Kind.String(), e.Name, e.Color, e.Enabled, e.Params}, nil
}

// UnmarshalYAML decodes an effect, filling missing fields from the catalog.
// Unknown kinds decode into an UnknownEffect entry rather than an error.
func (e *Effect) UnmarshalYAML(node *yaml.Node) error {
	var raw effectYaml
	if err := node.Decode(&raw); err != nil {
		return err
	}
	kind, err := ParseEffectKind(raw.Kind)
	if err != nil {
		*e = Effect{Kind: UnknownEffect, Name: raw.Name, Color: raw.Color}
		return nil
	}
	*e, _ = NewEffect(kind)
	if raw.Name != "" {
		e.Name = raw.Name
	}
	if raw.Color != "" {
		e.Color = raw.Color
	}
	if raw.Enabled != nil {
		e.Enabled = *raw.Enabled
	}
	if raw.Params.Kind == 0 {
		return nil
	}
	e.Params, err = decodeEffectParams(kind, &raw.Params)
	return err
}

func decodeEffectParams(k EffectKind, node *yaml.Node) (EffectParams, error) {
	switch p := DefaultEffectParams(k).(type) {
	case ReverbParams:
		err := node.Decode(&p)
		return p, err
	case DelayParams:
		err := node.Decode(&p)
		return p, err
	case FilterParams:
		err := node.Decode(&p)
		return p, err
	case DistortionParams:
		err := node.Decode(&p)
		return p, err
	case PitchShiftParams:
		err := node.Decode(&p)
		return p, err
	case ReverseParams:
		err := node.Decode(&p)
		return p, err
	case StutterParams:
		err := node.Decode(&p)
		return p, err
	case FormantParams:
		err := node.Decode(&p)
		return p, err
	case BitcrusherParams:
		err := node.Decode(&p)
		return p, err
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownEffect, k)
}
