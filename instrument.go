package loopstation

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type (
	InstrumentKind int

	// Instrument is the instrument assigned to a track. The set of sounding
	// voices is owned by the voice engine, not by this value.
	Instrument struct {
		Kind   InstrumentKind
		Name   string
		Color  string
		Params InstrumentParams
	}

	InstrumentParams interface {
		Kind() InstrumentKind
		Set(key string, value any) (InstrumentParams, error)
		isInstrumentParams()
	}

	// Envelope is a linear ADSR; times are in seconds, Sustain is a level
	// relative to the note velocity.
	Envelope struct {
		Attack  float64 `yaml:"attackTime"`
		Decay   float64 `yaml:"decayTime"`
		Sustain float64 `yaml:"sustainLevel"`
		Release float64 `yaml:"releaseTime"`
	}

	SynthParams struct {
		Oscillator      Waveform `yaml:"oscillatorType"`
		FilterCutoff    float64  `yaml:"filterCutoff"`
		FilterResonance float64  `yaml:"filterResonance"`
		Envelope        `yaml:",inline"`
	}

	FMParams struct {
		CarrierFreq     float64 `yaml:"carrierFreq"`   // ratio to the note frequency
		ModulatorFreq   float64 `yaml:"modulatorFreq"` // ratio to the note frequency
		ModulationIndex float64 `yaml:"modulationIndex"`
		Envelope        `yaml:",inline"`
	}

	SamplerParams struct {
		Sample     string  `yaml:"sample"`
		Start      float64 `yaml:"start"`
		End        float64 `yaml:"end"`
		Loop       bool    `yaml:"loop"`
		Reverse    bool    `yaml:"reverse"`
		PitchShift float64 `yaml:"pitchShift"` // semitones
	}

	DrumParams struct {
		Kit         string  `yaml:"kit"`
		Kick        float64 `yaml:"kickVolume"`
		Snare       float64 `yaml:"snareVolume"`
		Hihat       float64 `yaml:"hihatVolume"`
		Tom         float64 `yaml:"tomVolume"`
		Compression float64 `yaml:"compression"`
	}

	Waveform string

	instrumentYaml struct {
		Kind   string    `yaml:"kind"`
		Name   string    `yaml:"name,omitempty"`
		Params yaml.Node `yaml:"params,omitempty"`
	}
)

const (
	BasicSynth InstrumentKind = iota
	FMSynth
	Sampler
	DrumMachine
	NumInstrumentKinds

	UnknownInstrument InstrumentKind = -1
)

const (
	Sine     Waveform = "sine"
	Square   Waveform = "square"
	Sawtooth Waveform = "sawtooth"
	Triangle Waveform = "triangle"
)

var defaultEnvelope = Envelope{Attack: 0.01, Decay: 0.1, Sustain: 0.7, Release: 0.3}

var instrumentCatalog = [NumInstrumentKinds]struct {
	id, name, color string
	params          InstrumentParams
}{
	BasicSynth:  {"basicSynth", "Basic Synth", "#2196F3", SynthParams{Oscillator: Sawtooth, FilterCutoff: 1000, FilterResonance: 1, Envelope: defaultEnvelope}},
	FMSynth:     {"fmSynth", "FM Synth", "#E91E63", FMParams{CarrierFreq: 1, ModulatorFreq: 2, ModulationIndex: 5, Envelope: defaultEnvelope}},
	Sampler:     {"sampler", "Sampler", "#FF9800", SamplerParams{Sample: "piano", Start: 0, End: 1}},
	DrumMachine: {"drumMachine", "Drum Machine", "#9C27B0", DrumParams{Kit: "standard", Kick: 0.8, Snare: 0.8, Hihat: 0.7, Tom: 0.7, Compression: 0.5}},
}

func (k InstrumentKind) Valid() bool {
	return k >= 0 && k < NumInstrumentKinds
}

func (k InstrumentKind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return instrumentCatalog[k].id
}

func ParseInstrumentKind(id string) (InstrumentKind, error) {
	for i, e := range instrumentCatalog {
		if e.id == id {
			return InstrumentKind(i), nil
		}
	}
	return UnknownInstrument, fmt.Errorf("%w: %q", ErrUnknownInstrument, id)
}

func NewInstrument(k InstrumentKind) (Instrument, error) {
	if !k.Valid() {
		return Instrument{}, fmt.Errorf("%w: %d", ErrUnknownInstrument, int(k))
	}
	e := instrumentCatalog[k]
	return Instrument{Kind: k, Name: e.name, Color: e.color, Params: e.params}, nil
}

func (i Instrument) MarshalYAML() (any, error) {
	return struct {
		Kind   string           `yaml:"kind"`
		Name   string           `yaml:"name,omitempty"`
		Params InstrumentParams `yaml:"params,omitempty"`
	}{i.Kind.String(), i.Name, i.Params}, nil
}

func (i *Instrument) UnmarshalYAML(node *yaml.Node) error {
	var raw instrumentYaml
	if err := node.Decode(&raw); err != nil {
		return err
	}
	kind, err := ParseInstrumentKind(raw.Kind)
	if err != nil {
		return err
	}
	*i, _ = NewInstrument(kind)
	if raw.Name != "" {
		i.Name = raw.Name
	}
	if raw.Params.Kind == 0 {
		return nil
	}
	switch p := i.Params.(type) {
	case SynthParams:
		err = raw.Params.Decode(&p)
		i.Params = p
	case FMParams:
		err = raw.Params.Decode(&p)
		i.Params = p
	case SamplerParams:
		err = raw.Params.Decode(&p)
		i.Params = p
	case DrumParams:
		err = raw.Params.Decode(&p)
		i.Params = p
	}
	return err
}

func (SynthParams) Kind() InstrumentKind   { return BasicSynth }
func (FMParams) Kind() InstrumentKind      { return FMSynth }
func (SamplerParams) Kind() InstrumentKind { return Sampler }
func (DrumParams) Kind() InstrumentKind    { return DrumMachine }

func (SynthParams) isInstrumentParams()   {}
func (FMParams) isInstrumentParams()      {}
func (SamplerParams) isInstrumentParams() {}
func (DrumParams) isInstrumentParams()    {}

func (e Envelope) set(key string, value any) (Envelope, bool, error) {
	var err error
	switch key {
	case "attackTime":
		e.Attack, err = floatParam(key, value)
	case "decayTime":
		e.Decay, err = floatParam(key, value)
	case "sustainLevel":
		e.Sustain, err = floatParam(key, value)
	case "releaseTime":
		e.Release, err = floatParam(key, value)
	default:
		return e, false, nil
	}
	return e, true, err
}

func (p SynthParams) Set(key string, value any) (InstrumentParams, error) {
	var err error
	switch key {
	case "oscillatorType":
		var s string
		if s, err = stringParam(key, value); err == nil {
			switch w := Waveform(s); w {
			case Sine, Square, Sawtooth, Triangle:
				p.Oscillator = w
			default:
				err = fmt.Errorf("invalid oscillator type %q", s)
			}
		}
	case "filterCutoff":
		p.FilterCutoff, err = floatParam(key, value)
	case "filterResonance":
		p.FilterResonance, err = floatParam(key, value)
	default:
		var ok bool
		if p.Envelope, ok, err = p.Envelope.set(key, value); !ok {
			return p, unknownParam(key)
		}
	}
	return p, err
}

func (p FMParams) Set(key string, value any) (InstrumentParams, error) {
	var err error
	switch key {
	case "carrierFreq":
		p.CarrierFreq, err = floatParam(key, value)
	case "modulatorFreq":
		p.ModulatorFreq, err = floatParam(key, value)
	case "modulationIndex":
		p.ModulationIndex, err = floatParam(key, value)
	default:
		var ok bool
		if p.Envelope, ok, err = p.Envelope.set(key, value); !ok {
			return p, unknownParam(key)
		}
	}
	return p, err
}

func (p SamplerParams) Set(key string, value any) (InstrumentParams, error) {
	var err error
	switch key {
	case "sample":
		p.Sample, err = stringParam(key, value)
	case "start":
		p.Start, err = floatParam(key, value)
	case "end":
		p.End, err = floatParam(key, value)
	case "loop":
		p.Loop, err = boolParam(key, value)
	case "reverse":
		p.Reverse, err = boolParam(key, value)
	case "pitchShift":
		p.PitchShift, err = floatParam(key, value)
	default:
		return p, unknownParam(key)
	}
	return p, err
}

func (p DrumParams) Set(key string, value any) (InstrumentParams, error) {
	var err error
	switch key {
	case "kit":
		p.Kit, err = stringParam(key, value)
	case "kickVolume":
		p.Kick, err = floatParam(key, value)
	case "snareVolume":
		p.Snare, err = floatParam(key, value)
	case "hihatVolume":
		p.Hihat, err = floatParam(key, value)
	case "tomVolume":
		p.Tom, err = floatParam(key, value)
	case "compression":
		p.Compression, err = floatParam(key, value)
	default:
		return p, unknownParam(key)
	}
	return p, err
}
