package loopstation

import (
	"fmt"
	"strconv"
)

type (
	ReverbParams struct {
		RoomSize float64 `yaml:"roomSize"`
		Damping  float64 `yaml:"damping"`
		Wet      float64 `yaml:"wet"`
		Dry      float64 `yaml:"dry"`
	}

	DelayParams struct {
		Time     float64 `yaml:"time"` // seconds
		Feedback float64 `yaml:"feedback"`
		Wet      float64 `yaml:"wet"`
	}

	FilterParams struct {
		Frequency float64    `yaml:"frequency"`
		Resonance float64    `yaml:"resonance"`
		Type      FilterType `yaml:"type"`
	}

	DistortionParams struct {
		Amount     float64    `yaml:"amount"`
		Oversample Oversample `yaml:"oversample"`
	}

	PitchShiftParams struct {
		Pitch      float64 `yaml:"pitch"`      // semitones
		WindowSize float64 `yaml:"windowSize"` // seconds
		Mix        float64 `yaml:"mix"`
	}

	ReverseParams struct {
		Mix float64 `yaml:"mix"`
	}

	StutterParams struct {
		Rate  float64 `yaml:"rate"`
		Depth float64 `yaml:"depth"`
		Mix   float64 `yaml:"mix"`
		Sync  bool    `yaml:"sync"`
	}

	FormantParams struct {
		Vowel     Vowel   `yaml:"vowel"`
		Intensity float64 `yaml:"intensity"`
		Mix       float64 `yaml:"mix"`
	}

	BitcrusherParams struct {
		Bits       float64 `yaml:"bits"`
		SampleRate float64 `yaml:"sampleRate"` // fraction of the original rate
		Mix        float64 `yaml:"mix"`
	}

	FilterType string
	Oversample string
	Vowel      string
)

// MaxFeedback bounds the delay feedback below 1 so that echoes decay.
const MaxFeedback = 0.99

const (
	Lowpass  FilterType = "lowpass"
	Highpass FilterType = "highpass"
	Bandpass FilterType = "bandpass"

	OversampleNone Oversample = "none"
	Oversample2x   Oversample = "2x"
	Oversample4x   Oversample = "4x"

	VowelA Vowel = "a"
	VowelE Vowel = "e"
	VowelI Vowel = "i"
	VowelO Vowel = "o"
	VowelU Vowel = "u"
)

func (ReverbParams) Kind() EffectKind     { return Reverb }
func (DelayParams) Kind() EffectKind      { return Delay }
func (FilterParams) Kind() EffectKind     { return Filter }
func (DistortionParams) Kind() EffectKind { return Distortion }
func (PitchShiftParams) Kind() EffectKind { return PitchShift }
func (ReverseParams) Kind() EffectKind    { return Reverse }
func (StutterParams) Kind() EffectKind    { return Stutter }
func (FormantParams) Kind() EffectKind    { return FormantFilter }
func (BitcrusherParams) Kind() EffectKind { return Bitcrusher }

func (ReverbParams) isEffectParams()     {}
func (DelayParams) isEffectParams()      {}
func (FilterParams) isEffectParams()     {}
func (DistortionParams) isEffectParams() {}
func (PitchShiftParams) isEffectParams() {}
func (ReverseParams) isEffectParams()    {}
func (StutterParams) isEffectParams()    {}
func (FormantParams) isEffectParams()    {}
func (BitcrusherParams) isEffectParams() {}

func (p ReverbParams) Set(key string, value any) (EffectParams, error) {
	var err error
	switch key {
	case "roomSize":
		p.RoomSize, err = unitParam(key, value)
	case "damping":
		p.Damping, err = unitParam(key, value)
	case "wet":
		p.Wet, err = unitParam(key, value)
	case "dry":
		p.Dry, err = unitParam(key, value)
	default:
		return p, unknownParam(key)
	}
	return p, err
}

func (p DelayParams) Set(key string, value any) (EffectParams, error) {
	var err error
	switch key {
	case "time":
		p.Time, err = floatParam(key, value)
	case "feedback":
		p.Feedback, err = floatParam(key, value)
		p.Feedback = min(max(p.Feedback, 0), MaxFeedback)
	case "wet":
		p.Wet, err = unitParam(key, value)
	default:
		return p, unknownParam(key)
	}
	return p, err
}

func (p FilterParams) Set(key string, value any) (EffectParams, error) {
	var err error
	switch key {
	case "frequency":
		p.Frequency, err = floatParam(key, value)
	case "resonance":
		p.Resonance, err = floatParam(key, value)
	case "type":
		var s string
		if s, err = stringParam(key, value); err == nil {
			switch t := FilterType(s); t {
			case Lowpass, Highpass, Bandpass:
				p.Type = t
			default:
				err = fmt.Errorf("invalid filter type %q", s)
			}
		}
	default:
		return p, unknownParam(key)
	}
	return p, err
}

func (p DistortionParams) Set(key string, value any) (EffectParams, error) {
	var err error
	switch key {
	case "amount":
		p.Amount, err = unitParam(key, value)
	case "oversample":
		var s string
		if s, err = stringParam(key, value); err == nil {
			switch o := Oversample(s); o {
			case OversampleNone, Oversample2x, Oversample4x:
				p.Oversample = o
			default:
				err = fmt.Errorf("invalid oversampling %q", s)
			}
		}
	default:
		return p, unknownParam(key)
	}
	return p, err
}

func (p PitchShiftParams) Set(key string, value any) (EffectParams, error) {
	var err error
	switch key {
	case "pitch":
		p.Pitch, err = floatParam(key, value)
	case "windowSize":
		p.WindowSize, err = floatParam(key, value)
	case "mix":
		p.Mix, err = unitParam(key, value)
	default:
		return p, unknownParam(key)
	}
	return p, err
}

func (p ReverseParams) Set(key string, value any) (EffectParams, error) {
	var err error
	switch key {
	case "mix":
		p.Mix, err = unitParam(key, value)
	default:
		return p, unknownParam(key)
	}
	return p, err
}

func (p StutterParams) Set(key string, value any) (EffectParams, error) {
	var err error
	switch key {
	case "rate":
		p.Rate, err = floatParam(key, value)
	case "depth":
		p.Depth, err = unitParam(key, value)
	case "mix":
		p.Mix, err = unitParam(key, value)
	case "sync":
		p.Sync, err = boolParam(key, value)
	default:
		return p, unknownParam(key)
	}
	return p, err
}

func (p FormantParams) Set(key string, value any) (EffectParams, error) {
	var err error
	switch key {
	case "vowel":
		var s string
		if s, err = stringParam(key, value); err == nil {
			switch v := Vowel(s); v {
			case VowelA, VowelE, VowelI, VowelO, VowelU:
				p.Vowel = v
			default:
				err = fmt.Errorf("invalid vowel %q", s)
			}
		}
	case "intensity":
		p.Intensity, err = unitParam(key, value)
	case "mix":
		p.Mix, err = unitParam(key, value)
	default:
		return p, unknownParam(key)
	}
	return p, err
}

func (p BitcrusherParams) Set(key string, value any) (EffectParams, error) {
	var err error
	switch key {
	case "bits":
		p.Bits, err = floatParam(key, value)
	case "sampleRate":
		p.SampleRate, err = unitParam(key, value)
	case "mix":
		p.Mix, err = unitParam(key, value)
	default:
		return p, unknownParam(key)
	}
	return p, err
}

func unknownParam(key string) error {
	return fmt.Errorf("%w: %q", ErrUnknownParam, key)
}

func floatParam(key string, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("parameter %q: expected a number, got %T", key, value)
}

// unitParam reads a parameter that only has a meaning in [0,1], clamping it
// into that range.
func unitParam(key string, value any) (float64, error) {
	f, err := floatParam(key, value)
	return min(max(f, 0), 1), err
}

func stringParam(key string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case FilterType:
		return string(v), nil
	case Oversample:
		return string(v), nil
	case Vowel:
		return string(v), nil
	case Waveform:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", fmt.Errorf("parameter %q: expected a string, got %T", key, value)
}

func boolParam(key string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parameter %q: %w", key, err)
		}
		return b, nil
	}
	return false, fmt.Errorf("parameter %q: expected a boolean, got %T", key, value)
}
