package dsp

import (
	"math"

	"github.com/viterin/vek/vek32"
	"github.com/vsariola/loopstation"
)

type (
	biquadState struct {
		x1, x2, y1, y2 float32
	}

	biquadCoeff struct {
		b0, b1, b2, a1, a2 float32
	}

	formant [3]float64
)

// Formant center frequencies (F1, F2, F3) in Hz of an adult voice.
var formants = map[loopstation.Vowel]formant{
	loopstation.VowelA: {800, 1150, 2900},
	loopstation.VowelE: {350, 2000, 2800},
	loopstation.VowelI: {270, 2140, 2950},
	loopstation.VowelO: {450, 800, 2830},
	loopstation.VowelU: {325, 700, 2700},
}

const formantQ = 8

// ApplyFilter runs the input through a single RBJ biquad of the given type.
// Resonance is used as the filter Q.
func ApplyFilter(ctx Context, in []float32, p loopstation.FilterParams) []float32 {
	out := append([]float32(nil), in...)
	coeff := rbj(p.Type, p.Frequency, p.Resonance, ctx.sampleRate())
	var s biquadState
	s.Filter(out, coeff)
	return out
}

// ApplyFormant sums three bandpass filters tuned to the formants of the
// vowel. intensity blends the formant signal against the input before the
// final mix.
func ApplyFormant(ctx Context, in []float32, p loopstation.FormantParams) []float32 {
	f, ok := formants[p.Vowel]
	if !ok {
		f = formants[loopstation.VowelA]
	}
	sr := ctx.sampleRate()
	voiced := make([]float32, len(in))
	band := make([]float32, len(in))
	for _, freq := range f {
		copy(band, in)
		var s biquadState
		s.Filter(band, rbj(loopstation.Bandpass, freq, formantQ, sr))
		vek32.Add_Inplace(voiced, band)
	}
	intensity := clamp(p.Intensity, 0, 1)
	return mix(in, mix(in, voiced, intensity), p.Mix)
}

// Filter processes the buffer in place, carrying the filter memory over calls.
func (state *biquadState) Filter(buffer []float32, coeff biquadCoeff) {
	s := *state
	for i := 0; i < len(buffer); i++ {
		x := buffer[i]
		y := coeff.b0*x + coeff.b1*s.x1 + coeff.b2*s.x2 - coeff.a1*s.y1 - coeff.a2*s.y2
		s.x2, s.x1 = s.x1, x
		s.y2, s.y1 = s.y1, y
		buffer[i] = y
	}
	*state = s
}

// rbj computes the coefficients from the Audio EQ Cookbook by Robert
// Bristow-Johnson. The frequency is clamped below Nyquist.
func rbj(typ loopstation.FilterType, freq, q, sampleRate float64) biquadCoeff {
	freq = clamp(freq, 1, sampleRate*0.49)
	q = math.Max(q, 0.01)
	w0 := 2 * math.Pi * freq / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)
	var b0, b1, b2 float64
	switch typ {
	case loopstation.Highpass:
		b0, b1, b2 = (1+cosw)/2, -(1 + cosw), (1+cosw)/2
	case loopstation.Bandpass:
		b0, b1, b2 = alpha, 0, -alpha
	default:
		b0, b1, b2 = (1-cosw)/2, 1-cosw, (1-cosw)/2
	}
	a0 := 1 + alpha
	return biquadCoeff{
		b0: float32(b0 / a0),
		b1: float32(b1 / a0),
		b2: float32(b2 / a0),
		a1: float32(-2 * cosw / a0),
		a2: float32((1 - alpha) / a0),
	}
}

// Biquad is a streaming RBJ filter that keeps its memory between calls.
// Retuning with Set keeps the memory, so cutoff sweeps do not click.
type Biquad struct {
	state biquadState
	coeff biquadCoeff
}

func NewBiquad(typ loopstation.FilterType, freq, q float64, sampleRate int) *Biquad {
	b := &Biquad{}
	b.Set(typ, freq, q, sampleRate)
	return b
}

func (b *Biquad) Set(typ loopstation.FilterType, freq, q float64, sampleRate int) {
	sr := float64(sampleRate)
	if sr <= 0 {
		sr = loopstation.DefaultSampleRate
	}
	b.coeff = rbj(typ, freq, q, sr)
}

// Process filters buf in place.
func (b *Biquad) Process(buf []float32) {
	b.state.Filter(buf, b.coeff)
}
