// Package dsp contains the signal stages that can be placed in an effect
// chain. Every stage is a pure function of its input samples and parameters:
// it returns a newly allocated slice of the same length and never modifies its
// input.
package dsp

import (
	"github.com/viterin/vek/vek32"
	"github.com/vsariola/loopstation"
)

// Context carries what the stages need to know about the material besides
// the samples themselves.
type Context struct {
	SampleRate int
	BPM        float64
}

func (c Context) sampleRate() float64 {
	if c.SampleRate <= 0 {
		return loopstation.DefaultSampleRate
	}
	return float64(c.SampleRate)
}

// Apply dispatches to the stage matching the parameter record. ok is false if
// the record does not belong to any known stage, in which case the returned
// slice is an unmodified copy of the input.
func Apply(ctx Context, params loopstation.EffectParams, samples []float32) (out []float32, ok bool) {
	switch p := params.(type) {
	case loopstation.ReverbParams:
		return ApplyReverb(samples, p), true
	case loopstation.DelayParams:
		return ApplyDelay(ctx, samples, p), true
	case loopstation.FilterParams:
		return ApplyFilter(ctx, samples, p), true
	case loopstation.DistortionParams:
		return ApplyDistortion(samples, p), true
	case loopstation.PitchShiftParams:
		return ApplyPitchShift(ctx, samples, p), true
	case loopstation.ReverseParams:
		return ApplyReverse(samples, p), true
	case loopstation.StutterParams:
		return ApplyStutter(ctx, samples, p), true
	case loopstation.FormantParams:
		return ApplyFormant(ctx, samples, p), true
	case loopstation.BitcrusherParams:
		return ApplyBitcrusher(samples, p), true
	}
	return append([]float32(nil), samples...), false
}

// mix returns (1-amount)*dry + amount*wet. wet is used as scratch space.
func mix(dry, wet []float32, amount float64) []float32 {
	out := make([]float32, len(dry))
	vek32.MulNumber_Into(out, dry, float32(1-amount))
	vek32.MulNumber_Inplace(wet, float32(amount))
	vek32.Add_Inplace(out, wet)
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
