package dsp

import (
	"github.com/vsariola/loopstation"
)

// ApplyDistortion is a soft-clipping waveshaper
//
//	y = (1+k)x / (1+k|x|), k = amount*100
//
// optionally run at 2x or 4x the sample rate to tame aliasing.
func ApplyDistortion(in []float32, p loopstation.DistortionParams) []float32 {
	k := float32(clamp(p.Amount, 0, 1) * 100)
	factor := 1
	switch p.Oversample {
	case loopstation.Oversample2x:
		factor = 2
	case loopstation.Oversample4x:
		factor = 4
	}
	out := make([]float32, len(in))
	if factor == 1 {
		for i, x := range in {
			out[i] = shape(x, k)
		}
		return out
	}
	// linear interpolation up, shape, then average each group of factor
	// samples back down
	for i, x := range in {
		next := x
		if i+1 < len(in) {
			next = in[i+1]
		}
		var acc float32
		for j := 0; j < factor; j++ {
			t := float32(j) / float32(factor)
			acc += shape(x+(next-x)*t, k)
		}
		out[i] = acc / float32(factor)
	}
	return out
}

func shape(x, k float32) float32 {
	ax := x
	if ax < 0 {
		ax = -ax
	}
	return (1 + k) * x / (1 + k*ax)
}
