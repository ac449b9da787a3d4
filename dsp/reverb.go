package dsp

import (
	"math"

	"github.com/vsariola/loopstation"
)

// ApplyReverb is a tapped-delay reverb over the whole buffer:
//
//	out[i] = dry*in[i] + wet*0.5*sum_{j=1..T} (1-damping)^(0.1*j) * in[i-j]
//
// with T = floor(len(in)*roomSize*0.9) and taps before the start of the buffer
// omitted. The tap sum is a truncated geometric series, so it is updated
// incrementally: S[i+1] = r*in[i] + r*(S[i] - r^T*in[i-T]).
func ApplyReverb(in []float32, p loopstation.ReverbParams) []float32 {
	n := len(in)
	out := make([]float32, n)
	taps := int(math.Floor(float64(n) * clamp(p.RoomSize, 0, 1) * 0.9))
	r := math.Pow(1-clamp(p.Damping, 0, 1), 0.1)
	rT := math.Pow(r, float64(taps))
	var s float64
	for i := 0; i < n; i++ {
		out[i] = float32(p.Dry*float64(in[i]) + p.Wet*0.5*s)
		if taps <= 0 {
			continue
		}
		if i-taps >= 0 {
			s -= rT * float64(in[i-taps])
		}
		s = r*float64(in[i]) + r*s
	}
	return out
}
