package transport

import (
	"fmt"
	"time"

	"github.com/vsariola/loopstation"
)

// RecordOptions controls when a recording actually starts.
type RecordOptions struct {
	BPM             float64
	BeatsPerMeasure int
	Quantize        bool
	CountIn         bool
}

// BeatDuration is the length of one beat at the tempo.
func BeatDuration(bpm float64) time.Duration {
	return time.Duration(60 / bpm * float64(time.Second))
}

// MeasureDuration is the length of one measure at the tempo.
func MeasureDuration(bpm float64, beatsPerMeasure int) time.Duration {
	return time.Duration(60 / bpm * float64(beatsPerMeasure) * float64(time.Second))
}

// RecordDelay returns how long startRecording waits before the recorder is
// started: nothing without quantization, a full measure of count-in, or one
// beat to land on the next beat.
func RecordDelay(opts RecordOptions) (time.Duration, error) {
	if !opts.Quantize {
		return 0, nil
	}
	if opts.BPM <= 0 {
		return 0, fmt.Errorf("%w: tempo must be positive, got %v", loopstation.ErrConfiguration, opts.BPM)
	}
	if opts.CountIn {
		if opts.BeatsPerMeasure <= 0 {
			return 0, fmt.Errorf("%w: beats per measure must be positive, got %v", loopstation.ErrConfiguration, opts.BeatsPerMeasure)
		}
		return MeasureDuration(opts.BPM, opts.BeatsPerMeasure), nil
	}
	return BeatDuration(opts.BPM), nil
}
