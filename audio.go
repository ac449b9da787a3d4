package loopstation

import (
	"time"
)

type (
	// AudioBuffer is a block of non-interleaved float32 audio: one slice per
	// channel, all of equal length. Buffers are never shared between
	// components; whoever hands a buffer over hands over a Clone.
	AudioBuffer struct {
		Channels   [][]float32
		SampleRate int
	}

	AudioSink interface {
		WriteAudio(buffer []float32) error
		Close() error
	}

	AudioContext interface {
		Output() AudioSink
		Close() error
	}
)

const DefaultSampleRate = 44100

// NewAudioBuffer allocates a silent buffer with the given number of channels
// and frames.
func NewAudioBuffer(channels, frames, sampleRate int) AudioBuffer {
	b := AudioBuffer{Channels: make([][]float32, channels), SampleRate: sampleRate}
	for i := range b.Channels {
		b.Channels[i] = make([]float32, frames)
	}
	return b
}

// Len returns the number of frames in the buffer.
func (b AudioBuffer) Len() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func (b AudioBuffer) NumChannels() int {
	return len(b.Channels)
}

func (b AudioBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Len()) * time.Second / time.Duration(b.SampleRate)
}

// Clone returns a deep copy of the buffer.
func (b AudioBuffer) Clone() AudioBuffer {
	ret := AudioBuffer{Channels: make([][]float32, len(b.Channels)), SampleRate: b.SampleRate}
	for i, c := range b.Channels {
		ret.Channels[i] = append([]float32(nil), c...)
	}
	return ret
}

// CopyFrom copies the samples of src into b without reallocating; channels
// and frames that do not exist in both buffers are left untouched.
func (b AudioBuffer) CopyFrom(src AudioBuffer) {
	for i := 0; i < len(b.Channels) && i < len(src.Channels); i++ {
		copy(b.Channels[i], src.Channels[i])
	}
}

// Clear zeroes all the samples, keeping the buffer allocated.
func (b AudioBuffer) Clear() {
	for _, c := range b.Channels {
		clear(c)
	}
}

// Interleave appends the buffer as interleaved frames to dst, which is the
// format the audio sinks expect.
func (b AudioBuffer) Interleave(dst []float32) []float32 {
	n := b.Len()
	for i := 0; i < n; i++ {
		for _, c := range b.Channels {
			dst = append(dst, c[i])
		}
	}
	return dst
}

// Deinterleave is the inverse of Interleave; trailing samples that do not make
// a complete frame are dropped.
func Deinterleave(samples []float32, channels, sampleRate int) AudioBuffer {
	if channels <= 0 {
		return AudioBuffer{SampleRate: sampleRate}
	}
	frames := len(samples) / channels
	b := NewAudioBuffer(channels, frames, sampleRate)
	for i := 0; i < frames; i++ {
		for c := range b.Channels {
			b.Channels[c][i] = samples[i*channels+c]
		}
	}
	return b
}
