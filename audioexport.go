package loopstation

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavWriter streams an AudioBuffer sequence into a 16-bit PCM .wav file.
type WavWriter struct {
	enc      *wav.Encoder
	closer   io.Closer
	format   *audio.Format
	frames   int
	scratch  []int
	channels int
}

// CreateWav creates the file at path and returns a writer for it.
func CreateWav(path string, sampleRate, channels int) (*WavWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create %v: %v", ErrIO, path, err)
	}
	w := NewWavWriter(f, sampleRate, channels)
	w.closer = f
	return w, nil
}

// NewWavWriter writes to ws. ws is not closed by Close.
func NewWavWriter(ws io.WriteSeeker, sampleRate, channels int) *WavWriter {
	return &WavWriter{
		enc:      wav.NewEncoder(ws, sampleRate, 16, channels, 1),
		format:   &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		channels: channels,
	}
}

// Write appends buf. Channels missing from buf are written as silence and
// extra channels are ignored; samples outside [-1,1] are clipped.
func (w *WavWriter) Write(buf AudioBuffer) error {
	n := buf.Len()
	if n == 0 {
		return nil
	}
	if cap(w.scratch) < n*w.channels {
		w.scratch = make([]int, n*w.channels)
	}
	data := w.scratch[:n*w.channels]
	for i := 0; i < n; i++ {
		for c := 0; c < w.channels; c++ {
			var v float32
			if c < len(buf.Channels) {
				v = buf.Channels[c][i]
			}
			data[i*w.channels+c] = clamp(int(v*math.MaxInt16), -math.MaxInt16, math.MaxInt16)
		}
	}
	ib := &audio.IntBuffer{Format: w.format, Data: data, SourceBitDepth: 16}
	if err := w.enc.Write(ib); err != nil {
		return fmt.Errorf("%w: could not write wav data: %v", ErrIO, err)
	}
	w.frames += n
	return nil
}

// Frames is the number of frames written so far.
func (w *WavWriter) Frames() int {
	return w.frames
}

// Close finalizes the header and closes the file if the writer owns it.
func (w *WavWriter) Close() error {
	err := w.enc.Close()
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	if err != nil {
		return fmt.Errorf("%w: could not finalize wav: %v", ErrIO, err)
	}
	return nil
}

// ReadWavFile decodes the .wav file at path.
func ReadWavFile(path string) (AudioBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return AudioBuffer{}, fmt.Errorf("%w: could not open %v: %v", ErrIO, path, err)
	}
	defer f.Close()
	return ReadWav(f)
}

// ReadWav decodes a PCM .wav stream into a deinterleaved buffer scaled to
// [-1,1].
func ReadWav(r io.ReadSeeker) (AudioBuffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return AudioBuffer{}, fmt.Errorf("%w: not a valid wav stream", ErrIO)
	}
	if err := dec.FwdToPCM(); err != nil {
		return AudioBuffer{}, fmt.Errorf("%w: could not find pcm chunk: %v", ErrIO, err)
	}
	format := dec.Format()
	if format == nil || format.NumChannels <= 0 {
		return AudioBuffer{}, fmt.Errorf("%w: wav stream has no channels", ErrIO)
	}
	depth := int(dec.SampleBitDepth())
	if depth <= 0 {
		depth = 16
	}
	samples := int(dec.PCMLen()) / (depth / 8)
	if samples <= 0 {
		return NewAudioBuffer(format.NumChannels, 0, format.SampleRate), nil
	}
	ib := &audio.IntBuffer{Format: format, Data: make([]int, samples), SourceBitDepth: depth}
	n, err := dec.PCMBuffer(ib)
	if err != nil {
		return AudioBuffer{}, fmt.Errorf("%w: could not read pcm data: %v", ErrIO, err)
	}
	scale := float32(math.Pow(2, float64(depth-1)))
	interleaved := make([]float32, n)
	for i, v := range ib.Data[:n] {
		interleaved[i] = float32(v) / scale
	}
	return Deinterleave(interleaved, format.NumChannels, format.SampleRate), nil
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
