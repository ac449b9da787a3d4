package oto

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/internal/fakeclock"
	"github.com/vsariola/loopstation/scheduler"
)

func TestFloatBufferTo16BitLE(t *testing.T) {
	got := FloatBufferTo16BitLE([]float32{0, 1, -1, 2, -2, 0.5}, nil)
	want := []int16{0, math.MaxInt16, -math.MaxInt16, math.MaxInt16, -math.MaxInt16, math.MaxInt16 / 2}
	if len(got) != 2*len(want) {
		t.Fatalf("got %d bytes", len(got))
	}
	for i, w := range want {
		if v := int16(binary.LittleEndian.Uint16(got[2*i:])); v != w {
			t.Fatalf("sample %d: %d, want %d", i, v, w)
		}
	}
}

func TestFloatBufferTo32BitLE(t *testing.T) {
	got := FloatBufferTo32BitLE([]float32{0.25, -3}, []byte{9})
	if len(got) != 9 || got[0] != 9 {
		t.Fatalf("did not append: %v", got)
	}
	if v := math.Float32frombits(binary.LittleEndian.Uint32(got[5:])); v != -3 {
		t.Fatalf("second sample %v", v)
	}
}

func readFloats(o *Output, n int) []float32 {
	p := make([]byte, 4*n)
	o.Read(p)
	ret := make([]float32, n)
	for i := range ret {
		ret[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[4*i:]))
	}
	return ret
}

func TestOutputQueue(t *testing.T) {
	o := newOutput(Float32, 6, nil)
	if err := o.WriteAudio([]float32{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if got := readFloats(o, 3); got[0] != 1 || got[2] != 3 {
		t.Fatalf("read %v", got)
	}
	// wraps around the end of the ring
	o.WriteAudio([]float32{5, 6, 7, 8})
	got := readFloats(o, 5)
	for i, w := range []float32{4, 5, 6, 7, 8} {
		if got[i] != w {
			t.Fatalf("read %v", got)
		}
	}
	if u, ov := o.Stats(); u != 0 || ov != 0 {
		t.Fatalf("stats %d %d", u, ov)
	}
}

func TestOutputUnderrunAndOverrun(t *testing.T) {
	o := newOutput(Float32, 4, nil)
	o.WriteAudio([]float32{1, 2, 3, 4, 5, 6})
	got := readFloats(o, 6)
	for i, w := range []float32{1, 2, 3, 4, 0, 0} {
		if got[i] != w {
			t.Fatalf("read %v", got)
		}
	}
	if u, ov := o.Stats(); u != 1 || ov != 1 {
		t.Fatalf("stats underruns %d overruns %d", u, ov)
	}
}

func TestOutputInt16(t *testing.T) {
	o := newOutput(Int16, 4, nil)
	o.WriteAudio([]float32{1, -1})
	p := make([]byte, 4)
	o.Read(p)
	if v := int16(binary.LittleEndian.Uint16(p[2:])); v != -math.MaxInt16 {
		t.Fatalf("sample %d", v)
	}
	if err := o.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestStreamIsPacedByTheDevice(t *testing.T) {
	const sampleRate, bufferSize, depth = 44100, 4410, 4
	clock := fakeclock.New()
	s, err := scheduler.New(scheduler.Config{BufferSize: bufferSize, Depth: depth, SampleRate: sampleRate, Channels: 2}, clock, nil,
		scheduler.WithDevicePacing(), scheduler.WithDispatcher(func(f func()) { f() }))
	if err != nil {
		t.Fatal(err)
	}
	fills := 0
	s.SetFillFunc(func(buf loopstation.AudioBuffer) { fills++ })
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	o := newOutput(Float32, bufferSize*depth*2, nil)
	o.source = func(dst []float32) []float32 {
		buf, ok := s.Pull()
		if !ok {
			return dst
		}
		return buf.Interleave(dst)
	}
	// the device asks for one second of audio in chunks of 980 frames
	p := make([]byte, 980*2*4)
	frames := 0
	for range 45 {
		n, _ := o.Read(p)
		frames += n / 8
	}
	clock.Advance(time.Second)
	if frames != sampleRate {
		t.Fatalf("delivered %d frames in one second", frames)
	}
	if fills != depth+sampleRate/bufferSize {
		t.Fatalf("fill called %d times in one second, want %d", fills, depth+sampleRate/bufferSize)
	}
	if u, ov := o.Stats(); u != 0 || ov != 0 {
		t.Fatalf("underruns %d overruns %d", u, ov)
	}
}
