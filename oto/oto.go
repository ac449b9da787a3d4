// Package oto plays the scheduler output on the default audio device.
package oto

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"
	"github.com/vsariola/loopstation"
)

type (
	Format int

	Context struct {
		ctx        *oto.Context
		sampleRate int
		channels   int
		format     Format
		latency    int // frames of audio the output may queue
		log        logrus.FieldLogger
	}

	// Source appends the next interleaved samples to dst. It returns dst
	// unchanged when it has nothing to give.
	Source func(dst []float32) []float32

	// Output queues audio for the oto player, which pulls it through Read.
	// Audio is either written with WriteAudio or, for a streaming output,
	// taken from its Source whenever the queue runs short. On underrun the
	// player gets silence; audio that does not fit in the queue is dropped.
	Output struct {
		player *oto.Player
		format Format
		source Source
		log    logrus.FieldLogger

		mu        sync.Mutex
		ring      []byte
		head      int // read position
		size      int // bytes queued
		tmpBuffer []byte
		pulled    []float32
		underruns int
		overruns  int
	}
)

const (
	Float32 Format = iota
	Int16
)

func (f Format) bytesPerSample() int {
	if f == Int16 {
		return 2
	}
	return 4
}

func (f Format) oto() oto.Format {
	if f == Int16 {
		return oto.FormatSignedInt16LE
	}
	return oto.FormatFloat32LE
}

// NewContext opens the audio device. latency is the number of frames each
// output may queue ahead of the device.
func NewContext(sampleRate, channels, latency int, format Format, log logrus.FieldLogger) (*Context, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       format.oto(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cannot create oto context: %v", loopstation.ErrIO, err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: sampleRate, channels: channels, format: format, latency: latency, log: loopstation.OrNop(log)}, nil
}

// Output creates a new playing output.
func (c *Context) Output() loopstation.AudioSink {
	o := newOutput(c.format, c.latency*c.channels, c.log)
	o.player = c.ctx.NewPlayer(o)
	o.player.Play()
	return o
}

// Stream creates a playing output that pulls its audio from source at the
// pace the device consumes it.
func (c *Context) Stream(source Source) *Output {
	o := newOutput(c.format, c.latency*c.channels, c.log)
	o.source = source
	o.player = c.ctx.NewPlayer(o)
	o.player.Play()
	return o
}

func (c *Context) Close() error {
	if err := c.ctx.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

func newOutput(format Format, samples int, log logrus.FieldLogger) *Output {
	return &Output{
		format: format,
		ring:   make([]byte, samples*format.bytesPerSample()),
		log:    loopstation.OrNop(log),
	}
}

// WriteAudio queues interleaved samples.
func (o *Output) WriteAudio(floatBuffer []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enqueue(floatBuffer)
	return nil
}

// enqueue converts and queues samples. It returns false if some of them
// were dropped. Must be called with mu held.
func (o *Output) enqueue(floatBuffer []float32) bool {
	// we reuse the old capacity tmpBuffer by setting its length to zero
	if o.format == Int16 {
		o.tmpBuffer = FloatBufferTo16BitLE(floatBuffer, o.tmpBuffer[:0])
	} else {
		o.tmpBuffer = FloatBufferTo32BitLE(floatBuffer, o.tmpBuffer[:0])
	}
	data := o.tmpBuffer
	free := len(o.ring) - o.size
	fits := len(data) <= free
	if !fits {
		// keep whole samples only
		free -= free % o.format.bytesPerSample()
		data = data[:free]
		o.overruns++
		o.log.WithField("overruns", o.overruns).Debug("audio output queue full")
	}
	tail := (o.head + o.size) % max(len(o.ring), 1)
	n := copy(o.ring[tail:], data)
	copy(o.ring, data[n:])
	o.size += len(data)
	return fits
}

// Read implements io.Reader for the oto player.
func (o *Output) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.source != nil && o.size < len(p) {
		o.pulled = o.source(o.pulled[:0])
		if len(o.pulled) == 0 || !o.enqueue(o.pulled) {
			break
		}
	}
	n := min(len(p), o.size)
	c := copy(p[:n], o.ring[o.head:])
	copy(p[c:n], o.ring)
	o.head = (o.head + n) % max(len(o.ring), 1)
	o.size -= n
	if n < len(p) {
		clear(p[n:])
		o.underruns++
	}
	return len(p), nil
}

// Stats returns how often the device found the queue empty and how often
// written audio was dropped.
func (o *Output) Stats() (underruns, overruns int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.underruns, o.overruns
}

func (o *Output) Close() error {
	if o.player == nil {
		return nil
	}
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}
