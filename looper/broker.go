package looper

import (
	"sync"
	"time"

	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/gesture"
	"gitlab.com/gomidi/midi/v2"
)

type (
	// Broker carries the messages between the MIDI input, the touch surface,
	// the looper and the user interface. Every recipient has its own channel;
	// senders never block and drop messages when the recipient lags behind.
	//
	// CloseLooper has capacity 1, so a close request can always be sent with
	// TrySend. FinishedLooper is closed once Run has returned.
	Broker struct {
		MIDI     chan midi.Message
		Gestures chan gesture.Event
		ToUI     chan Event

		CloseLooper    chan struct{}
		FinishedLooper chan struct{}

		bufferPool sync.Pool
	}

	// Event is something the user interface should react to.
	Event struct {
		Kind   EventKind
		Track  int
		Data   any
		Target string
	}

	EventKind int
)

const (
	EventNone EventKind = iota
	// EventTrackChanged carries a loopstation.Track snapshot in Data.
	EventTrackChanged
	EventTrackSelected
	// EventMenu asks the UI to open the menu of Track.
	EventMenu
	// EventInstrument asks the UI to open the instrument editor of Track.
	EventInstrument
	// EventLearned carries the learned midi.Mapping in Data and the control
	// id in Target.
	EventLearned
	EventStep
)

func NewBroker() *Broker {
	return &Broker{
		MIDI:           make(chan midi.Message, 1024),
		Gestures:       make(chan gesture.Event, 256),
		ToUI:           make(chan Event, 1024),
		CloseLooper:    make(chan struct{}, 1),
		FinishedLooper: make(chan struct{}),
		bufferPool:     sync.Pool{New: func() any { return &loopstation.AudioBuffer{} }},
	}
}

// GetAudioBuffer returns a silent buffer of the given shape from the pool.
// Return it with PutAudioBuffer when done.
func (b *Broker) GetAudioBuffer(channels, frames, sampleRate int) *loopstation.AudioBuffer {
	buf := b.bufferPool.Get().(*loopstation.AudioBuffer)
	if len(buf.Channels) != channels {
		buf.Channels = make([][]float32, channels)
	}
	for i, ch := range buf.Channels {
		if cap(ch) < frames {
			ch = make([]float32, frames)
		}
		ch = ch[:frames]
		clear(ch)
		buf.Channels[i] = ch
	}
	buf.SampleRate = sampleRate
	return buf
}

func (b *Broker) PutAudioBuffer(buf *loopstation.AudioBuffer) {
	b.bufferPool.Put(buf)
}

// TrySend sends v to c if c is not full. It never blocks and reports whether
// the value was sent.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive waits for a value from c for at most t. ok is false on a
// timeout or if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
