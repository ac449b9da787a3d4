package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/loopstation"
)

// WavDeck records and plays back a track as .wav files. Audio is pushed in
// with Capture while recording and pulled out with Read while playing; the
// mixer drives both once per rendered block.
type WavDeck struct {
	trackID    int
	sampleRate int
	channels   int
	progress   chan<- Progress
	log        logrus.FieldLogger

	mu       sync.Mutex
	writer   *loopstation.WavWriter
	recPath  string
	source   loopstation.AudioBuffer
	srcPath  string
	playing  bool
	playhead int
	volume   float64
}

var ErrDeckIdle = errors.New("deck is not recording")

func NewWavDeck(trackID, sampleRate, channels int, progress chan<- Progress, log logrus.FieldLogger) *WavDeck {
	return &WavDeck{
		trackID:    trackID,
		sampleRate: sampleRate,
		channels:   channels,
		progress:   progress,
		log:        loopstation.OrNop(log).WithField("track", trackID),
		volume:     1,
	}
}

// WavDeckFactory returns a DeckFactory creating WavDecks.
func WavDeckFactory(sampleRate, channels int, log logrus.FieldLogger) DeckFactory {
	return func(trackID int, progress chan<- Progress) Deck {
		return NewWavDeck(trackID, sampleRate, channels, progress, log)
	}
}

func (d *WavDeck) StartRecorder(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer != nil {
		d.writer.Close()
	}
	w, err := loopstation.CreateWav(path, d.sampleRate, d.channels)
	if err != nil {
		d.writer = nil
		return err
	}
	d.writer, d.recPath = w, path
	d.log.WithField("path", path).Debug("recorder started")
	return nil
}

// Capture appends buf to the running recording. It is a no-op when the deck
// is not recording.
func (d *WavDeck) Capture(buf loopstation.AudioBuffer) error {
	d.mu.Lock()
	if d.writer == nil {
		d.mu.Unlock()
		return nil
	}
	if err := d.writer.Write(buf); err != nil {
		d.mu.Unlock()
		return err
	}
	p := Progress{TrackID: d.trackID, Position: d.framesToDuration(d.writer.Frames()), Recording: true}
	d.mu.Unlock()
	d.post(p)
	return nil
}

func (d *WavDeck) StopRecorder() (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return 0, ErrDeckIdle
	}
	w := d.writer
	d.writer = nil
	dur := d.framesToDuration(w.Frames())
	if err := w.Close(); err != nil {
		return 0, err
	}
	if d.srcPath == d.recPath {
		d.srcPath = "" // the cached source is stale
	}
	d.log.WithFields(logrus.Fields{"path": d.recPath, "duration": dur}).Debug("recorder stopped")
	return dur, nil
}

func (d *WavDeck) StartPlayer(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if path != d.srcPath {
		buf, err := loopstation.ReadWavFile(path)
		if err != nil {
			return err
		}
		if buf.SampleRate != d.sampleRate {
			return fmt.Errorf("%w: %v has sample rate %d, deck runs at %d", loopstation.ErrIO, path, buf.SampleRate, d.sampleRate)
		}
		d.source, d.srcPath = buf, path
	}
	d.playing = true
	d.playhead = 0
	return nil
}

func (d *WavDeck) StopPlayer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = false
	d.playhead = 0
	return nil
}

func (d *WavDeck) SetVolume(level float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = level
	return nil
}

func (d *WavDeck) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// Source returns the loaded recording and whether the deck is playing.
func (d *WavDeck) Source() (loopstation.AudioBuffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source, d.playing
}

func (d *WavDeck) Playhead() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playhead
}

// Advance moves the playhead by frames and reports the new position. The
// playhead wraps at the end of the recording and keeps the overshoot, so the
// loop period is exactly the recording length.
func (d *WavDeck) Advance(frames int) {
	d.mu.Lock()
	if !d.playing {
		d.mu.Unlock()
		return
	}
	d.playhead += frames
	if n := d.source.Len(); n > 0 && d.playhead >= n {
		d.playhead %= n
	}
	p := Progress{
		TrackID:  d.trackID,
		Position: d.framesToDuration(d.playhead),
		Duration: d.framesToDuration(d.source.Len()),
		Looping:  true,
	}
	d.mu.Unlock()
	d.post(p)
}

func (d *WavDeck) framesToDuration(frames int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(d.sampleRate)
}

func (d *WavDeck) post(p Progress) {
	if d.progress == nil {
		return
	}
	select {
	case d.progress <- p:
	default:
	}
}
