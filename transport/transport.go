// Package transport drives the record, playback and erase lifecycle of the
// looper tracks. The actual capture and playback is delegated to a Deck per
// track; the engine decides when the deck is started and stopped.
package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/loopstation"
)

type (
	// Deck is the platform recorder/player of one track.
	Deck interface {
		StartRecorder(path string) error
		// StopRecorder finalizes the recording and returns its length.
		StopRecorder() (time.Duration, error)
		StartPlayer(path string) error
		StopPlayer() error
		SetVolume(level float64) error
	}

	// DeckFactory creates the deck of a new track. Decks report their
	// position by sending Progress values to progress.
	DeckFactory func(trackID int, progress chan<- Progress) Deck

	Progress struct {
		TrackID   int
		Position  time.Duration
		Duration  time.Duration
		Recording bool

		// Looping is set by decks that wrap their playhead themselves. The
		// engine never restarts such a deck.
		Looping bool
	}

	Permissions interface {
		RecordPermission() (bool, error)
	}

	// AllowAll grants every permission; used on platforms without a
	// permission model.
	AllowAll struct{}

	Config struct {
		MasterStagger time.Duration // delay between consecutive track starts of the master transport
		LoopTolerance time.Duration // how close to the end playback counts as finished
	}

	Engine struct {
		clock   loopstation.Clock
		log     logrus.FieldLogger
		namer   *Namer
		perms   Permissions
		newDeck DeckFactory
		cfg     Config

		progress chan Progress
		changes  chan loopstation.Track

		mu            sync.Mutex
		tracks        map[int]*track
		masterPlaying bool
		masterTimers  []loopstation.Timer
	}

	track struct {
		loopstation.Track
		deck    Deck
		gen     int // bumped when a scheduled recording start is cancelled
		playGen int // bumped when a scheduled playback start is cancelled
		pending loopstation.Timer
		path    string // file being recorded
	}
)

var DefaultConfig = Config{MasterStagger: 20 * time.Millisecond, LoopTolerance: 50 * time.Millisecond}

func (AllowAll) RecordPermission() (bool, error) { return true, nil }

// NewEngine creates an engine storing recordings where namer says. The
// recordings directory is created if it does not exist.
func NewEngine(cfg Config, namer *Namer, newDeck DeckFactory, perms Permissions, clock loopstation.Clock, log logrus.FieldLogger) *Engine {
	if perms == nil {
		perms = AllowAll{}
	}
	if clock == nil {
		clock = loopstation.SystemClock{}
	}
	e := &Engine{
		clock:    clock,
		log:      loopstation.OrNop(log),
		namer:    namer,
		perms:    perms,
		newDeck:  newDeck,
		cfg:      cfg,
		progress: make(chan Progress, 1024),
		changes:  make(chan loopstation.Track, 1024),
		tracks:   map[int]*track{},
	}
	if dir := namer.Dir(); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			e.log.WithError(err).WithField("dir", dir).Error("could not create recordings directory")
		}
	}
	return e
}

// Changes delivers a snapshot of a track every time its state changes.
// Snapshots are dropped if nobody keeps up with the channel.
func (e *Engine) Changes() <-chan loopstation.Track {
	return e.changes
}

// Run handles the progress reports of the decks until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-e.progress:
			e.HandleProgress(p)
		}
	}
}

// AddTrack creates a new idle track. Adding an existing id returns the
// existing track.
func (e *Engine) AddTrack(id int, color string) loopstation.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tracks[id]; ok {
		return t.Copy()
	}
	t := &track{Track: loopstation.Track{ID: id, Color: color, Pattern: []bool{}}}
	t.deck = e.newDeck(id, e.progress)
	e.tracks[id] = t
	e.log.WithField("track", id).Debug("created track")
	return t.Copy()
}

func (e *Engine) Track(id int) (loopstation.Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracks[id]
	if !ok {
		return loopstation.Track{}, false
	}
	return t.Copy(), true
}

// Tracks returns snapshots of all tracks ordered by id.
func (e *Engine) Tracks() []loopstation.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	ret := make([]loopstation.Track, 0, len(e.tracks))
	for _, id := range e.sortedIDs() {
		ret = append(ret, e.tracks[id].Copy())
	}
	return ret
}

func (e *Engine) MasterPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.masterPlaying
}

// Progress returns the playback or recording position of the track.
func (e *Engine) Progress(id int) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tracks[id]; ok {
		return t.Progress
	}
	return 0
}

func (e *Engine) SetActive(id int, active bool) {
	e.update(id, func(t *track) { t.Active = active })
}

func (e *Engine) SetName(id int, name string) {
	e.update(id, func(t *track) { t.Name = name })
}

func (e *Engine) SetPattern(id int, pattern []bool) {
	e.update(id, func(t *track) { t.Pattern = slices.Clone(pattern) })
}

// ToggleStep flips one step of the sequencer pattern, growing the pattern to
// steps entries if it is shorter.
func (e *Engine) ToggleStep(id, step, steps int) {
	if step < 0 || step >= steps {
		return
	}
	e.update(id, func(t *track) {
		if len(t.Pattern) < steps {
			t.Pattern = append(t.Pattern, make([]bool, steps-len(t.Pattern))...)
		}
		t.Pattern[step] = !t.Pattern[step]
	})
}

func (e *Engine) SetInstrument(id int, instr *loopstation.Instrument) {
	e.update(id, func(t *track) {
		if instr == nil {
			t.Instrument = nil
			return
		}
		i := *instr
		t.Instrument = &i
	})
}

func (e *Engine) SetEffects(id int, effects []loopstation.Effect) {
	e.update(id, func(t *track) { t.Effects = slices.Clone(effects) })
}

func (e *Engine) update(id int, f func(t *track)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tracks[id]; ok {
		f(t)
		e.changed(t)
	}
}

// StartRecording starts recording on the track, either immediately or after
// the quantization delay, which is returned. While the delay runs the track
// is counting in or armed and already reports Recording.
func (e *Engine) StartRecording(id int, opts RecordOptions) (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracks[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", loopstation.ErrUnknownTrack, id)
	}
	switch t.State {
	case loopstation.CountingIn, loopstation.Armed, loopstation.Recording, loopstation.Erasing:
		return 0, fmt.Errorf("%w: track %d is %v", loopstation.ErrTrackBusy, id, t.State)
	}
	delay, err := RecordDelay(opts)
	if err != nil {
		return 0, err
	}
	if granted, err := e.perms.RecordPermission(); err != nil || !granted {
		e.log.WithField("track", id).WithError(err).Error("recording permission not granted")
		return 0, loopstation.ErrPermissionDenied
	}
	path, err := e.namer.Path(id, e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", loopstation.ErrConfiguration, err)
	}
	if t.Playing {
		t.playGen++
		e.stopPlayback(t)
	}
	t.Recording = true
	t.path = path
	if delay == 0 {
		if err := e.beginRecording(t); err != nil {
			return 0, err
		}
		return 0, nil
	}
	t.State = loopstation.Armed
	if opts.CountIn {
		t.State = loopstation.CountingIn
	}
	e.changed(t)
	gen := t.gen
	t.pending = e.clock.AfterFunc(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if t.gen != gen {
			return
		}
		t.pending = nil
		e.beginRecording(t)
	})
	e.log.WithFields(logrus.Fields{"track": id, "delay": delay, "state": t.State}).Info("recording scheduled")
	return delay, nil
}

// beginRecording must be called with mu held.
func (e *Engine) beginRecording(t *track) error {
	if err := t.deck.StartRecorder(t.path); err != nil {
		e.log.WithField("track", t.ID).WithError(err).Error("could not start recorder")
		t.Recording = false
		t.State = loopstation.Idle
		t.path = ""
		e.changed(t)
		return fmt.Errorf("%w: %v", loopstation.ErrIO, err)
	}
	t.State = loopstation.Recording
	t.Progress = 0
	e.changed(t)
	e.log.WithFields(logrus.Fields{"track": t.ID, "path": t.path}).Info("started recording")
	return nil
}

// StopRecording finishes the recording of the track. A recording that is
// still waiting for its quantized start is cancelled.
func (e *Engine) StopRecording(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracks[id]
	if !ok {
		return fmt.Errorf("%w: %d", loopstation.ErrUnknownTrack, id)
	}
	return e.stopRecording(t)
}

func (e *Engine) stopRecording(t *track) error {
	switch t.State {
	case loopstation.CountingIn, loopstation.Armed:
		e.cancelPending(t)
		t.Recording = false
		t.State = loopstation.Idle
		t.path = ""
		e.changed(t)
		e.log.WithField("track", t.ID).Info("cancelled scheduled recording")
		return nil
	case loopstation.Recording:
	default:
		return nil
	}
	duration, err := t.deck.StopRecorder()
	t.Recording = false
	t.State = loopstation.Idle
	if err != nil {
		e.removeFile(t.ID, t.path)
		t.path = ""
		e.changed(t)
		e.log.WithField("track", t.ID).WithError(err).Error("could not stop recorder")
		return fmt.Errorf("%w: %v", loopstation.ErrIO, err)
	}
	if t.FilePath != "" && t.FilePath != t.path {
		e.removeFile(t.ID, t.FilePath)
	}
	t.FilePath = t.path
	t.path = ""
	t.Duration = duration
	t.Progress = 0
	e.changed(t)
	e.log.WithFields(logrus.Fields{"track": t.ID, "path": t.FilePath, "duration": duration}).Info("stopped recording")
	return nil
}

// StartPlayback starts looping the recording of the track. A track without
// a recording is left alone.
func (e *Engine) StartPlayback(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracks[id]
	if !ok {
		return fmt.Errorf("%w: %d", loopstation.ErrUnknownTrack, id)
	}
	return e.startPlayback(t)
}

func (e *Engine) startPlayback(t *track) error {
	if t.FilePath == "" || t.Playing {
		return nil
	}
	if t.State != loopstation.Idle {
		return fmt.Errorf("%w: track %d is %v", loopstation.ErrTrackBusy, t.ID, t.State)
	}
	if err := t.deck.StartPlayer(t.FilePath); err != nil {
		e.log.WithField("track", t.ID).WithError(err).Error("could not start player")
		return fmt.Errorf("%w: %v", loopstation.ErrIO, err)
	}
	if err := t.deck.SetVolume(1); err != nil {
		e.log.WithField("track", t.ID).WithError(err).Warn("could not set volume")
	}
	t.Playing = true
	t.State = loopstation.Playing
	e.changed(t)
	e.log.WithField("track", t.ID).Info("started playback")
	return nil
}

func (e *Engine) StopPlayback(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracks[id]
	if !ok {
		return fmt.Errorf("%w: %d", loopstation.ErrUnknownTrack, id)
	}
	t.playGen++
	return e.stopPlayback(t)
}

func (e *Engine) stopPlayback(t *track) error {
	if !t.Playing {
		return nil
	}
	err := t.deck.StopPlayer()
	t.Playing = false
	t.State = loopstation.Idle
	t.Progress = 0
	e.changed(t)
	if err != nil {
		e.log.WithField("track", t.ID).WithError(err).Error("could not stop player")
		return fmt.Errorf("%w: %v", loopstation.ErrIO, err)
	}
	e.log.WithField("track", t.ID).Info("stopped playback")
	return nil
}

// StartMasterPlayback starts every active track that has a recording, track
// i of them (in id order) i*MasterStagger after the call. It returns the ids
// of the tracks scheduled.
func (e *Engine) StartMasterPlayback() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelMaster()
	e.masterPlaying = true
	var ids []int
	for _, id := range e.sortedIDs() {
		if t := e.tracks[id]; t.Active && t.FilePath != "" {
			ids = append(ids, id)
		}
	}
	for i, id := range ids {
		t := e.tracks[id]
		if i == 0 {
			if err := e.startPlayback(t); err != nil {
				e.log.WithField("track", id).WithError(err).Error("master playback could not start track")
			}
			continue
		}
		gen := t.playGen
		timer := e.clock.AfterFunc(time.Duration(i)*e.cfg.MasterStagger, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if t.playGen != gen || !e.masterPlaying {
				return
			}
			if err := e.startPlayback(t); err != nil {
				e.log.WithField("track", id).WithError(err).Error("master playback could not start track")
			}
		})
		e.masterTimers = append(e.masterTimers, timer)
	}
	e.log.WithField("tracks", ids).Info("started master playback")
	return ids
}

// StopMasterPlayback stops every playing track, one after another, and
// cancels staggered starts that have not happened yet.
func (e *Engine) StopMasterPlayback() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.masterPlaying = false
	e.cancelMaster()
	for _, id := range e.sortedIDs() {
		if t := e.tracks[id]; t.Playing {
			e.stopPlayback(t)
		}
	}
	e.log.Info("stopped master playback")
}

func (e *Engine) cancelMaster() {
	for _, t := range e.masterTimers {
		t.Stop()
	}
	e.masterTimers = nil
}

// EraseTrack stops the track, deletes its recording and clears its file,
// progress and pattern.
func (e *Engine) EraseTrack(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracks[id]
	if !ok {
		return fmt.Errorf("%w: %d", loopstation.ErrUnknownTrack, id)
	}
	if t.Playing {
		e.stopPlayback(t)
	}
	if t.Recording {
		e.stopRecording(t)
	}
	t.State = loopstation.Erasing
	e.cancelPending(t)
	t.playGen++
	if t.FilePath != "" {
		e.removeFile(id, t.FilePath)
	}
	t.FilePath = ""
	t.Progress = 0
	t.Duration = 0
	t.Pattern = []bool{}
	t.Recording = false
	t.Playing = false
	t.State = loopstation.Idle
	e.changed(t)
	e.log.WithField("track", id).Info("erased track")
	return nil
}

// HandleProgress updates the position of a track from a deck report and
// restarts playback that has reached the end of the recording.
func (e *Engine) HandleProgress(p Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracks[p.TrackID]
	if !ok {
		return
	}
	if p.Recording {
		if t.State == loopstation.Recording {
			t.Progress = p.Position
		}
		return
	}
	if !t.Playing {
		return
	}
	t.Progress = p.Position
	if p.Duration > 0 {
		t.Duration = p.Duration
	}
	if p.Looping || p.Duration <= 0 || p.Position < p.Duration-e.cfg.LoopTolerance {
		return
	}
	// seamless loop: restart from the beginning
	if err := t.deck.StopPlayer(); err == nil {
		err = t.deck.StartPlayer(t.FilePath)
		if err == nil {
			t.Progress = 0
			e.log.WithField("track", t.ID).Debug("looped playback")
			return
		}
	}
	e.log.WithField("track", t.ID).Error("could not restart playback")
	t.Playing = false
	t.State = loopstation.Idle
	t.Progress = 0
	e.changed(t)
}

func (e *Engine) cancelPending(t *track) {
	t.gen++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

func (e *Engine) removeFile(id int, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.log.WithFields(logrus.Fields{"track": id, "path": path}).WithError(err).Error("could not delete recording")
		return
	}
	e.log.WithFields(logrus.Fields{"track": id, "path": path}).Debug("deleted recording")
}

func (e *Engine) changed(t *track) {
	select {
	case e.changes <- t.Copy():
	default:
	}
}

func (e *Engine) sortedIDs() []int {
	ids := make([]int, 0, len(e.tracks))
	for id := range e.tracks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
