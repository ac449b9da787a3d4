package looper

import (
	"time"

	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/transport"
)

// StepDuration is the length of one sequencer step, a sixteenth note.
func StepDuration(bpm float64) time.Duration {
	return transport.BeatDuration(bpm) / 4
}

// StartSequencer starts stepping through the patterns of the tracks from the
// first step. On every step, each track with an instrument whose pattern has
// the step set plays a note until the next step.
func (l *Looper) StartSequencer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq.running {
		return
	}
	l.seq.running = true
	l.seq.gen++
	l.seq.step = 0
	l.log.WithField("bpm", l.bpm).Info("started sequencer")
	l.runStep(l.seq.gen)
}

// StopSequencer stops stepping and releases the notes the sequencer holds.
func (l *Looper) StopSequencer() {
	l.mu.Lock()
	if !l.seq.running {
		l.mu.Unlock()
		return
	}
	l.seq.running = false
	l.seq.gen++
	if l.seq.timer != nil {
		l.seq.timer.Stop()
		l.seq.timer = nil
	}
	tracks := l.sortedTracks()
	l.mu.Unlock()
	for _, ts := range tracks {
		ts.mu.Lock()
		if ts.voices != nil && ts.seqNote >= 0 {
			ts.voices.NoteOff(ts.seqNote)
		}
		ts.seqNote = -1
		ts.mu.Unlock()
	}
	l.log.Info("stopped sequencer")
}

func (l *Looper) SequencerRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq.running
}

// ToggleStep flips a step of the pattern of the track.
func (l *Looper) ToggleStep(id, step int) {
	l.engine.ToggleStep(id, step, l.cfg.Sequencer.Steps)
}

// runStep plays the current step and schedules the next one. Must be called
// with mu held.
func (l *Looper) runStep(gen int) {
	step := l.seq.step
	steps := l.cfg.Sequencer.Steps
	for _, t := range l.engine.Tracks() {
		ts, ok := l.tracks[t.ID]
		if !ok {
			continue
		}
		ts.mu.Lock()
		if ts.voices != nil {
			if ts.seqNote >= 0 {
				ts.voices.NoteOff(ts.seqNote)
				ts.seqNote = -1
			}
			if t.Instrument != nil && step < len(t.Pattern) && t.Pattern[step] {
				note := l.sequencerNote(*t.Instrument)
				ts.voices.NoteOn(note, sequencerVel)
				ts.seqNote = note
			}
		}
		ts.mu.Unlock()
	}
	l.seq.step = (step + 1) % steps
	TrySend(l.broker.ToUI, Event{Kind: EventStep, Data: step})
	l.seq.timer = l.clock.AfterFunc(StepDuration(l.bpm), func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.seq.gen != gen || !l.seq.running {
			return
		}
		l.runStep(gen)
	})
}

// sequencerNote is the note played by a pattern step: the configured note,
// or the kick drum on a drum machine.
func (l *Looper) sequencerNote(instr loopstation.Instrument) int {
	if instr.Kind == loopstation.DrumMachine {
		return drumSequencerKey
	}
	return l.cfg.Sequencer.Note
}
