// Package voice renders the instrument of a track: a polyphonic set of
// voices, one per sounding note, driven by note on and note off events.
package voice

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/viterin/vek/vek32"
	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/dsp"
)

// MaxVoices is the polyphony of one engine. A note on beyond it steals the
// oldest voice.
const MaxVoices = 16

// samplerRelease fades out sampler voices on note off.
const samplerRelease = 0.05

type (
	Engine struct {
		sampleRate int
		channels   int
		bank       *Bank
		log        logrus.FieldLogger

		mu      sync.Mutex
		instr   loopstation.Instrument
		voices  map[int]*voice
		counter int
		rng     *rand.Rand
		scratch []float32
	}

	voice struct {
		note     int
		velocity float64
		freq     float64
		started  int
		env      envelope

		// basic synth
		wave   loopstation.Waveform
		phase  float64
		filter *dsp.Biquad

		// fm synth
		fm                 bool
		carrier, modulator float64 // frequencies in Hz
		modPhase           float64
		index              float64

		sample samplePlayer
		drum   *drumHit
	}
)

// NoteToFrequency converts a MIDI note number to Hz, A4 = 69 = 440 Hz.
func NoteToFrequency(note int) float64 {
	return 440 * math.Exp2(float64(note-69)/12)
}

// New creates an engine playing instr. bank may be nil when the instrument is
// not a sampler.
func New(instr loopstation.Instrument, sampleRate, channels int, bank *Bank, log logrus.FieldLogger) (*Engine, error) {
	if !instr.Kind.Valid() {
		return nil, fmt.Errorf("%w: %v", loopstation.ErrUnknownInstrument, instr.Kind)
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: sample rate and channel count must be positive", loopstation.ErrConfiguration)
	}
	if bank == nil {
		bank = NewBank()
	}
	if instr.Params == nil {
		instr, _ = loopstation.NewInstrument(instr.Kind)
	}
	return &Engine{
		sampleRate: sampleRate,
		channels:   channels,
		bank:       bank,
		log:        loopstation.OrNop(log).WithField("instrument", instr.Kind.String()),
		instr:      instr,
		voices:     map[int]*voice{},
		rng:        rand.New(rand.NewPCG(uint64(instr.Kind), 0x100f)),
	}, nil
}

func (e *Engine) Instrument() loopstation.Instrument {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instr
}

// SetInstrument switches the instrument. Sounding voices are cut.
func (e *Engine) SetInstrument(instr loopstation.Instrument) error {
	if !instr.Kind.Valid() {
		return fmt.Errorf("%w: %v", loopstation.ErrUnknownInstrument, instr.Kind)
	}
	if instr.Params == nil {
		instr, _ = loopstation.NewInstrument(instr.Kind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instr = instr
	clear(e.voices)
	return nil
}

// NoteOn starts a voice for the note with velocity in [0,1]. A voice already
// sounding the note is replaced. Notes the instrument has no sound for are
// ignored.
func (e *Engine) NoteOn(note int, velocity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.newVoice(note, clamp01(velocity))
	if !ok {
		return
	}
	if _, sounding := e.voices[note]; !sounding && len(e.voices) >= MaxVoices {
		e.steal()
	}
	e.counter++
	v.started = e.counter
	e.voices[note] = v
}

// NoteOff releases the voice of the note. Drum hits ring out on their own.
func (e *Engine) NoteOff(note int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.voices[note]; ok && v.drum == nil {
		v.env.noteOff()
	}
}

// AllNotesOff releases every voice.
func (e *Engine) AllNotesOff() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range e.voices {
		v.env.noteOff()
	}
}

func (e *Engine) ActiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.voices)
}

// SetParam updates one instrument parameter. Filter cutoff and resonance,
// the FM modulation index and the drum volumes also change the voices that
// are already sounding; every other parameter applies from the next note on.
func (e *Engine) SetParam(key string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.instr.Params.Set(key, value)
	if err != nil {
		return err
	}
	e.instr.Params = p
	switch p := p.(type) {
	case loopstation.SynthParams:
		if key == "filterCutoff" || key == "filterResonance" {
			for _, v := range e.voices {
				if v.filter != nil {
					v.filter.Set(loopstation.Lowpass, p.FilterCutoff, p.FilterResonance, e.sampleRate)
				}
			}
		}
	case loopstation.FMParams:
		if key == "modulationIndex" {
			for _, v := range e.voices {
				v.index = p.ModulationIndex
			}
		}
	}
	e.log.WithFields(logrus.Fields{"param": key, "value": value}).Debug("updated instrument parameter")
	return nil
}

// Render synthesizes the next frames of all voices into a new buffer, the
// same signal on every channel.
func (e *Engine) Render(frames int) loopstation.AudioBuffer {
	buf := loopstation.NewAudioBuffer(e.channels, frames, e.sampleRate)
	e.RenderAdd(buf)
	return buf
}

// RenderAdd adds the next buf.Len() frames of all voices to buf.
func (e *Engine) RenderAdd(buf loopstation.AudioBuffer) {
	frames := buf.Len()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.voices) == 0 || frames == 0 {
		return
	}
	if cap(e.scratch) < frames {
		e.scratch = make([]float32, frames)
	}
	mono := e.scratch[:frames]
	clear(mono)
	// sorted so that the noise generator is consumed in a fixed order
	notes := make([]int, 0, len(e.voices))
	for n := range e.voices {
		notes = append(notes, n)
	}
	slices.Sort(notes)
	for _, n := range notes {
		v := e.voices[n]
		if !e.renderVoice(v, mono) {
			delete(e.voices, n)
		}
	}
	if p, ok := e.instr.Params.(loopstation.DrumParams); ok && p.Compression > 0 {
		for i, x := range mono {
			mono[i] = float32(compress(float64(x), p.Compression))
		}
	}
	for _, ch := range buf.Channels {
		vek32.Add_Inplace(ch, mono)
	}
}

func (e *Engine) newVoice(note int, velocity float64) (*voice, bool) {
	v := &voice{note: note, velocity: velocity, freq: NoteToFrequency(note)}
	switch p := e.instr.Params.(type) {
	case loopstation.SynthParams:
		v.env = newEnvelope(p.Envelope, velocity, e.sampleRate)
		v.wave = p.Oscillator
		v.filter = dsp.NewBiquad(loopstation.Lowpass, p.FilterCutoff, p.FilterResonance, e.sampleRate)
	case loopstation.FMParams:
		v.env = newEnvelope(p.Envelope, velocity, e.sampleRate)
		v.fm = true
		v.carrier = v.freq * p.CarrierFreq
		v.modulator = v.freq * p.ModulatorFreq
		v.index = p.ModulationIndex
	case loopstation.SamplerParams:
		t, ok := e.bank.get(p.Sample)
		if !ok {
			e.log.WithField("sample", p.Sample).Warn("sample not loaded")
			return nil, false
		}
		if v.sample, ok = newSamplePlayer(t, p, note, e.sampleRate); !ok {
			return nil, false
		}
		v.env = newEnvelope(loopstation.Envelope{Sustain: 1, Release: samplerRelease}, velocity, e.sampleRate)
	case loopstation.DrumParams:
		kind := drumForNote(note)
		if kind == noDrum {
			return nil, false
		}
		d := newDrumHit(kind, p.Kit, note, velocity, e.rng)
		v.drum = &d
	default:
		return nil, false
	}
	return v, true
}

// renderVoice adds the voice to out and reports whether it is still alive.
func (e *Engine) renderVoice(v *voice, out []float32) bool {
	sr := float64(e.sampleRate)
	if v.drum != nil {
		p, _ := e.instr.Params.(loopstation.DrumParams)
		g := v.drum.gain(p)
		for i := range out {
			s, alive := v.drum.next(e.sampleRate)
			out[i] += float32(s * g)
			if !alive {
				return false
			}
		}
		return true
	}
	if v.filter != nil {
		// the filter runs on the oscillator before the envelope
		osc := make([]float32, len(out))
		for i := range osc {
			osc[i] = float32(oscillator(v.wave, v.phase))
			v.phase = math.Mod(v.phase+v.freq/sr, 1)
		}
		v.filter.Process(osc)
		for i := range out {
			out[i] += osc[i] * float32(v.env.next())
			if v.env.done() {
				return false
			}
		}
		return true
	}
	for i := range out {
		var s float64
		if v.fm {
			s = math.Sin(2*math.Pi*v.phase + v.index*math.Sin(2*math.Pi*v.modPhase))
			v.phase = math.Mod(v.phase+v.carrier/sr, 1)
			v.modPhase = math.Mod(v.modPhase+v.modulator/sr, 1)
		} else {
			s = float64(v.sample.next())
		}
		out[i] += float32(s * v.env.next())
		if v.env.done() || v.sample.finished {
			return false
		}
	}
	return true
}

// steal drops the oldest released voice, or the oldest voice if none is
// released.
func (e *Engine) steal() {
	victim, best := -1, math.MaxInt
	for n, v := range e.voices {
		score := v.started
		if v.env.stage == envRelease {
			score -= e.counter
		}
		if score < best {
			victim, best = n, score
		}
	}
	delete(e.voices, victim)
}

// oscillator evaluates a naive waveform at phase in [0,1).
func oscillator(w loopstation.Waveform, phase float64) float64 {
	switch w {
	case loopstation.Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case loopstation.Sawtooth:
		return 2*phase - 1
	case loopstation.Triangle:
		return 1 - 4*math.Abs(phase-0.5)
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}
