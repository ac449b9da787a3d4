// Package looper ties the looper together: it owns the tracks, mixes their
// recordings and instruments into the scheduler's buffers, and turns touch
// gestures and MIDI messages into transport operations.
package looper

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/viterin/vek/vek32"
	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/chain"
	"github.com/vsariola/loopstation/config"
	"github.com/vsariola/loopstation/gesture"
	lsmidi "github.com/vsariola/loopstation/midi"
	"github.com/vsariola/loopstation/preset"
	"github.com/vsariola/loopstation/transport"
	"github.com/vsariola/loopstation/voice"
	"gitlab.com/gomidi/midi/v2"
)

type (
	Options struct {
		Clock       loopstation.Clock
		Log         logrus.FieldLogger
		Permissions transport.Permissions
		Bank        *voice.Bank
		Broker      *Broker
		Metrics     *Metrics
	}

	// Looper is safe for concurrent use. Fill runs on the scheduler's
	// goroutines while the touch, MIDI and transport events are handled by
	// Run.
	Looper struct {
		cfg      config.Config
		clock    loopstation.Clock
		log      logrus.FieldLogger
		broker   *Broker
		engine   *transport.Engine
		router   *lsmidi.Router
		metrics  *Metrics
		bank     *voice.Bank
		bindings gesture.Bindings
		mappings string // where learned midi mappings are saved, "" to not save

		mu       sync.Mutex
		tracks   map[int]*trackState
		selected int
		bpm      float64
		input    func(buf loopstation.AudioBuffer)
		seq      sequencer
	}

	trackState struct {
		id        int
		deck      *transport.WavDeck
		processor *chain.Processor // the in-flight guard is per track
		chain     *chain.Chain
		detector  *gesture.Detector

		mu         sync.Mutex
		voices     *voice.Engine
		loaded     string // recording currently loaded into the chain
		loopFrames int    // 0 plays the whole recording
		seqNote    int    // note held by the sequencer, -1 if none
	}

	sequencer struct {
		running bool
		gen     int
		step    int
		timer   loopstation.Timer
	}
)

const (
	masterGain       = 0.8
	sequencerVel     = 0.8
	drumSequencerKey = 36
	minLoopFrames    = 64
)

// New creates a looper with cfg.Tracks.Count tracks. Recordings go to the
// configured recording directory.
func New(cfg config.Config, opts Options) (*Looper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bindings, err := cfg.Bindings()
	if err != nil {
		return nil, err
	}
	dir, err := cfg.RecordingDir()
	if err != nil {
		return nil, err
	}
	namer, err := transport.NewNamer(dir, cfg.Recording.NameTemplate, "wav")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", loopstation.ErrConfiguration, err)
	}
	if opts.Clock == nil {
		opts.Clock = loopstation.SystemClock{}
	}
	if opts.Broker == nil {
		opts.Broker = NewBroker()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(opts.Clock)
	}
	if opts.Bank == nil {
		opts.Bank = voice.NewDefaultBank(cfg.Audio.SampleRate)
	}
	log := loopstation.OrNop(opts.Log)
	l := &Looper{
		cfg:      cfg,
		clock:    opts.Clock,
		log:      log,
		broker:   opts.Broker,
		router:   lsmidi.NewRouter(log.WithField("component", "midi")),
		metrics:  opts.Metrics,
		bank:     opts.Bank,
		bindings: bindings,
		tracks:   map[int]*trackState{},
		bpm:      cfg.Transport.BPM,
	}
	tcfg := transport.Config{MasterStagger: cfg.Transport.MasterStagger, LoopTolerance: cfg.Transport.LoopTolerance}
	l.engine = transport.NewEngine(tcfg, namer, l.newDeck, opts.Permissions, opts.Clock, log.WithField("component", "transport"))
	l.router.SetNoteHandler(l.handleNote)
	l.registerControls("master", map[string]func(float64){
		"play": func(v float64) {
			if v > 0 {
				l.ToggleMasterPlayback()
			}
		},
		"record": func(v float64) {
			if v > 0 {
				l.ToggleRecording(l.Selected())
			}
		},
	})
	l.mu.Lock()
	for i := range cfg.Tracks.Count {
		l.addTrack(i)
	}
	l.mu.Unlock()
	return l, nil
}

// LoadMappings restores the learned midi mappings from path and saves every
// later learned mapping there.
func (l *Looper) LoadMappings(path string) error {
	m, err := lsmidi.LoadMappings(path)
	if err != nil {
		return err
	}
	l.router.SetMappings(m)
	l.mu.Lock()
	l.mappings = path
	l.mu.Unlock()
	return nil
}

func (l *Looper) Broker() *Broker             { return l.broker }
func (l *Looper) Engine() *transport.Engine   { return l.engine }
func (l *Looper) Router() *lsmidi.Router      { return l.router }
func (l *Looper) Metrics() *Metrics           { return l.metrics }
func (l *Looper) Tracks() []loopstation.Track { return l.engine.Tracks() }
func (l *Looper) Bindings() gesture.Bindings  { return l.bindings }
func (l *Looper) SetBindings(b gesture.Bindings) error {
	if err := b.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.bindings = b
	l.mu.Unlock()
	return nil
}

// AddTrack appends a new track and returns its id.
func (l *Looper) AddTrack() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := 0
	for l.tracks[id] != nil {
		id++
	}
	l.addTrack(id)
	return id
}

// addTrack must be called with mu held.
func (l *Looper) addTrack(id int) {
	processor := chain.NewProcessor(l.cfg.Audio.Workers, l.log.WithFields(logrus.Fields{"component": "chain", "track": id}))
	processor.SetObserver(l.metrics)
	ts := &trackState{
		id:        id,
		processor: processor,
		chain:     chain.New(processor, l.log.WithField("track", id)),
		seqNote:   -1,
	}
	ts.chain.SetTempo(l.bpm)
	ts.detector = gesture.NewDetector(l.cfg.GestureConfig(), id, l.clock, l.broker.Gestures)
	l.tracks[id] = ts
	l.engine.AddTrack(id, l.cfg.TrackColor(id))
	l.engine.SetActive(id, true)
	prefix := fmt.Sprintf("track%d", id)
	l.registerControls(prefix, map[string]func(float64){
		"record": func(v float64) {
			if v > 0 {
				l.ToggleRecording(id)
			}
		},
		"play": func(v float64) {
			if v > 0 {
				l.TogglePlayback(id)
			}
		},
		"erase": func(v float64) {
			if v > 0 {
				l.Erase(id)
			}
		},
		"volume": func(v float64) { l.SetVolume(id, v) },
	})
}

// newDeck is the engine's deck factory. The engine calls it from AddTrack,
// which only happens with mu held.
func (l *Looper) newDeck(id int, progress chan<- transport.Progress) transport.Deck {
	d := transport.NewWavDeck(id, l.cfg.Audio.SampleRate, l.cfg.Audio.Channels, progress, l.log)
	l.tracks[id].deck = d
	return d
}

func (l *Looper) registerControls(prefix string, controls map[string]func(float64)) {
	for name, f := range controls {
		l.router.Register(lsmidi.ControlID(prefix+"."+name), f)
	}
}

// Detector returns the gesture detector of the track, to be fed with the
// raw touches made on it.
func (l *Looper) Detector(id int) (*gesture.Detector, bool) {
	ts, ok := l.track(id)
	if !ok {
		return nil, false
	}
	return ts.detector, true
}

// Processor returns the effect processor of the track.
func (l *Looper) Processor(id int) (*chain.Processor, bool) {
	ts, ok := l.track(id)
	if !ok {
		return nil, false
	}
	return ts.processor, true
}

func (l *Looper) track(id int) (*trackState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts, ok := l.tracks[id]
	return ts, ok
}

func (l *Looper) Selected() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}

func (l *Looper) Select(id int) {
	if _, ok := l.track(id); !ok {
		l.logError(id, "select", loopstation.ErrUnknownTrack)
		return
	}
	l.mu.Lock()
	l.selected = id
	l.mu.Unlock()
	TrySend(l.broker.ToUI, Event{Kind: EventTrackSelected, Track: id})
}

// SetInput sets the function that fills the block being recorded, e.g. from
// a microphone. Without an input only the instrument of the track is
// recorded.
func (l *Looper) SetInput(f func(buf loopstation.AudioBuffer)) {
	l.mu.Lock()
	l.input = f
	l.mu.Unlock()
}

func (l *Looper) BPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bpm
}

// SetBPM changes the tempo of quantized recording, tempo-synced effects and
// the sequencer.
func (l *Looper) SetBPM(bpm float64) error {
	if bpm <= 0 {
		return fmt.Errorf("%w: tempo must be positive, got %v", loopstation.ErrConfiguration, bpm)
	}
	l.mu.Lock()
	l.bpm = bpm
	tracks := l.sortedTracks()
	l.mu.Unlock()
	for _, ts := range tracks {
		ts.chain.SetTempo(bpm)
	}
	l.log.WithField("bpm", bpm).Info("changed tempo")
	return nil
}

func (l *Looper) recordOptions() transport.RecordOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return transport.RecordOptions{
		BPM:             l.bpm,
		BeatsPerMeasure: l.cfg.Transport.BeatsPerMeasure,
		Quantize:        l.cfg.Transport.Quantize,
		CountIn:         l.cfg.Transport.CountIn,
	}
}

// ToggleRecording starts recording on an idle or playing track, and stops
// it on a track that is recording or waiting to record.
func (l *Looper) ToggleRecording(id int) {
	t, ok := l.engine.Track(id)
	if !ok {
		l.logError(id, "record", loopstation.ErrUnknownTrack)
		return
	}
	if t.Recording {
		l.logError(id, "stop recording", l.engine.StopRecording(id))
		return
	}
	_, err := l.engine.StartRecording(id, l.recordOptions())
	l.logError(id, "start recording", err)
}

// TogglePlayback stops a playing track, finishes a recording, or starts
// playing the recording of the track.
func (l *Looper) TogglePlayback(id int) {
	t, ok := l.engine.Track(id)
	if !ok {
		l.logError(id, "play", loopstation.ErrUnknownTrack)
		return
	}
	switch {
	case t.Playing:
		l.logError(id, "stop playback", l.engine.StopPlayback(id))
	case t.Recording:
		l.logError(id, "stop recording", l.engine.StopRecording(id))
	default:
		if err := l.engine.StartPlayback(id); err != nil {
			l.logError(id, "start playback", err)
			return
		}
		l.syncChain(id)
	}
}

// syncChain loads the recording the deck of the track is playing into its
// effect chain.
func (l *Looper) syncChain(id int) {
	ts, ok := l.track(id)
	if !ok {
		return
	}
	t, ok := l.engine.Track(id)
	if !ok {
		return
	}
	if src, playing := ts.deck.Source(); playing {
		l.ensureLoaded(ts, t.FilePath, src)
	}
}

// ToggleMasterPlayback starts or stops every active track.
func (l *Looper) ToggleMasterPlayback() {
	if l.engine.MasterPlaying() {
		l.engine.StopMasterPlayback()
		return
	}
	l.engine.StartMasterPlayback()
}

// Erase deletes the recording of the track and forgets its loop length.
func (l *Looper) Erase(id int) {
	ts, ok := l.track(id)
	if !ok {
		l.logError(id, "erase", loopstation.ErrUnknownTrack)
		return
	}
	if err := l.engine.EraseTrack(id); err != nil {
		l.logError(id, "erase", err)
		return
	}
	ts.mu.Lock()
	ts.loaded = ""
	ts.loopFrames = 0
	ts.mu.Unlock()
	ts.chain.Unload()
}

func (l *Looper) SetVolume(id int, level float64) {
	ts, ok := l.track(id)
	if !ok {
		l.logError(id, "volume", loopstation.ErrUnknownTrack)
		return
	}
	l.logError(id, "volume", ts.deck.SetVolume(level))
}

// LoopFrames returns the length of the loop of the track in frames; 0 means
// the whole recording.
func (l *Looper) LoopFrames(id int) int {
	ts, ok := l.track(id)
	if !ok {
		return 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.loopFrames
}

// HalveLoop plays only the first half of the current loop.
func (l *Looper) HalveLoop(id int) {
	l.resizeLoop(id, func(n int) int { return max(n/2, minLoopFrames) })
}

// DoubleLoop doubles the current loop, up to the length of the recording.
func (l *Looper) DoubleLoop(id int) {
	l.resizeLoop(id, func(n int) int { return n * 2 })
}

func (l *Looper) resizeLoop(id int, f func(int) int) {
	ts, ok := l.track(id)
	if !ok {
		l.logError(id, "resize loop", loopstation.ErrUnknownTrack)
		return
	}
	total := ts.chain.Frames()
	if total == 0 {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	n := ts.loopFrames
	if n == 0 {
		n = total
	}
	n = min(f(n), total)
	if n == total {
		n = 0
	}
	ts.loopFrames = n
	l.log.WithFields(logrus.Fields{"track": id, "frames": n}).Debug("resized loop")
}

// SetInstrument assigns a new default instrument of the kind to the track.
func (l *Looper) SetInstrument(id int, kind loopstation.InstrumentKind) error {
	instr, err := loopstation.NewInstrument(kind)
	if err != nil {
		return err
	}
	return l.SetInstrumentValue(id, instr)
}

func (l *Looper) SetInstrumentValue(id int, instr loopstation.Instrument) error {
	ts, ok := l.track(id)
	if !ok {
		return fmt.Errorf("%w: %d", loopstation.ErrUnknownTrack, id)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.voices == nil {
		v, err := voice.New(instr, l.cfg.Audio.SampleRate, l.cfg.Audio.Channels, l.bank, l.log.WithField("track", id))
		if err != nil {
			return err
		}
		ts.voices = v
	} else if err := ts.voices.SetInstrument(instr); err != nil {
		return err
	}
	ts.seqNote = -1
	stored := ts.voices.Instrument()
	l.engine.SetInstrument(id, &stored)
	return nil
}

// ClearInstrument removes the instrument of the track.
func (l *Looper) ClearInstrument(id int) {
	ts, ok := l.track(id)
	if !ok {
		return
	}
	ts.mu.Lock()
	ts.voices = nil
	ts.seqNote = -1
	ts.mu.Unlock()
	l.engine.SetInstrument(id, nil)
}

func (l *Looper) SetInstrumentParam(id int, key string, value any) error {
	ts, ok := l.track(id)
	if !ok {
		return fmt.Errorf("%w: %d", loopstation.ErrUnknownTrack, id)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.voices == nil {
		return fmt.Errorf("%w: track %d has no instrument", loopstation.ErrUnknownInstrument, id)
	}
	if err := ts.voices.SetParam(key, value); err != nil {
		return err
	}
	stored := ts.voices.Instrument()
	l.engine.SetInstrument(id, &stored)
	return nil
}

// NoteOn plays a note on the instrument of the track. Tracks without an
// instrument ignore it.
func (l *Looper) NoteOn(id, note int, velocity float64) {
	if v := l.voices(id); v != nil {
		v.NoteOn(note, velocity)
	}
}

func (l *Looper) NoteOff(id, note int) {
	if v := l.voices(id); v != nil {
		v.NoteOff(note)
	}
}

func (l *Looper) voices(id int) *voice.Engine {
	ts, ok := l.track(id)
	if !ok {
		return nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.voices
}

// ToggleEffect enables or bypasses the effect of the kind on the track,
// adding it with default parameters if the track has none.
func (l *Looper) ToggleEffect(id int, kind loopstation.EffectKind) error {
	return l.withChain(id, func(c *chain.Chain) error {
		if !kind.Valid() {
			return fmt.Errorf("%w: %v", loopstation.ErrUnknownEffect, kind)
		}
		c.Toggle(kind)
		return nil
	})
}

func (l *Looper) UpdateEffectParam(id int, kind loopstation.EffectKind, key string, value any) error {
	return l.withChain(id, func(c *chain.Chain) error {
		return c.UpdateParam(kind, key, value)
	})
}

func (l *Looper) RemoveEffect(id int, kind loopstation.EffectKind) error {
	return l.withChain(id, func(c *chain.Chain) error {
		c.Remove(kind)
		return nil
	})
}

func (l *Looper) SetEffects(id int, effects []loopstation.Effect) error {
	return l.withChain(id, func(c *chain.Chain) error {
		c.SetChain(effects)
		return nil
	})
}

// ApplyPreset replaces the effects of the track with those of the preset,
// and its instrument if the preset has one.
func (l *Looper) ApplyPreset(id int, p preset.Preset) error {
	if p.Effects != nil {
		if err := l.SetEffects(id, p.Effects); err != nil {
			return err
		}
	}
	if p.Instrument != nil {
		return l.SetInstrumentValue(id, *p.Instrument)
	}
	return nil
}

func (l *Looper) withChain(id int, f func(c *chain.Chain) error) error {
	ts, ok := l.track(id)
	if !ok {
		return fmt.Errorf("%w: %d", loopstation.ErrUnknownTrack, id)
	}
	if err := f(ts.chain); err != nil {
		return err
	}
	l.engine.SetEffects(id, ts.chain.Effects())
	return nil
}

// Fill renders the next block: the playing recordings through their effect
// chains and the instruments of all tracks, scaled by the master gain. The
// block is also fed to the recorders of the tracks that are recording.
func (l *Looper) Fill(buf loopstation.AudioBuffer) {
	start := time.Now()
	frames := buf.Len()
	l.mu.Lock()
	tracks := l.sortedTracks()
	input := l.input
	l.mu.Unlock()
	var in *loopstation.AudioBuffer
	if input != nil {
		in = l.broker.GetAudioBuffer(buf.NumChannels(), frames, buf.SampleRate)
		defer l.broker.PutAudioBuffer(in)
		input(*in)
	}
	raw := l.broker.GetAudioBuffer(buf.NumChannels(), frames, buf.SampleRate)
	defer l.broker.PutAudioBuffer(raw)
	for _, ts := range tracks {
		t, ok := l.engine.Track(ts.id)
		if !ok {
			continue
		}
		raw.Clear()
		l.mixTrack(ts, t, buf, *raw)
		if t.State == loopstation.Recording {
			if in != nil {
				for ch := range raw.Channels {
					vek32.Add_Inplace(raw.Channels[ch], in.Channels[ch])
				}
			}
			if err := ts.deck.Capture(*raw); err != nil && !errors.Is(err, transport.ErrDeckIdle) {
				l.logError(ts.id, "capture", err)
			}
		}
	}
	for _, ch := range buf.Channels {
		vek32.MulNumber_Inplace(ch, masterGain)
	}
	l.metrics.BlockRendered(time.Since(start), buf.Duration())
}

// mixTrack adds the recording and the processed instrument of the track to
// buf, leaving the unprocessed instrument output in raw.
func (l *Looper) mixTrack(ts *trackState, t loopstation.Track, buf, raw loopstation.AudioBuffer) {
	ts.mu.Lock()
	voices := ts.voices
	loopFrames := ts.loopFrames
	ts.mu.Unlock()
	if src, playing := ts.deck.Source(); playing {
		l.ensureLoaded(ts, t.FilePath, src)
		if ts.chain.MixInto(buf, ts.deck.Playhead(), loopFrames, float32(ts.deck.Volume())) {
			ts.deck.Advance(buf.Len())
		}
	}
	if voices == nil || voices.ActiveVoices() == 0 {
		return
	}
	voices.RenderAdd(raw)
	out, err := ts.chain.Process(context.Background(), raw)
	if err != nil && !errors.Is(err, loopstation.ErrProcessingSkipped) {
		l.logError(ts.id, "process instrument", err)
	}
	for ch := range buf.Channels {
		vek32.Add_Inplace(buf.Channels[ch], out.Channels[ch])
	}
}

// ensureLoaded loads the recording at path into the chain of the track
// unless it is already there.
func (l *Looper) ensureLoaded(ts *trackState, path string, src loopstation.AudioBuffer) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if path == "" || ts.loaded == path {
		return
	}
	ts.chain.Load(src)
	ts.loaded = path
	ts.loopFrames = 0
	l.log.WithFields(logrus.Fields{"track": ts.id, "path": path}).Debug("loaded recording into effect chain")
}

// HandleGesture performs the action bound to the gesture.
func (l *Looper) HandleGesture(e gesture.Event) {
	l.mu.Lock()
	action := l.bindings[e.Kind]
	l.mu.Unlock()
	l.log.WithFields(logrus.Fields{"track": e.Target, "gesture": e.Kind, "action": action}).Debug("gesture")
	switch action {
	case gesture.Select:
		l.Select(e.Target)
	case gesture.PlayStop:
		l.TogglePlayback(e.Target)
	case gesture.Record:
		l.ToggleRecording(e.Target)
	case gesture.Erase:
		l.Erase(e.Target)
	case gesture.Menu:
		TrySend(l.broker.ToUI, Event{Kind: EventMenu, Track: e.Target})
	case gesture.ShowInstr:
		TrySend(l.broker.ToUI, Event{Kind: EventInstrument, Track: e.Target})
	case gesture.HalfLength:
		l.HalveLoop(e.Target)
	case gesture.DoubleLength:
		l.DoubleLoop(e.Target)
	}
}

// HandleMIDI dispatches a message to the learned controls; notes play the
// instrument of the selected track.
func (l *Looper) HandleMIDI(msg midi.Message) {
	l.router.Handle(msg)
}

func (l *Looper) handleNote(e lsmidi.Event) {
	id := l.Selected()
	switch e.Kind {
	case lsmidi.NoteOn:
		l.NoteOn(id, int(e.Data1), e.Value())
	case lsmidi.NoteOff:
		l.NoteOff(id, int(e.Data1))
	}
}

// LearnControl binds the next note or controller message to the control.
func (l *Looper) LearnControl(id lsmidi.ControlID) {
	l.router.StartLearning(id, func(m lsmidi.Mapping) {
		l.mu.Lock()
		path := l.mappings
		l.mu.Unlock()
		if path != "" {
			if err := lsmidi.SaveMappings(path, l.router.Mappings()); err != nil {
				l.log.WithError(err).WithField("path", path).Error("could not save midi mappings")
			}
		}
		TrySend(l.broker.ToUI, Event{Kind: EventLearned, Target: string(id), Data: m})
	})
}

func (l *Looper) handleChange(t loopstation.Track) {
	if t.FilePath == "" {
		if ts, ok := l.track(t.ID); ok {
			ts.mu.Lock()
			unload := ts.loaded != ""
			ts.loaded = ""
			ts.mu.Unlock()
			if unload {
				ts.chain.Unload()
			}
		}
	}
	if t.State == loopstation.Playing {
		l.syncChain(t.ID)
	}
	TrySend(l.broker.ToUI, Event{Kind: EventTrackChanged, Track: t.ID, Data: t})
}

// Run handles MIDI messages, gestures and transport events until ctx is done
// or the looper is closed through the broker. Recordings in progress are
// finished before Run returns.
func (l *Looper) Run(ctx context.Context) {
	defer close(l.broker.FinishedLooper)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.engine.Run(ctx)
	defer l.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.broker.CloseLooper:
			return
		case msg := <-l.broker.MIDI:
			l.HandleMIDI(msg)
		case e := <-l.broker.Gestures:
			l.HandleGesture(e)
		case t := <-l.engine.Changes():
			l.handleChange(t)
		}
	}
}

func (l *Looper) shutdown() {
	l.StopSequencer()
	for _, t := range l.engine.Tracks() {
		if t.Recording {
			l.logError(t.ID, "stop recording", l.engine.StopRecording(t.ID))
		}
	}
	l.engine.StopMasterPlayback()
	l.log.Info("looper stopped")
}

// sortedTracks must be called with mu held.
func (l *Looper) sortedTracks() []*trackState {
	ret := make([]*trackState, 0, len(l.tracks))
	for _, ts := range l.tracks {
		ret = append(ret, ts)
	}
	slices.SortFunc(ret, func(a, b *trackState) int { return a.id - b.id })
	return ret
}

// logError logs a failed operation. UI-facing operations never fail loudly:
// the engines have already put the track back into a safe state.
func (l *Looper) logError(id int, op string, err error) {
	if err == nil {
		return
	}
	entry := l.log.WithFields(logrus.Fields{"track": id, "op": op}).WithError(err)
	if errors.Is(err, loopstation.ErrUnknownTrack) || errors.Is(err, loopstation.ErrTrackBusy) {
		entry.Warn("operation ignored")
		return
	}
	entry.Error("operation failed")
}
