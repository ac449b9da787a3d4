package looper_test

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/config"
	"github.com/vsariola/loopstation/dsp"
	"github.com/vsariola/loopstation/gesture"
	"github.com/vsariola/loopstation/internal/fakeclock"
	"github.com/vsariola/loopstation/looper"
	"github.com/vsariola/loopstation/preset"
	"github.com/vsariola/loopstation/voice"
	"gitlab.com/gomidi/midi/v2"
)

const (
	sampleRate = 8000
	blockSize  = 800
)

func newLooper(t *testing.T) (*looper.Looper, *fakeclock.Clock) {
	t.Helper()
	return newLooperWithBlocks(t, blockSize)
}

func newLooperWithBlocks(t *testing.T, frames int) (*looper.Looper, *fakeclock.Clock) {
	t.Helper()
	cfg := config.Default()
	cfg.Audio.SampleRate = sampleRate
	cfg.Audio.BufferSize = frames
	cfg.Audio.Channels = 1
	cfg.Audio.Workers = 1
	cfg.Tracks.Count = 2
	cfg.Transport.Quantize = false
	cfg.Recording.Directory = t.TempDir()
	clock := fakeclock.New()
	l, err := looper.New(cfg, looper.Options{Clock: clock, Bank: voice.NewBank()})
	if err != nil {
		t.Fatalf("could not create looper: %v", err)
	}
	return l, clock
}

func fill(l *looper.Looper) loopstation.AudioBuffer {
	buf := loopstation.NewAudioBuffer(1, blockSize, sampleRate)
	l.Fill(buf)
	return buf
}

func constantInput(level float32) func(loopstation.AudioBuffer) {
	return func(buf loopstation.AudioBuffer) {
		for _, ch := range buf.Channels {
			for i := range ch {
				ch[i] = level
			}
		}
	}
}

func expectLevel(t *testing.T, buf loopstation.AudioBuffer, want float64) {
	t.Helper()
	for i, x := range buf.Channels[0] {
		if math.Abs(float64(x)-want) > 1e-3 {
			t.Fatalf("sample %d is %v, want %v", i, x, want)
		}
	}
}

func peak(buf loopstation.AudioBuffer) float64 {
	var ret float64
	for _, ch := range buf.Channels {
		for _, x := range ch {
			ret = max(ret, math.Abs(float64(x)))
		}
	}
	return ret
}

// recordSecond records one second of a constant 0.5 on the track and starts
// playing it back.
func recordSecond(t *testing.T, l *looper.Looper, id int) loopstation.Track {
	t.Helper()
	l.SetInput(constantInput(0.5))
	l.ToggleRecording(id)
	if tr, _ := l.Engine().Track(id); tr.State != loopstation.Recording {
		t.Fatalf("track %d is %v, want recording", id, tr.State)
	}
	for range sampleRate / blockSize {
		if p := peak(fill(l)); p != 0 {
			t.Fatalf("input should not be monitored, got peak %v", p)
		}
	}
	l.ToggleRecording(id)
	l.SetInput(nil)
	tr, _ := l.Engine().Track(id)
	if tr.FilePath == "" || tr.Duration != time.Second {
		t.Fatalf("recording not finished: %+v", tr)
	}
	l.TogglePlayback(id)
	if tr, _ = l.Engine().Track(id); !tr.Playing {
		t.Fatalf("track %d not playing: %+v", id, tr)
	}
	return tr
}

func TestRecordAndPlayBack(t *testing.T) {
	l, _ := newLooper(t)
	recordSecond(t, l, 0)
	expectLevel(t, fill(l), 0.5*0.8)
	if r := l.Metrics().Report(100 * time.Millisecond); r.Blocks != 11 {
		t.Fatalf("%d blocks rendered, want 11", r.Blocks)
	}
	l.TogglePlayback(0)
	expectLevel(t, fill(l), 0)
}

func TestLoopPeriodMatchesRecording(t *testing.T) {
	// 5 ms blocks, shorter than the loop tolerance
	const frames, blocks = 40, 20
	l, _ := newLooperWithBlocks(t, frames)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Engine().Run(ctx)
	level := func(k int) float32 { return float32(k+1) / 40 }
	k := 0
	l.SetInput(func(buf loopstation.AudioBuffer) {
		constantInput(level(k))(buf)
		k++
	})
	l.ToggleRecording(0)
	for range blocks {
		l.Fill(loopstation.NewAudioBuffer(1, frames, sampleRate))
	}
	l.ToggleRecording(0)
	l.SetInput(nil)
	l.TogglePlayback(0)
	for i := range 3 * blocks {
		buf := loopstation.NewAudioBuffer(1, frames, sampleRate)
		l.Fill(buf)
		want := float64(level(i%blocks)) * 0.8
		for j, x := range buf.Channels[0] {
			if math.Abs(float64(x)-want) > 1e-3 {
				t.Fatalf("block %d sample %d is %v, want %v (block %d of the recording)", i, j, x, want, i%blocks)
			}
		}
	}
}

func TestEffectsApplyToPlayback(t *testing.T) {
	l, _ := newLooper(t)
	recordSecond(t, l, 0)
	if err := l.ToggleEffect(0, loopstation.Distortion); err != nil {
		t.Fatal(err)
	}
	// (1+k)x/(1+k|x|) with k = 30
	expectLevel(t, fill(l), 31*0.5/16*0.8)
	tr, _ := l.Engine().Track(0)
	if len(tr.Effects) != 1 || !tr.Effects[0].Enabled {
		t.Fatalf("track effects not updated: %+v", tr.Effects)
	}
	if err := l.ToggleEffect(0, loopstation.Distortion); err != nil {
		t.Fatal(err)
	}
	expectLevel(t, fill(l), 0.4)
	if err := l.UpdateEffectParam(0, loopstation.Distortion, "nonsense", 1); !errors.Is(err, loopstation.ErrUnknownParam) {
		t.Fatalf("expected ErrUnknownParam, got %v", err)
	}
	if err := l.ToggleEffect(7, loopstation.Reverb); !errors.Is(err, loopstation.ErrUnknownTrack) {
		t.Fatalf("expected ErrUnknownTrack, got %v", err)
	}
}

func TestApplyPreset(t *testing.T) {
	l, _ := newLooper(t)
	presets := preset.Load("")
	p, ok := presets.Find("Lo-Fi Crush")
	if !ok {
		t.Fatal("preset not found")
	}
	if err := l.ApplyPreset(1, p); err != nil {
		t.Fatal(err)
	}
	tr, _ := l.Engine().Track(1)
	if len(tr.Effects) != len(p.Effects) || tr.Effects[0].Kind != loopstation.Bitcrusher {
		t.Fatalf("preset not applied: %+v", tr.Effects)
	}
}

func TestVolumeControlAndLearning(t *testing.T) {
	l, _ := newLooper(t)
	recordSecond(t, l, 0)
	l.LearnControl("track0.volume")
	l.HandleMIDI(midi.Message{0xB0, 7, 64})
	if got := l.Router().Mappings()["track0.volume"]; got.Number != 7 || got.Channel != 0 {
		t.Fatalf("learned mapping %+v", got)
	}
	select {
	case e := <-l.Broker().ToUI:
		for e.Kind != looper.EventLearned {
			e = <-l.Broker().ToUI
		}
		if e.Target != "track0.volume" {
			t.Fatalf("learned event for %q", e.Target)
		}
	default:
		t.Fatal("no events")
	}
	l.HandleMIDI(midi.Message{0xB0, 7, 0})
	expectLevel(t, fill(l), 0)
	l.HandleMIDI(midi.Message{0xB0, 7, 127})
	expectLevel(t, fill(l), 0.4)
}

func TestMappingsArePersisted(t *testing.T) {
	l, _ := newLooper(t)
	path := t.TempDir() + "/midi.yml"
	if err := l.LoadMappings(path); err != nil {
		t.Fatal(err)
	}
	l.LearnControl("master.play")
	l.HandleMIDI(midi.Message{0x99, 36, 100})
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("mappings not saved: %v", err)
	}
	l2, _ := newLooper(t)
	if err := l2.LoadMappings(path); err != nil {
		t.Fatal(err)
	}
	if m := l2.Router().Mappings()["master.play"]; m.Number != 36 || m.Channel != 9 {
		t.Fatalf("loaded mapping %+v", m)
	}
}

func TestMIDINotesPlaySelectedTrack(t *testing.T) {
	l, _ := newLooper(t)
	l.HandleMIDI(midi.Message{0x90, 60, 100})
	if p := peak(fill(l)); p != 0 {
		t.Fatalf("track without instrument made sound, peak %v", p)
	}
	l.Select(1)
	if err := l.SetInstrument(1, loopstation.BasicSynth); err != nil {
		t.Fatal(err)
	}
	l.HandleMIDI(midi.Message{0x90, 60, 100})
	if p := peak(fill(l)); p == 0 {
		t.Fatal("note on the selected track is silent")
	}
	l.HandleMIDI(midi.Message{0x80, 60, 0})
	for range 5 { // release is 0.3 s
		fill(l)
	}
	if p := peak(fill(l)); p != 0 {
		t.Fatalf("released note still sounding, peak %v", p)
	}
}

func TestInstrumentParams(t *testing.T) {
	l, _ := newLooper(t)
	if err := l.SetInstrumentParam(0, "filterCutoff", 500.0); !errors.Is(err, loopstation.ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
	if err := l.SetInstrument(0, loopstation.FMSynth); err != nil {
		t.Fatal(err)
	}
	if err := l.SetInstrumentParam(0, "modulationIndex", 2.0); err != nil {
		t.Fatal(err)
	}
	tr, _ := l.Engine().Track(0)
	if p, ok := tr.Instrument.Params.(loopstation.FMParams); !ok || p.ModulationIndex != 2 {
		t.Fatalf("track instrument %+v", tr.Instrument)
	}
	l.ClearInstrument(0)
	if tr, _ = l.Engine().Track(0); tr.Instrument != nil {
		t.Fatal("instrument not cleared")
	}
}

func TestGestureActions(t *testing.T) {
	l, clock := newLooper(t)
	recordSecond(t, l, 0)
	d, ok := l.Detector(1)
	if !ok {
		t.Fatal("no detector")
	}
	d.TouchStart(10, 10)
	d.TouchEnd()
	clock.Advance(time.Second)
	e := <-l.Broker().Gestures
	if e.Kind != gesture.SingleTap || e.Target != 1 {
		t.Fatalf("gesture %+v", e)
	}
	l.HandleGesture(e)
	if l.Selected() != 1 {
		t.Fatalf("selected %d, want 1", l.Selected())
	}

	l.HandleGesture(gesture.Event{Kind: gesture.SwipeLeft, Target: 0})
	if n := l.LoopFrames(0); n != sampleRate/2 {
		t.Fatalf("loop %d frames after halving, want %d", n, sampleRate/2)
	}
	l.HandleGesture(gesture.Event{Kind: gesture.SwipeRight, Target: 0})
	if n := l.LoopFrames(0); n != 0 {
		t.Fatalf("loop %d frames after doubling back, want the whole recording", n)
	}

	l.HandleGesture(gesture.Event{Kind: gesture.LongPress, Target: 0})
	found := false
	for !found {
		select {
		case ev := <-l.Broker().ToUI:
			found = ev.Kind == looper.EventMenu && ev.Track == 0
		default:
			t.Fatal("menu event not sent")
		}
	}

	l.HandleGesture(gesture.Event{Kind: gesture.DoubleTap, Target: 0})
	if tr, _ := l.Engine().Track(0); tr.Playing {
		t.Fatal("double tap did not stop playback")
	}
}

func TestEraseGesture(t *testing.T) {
	l, _ := newLooper(t)
	b := gesture.DefaultBindings()
	b[gesture.SwipeLeft] = gesture.Erase
	if err := l.SetBindings(b); err != nil {
		t.Fatal(err)
	}
	tr := recordSecond(t, l, 0)
	l.HandleGesture(gesture.Event{Kind: gesture.SwipeLeft, Target: 0})
	if _, err := os.Stat(tr.FilePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("recording not deleted: %v", err)
	}
	expectLevel(t, fill(l), 0)
	if err := l.SetBindings(gesture.Bindings{gesture.SwipeLeft: "explode"}); !errors.Is(err, loopstation.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestSequencer(t *testing.T) {
	l, clock := newLooper(t)
	if err := l.SetInstrument(1, loopstation.BasicSynth); err != nil {
		t.Fatal(err)
	}
	l.ToggleStep(1, 2)
	l.StartSequencer()
	if p := peak(fill(l)); p != 0 {
		t.Fatalf("step 0 is not set but peak is %v", p)
	}
	clock.Advance(2 * looper.StepDuration(120))
	if p := peak(fill(l)); p == 0 {
		t.Fatal("step 2 did not play")
	}
	clock.Advance(13 * looper.StepDuration(120))
	var steps []int
	for len(l.Broker().ToUI) > 0 {
		if e := <-l.Broker().ToUI; e.Kind == looper.EventStep {
			steps = append(steps, e.Data.(int))
		}
	}
	if len(steps) != 16 || steps[15] != 15 {
		t.Fatalf("steps %v", steps)
	}
	clock.Advance(looper.StepDuration(120))
	for len(l.Broker().ToUI) > 0 {
		if e := <-l.Broker().ToUI; e.Kind == looper.EventStep && e.Data.(int) != 0 {
			t.Fatalf("sequencer did not wrap, step %v", e.Data)
		}
	}
	l.StopSequencer()
	if l.SequencerRunning() || clock.Pending() != 0 {
		t.Fatalf("sequencer still running, %d timers pending", clock.Pending())
	}
}

func TestUnknownTracksAreIgnored(t *testing.T) {
	l, _ := newLooper(t)
	l.ToggleRecording(42)
	l.TogglePlayback(42)
	l.Erase(42)
	l.HalveLoop(42)
	l.Select(42)
	if l.Selected() != 0 {
		t.Fatal("selected an unknown track")
	}
	if id := l.AddTrack(); id != 2 {
		t.Fatalf("new track id %d, want 2", id)
	}
	if len(l.Tracks()) != 3 {
		t.Fatalf("%d tracks", len(l.Tracks()))
	}
}

func TestRunFinishesRecordings(t *testing.T) {
	l, _ := newLooper(t)
	l.SetInput(constantInput(0.25))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	l.Broker().MIDI <- midi.Message{0x90, 60, 100}
	l.ToggleRecording(0)
	fill(l)
	cancel()
	<-done
	<-l.Broker().FinishedLooper
	tr, _ := l.Engine().Track(0)
	if tr.Recording || tr.FilePath == "" || tr.Duration != 100*time.Millisecond {
		t.Fatalf("recording not finished on shutdown: %+v", tr)
	}
}

type stallingObserver struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stallingObserver) StageProcessed(loopstation.EffectKind, time.Duration) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
}

func TestBusyTrackDoesNotSkipOtherTracks(t *testing.T) {
	l, _ := newLooper(t)
	p0, _ := l.Processor(0)
	p1, _ := l.Processor(1)
	if p0 == nil || p0 == p1 {
		t.Fatal("tracks should not share an effect processor")
	}
	reverse, err := loopstation.NewEffect(loopstation.Reverse)
	if err != nil {
		t.Fatal(err)
	}
	effects := []loopstation.Effect{reverse}
	obs := &stallingObserver{entered: make(chan struct{}), release: make(chan struct{})}
	p0.SetObserver(obs)
	in := loopstation.NewAudioBuffer(1, 16, sampleRate)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p0.Process(context.Background(), in, effects, dsp.Context{})
	}()
	<-obs.entered
	if _, err := p1.Process(context.Background(), in, effects, dsp.Context{}); err != nil {
		t.Fatalf("track 1 was held up by track 0: %v", err)
	}
	if _, err := p0.Process(context.Background(), in, effects, dsp.Context{}); !errors.Is(err, loopstation.ErrProcessingSkipped) {
		t.Fatalf("expected ErrProcessingSkipped on the busy track, got %v", err)
	}
	close(obs.release)
	<-done
}
