package midi_test

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/vsariola/loopstation"
	lsmidi "github.com/vsariola/loopstation/midi"
	"gitlab.com/gomidi/midi/v2"
)

func TestClassify(t *testing.T) {
	for _, c := range []struct {
		msg  midi.Message
		want lsmidi.Event
	}{
		{midi.Message{0x90, 60, 100}, lsmidi.Event{Kind: lsmidi.NoteOn, Channel: 0, Data1: 60, Data2: 100}},
		{midi.Message{0x93, 60, 0}, lsmidi.Event{Kind: lsmidi.NoteOff, Channel: 3, Data1: 60}},
		{midi.Message{0x8F, 61, 64}, lsmidi.Event{Kind: lsmidi.NoteOff, Channel: 15, Data1: 61, Data2: 64}},
		{midi.Message{0xB1, 7, 127}, lsmidi.Event{Kind: lsmidi.ControlChange, Channel: 1, Data1: 7, Data2: 127}},
		{midi.Message{0xE0, 0, 64}, lsmidi.Event{Kind: lsmidi.Other, Channel: 0, Data2: 64}},
		{midi.Message{0xF8}, lsmidi.Event{Kind: lsmidi.Other, Channel: 8}},
		{nil, lsmidi.Event{}},
	} {
		if got := lsmidi.Classify(c.msg); got != c.want {
			t.Fatalf("% X: got %+v, want %+v", []byte(c.msg), got, c.want)
		}
	}
}

func TestLearnAndDispatch(t *testing.T) {
	r := lsmidi.NewRouter(nil)
	var got []float64
	r.Register("track1.volume", func(v float64) { got = append(got, v) })
	var learned lsmidi.Mapping
	r.StartLearning("track1.volume", func(m lsmidi.Mapping) { learned = m })
	if id, ok := r.Learning(); !ok || id != "track1.volume" {
		t.Fatalf("not learning: %q %v", id, ok)
	}
	r.Handle(midi.Message{0xF8}) // clock messages are not learned
	r.Handle(midi.Message{0xB2, 21, 127})
	if want := (lsmidi.Mapping{Number: 21, Channel: 2}); learned != want {
		t.Fatalf("learned %+v, want %+v", learned, want)
	}
	if _, ok := r.Learning(); ok {
		t.Fatal("still learning after a message")
	}
	r.Handle(midi.Message{0xB2, 21, 0})
	r.Handle(midi.Message{0xB3, 21, 64}) // other channel
	r.Handle(midi.Message{0xB2, 22, 64}) // other controller
	if want := []float64{1, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("dispatched %v, want %v", got, want)
	}
}

func TestNoteMappingUsesVelocity(t *testing.T) {
	r := lsmidi.NewRouter(nil)
	r.SetMappings(map[lsmidi.ControlID]lsmidi.Mapping{"master.play": {Number: 36, Channel: 9}})
	var got []float64
	r.Register("master.play", func(v float64) { got = append(got, v) })
	r.Handle(midi.Message{0x99, 36, 127})
	r.Handle(midi.Message{0x99, 36, 0}) // note off, not dispatched
	r.Handle(midi.Message{0x89, 36, 10})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("dispatched %v", got)
	}
	r.Unregister("master.play")
	r.Handle(midi.Message{0x99, 36, 127})
	if len(got) != 1 {
		t.Fatal("unregistered listener called")
	}
}

func TestNoteHandler(t *testing.T) {
	r := lsmidi.NewRouter(nil)
	var kinds []lsmidi.Kind
	r.SetNoteHandler(func(e lsmidi.Event) { kinds = append(kinds, e.Kind) })
	r.Handle(midi.Message{0x90, 60, 90})
	r.Handle(midi.Message{0xB0, 1, 2})
	r.Handle(midi.Message{0x90, 60, 0})
	if want := []lsmidi.Kind{lsmidi.NoteOn, lsmidi.NoteOff}; !reflect.DeepEqual(kinds, want) {
		t.Fatalf("notes %v, want %v", kinds, want)
	}
}

func TestCancelLearning(t *testing.T) {
	r := lsmidi.NewRouter(nil)
	r.StartLearning("x", nil)
	r.CancelLearning()
	r.Handle(midi.Message{0x90, 60, 90})
	if len(r.Mappings()) != 0 {
		t.Fatal("cancelled learning stored a mapping")
	}
}

func TestNoteOnMessage(t *testing.T) {
	got := lsmidi.NoteOnMessage(0x12, 0xC0, 0xFF)
	if want := (midi.Message{0x92, 0x40, 0x7F}); !reflect.DeepEqual([]byte(got), []byte(want)) {
		t.Fatalf("message % X, want % X", []byte(got), []byte(want))
	}
}

func TestSendNote(t *testing.T) {
	r := lsmidi.NewRouter(nil)
	if err := r.SendNote(0, 60, 100); err != nil {
		t.Fatalf("sending without output should be a no-op, got %v", err)
	}
	var sent []midi.Message
	r.SetOutput(func(m midi.Message) error { sent = append(sent, m); return nil })
	if err := r.SendNote(1, 60, 100); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || lsmidi.Classify(sent[0]).Kind != lsmidi.NoteOn {
		t.Fatalf("sent %v", sent)
	}
	r.SetOutput(func(midi.Message) error { return errors.New("unplugged") })
	if err := r.SendNote(1, 60, 100); !errors.Is(err, loopstation.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestForwarderDropsWhenFull(t *testing.T) {
	events := make(chan midi.Message, 1)
	f := lsmidi.Forwarder(events)
	f(midi.Message{0x90, 1, 1}, 0)
	f(midi.Message{0x90, 2, 1}, 5)
	if len(events) != 1 {
		t.Fatalf("%d events queued", len(events))
	}
	if got := <-events; got[1] != 1 {
		t.Fatalf("kept the wrong message % X", []byte(got))
	}
}

func TestMappingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "midi.yml")
	m, err := lsmidi.LoadMappings(path)
	if err != nil || len(m) != 0 {
		t.Fatalf("missing file: %v %v", m, err)
	}
	want := map[lsmidi.ControlID]lsmidi.Mapping{"track1.record": {Number: 36, Channel: 9}, "master.play": {Number: 7, Channel: 0}}
	if err := lsmidi.SaveMappings(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := lsmidi.LoadMappings(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("loaded %v, want %v", got, want)
	}
}
