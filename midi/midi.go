// Package midi classifies incoming MIDI channel messages and routes them to
// the controls they were learned for.
package midi

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/loopstation"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gopkg.in/yaml.v3"
)

type (
	Kind int

	// Event is a classified three byte channel message.
	Event struct {
		Kind    Kind
		Channel uint8
		Data1   uint8 // note or controller number
		Data2   uint8 // velocity or controller value
	}

	// ControlID names a control of the application that can be driven from
	// MIDI, e.g. "track1.record" or "master.play".
	ControlID string

	// Mapping is the note or controller number and channel a control was
	// learned from.
	Mapping struct {
		Number  uint8 `yaml:"note"`
		Channel uint8 `yaml:"channel"`
	}

	Router struct {
		log logrus.FieldLogger

		mu        sync.Mutex
		mappings  map[ControlID]Mapping
		listeners map[ControlID]func(value float64)
		learning  ControlID
		learned   func(Mapping)
		notes     func(Event)
		send      func(midi.Message) error
	}
)

const (
	Other Kind = iota
	NoteOn
	NoteOff
	ControlChange
)

func (k Kind) String() string {
	switch k {
	case NoteOn:
		return "note on"
	case NoteOff:
		return "note off"
	case ControlChange:
		return "control change"
	}
	return "other"
}

// Classify looks at the upper nibble of the status byte. A note on with zero
// velocity is a note off.
func Classify(msg midi.Message) Event {
	var b [3]uint8
	copy(b[:], msg)
	e := Event{Channel: b[0] & 0x0F, Data1: b[1], Data2: b[2]}
	switch b[0] & 0xF0 {
	case 0x90:
		if b[2] > 0 {
			e.Kind = NoteOn
		} else {
			e.Kind = NoteOff
		}
	case 0x80:
		e.Kind = NoteOff
	case 0xB0:
		e.Kind = ControlChange
	}
	if len(msg) < 3 && e.Kind != Other {
		e.Kind = Other
	}
	return e
}

// Value is the data2 byte scaled to [0,1].
func (e Event) Value() float64 {
	return float64(e.Data2) / 127
}

// NoteOnMessage builds an outgoing note on, masking every field to its
// valid range.
func NoteOnMessage(channel, note, velocity uint8) midi.Message {
	return midi.NoteOn(channel&0x0F, note&0x7F, velocity&0x7F)
}

func NewRouter(log logrus.FieldLogger) *Router {
	return &Router{
		log:       loopstation.OrNop(log),
		mappings:  map[ControlID]Mapping{},
		listeners: map[ControlID]func(float64){},
	}
}

// StartLearning maps id to whatever note or controller arrives next. done,
// if not nil, is called with the learned mapping.
func (r *Router) StartLearning(id ControlID, done func(Mapping)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.learning, r.learned = id, done
	r.log.WithField("control", id).Info("learning midi mapping")
}

func (r *Router) Learning() (ControlID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.learning, r.learning != ""
}

// CancelLearning leaves learning mode without changing any mapping.
func (r *Router) CancelLearning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.learning, r.learned = "", nil
}

// Register sets the function called with the normalized value whenever a
// message mapped to id arrives.
func (r *Router) Register(id ControlID, f func(value float64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[id] = f
}

func (r *Router) Unregister(id ControlID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, id)
}

// SetNoteHandler receives every note on and note off, mapped or not.
func (r *Router) SetNoteHandler(f func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = f
}

func (r *Router) Mappings() map[ControlID]Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make(map[ControlID]Mapping, len(r.mappings))
	for k, v := range r.mappings {
		ret[k] = v
	}
	return ret
}

func (r *Router) SetMappings(m map[ControlID]Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings = make(map[ControlID]Mapping, len(m))
	for k, v := range m {
		r.mappings[k] = v
	}
	r.log.WithField("count", len(m)).Info("set midi mappings")
}

// Handle classifies msg and dispatches it. While learning, the first note or
// controller message completes the mapping; it is dispatched as well.
func (r *Router) Handle(msg midi.Message) Event {
	e := Classify(msg)
	if e.Kind == Other {
		return e
	}
	r.mu.Lock()
	var learned func(Mapping)
	var m Mapping
	if r.learning != "" {
		m = Mapping{Number: e.Data1, Channel: e.Channel}
		r.mappings[r.learning] = m
		r.log.WithFields(logrus.Fields{"control": r.learning, "note": m.Number, "channel": m.Channel}).Info("learned midi mapping")
		learned = r.learned
		r.learning, r.learned = "", nil
	}
	var calls []func(float64)
	if e.Kind == NoteOn || e.Kind == ControlChange {
		ids := make([]ControlID, 0, len(r.mappings))
		for id, mapping := range r.mappings {
			if mapping.Number == e.Data1 && mapping.Channel == e.Channel {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		for _, id := range ids {
			if f := r.listeners[id]; f != nil {
				calls = append(calls, f)
			}
		}
	}
	notes := r.notes
	r.mu.Unlock()

	if learned != nil {
		learned(m)
	}
	for _, f := range calls {
		f(e.Value())
	}
	if notes != nil && (e.Kind == NoteOn || e.Kind == NoteOff) {
		notes(e)
	}
	return e
}

// SetOutput sets where SendNote writes. nil disconnects.
func (r *Router) SetOutput(send func(midi.Message) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.send = send
}

// SendNote sends a note on. Without an output it does nothing.
func (r *Router) SendNote(channel, note, velocity uint8) error {
	r.mu.Lock()
	send := r.send
	r.mu.Unlock()
	if send == nil {
		return nil
	}
	if err := send(NoteOnMessage(channel, note, velocity)); err != nil {
		return fmt.Errorf("%w: could not send midi note: %v", loopstation.ErrIO, err)
	}
	return nil
}

// Forwarder returns a listener callback that pushes messages to events,
// dropping them if the channel is full.
func Forwarder(events chan<- midi.Message) func(msg midi.Message, timestampms int32) {
	return func(msg midi.Message, timestampms int32) {
		select {
		case events <- msg:
		default:
		}
	}
}

// Listen starts forwarding the messages of an opened input port to events.
func Listen(in drivers.In, events chan<- midi.Message) (stop func(), err error) {
	return midi.ListenTo(in, Forwarder(events))
}

// LoadMappings reads a yaml mapping file. A missing file yields no
// mappings.
func LoadMappings(path string) (map[ControlID]Mapping, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[ControlID]Mapping{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", loopstation.ErrIO, err)
	}
	var m map[ControlID]Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("could not parse midi mappings %v: %w", path, err)
	}
	if m == nil {
		m = map[ControlID]Mapping{}
	}
	return m, nil
}

func SaveMappings(path string, m map[ControlID]Mapping) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("could not marshal midi mappings: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", loopstation.ErrIO, err)
	}
	return nil
}
