// Package gesture turns raw touch input on a track into taps, long presses
// and swipes.
package gesture

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vsariola/loopstation"
)

type (
	Kind int

	Event struct {
		Kind   Kind
		Target int // the track the gesture was made on
	}

	// Action is what a gesture does to its track.
	Action string

	// Bindings maps every gesture to an action.
	Bindings map[Kind]Action

	Config struct {
		TapTimeout       time.Duration `yaml:"tapTimeout"`
		LongPressTimeout time.Duration `yaml:"longPressTimeout"`
		SwipeThreshold   float64       `yaml:"swipeThreshold"` // in pixels
	}

	// Detector recognizes gestures made on one target. The touch methods
	// and the timers may run on different goroutines.
	Detector struct {
		cfg    Config
		target int
		clock  loopstation.Clock
		events chan<- Event

		mu         sync.Mutex
		startX     float64
		startY     float64
		touching   bool
		consumed   bool // a long press or swipe happened during this touch
		longPress  loopstation.Timer
		tapPending bool
		tapTimer   loopstation.Timer
		lastTap    time.Time
		gen        int // touch counter
		tapGen     int
	}
)

const (
	SingleTap Kind = iota
	DoubleTap
	LongPress
	SwipeLeft
	SwipeRight
	NumKinds
)

const (
	Select       Action = "select"
	PlayStop     Action = "playStop"
	Record       Action = "record"
	Menu         Action = "menu"
	Erase        Action = "erase"
	HalfLength   Action = "halfLength"
	DoubleLength Action = "doubleLength"
	ShowInstr    Action = "instrument"
	NoAction     Action = ""
)

var kindNames = [NumKinds]string{"singleTap", "doubleTap", "longPress", "swipeLeft", "swipeRight"}

// Actions lists every action a gesture can be bound to.
var Actions = []Action{Select, PlayStop, Record, Menu, Erase, HalfLength, DoubleLength, ShowInstr}

var DefaultConfig = Config{TapTimeout: 300 * time.Millisecond, LongPressTimeout: 800 * time.Millisecond, SwipeThreshold: 50}

func DefaultBindings() Bindings {
	return Bindings{
		SingleTap:  Select,
		DoubleTap:  PlayStop,
		LongPress:  Menu,
		SwipeLeft:  HalfLength,
		SwipeRight: DoubleLength,
	}
}

func (k Kind) String() string {
	if k < 0 || k >= NumKinds {
		return "unknown"
	}
	return kindNames[k]
}

func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown gesture %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	var err error
	*k, err = ParseKind(string(text))
	return err
}

func (a Action) Valid() bool {
	for _, b := range Actions {
		if a == b {
			return true
		}
	}
	return a == NoAction
}

// Validate checks that every bound action is known.
func (b Bindings) Validate() error {
	for k, a := range b {
		if !a.Valid() {
			return fmt.Errorf("%w: gesture %v bound to unknown action %q", loopstation.ErrConfiguration, k, a)
		}
	}
	return nil
}

// NewDetector creates a detector posting gestures made on target to events.
// Events are dropped if the channel is full.
func NewDetector(cfg Config, target int, clock loopstation.Clock, events chan<- Event) *Detector {
	if clock == nil {
		clock = loopstation.SystemClock{}
	}
	return &Detector{cfg: cfg, target: target, clock: clock, events: events}
}

func (d *Detector) TouchStart(x, y float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLongPress()
	d.startX, d.startY = x, y
	d.touching = true
	d.consumed = false
	d.gen++
	gen := d.gen
	d.longPress = d.clock.AfterFunc(d.cfg.LongPressTimeout, func() {
		d.mu.Lock()
		if gen != d.gen || !d.touching {
			d.mu.Unlock()
			return
		}
		d.longPress = nil
		d.consumed = true
		d.cancelTap()
		d.mu.Unlock()
		d.post(LongPress)
	})
}

// TouchMove cancels a pending long press. A horizontal move further than the
// swipe threshold from the touch origin is a swipe, after which the origin
// moves to the current position.
func (d *Detector) TouchMove(x, y float64) {
	d.mu.Lock()
	if !d.touching {
		d.mu.Unlock()
		return
	}
	d.stopLongPress()
	dx, dy := x-d.startX, y-d.startY
	if math.Abs(dx) <= math.Abs(dy) || math.Abs(dx) <= d.cfg.SwipeThreshold {
		d.mu.Unlock()
		return
	}
	d.startX, d.startY = x, y
	d.consumed = true
	d.mu.Unlock()
	if dx > 0 {
		d.post(SwipeRight)
	} else {
		d.post(SwipeLeft)
	}
}

// TouchEnd completes a tap, unless the touch already became a long press
// or a swipe. A second tap within the tap timeout of the first is a double
// tap; otherwise the single tap is reported once the timeout has passed.
func (d *Detector) TouchEnd() {
	d.mu.Lock()
	if !d.touching {
		d.mu.Unlock()
		return
	}
	d.touching = false
	d.stopLongPress()
	if d.consumed {
		d.mu.Unlock()
		return
	}
	now := d.clock.Now()
	if d.tapPending && now.Sub(d.lastTap) < d.cfg.TapTimeout {
		d.cancelTap()
		d.lastTap = time.Time{}
		d.mu.Unlock()
		d.post(DoubleTap)
		return
	}
	d.lastTap = now
	d.tapPending = true
	d.tapGen++
	tapGen := d.tapGen
	d.tapTimer = d.clock.AfterFunc(d.cfg.TapTimeout, func() {
		d.mu.Lock()
		if !d.tapPending || tapGen != d.tapGen {
			d.mu.Unlock()
			return
		}
		d.tapPending = false
		d.tapTimer = nil
		d.mu.Unlock()
		d.post(SingleTap)
	})
	d.mu.Unlock()
}

func (d *Detector) stopLongPress() {
	if d.longPress != nil {
		d.longPress.Stop()
		d.longPress = nil
	}
}

func (d *Detector) cancelTap() {
	d.tapPending = false
	d.tapGen++
	if d.tapTimer != nil {
		d.tapTimer.Stop()
		d.tapTimer = nil
	}
}

func (d *Detector) post(k Kind) {
	select {
	case d.events <- Event{Kind: k, Target: d.target}:
	default:
	}
}
