package gesture_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/gesture"
	"github.com/vsariola/loopstation/internal/fakeclock"
	"gopkg.in/yaml.v3"
)

type fixture struct {
	clock  *fakeclock.Clock
	events chan gesture.Event
	d      *gesture.Detector
}

func newFixture() *fixture {
	f := &fixture{clock: fakeclock.New(), events: make(chan gesture.Event, 16)}
	f.d = gesture.NewDetector(gesture.DefaultConfig, 3, f.clock, f.events)
	return f
}

func (f *fixture) tap(hold time.Duration) {
	f.d.TouchStart(10, 10)
	f.clock.Advance(hold)
	f.d.TouchEnd()
}

func (f *fixture) drain() []gesture.Kind {
	var ret []gesture.Kind
	for {
		select {
		case e := <-f.events:
			ret = append(ret, e.Kind)
		default:
			return ret
		}
	}
}

func expect(t *testing.T, got []gesture.Kind, want ...gesture.Kind) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("gestures %v, want %v", got, want)
	}
}

func TestSingleTapWaitsForTimeout(t *testing.T) {
	f := newFixture()
	f.tap(50 * time.Millisecond)
	f.clock.Advance(299 * time.Millisecond)
	expect(t, f.drain())
	f.clock.Advance(time.Millisecond)
	expect(t, f.drain(), gesture.SingleTap)
}

func TestDoubleTap(t *testing.T) {
	f := newFixture()
	f.tap(30 * time.Millisecond)
	f.clock.Advance(100 * time.Millisecond)
	f.tap(30 * time.Millisecond)
	f.clock.Advance(time.Second)
	expect(t, f.drain(), gesture.DoubleTap)
}

func TestSlowSecondTapIsTwoSingleTaps(t *testing.T) {
	f := newFixture()
	f.tap(30 * time.Millisecond)
	f.clock.Advance(400 * time.Millisecond)
	f.tap(30 * time.Millisecond)
	f.clock.Advance(time.Second)
	expect(t, f.drain(), gesture.SingleTap, gesture.SingleTap)
}

func TestLongPress(t *testing.T) {
	f := newFixture()
	f.d.TouchStart(0, 0)
	f.clock.Advance(799 * time.Millisecond)
	expect(t, f.drain())
	f.clock.Advance(time.Millisecond)
	expect(t, f.drain(), gesture.LongPress)
	f.d.TouchEnd()
	f.clock.Advance(time.Second)
	expect(t, f.drain())
}

func TestMoveCancelsLongPress(t *testing.T) {
	f := newFixture()
	f.d.TouchStart(0, 0)
	f.clock.Advance(100 * time.Millisecond)
	f.d.TouchMove(5, 40)
	f.clock.Advance(time.Second)
	expect(t, f.drain())
	if f.clock.Pending() != 0 {
		t.Fatalf("%d timers pending", f.clock.Pending())
	}
}

func TestSwipes(t *testing.T) {
	f := newFixture()
	f.d.TouchStart(100, 100)
	f.d.TouchMove(140, 100) // below the threshold
	f.d.TouchMove(160, 110)
	f.d.TouchMove(200, 110) // 40 from the new origin
	f.d.TouchMove(211, 110)
	f.d.TouchEnd()
	f.clock.Advance(time.Second)
	expect(t, f.drain(), gesture.SwipeRight, gesture.SwipeRight)

	f.d.TouchStart(100, 100)
	f.d.TouchMove(40, 100)
	f.d.TouchEnd()
	expect(t, f.drain(), gesture.SwipeLeft)
}

func TestVerticalMoveIsNoSwipe(t *testing.T) {
	f := newFixture()
	f.d.TouchStart(100, 100)
	f.d.TouchMove(170, 200)
	f.d.TouchEnd()
	f.clock.Advance(time.Second)
	expect(t, f.drain(), gesture.SingleTap)
}

func TestEventTarget(t *testing.T) {
	f := newFixture()
	f.tap(0)
	f.clock.Advance(time.Second)
	if e := <-f.events; e.Target != 3 {
		t.Fatalf("target %d, want 3", e.Target)
	}
}

func TestBindingsYaml(t *testing.T) {
	var b gesture.Bindings
	if err := yaml.Unmarshal([]byte("singleTap: record\nswipeLeft: erase\n"), &b); err != nil {
		t.Fatal(err)
	}
	if want := (gesture.Bindings{gesture.SingleTap: gesture.Record, gesture.SwipeLeft: gesture.Erase}); !reflect.DeepEqual(b, want) {
		t.Fatalf("bindings %v, want %v", b, want)
	}
	if err := b.Validate(); err != nil {
		t.Fatal(err)
	}
	if err := yaml.Unmarshal([]byte("tripleTap: record\n"), &b); err == nil {
		t.Fatal("unknown gesture accepted")
	}
	bad := gesture.Bindings{gesture.LongPress: "explode"}
	if err := bad.Validate(); !errors.Is(err, loopstation.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if err := gesture.DefaultBindings().Validate(); err != nil {
		t.Fatal(err)
	}
}
