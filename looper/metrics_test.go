package looper_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/internal/fakeclock"
	"github.com/vsariola/loopstation/looper"
)

func TestMetricsWindows(t *testing.T) {
	clock := fakeclock.New()
	m := looper.NewMetrics(clock)
	for i := range 150 {
		// the first 50 are pushed out of the window
		d := time.Millisecond
		if i >= 50 {
			d = 2 * time.Millisecond
		}
		m.BlockRendered(d, 10*time.Millisecond)
	}
	m.BlockRendered(20*time.Millisecond, 10*time.Millisecond)
	for range 60 {
		m.StageProcessed(loopstation.Reverb, 3*time.Millisecond)
	}
	m.Glitch()
	clock.Advance(time.Minute)
	r := m.Report(10 * time.Millisecond)
	if r.Blocks != 151 || r.Glitches != 2 {
		t.Fatalf("blocks %d glitches %d", r.Blocks, r.Glitches)
	}
	if r.MaxFill != 20*time.Millisecond {
		t.Fatalf("max fill %v", r.MaxFill)
	}
	if want := (99*2*time.Millisecond + 20*time.Millisecond) / 100; r.AvgFill != want {
		t.Fatalf("average fill %v, want %v", r.AvgFill, want)
	}
	if r.AvgEffect[loopstation.Reverb] != 3*time.Millisecond {
		t.Fatalf("average reverb %v", r.AvgEffect[loopstation.Reverb])
	}
	if r.Uptime != time.Minute {
		t.Fatalf("uptime %v", r.Uptime)
	}
	m.Reset()
	if r := m.Report(0); r.Blocks != 0 || r.AvgFill != 0 || r.Load != 0 {
		t.Fatalf("reset report %+v", r)
	}
}

func TestLogHistory(t *testing.T) {
	h := looper.NewLogHistory(3)
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	log.AddHook(h)
	log.Info("one")
	log.WithField("track", 2).Warn("two")
	log.WithError(errors.New("boom")).Error("three")
	log.Info("four")
	entries := h.Entries()
	if len(entries) != 3 || entries[0].Message != "two" || entries[2].Message != "four" {
		t.Fatalf("entries %+v", entries)
	}
	if entries[0].Level != "warning" || entries[0].Fields["track"] != 2 {
		t.Fatalf("entry %+v", entries[0])
	}
	var buf bytes.Buffer
	if err := h.Export(&buf); err != nil {
		t.Fatal(err)
	}
	var exported []looper.LogEntry
	if err := json.Unmarshal(buf.Bytes(), &exported); err != nil {
		t.Fatalf("export is not json: %v", err)
	}
	if exported[1].Fields["error"] != "boom" {
		t.Fatalf("error field %v", exported[1].Fields["error"])
	}
	h.Clear()
	if len(h.Entries()) != 0 {
		t.Fatal("not cleared")
	}
}

func TestBrokerBufferPool(t *testing.T) {
	b := looper.NewBroker()
	buf := b.GetAudioBuffer(2, 16, 8000)
	if buf.NumChannels() != 2 || buf.Len() != 16 || buf.SampleRate != 8000 {
		t.Fatalf("buffer shape %d×%d", buf.NumChannels(), buf.Len())
	}
	buf.Channels[0][3] = 1
	b.PutAudioBuffer(buf)
	again := b.GetAudioBuffer(2, 8, 8000)
	for _, ch := range again.Channels {
		for _, x := range ch {
			if x != 0 {
				t.Fatal("pooled buffer not cleared")
			}
		}
	}
	c := make(chan int, 1)
	if !looper.TrySend(c, 1) || looper.TrySend(c, 2) {
		t.Fatal("TrySend should send once and then drop")
	}
	if v, ok := looper.TimeoutReceive(c, time.Second); !ok || v != 1 {
		t.Fatalf("received %v %v", v, ok)
	}
	if _, ok := looper.TimeoutReceive(c, time.Millisecond); ok {
		t.Fatal("received from an empty channel")
	}
}
