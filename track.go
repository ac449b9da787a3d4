package loopstation

import (
	"slices"
	"time"
)

type (
	// Track is a snapshot of one looper track. The transport engine owns the
	// live state and hands out copies.
	Track struct {
		ID         int
		Color      string
		Name       string `yaml:",omitempty"`
		Active     bool
		Recording  bool
		Playing    bool
		State      TrackState
		FilePath   string        `yaml:",omitempty"` // empty until a recording completes
		Progress   time.Duration `yaml:"-"`
		Duration   time.Duration
		Pattern    []bool      `yaml:",flow"`
		Instrument *Instrument `yaml:",omitempty"`
		Effects    []Effect    `yaml:",omitempty"`
	}

	TrackState int
)

const (
	Idle TrackState = iota
	CountingIn
	// Armed is the wait for the next beat when recording is quantized
	// without a count-in.
	Armed
	Recording
	Playing
	Erasing
)

var trackStateNames = [...]string{"idle", "countingIn", "armed", "recording", "playing", "erasing"}

func (s TrackState) String() string {
	if s < 0 || int(s) >= len(trackStateNames) {
		return "unknown"
	}
	return trackStateNames[s]
}

// Copy returns a deep copy of the track.
func (t *Track) Copy() Track {
	ret := *t
	ret.Pattern = slices.Clone(t.Pattern)
	ret.Effects = slices.Clone(t.Effects)
	if t.Instrument != nil {
		instr := *t.Instrument
		ret.Instrument = &instr
	}
	return ret
}

// Fraction returns the progress as a fraction of the duration, or 0 if the
// duration is unknown.
func (t *Track) Fraction() float64 {
	if t.Duration <= 0 {
		return 0
	}
	return float64(t.Progress) / float64(t.Duration)
}
