//go:build cgo

package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/vsariola/loopstation/midi/rtmidi"
	"gitlab.com/gomidi/midi/v2"
)

func NewMIDIContext(events chan<- midi.Message, log logrus.FieldLogger) MIDIContext {
	return rtmidi.NewContext(events, log)
}
