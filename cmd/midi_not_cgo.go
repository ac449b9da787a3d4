//go:build !cgo

package cmd

import (
	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
)

func NewMIDIContext(events chan<- midi.Message, log logrus.FieldLogger) MIDIContext {
	// with no cgo, we cannot use MIDI, so return a null context
	if log != nil {
		log.Warn("built without cgo, midi is not available")
	}
	return NullMIDIContext{}
}
