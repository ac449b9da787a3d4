// Package cmd holds what the command line programs share.
package cmd

import "gitlab.com/gomidi/midi/v2"

// MIDIContext opens the MIDI ports incoming messages are read from and
// outgoing notes are sent to.
type MIDIContext interface {
	InputNames() []string
	TryToOpenBy(namePrefix string, takeFirst bool) error
	OpenOutput() (send func(midi.Message) error, err error)
	HasDeviceOpen() bool
	Close()
}

// NullMIDIContext has no ports.
type NullMIDIContext struct{}

func (NullMIDIContext) InputNames() []string           { return nil }
func (NullMIDIContext) TryToOpenBy(string, bool) error { return nil }
func (NullMIDIContext) HasDeviceOpen() bool            { return false }
func (NullMIDIContext) Close()                         {}
func (NullMIDIContext) OpenOutput() (func(midi.Message) error, error) {
	return nil, nil
}
