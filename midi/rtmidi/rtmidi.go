// Package rtmidi opens hardware MIDI ports through the rtmidi driver, which
// needs cgo.
package rtmidi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/loopstation"
	lsmidi "github.com/vsariola/loopstation/midi"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type Context struct {
	driver    *rtmididrv.Driver
	events    chan<- midi.Message
	log       logrus.FieldLogger
	currentIn drivers.In
	stop      func()
	out       drivers.Out
}

var ErrNoDriver = errors.New("no midi driver available")

// NewContext opens the driver. If that fails the context still works but has
// no ports.
func NewContext(events chan<- midi.Message, log logrus.FieldLogger) *Context {
	c := &Context{events: events, log: loopstation.OrNop(log)}
	var err error
	if c.driver, err = rtmididrv.New(); err != nil {
		c.log.WithError(err).Warn("midi driver not available")
		c.driver = nil
	}
	return c
}

// InputNames lists the input ports.
func (c *Context) InputNames() []string {
	if c.driver == nil {
		return nil
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return nil
	}
	ret := make([]string, len(ins))
	for i, in := range ins {
		ret[i] = in.String()
	}
	return ret
}

// OpenInput opens the input port with the given name, closing the one
// currently open.
func (c *Context) OpenInput(name string) error {
	if c.driver == nil {
		return ErrNoDriver
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return fmt.Errorf("could not list midi inputs: %w", err)
	}
	var in drivers.In
	for _, candidate := range ins {
		if candidate.String() == name {
			in = candidate
			break
		}
	}
	if in == nil {
		return fmt.Errorf("could not find midi input %q", name)
	}
	if c.currentIn != nil && in.String() == c.currentIn.String() {
		return nil
	}
	c.closeInput()
	if err := in.Open(); err != nil {
		return fmt.Errorf("opening midi input failed: %w", err)
	}
	stop, err := lsmidi.Listen(in, c.events)
	if err != nil {
		in.Close()
		return fmt.Errorf("listening to midi input failed: %w", err)
	}
	c.currentIn, c.stop = in, stop
	c.log.WithField("input", in.String()).Info("opened midi input")
	return nil
}

// TryToOpenBy opens the first input whose name starts with namePrefix, or
// simply the first input if takeFirst is set.
func (c *Context) TryToOpenBy(namePrefix string, takeFirst bool) error {
	if namePrefix == "" && !takeFirst {
		return nil
	}
	for _, name := range c.InputNames() {
		if takeFirst || strings.HasPrefix(name, namePrefix) {
			return c.OpenInput(name)
		}
	}
	if takeFirst {
		return errors.New("could not find any midi input")
	}
	return fmt.Errorf("could not find any midi input starting with %q", namePrefix)
}

// OpenOutput opens the first output port and returns a send function for
// it, suitable for Router.SetOutput.
func (c *Context) OpenOutput() (func(midi.Message) error, error) {
	if c.driver == nil {
		return nil, ErrNoDriver
	}
	outs, err := c.driver.Outs()
	if err != nil || len(outs) == 0 {
		return nil, errors.New("no midi output available")
	}
	send, err := midi.SendTo(outs[0])
	if err != nil {
		return nil, fmt.Errorf("opening midi output failed: %w", err)
	}
	c.out = outs[0]
	return send, nil
}

func (c *Context) HasDeviceOpen() bool {
	return c.currentIn != nil && c.currentIn.IsOpen()
}

func (c *Context) closeInput() {
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	if c.currentIn != nil && c.currentIn.IsOpen() {
		c.currentIn.Close()
	}
	c.currentIn = nil
}

func (c *Context) Close() {
	if c.driver == nil {
		return
	}
	c.closeInput()
	if c.out != nil && c.out.IsOpen() {
		c.out.Close()
	}
	c.driver.Close()
}
