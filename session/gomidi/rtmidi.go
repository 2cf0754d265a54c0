//go:build cgo

package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Port is an open MIDI input port feeding an Input.
type Port struct {
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()
}

var ErrNoPort = errors.New("no MIDI input found")

// Ports lists the names of the MIDI input ports.
func Ports() ([]string, error) {
	driver, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("opening the MIDI driver: %w", err)
	}
	defer driver.Close()
	ins, err := driver.Ins()
	if err != nil {
		return nil, err
	}
	ret := make([]string, len(ins))
	for i, in := range ins {
		ret[i] = in.String()
	}
	return ret, nil
}

// Open opens the first input port whose name starts with namePrefix and
// sends its messages to input. An empty prefix takes the first port.
func Open(namePrefix string, input *Input) (*Port, error) {
	driver, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("opening the MIDI driver: %w", err)
	}
	ins, err := driver.Ins()
	if err != nil {
		driver.Close()
		return nil, err
	}
	for _, in := range ins {
		if !strings.HasPrefix(in.String(), namePrefix) {
			continue
		}
		if err := in.Open(); err != nil {
			driver.Close()
			return nil, fmt.Errorf("opening MIDI input failed: %w", err)
		}
		stop, err := midi.ListenTo(in, input.HandleMessage)
		if err != nil {
			in.Close()
			driver.Close()
			return nil, fmt.Errorf("listening to %s: %w", in, err)
		}
		input.logger.Info("MIDI input opened", "port", in.String())
		return &Port{driver: driver, in: in, stop: stop}, nil
	}
	driver.Close()
	return nil, fmt.Errorf("%w starting with %q", ErrNoPort, namePrefix)
}

func (p *Port) String() string { return p.in.String() }

func (p *Port) Close() error {
	p.stop()
	if p.in.IsOpen() {
		p.in.Close()
	}
	return p.driver.Close()
}
