package device

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// PortOptions are the line settings of a serial instrument. Zero values mean
// 9600 baud 8N1, the factory setting of most bench instruments.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var stopBits = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// Normalize fills in defaults and canonicalises the parity to N, E or O.
func (o PortOptions) Normalize() (PortOptions, error) {
	n := PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1}
	if o.BaudRate > 0 {
		n.BaudRate = o.BaudRate
	}
	if o.DataBits != 0 {
		n.DataBits = o.DataBits
	}
	if o.StopBits != 0 {
		n.StopBits = o.StopBits
	}
	if n.DataBits < 5 || n.DataBits > 8 {
		return n, fmt.Errorf("invalid data bits %d: must be between 5 and 8", n.DataBits)
	}
	if _, ok := stopBits[n.StopBits]; !ok {
		return n, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", n.StopBits)
	}

	p := strings.ToUpper(strings.TrimSpace(o.Parity))
	if p == "" {
		p = "N"
	}
	if p == "NONE" || p == "EVEN" || p == "ODD" {
		p = p[:1]
	}
	if _, ok := parities[p]; !ok {
		return n, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	n.Parity = p
	return n, nil
}

// SerialMode is the go.bug.st/serial mode for the normalized options.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: stopBits[n.StopBits],
		Parity:   parities[n.Parity],
	}, nil
}
