// Package device defines the instrument capability measurement scripts drive
// and provides SCPI instruments over serial ports and TCP, a simulated
// instrument for dry runs, and the roster that owns every open device.
package device

import (
	"errors"
	"fmt"
)

// ErrDevice marks failures reported by, or while talking to, an instrument.
var ErrDevice = errors.New("device error")

// Device is the capability every attached instrument exposes. Calls are
// synchronous and block until the instrument answers or times out.
type Device interface {
	// Name is the human readable instrument name.
	Name() string
	// Address is the port path or network address the instrument is reached at.
	Address() string
	// Write sends a command.
	Write(cmd string) error
	// Read sends a query and returns the answer without the line terminator.
	Read(cmd string) (string, error)
	// LastError asks the instrument for its last error. It returns nil if the
	// instrument reports none.
	LastError() error
	// Reset restores the instrument's default settings.
	Reset() error
	// Close releases the connection.
	Close() error
}

// SoftResetter is implemented by instruments that can return to a known state
// without a full reset, e.g. by clearing status and error queues.
type SoftResetter interface {
	SoftReset() error
}

// Error describes a failed exchange with an instrument.
type Error struct {
	Device  string
	Op      string // "write", "read", "connect", ...
	Command string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Command == "" {
		return fmt.Sprintf("%s: could not %s. Error: '%s'", e.Device, e.Op, msg)
	}
	return fmt.Sprintf("%s: could not %s '%s'. Error: '%s'", e.Device, e.Op, e.Command, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrDevice.
func (e *Error) Is(target error) bool { return target == ErrDevice }
