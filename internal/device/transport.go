package device

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

// DefaultSCPIPort is the raw socket port used by LXI instruments.
const DefaultSCPIPort = "5025"

// serialOpener opens a serial port. Tests replace it to avoid real hardware.
var serialOpener = func(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(path, mode)
}

// OpenSerial opens an SCPI instrument on a serial port.
func OpenSerial(name, path string, port PortOptions, opts ...SCPIOption) (*SCPI, error) {
	mode, err := port.SerialMode()
	if err != nil {
		return nil, &Error{Device: name, Op: "connect", Err: err}
	}
	conn, err := serialOpener(path, mode)
	if err != nil {
		return nil, &Error{Device: name, Op: "connect", Err: err}
	}
	return NewSCPI(name, path, conn, opts...), nil
}

// DialTCP connects to an SCPI instrument over a raw TCP socket. An address
// without a port uses DefaultSCPIPort.
func DialTCP(ctx context.Context, name, address string, timeout time.Duration, opts ...SCPIOption) (*SCPI, error) {
	hostport := address
	if _, _, err := net.SplitHostPort(address); err != nil {
		hostport = net.JoinHostPort(address, DefaultSCPIPort)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, &Error{Device: name, Op: "connect", Err: fmt.Errorf("dial %s: %w", hostport, err)}
	}
	opts = append([]SCPIOption{WithTimeout(timeout)}, opts...)
	return NewSCPI(name, hostport, conn, opts...), nil
}

// ListSerialPorts returns the serial ports present on this machine.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
