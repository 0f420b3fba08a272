package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agwidera/meca/internal/monitoring"
)

// Defaults for SCPI instruments.
const (
	DefaultTerminator    = "\n"
	DefaultErrorQuery    = "SYST:ERR?"
	DefaultResetCommand  = "*RST"
	DefaultClearCommand  = "*CLS"
	DefaultIdentifyQuery = "*IDN?"
	DefaultTimeout       = 2 * time.Second
)

const maxResponseLineLength = 1 << 20

// deadliner is implemented by network connections.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// readTimeouter is implemented by go.bug.st/serial ports.
type readTimeouter interface {
	SetReadTimeout(t time.Duration) error
}

// SCPI is a line oriented instrument speaking SCPI over any byte stream.
// Every write is followed by an error query unless error checking is disabled.
type SCPI struct {
	name    string
	address string

	mu   sync.Mutex
	conn io.ReadWriteCloser
	r    *bufio.Reader

	terminator    string
	errorQuery    string
	resetCommand  string
	clearCommand  string
	errorChecking bool
	timeout       time.Duration
}

// SCPIOption applies an option to an SCPI instrument.
type SCPIOption func(*SCPI)

// WithTerminator sets the line terminator appended to commands and expected
// at the end of answers.
func WithTerminator(term string) SCPIOption { return func(s *SCPI) { s.terminator = term } }

// WithErrorQuery sets the query used by LastError.
func WithErrorQuery(q string) SCPIOption { return func(s *SCPI) { s.errorQuery = q } }

// WithoutErrorChecking skips the error query after each exchange.
func WithoutErrorChecking() SCPIOption { return func(s *SCPI) { s.errorChecking = false } }

// WithTimeout bounds every read from the instrument.
func WithTimeout(d time.Duration) SCPIOption { return func(s *SCPI) { s.timeout = d } }

// WithResetCommands overrides the commands sent by Reset and SoftReset.
func WithResetCommands(reset, clear string) SCPIOption {
	return func(s *SCPI) {
		s.resetCommand = reset
		s.clearCommand = clear
	}
}

// NewSCPI wraps an open connection.
func NewSCPI(name, address string, conn io.ReadWriteCloser, opts ...SCPIOption) *SCPI {
	s := &SCPI{
		name:          name,
		address:       address,
		conn:          conn,
		r:             bufio.NewReader(conn),
		terminator:    DefaultTerminator,
		errorQuery:    DefaultErrorQuery,
		resetCommand:  DefaultResetCommand,
		clearCommand:  DefaultClearCommand,
		errorChecking: true,
		timeout:       DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.terminator == "" {
		s.terminator = DefaultTerminator
	}
	if rt, ok := conn.(readTimeouter); ok && s.timeout > 0 {
		if err := rt.SetReadTimeout(s.timeout); err != nil {
			monitoring.Logf("%s: failed to set read timeout: %v", s.name, err)
		}
	}
	return s
}

func (s *SCPI) Name() string    { return s.name }
func (s *SCPI) Address() string { return s.address }

// Write sends cmd and checks the instrument's error queue.
func (s *SCPI) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(cmd); err != nil {
		return &Error{Device: s.name, Op: "write", Command: cmd, Err: err}
	}
	monitoring.Debugf("%s: Send '%s'", s.name, cmd)
	if s.errorChecking {
		if err := s.lastError(); err != nil {
			return &Error{Device: s.name, Op: "write", Command: cmd, Err: err}
		}
	}
	return nil
}

// Read sends the query cmd and returns the answer.
func (s *SCPI) Read(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ans, err := s.query(cmd)
	if err != nil {
		return "", &Error{Device: s.name, Op: "read", Command: cmd, Err: err}
	}
	monitoring.Debugf("%s: Recv '%s'", s.name, ans)
	if s.errorChecking {
		if err := s.lastError(); err != nil {
			return "", &Error{Device: s.name, Op: "read", Command: cmd, Err: err}
		}
	}
	return ans, nil
}

// ReadFloat queries cmd and parses the answer as a number.
func (s *SCPI) ReadFloat(cmd string) (float64, error) {
	ans, err := s.Read(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(ans), 64)
	if err != nil {
		return 0, &Error{Device: s.name, Op: "read", Command: cmd, Err: fmt.Errorf("answer %q is not a number", ans)}
	}
	return v, nil
}

// Identify returns the *IDN? answer.
func (s *SCPI) Identify() (string, error) {
	return s.Read(DefaultIdentifyQuery)
}

// LastError queries the error queue. A response code of 0 means no error.
func (s *SCPI) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError()
}

func (s *SCPI) lastError() error {
	ans, err := s.query(s.errorQuery)
	if err != nil {
		return err
	}
	return parseErrorResponse(ans)
}

// parseErrorResponse interprets answers like `+0,"No error"` or
// `-113,"Undefined header"`.
func parseErrorResponse(ans string) error {
	ans = strings.TrimSpace(ans)
	code := ans
	if i := strings.IndexByte(ans, ','); i >= 0 {
		code = ans[:i]
	}
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(code), "+"))
	if err != nil {
		return fmt.Errorf("unexpected error query answer %q", ans)
	}
	if n == 0 {
		return nil
	}
	return errors.New(ans)
}

// Reset sends the reset command.
func (s *SCPI) Reset() error {
	return s.Write(s.resetCommand)
}

// SoftReset clears status and the error queue without touching settings.
func (s *SCPI) SoftReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(s.clearCommand); err != nil {
		return &Error{Device: s.name, Op: "write", Command: s.clearCommand, Err: err}
	}
	return nil
}

// Close closes the underlying connection.
func (s *SCPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	monitoring.Logf("%s: Disconnect.", s.name)
	return s.conn.Close()
}

func (s *SCPI) send(cmd string) error {
	if d, ok := s.conn.(deadliner); ok && s.timeout > 0 {
		_ = d.SetDeadline(time.Now().Add(s.timeout))
	}
	_, err := io.WriteString(s.conn, strings.TrimSpace(cmd)+s.terminator)
	return err
}

func (s *SCPI) query(cmd string) (string, error) {
	if err := s.send(cmd); err != nil {
		return "", err
	}
	return s.readLine()
}

func (s *SCPI) readLine() (string, error) {
	delim := s.terminator[len(s.terminator)-1]
	var b strings.Builder
	for {
		chunk, err := s.r.ReadSlice(delim)
		b.Write(chunk)
		if b.Len() > maxResponseLineLength {
			return "", fmt.Errorf("answer exceeds %d bytes", maxResponseLineLength)
		}
		switch {
		case err == nil:
			line := strings.TrimSuffix(b.String(), s.terminator)
			return strings.TrimRight(line, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.ErrNoProgress):
			return "", fmt.Errorf("timed out after %s", s.timeout)
		default:
			return "", err
		}
	}
}
