package device

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"
)

// NoErrorResponse is the SCPI error queue answer meaning "no error".
const NoErrorResponse = `+0,"No error"`

// MockPort is a scripted instrument connection for testing SCPI devices
// without hardware. Each newline-terminated command written to it is
// recorded; queries listed in Responses queue their answer for reading.
type MockPort struct {
	mu sync.Mutex

	// Responses maps a query to the answer line queued when it is written.
	Responses map[string]string

	// ErrorQueue holds answers returned for SYST:ERR? before NoErrorResponse.
	ErrorQueue []string

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	readBuffer bytes.Buffer
	pending    []byte
	commands   []string
}

// NewMockPort creates a MockPort answering the given queries.
func NewMockPort(responses map[string]string) *MockPort {
	if responses == nil {
		responses = make(map[string]string)
	}
	return &MockPort{Responses: responses}
}

// Read returns queued answers. An empty queue reads as io.EOF.
func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return 0, errors.New("serial port closed")
	}
	return m.readBuffer.Read(p)
}

// Write records commands and queues answers for known queries.
func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return 0, errors.New("serial port closed")
	}
	if m.WriteError != nil {
		err := m.WriteError
		m.WriteError = nil
		return 0, err
	}

	m.pending = append(m.pending, p...)
	for {
		i := bytes.IndexByte(m.pending, '\n')
		if i < 0 {
			break
		}
		cmd := strings.TrimRight(string(m.pending[:i]), "\r")
		m.pending = m.pending[i+1:]
		m.commands = append(m.commands, cmd)
		m.answer(cmd)
	}
	return len(p), nil
}

func (m *MockPort) answer(cmd string) {
	if strings.EqualFold(cmd, DefaultErrorQuery) {
		ans := NoErrorResponse
		if len(m.ErrorQueue) > 0 {
			ans, m.ErrorQueue = m.ErrorQueue[0], m.ErrorQueue[1:]
		}
		m.readBuffer.WriteString(ans + "\n")
		return
	}
	if ans, ok := m.Responses[cmd]; ok {
		m.readBuffer.WriteString(ans + "\n")
	}
}

// Close marks the port as closed.
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return m.CloseError
}

// SetReadTimeout records the timeout like a go.bug.st/serial port.
func (m *MockPort) SetReadTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadTimeout = timeout
	return nil
}

// Commands returns every command written so far, without terminators.
func (m *MockPort) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}
