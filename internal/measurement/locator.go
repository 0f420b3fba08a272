package measurement

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Placeholders for the parts of a Location that could not be determined.
const (
	FileNotFound       = "<File not found>"
	LineNotFound       = "<Line not found>"
	LineNumberNotFound = "<Line Number not found>"
)

// Phase is the script callback an error occurred in.
type Phase string

const (
	PhaseSetup    Phase = "Setup"
	PhaseRun      Phase = "Measurement"
	PhaseShutdown Phase = "Shutdown"
)

// Location points at the script line an error came from.
type Location struct {
	File       string `json:"file"`
	Line       string `json:"line"`
	LineNumber string `json:"line_number"`
}

func unknownLocation() Location {
	return Location{File: FileNotFound, Line: LineNotFound, LineNumber: LineNumberNotFound}
}

// ErrorReport is handed to the surface when a script callback fails.
type ErrorReport struct {
	Phase    Phase    `json:"phase"`
	Script   string   `json:"script"`
	Message  string   `json:"message"`
	Location Location `json:"location"`
	Err      error    `json:"-"`
}

// Error renders the report the way it is shown to the operator.
func (r ErrorReport) Error() string {
	return fmt.Sprintf("A fatal error occurred during the %s of the Measurement:\n\n"+
		"Error Message: '%s'\n\n"+
		"in Script '%s' at Line %s during:\n%s",
		r.Phase, r.Message, r.Location.File, r.Location.LineNumber, r.Location.Line)
}

func (r ErrorReport) Unwrap() error { return r.Err }

// locatedError carries the script position it was created at.
type locatedError struct {
	err  error
	file string
	line int
}

func (e *locatedError) Error() string { return e.err.Error() }
func (e *locatedError) Unwrap() error { return e.err }

// Errorf formats an error like fmt.Errorf and records the caller's file and
// line, so a failing script step is reported with its location.
func Errorf(format string, a ...any) error {
	err := fmt.Errorf(format, a...)
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return err
	}
	return &locatedError{err: err, file: file, line: line}
}

// PanicError is a recovered panic from a script callback.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap exposes panics raised with an error value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// recovered converts a panic value into an error located at the innermost
// frame that belongs to the script. It must be called from the deferred
// function that recovered.
func recovered(value any, isScript func(file string) bool) error {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var stack strings.Builder
	var file string
	var line int
	for {
		f, more := frames.Next()
		fmt.Fprintf(&stack, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if file == "" && isScript(f.File) {
			file, line = f.File, f.Line
		}
		if !more {
			break
		}
	}

	perr := &PanicError{Value: value, Stack: stack.String()}
	if file == "" {
		return perr
	}
	return &locatedError{err: perr, file: file, line: line}
}

// locate resolves the script position recorded in err. lines returns the
// source of a file when it can be read.
func locate(err error, display func(file string) string, lines func(file string) []string) Location {
	loc := unknownLocation()
	var le *locatedError
	if !errors.As(err, &le) {
		return loc
	}
	loc.File = display(le.file)
	loc.LineNumber = strconv.Itoa(le.line)
	if src := lines(le.file); le.line >= 1 && le.line <= len(src) {
		loc.Line = strings.TrimSpace(src[le.line-1])
	}
	return loc
}

// scriptDisplayName shortens a source path to its part below the last
// "scripts" directory, falling back to the base name.
func scriptDisplayName(file string) string {
	slashed := filepath.ToSlash(file)
	if i := strings.LastIndex(slashed, "/scripts/"); i >= 0 {
		return slashed[i+len("/scripts/"):]
	}
	return filepath.Base(file)
}
