package measurement

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorfRecordsCaller(t *testing.T) {
	base := errors.New("timeout")
	err := Errorf("reading counter: %w", base)

	if !errors.Is(err, base) {
		t.Error("Errorf does not wrap its %w argument")
	}
	var le *locatedError
	if !errors.As(err, &le) {
		t.Fatal("Errorf did not record a location")
	}
	if !strings.HasSuffix(le.file, "locator_test.go") {
		t.Errorf("file = %s", le.file)
	}

	src := map[string][]string{le.file: make([]string, le.line)}
	src[le.file][le.line-1] = "\t\terr := Errorf(...)  "
	loc := locate(err, scriptDisplayName, func(f string) []string { return src[f] })
	want := Location{File: "locator_test.go", Line: "err := Errorf(...)", LineNumber: fmt.Sprint(le.line)}
	if loc != want {
		t.Errorf("locate = %+v, want %+v", loc, want)
	}
}

func TestLocateWithoutSource(t *testing.T) {
	err := Errorf("boom")
	loc := locate(err, scriptDisplayName, func(string) []string { return nil })
	if loc.Line != LineNotFound {
		t.Errorf("Line = %q, want placeholder", loc.Line)
	}
	if loc.LineNumber == LineNumberNotFound {
		t.Error("line number should be known")
	}
}

func TestRecoveredFindsScriptFrame(t *testing.T) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(r, func(file string) bool { return strings.HasSuffix(file, "locator_test.go") })
			}
		}()
		panic("stage out of range")
	}()

	var perr *PanicError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PanicError, got %T", err)
	}
	if perr.Value != "stage out of range" || !strings.Contains(perr.Stack, "locator_test.go") {
		t.Errorf("panic = %+v", perr)
	}
	var le *locatedError
	if !errors.As(err, &le) {
		t.Fatal("panic was not located")
	}
}

func TestRecoveredWithoutScriptFrame(t *testing.T) {
	var err error
	func() {
		defer func() {
			err = recovered(recover(), func(string) bool { return false })
		}()
		panic(errors.New("inner"))
	}()
	var le *locatedError
	if errors.As(err, &le) {
		t.Error("no script frame, yet located")
	}
	if err.Error() != "panic: inner" {
		t.Errorf("Error() = %q", err.Error())
	}
	if errors.Unwrap(err) == nil {
		t.Error("panic error value should unwrap")
	}
}

func TestScriptDisplayName(t *testing.T) {
	tests := map[string]string{
		"/home/lab/meca/scripts/nv/odmr.go": "nv/odmr.go",
		"/tmp/x/odmr.go":                    "odmr.go",
		"/a/scripts/b/scripts/c.go":         "c.go",
	}
	for in, want := range tests {
		if got := scriptDisplayName(in); got != want {
			t.Errorf("scriptDisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestErrorReportMessage(t *testing.T) {
	r := ErrorReport{
		Phase:    PhaseSetup,
		Message:  "no laser",
		Location: Location{File: "nv/odmr.go", Line: "return err", LineNumber: "42"},
	}
	want := "A fatal error occurred during the Setup of the Measurement:\n\n" +
		"Error Message: 'no laser'\n\n" +
		"in Script 'nv/odmr.go' at Line 42 during:\nreturn err"
	if r.Error() != want {
		t.Errorf("got %q", r.Error())
	}
}
