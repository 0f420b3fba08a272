package monitoring

import (
	"fmt"
	"testing"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("point %d", 3)
	if len(*lines) != 1 || (*lines)[0] != "point 3" {
		t.Errorf("lines = %v", *lines)
	}

	// nil installs a no-op logger
	SetLogger(nil)
	Logf("dropped")
	if len(*lines) != 1 {
		t.Errorf("no-op logger recorded output: %v", *lines)
	}
}

func TestDebugf(t *testing.T) {
	lines := capture(t)
	t.Cleanup(func() { SetDebug(false) })

	Debugf("Send '%s'", "*IDN?")
	if len(*lines) != 0 {
		t.Fatalf("Debugf logged while disabled: %v", *lines)
	}

	SetDebug(true)
	if !DebugEnabled() {
		t.Fatal("DebugEnabled() = false after SetDebug(true)")
	}
	Debugf("Send '%s'", "*IDN?")
	if len(*lines) != 1 || (*lines)[0] != "Send '*IDN?'" {
		t.Errorf("lines = %v", *lines)
	}
}

func TestPrefixed(t *testing.T) {
	lines := capture(t)
	logf := Prefixed("odmr: ")
	logf("failed at point %d", 2)
	if len(*lines) != 1 || (*lines)[0] != "odmr: failed at point 2" {
		t.Errorf("lines = %v", *lines)
	}
}
