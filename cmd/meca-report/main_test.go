package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agwidera/meca/internal/record"
)

func writeRun(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	rec, err := record.Create(filepath.Join(dir, record.FileName), record.WithRunID("run-7"))
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()
	steps := []error{
		rec.InitLayout(),
		rec.WriteStrings(record.GroupMeta, record.MetaMeasurement, []string{"Name: Counter"}),
		rec.WriteFloats(record.GroupIterators, record.TimestampsDataset, []float64{1, 2}),
		rec.CreateGroup("Observables/Counts"),
		rec.WriteFloats("Observables/Counts", "0", []float64{5, 6}),
	}
	for _, err := range steps {
		if err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRunWritesReport(t *testing.T) {
	dir := writeRun(t)
	var buf bytes.Buffer
	if err := run(dir, &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"(run run-7)", "Counts/", "0 [floats x 2]", "Name: Counter", "report written to"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "report.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("Counter")) {
		t.Error("report does not carry the measurement name")
	}
}

func TestRecordPath(t *testing.T) {
	dir := t.TempDir()
	if got := recordPath(dir); got != filepath.Join(dir, record.FileName) {
		t.Errorf("recordPath(dir) = %s", got)
	}
	file := filepath.Join(dir, "other.db")
	if got := recordPath(file); got != file {
		t.Errorf("recordPath(file) = %s", got)
	}
}

func TestRunMissingRecord(t *testing.T) {
	if err := run(t.TempDir(), &bytes.Buffer{}); err == nil {
		t.Fatal("expected an error for a directory without a record")
	}
}
