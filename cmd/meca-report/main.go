// Command meca-report prints the content of a measurement record and writes
// its HTML report.
//
// Usage:
//
//	meca-report [-tree] [-out report.html] <run-dir | raw_data.db>
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/agwidera/meca/internal/record"
	"github.com/agwidera/meca/internal/report"
)

var (
	tree   = flag.Bool("tree", true, "Print the record's groups and datasets")
	out    = flag.String("out", "", "Report path (default <run-dir>/report.html, - for none)")
	silent = flag.Bool("q", false, "Do not print the metadata summary")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <run-dir | %s>\n", os.Args[0], record.FileName)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0), os.Stdout); err != nil {
		log.Fatalf("meca-report: %v", err)
	}
}

// recordPath accepts a run directory or the record file itself.
func recordPath(arg string) string {
	if fi, err := os.Stat(arg); err == nil && fi.IsDir() {
		return filepath.Join(arg, record.FileName)
	}
	return arg
}

func run(arg string, w io.Writer) error {
	path := recordPath(arg)
	rec, err := record.Open(path)
	if err != nil {
		return err
	}
	defer rec.Close()

	if *tree {
		if err := rec.PrintTree(w); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	r, err := report.Load(rec)
	if err != nil {
		return err
	}
	if !*silent {
		r.Summary(w)
	}

	target := *out
	if target == "-" {
		return nil
	}
	if target == "" {
		target = filepath.Join(filepath.Dir(path), report.FileName)
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if err := r.WriteHTML(f); err != nil {
		f.Close()
		os.Remove(target)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(w, "report written to %s\n", target)
	return nil
}
