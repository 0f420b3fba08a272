package record

import (
	"fmt"
	"io"
	"strings"
)

// Top-level groups of a measurement record.
const (
	GroupMeta        = "Meta Info"
	GroupIterators   = "Iterators"
	GroupObservables = "Observables"
)

// Datasets of the Meta Info group.
const (
	MetaMeasurement = "Measurement"
	MetaScript      = "Script"
	MetaIterators   = "Iterators"
	MetaParameters  = "Parameters"
	MetaComments    = "Comments"
	MetaDevices     = "Devices"
	MetaAbortFlag   = "Abort Flag"
)

// TimestampsDataset is the Iterators dataset holding per-point completion times
// in Unix seconds.
const TimestampsDataset = "Timestamps"

// AbortMarker is stored in MetaAbortFlag when a run was stopped early.
const AbortMarker = "This Measurement was aborted."

// TopGroups lists the groups every record is initialised with.
func TopGroups() []string {
	return []string{GroupMeta, GroupIterators, GroupObservables}
}

// InitLayout creates the top-level groups.
func (r *Record) InitLayout() error {
	for _, g := range TopGroups() {
		if err := r.CreateGroup(g); err != nil {
			return err
		}
	}
	return nil
}

// Aborted reports whether the record carries the abort marker.
func (r *Record) Aborted() (bool, error) {
	_, err := r.lookup(GroupMeta, MetaAbortFlag)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// GroupInfo is one group with its datasets.
type GroupInfo struct {
	Path     string
	Datasets []DatasetInfo
}

// Tree returns every group with its datasets, groups sorted by path.
func (r *Record) Tree() ([]GroupInfo, error) {
	groups, err := r.Groups()
	if err != nil {
		return nil, err
	}
	out := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		ds, err := r.Datasets(g)
		if err != nil {
			return nil, err
		}
		out = append(out, GroupInfo{Path: g, Datasets: ds})
	}
	return out, nil
}

// PrintTree writes an indented listing of groups and datasets to w.
func (r *Record) PrintTree(w io.Writer) error {
	tree, err := r.Tree()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s (run %s)\n", r.path, r.runID)
	for _, g := range tree {
		depth := strings.Count(g.Path, "/")
		indent := strings.Repeat("  ", depth+1)
		name := g.Path[strings.LastIndexByte(g.Path, '/')+1:]
		fmt.Fprintf(w, "%s%s/\n", indent, name)
		for _, d := range g.Datasets {
			fmt.Fprintf(w, "%s  %s [%s x %d]\n", indent, d.Name, d.Kind, d.Length)
		}
	}
	return nil
}
