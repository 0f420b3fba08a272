package measurement

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/agwidera/meca/internal/monitoring"
	"github.com/agwidera/meca/internal/record"
	"github.com/agwidera/meca/internal/timeutil"
	"github.com/agwidera/meca/internal/version"
)

// save writes the run into rec: meta information, iterator values with the
// completion timestamps, and every observable marked for saving.
func (e *Engine) save(rec *record.Record, params Parameters, aborted bool, stoppedAt time.Time) error {
	if err := e.saveMeta(rec, params, aborted, stoppedAt); err != nil {
		return err
	}
	if err := e.saveIterators(rec); err != nil {
		return err
	}
	return e.saveObservables(rec)
}

// ScriptBanner is the header stored above the script source in every record.
func ScriptBanner(scriptPath string) string {
	return fmt.Sprintf("# ----- Measurement Script %s ----- #\n"+
		"# Script was executed with Software Version:\n"+
		"# Git Hash: %s\n"+
		"# Git Tag: %s\n\n\n",
		scriptPath, version.Commit(), version.GitTag)
}

func (e *Engine) saveMeta(rec *record.Record, params Parameters, aborted bool, stoppedAt time.Time) error {
	measurement := []string{
		"Folder: " + e.info.Folder,
		"Script: " + e.info.File,
		"Name: " + e.name,
		"Time Start: " + e.startedAt.Format(timeutil.RecordLayout),
		"Time Stop: " + stoppedAt.Format(timeutil.RecordLayout),
	}

	iterators := make([]string, 0, len(e.iterators))
	for _, it := range e.iterators {
		iterators = append(iterators, it.Describe())
	}

	parameters := make([]string, 0, len(params))
	for _, name := range slices.Sorted(maps.Keys(params)) {
		parameters = append(parameters, name+": "+strconv.FormatFloat(params[name], 'g', -1, 64))
	}

	type stringSet struct {
		name   string
		values []string
	}
	datasets := []stringSet{
		{record.MetaMeasurement, measurement},
		{record.MetaScript, []string{ScriptBanner(e.info.Path()) + e.info.Source}},
		{record.MetaIterators, iterators},
		{record.MetaParameters, parameters},
		{record.MetaComments, []string{e.comment}},
		{record.MetaDevices, e.devices.Describe()},
	}
	if aborted {
		datasets = append(datasets, stringSet{record.MetaAbortFlag, []string{record.AbortMarker}})
	}
	for _, d := range datasets {
		if err := rec.WriteStrings(record.GroupMeta, d.name, d.values); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) saveIterators(rec *record.Record) error {
	done := e.timestamps[:e.currentPoint]
	stamps := make([]float64, len(done))
	for i, t := range done {
		stamps[i] = timeutil.UnixSeconds(t)
	}
	if err := rec.WriteFloats(record.GroupIterators, record.TimestampsDataset, stamps); err != nil {
		return err
	}
	for _, it := range e.iterators {
		if err := rec.WriteFloats(record.GroupIterators, record.SafeName(it.Name), it.Values); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) saveObservables(rec *record.Record) error {
	for _, o := range e.Observables() {
		if !o.Save {
			continue
		}
		group := record.Join(record.GroupObservables, record.SafeName(o.Name))
		if err := rec.CreateGroup(group); err != nil {
			return err
		}

		switch o.Type {
		case Number:
			for _, col := range o.Columns() {
				values, _ := o.Column(col)
				if err := rec.WriteFloats(group, strconv.Itoa(col), values); err != nil {
					return err
				}
			}
		case Histogram:
			// Only the counts are kept; bin indices follow from the device settings.
			for _, key := range o.HistogramKeys() {
				h, _ := o.HistogramAt(key)
				if err := rec.WriteFloats(group, key, h.Data()); err != nil {
					return err
				}
			}
		case Image:
			monitoring.Debugf("%s: image observable '%s' is not saved", e.script.Name(), o.Name)
		}
	}
	return nil
}
