package record

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agwidera/meca/internal/timeutil"
)

func newRecord(t *testing.T, opts ...Option) *Record {
	t.Helper()
	r, err := Create(filepath.Join(t.TempDir(), FileName), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCreateInitialisesRecord(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	r := newRecord(t, WithClock(clock), WithRunID("run-1"))

	assert.Equal(t, "run-1", r.RunID())
	created, err := r.Info("created_at")
	require.NoError(t, err)
	assert.Equal(t, "2026-04-01T09:00:00Z", created)

	_, err = r.Info("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateGeneratesRunID(t *testing.T) {
	a, b := newRecord(t), newRecord(t)
	assert.Len(t, a.RunID(), 36)
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestCreateRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	r, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = Create(path)
	assert.ErrorIs(t, err, ErrExists)
}

func TestGroups(t *testing.T) {
	r := newRecord(t)
	require.NoError(t, r.InitLayout())

	require.NoError(t, r.CreateGroup(Join(GroupObservables, "PL")))
	assert.ErrorIs(t, r.CreateGroup(GroupMeta), ErrExists)
	assert.ErrorIs(t, r.CreateGroup("Nope/Child"), ErrNotFound)
	assert.ErrorIs(t, r.CreateGroup(""), ErrInvalidName)
	assert.ErrorIs(t, r.CreateGroup("Observables//x"), ErrInvalidName)

	groups, err := r.Groups()
	require.NoError(t, err)
	assert.Equal(t, []string{"Iterators", "Meta Info", "Observables", "Observables/PL"}, groups)

	children, err := r.Children(GroupObservables)
	require.NoError(t, err)
	assert.Equal(t, []string{"Observables/PL"}, children)
}

func TestDatasetsRoundTrip(t *testing.T) {
	r := newRecord(t)
	require.NoError(t, r.InitLayout())

	floats := []float64{0, -1.5, math.Pi, 1e-300, math.Inf(1)}
	require.NoError(t, r.WriteFloats(GroupIterators, "Frequency", floats))
	require.NoError(t, r.WriteStrings(GroupMeta, MetaComments, []string{"line one\nline two", "ünïcode"}))
	require.NoError(t, r.WriteStrings(GroupMeta, MetaDevices, nil))

	got, err := r.ReadFloats(GroupIterators, "Frequency")
	require.NoError(t, err)
	assert.Equal(t, floats, got)

	s, err := r.ReadStrings(GroupMeta, MetaComments)
	require.NoError(t, err)
	assert.Equal(t, []string{"line one\nline two", "ünïcode"}, s)

	empty, err := r.ReadStrings(GroupMeta, MetaDevices)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = r.ReadStrings(GroupIterators, "Frequency")
	assert.Error(t, err, "kind mismatch must fail")
	_, err = r.ReadFloats(GroupIterators, "Missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDatasetErrors(t *testing.T) {
	r := newRecord(t)
	require.NoError(t, r.InitLayout())

	require.NoError(t, r.WriteFloats(GroupIterators, "A", []float64{1}))
	assert.ErrorIs(t, r.WriteFloats(GroupIterators, "A", []float64{2}), ErrExists)
	assert.ErrorIs(t, r.WriteFloats(GroupIterators, "a/b", nil), ErrInvalidName)
	assert.ErrorIs(t, r.WriteFloats(GroupIterators, "", nil), ErrInvalidName)
	assert.ErrorIs(t, r.WriteFloats("Nope", "A", nil), ErrNotFound)

	// the failed write left the original intact
	got, err := r.ReadFloats(GroupIterators, "A")
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, got)
}

func TestDatasetsKeepWriteOrder(t *testing.T) {
	r := newRecord(t)
	require.NoError(t, r.InitLayout())
	for _, name := range []string{"10", "2", "1"} {
		require.NoError(t, r.WriteFloats(GroupIterators, name, []float64{1, 2}))
	}
	ds, err := r.Datasets(GroupIterators)
	require.NoError(t, err)
	require.Len(t, ds, 3)
	assert.Equal(t, "10", ds[0].Name)
	assert.Equal(t, "1", ds[2].Name)
	assert.Equal(t, KindFloats, ds[0].Kind)
	assert.Equal(t, 2, ds[0].Length)
}

func TestOpenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	r, err := Create(path, WithRunID("abc"))
	require.NoError(t, err)
	require.NoError(t, r.InitLayout())
	require.NoError(t, r.WriteStrings(GroupMeta, MetaAbortFlag, []string{AbortMarker}))
	require.NoError(t, r.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()
	assert.Equal(t, "abc", r2.RunID())

	aborted, err := r2.Aborted()
	require.NoError(t, err)
	assert.True(t, aborted)

	var buf bytes.Buffer
	require.NoError(t, r2.PrintTree(&buf))
	out := buf.String()
	assert.Contains(t, out, "Meta Info/")
	assert.Contains(t, out, "Abort Flag [strings x 1]")
}

func TestOpenRejectsMissingAndForeignFiles(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.db"))
	assert.ErrorIs(t, err, ErrNotFound)

	// A plain SQLite file without the record schema.
	path := filepath.Join(t.TempDir(), "other.db")
	db, err := openDB(path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE t (x INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not a record file"), err.Error())
}

func TestNotAborted(t *testing.T) {
	r := newRecord(t)
	require.NoError(t, r.InitLayout())
	aborted, err := r.Aborted()
	require.NoError(t, err)
	assert.False(t, aborted)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "countsins", SafeName("counts/s"))
	assert.Equal(t, "PL", SafeName("PL"))
}
