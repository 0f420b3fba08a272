// Package record stores a measurement run as a self-describing hierarchical
// container: named groups holding named string or float datasets, persisted
// in a single SQLite file.
package record

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agwidera/meca/internal/timeutil"
)

// FileName is the record's file name inside a run directory.
const FileName = "raw_data.db"

var (
	// ErrInvalidName is returned for empty names or names containing '/'.
	ErrInvalidName = errors.New("invalid record name")
	// ErrExists is returned when creating a group, dataset or file that already exists.
	ErrExists = errors.New("already exists")
	// ErrNotFound is returned for missing groups, datasets or files.
	ErrNotFound = errors.New("not found")
)

// Kind is the element type of a dataset.
type Kind string

const (
	KindStrings Kind = "strings"
	KindFloats  Kind = "floats"
)

// DatasetInfo describes a dataset without its data.
type DatasetInfo struct {
	Group  string
	Name   string
	Kind   Kind
	Length int
}

// Record is an open record file.
type Record struct {
	db    *sql.DB
	path  string
	runID string
	clock timeutil.Clock
}

// Option configures Create.
type Option func(*Record)

// WithClock sets the clock used for group creation times.
func WithClock(c timeutil.Clock) Option { return func(r *Record) { r.clock = c } }

// WithRunID sets the run ID instead of generating one.
func WithRunID(id string) Option { return func(r *Record) { r.runID = id } }

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection so per-connection pragmas hold for every statement.
	db.SetMaxOpenConns(1)
	for _, p := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// Create makes a new record file at path. It fails with ErrExists if the file
// is already there.
func Create(path string, opts ...Option) (*Record, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("record %s: %w", path, ErrExists)
	}

	r := &Record{path: path, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = uuid.New().String()
	}

	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record %s: %w", path, err)
	}
	r.db = db

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := r.SetInfo("run_id", r.runID); err != nil {
		db.Close()
		return nil, err
	}
	if err := r.SetInfo("created_at", r.clock.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Open opens an existing record for reading and appending.
func Open(path string) (*Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("record %s: %w", path, ErrNotFound)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record %s: %w", path, err)
	}

	version, dirty, err := schemaVersion(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("record %s: %w", path, err)
	}
	if version == 0 || dirty {
		db.Close()
		return nil, fmt.Errorf("record %s: not a record file (schema version %d, dirty %v)", path, version, dirty)
	}
	if version > SchemaVersion {
		db.Close()
		return nil, fmt.Errorf("record %s: schema version %d is newer than supported %d", path, version, SchemaVersion)
	}

	r := &Record{db: db, path: path, clock: timeutil.RealClock{}}
	if r.runID, err = r.Info("run_id"); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the record's file path.
func (r *Record) Path() string { return r.path }

// RunID returns the unique ID of the run stored in this record.
func (r *Record) RunID() string { return r.runID }

// Close closes the record file.
func (r *Record) Close() error { return r.db.Close() }

// SetInfo stores a record-level key/value pair.
func (r *Record) SetInfo(key, value string) error {
	_, err := r.db.Exec(`INSERT INTO record_info (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set record info %s: %w", key, err)
	}
	return nil
}

// Info returns a record-level value.
func (r *Record) Info(key string) (string, error) {
	var v string
	err := r.db.QueryRow(`SELECT value FROM record_info WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("record info %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read record info %s: %w", key, err)
	}
	return v, nil
}

// SafeName makes a name usable as a group or dataset name by replacing '/'
// with "in", so "counts/s" becomes "countsins".
func SafeName(name string) string {
	return strings.ReplaceAll(name, "/", "in")
}

func validName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func validPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty group path", ErrInvalidName)
	}
	for _, part := range strings.Split(path, "/") {
		if err := validName(part); err != nil {
			return fmt.Errorf("group %q: %w", path, err)
		}
	}
	return nil
}

// Join builds a group path from names.
func Join(names ...string) string {
	return strings.Join(names, "/")
}

// CreateGroup creates a group. Nested groups use '/' separated paths and
// their parent must already exist.
func (r *Record) CreateGroup(path string) error {
	if err := validPath(path); err != nil {
		return err
	}
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		ok, err := r.HasGroup(path[:i])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("parent of group %q: %w", path, ErrNotFound)
		}
	}
	ok, err := r.HasGroup(path)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("group %q: %w", path, ErrExists)
	}
	_, err = r.db.Exec(`INSERT INTO groups (path, created_at) VALUES (?, ?)`,
		path, r.clock.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to create group %q: %w", path, err)
	}
	return nil
}

// HasGroup reports whether the group exists.
func (r *Record) HasGroup(path string) (bool, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM groups WHERE path = ?`, path).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up group %q: %w", path, err)
	}
	return n > 0, nil
}

// Groups returns every group path in sorted order.
func (r *Record) Groups() ([]string, error) {
	rows, err := r.db.Query(`SELECT path FROM groups ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Children returns the direct child groups of path in sorted order.
func (r *Record) Children(path string) ([]string, error) {
	all, err := r.Groups()
	if err != nil {
		return nil, err
	}
	prefix := path + "/"
	var out []string
	for _, g := range all {
		if rest, ok := strings.CutPrefix(g, prefix); ok && !strings.Contains(rest, "/") {
			out = append(out, g)
		}
	}
	return out, nil
}

// WriteStrings creates a string dataset.
func (r *Record) WriteStrings(group, name string, values []string) error {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode dataset %s/%s: %w", group, name, err)
	}
	return r.insert(group, name, KindStrings, len(values), data)
}

// WriteFloats creates a float dataset.
func (r *Record) WriteFloats(group, name string, values []float64) error {
	return r.insert(group, name, KindFloats, len(values), encodeFloats(values))
}

func (r *Record) insert(group, name string, kind Kind, length int, data []byte) error {
	if err := validName(name); err != nil {
		return fmt.Errorf("dataset in %q: %w", group, err)
	}
	ok, err := r.HasGroup(group)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("group %q: %w", group, ErrNotFound)
	}
	if _, err := r.lookup(group, name); err == nil {
		return fmt.Errorf("dataset %s/%s: %w", group, name, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err = r.db.Exec(`INSERT INTO datasets (group_path, name, kind, length, data, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM datasets))`,
		group, name, string(kind), length, data)
	if err != nil {
		return fmt.Errorf("failed to write dataset %s/%s: %w", group, name, err)
	}
	return nil
}

func (r *Record) lookup(group, name string) (DatasetInfo, error) {
	info := DatasetInfo{Group: group, Name: name}
	var kind string
	err := r.db.QueryRow(`SELECT kind, length FROM datasets WHERE group_path = ? AND name = ?`,
		group, name).Scan(&kind, &info.Length)
	if errors.Is(err, sql.ErrNoRows) {
		return info, fmt.Errorf("dataset %s/%s: %w", group, name, ErrNotFound)
	}
	if err != nil {
		return info, fmt.Errorf("failed to look up dataset %s/%s: %w", group, name, err)
	}
	info.Kind = Kind(kind)
	return info, nil
}

// Datasets lists the datasets of a group in the order they were written.
func (r *Record) Datasets(group string) ([]DatasetInfo, error) {
	rows, err := r.db.Query(`SELECT name, kind, length FROM datasets
		WHERE group_path = ? ORDER BY seq`, group)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets of %q: %w", group, err)
	}
	defer rows.Close()

	var out []DatasetInfo
	for rows.Next() {
		d := DatasetInfo{Group: group}
		var kind string
		if err := rows.Scan(&d.Name, &kind, &d.Length); err != nil {
			return nil, err
		}
		d.Kind = Kind(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Record) read(group, name string, kind Kind) ([]byte, error) {
	var gotKind string
	var data []byte
	err := r.db.QueryRow(`SELECT kind, data FROM datasets WHERE group_path = ? AND name = ?`,
		group, name).Scan(&gotKind, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s/%s: %w", group, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s/%s: %w", group, name, err)
	}
	if Kind(gotKind) != kind {
		return nil, fmt.Errorf("dataset %s/%s holds %s, not %s", group, name, gotKind, kind)
	}
	return data, nil
}

// ReadStrings returns a string dataset.
func (r *Record) ReadStrings(group, name string) ([]string, error) {
	data, err := r.read(group, name, KindStrings)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode dataset %s/%s: %w", group, name, err)
	}
	return out, nil
}

// ReadFloats returns a float dataset.
func (r *Record) ReadFloats(group, name string) ([]float64, error) {
	data, err := r.read(group, name, KindFloats)
	if err != nil {
		return nil, err
	}
	return decodeFloats(data)
}

// encodeFloats packs values as little-endian float64.
func encodeFloats(values []float64) []byte {
	blob := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(blob[8*i:], math.Float64bits(v))
	}
	return blob
}

func decodeFloats(blob []byte) ([]float64, error) {
	if len(blob)%8 != 0 {
		return nil, fmt.Errorf("float blob length %d is not a multiple of 8", len(blob))
	}
	out := make([]float64, len(blob)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[8*i:]))
	}
	return out, nil
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
