package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// csvHeader names the recorded columns. The first column is the sample time.
var csvHeader = []string{
	"time",
	"groundspeed",
	"fnrml_prop", "fside_prop", "faxil_prop",
	"fnrml_aero", "fside_aero", "faxil_aero",
	"fnrml_gear", "fside_gear", "faxil_gear",
	"m_total",
	"theta", "psi", "phi",
	"paused",
}

// Recorder writes every sample of a session to a CSV file in dir and keeps at
// most maxFiles sessions.
type Recorder struct {
	dir      string
	maxFiles int

	session string
	file    *os.File
	w       *csv.Writer
}

// NewRecorder creates a Recorder that stores sessions in dir.
func NewRecorder(dir string, maxFiles int) *Recorder {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Recorder{
		dir:      dir,
		maxFiles: maxFiles,
	}
}

// Start opens a new session file stamped with ts and prunes old sessions.
// It returns the session ID.
func (r *Recorder) Start(ts time.Time) (string, error) {
	if r.file != nil {
		return "", fmt.Errorf("recording session %s already open", r.session)
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("creating recording dir: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(r.dir, fmt.Sprintf("session_%d_%s.csv", ts.Unix(), id))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating recording file: %w", err)
	}

	r.session, r.file, r.w = id, f, csv.NewWriter(f)
	if err := r.w.Write(csvHeader); err != nil {
		r.Close()
		return "", fmt.Errorf("writing recording header: %w", err)
	}

	if err := r.prune(); err != nil {
		return id, err
	}
	return id, nil
}

// Path returns the file of the open session, or "" when none is open.
func (r *Recorder) Path() string {
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

// Record appends one sample. Rows are buffered; Flush or Close persists them.
func (r *Recorder) Record(s Snapshot) error {
	if r.w == nil {
		return fmt.Errorf("no recording session open")
	}
	vals := s.values()
	row := make([]string, 0, len(vals)+1)
	row = append(row, s.Time.UTC().Format(time.RFC3339Nano))
	for _, v := range vals {
		row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return r.w.Write(row)
}

// Flush writes buffered rows to disk.
func (r *Recorder) Flush() error {
	if r.w == nil {
		return nil
	}
	r.w.Flush()
	return r.w.Error()
}

// Close flushes and closes the open session.
func (r *Recorder) Close() error {
	if r.file == nil {
		return nil
	}
	flushErr := r.Flush()
	closeErr := r.file.Close()
	r.file, r.w, r.session = nil, nil, ""
	if flushErr != nil {
		return fmt.Errorf("flushing recording: %w", flushErr)
	}
	return closeErr
}

// Latest returns the path of the newest session in dir.
func (r *Recorder) Latest() (string, time.Time, error) {
	files, err := r.listFiles()
	if err != nil {
		return "", time.Time{}, err
	}
	if len(files) == 0 {
		return "", time.Time{}, fmt.Errorf("no recordings found in %s", r.dir)
	}
	latest := files[len(files)-1]
	return filepath.Join(r.dir, latest.name), latest.ts, nil
}

type sessionFile struct {
	name string
	ts   time.Time
}

// listFiles returns session files sorted oldest first.
func (r *Recorder) listFiles() ([]sessionFile, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing recording dir: %w", err)
	}

	var files []sessionFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".csv") {
			continue
		}
		stamp, _, ok := strings.Cut(strings.TrimPrefix(name, "session_"), "_")
		if !ok {
			continue
		}
		unix, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, sessionFile{name: name, ts: time.Unix(unix, 0)})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].ts.Equal(files[j].ts) {
			return files[i].name < files[j].name
		}
		return files[i].ts.Before(files[j].ts)
	})
	return files, nil
}

func (r *Recorder) prune() error {
	files, err := r.listFiles()
	if err != nil {
		return err
	}
	if len(files) <= r.maxFiles {
		return nil
	}

	current := filepath.Base(r.Path())
	for _, f := range files[:len(files)-r.maxFiles] {
		if f.name == current {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, f.name)); err != nil {
			return fmt.Errorf("pruning recording %s: %w", f.name, err)
		}
	}
	return nil
}
