package telemetry

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// ErrEndOfRecording is returned by ReplaySource once every row was served
// and looping is off.
var ErrEndOfRecording = errors.New("end of recording")

// ReplaySource serves the samples of a recording in order.
type ReplaySource struct {
	samples []Snapshot
	next    int
	loop    bool
}

// OpenReplay loads a recording written by Recorder.
func OpenReplay(path string, loop bool) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}
	defer f.Close()

	samples, err := ReadRecording(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewReplay(samples, loop), nil
}

// NewReplay serves samples from memory.
func NewReplay(samples []Snapshot, loop bool) *ReplaySource {
	return &ReplaySource{samples: samples, loop: loop}
}

// ReadRecording parses CSV rows in the Recorder format.
func ReadRecording(r io.Reader) ([]Snapshot, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i, h := range csvHeader {
		if header[i] != h {
			return nil, fmt.Errorf("column %d is %q, want %q", i, header[i], h)
		}
	}

	var out []Snapshot
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: time: %w", line, err)
		}
		vals := make([]float64, len(row)-1)
		for i, field := range row[1:] {
			if vals[i], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, csvHeader[i+1], err)
			}
		}
		s := fromValues(vals)
		s.Time = ts
		out = append(out, s)
	}
	return out, nil
}

// Sample returns the next recorded row.
func (r *ReplaySource) Sample(ctx context.Context) (Snapshot, error) {
	if ctx.Err() != nil {
		return Snapshot{}, ErrTimeout
	}
	if r.next >= len(r.samples) {
		if !r.loop || len(r.samples) == 0 {
			return Snapshot{}, ErrEndOfRecording
		}
		r.next = 0
	}
	s := r.samples[r.next]
	r.next++
	return s, nil
}

// Ready fails for an empty recording.
func (r *ReplaySource) Ready(context.Context) error {
	if len(r.samples) == 0 {
		return fmt.Errorf("recording has no samples")
	}
	return nil
}

// Len returns the number of recorded samples.
func (r *ReplaySource) Len() int { return len(r.samples) }

func (r *ReplaySource) Close() error { return nil }
