// Package export records a sampling session as CSV, optionally zstd
// compressed.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"ecg-monitor/internal/models"

	"github.com/klauspost/compress/zstd"
)

// Header is the fixed column order of an export.
var Header = []string{"timestamp_utc", "raw", "voltage_mV", "filtered_mV", "r_detected"}

const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Writer is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	csv     *csv.Writer
	enc     *zstd.Encoder
	file    io.Closer
	rows    int
	flushAt int
}

// NewWriter writes the header to w and returns a Writer that buffers rows,
// flushing every flushEvery rows (every row when flushEvery < 1).
func NewWriter(w io.Writer, flushEvery int) (*Writer, error) {
	ew := &Writer{csv: csv.NewWriter(w), flushAt: flushEvery}
	if err := ew.writeHeader(); err != nil {
		return nil, err
	}
	return ew, nil
}

// Create opens <dir>/<name>.csv, or <name>.csv.zst when level > 0.
// Level follows 1 fastest to 4 best compression.
func Create(dir, name string, level, flushEvery int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, name+".csv")
	if level > 0 {
		path += ".zst"
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}

	ew := &Writer{file: f, flushAt: flushEvery}
	var out io.Writer = f
	if level > 0 {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(encoderLevel(level)))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		ew.enc = enc
		out = enc
	}
	ew.csv = csv.NewWriter(out)
	if err := ew.writeHeader(); err != nil {
		ew.Close()
		return nil, err
	}
	return ew, nil
}

func encoderLevel(level int) zstd.EncoderLevel {
	switch level {
	case 1:
		return zstd.SpeedFastest
	case 3:
		return zstd.SpeedBetterCompression
	case 4:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func (w *Writer) writeHeader() error {
	if err := w.csv.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Row formats a record in export column order. Filter columns are empty
// when the session did not filter, and r_detected is 0 or 1 otherwise.
func Row(rec models.StreamRecord) []string {
	row := []string{
		rec.Sample.Timestamp.UTC().Format(TimestampLayout),
		strconv.Itoa(int(rec.Sample.Raw)),
		strconv.FormatFloat(rec.Sample.VoltageMV, 'f', 3, 64),
		"",
		"",
	}
	if rec.Filtered {
		row[3] = strconv.FormatFloat(rec.FilteredMV, 'f', 3, 64)
		row[4] = "0"
		if rec.RDetected {
			row[4] = "1"
		}
	}
	return row
}

func (w *Writer) Write(rec models.StreamRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.csv.Write(Row(rec)); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.rows++
	if w.flushAt < 1 || w.rows%w.flushAt == 0 {
		w.csv.Flush()
		return w.csv.Error()
	}
	return nil
}

func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close flushes buffered rows and closes the encoder and file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	err := w.csv.Error()
	if w.enc != nil {
		if cerr := w.enc.Close(); cerr != nil && err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.file != nil {
		if cerr := w.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		w.file = nil
	}
	return err
}
