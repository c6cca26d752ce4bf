package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ecg-monitor/internal/models"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC)

func record(filtered, detected bool) models.StreamRecord {
	return models.StreamRecord{
		Sample:     models.Sample{Timestamp: ts, Raw: -200, VoltageMV: -25},
		Filtered:   filtered,
		FilteredMV: 0.12345,
		Detecting:  filtered,
		RDetected:  detected,
	}
}

func TestRow(t *testing.T) {
	assert.Equal(t,
		[]string{"2024-03-01T12:30:45.123456Z", "-200", "-25.000", "", ""},
		Row(record(false, false)))
	assert.Equal(t,
		[]string{"2024-03-01T12:30:45.123456Z", "-200", "-25.000", "0.123", "1"},
		Row(record(true, true)))
	assert.Equal(t, "0", Row(record(true, false))[4])
}

func TestWriter_PlainCSV(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 0)
	require.NoError(t, err)
	require.NoError(t, w.Write(record(true, false)))
	require.NoError(t, w.Write(record(false, false)))
	require.NoError(t, w.Close())
	assert.Equal(t, 2, w.Rows())

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "0.123", rows[1][3])
	assert.Equal(t, "", rows[2][3])
}

func TestCreate_CompressedFile(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, "session-1", 1, 100)
	require.NoError(t, err)
	for i := 0; i < 250; i++ {
		require.NoError(t, w.Write(record(true, i%50 == 0)))
	}
	require.NoError(t, w.Close())

	f, err := os.Open(filepath.Join(dir, "session-1.csv.zst"))
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	rows, err := csv.NewReader(dec).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 251)
	assert.Equal(t, "1", rows[1][4])
	assert.Equal(t, "0", rows[2][4])
}

func TestCreate_PlainFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	w, err := Create(dir, "s", 0, 1)
	require.NoError(t, err)
	require.NoError(t, w.Write(record(false, false)))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, "s.csv"))
	require.NoError(t, err)
	assert.Equal(t, "timestamp_utc,raw,voltage_mV,filtered_mV,r_detected\n2024-03-01T12:30:45.123456Z,-200,-25.000,,\n", string(data))
}
