package planarsim

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportTraceCSV(t *testing.T) {
	dir := t.TempDir()
	tr := parabolicTrace(5)
	ExportTrace(ExportConfig{Filename: "fall", OutputDir: dir, CSV: true}, &tr)

	f, err := os.Open(dir + "/run-fall.csv")
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	// Header plus one row per sample.
	require.Len(t, rows, 6)
	assert.Equal(t, "t", rows[0][0])
	assert.Equal(t, "body0_x", rows[0][1])
	assert.Equal(t, "Em", rows[0][len(rows[0])-1])
	assert.Len(t, rows[1], 1+6+3)
}

func TestExportTraceJSON(t *testing.T) {
	dir := t.TempDir()
	tr := parabolicTrace(4)
	ExportTrace(ExportConfig{Filename: "fall", OutputDir: dir, JSON: true}, &tr)

	raw, err := os.ReadFile(dir + "/run-fall.json")
	require.NoError(t, err)
	var samples []Sample
	require.NoError(t, json.Unmarshal(raw, &samples))
	require.Len(t, samples, 4)
	assert.Equal(t, tr.Samples[0].Energy.Em, samples[0].Energy.Em)
}

func TestExportUseless(t *testing.T) {
	conf := ExportConfig{Filename: "nothing"}
	assert.True(t, conf.IsUseless())
	// Must drain the channel without writing anything.
	tr := parabolicTrace(3)
	ExportTrace(conf, &tr)
}

func TestStreamFromDriver(t *testing.T) {
	dir := t.TempDir()
	c := freeFallContract(0.5, RK4)
	res := mustRun(t, c, WithExport(ExportConfig{Filename: "drive", OutputDir: dir, CSV: true}))
	require.NoError(t, res.Fatal)

	f, err := os.Open(dir + "/run-drive.csv")
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, len(res.Trace.Samples)+1)
}
