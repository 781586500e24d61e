package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_OKRun(t *testing.T) {
	started := time.Now().Add(-time.Second)
	e := New("backfill", started, map[string]int{"scanned": 3}, nil)

	assert.Equal(t, "backfill", e.Tool)
	assert.NotEmpty(t, e.RunID)
	assert.Equal(t, "ok", e.Status)
	assert.Empty(t, e.Error)
	assert.False(t, e.FinishedAt.Before(e.StartedAt))
}

func TestNew_FailedRunKeepsData(t *testing.T) {
	e := New("backfill", time.Now(), map[string]int{"scanned": 3}, assert.AnError)

	assert.Equal(t, "error", e.Status)
	assert.Equal(t, assert.AnError.Error(), e.Error)
	assert.NotNil(t, e.Data)
}

func TestNew_UniqueRunIDs(t *testing.T) {
	a := New("audit", time.Now(), nil, nil)
	b := New("audit", time.Now(), nil, nil)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	e := New("audit", time.Now(), map[string]int{"audited": 7}, nil)

	path, err := Write(dir, e)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "audit_"+e.RunID+".json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, e.RunID, decoded.RunID)
	assert.Equal(t, "ok", decoded.Status)

	latest, err := os.ReadFile(filepath.Join(dir, "audit_latest.json"))
	require.NoError(t, err)
	assert.Equal(t, data, latest)
}

func TestWrite_LatestPointerTracksNewestRun(t *testing.T) {
	dir := t.TempDir()

	first := New("backfill", time.Now(), "first", nil)
	_, err := Write(dir, first)
	require.NoError(t, err)

	second := New("backfill", time.Now(), "second", nil)
	_, err = Write(dir, second)
	require.NoError(t, err)

	latest, err := os.ReadFile(filepath.Join(dir, "backfill_latest.json"))
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(latest, &decoded))
	assert.Equal(t, second.RunID, decoded.RunID)
}

func TestWrite_CreatesReportsDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	_, err := Write(dir, New("audit", time.Now(), nil, nil))
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
