package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
)

func tempLedger(t *testing.T) (*TargetLedger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.json")
	l, err := NewTargetLedger(path)
	require.NoError(t, err)
	return l, path
}

func TestTargetLedger(t *testing.T) {
	t.Run("add and get", func(t *testing.T) {
		l, _ := tempLedger(t)

		require.NoError(t, l.Add("100"))

		rec, ok := l.Get("100")
		require.True(t, ok)
		assert.Equal(t, "100", rec.StoreID)
		assert.Equal(t, "pending", rec.Status)
		assert.False(t, rec.AddedAt.IsZero())
	})

	t.Run("empty store ID rejected", func(t *testing.T) {
		l, _ := tempLedger(t)
		assert.Error(t, l.Add(""))
	})

	t.Run("re-adding keeps the original record", func(t *testing.T) {
		l, _ := tempLedger(t)

		require.NoError(t, l.Add("100"))
		require.NoError(t, l.UpdateStatus("100", "completed", 3, ""))
		require.NoError(t, l.Add("100"))

		rec, _ := l.Get("100")
		assert.Equal(t, "completed", rec.Status)
		assert.Equal(t, 3, rec.Images)
	})

	t.Run("add batch skips blanks and duplicates", func(t *testing.T) {
		l, _ := tempLedger(t)

		require.NoError(t, l.Add("100"))
		require.NoError(t, l.AddBatch([]string{"100", "", "200", "300"}))

		stats := l.GetStats()
		assert.Equal(t, 3, stats["total"])
	})

	t.Run("pending excludes finished targets", func(t *testing.T) {
		l, _ := tempLedger(t)

		require.NoError(t, l.AddBatch([]string{"100", "200", "300"}))
		require.NoError(t, l.UpdateStatus("100", "completed", 2, ""))
		require.NoError(t, l.UpdateStatus("200", "failed", 0, "challenge unsolved"))

		pending := l.GetPending()
		require.Len(t, pending, 1)
		assert.Equal(t, "300", pending[0])
	})

	t.Run("update unknown target", func(t *testing.T) {
		l, _ := tempLedger(t)
		assert.Error(t, l.UpdateStatus("999", "completed", 0, ""))
	})

	t.Run("stats", func(t *testing.T) {
		l, _ := tempLedger(t)

		require.NoError(t, l.AddBatch([]string{"1", "2", "3", "4"}))
		require.NoError(t, l.UpdateStatus("1", "completed", 5, ""))
		require.NoError(t, l.UpdateStatus("2", "completed", 1, ""))
		require.NoError(t, l.UpdateStatus("3", "failed", 0, "timeout"))

		stats := l.GetStats()
		assert.Equal(t, 4, stats["total"])
		assert.Equal(t, 2, stats["completed"])
		assert.Equal(t, 1, stats["failed"])
		assert.Equal(t, 1, stats["pending"])
	})

	t.Run("reload resumes where it stopped", func(t *testing.T) {
		l, path := tempLedger(t)

		require.NoError(t, l.AddBatch([]string{"100", "200"}))
		require.NoError(t, l.UpdateStatus("100", "failed", 0, "boom"))

		reloaded, err := NewTargetLedger(path)
		require.NoError(t, err)

		rec, ok := reloaded.Get("100")
		require.True(t, ok)
		assert.Equal(t, "failed", rec.Status)
		assert.Equal(t, "boom", rec.Error)
		assert.Equal(t, []string{"200"}, reloaded.GetPending())

		// no leftover temp file from the atomic writes
		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("missing file is a cold start", func(t *testing.T) {
		l, err := NewTargetLedger(filepath.Join(t.TempDir(), "nowhere.json"))
		require.NoError(t, err)
		assert.Equal(t, 0, l.GetStats()["total"])
	})
}

func batchResults() []models.ScrapeResult {
	return []models.ScrapeResult{
		{
			StoreID: "100",
			Status:  models.StatusSuccess,
			Images: []models.ExtractedImage{
				{StoreID: "100", ContentHash: "a"},
				{StoreID: "100", ContentHash: "b"},
			},
		},
		{StoreID: "200", Status: models.StatusError, Error: "challenge unsolved"},
		{
			StoreID: "300",
			Status:  models.StatusSuccess,
			Images:  []models.ExtractedImage{{StoreID: "300", ContentHash: "c"}},
		},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(batchResults())

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 3, s.TotalImages)
	assert.False(t, s.FinishedAt.IsZero())
}

func TestWriteResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")

	require.NoError(t, WriteResults(path, batchResults()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total": 3`)
	assert.Contains(t, string(data), `"challenge unsolved"`)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
