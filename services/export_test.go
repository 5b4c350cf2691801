package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lot_harvester/models"
)

func TestExportKey(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("MSK", 3*3600))
	assert.Equal(t, "exports/2026-03-01/abc.csv", ExportKey(at, "abc"))
}

func TestExportService_UploadsCSV(t *testing.T) {
	store := newMemStore()
	snapshot := []models.DetailRecord{record("A", 10), record("B", 20.5)}
	desc := "with description"
	snapshot[1].Description = &desc
	_, err := NewReconciler(store).Reconcile(context.Background(), snapshot)
	require.NoError(t, err)

	up := &memUploader{}
	svc := NewExportService(store, up)
	svc.now = fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	key, err := svc.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, up.key)
	assert.True(t, strings.HasPrefix(key, "exports/2026-03-01/"))
	assert.True(t, strings.HasSuffix(key, ".csv"))
	assert.Contains(t, up.contentType, "text/csv")

	header := strings.SplitN(up.body, "\n", 2)[0]
	assert.Contains(t, header, "external_id")
	assert.NotContains(t, header, "fingerprint")

	var rows []models.CatalogEntry
	require.NoError(t, csvutil.Unmarshal([]byte(up.body), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].ExternalID)
	assert.Equal(t, 20.5, rows[1].Price)
	require.NotNil(t, rows[1].Description)
	assert.Equal(t, "with description", *rows[1].Description)
}

func TestExportService_EmptyCatalog(t *testing.T) {
	up := &memUploader{}
	_, err := NewExportService(newMemStore(), up).Export(context.Background())
	assert.Error(t, err)
	assert.Empty(t, up.key)
}
