package xlsx

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
)

func TestExportWritesBothSheets(t *testing.T) {
	t.Parallel()

	size := 42.5
	published := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []crawler.OrderRecord{
		{ID: "2025-001", Title: "Arrêté de circulation quai de la Seine", IsTraffic: true, PublishedOn: &published, PDFSizeKB: &size},
		{ID: "2025-002", Title: "Arrêté portant nomination"},
	}
	path := filepath.Join(t.TempDir(), "out", "arretes.xlsx")
	exp, err := New(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "xlsx", exp.Name())
	require.NoError(t, exp.Export(context.Background(), records))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetAll, SheetTraffic}, f.GetSheetList())

	all, err := f.GetRows(SheetAll)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "numero_arrete", all[0][0])
	assert.Equal(t, "2025-001", all[1][0])
	assert.Equal(t, "2025-03-01", all[1][2])
	assert.Equal(t, "TRUE", all[1][5])
	assert.Equal(t, "42.5", all[1][8])

	traffic, err := f.GetRows(SheetTraffic)
	require.NoError(t, err)
	require.Len(t, traffic, 2)
	assert.Equal(t, "2025-001", traffic[1][0])
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New("", nil)
	require.Error(t, err)
}
