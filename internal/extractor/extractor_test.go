package extractor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arretes-crawler/internal/clock/system"
	"github.com/JakeFAU/arretes-crawler/internal/crawler"
)

const testBase = "https://www.prefecturedepolice.interieur.gouv.fr"

var scrapedAt = time.Date(2025, 11, 20, 8, 0, 0, 0, time.UTC)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New(testBase, system.Fixed(scrapedAt))
	require.NoError(t, err)
	return e
}

func TestExtract_FullEntry(t *testing.T) {
	t.Parallel()

	html := `<article class="arrete-card">
  <h3 class="card-title"><a href="/actualites-et-presse/arretes/arrete-2025-01234">Arrêté n° 2025-01234 portant fermeture de la rue de Rivoli</a></h3>
  <time datetime="2025-11-18">18 novembre 2025</time>
  <p class="card-description">Arrêté n° 2025-01234 portant fermeture de la rue de Rivoli à la circulation</p>
  <a href="/sites/default/files/arretes/2025-01234.PDF">Télécharger</a>
</article>`

	rec, err := newTestExtractor(t).Extract(crawler.RawEntry{HTML: html, Page: 2, Position: 7})
	require.NoError(t, err)

	assert.Equal(t, "2025-01234", rec.ID)
	assert.Equal(t, "2025-01234", rec.OrderNumber)
	assert.Equal(t, "Arrêté n° 2025-01234 portant fermeture de la rue de Rivoli", rec.Title)
	assert.Equal(t, testBase+"/actualites-et-presse/arretes/arrete-2025-01234", rec.DetailURL)
	assert.Equal(t, testBase+"/sites/default/files/arretes/2025-01234.PDF", rec.PDFURL)
	require.NotNil(t, rec.PublishedOn)
	assert.Equal(t, "2025-11-18", rec.PublishedOn.Format("2006-01-02"))
	assert.Contains(t, rec.Preview, "à la circulation")
	assert.Equal(t, scrapedAt, rec.ScrapedAt)
	assert.Equal(t, 2, rec.Page)
	assert.Equal(t, 7, rec.Position)
	assert.False(t, rec.IsTraffic)
}

func TestExtract_NoLink(t *testing.T) {
	t.Parallel()

	_, err := newTestExtractor(t).Extract(crawler.RawEntry{HTML: `<div class="item"><h3>Arrêté sans lien</h3></div>`})
	require.ErrorIs(t, err, ErrNoLink)
}

func TestExtract_NoPDF(t *testing.T) {
	t.Parallel()

	rec, err := newTestExtractor(t).Extract(crawler.RawEntry{
		HTML: `<div class="item"><h2><a href="detail">Arrêté relatif aux horaires</a></h2></div>`,
	})
	require.NoError(t, err)
	assert.Empty(t, rec.PDFURL)
	assert.Nil(t, rec.PublishedOn)
	assert.True(t, strings.HasPrefix(rec.ID, "h-"))
	assert.Len(t, rec.ID, 18)
}

func TestExtract_PDFFromRawMarkup(t *testing.T) {
	t.Parallel()

	html := `<div class="item"><a href="/detail">Arrêté</a><button data-x='1' href='/files/doc.pdf?v=2'>PDF</button></div>`
	rec, err := newTestExtractor(t).Extract(crawler.RawEntry{HTML: html})
	require.NoError(t, err)
	assert.Equal(t, testBase+"/files/doc.pdf?v=2", rec.PDFURL)
}

func TestExtract_MonthOnlyTitle(t *testing.T) {
	t.Parallel()

	html := `<div class="card">
  <h3>Novembre</h3>
  <p>Arrêté encadrant les manifestations place de la République</p>
  <a href="/detail/42">Lire</a>
</div>`
	rec, err := newTestExtractor(t).Extract(crawler.RawEntry{HTML: html})
	require.NoError(t, err)
	assert.Equal(t, "Arrêté encadrant les manifestations place de la République", rec.Title)
}

func TestExtract_EmptyTitle(t *testing.T) {
	t.Parallel()

	rec, err := newTestExtractor(t).Extract(crawler.RawEntry{HTML: `<div class="item"><a href="/x"></a></div>`})
	require.NoError(t, err)
	assert.Equal(t, TitleNotFound, rec.Title)
}

func TestExtract_OrderNumberAfterMention(t *testing.T) {
	t.Parallel()

	html := `<div class="item">
  <a class="title" href="/a">Réglementation du stationnement</a>
  <div class="texte">Arrêté n°2024 T 00987 du préfet, vu l'arrêté n° 2019-00012</div>
</div>`
	rec, err := newTestExtractor(t).Extract(crawler.RawEntry{HTML: html})
	require.NoError(t, err)
	assert.Equal(t, "2024-T-00987", rec.OrderNumber)
	assert.Equal(t, "2024-T-00987", rec.ID)
}

func TestExtract_CitedOrderNumberIsNotOwn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		title  string
		wantID string
	}{
		{
			name:   "own number before cited one",
			title:  "Arrêté n° 2025-00456 modifiant l'arrêté n° 2024-00123 relatif au stationnement",
			wantID: "2025-00456",
		},
		{
			name:   "qualified own number",
			title:  "Arrêté préfectoral n°2025 P 00457 abrogeant l'arrêté n° 2024-00123",
			wantID: "2025-P-00457",
		},
		{
			name:  "amending order citing only another",
			title: "Arrêté modifiant l'arrêté n° 2024-00123 relatif aux terrasses",
		},
		{
			name:  "repeal citing without n°",
			title: "Arrêté abrogeant 2024-00123",
		},
		{
			name:  "cited with a qualifier",
			title: "Arrêté portant prorogation du délai fixé par l'arrêté préfectoral 2024-00123",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			html := `<div class="item"><a class="title" href="/a">` + tc.title + `</a></div>`
			rec, err := newTestExtractor(t).Extract(crawler.RawEntry{HTML: html})
			require.NoError(t, err)
			if tc.wantID == "" {
				assert.Empty(t, rec.OrderNumber)
				assert.True(t, strings.HasPrefix(rec.ID, "h-"), rec.ID)
				return
			}
			assert.Equal(t, tc.wantID, rec.ID)
			assert.Equal(t, tc.wantID, rec.OrderNumber)
		})
	}
}

func TestExtract_CitationDoesNotSplitTitle(t *testing.T) {
	t.Parallel()

	title := "Arrêté n° 2025-00456 modifiant l'arrêté n° 2024-00123 relatif au stationnement"
	rec, err := newTestExtractor(t).Extract(crawler.RawEntry{HTML: `<div class="item"><a class="title" href="/a">` + title + `</a></div>`})
	require.NoError(t, err)
	assert.Equal(t, "2025-00456", rec.ID)
	assert.Equal(t, title, rec.Title)
}

func TestExtract_AmendingOrdersKeepDistinctIDs(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(t)
	title := "Arrêté modifiant l'arrêté n° 2024-00123 relatif à la circulation"
	a, err := e.Extract(crawler.RawEntry{HTML: `<div class="item"><a class="title" href="/a1">` + title + `</a></div>`})
	require.NoError(t, err)
	b, err := e.Extract(crawler.RawEntry{HTML: `<div class="item"><a class="title" href="/a2">` + title + `</a></div>`})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, "2024-00123", a.ID)
}

func TestExtract_IsolatesMergedOrders(t *testing.T) {
	t.Parallel()

	html := `<div class="item">
  <a class="titre" href="/a">Arrêté n° 2025-00100 portant interdiction de stationner quai de Seine 19/11/2025 Arrêté n° 2025-00101 relatif aux terrasses</a>
</div>`
	rec, err := newTestExtractor(t).Extract(crawler.RawEntry{HTML: html})
	require.NoError(t, err)
	assert.Equal(t, "2025-00100", rec.ID)
	assert.Equal(t, "Arrêté n° 2025-00100 portant interdiction de stationner quai de Seine", rec.Title)
}

func TestExtract_PreviewTruncated(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 500)
	rec, err := newTestExtractor(t).Extract(crawler.RawEntry{
		HTML: `<div class="item"><a href="/x">T</a><p class="summary">` + long + `</p></div>`,
	})
	require.NoError(t, err)
	assert.Equal(t, crawler.PreviewLength, len([]rune(rec.Preview)))
}

func TestExtract_EntryBaseURLWins(t *testing.T) {
	t.Parallel()

	rec, err := newTestExtractor(t).Extract(crawler.RawEntry{
		HTML:    `<div class="item"><a href="detail">Arrêté</a></div>`,
		BaseURL: "https://mirror.example/arretes/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example/arretes/detail", rec.DetailURL)
}

func TestRecordIDStable(t *testing.T) {
	t.Parallel()

	a := RecordID("", "Arrêté relatif aux horaires", testBase+"/a")
	b := RecordID("", "Arrêté relatif aux horaires", testBase+"/a")
	c := RecordID("", "Arrêté relatif aux horaires", testBase+"/b")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "2025-1", RecordID("2025-1", "x", "y"))
}

func TestNewRequiresClock(t *testing.T) {
	t.Parallel()

	_, err := New(testBase, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoLink))
}
