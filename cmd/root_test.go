package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/arretes-crawler/internal/config"
	"github.com/JakeFAU/arretes-crawler/internal/crawler"
	"github.com/JakeFAU/arretes-crawler/internal/pipeline"
)

type fakeApp struct {
	result   pipeline.Result
	err      error
	rescrape pipeline.RescrapeSummary
	closed   bool
}

func (f *fakeApp) Scrape(context.Context) (pipeline.Result, error) { return f.result, f.err }

func (f *fakeApp) Rescrape(context.Context) (pipeline.RescrapeSummary, error) {
	return f.rescrape, f.err
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

// useFakeApp swaps the application factory; tests using it are not parallel.
func useFakeApp(t *testing.T, app *fakeApp) *config.Config {
	t.Helper()
	var seen config.Config
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		seen = cfg
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &seen
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScrapePrintsSummary(t *testing.T) {
	app := &fakeApp{result: pipeline.Result{Summary: crawler.Summary{RunID: "run-1", Total: 3, Traffic: 2, Other: 1}}}
	seen := useFakeApp(t, app)

	out, err := execute(t, "scrape", "--max-pages", "2", "--dry-run")
	require.NoError(t, err)
	assert.True(t, app.closed)
	assert.Equal(t, 2, seen.Scraper.MaxPages)
	assert.True(t, seen.Simulated())

	var summary crawler.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 2, summary.Traffic)
}

func TestScrapeFailsWhenNoPageProcessed(t *testing.T) {
	app := &fakeApp{
		result: pipeline.Result{Summary: crawler.Summary{RunID: "run-2", PagesFailed: 3}},
		err:    crawler.ErrNoPagesProcessed,
	}
	useFakeApp(t, app)

	out, err := execute(t, "scrape")
	require.ErrorIs(t, err, crawler.ErrNoPagesProcessed)
	assert.Contains(t, out, `"pages_failed": 3`)
	assert.True(t, app.closed)
}

func TestScrapeReportsBuildFailure(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		return nil, fmt.Errorf("gcs bucket unreachable")
	}
	t.Cleanup(func() { newApp = orig })

	_, err := execute(t, "scrape")
	require.ErrorContains(t, err, "failed to initialize application services")
}

func TestRescrapePrintsSummary(t *testing.T) {
	app := &fakeApp{rescrape: pipeline.RescrapeSummary{Candidates: 4, Recovered: 3, Failed: 1}}
	useFakeApp(t, app)

	out, err := execute(t, "rescrape")
	require.NoError(t, err)
	assert.JSONEq(t, `{"candidates":4,"recovered":3,"failed":1,"no_pdf":0}`, out)
}

func TestClassify(t *testing.T) {
	out, err := execute(t, "classify", "--title", "Arrêté portant fermeture de la rue de Rivoli")
	require.NoError(t, err)

	var got classification
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.IsTraffic)
	assert.NotEmpty(t, got.Rule)
	assert.Equal(t, "v1", got.RulesVersion)

	out, err = execute(t, "classify", "--title", "Arrêté de nomination")
	require.NoError(t, err)
	got = classification{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.False(t, got.IsTraffic)
	assert.Empty(t, got.Rule)

	_, err = execute(t, "classify")
	require.Error(t, err)
}

func TestInvalidConfigFile(t *testing.T) {
	_, err := execute(t, "--config", "/nonexistent/arretes.yaml", "classify", "--title", "x")
	require.ErrorContains(t, err, "load config")
}
