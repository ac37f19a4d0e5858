package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
)

const pdfBody = "%PDF-1.4\n1 0 obj <<>> endobj\ntrailer <<>>\n%%EOF"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		fmt.Fprint(w, "<html><body>accueil</body></html>")
	})
	mux.HandleFunc("/files/order.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, pdfBody)
	})
	mux.HandleFunc("/files/octet.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, pdfBody)
	})
	mux.HandleFunc("/guarded.pdf", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "ok" {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>session expirée</body></html>")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, pdfBody)
	})
	mux.HandleFunc("/js", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><script>window.location.href = '/files/order.pdf';</script></html>`)
	})
	mux.HandleFunc("/meta", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><meta http-equiv="Refresh" content="0; URL='/js'"></head></html>`)
	})
	mux.HandleFunc("/anchor", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/about">x</a><a href="files/octet.pdf">PDF</a></body></html>`)
	})
	mux.HandleFunc("/loop-a", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<script>location.replace("/loop-b")</script>`)
	})
	mux.HandleFunc("/loop-b", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<script>window.location = "/loop-a"</script>`)
	})
	mux.HandleFunc("/dead-end", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>Document indisponible</body></html>`)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "not a pdf")
	})
	mux.HandleFunc("/fake.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "<html>oops</html>")
	})
	mux.HandleFunc("/slow.pdf", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, pdfBody)
	})
	mux.HandleFunc("/detail", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Arrêté</title></head><body>
<nav>Menu principal</nav>
<article><h1>Arrêté n° 2025-00042</h1>
<p>Le préfet de police arrête : la circulation est interdite rue de Rivoli du 1er au 3 décembre.</p>
<p>Les véhicules en infraction seront mis en fourrière.</p>
<a href="/files/order.pdf">Télécharger l'arrêté</a></article>
</body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	f, err := New(cfg, nil)
	require.NoError(t, err)
	return f
}

func TestFetchPDF_Direct(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	doc, err := newTestFetcher(t, Config{}).FetchPDF(context.Background(), srv.URL+"/files/order.pdf")
	require.NoError(t, err)
	assert.Equal(t, pdfBody, string(doc.Body))
	assert.Equal(t, 0, doc.Redirects)
	assert.Equal(t, "application/pdf", doc.ContentType)
}

func TestFetchPDF_RejectsTruncatedBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, err := newTestFetcher(t, Config{MaxBodyBytes: 16}).FetchPDF(context.Background(), srv.URL+"/files/order.pdf")
	require.ErrorIs(t, err, ErrBodyTooLarge)

	doc, err := newTestFetcher(t, Config{MaxBodyBytes: len(pdfBody) + 1}).FetchPDF(context.Background(), srv.URL+"/files/order.pdf")
	require.NoError(t, err)
	assert.Equal(t, pdfBody, string(doc.Body))
}

func TestFetchPDF_FollowsRedirectChain(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	doc, err := newTestFetcher(t, Config{}).FetchPDF(context.Background(), srv.URL+"/meta")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Redirects)
	assert.Equal(t, srv.URL+"/files/order.pdf", doc.FinalURL)
	assert.Equal(t, srv.URL+"/meta", doc.URL)
}

func TestFetchPDF_FollowsPDFAnchor(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	doc, err := newTestFetcher(t, Config{}).FetchPDF(context.Background(), srv.URL+"/anchor")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/files/octet.pdf", doc.FinalURL)
}

func TestFetchPDF_RedirectLoop(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, err := newTestFetcher(t, Config{MaxRedirects: 3}).FetchPDF(context.Background(), srv.URL+"/loop-a")
	require.ErrorIs(t, err, crawler.ErrTooManyRedirects)
}

func TestFetchPDF_NotPDF(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := newTestFetcher(t, Config{})
	for _, path := range []string{"/dead-end", "/plain", "/fake.pdf"} {
		_, err := f.FetchPDF(context.Background(), srv.URL+path)
		require.ErrorIs(t, err, crawler.ErrNotPDF, path)
	}
}

func TestFetchPDF_HTTPError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, err := newTestFetcher(t, Config{}).FetchPDF(context.Background(), srv.URL+"/missing.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchPDF_Timeout(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := newTestFetcher(t, Config{}).FetchPDF(ctx, srv.URL+"/slow.pdf")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchPDF_WarmUpSetsSessionCookie(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	_, err := newTestFetcher(t, Config{}).FetchPDF(context.Background(), srv.URL+"/guarded.pdf")
	require.ErrorIs(t, err, crawler.ErrNotPDF)

	f := newTestFetcher(t, Config{WarmUpURL: srv.URL + "/"})
	doc, err := f.FetchPDF(context.Background(), srv.URL+"/guarded.pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(doc.Body), "%PDF"))
}

func TestFetchDetail(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	detail, err := newTestFetcher(t, Config{}).FetchDetail(context.Background(), srv.URL+"/detail")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/files/order.pdf", detail.PDFURL)
	assert.Contains(t, detail.Text, "la circulation est interdite rue de Rivoli")
	assert.NotContains(t, detail.Text, "\n")
}

func TestFetchDetail_RejectsPDF(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, err := newTestFetcher(t, Config{}).FetchDetail(context.Background(), srv.URL+"/files/order.pdf")
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{Referer: "https://example.test/arretes"})
	var result response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "https://example.test/arretes", collyReq.Headers.Get("Referer"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(pdfBody),
		Headers:    &http.Header{"Content-Type": {"application/pdf"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.test/a.pdf")},
	})
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, isPDF(result))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.EqualError(t, fetchErr, "status 502: Bad Gateway")
}

func TestFindRedirect(t *testing.T) {
	t.Parallel()

	base := "https://example.test/arretes/view"
	tests := []struct {
		name string
		body string
		want string
	}{
		{"window location", `<script>window.location='/doc.pdf'</script>`, "https://example.test/doc.pdf"},
		{"document location href", `<script>document.location.href = "next"</script>`, "https://example.test/arretes/next"},
		{"location assign", `<script>location.assign('/a')</script>`, "https://example.test/a"},
		{"meta refresh", `<meta http-equiv="refresh" content="3;url=/b.pdf">`, "https://example.test/b.pdf"},
		{"pdf anchor", `<a href="/c.PDF">c</a>`, "https://example.test/c.PDF"},
		{"nothing", `<p>rien</p>`, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, findRedirect([]byte(tc.body), base))
		})
	}
}

func TestIsPDFContentTypes(t *testing.T) {
	t.Parallel()

	assert.True(t, isPDF(response{ContentType: "application/pdf; charset=binary", Body: []byte(pdfBody)}))
	assert.True(t, isPDF(response{ContentType: "", Body: []byte("\n" + pdfBody)}))
	assert.False(t, isPDF(response{ContentType: "text/html", Body: []byte(pdfBody)}))
	assert.False(t, isPDF(response{ContentType: "application/pdf", Body: []byte("<html>")}))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
