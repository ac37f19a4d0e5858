// Package document downloads order PDFs and static detail pages with colly.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultMaxRedirects = 5
	defaultMaxBodyBytes = 64 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// WarmUpURL is visited once before the first download so the site can set
	// its session cookies. Empty disables the warm-up.
	WarmUpURL string
	// Referer is sent with every request when set.
	Referer string
	// MaxRedirects bounds the JavaScript and meta-refresh hops followed.
	MaxRedirects int
	// MaxBodyBytes caps a response body. A body reaching the cap is treated
	// as truncated and rejected.
	MaxBodyBytes int
}

// ErrBodyTooLarge is returned when a document reaches Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("document body reached the size limit")

// Fetcher implements crawler.DocumentFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
	warmOnce      sync.Once
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// response is the part of a colly response the fetcher keeps.
type response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// New builds a Fetcher sharing one cookie jar across every request.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = cfg.MaxBodyBytes
	c.WithTransport(newHTTPTransport())
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	c.SetCookieJar(jar)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}, nil
}

// FetchPDF downloads rawURL, following JavaScript and meta-refresh redirects
// until a PDF body is reached.
func (f *Fetcher) FetchPDF(ctx context.Context, rawURL string) (crawler.Document, error) {
	f.warmUp(ctx)

	current := rawURL
	for hops := 0; ; hops++ {
		resp, err := f.get(ctx, current)
		if err != nil {
			return crawler.Document{}, err
		}
		if len(resp.Body) >= f.cfg.MaxBodyBytes {
			return crawler.Document{}, fmt.Errorf("%s: %d bytes: %w", current, len(resp.Body), ErrBodyTooLarge)
		}
		if isPDF(resp) {
			return crawler.Document{
				URL:         rawURL,
				FinalURL:    resp.URL,
				ContentType: resp.ContentType,
				Body:        resp.Body,
				Redirects:   hops,
			}, nil
		}
		if !isHTML(resp.ContentType) {
			return crawler.Document{}, fmt.Errorf("%s (%s): %w", current, resp.ContentType, crawler.ErrNotPDF)
		}
		if hops >= f.cfg.MaxRedirects {
			return crawler.Document{}, fmt.Errorf("%s: %w", rawURL, crawler.ErrTooManyRedirects)
		}
		next := findRedirect(resp.Body, resp.URL)
		if next == "" || next == resp.URL {
			return crawler.Document{}, fmt.Errorf("%s: html without redirect: %w", current, crawler.ErrNotPDF)
		}
		f.logger.Debug("following document redirect",
			zap.String("from", resp.URL),
			zap.String("to", next),
			zap.Int("hop", hops+1),
		)
		current = next
	}
}

// FetchDetail downloads an order's detail page and returns its first PDF
// link and readable text.
func (f *Fetcher) FetchDetail(ctx context.Context, rawURL string) (crawler.Detail, error) {
	f.warmUp(ctx)

	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return crawler.Detail{}, err
	}
	if !isHTML(resp.ContentType) {
		return crawler.Detail{}, fmt.Errorf("detail %s: unexpected content type %q", rawURL, resp.ContentType)
	}
	return crawler.Detail{
		URL:    resp.URL,
		PDFURL: firstPDFLink(resp.Body, resp.URL),
		Text:   readableText(resp.Body, resp.URL),
	}, nil
}

func (f *Fetcher) warmUp(ctx context.Context) {
	if f.cfg.WarmUpURL == "" {
		return
	}
	f.warmOnce.Do(func() {
		if _, err := f.get(ctx, f.cfg.WarmUpURL); err != nil {
			f.logger.Warn("session warm-up failed", zap.String("url", f.cfg.WarmUpURL), zap.Error(err))
			return
		}
		f.logger.Debug("session warm-up done", zap.String("url", f.cfg.WarmUpURL))
	})
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (response, error) {
	var (
		result   response
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	f.configureCollectorHooks(collector, &result, &fetchErr)

	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return response{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/pdf,text/html;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "fr-FR,fr;q=0.9")
		if f.cfg.Referer != "" {
			r.Headers.Set("Referer", f.cfg.Referer)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		*result = response{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch %s: %w", url, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit %s: %w", url, normalizeTimeout(err))
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response %s: %w", url, normalizeTimeout(*fetchErr))
		}
		return nil
	}
}

// normalizeTimeout maps client timeouts onto context.DeadlineExceeded so
// callers can test for them uniformly.
func normalizeTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func isPDF(resp response) bool {
	if !bytes.HasPrefix(bytes.TrimLeft(resp.Body, " \t\r\n\ufeff"), []byte("%PDF")) {
		return false
	}
	switch mediaType(resp.ContentType) {
	case "", "application/pdf", "application/x-pdf", "application/octet-stream",
		"binary/octet-stream", "application/force-download", "application/download":
		return true
	}
	return false
}

func isHTML(contentType string) bool {
	switch mediaType(contentType) {
	case "", "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
