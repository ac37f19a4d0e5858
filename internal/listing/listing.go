// Package listing renders paginated listing pages and splits them into
// entries.
package listing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
	"github.com/JakeFAU/arretes-crawler/internal/fetcher/headless"
)

const (
	fallbackSelector = "a[href*=arret]"
	excludedAreas    = "nav, header, footer"
)

// Renderer produces the DOM of a JavaScript-driven page.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (headless.Page, error)
}

// Config describes the listing to traverse.
type Config struct {
	ListingURL    string
	PageParam     string
	EntrySelector string
	// Timeout bounds one render, including the wait for entries.
	Timeout time.Duration
}

// Fetcher implements crawler.PageFetcher.
type Fetcher struct {
	cfg      Config
	renderer Renderer
	logger   *zap.Logger
}

// New validates cfg and builds a Fetcher.
func New(cfg Config, renderer Renderer, logger *zap.Logger) (*Fetcher, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if _, err := url.Parse(cfg.ListingURL); err != nil || cfg.ListingURL == "" {
		return nil, fmt.Errorf("invalid listing url %q", cfg.ListingURL)
	}
	if strings.TrimSpace(cfg.EntrySelector) == "" {
		return nil, errors.New("entry selector is required")
	}
	if cfg.PageParam == "" {
		cfg.PageParam = "page"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, renderer: renderer, logger: logger}, nil
}

// PageURL returns the address of listing page index; page 0 is the bare
// listing URL.
func (f *Fetcher) PageURL(index int) string {
	if index <= 0 {
		return f.cfg.ListingURL
	}
	u, err := url.Parse(f.cfg.ListingURL)
	if err != nil {
		return f.cfg.ListingURL
	}
	q := u.Query()
	q.Set(f.cfg.PageParam, strconv.Itoa(index))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchPage renders listing page index and returns its entries in document
// order.
func (f *Fetcher) FetchPage(ctx context.Context, index int) (crawler.PageResult, error) {
	pageURL := f.PageURL(index)
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	page, err := f.renderer.Render(ctx, pageURL)
	if err != nil {
		return crawler.PageResult{}, fmt.Errorf("page %d: %w", index, err)
	}
	baseURL := page.FinalURL
	if baseURL == "" {
		baseURL = pageURL
	}
	result, err := Parse(page.HTML, baseURL, index, f.cfg.EntrySelector)
	if err != nil {
		return crawler.PageResult{}, fmt.Errorf("page %d: %w", index, err)
	}
	f.logger.Debug("listing page parsed",
		zap.Int("page", index),
		zap.Int("entries", len(result.Entries)),
		zap.Bool("has_next", result.HasNext),
	)
	return result, nil
}

// Parse splits a rendered listing into entries. Only the outermost matches
// of selector are kept; when nothing matches, anchors pointing at orders are
// used instead.
func Parse(html, baseURL string, index int, selector string) (crawler.PageResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crawler.PageResult{}, fmt.Errorf("parse listing: %w", err)
	}

	nodes := outermost(doc, selector)
	if len(nodes) == 0 {
		nodes = fallbackEntries(doc)
	}

	entries := make([]crawler.RawEntry, 0, len(nodes))
	for _, s := range nodes {
		fragment, err := goquery.OuterHtml(s)
		if err != nil {
			continue
		}
		entries = append(entries, crawler.RawEntry{
			HTML:     fragment,
			BaseURL:  baseURL,
			Page:     index,
			Position: len(entries),
		})
	}
	return crawler.PageResult{
		Page:    index,
		URL:     baseURL,
		Entries: entries,
		HasNext: hasNext(doc),
	}, nil
}

func outermost(doc *goquery.Document, selector string) []*goquery.Selection {
	var nodes []*goquery.Selection
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered(selector).Length() > 0 {
			return
		}
		if s.Closest(excludedAreas).Length() > 0 {
			return
		}
		nodes = append(nodes, s)
	})
	return nodes
}

// fallbackEntries uses each order anchor's parent as the entry when the
// parent holds no other order anchor, the anchor itself otherwise.
func fallbackEntries(doc *goquery.Document) []*goquery.Selection {
	var nodes []*goquery.Selection
	doc.Find(fallbackSelector).Each(func(_ int, a *goquery.Selection) {
		if a.Closest(excludedAreas).Length() > 0 {
			return
		}
		parent := a.Parent()
		if parent.Length() > 0 && !parent.Is("body") && parent.Find(fallbackSelector).Length() == 1 {
			nodes = append(nodes, parent)
			return
		}
		nodes = append(nodes, a)
	})
	return nodes
}

func hasNext(doc *goquery.Document) bool {
	if doc.Find("link[rel=next]").Length() > 0 {
		return true
	}
	found := false
	doc.Find("a, button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if disabled(s) {
			return true
		}
		if rel, _ := s.Attr("rel"); containsWord(rel, "next") {
			found = true
			return false
		}
		if label, _ := s.Attr("aria-label"); strings.Contains(strings.ToLower(label), "suivant") {
			found = true
			return false
		}
		switch text := strings.ToLower(strings.TrimSpace(s.Text())); {
		case text == "›", text == ">", text == "»", strings.HasPrefix(text, "suivant"), strings.Contains(text, "page suivante"):
			found = true
			return false
		}
		return true
	})
	return found
}

func disabled(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if v, _ := s.Attr("aria-disabled"); v == "true" {
		return true
	}
	class, _ := s.Attr("class")
	return strings.Contains(class, "disabled")
}

func containsWord(list, word string) bool {
	for _, f := range strings.Fields(strings.ToLower(list)) {
		if f == word {
			return true
		}
	}
	return false
}
