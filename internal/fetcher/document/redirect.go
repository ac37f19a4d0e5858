package document

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

var (
	reJSLocation = regexp.MustCompile(
		`(?:window|document|top|self)\.location(?:\.href)?\s*=\s*["']([^"']+)["']|location\.(?:replace|assign)\(\s*["']([^"']+)["']\s*\)`)
	reRefreshURL = regexp.MustCompile(`(?i)url\s*=\s*['"]?([^'";]+)`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// findRedirect returns the next hop an HTML interstitial points at: a
// JavaScript location assignment, a meta refresh, or a link to a PDF.
func findRedirect(body []byte, pageURL string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	if m := reJSLocation.FindSubmatch(body); m != nil {
		target := string(m[1])
		if target == "" {
			target = string(m[2])
		}
		return resolve(base, target)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var refresh string
	doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
			return true
		}
		content, _ := s.Attr("content")
		if m := reRefreshURL.FindStringSubmatch(content); m != nil {
			refresh = strings.TrimSpace(m[1])
			return false
		}
		return true
	})
	if refresh != "" {
		return resolve(base, refresh)
	}
	return pdfLink(doc, base)
}

// firstPDFLink returns the first anchor of an HTML page pointing at a PDF.
func firstPDFLink(body []byte, pageURL string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return pdfLink(doc, base)
}

func pdfLink(doc *goquery.Document, base *url.URL) string {
	var link string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if strings.Contains(strings.ToLower(href), ".pdf") {
			link = resolve(base, href)
			return false
		}
		return true
	})
	return link
}

// readableText extracts the main text of a detail page, falling back to the
// whole body when readability finds no article.
func readableText(body []byte, pageURL string) string {
	parsedURL, err := url.Parse(pageURL)
	if err == nil {
		article, rerr := readability.FromReader(bytes.NewReader(body), parsedURL)
		if rerr == nil && strings.TrimSpace(article.Content) != "" {
			doc, derr := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
			if derr == nil {
				doc.Find("script, style, nav, footer, aside").Remove()
				if text := normalizeText(doc.Text()); text != "" {
					return text
				}
			}
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, header, footer").Remove()
	return normalizeText(doc.Find("body").Text())
}

func normalizeText(text string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(text, " "))
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
