// Package extractor turns one rendered listing entry into an order record.
package extractor

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
	"github.com/JakeFAU/arretes-crawler/internal/hash/sha256"
)

// ErrNoLink is returned when an entry carries no hyperlink at all.
var ErrNoLink = errors.New("entry has no link")

// TitleNotFound is recorded when no title can be recovered.
const TitleNotFound = "Titre non trouvé"

var (
	reTitleClass   = regexp.MustCompile(`(?i)title|titre`)
	reDateClass    = regexp.MustCompile(`(?i)date`)
	reContentClass = regexp.MustCompile(`(?i)content|texte|summary|description`)
	reArrete       = regexp.MustCompile(`(?i)arrêté`)
	reArretePhrase = regexp.MustCompile(`(?i)(arrêté[^.]{10,200})`)
	rePDFHref      = regexp.MustCompile(`(?i)href=["']([^"']*\.pdf[^"']*)["']`)
	reOrderNumber  = regexp.MustCompile(`\d{4}[\s_-]*[A-Z]?[\s_-]*\d{3,}`)
	reOrderAfterNo = regexp.MustCompile(`(?i)arrêté\s+n[°o]?\s*(\d{4}[\s_-]*[A-Z]?[\s_-]*\d{3,})`)
	reLeadingOrder = regexp.MustCompile(`(?i)^[^\p{L}\d]*arrêté(?:\s+\p{L}+)?\s+n\s*[°o]?\s*(\d{4}[\s_-]*[A-Z]?[\s_-]*\d{3,})`)
	reCitedBefore  = regexp.MustCompile(`(?i)(?:(?:\bl['’]\s*|\b(?:du|des|aux?|les|dudit|ledit)\s+)arrêtés?(?:\s+\p{L}+)?(?:\s+n\s*[°o]?s?)?|\b(?:modifi|abrog|compl[eé]t|prorog|rectifi)\p{L}*)\s*$`)
	reCitingLead   = regexp.MustCompile(`(?i)(?:\bl['’]\s*|\b(?:du|des|aux?|les|dudit|ledit)\s+|\b(?:modifi|abrog|compl[eé]t|prorog|rectifi)\p{L}*\s+)$`)
	reSeparators   = regexp.MustCompile(`[\s_-]+`)
	reNextOrder    = regexp.MustCompile(`(?i)\d{1,2}/\d{1,2}/\d{4}\s*arrêté|arrêté\s+n[°o]?\s*\d{4}`)
	reTrailingDate = regexp.MustCompile(`\s+\d{1,2}/\d{1,2}/\d{4}\s*$`)
)

// Extractor parses listing entries. It is safe for concurrent use.
type Extractor struct {
	baseURL *url.URL
	clock   crawler.Clock
}

// New builds an Extractor resolving relative links against baseURL.
func New(baseURL string, clock crawler.Clock) (*Extractor, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if clock == nil {
		return nil, errors.New("extractor requires a clock")
	}
	return &Extractor{baseURL: u, clock: clock}, nil
}

// Extract implements crawler.Extractor. The traffic flag is left to the classifier.
func (e *Extractor) Extract(entry crawler.RawEntry) (crawler.OrderRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(entry.HTML))
	if err != nil {
		return crawler.OrderRecord{}, fmt.Errorf("parse entry html: %w", err)
	}
	root := doc.Selection

	base := e.baseURL
	if entry.BaseURL != "" {
		if u, perr := url.Parse(entry.BaseURL); perr == nil {
			base = u
		}
	}

	link := root.Find("a[href]").First()
	if link.Length() == 0 {
		return crawler.OrderRecord{}, ErrNoLink
	}
	href, _ := link.Attr("href")
	detailURL := resolve(base, href)

	title := findTitle(root)
	content := findContent(root)
	orderNumber := findOrderNumber(title, content)
	if orderNumber != "" {
		title = isolateOrder(title+" "+content, orderNumber, title)
		content = isolateOrder(content, orderNumber, content)
	}
	if title == "" {
		title = TitleNotFound
	}

	rec := crawler.OrderRecord{
		OrderNumber: orderNumber,
		Title:       title,
		PublishedOn: findDate(root),
		DetailURL:   detailURL,
		PDFURL:      findPDF(root, entry.HTML, base),
		Preview:     Truncate(NormalizeSpace(content), crawler.PreviewLength),
		ScrapedAt:   e.clock.Now(),
		Page:        entry.Page,
		Position:    entry.Position,
	}
	rec.ID = RecordID(orderNumber, title, detailURL)
	return rec, nil
}

// RecordID derives the stable identifier of an order: its number when known,
// otherwise a digest of title and detail link.
func RecordID(orderNumber, title, detailURL string) string {
	if orderNumber != "" {
		return orderNumber
	}
	return "h-" + sha256.Short([]byte(title+"\n"+detailURL), 16)
}

func findTitle(root *goquery.Selection) string {
	sel := root.Find("h1, h2, h3, h4, a").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return reTitleClass.MatchString(class)
	}).First()
	if sel.Length() == 0 {
		sel = root.Find("h1, h2, h3, h4").First()
	}
	if sel.Length() == 0 {
		sel = root.Find("a").First()
	}
	title := spacedText(sel)
	if !isMonthName(title) {
		return title
	}

	leaf := root.Find("h1, h2, h3, h4, p, div").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Children().Length() == 0 && reArrete.MatchString(s.Text())
	}).First()
	if leaf.Length() > 0 {
		return spacedText(leaf)
	}
	if m := reArretePhrase.FindStringSubmatch(spacedText(root)); m != nil {
		return strings.TrimSpace(m[1])
	}
	return title
}

func findContent(root *goquery.Selection) string {
	sel := root.Find("div, p, span").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return reContentClass.MatchString(class)
	}).First()
	if sel.Length() > 0 {
		if text := spacedText(sel); text != "" {
			return text
		}
	}
	return spacedText(root.Find("body"))
}

func findDate(root *goquery.Selection) *time.Time {
	if attr, ok := root.Find("time[datetime]").First().Attr("datetime"); ok {
		if d := ParseDate(attr); d != nil {
			return d
		}
	}
	dated := root.Find("time, span, div, p").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return reDateClass.MatchString(class)
	}).First()
	if dated.Length() > 0 {
		if d := ParseDate(spacedText(dated)); d != nil {
			return d
		}
	}
	return ParseDate(spacedText(root))
}

func findPDF(root *goquery.Selection, rawHTML string, base *url.URL) string {
	var href string
	root.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		h, _ := s.Attr("href")
		if strings.Contains(strings.ToLower(h), ".pdf") {
			href = h
			return false
		}
		return true
	})
	if href == "" {
		if m := rePDFHref.FindStringSubmatch(rawHTML); m != nil {
			href = m[1]
		}
	}
	if href == "" {
		return ""
	}
	return resolve(base, href)
}

// findOrderNumber returns the entry's own order number. A number introduced
// by a leading "Arrêté n°" wins; numbers cited through another order
// ("modifiant l'arrêté n° ...") are never taken, so an amending order whose
// only number is the cited one falls back to a digest identifier.
func findOrderNumber(title, content string) string {
	raw := ""
	if m := reLeadingOrder.FindStringSubmatch(title); m != nil {
		raw = m[1]
	}
	if raw == "" {
		raw = firstOwnNumber(title, reOrderNumber, 0)
	}
	if raw == "" {
		raw = firstOwnNumber(title+" "+content, reOrderAfterNo, 1)
	}
	if raw == "" {
		return ""
	}
	return reSeparators.ReplaceAllString(strings.TrimSpace(raw), "-")
}

// firstOwnNumber returns the given submatch group of the first match of re
// in text that is not a citation of another order.
func firstOwnNumber(text string, re *regexp.Regexp, group int) string {
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2*group], loc[2*group+1]
		if start < 0 || reCitedBefore.MatchString(text[:start]) {
			continue
		}
		return text[start:end]
	}
	return ""
}

// isolateOrder narrows text that lists several orders down to the segment
// starting at "arrêté n° <number>" and ending before the next order. fallback
// is returned when the number is not introduced that way.
func isolateOrder(text, orderNumber, fallback string) string {
	numPattern := strings.ReplaceAll(regexp.QuoteMeta(orderNumber), "-", `[\s_-]*`)
	re, err := regexp.Compile(`(?i)arrêté\s+n[°o]?\s*` + numPattern)
	if err != nil {
		return NormalizeSpace(fallback)
	}
	loc := re.FindStringIndex(text)
	if loc == nil {
		return NormalizeSpace(fallback)
	}
	segment := text[loc[0]:]
	rest := segment[loc[1]-loc[0]:]
	for _, next := range reNextOrder.FindAllStringIndex(rest, -1) {
		if reCitingLead.MatchString(rest[:next[0]]) {
			continue
		}
		segment = segment[:loc[1]-loc[0]+next[0]]
		break
	}
	segment = reTrailingDate.ReplaceAllString(segment, "")
	return NormalizeSpace(segment)
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return strings.TrimSpace(href)
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
