package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"lot_harvester/config"
	"lot_harvester/models"
)

var (
	priceRunRegex = regexp.MustCompile(`[\d.,]+`)
	decimalRegex  = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)`)
	countRegex    = regexp.MustCompile(`\d+`)
	offerIDRegex  = regexp.MustCompile(`[?&]id=(\d+)`)
)

// ExtractionError means the HTML could not be read at all. Missing fields are
// not errors, they fall back to defaults.
type ExtractionError struct {
	Page string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Page, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extractor reads listing and detail pages using the configured selector table
type Extractor struct {
	sel      config.Selectors
	base     *url.URL
	patterns map[string]*regexp.Regexp
}

func NewExtractor(site *config.SiteConfig) (*Extractor, error) {
	base, err := url.Parse(site.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	e := &Extractor{
		sel:      site.Selectors,
		base:     base,
		patterns: make(map[string]*regexp.Regexp),
	}

	for _, rule := range e.rules() {
		if rule.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("selector pattern %q: %w", rule.Pattern, err)
		}
		e.patterns[rule.Pattern] = re
	}

	return e, nil
}

func (e *Extractor) rules() []config.Rule {
	s := e.sel
	return []config.Rule{s.Server, s.Rank, s.Agents, s.Skins, s.Title, s.Description, s.Price}
}

// ExtractListing returns the sale offers of a listing page in page order.
// Offers of any other type and offers without a numeric id are dropped.
func (e *Extractor) ExtractListing(html string) ([]models.ListingRef, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &ExtractionError{Page: "listing", Err: err}
	}

	var refs []models.ListingRef
	doc.Find(e.sel.Offer).Each(func(i int, s *goquery.Selection) {
		if offerType, _ := s.Attr(e.sel.OfferTypeAttr); strings.TrimSpace(offerType) != e.sel.OfferType {
			return
		}

		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		fullURL := e.resolve(strings.TrimSpace(href))
		id, ok := ExtractID(fullURL)
		if !ok {
			return
		}

		refs = append(refs, models.ListingRef{
			ExternalID:   id,
			URL:          fullURL,
			ListingPrice: ParsePrice(s.Find(e.sel.OfferPrice).Text()),
		})
	})

	return refs, nil
}

// ExtractDetail reads a detail page. ExternalID, URL and the fallback price come
// from the listing reference.
func (e *Extractor) ExtractDetail(html string, ref models.ListingRef) (*models.DetailRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &ExtractionError{Page: ref.URL, Err: err}
	}

	rec := &models.DetailRecord{
		ExternalID:  ref.ExternalID,
		URL:         ref.URL,
		Server:      e.text(doc, e.sel.Server),
		Rank:        e.text(doc, e.sel.Rank),
		AgentsCount: ParseCount(e.text(doc, e.sel.Agents)),
		SkinsCount:  ParseCount(e.text(doc, e.sel.Skins)),
		Title:       e.text(doc, e.sel.Title),
		Price:       ParsePrice(e.text(doc, e.sel.Price)),
	}

	if rec.Server == "" {
		rec.Server = models.DefaultServer
	}
	if rec.Rank == "" {
		rec.Rank = models.DefaultRank
	}
	if desc := e.text(doc, e.sel.Description); desc != "" {
		rec.Description = &desc
	}

	rec.Price = FallbackPrice(rec.Price, ref.ListingPrice)
	return rec, nil
}

// text resolves a rule against the document and returns the trimmed value, or ""
func (e *Extractor) text(doc *goquery.Document, rule config.Rule) string {
	var value string

	if rule.Label == "" {
		if rule.Value == "" {
			return ""
		}
		value = strings.TrimSpace(doc.Find(rule.Value).First().Text())
	} else {
		doc.Find(rule.Block).EachWithBreak(func(i int, block *goquery.Selection) bool {
			label := block.Find(rule.LabelNode).FilterFunction(func(_ int, s *goquery.Selection) bool {
				return strings.Contains(s.Text(), rule.Label)
			}).First()
			if label.Length() == 0 {
				return true
			}

			node := label.Next()
			if rule.Value != "" {
				node = label.NextAllFiltered(rule.Value).First()
			}
			value = strings.TrimSpace(node.Text())
			return false
		})
	}

	if rule.Pattern == "" || value == "" {
		return value
	}
	m := e.patterns[rule.Pattern].FindStringSubmatch(value)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return strings.TrimSpace(m[1])
	default:
		return strings.TrimSpace(m[0])
	}
}

func (e *Extractor) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.base.ResolveReference(ref).String()
}

// ParsePrice reads the first number out of localized price text:
// "от 10,11 ₽" -> 10.11. Text without digits gives 0.
func ParsePrice(text string) float64 {
	run := priceRunRegex.FindString(text)
	if run == "" {
		return 0
	}
	run = strings.Replace(run, ",", ".", 1)

	// "1.234.5" keeps its leading valid decimal, like a lenient float parser
	num := decimalRegex.FindString(run)
	if num == "" {
		return 0
	}
	price, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return price
}

// ParseCount reads the first run of digits: "17 шт" -> 17. Runs too long for
// the INTEGER columns saturate at math.MaxInt32.
func ParseCount(text string) int {
	run := countRegex.FindString(text)
	if run == "" {
		return 0
	}
	n, err := strconv.ParseInt(run, 10, 32)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return int(n)
}

// ExtractID pulls the numeric offer id out of an "...offer?id=123" URL
func ExtractID(rawURL string) (string, bool) {
	m := offerIDRegex.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FallbackPrice keeps the detail page price unless it is exactly 0 and the
// listing page had a positive one
func FallbackPrice(detail, listing float64) float64 {
	if detail == 0 && listing > 0 {
		return listing
	}
	return detail
}
