// Package extract applies declarative CSS field rules to fetched pages.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Extractor implements scraper.Extractor and scraper.LinkFinder with goquery.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns one record per item container match. Fields whose selector
// matches nothing (or whose attribute is absent) are nil.
func (e *Extractor) Extract(content scraper.Content, rules scraper.Rules) ([]scraper.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse document: %w", scraper.ErrExtraction, err)
	}

	var (
		records  []scraper.Record
		firstErr error
	)
	doc.Find(rules.ItemContainer).Each(func(_ int, item *goquery.Selection) {
		record := make(scraper.Record, len(rules.Fields))
		for _, field := range rules.Fields {
			value, err := extractField(item, field)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			record[field.Name] = value
		}
		records = append(records, record)
	})
	if firstErr != nil {
		return records, fmt.Errorf("%w: %w", scraper.ErrExtraction, firstErr)
	}
	return records, nil
}

func extractField(item *goquery.Selection, field scraper.FieldRule) (any, error) {
	el := item.Find(field.Selector).First()
	if el.Length() == 0 {
		return nil, nil
	}
	switch field.Type {
	case scraper.FieldAttribute:
		v, ok := el.Attr(field.Attribute)
		if !ok {
			return nil, nil
		}
		return v, nil
	case scraper.FieldHTML:
		html, err := goquery.OuterHtml(el)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		return html, nil
	default:
		return strings.TrimSpace(el.Text()), nil
	}
}

// FindLink returns the href of the first element matching selector, resolved
// against the page's final URL.
func (e *Extractor) FindLink(content scraper.Content, selector string) (string, bool) {
	if selector == "" {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content.Body))
	if err != nil {
		return "", false
	}
	href, ok := doc.Find(selector).First().Attr("href")
	if !ok {
		return "", false
	}
	base := content.FinalURL
	if base == "" {
		base = content.URL
	}
	next, err := scraper.ResolveURL(base, href)
	if err != nil {
		return "", false
	}
	return next, true
}

// ValidateSelector reports whether selector is a valid CSS selector group.
func ValidateSelector(selector string) error {
	if strings.TrimSpace(selector) == "" {
		return fmt.Errorf("empty selector")
	}
	if _, err := cascadia.ParseGroup(selector); err != nil {
		return fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return nil
}

// ParseShorthand expands the compact field notation: "sel::attr(name)" reads
// an attribute, "sel::text" and a bare selector read text.
func ParseShorthand(name, expr string) scraper.FieldRule {
	expr = strings.TrimSpace(expr)
	if sel, attr, ok := strings.Cut(expr, "::attr("); ok {
		return scraper.FieldRule{
			Name:      name,
			Selector:  strings.TrimSpace(sel),
			Attribute: strings.TrimSuffix(strings.TrimSpace(attr), ")"),
			Type:      scraper.FieldAttribute,
		}
	}
	return scraper.FieldRule{
		Name:     name,
		Selector: strings.TrimSpace(strings.Replace(expr, "::text", "", 1)),
		Type:     scraper.FieldText,
	}
}
