// Package extract pulls the external id, text body, and candidate image
// URLs out of one content card. Field extractions are independent: a
// failed field is recorded and the rest still run. Only a missing id
// discards the whole card, because the id drives deduplication.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	crawlerrors "github.com/reblisbiver/emotional-crawler/pkg/errors"
	"github.com/reblisbiver/emotional-crawler/pkg/locator"
	"github.com/reblisbiver/emotional-crawler/pkg/logger"
)

// Result is the outcome of extracting one card. FieldErrs collects the
// per-field failures that did not abort the card.
type Result struct {
	ID        string
	Text      string
	ImageURLs []string
	FieldErrs []error
}

// HasText reports whether a usable text body was extracted.
func (r *Result) HasText() bool { return r.Text != "" }

// Extractor applies one platform's rules to card handles.
type Extractor struct {
	rules *Rules
	log   logger.Logger
}

// New creates an extractor for the given platform rules.
func New(rules *Rules, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.Nop()
	}
	return &Extractor{rules: rules, log: log}
}

// Extract pulls all fields from a card. It returns a CardDiscarded error
// when no external id can be derived; any other field failure lands in
// Result.FieldErrs and extraction continues.
func (e *Extractor) Extract(card *goquery.Selection) (*Result, error) {
	id, err := e.CardID(card)
	if err != nil {
		return nil, err
	}
	return e.Fields(card, id), nil
}

// CardID derives the external id alone, so callers can deduplicate
// before extracting the rest of the card. It returns a CardDiscarded
// error when no id strategy matches.
func (e *Extractor) CardID(card *goquery.Selection) (string, error) {
	const op = "extract.CardID"

	id, err := e.extractID(card)
	if err != nil {
		return "", crawlerrors.Wrap(crawlerrors.KindCardDiscarded, op, err)
	}
	return id, nil
}

// Fields extracts the text and image fields of a card whose id is
// already known.
func (e *Extractor) Fields(card *goquery.Selection, id string) *Result {
	result := &Result{ID: id}

	text, err := e.extractText(card)
	if err != nil {
		result.FieldErrs = append(result.FieldErrs, err)
	} else {
		result.Text = text
	}

	urls, err := e.extractImageURLs(card)
	if err != nil {
		result.FieldErrs = append(result.FieldErrs, err)
	} else {
		result.ImageURLs = urls
	}

	return result
}

// extractID tries each id strategy in order against the card.
func (e *Extractor) extractID(card *goquery.Selection) (string, error) {
	for _, s := range e.rules.IDStrategies {
		scope := card
		if s.Selector != "" {
			scope = locator.ResolveFirst(card, []locator.Strategy{{Selector: s.Selector}})
			if scope.Length() == 0 {
				continue
			}
		}
		val, ok := scope.Attr(s.Attr)
		if !ok || val == "" {
			continue
		}
		if s.Pattern != nil {
			m := s.Pattern.FindStringSubmatch(val)
			if len(m) < 2 {
				continue
			}
			return m[1], nil
		}
		return val, nil
	}
	return "", fmt.Errorf("no usable external id on card")
}

// extractText resolves the text body. Text shorter than the platform
// minimum is treated as absent.
func (e *Extractor) extractText(card *goquery.Selection) (string, error) {
	const op = "extract.text"

	el := locator.ResolveFirst(card, e.rules.TextStrategies)
	if el.Length() == 0 {
		return "", crawlerrors.E(crawlerrors.KindExtractionField, op, "no text element found")
	}
	text := strings.TrimSpace(el.Text())
	if len([]rune(text)) < e.rules.MinTextLength {
		return "", crawlerrors.E(crawlerrors.KindExtractionField, op, "text below minimum length")
	}
	return text, nil
}

// extractImageURLs collects candidate image URLs in discovery order, up
// to the per-card cap, excluding avatars and off-host URLs.
func (e *Extractor) extractImageURLs(card *goquery.Selection) ([]string, error) {
	const op = "extract.images"

	found, strategy := locator.Resolve(card, e.rules.ImageStrategies)
	if found.Length() == 0 {
		return nil, crawlerrors.E(crawlerrors.KindExtractionField, op, "no image elements found")
	}

	attr := strategy.Attr
	if attr == "" {
		attr = "src"
	}

	var urls []string
	found.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		src, ok := el.Attr(attr)
		if !ok || src == "" {
			return true
		}
		if e.rules.ImageHostPattern != nil && !e.rules.ImageHostPattern.MatchString(src) {
			return true
		}
		if e.rules.AvatarPattern != nil && e.rules.AvatarPattern.MatchString(strings.ToLower(src)) {
			return true
		}
		if e.rules.RewriteImageURL != nil {
			src = e.rules.RewriteImageURL(src)
		}
		urls = append(urls, src)
		return len(urls) < e.rules.MaxImagesPerCard
	})

	return urls, nil
}
