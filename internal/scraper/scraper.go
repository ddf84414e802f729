// Package scraper implements one adapter per source kind behind a common
// contract. Adapters return zero or more normalized articles even on partial
// failure; only connection-level or auth-level problems fail the whole
// invocation.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jfellner/newsriver/internal/store"
	"github.com/jfellner/newsriver/internal/validation"
)

// ErrAuth marks credential failures. Sources failing with it are surfaced
// for operator attention instead of being retried at the normal cadence.
var ErrAuth = errors.New("authentication failed")

// Scraper is the capability contract every source kind implements.
type Scraper interface {
	Kind() store.SourceKind
	// Scrape fetches and normalizes a batch of candidate articles. Items
	// that fail to parse are dropped individually; the returned error is
	// reserved for connection- or auth-level failures.
	Scrape(ctx context.Context) ([]store.Article, error)
	// ValidateConfig reports whether the source configuration is usable.
	// A failing source is skipped for the cycle and flagged, not removed.
	ValidateConfig() error
}

// Options carries shared scraping settings.
type Options struct {
	HTTPTimeout     time.Duration
	UserAgent       string
	MaxItemsDefault int
	Validator       *validation.URLValidator
}

func (o Options) withDefaults() Options {
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 30 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "newsriver/1.0"
	}
	if o.MaxItemsDefault <= 0 {
		o.MaxItemsDefault = 50
	}
	if o.Validator == nil {
		o.Validator = validation.NewURLValidator()
	}
	return o
}

// New returns the adapter for the source's kind. The adapter holds the
// source by pointer so fetch state (ETag, Last-Modified) written during a
// scrape is visible to the caller for persisting.
func New(src *store.Source, opts Options) (Scraper, error) {
	opts = opts.withDefaults()

	switch src.Kind {
	case store.KindChannel:
		return newChannelScraper(src, opts), nil
	case store.KindFeed:
		return newFeedScraper(src, opts), nil
	case store.KindPage:
		return newPageScraper(src, opts), nil
	case store.KindProfile:
		return newProfileScraper(src, opts), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

func newHTTPClient(opts Options) *http.Client {
	return &http.Client{Timeout: opts.HTTPTimeout}
}

func maxItems(src *store.Source, opts Options) int {
	if src.MaxItemsPerCycle > 0 {
		return src.MaxItemsPerCycle
	}
	return opts.MaxItemsDefault
}
