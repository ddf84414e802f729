// Package preview resolves a snippet for any URL through tiered fallback:
// oEmbed provider, meta-tag fetch, full content extraction, then an empty
// preview. A missing preview never blocks an article commit.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/store"
	"github.com/jfellner/newsriver/internal/validation"
)

// perArticleFetchLimit caps simultaneous in-flight fetches for the URLs of
// one article so a link-heavy article cannot monopolize the resolver.
const perArticleFetchLimit = 3

// metaFetchLimit bounds how much of a page is read for the meta-tag tier.
const metaFetchLimit = 64 * 1024

// Config tunes the resolver.
type Config struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	MaxPerBody   int
	UserAgent    string
	// Providers overrides the built-in oEmbed provider table when set.
	Providers map[string]string
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.MaxPerBody <= 0 {
		c.MaxPerBody = 3
	}
	if c.UserAgent == "" {
		c.UserAgent = "newsriver/1.0"
	}
	if c.Providers == nil {
		c.Providers = defaultProviders
	}
	return c
}

// Resolver caches previews in the store and coalesces concurrent
// resolutions of the same URL into a single fetch.
type Resolver struct {
	cfg       Config
	client    *http.Client
	previews  *store.Collection[store.Preview]
	validator *validation.URLValidator
	group     singleflight.Group
}

func NewResolver(cfg Config, previews *store.Collection[store.Preview], validator *validation.URLValidator) *Resolver {
	cfg = cfg.withDefaults()
	if validator == nil {
		validator = validation.NewURLValidator()
	}
	return &Resolver{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.FetchTimeout},
		previews:  previews,
		validator: validator,
	}
}

// Resolve returns the preview for one URL, from cache when fresh. All
// failures degrade to an empty preview; Resolve never returns an error.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) store.Preview {
	if cached, ok := r.previews.Get(rawURL); ok && !cached.Expired(time.Now()) {
		return cached
	}

	// Coalesce: a second requester for the same URL awaits the first
	// fetch instead of duplicating it.
	result, _, _ := r.group.Do(rawURL, func() (interface{}, error) {
		if cached, ok := r.previews.Get(rawURL); ok && !cached.Expired(time.Now()) {
			return cached, nil
		}

		preview := r.resolveTiers(ctx, rawURL)
		if err := r.previews.Upsert(rawURL, preview); err != nil {
			debuglog.Warnf("persisting preview for %s: %v", rawURL, err)
		}
		return preview, nil
	})

	return result.(store.Preview)
}

// ResolveArticle resolves previews for the URLs of one article with bounded
// concurrency and returns the URL keys in input order.
func (r *Resolver) ResolveArticle(ctx context.Context, urls []string) []string {
	if len(urls) > r.cfg.MaxPerBody {
		urls = urls[:r.cfg.MaxPerBody]
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(perArticleFetchLimit)

	refs := make([]string, len(urls))
	for i, u := range urls {
		g.Go(func() error {
			r.Resolve(ctx, u)
			refs[i] = u
			return nil
		})
	}
	g.Wait()

	return refs
}

func (r *Resolver) resolveTiers(ctx context.Context, rawURL string) store.Preview {
	now := time.Now()
	// Sub-second remainders round up; truncating to zero would mark every
	// preview expired on arrival.
	ttl := int(r.cfg.TTL.Seconds())
	if time.Duration(ttl)*time.Second < r.cfg.TTL {
		ttl++
	}

	if _, err := r.validator.ValidateAndNormalize(rawURL); err != nil {
		debuglog.Debugf("preview: rejecting %s: %v", rawURL, err)
		return store.Preview{URL: rawURL, Tier: store.TierNone, FetchedAt: now, TTLSeconds: ttl}
	}

	if endpoint := providerFor(r.cfg.Providers, rawURL); endpoint != "" {
		if p, ok := r.resolveEmbed(ctx, endpoint, rawURL); ok {
			p.FetchedAt = now
			p.TTLSeconds = ttl
			return p
		}
	}

	if p, ok := r.resolveMeta(ctx, rawURL); ok {
		p.FetchedAt = now
		p.TTLSeconds = ttl
		return p
	}

	if p, ok := r.resolveFullFetch(ctx, rawURL); ok {
		p.FetchedAt = now
		p.TTLSeconds = ttl
		return p
	}

	debuglog.Debugf("preview: all tiers failed for %s", rawURL)
	return store.Preview{URL: rawURL, Tier: store.TierNone, FetchedAt: now, TTLSeconds: ttl}
}

type oembedPayload struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	ThumbnailURL string `json:"thumbnail_url"`
	ProviderName string `json:"provider_name"`
}

func (r *Resolver) resolveEmbed(ctx context.Context, endpoint, rawURL string) (store.Preview, bool) {
	q := url.Values{}
	q.Set("url", rawURL)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return store.Preview{}, false
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return store.Preview{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return store.Preview{}, false
	}

	var payload oembedPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return store.Preview{}, false
	}
	if payload.Title == "" && payload.Description == "" {
		return store.Preview{}, false
	}

	return store.Preview{
		URL:         rawURL,
		Tier:        store.TierEmbed,
		Title:       payload.Title,
		Description: payload.Description,
		Image:       payload.ThumbnailURL,
		SiteName:    payload.ProviderName,
	}, true
}

// resolveMeta reads only the head of the page and pulls structured meta
// tags without rendering anything.
func (r *Resolver) resolveMeta(ctx context.Context, rawURL string) (store.Preview, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return store.Preview{}, false
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return store.Preview{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return store.Preview{}, false
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, metaFetchLimit))
	if err != nil {
		return store.Preview{}, false
	}

	title := metaContent(doc, `meta[property="og:title"]`, `meta[name="twitter:title"]`)
	if title == "" {
		title = doc.Find("title").First().Text()
	}
	description := metaContent(doc,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
		`meta[name="description"]`,
	)
	image := metaContent(doc, `meta[property="og:image"]`, `meta[name="twitter:image"]`)
	siteName := metaContent(doc, `meta[property="og:site_name"]`)

	if title == "" && description == "" {
		return store.Preview{}, false
	}

	return store.Preview{
		URL:         rawURL,
		Tier:        store.TierMeta,
		Title:       title,
		Description: description,
		Image:       absoluteURL(rawURL, image),
		SiteName:    siteName,
	}, true
}

// resolveFullFetch is the slow path: download the page and run full
// content extraction over it.
func (r *Resolver) resolveFullFetch(ctx context.Context, rawURL string) (store.Preview, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return store.Preview{}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return store.Preview{}, false
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return store.Preview{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return store.Preview{}, false
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return store.Preview{}, false
	}

	// Pages with no title element still get a headline, taken from the
	// first line of the extracted text.
	title := article.Title
	if title == "" {
		title = firstTextLine(article.TextContent)
	}
	if title == "" && article.Excerpt == "" {
		return store.Preview{}, false
	}

	description := article.Excerpt
	if description == "" && article.TextContent != "" {
		description = truncateRunes(article.TextContent, 200)
	}

	return store.Preview{
		URL:         rawURL,
		Tier:        store.TierFullFetch,
		Title:       title,
		Description: description,
		Image:       article.Image,
		SiteName:    article.SiteName,
	}, true
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		if content, ok := doc.Find(selector).First().Attr("content"); ok && content != "" {
			return content
		}
	}
	return ""
}

func absoluteURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func firstTextLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return truncateRunes(line, 80)
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return fmt.Sprintf("%s...", string(runes[:n]))
}
