package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/store"
)

// feedScraper handles RSS and Atom sources. It carries ETag/Last-Modified
// state in the source config so unchanged feeds cost a single 304.
type feedScraper struct {
	src    *store.Source
	opts   Options
	client *http.Client
	parser *gofeed.Parser
}

func newFeedScraper(src *store.Source, opts Options) *feedScraper {
	return &feedScraper{
		src:    src,
		opts:   opts,
		client: newHTTPClient(opts),
		parser: gofeed.NewParser(),
	}
}

func (f *feedScraper) Kind() store.SourceKind { return store.KindFeed }

func (f *feedScraper) ValidateConfig() error {
	if f.src.Config.URL == "" {
		return fmt.Errorf("feed source %s: url is required", f.src.Name)
	}
	if _, err := f.opts.Validator.ValidateAndNormalize(f.src.Config.URL); err != nil {
		return fmt.Errorf("feed source %s: %w", f.src.Name, err)
	}
	return nil
}

func (f *feedScraper) Scrape(ctx context.Context) ([]store.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.src.Config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	if f.src.Config.ETag != "" {
		req.Header.Set("If-None-Match", f.src.Config.ETag)
	}
	if f.src.Config.LastModified != "" {
		req.Header.Set("If-Modified-Since", f.src.Config.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		debuglog.Debugf("feed %s not modified", f.src.Name)
		return nil, nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("feed %s: HTTP %d: %w", f.src.Name, resp.StatusCode, ErrAuth)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("feed %s: HTTP error %d", f.src.Name, resp.StatusCode)
	}

	feed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		f.src.Config.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		f.src.Config.LastModified = lastMod
	}

	limit := maxItems(f.src, f.opts)
	articles := make([]store.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		if len(articles) >= limit {
			break
		}
		article, ok := f.normalize(item)
		if !ok {
			debuglog.Debugf("feed %s: skipping unusable item %q", f.src.Name, item.Title)
			continue
		}
		articles = append(articles, article)
	}

	return articles, nil
}

func (f *feedScraper) normalize(item *gofeed.Item) (store.Article, bool) {
	body := item.Content
	if body == "" {
		body = item.Description
	}
	body = StripHTML(body)

	if item.Title == "" && body == "" {
		return store.Article{}, false
	}

	var published time.Time
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	guid := item.GUID
	if guid == "" {
		guid = item.Link
	}
	if guid == "" {
		guid = item.Title + published.Format(time.RFC3339)
	}

	var media []string
	for _, enclosure := range item.Enclosures {
		if enclosure.URL != "" {
			media = append(media, enclosure.URL)
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		media = append(media, item.Image.URL)
	}

	article := buildArticle(
		"feed_"+shortHash(f.src.ID+":"+guid),
		item.Title,
		body,
		f.src,
		published,
		media,
	)
	if item.Link != "" {
		article.URLs = appendUnique(article.URLs, item.Link)
	}
	return article, true
}

func appendUnique(urls []string, url string) []string {
	for _, u := range urls {
		if u == url {
			return urls
		}
	}
	return append(urls, url)
}
