package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/store"
)

// pageScraper extracts articles from an arbitrary web page using the CSS
// selectors configured on the source.
type pageScraper struct {
	src  *store.Source
	opts Options
}

func newPageScraper(src *store.Source, opts Options) *pageScraper {
	return &pageScraper{src: src, opts: opts}
}

func (p *pageScraper) Kind() store.SourceKind { return store.KindPage }

func (p *pageScraper) ValidateConfig() error {
	if p.src.Config.URL == "" {
		return fmt.Errorf("page source %s: url is required", p.src.Name)
	}
	if _, err := p.opts.Validator.ValidateAndNormalize(p.src.Config.URL); err != nil {
		return fmt.Errorf("page source %s: %w", p.src.Name, err)
	}
	sel := p.src.Config.Selectors
	if sel.Item == "" || sel.Title == "" {
		return fmt.Errorf("page source %s: selectors.item and selectors.title are required", p.src.Name)
	}
	return nil
}

func (p *pageScraper) Scrape(ctx context.Context) ([]store.Article, error) {
	sel := p.src.Config.Selectors
	limit := maxItems(p.src, p.opts)

	c := colly.NewCollector(
		colly.UserAgent(p.opts.UserAgent),
	)
	c.SetRequestTimeout(p.opts.HTTPTimeout)

	var (
		articles []store.Article
		fetchErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	c.OnHTML(sel.Item, func(e *colly.HTMLElement) {
		if len(articles) >= limit {
			return
		}

		title := strings.TrimSpace(e.ChildText(sel.Title))
		if title == "" {
			return
		}

		body := ""
		if sel.Body != "" {
			body = strings.TrimSpace(e.ChildText(sel.Body))
		}

		link := ""
		if sel.Link != "" {
			if href := e.ChildAttr(sel.Link, "href"); href != "" {
				link = e.Request.AbsoluteURL(href)
			}
		}

		idSeed := link
		if idSeed == "" {
			idSeed = title
		}

		article := buildArticle(
			"page_"+shortHash(p.src.ID+":"+idSeed),
			title,
			body,
			p.src,
			// Listing pages rarely expose a timestamp; normalization falls
			// back to scrape time.
			time.Time{},
			nil,
		)
		if link != "" {
			article.URLs = appendUnique(article.URLs, link)
		}
		articles = append(articles, article)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && (r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden) {
			fetchErr = fmt.Errorf("page %s: HTTP %d: %w", p.src.Name, r.StatusCode, ErrAuth)
			return
		}
		fetchErr = fmt.Errorf("page %s: %w", p.src.Name, err)
	})

	if err := c.Visit(p.src.Config.URL); err != nil {
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return nil, fmt.Errorf("page %s: blocked by robots.txt", p.src.Name)
		}
		return nil, fmt.Errorf("page %s: visiting: %w", p.src.Name, err)
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	debuglog.Debugf("page %s: extracted %d items", p.src.Name, len(articles))
	return articles, nil
}
