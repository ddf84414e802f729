package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/store"
)

// profileScraper pulls recent posts from a social profile's timeline API
// using an opaque bearer token.
type profileScraper struct {
	src    *store.Source
	opts   Options
	client *http.Client
}

func newProfileScraper(src *store.Source, opts Options) *profileScraper {
	return &profileScraper{
		src:    src,
		opts:   opts,
		client: newHTTPClient(opts),
	}
}

func (p *profileScraper) Kind() store.SourceKind { return store.KindProfile }

func (p *profileScraper) ValidateConfig() error {
	if p.src.Config.Endpoint == "" {
		return fmt.Errorf("profile source %s: endpoint is required", p.src.Name)
	}
	if p.src.Config.Username == "" {
		return fmt.Errorf("profile source %s: username is required", p.src.Name)
	}
	if p.src.Config.BearerToken == "" {
		return fmt.Errorf("profile source %s: bearer_token is required", p.src.Name)
	}
	return nil
}

// profilePost mirrors the timeline payload shape.
type profilePost struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"created_at"`
	MediaURLs []string `json:"media_urls"`
}

type profileResponse struct {
	Posts []profilePost `json:"posts"`
}

func (p *profileScraper) Scrape(ctx context.Context) ([]store.Article, error) {
	limit := maxItems(p.src, p.opts)

	reqURL := fmt.Sprintf("%s/users/%s/posts?limit=%d", p.src.Config.Endpoint, p.src.Config.Username, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Authorization", "Bearer "+p.src.Config.BearerToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching profile timeline: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("profile %s: HTTP %d: %w", p.src.Name, resp.StatusCode, ErrAuth)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("profile %s: HTTP error %d", p.src.Name, resp.StatusCode)
	}

	var payload profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding profile response: %w", err)
	}

	articles := make([]store.Article, 0, len(payload.Posts))
	for _, post := range payload.Posts {
		if len(articles) >= limit {
			break
		}
		article, ok := p.normalize(post)
		if !ok {
			continue
		}
		articles = append(articles, article)
	}

	return articles, nil
}

func (p *profileScraper) normalize(post profilePost) (store.Article, bool) {
	if post.Text == "" {
		debuglog.Debugf("profile %s: skipping empty post %s", p.src.Name, post.ID)
		return store.Article{}, false
	}

	var published time.Time
	if post.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, post.CreatedAt); err == nil {
			published = ts
		} else {
			debuglog.Debugf("profile %s: unparseable timestamp %q on post %s", p.src.Name, post.CreatedAt, post.ID)
		}
	}

	title, body := splitMessage(post.Text)

	id := post.ID
	if id == "" {
		id = shortHash(post.Text)
	}

	return buildArticle(
		fmt.Sprintf("profile_%s_%s", p.src.Config.Username, id),
		title,
		body,
		p.src,
		published,
		post.MediaURLs,
	), true
}
