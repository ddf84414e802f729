package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/store"
)

const defaultChannelEndpoint = "https://api.telegram.org"

// channelScraper reads posts from a chat channel through the bot HTTP API.
// The API token is opaque configuration; it is inserted into the request
// path and never inspected.
type channelScraper struct {
	src    *store.Source
	opts   Options
	client *http.Client
}

func newChannelScraper(src *store.Source, opts Options) *channelScraper {
	return &channelScraper{
		src:    src,
		opts:   opts,
		client: newHTTPClient(opts),
	}
}

func (c *channelScraper) Kind() store.SourceKind { return store.KindChannel }

func (c *channelScraper) ValidateConfig() error {
	if c.src.Config.APIToken == "" {
		return fmt.Errorf("channel source %s: api_token is required", c.src.Name)
	}
	if c.src.Config.Channel == "" {
		return fmt.Errorf("channel source %s: channel is required", c.src.Name)
	}
	return nil
}

func (c *channelScraper) endpoint() string {
	if c.src.Config.Endpoint != "" {
		return c.src.Config.Endpoint
	}
	return defaultChannelEndpoint
}

// channelUpdate mirrors the subset of the bot API update payload we consume.
type channelUpdate struct {
	UpdateID int64 `json:"update_id"`
	Post     *struct {
		MessageID int64  `json:"message_id"`
		Date      int64  `json:"date"`
		Text      string `json:"text"`
		Caption   string `json:"caption"`
		Chat      struct {
			Username string `json:"username"`
			Title    string `json:"title"`
		} `json:"chat"`
		Photo []struct {
			FileID string `json:"file_id"`
		} `json:"photo"`
	} `json:"channel_post"`
}

type channelResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      []channelUpdate `json:"result"`
}

func (c *channelScraper) Scrape(ctx context.Context) ([]store.Article, error) {
	limit := maxItems(c.src, c.opts)

	q := url.Values{}
	q.Set("allowed_updates", `["channel_post"]`)
	q.Set("limit", fmt.Sprintf("%d", limit))

	reqURL := fmt.Sprintf("%s/bot%s/getUpdates?%s", c.endpoint(), c.src.Config.APIToken, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching channel updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("channel %s: HTTP %d: %w", c.src.Name, resp.StatusCode, ErrAuth)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("channel %s: HTTP error %d", c.src.Name, resp.StatusCode)
	}

	var payload channelResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding channel response: %w", err)
	}
	if !payload.OK {
		return nil, fmt.Errorf("channel %s: API error: %s: %w", c.src.Name, payload.Description, ErrAuth)
	}

	articles := make([]store.Article, 0, len(payload.Result))
	for _, update := range payload.Result {
		if len(articles) >= limit {
			break
		}
		article, ok := c.normalize(update)
		if !ok {
			continue
		}
		articles = append(articles, article)
	}

	return articles, nil
}

func (c *channelScraper) normalize(update channelUpdate) (store.Article, bool) {
	post := update.Post
	if post == nil {
		return store.Article{}, false
	}
	if post.Chat.Username != "" && post.Chat.Username != c.src.Config.Channel {
		return store.Article{}, false
	}

	text := post.Text
	if text == "" {
		text = post.Caption
	}
	if text == "" {
		debuglog.Debugf("channel %s: skipping empty message %d", c.src.Name, post.MessageID)
		return store.Article{}, false
	}

	// Channel posts have no separate headline; the first line serves as one.
	title, body := splitMessage(text)

	var media []string
	for _, photo := range post.Photo {
		if photo.FileID != "" {
			media = append(media, photo.FileID)
		}
	}

	return buildArticle(
		fmt.Sprintf("channel_%s_%d", c.src.Config.Channel, post.MessageID),
		title,
		body,
		c.src,
		time.Unix(post.Date, 0),
		media,
	), true
}

// splitMessage uses the first line of a message as the title and the rest as
// the body. Single-line messages become title-only articles.
func splitMessage(text string) (title, body string) {
	const maxTitleLen = 120

	for i, r := range text {
		if r == '\n' {
			return text[:i], text[i+1:]
		}
		if i >= maxTitleLen {
			return text[:i], text[i:]
		}
	}
	return text, ""
}
