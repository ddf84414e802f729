package store

import (
	"time"
)

// SourceKind identifies the scraper variant responsible for a source.
type SourceKind string

const (
	KindChannel SourceKind = "channel"
	KindFeed    SourceKind = "feed"
	KindPage    SourceKind = "page"
	KindProfile SourceKind = "profile"
)

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case KindChannel, KindFeed, KindPage, KindProfile:
		return true
	}
	return false
}

// Relevance is the classification attached to an article, either by the
// spam classifier or by explicit user feedback.
type Relevance string

const (
	RelevanceUnclassified Relevance = "unclassified"
	RelevanceFavorite     Relevance = "favorite"
	RelevanceSpam         Relevance = "spam"
	RelevanceNeutral      Relevance = "neutral"
)

// PageSelectors holds the CSS selectors a page source is scraped with.
type PageSelectors struct {
	Item  string `json:"item"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Link  string `json:"link"`
}

// SourceConfig carries the kind-specific settings of a source. Credential
// values are opaque; they are handed to the scraper untouched.
type SourceConfig struct {
	URL          string        `json:"url,omitempty"`
	Endpoint     string        `json:"endpoint,omitempty"`
	Channel      string        `json:"channel,omitempty"`
	Username     string        `json:"username,omitempty"`
	APIToken     string        `json:"api_token,omitempty"`
	BearerToken  string        `json:"bearer_token,omitempty"`
	Selectors    PageSelectors `json:"selectors,omitempty"`
	ETag         string        `json:"etag,omitempty"`
	LastModified string        `json:"last_modified,omitempty"`
}

type Source struct {
	ID                    string       `json:"id"`
	Name                  string       `json:"name"`
	Kind                  SourceKind   `json:"kind"`
	Enabled               bool         `json:"enabled"`
	Config                SourceConfig `json:"config"`
	UpdateIntervalMinutes int          `json:"update_interval_minutes"`
	MaxItemsPerCycle      int          `json:"max_items_per_cycle"`
	LastScrapedAt         time.Time    `json:"last_scraped_at,omitempty"`
	LastError             string       `json:"last_error,omitempty"`
	ConsecutiveFailures   int          `json:"consecutive_failures,omitempty"`
	ValidatedAt           time.Time    `json:"validated_at,omitempty"`
	ValidationError       string       `json:"validation_error,omitempty"`
}

type Article struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	URLs        []string   `json:"urls,omitempty"`
	SourceID    string     `json:"source_id"`
	SourceKind  SourceKind `json:"source_kind"`
	ContentHash string     `json:"content_hash"`
	PublishedAt time.Time  `json:"published_at"`
	ScrapedAt   time.Time  `json:"scraped_at"`
	Relevance   Relevance  `json:"relevance"`
	RatedByUser bool       `json:"rated_by_user,omitempty"`
	SpamReasons []string   `json:"spam_reasons,omitempty"`
	PreviewRefs []string   `json:"preview_refs,omitempty"`
	MediaRefs   []string   `json:"media_refs,omitempty"`
}

// DuplicateRecord maps a content hash and title to the article it resolved
// to. It is a lookup structure only; the article remains source of truth.
type DuplicateRecord struct {
	ContentHash string    `json:"content_hash"`
	Title       string    `json:"title"`
	SourceID    string    `json:"source_id"`
	ArticleID   string    `json:"article_id"`
	SeenAt      time.Time `json:"seen_at"`
}

// PreviewTier names the resolution strategy that produced a preview.
type PreviewTier string

const (
	TierEmbed     PreviewTier = "embed"
	TierMeta      PreviewTier = "meta"
	TierFullFetch PreviewTier = "full-fetch"
	TierNone      PreviewTier = "none"
)

// Preview is keyed by URL. Articles reference previews by URL only, so a
// preview can be refreshed or evicted without touching the article.
type Preview struct {
	URL         string      `json:"url"`
	Tier        PreviewTier `json:"tier"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	SiteName    string      `json:"site_name,omitempty"`
	FetchedAt   time.Time   `json:"fetched_at"`
	TTLSeconds  int         `json:"ttl_seconds"`
}

// Expired reports whether the preview is past its TTL at the given time.
func (p Preview) Expired(now time.Time) bool {
	if p.TTLSeconds <= 0 {
		return true
	}
	return now.After(p.FetchedAt.Add(time.Duration(p.TTLSeconds) * time.Second))
}
