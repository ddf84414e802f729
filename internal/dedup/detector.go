// Package dedup classifies candidate articles as unique or duplicate.
// Stage one compares content hashes against the whole known corpus; stage
// two compares normalized titles and body prefixes against a bounded recent
// window, so the fuzzy cost stays linear in window size rather than corpus
// size.
package dedup

import (
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/jfellner/newsriver/internal/store"
)

const bodyPrefixLen = 200

// Config tunes the detector. Threshold and window bounds trade recall
// against false-positive suppression and stay externally configurable.
type Config struct {
	SimilarityThreshold float64
	WindowAge           time.Duration
	WindowSize          int
}

// Result is the classification of one candidate.
type Result struct {
	Duplicate  bool
	ExistingID string
	Reason     string // "hash", "title" or "body"
}

type windowEntry struct {
	articleID  string
	title      string
	bodyPrefix string
}

// Detector holds a transient view of the corpus for one cycle. It is
// rebuilt fresh each cycle and never shared between concurrent cycles.
type Detector struct {
	cfg    Config
	hashes map[string]string // content hash -> article id, corpus-wide
	window []windowEntry
}

// NewDetector builds a detector from the current corpus. Spam-classified
// articles are included on purpose: excluding them would let known spam
// resurface as "new" every time it is reposted.
func NewDetector(cfg Config, articles []store.Article, now time.Time) *Detector {
	d := &Detector{
		cfg:    cfg,
		hashes: make(map[string]string, len(articles)),
	}

	sort.Slice(articles, func(i, j int) bool {
		return articles[i].ScrapedAt.After(articles[j].ScrapedAt)
	})

	cutoff := now.Add(-cfg.WindowAge)
	for _, article := range articles {
		if article.ContentHash != "" {
			d.hashes[article.ContentHash] = article.ID
		}
		if len(d.window) >= cfg.WindowSize {
			continue
		}
		if cfg.WindowAge > 0 && article.ScrapedAt.Before(cutoff) {
			continue
		}
		d.window = append(d.window, newWindowEntry(article))
	}

	return d
}

func newWindowEntry(article store.Article) windowEntry {
	return windowEntry{
		articleID:  article.ID,
		title:      normalize(article.Title),
		bodyPrefix: prefix(normalize(article.Body), bodyPrefixLen),
	}
}

// Classify runs the two-stage test, cheapest first. The first match wins.
func (d *Detector) Classify(candidate store.Article) Result {
	if id, ok := d.hashes[candidate.ContentHash]; ok {
		return Result{Duplicate: true, ExistingID: id, Reason: "hash"}
	}

	title := normalize(candidate.Title)
	body := prefix(normalize(candidate.Body), bodyPrefixLen)

	for _, entry := range d.window {
		if title != "" && entry.title != "" {
			if similarity(title, entry.title) >= d.cfg.SimilarityThreshold {
				return Result{Duplicate: true, ExistingID: entry.articleID, Reason: "title"}
			}
		}
		if body != "" && entry.bodyPrefix != "" {
			if similarity(body, entry.bodyPrefix) >= d.cfg.SimilarityThreshold {
				return Result{Duplicate: true, ExistingID: entry.articleID, Reason: "body"}
			}
		}
	}

	return Result{}
}

// SeedRecords merges durable duplicate-index entries into the hash stage.
// It covers hashes whose articles have already been pruned from the corpus.
func (d *Detector) SeedRecords(records map[string]store.DuplicateRecord) {
	for hash, rec := range records {
		if _, ok := d.hashes[hash]; !ok {
			d.hashes[hash] = rec.ArticleID
		}
	}
}

// Observe records a committed candidate so later candidates in the same
// cycle are matched against it too.
func (d *Detector) Observe(article store.Article) {
	if article.ContentHash != "" {
		d.hashes[article.ContentHash] = article.ID
	}
	d.window = append(d.window, newWindowEntry(article))
}

// WindowLen reports how many articles the fuzzy window currently holds.
func (d *Detector) WindowLen() int { return len(d.window) }

// similarity is a normalized edit-distance ratio in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func prefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ExpiredRecords returns the duplicate-index records that have aged out of
// the window and can be evicted from the store.
func ExpiredRecords(records map[string]store.DuplicateRecord, cfg Config, now time.Time) []string {
	cutoff := now.Add(-cfg.WindowAge)

	var ids []string
	for id, rec := range records {
		if rec.SeenAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
