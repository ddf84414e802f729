package scraper

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jfellner/newsriver/internal/store"
)

var (
	urlRegex        = regexp.MustCompile(`https?://[^\s<>"]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
	tagRegex        = regexp.MustCompile(`<[^>]+>`)
)

// NormalizeText lower-cases and collapses all whitespace runs to single
// spaces. The content hash is computed over this form so formatting-only
// differences between sources do not defeat exact duplicate matching.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// ContentHash returns the deterministic digest of the normalized title and
// body. It is recomputed on every normalization, never inherited.
func ContentHash(title, body string) string {
	input := NormalizeText(title) + "\n" + NormalizeText(body)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(input)))
}

// ExtractURLs returns the unique HTTP(S) URLs found in text, in order of
// first appearance, with common trailing punctuation trimmed.
func ExtractURLs(text string) []string {
	if text == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var urls []string
	for _, match := range urlRegex.FindAllString(text, -1) {
		match = strings.TrimRight(match, ".,;!?)")
		if _, ok := seen[match]; ok {
			continue
		}
		seen[match] = struct{}{}
		urls = append(urls, match)
	}
	return urls
}

// StripHTML removes markup tags and collapses the remaining whitespace.
// Good enough for feed descriptions; full pages go through readability.
func StripHTML(s string) string {
	s = tagRegex.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// shortHash is used for deterministic article IDs.
func shortHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", sum[:8])
}

// buildArticle assembles the canonical article shape from normalized parts.
func buildArticle(id, title, body string, src *store.Source, published time.Time, mediaRefs []string) store.Article {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if published.IsZero() {
		published = time.Now()
	}

	return store.Article{
		ID:          id,
		Title:       title,
		Body:        body,
		URLs:        ExtractURLs(title + " " + body),
		SourceID:    src.ID,
		SourceKind:  src.Kind,
		ContentHash: ContentHash(title, body),
		PublishedAt: published,
		ScrapedAt:   time.Now(),
		Relevance:   store.RelevanceUnclassified,
		MediaRefs:   mediaRefs,
	}
}
