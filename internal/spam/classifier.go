// Package spam scores articles with rule-based heuristics: regex patterns,
// keyword lists, structural anomalies and source-level trust. Spam-rated
// articles stay in the store for audit; hiding them is a read-time filter.
package spam

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jfellner/newsriver/internal/store"
)

// Config tunes the classifier.
type Config struct {
	// ScoreThreshold is the score at or above which an article is spam.
	ScoreThreshold int
	// TrustedSources halve the score of articles they produced.
	TrustedSources []string
	// ExtraKeywords extends the built-in keyword list.
	ExtraKeywords []string
}

var defaultPatterns = []*regexp.Regexp{
	// Crypto/trading bait
	regexp.MustCompile(`(?i)(bitcoin|crypto|trading|profit)\W.*(now|instantly|guaranteed)`),
	regexp.MustCompile(`(?i)🚀.*(moon|explode|pump)`),
	regexp.MustCompile(`(?i)(crypto|bitcoin|eth|trading).*(tips?|signals?|group)`),

	// Promotions
	regexp.MustCompile(`(?i)(offer|discount|sale|cheap).*(🔥|⚡|💥)`),
	regexp.MustCompile(`(?i)buy\s+now.*(only|today|limited)`),
	regexp.MustCompile(`(?i)(free|giveaway).*(claim|grab|register)`),

	// Channel self-promotion
	regexp.MustCompile(`(?i)(channel|group).*(join|follow|subscribe)`),
	regexp.MustCompile(`(?i)(t\.me|telegram\.me)/[a-zA-Z0-9_]+`),

	// Clickbait
	regexp.MustCompile(`(?i)(shocking|scandal|unbelievable|sensational).*!+`),
	regexp.MustCompile(`(?i)(doctors|experts)\s+(hate|won't tell you)`),

	// Excessive emphasis
	regexp.MustCompile(`[🔥⚡💥🚀💎]{3,}`),
	regexp.MustCompile(`[A-Z]{10,}`),
	regexp.MustCompile(`!{3,}`),

	// Affiliate/referral
	regexp.MustCompile(`(?i)(affiliate|referral)\s+(link|code)`),
	regexp.MustCompile(`(?i)(bonus|cashback)\s+(code|link)`),
}

var defaultKeywords = []string{
	"giveaway", "sweepstakes", "win big", "claim your",
	"discount code", "voucher", "promo code", "coupon",
	"mlm", "network marketing", "passive income",
	"get rich", "easy money", "no experience needed",
	"click here", "link in bio",
	"dm me", "message me",
}

var suspiciousSourcePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)promo`),
	regexp.MustCompile(`(?i)offer`),
	regexp.MustCompile(`(?i)deal`),
	regexp.MustCompile(`(?i)ads?$`),
	regexp.MustCompile(`(?i)affiliate`),
}

var (
	emojiRegex = regexp.MustCompile(`[🔥⚡💥🚀💎💰💵🎯📈📊]`)
	punctRegex = regexp.MustCompile(`[!?]{2,}`)
	upperRegex = regexp.MustCompile(`[A-Z]`)
)

// Score is the detailed outcome of classifying one article.
type Score struct {
	Points    int
	Relevance store.Relevance
	Reasons   []string
}

type Classifier struct {
	cfg      Config
	keywords []string
	trusted  map[string]struct{}
}

func NewClassifier(cfg Config) *Classifier {
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 50
	}

	trusted := make(map[string]struct{}, len(cfg.TrustedSources))
	for _, name := range cfg.TrustedSources {
		trusted[strings.ToLower(name)] = struct{}{}
	}

	return &Classifier{
		cfg:      cfg,
		keywords: append(append([]string{}, defaultKeywords...), cfg.ExtraKeywords...),
		trusted:  trusted,
	}
}

// Classify scores the article. sourceName is used for trust weighting and
// source-pattern checks.
func (c *Classifier) Classify(article store.Article, sourceName string) Score {
	points := 0
	var reasons []string

	text := article.Title + " " + article.Body

	for _, pattern := range defaultPatterns {
		if pattern.MatchString(text) {
			points += 20
			reasons = append(reasons, "pattern: "+truncate(pattern.String(), 30))
		}
	}

	lower := strings.ToLower(text)
	keywordCount := 0
	for _, keyword := range c.keywords {
		if strings.Contains(lower, keyword) {
			keywordCount++
		}
	}
	switch {
	case keywordCount >= 3:
		points += 30
		reasons = append(reasons, fmt.Sprintf("keywords (%d)", keywordCount))
	case keywordCount >= 1:
		points += 10
		reasons = append(reasons, fmt.Sprintf("keywords (%d)", keywordCount))
	}

	structPoints, structReasons := c.checkStructure(article)
	points += structPoints
	reasons = append(reasons, structReasons...)

	for _, pattern := range suspiciousSourcePatterns {
		if pattern.MatchString(sourceName) {
			points += 15
			reasons = append(reasons, "suspicious source name: "+sourceName)
			break
		}
	}

	if _, ok := c.trusted[strings.ToLower(sourceName)]; ok {
		points /= 2
	}

	relevance := store.RelevanceUnclassified
	switch {
	case points >= c.cfg.ScoreThreshold:
		relevance = store.RelevanceSpam
	case points <= 5:
		relevance = store.RelevanceNeutral
	}

	return Score{Points: points, Relevance: relevance, Reasons: reasons}
}

// Apply classifies the article and writes the result onto it. An explicit
// user rating is never overridden, which makes re-scoring idempotent.
func (c *Classifier) Apply(article *store.Article, sourceName string) Score {
	score := c.Classify(*article, sourceName)
	if article.RatedByUser {
		return score
	}

	article.Relevance = score.Relevance
	if score.Relevance == store.RelevanceSpam {
		article.SpamReasons = score.Reasons
	}
	return score
}

func (c *Classifier) checkStructure(article store.Article) (int, []string) {
	points := 0
	var reasons []string

	text := article.Title + " " + article.Body

	emojiCount := len(emojiRegex.FindAllString(text, -1))
	switch {
	case emojiCount > 10:
		points += 25
		reasons = append(reasons, fmt.Sprintf("excessive emojis (%d)", emojiCount))
	case emojiCount > 5:
		points += 10
		reasons = append(reasons, fmt.Sprintf("many emojis (%d)", emojiCount))
	}

	if len(article.Title) > 10 {
		capsRatio := float64(len(upperRegex.FindAllString(article.Title, -1))) / float64(len(article.Title))
		if capsRatio > 0.7 {
			points += 20
			reasons = append(reasons, "mostly upper-case title")
		}
	}

	if runs := len(punctRegex.FindAllString(text, -1)); runs > 2 {
		points += 15
		reasons = append(reasons, fmt.Sprintf("punctuation runs (%d)", runs))
	}

	if len(article.Body) < 50 && strings.Contains(article.Body, "http") {
		points += 20
		reasons = append(reasons, "short body with links")
	}

	return points, reasons
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
