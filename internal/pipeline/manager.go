// Package pipeline orchestrates one ingestion cycle: concurrent scraping of
// all enabled sources, duplicate and spam filtering, preview resolution and
// per-article commits to the store.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/dedup"
	"github.com/jfellner/newsriver/internal/preview"
	"github.com/jfellner/newsriver/internal/scraper"
	"github.com/jfellner/newsriver/internal/spam"
	"github.com/jfellner/newsriver/internal/store"
)

// ErrCycleRunning is returned when RunCycle is invoked while another cycle
// is still in flight. Cycles are never run in parallel.
var ErrCycleRunning = errors.New("a cycle is already running")

// Config tunes the orchestrator.
type Config struct {
	// Workers is the fixed size of the scrape worker pool.
	Workers int
	// SourceTimeout bounds each source's scrape so a hanging source cannot
	// starve the cycle.
	SourceTimeout time.Duration
	Scraper       scraper.Options
	Dedup         dedup.Config
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 5 * time.Minute
	}
	if c.Dedup.SimilarityThreshold <= 0 {
		c.Dedup.SimilarityThreshold = 0.85
	}
	if c.Dedup.WindowAge <= 0 {
		c.Dedup.WindowAge = 48 * time.Hour
	}
	if c.Dedup.WindowSize <= 0 {
		c.Dedup.WindowSize = 500
	}
	return c
}

// SourceReport is the per-source slice of a cycle report.
type SourceReport struct {
	SourceID   string           `json:"source_id"`
	Name       string           `json:"name"`
	Kind       store.SourceKind `json:"kind"`
	Scraped    int              `json:"scraped"`
	New        int              `json:"new"`
	Duplicates int              `json:"duplicates"`
	Spam       int              `json:"spam"`
	Skipped    bool             `json:"skipped,omitempty"`
	TimedOut   bool             `json:"timed_out,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// CycleReport summarizes one RunCycle invocation. Reporting is atomic even
// though storage commits are not: callers always see one consistent report.
type CycleReport struct {
	ID            string          `json:"id"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
	Sources       []*SourceReport `json:"sources"`
	Candidates    int             `json:"candidates"`
	NewArticles   int             `json:"new_articles"`
	Duplicates    int             `json:"duplicates"`
	Spam          int             `json:"spam"`
	FailedCommits []string        `json:"failed_commits,omitempty"`
}

// Manager coordinates all enabled sources. It holds no timer state; an
// external scheduler invokes RunCycle.
type Manager struct {
	cfg        Config
	store      *store.Store
	classifier *spam.Classifier
	resolver   *preview.Resolver
	running    atomic.Bool
}

func NewManager(cfg Config, st *store.Store, classifier *spam.Classifier, resolver *preview.Resolver) *Manager {
	return &Manager{
		cfg:        cfg.withDefaults(),
		store:      st,
		classifier: classifier,
		resolver:   resolver,
	}
}

// sourceBatch is one source's scrape outcome, in arrival order.
type sourceBatch struct {
	report   *SourceReport
	source   store.Source
	articles []store.Article
}

// RunCycle executes one complete ingestion cycle and returns its report.
// Overlapping invocations are rejected, not queued.
func (m *Manager) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	defer m.running.Store(false)

	started := time.Now()
	report := &CycleReport{
		ID:        uuid.NewString(),
		StartedAt: started,
	}

	sources := m.store.Sources().List(func(s store.Source) bool {
		return s.Enabled && sourceDue(s, started)
	})
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })

	debuglog.Infof("cycle %s: starting with %d enabled sources", report.ID, len(sources))

	batches := m.scrapeAll(ctx, sources)

	candidates := 0
	for _, batch := range batches {
		report.Sources = append(report.Sources, batch.report)
		candidates += len(batch.articles)
	}
	report.Candidates = candidates

	m.processCandidates(ctx, batches, report)

	m.evictExpiredDupRecords()

	report.Duration = time.Since(started)
	debuglog.Infof("cycle %s: done in %s: %d new, %d duplicates, %d spam",
		report.ID, report.Duration, report.NewArticles, report.Duplicates, report.Spam)

	return report, nil
}

// sourceDue applies the source's own update interval. A zero interval means
// the source joins every cycle.
func sourceDue(s store.Source, now time.Time) bool {
	if s.UpdateIntervalMinutes <= 0 || s.LastScrapedAt.IsZero() {
		return true
	}
	next := s.LastScrapedAt.Add(time.Duration(s.UpdateIntervalMinutes) * time.Minute)
	return !now.Before(next)
}

// scrapeAll fans the sources out over a fixed worker pool and collects the
// batches in arrival order.
func (m *Manager) scrapeAll(ctx context.Context, sources []store.Source) []*sourceBatch {
	jobs := make(chan store.Source, len(sources))

	var (
		mu      sync.Mutex
		batches []*sourceBatch
	)

	var wg sync.WaitGroup
	workers := m.cfg.Workers
	if workers > len(sources) {
		workers = len(sources)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range jobs {
				batch := m.scrapeOne(ctx, src)
				mu.Lock()
				batches = append(batches, batch)
				mu.Unlock()
			}
		}()
	}

	for _, src := range sources {
		jobs <- src
	}
	close(jobs)
	wg.Wait()

	return batches
}

// scrapeOne runs a single source under its own timeout. A failure here is
// contained: it is recorded on the source and in the report, never
// propagated to sibling sources.
func (m *Manager) scrapeOne(ctx context.Context, src store.Source) *sourceBatch {
	batch := &sourceBatch{
		source: src,
		report: &SourceReport{SourceID: src.ID, Name: src.Name, Kind: src.Kind},
	}
	log := debuglog.WithFields(map[string]interface{}{"source": src.Name, "kind": src.Kind})

	scr, err := scraper.New(&batch.source, m.cfg.Scraper)
	if err != nil {
		batch.report.Skipped = true
		batch.report.Error = err.Error()
		m.flagSource(&batch.source, err)
		return batch
	}

	if err := scr.ValidateConfig(); err != nil {
		log.Warnf("config validation failed: %v", err)
		batch.report.Skipped = true
		batch.report.Error = err.Error()
		m.flagSource(&batch.source, err)
		return batch
	}

	scrapeCtx, cancel := context.WithTimeout(ctx, m.cfg.SourceTimeout)
	defer cancel()

	articles, err := scr.Scrape(scrapeCtx)
	if err != nil {
		// A timed-out source contributes zero candidates and is marked
		// failed; it is retried on the next cycle, not within this one.
		if errors.Is(err, context.DeadlineExceeded) || scrapeCtx.Err() != nil {
			batch.report.TimedOut = true
		}
		if errors.Is(err, scraper.ErrAuth) {
			log.Errorf("authentication failed: %v", err)
		} else {
			log.Warnf("scrape failed: %v", err)
		}
		batch.report.Error = err.Error()
		m.flagSource(&batch.source, err)
		return batch
	}

	batch.articles = articles
	batch.report.Scraped = len(articles)

	batch.source.LastScrapedAt = time.Now()
	batch.source.LastError = ""
	batch.source.ConsecutiveFailures = 0
	batch.source.ValidatedAt = time.Now()
	batch.source.ValidationError = ""
	if err := m.store.Sources().Upsert(batch.source.ID, batch.source); err != nil {
		log.Warnf("persisting source state: %v", err)
	}

	log.Infof("scraped %d candidates", len(articles))
	return batch
}

func (m *Manager) flagSource(src *store.Source, scrapeErr error) {
	src.LastError = scrapeErr.Error()
	src.ConsecutiveFailures++
	src.ValidatedAt = time.Now()
	src.ValidationError = scrapeErr.Error()
	if err := m.store.Sources().Upsert(src.ID, *src); err != nil {
		debuglog.Warnf("persisting failed source %s: %v", src.Name, err)
	}
}

// processCandidates runs the unified candidate set through dedup and spam
// classification, resolves previews for the survivors, and commits each
// article independently.
func (m *Manager) processCandidates(ctx context.Context, batches []*sourceBatch, report *CycleReport) {
	detector := dedup.NewDetector(m.cfg.Dedup, m.store.Articles().List(nil), time.Now())
	detector.SeedRecords(m.store.DupIndex().Snapshot())

	type survivor struct {
		article *store.Article
		report  *SourceReport
	}
	var survivors []survivor

	for _, batch := range batches {
		for i := range batch.articles {
			article := &batch.articles[i]

			result := detector.Classify(*article)
			if result.Duplicate {
				debuglog.Debugf("duplicate (%s) of %s: %q", result.Reason, result.ExistingID, article.Title)
				batch.report.Duplicates++
				report.Duplicates++
				continue
			}

			score := m.classifier.Apply(article, batch.source.Name)
			if article.Relevance == store.RelevanceSpam {
				debuglog.Debugf("spam (score %d): %q", score.Points, article.Title)
				batch.report.Spam++
				report.Spam++
			}

			// Spam is persisted for audit and still joins the duplicate
			// window, so a repost of known spam stays suppressed.
			detector.Observe(*article)
			survivors = append(survivors, survivor{article: article, report: batch.report})
		}
	}

	// Preview resolution: articles proceed independently and concurrently;
	// the per-article fetch cap lives inside the resolver.
	g, previewCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for _, s := range survivors {
		g.Go(func() error {
			s.article.PreviewRefs = m.resolver.ResolveArticle(previewCtx, s.article.URLs)
			return nil
		})
	}
	g.Wait()

	now := time.Now()
	for _, s := range survivors {
		article := *s.article
		if err := m.store.Articles().Upsert(article.ID, article); err != nil {
			debuglog.Errorf("committing article %s: %v", article.ID, err)
			report.FailedCommits = append(report.FailedCommits, article.ID)
			continue
		}

		record := store.DuplicateRecord{
			ContentHash: article.ContentHash,
			Title:       article.Title,
			SourceID:    article.SourceID,
			ArticleID:   article.ID,
			SeenAt:      now,
		}
		if err := m.store.DupIndex().Upsert(article.ContentHash, record); err != nil {
			debuglog.Warnf("updating duplicate index for %s: %v", article.ID, err)
		}

		s.report.New++
		report.NewArticles++
	}
}

func (m *Manager) evictExpiredDupRecords() {
	expired := dedup.ExpiredRecords(m.store.DupIndex().Snapshot(), m.cfg.Dedup, time.Now())
	if len(expired) == 0 {
		return
	}
	if err := m.store.DupIndex().DeleteBatch(expired); err != nil {
		debuglog.Warnf("evicting %d duplicate records: %v", len(expired), err)
	}
}
