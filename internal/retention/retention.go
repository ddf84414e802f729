// Package retention prunes aged data: old articles, their orphaned
// previews, and stale daily backup files.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/store"
)

// Config tunes the pruning horizons.
type Config struct {
	// ArticleDays is how long articles are kept. Zero disables article
	// pruning entirely.
	ArticleDays int
	// BackupDays is how long daily backup files are kept.
	BackupDays int
}

// Report summarizes one cleanup run.
type Report struct {
	ArticlesPruned int `json:"articles_pruned"`
	PreviewsPruned int `json:"previews_pruned"`
	BackupsPruned  int `json:"backups_pruned"`
}

// Run prunes the store in place. Favorites and user-rated articles are
// never pruned regardless of age.
func Run(cfg Config, st *store.Store, now time.Time) (*Report, error) {
	report := &Report{}

	if cfg.ArticleDays > 0 {
		cutoff := now.AddDate(0, 0, -cfg.ArticleDays)

		var prune []string
		for id, article := range st.Articles().Snapshot() {
			if article.RatedByUser || article.Relevance == store.RelevanceFavorite {
				continue
			}
			if article.ScrapedAt.Before(cutoff) {
				prune = append(prune, id)
			}
		}
		if err := st.Articles().DeleteBatch(prune); err != nil {
			return report, fmt.Errorf("pruning articles: %w", err)
		}
		report.ArticlesPruned = len(prune)
	}

	pruned, err := pruneOrphanPreviews(st)
	if err != nil {
		return report, err
	}
	report.PreviewsPruned = pruned

	if cfg.BackupDays > 0 {
		n, err := pruneBackups(st.Dir(), cfg.BackupDays, now)
		if err != nil {
			return report, err
		}
		report.BackupsPruned = n
	}

	debuglog.Infof("cleanup: %d articles, %d previews, %d backups pruned",
		report.ArticlesPruned, report.PreviewsPruned, report.BackupsPruned)
	return report, nil
}

// pruneOrphanPreviews drops cached previews no surviving article refers to.
// Expired but still-referenced previews stay; the resolver refreshes those
// on demand.
func pruneOrphanPreviews(st *store.Store) (int, error) {
	referenced := make(map[string]struct{})
	for _, article := range st.Articles().List(nil) {
		for _, ref := range article.PreviewRefs {
			referenced[ref] = struct{}{}
		}
	}

	var orphans []string
	for url := range st.Previews().Snapshot() {
		if _, ok := referenced[url]; !ok {
			orphans = append(orphans, url)
		}
	}
	if err := st.Previews().DeleteBatch(orphans); err != nil {
		return 0, fmt.Errorf("pruning previews: %w", err)
	}
	return len(orphans), nil
}

func pruneBackups(dataDir string, keepDays int, now time.Time) (int, error) {
	backups, err := filepath.Glob(filepath.Join(dataDir, "backups", "*.json"))
	if err != nil {
		return 0, fmt.Errorf("listing backups: %w", err)
	}

	cutoff := now.AddDate(0, 0, -keepDays)
	pruned := 0
	for _, backup := range backups {
		info, err := os.Stat(backup)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(backup); err != nil {
				debuglog.Warnf("removing backup %s: %v", backup, err)
				continue
			}
			pruned++
		}
	}
	return pruned, nil
}
