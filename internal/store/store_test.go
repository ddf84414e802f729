package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return st
}

func TestStore_SaveAndGetArticle(t *testing.T) {
	st := setupTestStore(t)

	article := Article{
		ID:          "feed_abc123",
		Title:       "Test Article",
		Body:        "Some body text",
		SourceID:    "src-1",
		SourceKind:  KindFeed,
		ContentHash: "deadbeef",
		ScrapedAt:   time.Now(),
		Relevance:   RelevanceUnclassified,
	}

	if err := st.Articles().Upsert(article.ID, article); err != nil {
		t.Fatalf("failed to save article: %v", err)
	}

	retrieved, ok := st.Articles().Get("feed_abc123")
	if !ok {
		t.Fatal("expected article to exist")
	}
	if retrieved.Title != article.Title {
		t.Errorf("expected Title %s, got %s", article.Title, retrieved.Title)
	}
	if retrieved.ContentHash != article.ContentHash {
		t.Errorf("expected ContentHash %s, got %s", article.ContentHash, retrieved.ContentHash)
	}
}

func TestStore_GetArticle_NotFound(t *testing.T) {
	st := setupTestStore(t)

	if _, ok := st.Articles().Get("non-existent"); ok {
		t.Error("expected missing article, got a record")
	}
}

func TestStore_UpsertEmptyID(t *testing.T) {
	st := setupTestStore(t)

	if err := st.Articles().Upsert("  ", Article{}); err == nil {
		t.Error("expected error for empty id, got nil")
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	source := Source{ID: "src-1", Name: "Example Feed", Kind: KindFeed, Enabled: true}
	if err := st.Sources().Upsert(source.ID, source); err != nil {
		t.Fatalf("failed to save source: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}

	retrieved, ok := reopened.Sources().Get("src-1")
	if !ok {
		t.Fatal("expected source to survive reopen")
	}
	if retrieved.Name != "Example Feed" {
		t.Errorf("expected Name %q, got %q", "Example Feed", retrieved.Name)
	}
}

func TestStore_CrashMidWriteLeavesNoTornFile(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := st.Articles().Upsert("a1", Article{ID: "a1", Title: "kept"}); err != nil {
		t.Fatalf("failed to save article: %v", err)
	}

	// A crash between writing the temp file and renaming it leaves a stray
	// .tmp behind; the live file must stay intact.
	tmp := filepath.Join(dir, "articles.json.tmp")
	if err := os.WriteFile(tmp, []byte(`{"records": {truncated`), 0o644); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	if _, ok := reopened.Articles().Get("a1"); !ok {
		t.Error("expected article to survive a simulated crash")
	}
}

func TestStore_CorruptFileQuarantinedAndRecoveredFromBackup(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := st.Articles().Upsert("a1", Article{ID: "a1", Title: "recoverable"}); err != nil {
		t.Fatalf("failed to save article: %v", err)
	}

	// The first write of the day snapshots the previous file, so write twice
	// to guarantee a backup that contains a1.
	if err := st.Articles().Upsert("a2", Article{ID: "a2", Title: "second"}); err != nil {
		t.Fatalf("failed to save article: %v", err)
	}

	livePath := filepath.Join(dir, "articles.json")
	if err := os.WriteFile(livePath, []byte("{definitely not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to reopen store with corrupt file: %v", err)
	}

	if _, ok := reopened.Articles().Get("a1"); !ok {
		t.Error("expected article recovered from backup")
	}

	quarantined, _ := filepath.Glob(livePath + ".corrupt-*")
	if len(quarantined) != 1 {
		t.Errorf("expected exactly one quarantined file, got %d", len(quarantined))
	}
}

func TestStore_CorruptFileWithoutBackupStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "backups"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sources.json"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if n := st.Sources().Len(); n != 0 {
		t.Errorf("expected empty collection, got %d records", n)
	}
}

func TestStore_DailyBackupCreatedOnce(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("a%d", i)
		if err := st.Articles().Upsert(id, Article{ID: id}); err != nil {
			t.Fatalf("failed to save article: %v", err)
		}
	}

	backups, _ := filepath.Glob(filepath.Join(dir, "backups", "articles_*.json"))
	if len(backups) != 1 {
		t.Errorf("expected one daily backup, got %d", len(backups))
	}
}

func TestStore_ListWithFilter(t *testing.T) {
	st := setupTestStore(t)

	recs := map[string]Article{
		"a1": {ID: "a1", Relevance: RelevanceSpam},
		"a2": {ID: "a2", Relevance: RelevanceNeutral},
		"a3": {ID: "a3", Relevance: RelevanceSpam},
	}
	if err := st.Articles().UpsertBatch(recs); err != nil {
		t.Fatalf("failed to save articles: %v", err)
	}

	spam := st.Articles().List(func(a Article) bool { return a.Relevance == RelevanceSpam })
	if len(spam) != 2 {
		t.Errorf("expected 2 spam articles, got %d", len(spam))
	}

	all := st.Articles().List(nil)
	if len(all) != 3 {
		t.Errorf("expected 3 articles, got %d", len(all))
	}
}

func TestStore_DeleteBatch(t *testing.T) {
	st := setupTestStore(t)

	if err := st.DupIndex().UpsertBatch(map[string]DuplicateRecord{
		"h1": {ContentHash: "h1"},
		"h2": {ContentHash: "h2"},
		"h3": {ContentHash: "h3"},
	}); err != nil {
		t.Fatalf("failed to save records: %v", err)
	}

	if err := st.DupIndex().DeleteBatch([]string{"h1", "h3", "missing"}); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if n := st.DupIndex().Len(); n != 1 {
		t.Errorf("expected 1 record left, got %d", n)
	}
}

func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	st := setupTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("a%d", n)
			if err := st.Articles().Upsert(id, Article{ID: id}); err != nil {
				t.Errorf("concurrent upsert failed: %v", err)
			}
		}(i)

		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Articles().List(nil)
			st.Articles().Len()
		}()
	}
	wg.Wait()

	if n := st.Articles().Len(); n != 8 {
		t.Errorf("expected 8 articles after concurrent writes, got %d", n)
	}
}

func TestStore_EnvelopeShape(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := st.Previews().Upsert("https://example.com", Preview{URL: "https://example.com", Tier: TierMeta}); err != nil {
		t.Fatalf("failed to save preview: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "previews.json"))
	if err != nil {
		t.Fatal(err)
	}

	var env struct {
		Records  map[string]json.RawMessage `json:"records"`
		Metadata struct {
			Version    string `json:"version"`
			TotalCount int    `json:"total_count"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("on-disk file is not valid JSON: %v", err)
	}
	if env.Metadata.Version != "1.0" {
		t.Errorf("expected version 1.0, got %q", env.Metadata.Version)
	}
	if env.Metadata.TotalCount != 1 {
		t.Errorf("expected total_count 1, got %d", env.Metadata.TotalCount)
	}
}

func TestPreview_Expired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		preview Preview
		expired bool
	}{
		{"fresh", Preview{FetchedAt: now, TTLSeconds: 3600}, false},
		{"past ttl", Preview{FetchedAt: now.Add(-2 * time.Hour), TTLSeconds: 3600}, true},
		{"zero ttl", Preview{FetchedAt: now}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.preview.Expired(now); got != tt.expired {
				t.Errorf("Expired() = %v, want %v", got, tt.expired)
			}
		})
	}
}

func TestSourceKind_Valid(t *testing.T) {
	for _, kind := range []SourceKind{KindChannel, KindFeed, KindPage, KindProfile} {
		if !kind.Valid() {
			t.Errorf("expected %s to be valid", kind)
		}
	}
	if SourceKind("carrier-pigeon").Valid() {
		t.Error("expected unknown kind to be invalid")
	}
}
