package preview

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfellner/newsriver/internal/store"
	"github.com/jfellner/newsriver/internal/validation"
)

func testResolver(t *testing.T, cfg Config) *Resolver {
	t.Helper()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)

	return NewResolver(cfg, st.Previews(), validation.NewPermissiveURLValidator())
}

func TestProviderFor(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"youtube", "https://www.youtube.com/watch?v=abc", "https://www.youtube.com/oembed"},
		{"youtube short", "https://youtu.be/abc", "https://www.youtube.com/oembed"},
		{"twitter", "https://twitter.com/user/status/1", "https://publish.twitter.com/oembed"},
		{"x", "https://x.com/user/status/1", "https://publish.twitter.com/oembed"},
		{"subdomain", "https://music.youtube.com/watch?v=abc", "https://www.youtube.com/oembed"},
		{"unknown", "https://example.com/article", ""},
		{"suffix is not subdomain", "https://notyoutube.com/x", ""},
		{"garbage", "://broken", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := providerFor(defaultProviders, tt.url); got != tt.want {
				t.Errorf("providerFor(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestResolver_EmbedTierSkipsPageFetch(t *testing.T) {
	var pageFetches atomic.Int32

	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pageFetches.Add(1)
		fmt.Fprint(w, "<html></html>")
	}))
	defer page.Close()

	oembed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, page.URL+"/video", r.URL.Query().Get("url"))
		fmt.Fprint(w, `{"title": "A Video", "provider_name": "VideoSite", "thumbnail_url": "https://cdn.example/thumb.jpg"}`)
	}))
	defer oembed.Close()

	r := testResolver(t, Config{
		Providers: map[string]string{"127.0.0.1": oembed.URL},
	})

	p := r.Resolve(context.Background(), page.URL+"/video")
	assert.Equal(t, store.TierEmbed, p.Tier)
	assert.Equal(t, "A Video", p.Title)
	assert.Equal(t, "VideoSite", p.SiteName)
	assert.Equal(t, int32(0), pageFetches.Load(), "embed tier must not fetch the page")
}

func TestResolver_MetaTier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head>
			<title>Fallback Title</title>
			<meta property="og:title" content="OG Title">
			<meta property="og:description" content="OG description text">
			<meta property="og:image" content="/img/cover.png">
			<meta property="og:site_name" content="Example News">
		</head><body></body></html>`)
	}))
	defer server.Close()

	r := testResolver(t, Config{})

	p := r.Resolve(context.Background(), server.URL+"/story")
	assert.Equal(t, store.TierMeta, p.Tier)
	assert.Equal(t, "OG Title", p.Title)
	assert.Equal(t, "OG description text", p.Description)
	assert.Equal(t, server.URL+"/img/cover.png", p.Image, "relative image resolved against the page URL")
	assert.Equal(t, "Example News", p.SiteName)
}

func TestResolver_MetaTierTitleTagFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Plain Title</title></head><body></body></html>`)
	}))
	defer server.Close()

	r := testResolver(t, Config{})

	p := r.Resolve(context.Background(), server.URL)
	assert.Equal(t, store.TierMeta, p.Tier)
	assert.Equal(t, "Plain Title", p.Title)
}

func TestResolver_FullFetchTier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No usable meta tags and no title, forcing the extraction tier.
		fmt.Fprint(w, `<html><head></head><body>
			<article>
				<h1>Extracted Headline</h1>
				<p>This is the first paragraph of a long article with enough prose for the
				extractor to consider it real content. It continues with several more
				sentences about the subject at hand, none of which matter individually.</p>
				<p>A second paragraph adds further weight so the readability heuristics
				keep the article body rather than discarding it as boilerplate.</p>
			</article>
		</body></html>`)
	}))
	defer server.Close()

	r := testResolver(t, Config{})

	p := r.Resolve(context.Background(), server.URL+"/long-story")
	assert.Equal(t, store.TierFullFetch, p.Tier)
	assert.NotEmpty(t, p.Title)
	assert.NotEmpty(t, p.Description)
}

func TestFirstTextLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single line", "Extracted Headline", "Extracted Headline"},
		{"leading blanks skipped", "\n  \nThe real first line\nmore text", "The real first line"},
		{"empty", "   \n\n", ""},
		{"long line truncated", strings.Repeat("x", 100), strings.Repeat("x", 80) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstTextLine(tt.in); got != tt.want {
				t.Errorf("firstTextLine(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolver_AllTiersFailYieldsEmptyPreview(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := testResolver(t, Config{})

	p := r.Resolve(context.Background(), server.URL)
	assert.Equal(t, store.TierNone, p.Tier)
	assert.False(t, p.FetchedAt.IsZero())
}

func TestResolver_RejectedURLNotFetched(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	r := NewResolver(Config{}, st.Previews(), validation.NewURLValidator())

	p := r.Resolve(context.Background(), "http://127.0.0.1:9/anything")
	assert.Equal(t, store.TierNone, p.Tier)
}

func TestResolver_CacheSingleFetchWithinTTL(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, `<html><head><meta property="og:title" content="Cached"></head></html>`)
	}))
	defer server.Close()

	r := testResolver(t, Config{TTL: time.Hour})

	url := server.URL + "/cached"
	for i := 0; i < 5; i++ {
		p := r.Resolve(context.Background(), url)
		assert.Equal(t, "Cached", p.Title)
	}
	assert.Equal(t, int32(1), fetches.Load(), "repeated resolutions within the TTL must hit the cache")
}

func TestResolver_SubSecondTTLStillCaches(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, `<html><head><meta property="og:title" content="Short TTL"></head></html>`)
	}))
	defer server.Close()

	r := testResolver(t, Config{TTL: 500 * time.Millisecond})

	url := server.URL + "/short-ttl"
	for i := 0; i < 3; i++ {
		p := r.Resolve(context.Background(), url)
		assert.Equal(t, "Short TTL", p.Title)
		assert.Positive(t, p.TTLSeconds, "sub-second TTL must round up, not truncate to zero")
	}
	assert.Equal(t, int32(1), fetches.Load(), "a small positive TTL must not disable caching")
}

func TestResolver_CachePersistsAcrossResolvers(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, `<html><head><meta property="og:title" content="Durable"></head></html>`)
	}))
	defer server.Close()

	dir := t.TempDir()
	st, err := store.Open(dir)
	require.NoError(t, err)

	first := NewResolver(Config{TTL: time.Hour}, st.Previews(), validation.NewPermissiveURLValidator())
	first.Resolve(context.Background(), server.URL)

	reopened, err := store.Open(dir)
	require.NoError(t, err)
	second := NewResolver(Config{TTL: time.Hour}, reopened.Previews(), validation.NewPermissiveURLValidator())

	p := second.Resolve(context.Background(), server.URL)
	assert.Equal(t, "Durable", p.Title)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestResolver_ConcurrentResolutionsCoalesce(t *testing.T) {
	var fetches atomic.Int32
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		<-release
		fmt.Fprint(w, `<html><head><meta property="og:title" content="Once"></head></html>`)
	}))
	defer server.Close()

	r := testResolver(t, Config{TTL: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := r.Resolve(context.Background(), server.URL)
			assert.Equal(t, "Once", p.Title)
		}()
	}

	// Give the goroutines time to pile onto the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load(), "concurrent requesters must share one fetch")
}

func TestResolver_ExpiredEntryRefetched(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, `<html><head><meta property="og:title" content="Fresh"></head></html>`)
	}))
	defer server.Close()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)

	// Seed a stale cache entry by hand.
	require.NoError(t, st.Previews().Upsert(server.URL, store.Preview{
		URL:        server.URL,
		Tier:       store.TierMeta,
		Title:      "Stale",
		FetchedAt:  time.Now().Add(-48 * time.Hour),
		TTLSeconds: 60,
	}))

	r := NewResolver(Config{TTL: time.Hour}, st.Previews(), validation.NewPermissiveURLValidator())

	p := r.Resolve(context.Background(), server.URL)
	assert.Equal(t, "Fresh", p.Title)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestResolveArticle_CapsURLCount(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, `<html><head><meta property="og:title" content="Page"></head></html>`)
	}))
	defer server.Close()

	r := testResolver(t, Config{MaxPerBody: 3})

	urls := []string{
		server.URL + "/1",
		server.URL + "/2",
		server.URL + "/3",
		server.URL + "/4",
		server.URL + "/5",
	}

	refs := r.ResolveArticle(context.Background(), urls)
	assert.Len(t, refs, 3)
	assert.Equal(t, urls[:3], refs)
	assert.Equal(t, int32(3), fetches.Load())
}
