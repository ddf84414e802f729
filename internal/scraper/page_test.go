package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfellner/newsriver/internal/store"
)

const samplePage = `<!DOCTYPE html>
<html><body>
<div class="story">
  <h2 class="headline">City Council Approves Budget</h2>
  <p class="summary">The council voted 7-2 on Tuesday.</p>
  <a class="more" href="/stories/budget">Read more</a>
</div>
<div class="story">
  <h2 class="headline">Local Team Wins Championship</h2>
  <p class="summary">A dramatic overtime finish.</p>
  <a class="more" href="/stories/championship">Read more</a>
</div>
<div class="story">
  <h2 class="headline"></h2>
  <p class="summary">Item without a headline is dropped.</p>
</div>
</body></html>`

func pageSource(url string) *store.Source {
	return &store.Source{
		ID:      "src-page",
		Name:    "test page",
		Kind:    store.KindPage,
		Enabled: true,
		Config: store.SourceConfig{
			URL: url,
			Selectors: store.PageSelectors{
				Item:  "div.story",
				Title: "h2.headline",
				Body:  "p.summary",
				Link:  "a.more",
			},
		},
	}
}

func TestPageScraper_Scrape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, samplePage)
	}))
	defer server.Close()

	scr, err := New(pageSource(server.URL), testOptions())
	require.NoError(t, err)
	require.NoError(t, scr.ValidateConfig())

	articles, err := scr.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, articles, 2)

	first := articles[0]
	assert.Equal(t, "City Council Approves Budget", first.Title)
	assert.Equal(t, "The council voted 7-2 on Tuesday.", first.Body)
	assert.Contains(t, first.URLs, server.URL+"/stories/budget")
	assert.Equal(t, store.KindPage, first.SourceKind)
	assert.False(t, first.ScrapedAt.IsZero())
}

func TestPageScraper_MaxItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, samplePage)
	}))
	defer server.Close()

	src := pageSource(server.URL)
	src.MaxItemsPerCycle = 1

	scr, err := New(src, testOptions())
	require.NoError(t, err)

	articles, err := scr.Scrape(context.Background())
	require.NoError(t, err)
	assert.Len(t, articles, 1)
}

func TestPageScraper_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	scr, err := New(pageSource(server.URL), testOptions())
	require.NoError(t, err)

	_, err = scr.Scrape(context.Background())
	assert.Error(t, err)
}

func TestPageScraper_ValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*store.Source)
		wantErr bool
	}{
		{"valid", func(s *store.Source) {}, false},
		{"missing url", func(s *store.Source) { s.Config.URL = "" }, true},
		{"missing item selector", func(s *store.Source) { s.Config.Selectors.Item = "" }, true},
		{"missing title selector", func(s *store.Source) { s.Config.Selectors.Title = "" }, true},
		{"body and link optional", func(s *store.Source) {
			s.Config.Selectors.Body = ""
			s.Config.Selectors.Link = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := pageSource("https://example.com/news")
			tt.mutate(src)

			scr, err := New(src, testOptions())
			require.NoError(t, err)

			err = scr.ValidateConfig()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
