package feeds

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedview/models"
)

func TestAggregatorRefresh(t *testing.T) {
	srv := newSourceServer(t)
	srv.static("/games.xml", http.StatusOK, "application/rss+xml", gamesRSS)
	srv.static("/personal_feed/meu_feed.xml", http.StatusOK, "application/rss+xml", personalRSS)
	srv.static("/gone.xml", http.StatusNotFound, "text/plain", "gone")

	agg := NewAggregator(AggregatorConfig{
		Sources: []models.Source{
			{Url: srv.URL + "/games.xml"},
			{Url: srv.URL + "/gone.xml"},
			{Url: srv.URL + "/personal_feed/meu_feed.xml", Personal: true},
		},
		ExcludeCategories: []string{"affiliation"},
		Fetch:             testFetchConfig(),
	})

	items, evt := agg.Refresh(context.Background())

	titles := make([]string, len(items))
	for i, item := range items {
		titles[i] = item.Title
	}
	assert.Equal(t, []string{
		"Newest with inline image",
		"My own post",
		"Older with enclosure",
		"Undated",
	}, titles)

	assert.Equal(t, 4, evt.Items)
	assert.Equal(t, 3, evt.Sources)
	assert.Equal(t, 1, evt.Failed)
	assert.Equal(t, 1, srv.count("/gone.xml"), "client errors are not retried")

	newest := items[0]
	assert.Equal(t, "GameVicio", newest.ChannelTitle)
	assert.Equal(t, "https://cdn.ex.test/img/newest.png", newest.ImageUrl)
	assert.Equal(t, models.Categories{"Games", "PC"}, newest.Categories)
	assert.Equal(t, "Tue, 11 Jun 2024 14:35:49 +0000", newest.PubDate)
	assert.False(t, newest.IsPersonalFeed)
	assert.NotEmpty(t, newest.Id)

	assert.True(t, items[1].IsPersonalFeed)
	assert.Equal(t, "Meu Feed", items[1].ChannelTitle)
	assert.False(t, items[1].HasImage())

	assert.Equal(t, "https://cdn.ex.test/img/older.jpg", items[2].ImageUrl)

	assert.Equal(t, "sometime last week", items[3].PubDate)
	assert.True(t, items[3].PublishedAt.Equal(time.Unix(0, 0)))
}

func TestAggregatorRetriesServerErrors(t *testing.T) {
	srv := newSourceServer(t)
	srv.handle("/flaky.xml", func(attempt int) (int, string, string) {
		if attempt < 3 {
			return http.StatusServiceUnavailable, "text/plain", "busy"
		}
		return http.StatusOK, "application/rss+xml", personalRSS
	})

	agg := NewAggregator(AggregatorConfig{
		Sources: []models.Source{{Url: srv.URL + "/flaky.xml"}},
		Fetch:   testFetchConfig(),
	})

	items, evt := agg.Refresh(context.Background())
	assert.Len(t, items, 1)
	assert.Zero(t, evt.Failed)
	assert.Equal(t, 3, srv.count("/flaky.xml"))
}

func TestAggregatorGivesUpAfterRetries(t *testing.T) {
	srv := newSourceServer(t)
	srv.static("/down.xml", http.StatusBadGateway, "text/plain", "down")

	agg := NewAggregator(AggregatorConfig{
		Sources: []models.Source{{Url: srv.URL + "/down.xml"}},
		Fetch:   testFetchConfig(),
	})

	items, evt := agg.Refresh(context.Background())
	assert.Empty(t, items)
	assert.Equal(t, 1, evt.Failed)
	assert.Equal(t, 3, srv.count("/down.xml"))
}

func TestAggregatorUnparseableSource(t *testing.T) {
	srv := newSourceServer(t)
	srv.static("/html", http.StatusOK, "text/html", "<html><body>not a feed</body></html>")

	agg := NewAggregator(AggregatorConfig{
		Sources: []models.Source{{Url: srv.URL + "/html"}},
		Fetch:   testFetchConfig(),
	})

	_, evt := agg.Refresh(context.Background())
	assert.Equal(t, 1, evt.Failed)
	assert.Equal(t, 1, srv.count("/html"))
}

func TestAggregatorDeduplicatesAcrossSources(t *testing.T) {
	srv := newSourceServer(t)
	srv.static("/a.xml", http.StatusOK, "application/rss+xml", personalRSS)
	srv.static("/b.xml", http.StatusOK, "application/rss+xml", personalRSS)

	agg := NewAggregator(AggregatorConfig{
		Sources: []models.Source{{Url: srv.URL + "/a.xml"}, {Url: srv.URL + "/b.xml"}},
		Fetch:   testFetchConfig(),
	})

	items, _ := agg.Refresh(context.Background())
	assert.Len(t, items, 1)
}

func TestConvertItem(t *testing.T) {
	published := time.Date(2024, 6, 11, 14, 35, 49, 0, time.UTC)
	tests := []struct {
		name     string
		item     *gofeed.Item
		excluded []string
		wantOK   bool
		wantImg  string
	}{
		{
			name:     "excluded category ignores case",
			item:     &gofeed.Item{Title: "ad", Link: "https://ex.test/ad", Categories: []string{"News", " AFFILIATION "}},
			excluded: []string{"affiliation"},
		},
		{
			name: "no link and no title",
			item: &gofeed.Item{},
		},
		{
			name:    "enclosure wins over description",
			item:    &gofeed.Item{Title: "t", Link: "https://ex.test/t", Enclosures: []*gofeed.Enclosure{{URL: "https://ex.test/e.jpg", Type: "image/jpeg"}}, Description: `<img src="https://ex.test/d.png">`},
			wantOK:  true,
			wantImg: "https://ex.test/e.jpg",
		},
		{
			name:    "audio enclosure is not a thumbnail",
			item:    &gofeed.Item{Title: "t", Link: "https://ex.test/t", Enclosures: []*gofeed.Enclosure{{URL: "https://ex.test/e.mp3", Type: "audio/mpeg"}}, Description: `<img src="https://ex.test/d.png">`},
			wantOK:  true,
			wantImg: "https://ex.test/d.png",
		},
		{
			name:    "item image",
			item:    &gofeed.Item{Title: "t", Link: "https://ex.test/t", Image: &gofeed.Image{URL: "https://ex.test/i.png"}},
			wantOK:  true,
			wantImg: "https://ex.test/i.png",
		},
		{
			name:    "image from content",
			item:    &gofeed.Item{Title: "t", Link: "https://ex.test/t", Content: `<figure><img src='https://ex.test/c.png'></figure>`},
			wantOK:  true,
			wantImg: "https://ex.test/c.png",
		},
		{
			name:   "no image",
			item:   &gofeed.Item{Title: "t", Link: "https://ex.test/t", PublishedParsed: &published},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, ok := convertItem(tt.item, "Channel", models.Source{}, tt.excluded)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantImg, item.ImageUrl)
				assert.Equal(t, "Channel", item.ChannelTitle)
			}
		})
	}
}

func TestFirstImageSource(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     string
	}{
		{name: "empty", fragment: "", want: ""},
		{name: "text only", fragment: "<p>hello</p>", want: ""},
		{name: "first of many", fragment: `<img src="a.png"><img src="b.png">`, want: "a.png"},
		{name: "img without src skipped", fragment: `<img alt="x"><img src="b.png">`, want: "b.png"},
		{name: "self closing", fragment: `<p><img src="https://ex.test/x.gif" /></p>`, want: "https://ex.test/x.gif"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstImageSource(tt.fragment))
		})
	}
}

func TestItemIDStable(t *testing.T) {
	a := ItemID("https://ex.test/post", "", "Title")
	b := ItemID(" https://ex.test/post ", "guid", "Other")
	c := ItemID("https://ex.test/other", "", "Title")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, ItemID("", "g1", "t"), ItemID("", "g2", "t"))
}

func TestPublishedAtFallbacks(t *testing.T) {
	updated := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, updated, publishedAt(&gofeed.Item{UpdatedParsed: &updated}))
	assert.Equal(t,
		time.Date(2024, 6, 11, 14, 35, 49, 0, time.UTC),
		publishedAt(&gofeed.Item{Published: "Tue, 11 Jun 2024 14:35:49 +0000"}))
	assert.Equal(t, time.Unix(0, 0).UTC(), publishedAt(&gofeed.Item{Published: "garbage"}))
}

func TestSortNewestFirstIsStable(t *testing.T) {
	epoch := time.Unix(0, 0).UTC()
	items := []models.FeedItem{
		{Title: "undated-1", PublishedAt: epoch},
		{Title: "new", PublishedAt: epoch.Add(48 * time.Hour)},
		{Title: "undated-2", PublishedAt: epoch},
	}
	SortNewestFirst(items)
	assert.Equal(t, "new", items[0].Title)
	assert.Equal(t, "undated-1", items[1].Title)
	assert.Equal(t, "undated-2", items[2].Title)
}

func TestSubscribeSendsSnapshots(t *testing.T) {
	srv := newSourceServer(t)
	srv.static("/games.xml", http.StatusOK, "application/rss+xml", gamesRSS)

	agg := NewAggregator(AggregatorConfig{
		Sources:           []models.Source{{Url: srv.URL + "/games.xml"}},
		ExcludeCategories: []string{"affiliation"},
		Fetch:             testFetchConfig(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan interface{})
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		Subscribe(ctx, agg, nil, events, ticker)
		close(done)
	}()

	select {
	case evt := <-events:
		snapshot, ok := evt.(models.SnapshotEvent)
		require.True(t, ok)
		assert.Len(t, snapshot.Items, 3)
		assert.Equal(t, 3, snapshot.Refresh.Items)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot received")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscribe did not stop")
	}
}
