package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedsync/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example Feed</title>
  <link>https://example.com</link>
  <item>
    <title>With GUID</title>
    <link>https://example.com/a</link>
    <guid>urn:a</guid>
    <description>alpha</description>
    <pubDate>Sat, 02 Mar 2024 10:00:00 GMT</pubDate>
    <enclosure url="https://example.com/a.jpg" type="image/jpeg" length="1"/>
  </item>
  <item>
    <title>Link Only</title>
    <link>https://example.com/b</link>
    <description>beta</description>
    <pubDate>Sun, 03 Mar 2024 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Too Old</title>
    <link>https://example.com/c</link>
    <guid>urn:c</guid>
    <pubDate>Thu, 01 Feb 2024 10:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

const testUndatedRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Undated Feed</title>
  <link>https://example.com</link>
  <lastBuildDate>Tue, 05 Mar 2024 08:00:00 GMT</lastBuildDate>
  <item>
    <title>No Date</title>
    <link>https://example.com/u</link>
    <guid>urn:undated</guid>
  </item>
  <item>
    <title>Dated</title>
    <link>https://example.com/d</link>
    <guid>urn:dated</guid>
    <pubDate>Mon, 04 Mar 2024 10:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

const testTelegramPreview = `<html><head>
<meta property="og:title" content="Gopher News">
</head><body>
<div class="tgme_widget_message">
  <a class="tgme_widget_message_photo_wrap" style="width:100%;background-image:url('https://cdn.example.com/p.jpg')"></a>
  <div class="tgme_widget_message_text">Release notes<br>Go 1.99 is out</div>
  <a class="tgme_widget_message_date" href="https://t.me/gophernews/41?single"><time datetime="2024-03-02T10:00:00+00:00"></time></a>
</div>
<div class="tgme_widget_message">
  <div class="tgme_widget_message_text">Second post</div>
  <a class="tgme_widget_message_date" href="https://t.me/gophernews/42"><time datetime="2024-03-03T10:00:00+00:00"></time></a>
</div>
</body></html>`

func newLocalTestClient(t *testing.T) (*LocalClient, string) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testRSS)
	})
	mux.HandleFunc("/undated.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testUndatedRSS)
	})
	mux.HandleFunc("/not-a-feed", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body>hello</body></html>")
	})
	mux.HandleFunc("/s/gophernews", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, testTelegramPreview)
	})

	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)

	previousBaseURL := telegramBaseURL
	telegramBaseURL = srv.URL
	t.Cleanup(func() { telegramBaseURL = previousBaseURL })

	client := NewLocalClient(srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	client.now = func() time.Time { return time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC) }

	return client, srv.URL
}

func TestLocalFetchArticles(t *testing.T) {
	client, serverURL := newLocalTestClient(t)

	since := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	articles, err := client.FetchArticles(context.Background(), serverURL+"/feed.xml", since, 10)
	require.NoError(t, err)
	require.Len(t, articles, 2)

	assert.Equal(t, "urn:a", articles[0].RemoteID)
	assert.Equal(t, "alpha", articles[0].Description)
	assert.Equal(t, "https://example.com/a.jpg", articles[0].ImageURL)
	assert.Equal(t, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), articles[0].PublishedAt)
	assert.False(t, articles[0].Undated)

	assert.Equal(t, "https://example.com/b", articles[1].RemoteID, "link is the ID when GUID is missing")
	assert.Equal(t, "Link Only", articles[1].Title)

	limited, err := client.FetchArticles(context.Background(), serverURL+"/feed.xml", time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "urn:c", limited[0].RemoteID, "a truncated page keeps the oldest items")
	assert.Equal(t, "urn:a", limited[1].RemoteID)
}

func TestLocalFetchArticlesUndatedItem(t *testing.T) {
	client, serverURL := newLocalTestClient(t)

	articles, err := client.FetchArticles(context.Background(), serverURL+"/undated.xml", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, articles, 2)

	assert.Equal(t, "urn:dated", articles[0].RemoteID)
	assert.False(t, articles[0].Undated)

	assert.Equal(t, "urn:undated", articles[1].RemoteID)
	assert.True(t, articles[1].Undated)
	assert.Equal(t, time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC), articles[1].PublishedAt,
		"undated item takes the feed's build date, not the fetch time")
}

func TestLocalFetchArticlesNetworkError(t *testing.T) {
	client, serverURL := newLocalTestClient(t)

	_, err := client.FetchArticles(context.Background(), serverURL+"/missing.xml", time.Time{}, 10)
	require.ErrorIs(t, err, domain.ErrNetwork)
}

func TestLocalPushIsNoop(t *testing.T) {
	client, _ := newLocalTestClient(t)

	require.NoError(t, client.PushReadState(context.Background(), []string{"x"}, true))
	require.NoError(t, client.PushStarState(context.Background(), []string{"x"}, true))

	feeds, err := client.FetchFeeds(context.Background())
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestLocalTelegramChannel(t *testing.T) {
	client, _ := newLocalTestClient(t)

	articles, err := client.FetchArticles(context.Background(), "https://t.me/s/gophernews", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, articles, 2)

	assert.Equal(t, "https://t.me/gophernews/41", articles[0].RemoteID)
	assert.Equal(t, "Release notes", articles[0].Title)
	assert.Equal(t, "Release notes\nGo 1.99 is out", articles[0].Description)
	assert.Equal(t, "https://cdn.example.com/p.jpg", articles[0].ImageURL)

	assert.Equal(t, domain.RemoteArticle{
		RemoteID:    "https://t.me/gophernews/42",
		Title:       "Second post",
		URL:         "https://t.me/gophernews/42",
		Description: "Second post",
		PublishedAt: time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC),
	}, articles[1])
}

func TestTelegramPostWithoutDate(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div class="tgme_widget_message">
  <div class="tgme_widget_message_text">No time tag</div>
  <a class="tgme_widget_message_date" href="https://t.me/gophernews/43"></a>
</div>`))
	require.NoError(t, err)

	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	article, err := telegramPostToArticle(doc.Find("a.tgme_widget_message_date").First(), now)
	require.NoError(t, err)

	assert.True(t, article.Undated)
	assert.Equal(t, now, article.PublishedAt)
}

func TestDiscoverFeeds(t *testing.T) {
	client, serverURL := newLocalTestClient(t)

	text := strings.Join([]string{
		"subscribe to " + serverURL + "/feed.xml",
		"and again " + serverURL + "/feed.xml",
		"skip " + serverURL + "/not-a-feed",
		"plus @gophernews",
	}, "\n")

	feeds, err := client.DiscoverFeeds(context.Background(), text)
	require.Error(t, err, "invalid candidate is reported")

	assert.Equal(t, []domain.FeedDescriptor{
		{RemoteID: serverURL + "/feed.xml", Name: "Example Feed", URL: serverURL + "/feed.xml"},
		{RemoteID: "https://t.me/s/gophernews", Name: "Gopher News", URL: "https://t.me/s/gophernews"},
	}, feeds)
}

func TestIsTelegramChannelURL(t *testing.T) {
	tests := []struct {
		raw      string
		wantOK   bool
		wantSlug string
	}{
		{raw: "https://t.me/s/gophernews", wantOK: true, wantSlug: "gophernews"},
		{raw: "https://t.me/gophernews", wantOK: true, wantSlug: "gophernews"},
		{raw: "https://t.me/s/", wantOK: false},
		{raw: "https://t.me/abc", wantOK: false},
		{raw: "https://example.com/s/gophernews", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ok, slug := isTelegramChannelURL(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantSlug, slug)
		})
	}
}

func TestTelegramPostTitle(t *testing.T) {
	assert.Equal(t, "fallback", telegramPostTitle("", "fallback"))
	assert.Equal(t, "first", telegramPostTitle("first\nsecond", "fallback"))

	long := strings.Repeat("я", telegramPostTitleMaxRunes+5)
	assert.Equal(t, strings.Repeat("я", telegramPostTitleMaxRunes)+"…", telegramPostTitle(long, "fallback"))
}
