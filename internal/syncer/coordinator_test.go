package syncer_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/events"
	"feedsync/internal/syncer"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)

func TestSyncStoresArticlesAndAdvancesHighWaterMark(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "Go Blog", URL: "https://go.dev/feed"}}
	env.remote.setArticles("feed/1",
		remoteArticle("a", "Go 1.99", base.Add(time.Minute)),
		remoteArticle("b", "Generics deep dive", base.Add(2*time.Minute)),
	)

	result, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Feeds)
	assert.Equal(t, 2, result.NewArticles)
	assert.Zero(t, result.BlockedArticles)

	articles := env.visibleArticles(t)
	require.Len(t, articles, 2)
	assert.Equal(t, "Generics deep dive", articles[0].Title)
	assert.Equal(t, "Generics deep dive", articles[0].DescriptionShort)
	assert.Equal(t, "<p>Generics deep dive</p>", articles[0].DescriptionRaw)

	feed, err := env.db.GetFeed(ctx, env.feedIDs(t)["feed/1"])
	require.NoError(t, err)
	assert.True(t, feed.HighWaterMark.Equal(base.Add(2*time.Minute)))
	assert.False(t, feed.LastSyncedAt.IsZero())

	_, err = env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)

	since := env.remote.sinceCalls("feed/1")
	require.Len(t, since, 2)
	assert.True(t, since[0].IsZero(), "first sync has no high-water mark")
	assert.True(t, since[1].Equal(base.Add(2*time.Minute)), "second sync starts at the high-water mark")
}

func TestSyncCatchesUpAfterTruncatedFetch(t *testing.T) {
	env := newTestEnv(t, syncer.Options{FetchLimit: 2}, nil)
	ctx := context.Background()

	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "Go Blog", URL: "https://go.dev/feed"}}
	env.remote.setArticles("feed/1",
		remoteArticle("three", "Third", base.Add(3*time.Minute)),
		remoteArticle("two", "Second", base.Add(2*time.Minute)),
		remoteArticle("one", "First", base.Add(time.Minute)),
	)

	first, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, first.NewArticles)

	feed, err := env.db.GetFeed(ctx, env.feedIDs(t)["feed/1"])
	require.NoError(t, err)
	assert.True(t, feed.HighWaterMark.Equal(base.Add(2*time.Minute)), "mark stops at the last fetched item")

	second, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.NewArticles)

	titles := lo.Map(env.visibleArticles(t), func(a domain.Article, _ int) string { return a.Title })
	assert.ElementsMatch(t, []string{"First", "Second", "Third"}, titles)
}

func TestSyncUndatedArticlesKeepHighWaterMark(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	undated := remoteArticle("u", "Undated", time.Now().UTC())
	undated.Undated = true

	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "Go Blog", URL: "https://go.dev/feed"}}
	env.remote.setArticles("feed/1", remoteArticle("a", "Dated", base.Add(time.Minute)), undated)

	result, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewArticles)

	feed, err := env.db.GetFeed(ctx, env.feedIDs(t)["feed/1"])
	require.NoError(t, err)
	assert.True(t, feed.HighWaterMark.Equal(base.Add(time.Minute)), "undated article does not move the mark")
}

func TestSyncStoreFailureKeepsHighWaterMark(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "Go Blog", URL: "https://go.dev/feed"}}
	env.remote.setArticles("feed/1", remoteArticle("a", "First", base.Add(time.Minute)))

	_, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)

	env.remote.setArticles("feed/1",
		remoteArticle("a", "First", base.Add(time.Minute)),
		remoteArticle("b", "Second", base.Add(2*time.Minute)),
		remoteArticle("c", "Third", base.Add(3*time.Minute)),
	)
	allow := env.rejectArticle(t, "c")

	_, err = env.coordinator.Sync(ctx, env.accountID, nil)
	require.ErrorIs(t, err, domain.ErrStore)

	assert.Len(t, env.visibleArticles(t), 1, "failed pass leaves no partial rows")

	feed, err := env.db.GetFeed(ctx, env.feedIDs(t)["feed/1"])
	require.NoError(t, err)
	assert.True(t, feed.HighWaterMark.Equal(base.Add(time.Minute)))

	allow()

	result, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewArticles)

	since := env.remote.sinceCalls("feed/1")
	require.Len(t, since, 3)
	assert.True(t, since[2].Equal(since[1]), "next pass retries the same window")
	assert.True(t, since[2].Equal(base.Add(time.Minute)))
}

func TestSyncIsIdempotent(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	env.remote.ignoreSince = true
	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "Go Blog", URL: "https://go.dev/feed"}}
	env.remote.setArticles("feed/1",
		remoteArticle("a", "Go 1.99", base.Add(time.Minute)),
		remoteArticle("b", "Generics deep dive", base.Add(2*time.Minute)),
	)

	first, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)
	require.Equal(t, 2, first.NewArticles)

	before := env.visibleArticles(t)

	second, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)
	assert.Zero(t, second.NewArticles)

	assert.Equal(t, before, env.visibleArticles(t))
	assert.Len(t, env.feedIDs(t), 1, "reconcile does not duplicate feeds")
}

func TestSyncHidesBlacklistedArticles(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	env.remote.feeds = []domain.FeedDescriptor{
		{RemoteID: "feed/1", Name: "A", URL: "https://a.example.com/feed"},
		{RemoteID: "feed/2", Name: "B", URL: "https://b.example.com/feed"},
	}

	_, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)

	feedIDs := env.feedIDs(t)

	_, err = env.db.CreateBlacklistEntry(ctx, domain.BlacklistEntry{AccountID: env.accountID, Pattern: "spam"})
	require.NoError(t, err)

	_, err = env.db.CreateBlacklistEntry(ctx, domain.BlacklistEntry{
		AccountID: env.accountID,
		Pattern:   "sponsored",
		FeedID:    lo.ToPtr(feedIDs["feed/2"]),
	})
	require.NoError(t, err)

	env.remote.setArticles("feed/1",
		remoteArticle("1a", "SPAM alert", base.Add(time.Minute)),
		remoteArticle("1b", "Sponsored: buy now", base.Add(2*time.Minute)),
	)
	env.remote.setArticles("feed/2",
		remoteArticle("2a", "Sponsored post", base.Add(time.Minute)),
		remoteArticle("2b", "Regular news", base.Add(2*time.Minute)),
	)

	result, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, result.NewArticles)
	assert.Equal(t, 2, result.BlockedArticles)

	titles := lo.Map(env.visibleArticles(t), func(a domain.Article, _ int) string { return a.Title })
	assert.ElementsMatch(t, []string{"Sponsored: buy now", "Regular news"}, titles,
		"feed-scoped rule only applies to its feed")

	blocked, err := env.db.ListBlockedArticles(ctx, env.accountID)
	require.NoError(t, err)

	patterns := lo.Map(blocked, func(b domain.BlockedArticle, _ int) string {
		return b.Article.Title + "=" + b.Pattern
	})
	assert.ElementsMatch(t, []string{"SPAM alert=spam", "Sponsored post=sponsored"}, patterns)
}

func TestReleasedArticleIsNeverReblocked(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	_, err := env.db.CreateBlacklistEntry(ctx, domain.BlacklistEntry{AccountID: env.accountID, Pattern: "spam"})
	require.NoError(t, err)

	env.remote.ignoreSince = true
	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "A", URL: "https://a.example.com/feed"}}
	env.remote.setArticles("feed/1", remoteArticle("1a", "Spam alert", base))

	_, err = env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)
	require.Empty(t, env.visibleArticles(t))

	blocked, err := env.db.ListBlockedArticles(ctx, env.accountID)
	require.NoError(t, err)
	require.Len(t, blocked, 1)

	articleID := blocked[0].Article.ID

	require.NoError(t, env.coordinator.ReleaseArticle(ctx, env.accountID, articleID))
	require.Len(t, env.visibleArticles(t), 1)

	reblocked, err := env.coordinator.ReapplyBlacklist(ctx, env.accountID)
	require.NoError(t, err)
	assert.Zero(t, reblocked)

	_, err = env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)
	assert.Len(t, env.visibleArticles(t), 1, "sync keeps the released article visible")

	require.NoError(t, env.coordinator.ClearException(ctx, env.accountID, articleID))
	assert.Empty(t, env.visibleArticles(t), "clearing the exception re-applies the rule")
}

func TestReleaseArticleOfOtherAccount(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	env.remote.ignoreSince = true
	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "A", URL: "https://a.example.com/feed"}}
	env.remote.setArticles("feed/1", remoteArticle("1a", "Regular news", base))

	_, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)

	articles := env.visibleArticles(t)
	require.Len(t, articles, 1)

	otherID, err := env.db.CreateAccount(ctx, domain.Account{Kind: domain.AccountKindLocal, Name: "Other"})
	require.NoError(t, err)

	err = env.coordinator.ReleaseArticle(ctx, otherID, articles[0].ID)
	require.ErrorIs(t, err, syncer.ErrArticleNotFound)

	err = env.coordinator.ClearException(ctx, otherID, articles[0].ID)
	require.ErrorIs(t, err, syncer.ErrArticleNotFound)
}

func TestReapplyBlacklistBlocksExistingArticles(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "A", URL: "https://a.example.com/feed"}}
	env.remote.setArticles("feed/1",
		remoteArticle("1a", "Crypto giveaway", base),
		remoteArticle("1b", "Go release", base.Add(time.Minute)),
	)

	_, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)
	require.Len(t, env.visibleArticles(t), 2)

	entryID, err := env.db.CreateBlacklistEntry(ctx, domain.BlacklistEntry{AccountID: env.accountID, Pattern: "CRYPTO"})
	require.NoError(t, err)

	blocked, err := env.coordinator.ReapplyBlacklist(ctx, env.accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, blocked)

	visible := env.visibleArticles(t)
	require.Len(t, visible, 1)
	assert.Equal(t, "Go release", visible[0].Title)

	require.NoError(t, env.db.DeleteBlacklistEntry(ctx, entryID))
	assert.Len(t, env.visibleArticles(t), 2, "deleting the rule resurfaces its articles")
}

func TestSyncContinuesAfterFeedNetworkFailure(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	env.remote.feeds = []domain.FeedDescriptor{
		{RemoteID: "feed/1", Name: "A", URL: "https://a.example.com/feed"},
		{RemoteID: "feed/2", Name: "B", URL: "https://b.example.com/feed"},
		{RemoteID: "feed/3", Name: "C", URL: "https://c.example.com/feed"},
	}
	env.remote.setArticles("feed/1", remoteArticle("1a", "one", base))
	env.remote.setArticles("feed/2", remoteArticle("2a", "two", base))
	env.remote.setArticles("feed/3", remoteArticle("3a", "three", base))
	env.remote.fetchErrs["feed/2"] = fmt.Errorf("%w: connection reset", domain.ErrNetwork)

	result, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.ErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, 3, result.Feeds)
	assert.Equal(t, 1, result.FailedFeeds)
	assert.Equal(t, 2, result.NewArticles)

	feed, err := env.db.GetFeed(ctx, env.feedIDs(t)["feed/2"])
	require.NoError(t, err)
	assert.True(t, feed.HighWaterMark.IsZero(), "failed feed keeps its high-water mark")

	logs, err := env.db.ListSyncLogs(ctx, env.accountID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(1), logs[0].FailedFeeds)
	assert.Equal(t, int64(2), logs[0].NewArticles)
	assert.Contains(t, logs[0].Error, "connection reset")
}

func TestSyncAbortsOnAuthError(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	env.remote.fetchFeedsErr = fmt.Errorf("%w: token expired", domain.ErrAuth)

	_, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, "Login expired or credentials are invalid, please sign in again", domain.UserMessage(err))
	assert.Empty(t, env.feedIDs(t))
}

func TestSyncStopsFeedsAfterAuthError(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	env.remote.feeds = []domain.FeedDescriptor{
		{RemoteID: "feed/1", Name: "A", URL: "https://a.example.com/feed"},
		{RemoteID: "feed/2", Name: "B", URL: "https://b.example.com/feed"},
	}
	env.remote.fetchErrs["feed/1"] = fmt.Errorf("%w: 401", domain.ErrAuth)
	env.remote.setArticles("feed/2", remoteArticle("2a", "two", base))

	_, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.ErrorIs(t, err, domain.ErrAuth)
	assert.Empty(t, env.remote.sinceCalls("feed/2"))
	assert.Empty(t, env.visibleArticles(t))
}

func TestSyncSingleFeed(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	env.remote.feeds = []domain.FeedDescriptor{
		{RemoteID: "feed/1", Name: "A", URL: "https://a.example.com/feed"},
		{RemoteID: "feed/2", Name: "B", URL: "https://b.example.com/feed"},
	}

	_, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err)

	env.remote.setArticles("feed/1", remoteArticle("1a", "one", base))
	env.remote.setArticles("feed/2", remoteArticle("2a", "two", base))

	feedID := env.feedIDs(t)["feed/2"]

	result, err := env.coordinator.Sync(ctx, env.accountID, &feedID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Feeds)

	visible := env.visibleArticles(t)
	require.Len(t, visible, 1)
	assert.Equal(t, "two", visible[0].Title)

	missing := int64(9999)
	_, err = env.coordinator.Sync(ctx, env.accountID, &missing)
	require.Error(t, err)
}

func TestSyncUnknownAccount(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)

	_, err := env.coordinator.Sync(context.Background(), env.accountID+100, nil)
	require.ErrorIs(t, err, domain.ErrNoAccount)
}

func TestConcurrentSyncIsRejected(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)
	ctx := context.Background()

	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "A", URL: "https://a.example.com/feed"}}
	env.remote.started = make(chan struct{})
	env.remote.release = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.coordinator.Sync(ctx, env.accountID, nil)
		errCh <- err
	}()

	<-env.remote.started

	_, err := env.coordinator.Sync(ctx, env.accountID, nil)
	require.ErrorIs(t, err, domain.ErrSyncInProgress)

	close(env.remote.release)
	require.NoError(t, <-errCh)

	_, err = env.coordinator.Sync(ctx, env.accountID, nil)
	require.NoError(t, err, "the serialization point is released after the pass")
}

func TestCallerCancellationDoesNotInterruptSync(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)

	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "A", URL: "https://a.example.com/feed"}}
	env.remote.setArticles("feed/1", remoteArticle("1a", "one", base))
	env.remote.started = make(chan struct{})
	env.remote.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := env.coordinator.Sync(ctx, env.accountID, nil)
		errCh <- err
	}()

	<-env.remote.started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(env.remote.release)
	env.coordinator.Wait()

	assert.Len(t, env.visibleArticles(t), 1)
}

func TestSyncPublishesEvents(t *testing.T) {
	env := newTestEnv(t, syncer.Options{}, nil)

	var kinds []events.Kind
	env.bus.Subscribe(func(e events.Event) { kinds = append(kinds, e.Kind) })

	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "A", URL: "https://a.example.com/feed"}}
	env.remote.setArticles("feed/1", remoteArticle("1a", "one", base))

	_, err := env.coordinator.Sync(context.Background(), env.accountID, nil)
	require.NoError(t, err)

	assert.Equal(t, []events.Kind{
		events.KindSyncStarted,
		events.KindArticlesChanged,
		events.KindSyncFinished,
	}, kinds)
}

func TestSyncPassTimeout(t *testing.T) {
	env := newTestEnv(t, syncer.Options{SyncTimeout: 20 * time.Millisecond}, nil)

	env.remote.feeds = []domain.FeedDescriptor{{RemoteID: "feed/1", Name: "A", URL: "https://a.example.com/feed"}}
	env.remote.fetchDelay = time.Minute

	start := time.Now()

	_, err := env.coordinator.Sync(context.Background(), env.accountID, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}
