package syncer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"feedsync/internal/content"
	"feedsync/internal/database"
	"feedsync/internal/domain"
	"feedsync/internal/events"
	"feedsync/internal/remote"
	"feedsync/internal/summarizer"
	"feedsync/internal/syncer"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

type pushCall struct {
	remoteIDs []string
	state     bool
}

type fakeRemote struct {
	mu            sync.Mutex
	feeds         []domain.FeedDescriptor
	articles      map[string][]domain.RemoteArticle
	fetchErrs     map[string]error
	fetchFeedsErr error
	ignoreSince   bool
	pushErr       error
	pushAttempts  int
	pushRead      []pushCall
	pushStar      []pushCall
	sinceByFeed   map[string][]time.Time
	fetchDelay    time.Duration

	// When started is set, FetchFeeds signals it once and blocks until release is closed.
	started     chan struct{}
	release     chan struct{}
	startedOnce sync.Once
}

var _ remote.Client = (*fakeRemote)(nil)

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		articles:    make(map[string][]domain.RemoteArticle),
		fetchErrs:   make(map[string]error),
		sinceByFeed: make(map[string][]time.Time),
	}
}

func (f *fakeRemote) Authenticate(_ context.Context, _ string, user string, pass string) (domain.Credentials, error) {
	return domain.Credentials{Username: user, Secret: pass}, nil
}

func (f *fakeRemote) FetchFeeds(context.Context) ([]domain.FeedDescriptor, error) {
	if f.started != nil {
		f.startedOnce.Do(func() { close(f.started) })
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fetchFeedsErr != nil {
		return nil, f.fetchFeedsErr
	}

	return slices.Clone(f.feeds), nil
}

func (f *fakeRemote) FetchArticles(
	ctx context.Context,
	feedRemoteID string,
	since time.Time,
	limit int,
) ([]domain.RemoteArticle, error) {
	if f.fetchDelay > 0 {
		select {
		case <-time.After(f.fetchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sinceByFeed[feedRemoteID] = append(f.sinceByFeed[feedRemoteID], since)

	if err := f.fetchErrs[feedRemoteID]; err != nil {
		return nil, err
	}

	var out []domain.RemoteArticle
	for _, a := range f.articles[feedRemoteID] {
		if f.ignoreSince || since.IsZero() || a.PublishedAt.After(since) {
			out = append(out, a)
		}
	}

	slices.SortStableFunc(out, func(a, b domain.RemoteArticle) int {
		return a.PublishedAt.Compare(b.PublishedAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (f *fakeRemote) PushReadState(_ context.Context, remoteIDs []string, isRead bool) error {
	return f.recordPush(&f.pushRead, remoteIDs, isRead)
}

func (f *fakeRemote) PushStarState(_ context.Context, remoteIDs []string, isStarred bool) error {
	return f.recordPush(&f.pushStar, remoteIDs, isStarred)
}

func (f *fakeRemote) recordPush(calls *[]pushCall, remoteIDs []string, state bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pushAttempts++
	if f.pushErr != nil {
		return f.pushErr
	}

	*calls = append(*calls, pushCall{remoteIDs: slices.Clone(remoteIDs), state: state})

	return nil
}

func (f *fakeRemote) setArticles(feedRemoteID string, articles ...domain.RemoteArticle) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.articles[feedRemoteID] = articles
}

func (f *fakeRemote) sinceCalls(feedRemoteID string) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.sinceByFeed[feedRemoteID])
}

type fakeExtractor struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   []string
}

func (e *fakeExtractor) Extract(_ context.Context, pageURL string) (content.Extracted, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, pageURL)

	if e.failing[pageURL] {
		return content.Extracted{}, errors.Join(domain.ErrNetwork, errors.New("page unavailable"))
	}

	return content.Extracted{
		Content:  "<p>full text of " + pageURL + "</p>",
		Text:     "full text of " + pageURL,
		ImageURL: pageURL + "/lead.jpg",
	}, nil
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(_ context.Context, input summarizer.Input) (string, error) {
	return "summary of " + input.Title, nil
}

type testEnv struct {
	dbPath      string
	db          *database.Database
	remote      *fakeRemote
	extractor   *fakeExtractor
	bus         *events.Bus
	coordinator *syncer.Coordinator
	accountID   int64
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts syncer.Options, s summarizer.Summarizer) *testEnv {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "feedsync.sqlite")

	db, err := database.New(ctx, dbPath, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	accountID, err := db.CreateAccount(ctx, domain.Account{
		Kind:                domain.AccountKindFreshRSS,
		Name:                "FreshRSS",
		ServerURL:           "https://rss.example.com/api/greader.php",
		SyncIntervalMinutes: 30,
	})
	require.NoError(t, err)

	env := &testEnv{
		dbPath:    dbPath,
		db:        db,
		remote:    newFakeRemote(),
		extractor: &fakeExtractor{failing: make(map[string]bool)},
		bus:       events.NewBus(),
		accountID: accountID,
	}

	env.coordinator = syncer.New(
		db,
		func(domain.Account) (remote.Client, error) { return env.remote, nil },
		env.extractor,
		s,
		env.bus,
		opts,
		discardLogger(),
	)
	t.Cleanup(env.coordinator.Wait)

	return env
}

// rejectArticle installs a trigger that fails every insert of the given remote ID, until the
// returned func drops it.
func (e *testEnv) rejectArticle(t *testing.T, remoteID string) func() {
	t.Helper()

	conn, err := sqlx.Connect("sqlite3", e.dbPath+"?_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	conn.MustExec(`create trigger reject_article before insert on articles
	when new.remote_id = '` + remoteID + `'
	begin select raise(abort, 'disk is full'); end`)

	return func() { conn.MustExec(`drop trigger reject_article`) }
}

// feedIDs returns the stored feed IDs keyed by remote ID.
func (e *testEnv) feedIDs(t *testing.T) map[string]int64 {
	t.Helper()

	feeds, err := e.db.ListAccountFeeds(context.Background(), e.accountID)
	require.NoError(t, err)

	ids := make(map[string]int64, len(feeds))
	for _, f := range feeds {
		ids[f.RemoteID] = f.ID
	}

	return ids
}

func (e *testEnv) visibleArticles(t *testing.T) []domain.Article {
	t.Helper()

	articles, err := e.db.QueryArticles(context.Background(), database.ArticleQuery{AccountID: e.accountID})
	require.NoError(t, err)

	return articles
}

func remoteArticle(id string, title string, published time.Time) domain.RemoteArticle {
	return domain.RemoteArticle{
		RemoteID:    id,
		Title:       title,
		URL:         "https://example.com/" + id,
		Description: "<p>" + title + "</p>",
		PublishedAt: published,
	}
}
