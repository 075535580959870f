// Package syncer brings the local store in line with an account's remote aggregator. All sync
// triggers of an account share one serialization point.
package syncer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"feedsync/internal/blacklist"
	"feedsync/internal/content"
	"feedsync/internal/database"
	"feedsync/internal/domain"
	"feedsync/internal/events"
	"feedsync/internal/remote"
	"feedsync/internal/summarizer"
)

const (
	defaultFetchLimit        = 200
	defaultSyncTimeout       = 15 * time.Minute
	defaultBackfillBatchSize = 5
	defaultBackfillLimit     = 500
	defaultPushRetries       = 3
	defaultPushRetryInterval = 500 * time.Millisecond

	shortDescriptionMaxRunes = 200
)

// ClientFactory builds the remote client for an account.
type ClientFactory func(account domain.Account) (remote.Client, error)

// ContentFetcher downloads and extracts an article page.
type ContentFetcher interface {
	Extract(ctx context.Context, pageURL string) (content.Extracted, error)
}

type Options struct {
	FetchLimit        int
	SyncTimeout       time.Duration
	BackfillBatchSize int
	BackfillPause     time.Duration
	BackfillLimit     int
	PushRetries       uint64
	PushRetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	o.FetchLimit = cmp.Or(o.FetchLimit, defaultFetchLimit)
	o.SyncTimeout = cmp.Or(o.SyncTimeout, defaultSyncTimeout)
	o.BackfillBatchSize = cmp.Or(o.BackfillBatchSize, defaultBackfillBatchSize)
	o.BackfillLimit = cmp.Or(o.BackfillLimit, defaultBackfillLimit)
	o.PushRetries = cmp.Or(o.PushRetries, defaultPushRetries)
	o.PushRetryInterval = cmp.Or(o.PushRetryInterval, defaultPushRetryInterval)

	return o
}

type Coordinator struct {
	db         *database.Database
	newClient  ClientFactory
	extractor  ContentFetcher
	summarizer summarizer.Summarizer
	bus        *events.Bus
	opts       Options
	log        *slog.Logger
	now        func() time.Time

	mu            sync.Mutex
	syncLocks     map[int64]*sync.Mutex
	backfillLocks map[int64]*sync.Mutex
	wg            sync.WaitGroup
}

// New wires a coordinator. extractor and s may be nil: back-fill then fails fast, and short
// descriptions fall back to plain-text excerpts.
func New(
	db *database.Database,
	newClient ClientFactory,
	extractor ContentFetcher,
	s summarizer.Summarizer,
	bus *events.Bus,
	opts Options,
	log *slog.Logger,
) *Coordinator {
	return &Coordinator{
		db:            db,
		newClient:     newClient,
		extractor:     extractor,
		summarizer:    s,
		bus:           bus,
		opts:          opts.withDefaults(),
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
		syncLocks:     make(map[int64]*sync.Mutex),
		backfillLocks: make(map[int64]*sync.Mutex),
	}
}

// RemoteClientFactory is the production ClientFactory.
func RemoteClientFactory(httpClient *http.Client, log *slog.Logger) ClientFactory {
	return func(account domain.Account) (remote.Client, error) {
		return remote.New(account, httpClient, log)
	}
}

// Wait blocks until every detached sync pass, push and back-fill has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) tryLock(locks map[int64]*sync.Mutex, accountID int64) (func(), bool) {
	c.mu.Lock()
	lock, ok := locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		locks[accountID] = lock
	}
	c.mu.Unlock()

	if !lock.TryLock() {
		return nil, false
	}

	return lock.Unlock, true
}

// Result summarises a pass. NewArticles counts every stored article, BlockedArticles the hidden
// subset of them.
type Result struct {
	AccountID       int64
	Feeds           int
	FailedFeeds     int
	NewArticles     int
	BlockedArticles int
	StartedAt       time.Time
	FinishedAt      time.Time
}

type outcome struct {
	result Result
	err    error
}

// Sync runs one pass for the account, or for a single feed of it when feedID is set. A pass that
// is already running for the account makes Sync return domain.ErrSyncInProgress immediately.
//
// The pass is detached from ctx: cancelling ctx makes Sync return early while the pass runs to
// completion, bounded by the configured timeout.
func (c *Coordinator) Sync(ctx context.Context, accountID int64, feedID *int64) (Result, error) {
	unlock, ok := c.tryLock(c.syncLocks, accountID)
	if !ok {
		syncPasses.WithLabelValues("rejected").Inc()

		return Result{}, domain.ErrSyncInProgress
	}

	passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.SyncTimeout)
	done := make(chan outcome, 1)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer unlock()

		result, err := c.runPass(passCtx, accountID, feedID)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *Coordinator) runPass(ctx context.Context, accountID int64, feedID *int64) (Result, error) {
	result := Result{AccountID: accountID, StartedAt: c.now()}

	c.bus.Publish(events.Event{Kind: events.KindSyncStarted, AccountID: accountID, FeedID: feedID})

	c.log.InfoContext(ctx, "Sync started",
		"accountID", accountID,
		"feedID", feedID)

	err := c.syncAccount(ctx, accountID, feedID, &result)
	result.FinishedAt = c.now()

	syncDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	syncArticles.WithLabelValues("allowed").Add(float64(result.NewArticles - result.BlockedArticles))
	syncArticles.WithLabelValues("blocked").Add(float64(result.BlockedArticles))
	syncFailedFeeds.Add(float64(result.FailedFeeds))

	switch {
	case err == nil:
		syncPasses.WithLabelValues("ok").Inc()
	case result.FailedFeeds > 0 && result.FailedFeeds < result.Feeds:
		syncPasses.WithLabelValues("partial").Inc()
	default:
		syncPasses.WithLabelValues("failed").Inc()
	}

	c.recordSyncLog(context.WithoutCancel(ctx), feedID, result, err)

	if err != nil {
		c.log.WarnContext(ctx, "Sync finished with errors",
			"error", err,
			"accountID", accountID,
			"feeds", result.Feeds,
			"failedFeeds", result.FailedFeeds,
			"newArticles", result.NewArticles,
			"blockedArticles", result.BlockedArticles)
	} else {
		c.log.InfoContext(ctx, "Sync finished",
			"accountID", accountID,
			"feeds", result.Feeds,
			"newArticles", result.NewArticles,
			"blockedArticles", result.BlockedArticles,
			"duration", result.FinishedAt.Sub(result.StartedAt))
	}

	if result.NewArticles > 0 {
		c.bus.Publish(events.Event{Kind: events.KindArticlesChanged, AccountID: accountID, FeedID: feedID})
	}

	c.bus.Publish(events.Event{Kind: events.KindSyncFinished, AccountID: accountID, FeedID: feedID, Err: err})

	return result, err
}

func (c *Coordinator) syncAccount(ctx context.Context, accountID int64, feedID *int64, result *Result) error {
	account, err := c.db.GetAccount(ctx, accountID)
	if errors.Is(err, domain.ErrNoAccount) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: load account: %w", domain.ErrStore, err)
	}

	client, err := c.newClient(account)
	if err != nil {
		return fmt.Errorf("build remote client: %w", err)
	}

	var errs []error

	if feedID == nil {
		if err = c.reconcileFeeds(ctx, account, client); err != nil {
			if errors.Is(err, domain.ErrAuth) || errors.Is(err, domain.ErrStore) {
				return err
			}

			c.log.WarnContext(ctx, "Failed to reconcile subscriptions, syncing stored feeds",
				"error", err,
				"accountID", accountID)

			errs = append(errs, err)
		}
	}

	feeds, err := c.feedsToSync(ctx, accountID, feedID)
	if err != nil {
		return err
	}

	rules, err := c.db.ListBlacklistEntries(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: load blacklist: %w", domain.ErrStore, err)
	}

	exceptionIDs, err := c.db.ListExceptions(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: load exceptions: %w", domain.ErrStore, err)
	}
	exceptions := blacklist.NewExceptions(exceptionIDs...)

	result.Feeds = len(feeds)

	for _, feed := range feeds {
		committed, syncErr := c.syncFeed(ctx, account, client, feed, rules, exceptions)
		if syncErr != nil {
			if errors.Is(syncErr, domain.ErrAuth) || errors.Is(syncErr, domain.ErrStore) || ctx.Err() != nil {
				return syncErr
			}

			c.log.WarnContext(ctx, "Failed to sync feed",
				"error", syncErr,
				"accountID", accountID,
				"feedID", feed.ID,
				"feedURL", feed.URL)

			result.FailedFeeds++
			errs = append(errs, fmt.Errorf("sync feed (id = %d): %w", feed.ID, syncErr))

			continue
		}

		result.NewArticles += committed.Inserted
		result.BlockedArticles += committed.Blocked
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %d of %d feeds failed: %w",
			domain.ErrNetwork, result.FailedFeeds, result.Feeds, errors.Join(errs...))
	}

	return nil
}

// reconcileFeeds upserts the remote subscriptions. Feeds that disappeared remotely are kept.
func (c *Coordinator) reconcileFeeds(ctx context.Context, account domain.Account, client remote.Client) error {
	descriptors, err := client.FetchFeeds(ctx)
	if err != nil {
		return fmt.Errorf("fetch feeds: %w", err)
	}

	for _, descriptor := range descriptors {
		if _, err = c.db.UpsertFeed(ctx, account.ID, descriptor); err != nil {
			return fmt.Errorf("%w: upsert feed (remoteID = %s): %w", domain.ErrStore, descriptor.RemoteID, err)
		}
	}

	return nil
}

func (c *Coordinator) feedsToSync(ctx context.Context, accountID int64, feedID *int64) ([]domain.Feed, error) {
	if feedID == nil {
		feeds, err := c.db.ListAccountFeeds(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("%w: list feeds: %w", domain.ErrStore, err)
		}

		return feeds, nil
	}

	feed, err := c.db.GetFeed(ctx, *feedID)
	if errors.Is(err, database.ErrFeedNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load feed: %w", domain.ErrStore, err)
	}

	if feed.AccountID != accountID {
		return nil, fmt.Errorf("%w: feed %d belongs to another account", database.ErrFeedNotFound, feed.ID)
	}

	return []domain.Feed{feed}, nil
}

func (c *Coordinator) syncFeed(
	ctx context.Context,
	account domain.Account,
	client remote.Client,
	feed domain.Feed,
	rules []domain.BlacklistEntry,
	exceptions blacklist.Exceptions,
) (database.CommitResult, error) {
	now := c.now()
	since := fetchSince(feed.HighWaterMark, account.MaxPastDays, now)

	remoteArticles, err := client.FetchArticles(ctx, feed.RemoteID, since, c.opts.FetchLimit)
	if err != nil {
		return database.CommitResult{}, fmt.Errorf("fetch articles: %w", err)
	}

	batch := database.FeedSyncBatch{
		FeedID:        feed.ID,
		Articles:      make([]database.ArticleWrite, 0, len(remoteArticles)),
		HighWaterMark: feed.HighWaterMark,
		SyncedAt:      now,
	}

	for _, ra := range remoteArticles {
		article := toArticle(feed.ID, ra)
		write := database.ArticleWrite{Article: article}

		if verdict := blacklist.Classify(article, rules, exceptions); verdict.Blocked {
			write.BlockedBy = verdict.Rule.ID
		}

		batch.Articles = append(batch.Articles, write)

		// Undated articles carry a stand-in time and must not move the mark.
		if !ra.Undated && ra.PublishedAt.After(batch.HighWaterMark) {
			batch.HighWaterMark = ra.PublishedAt
		}
	}

	committed, err := c.db.CommitFeedSync(ctx, batch)
	if err != nil {
		return database.CommitResult{}, fmt.Errorf("%w: commit feed (id = %d): %w", domain.ErrStore, feed.ID, err)
	}

	return committed, nil
}

// fetchSince returns the later of the high-water mark and the account's look-back window start.
func fetchSince(highWaterMark time.Time, maxPastDays int64, now time.Time) time.Time {
	if maxPastDays <= 0 {
		return highWaterMark
	}

	windowStart := now.AddDate(0, 0, -int(maxPastDays))
	if highWaterMark.After(windowStart) {
		return highWaterMark
	}

	return windowStart
}

func toArticle(feedID int64, ra domain.RemoteArticle) domain.Article {
	raw := cmp.Or(ra.Description, ra.Content)

	return domain.Article{
		FeedID:           feedID,
		RemoteID:         ra.RemoteID,
		Title:            ra.Title,
		URL:              ra.URL,
		DescriptionShort: summarizer.Excerpt(content.PlainText(raw), shortDescriptionMaxRunes),
		DescriptionRaw:   raw,
		ImageURL:         ra.ImageURL,
		PublishedAt:      ra.PublishedAt,
		IsRead:           ra.IsRead,
		IsStarred:        ra.IsStarred,
	}
}

func (c *Coordinator) recordSyncLog(ctx context.Context, feedID *int64, result Result, syncErr error) {
	if errors.Is(syncErr, domain.ErrNoAccount) {
		return
	}

	entry := domain.SyncLog{
		AccountID:       result.AccountID,
		FeedID:          feedID,
		StartedAt:       result.StartedAt,
		FinishedAt:      result.FinishedAt,
		NewArticles:     int64(result.NewArticles),
		BlockedArticles: int64(result.BlockedArticles),
		FailedFeeds:     int64(result.FailedFeeds),
	}
	if syncErr != nil {
		entry.Error = syncErr.Error()
	}

	if err := c.db.InsertSyncLog(ctx, entry); err != nil {
		c.log.ErrorContext(ctx, "Failed to record sync log",
			"error", err,
			"accountID", result.AccountID)
	}
}
