package syncer

import (
	"context"
	"errors"
	"fmt"

	"feedsync/internal/domain"
	"feedsync/internal/events"
	"feedsync/internal/remote"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
)

// MarkRead updates the local read flag and then pushes it to the remote in the background.
func (c *Coordinator) MarkRead(ctx context.Context, accountID int64, articleIDs []int64, isRead bool) error {
	articleIDs, err := c.accountArticleIDs(ctx, accountID, articleIDs)
	if err != nil {
		return err
	}

	if err = c.db.SetArticlesRead(ctx, articleIDs, isRead); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	c.bus.Publish(events.Event{Kind: events.KindArticlesChanged, AccountID: accountID})
	c.pushInBackground(ctx, func(ctx context.Context) {
		c.PushReadState(ctx, accountID, articleIDs, isRead)
	})

	return nil
}

// MarkStarred updates the local starred flag and then pushes it to the remote in the background.
func (c *Coordinator) MarkStarred(ctx context.Context, accountID int64, articleIDs []int64, isStarred bool) error {
	articleIDs, err := c.accountArticleIDs(ctx, accountID, articleIDs)
	if err != nil {
		return err
	}

	if err = c.db.SetArticlesStarred(ctx, articleIDs, isStarred); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	c.bus.Publish(events.Event{Kind: events.KindArticlesChanged, AccountID: accountID})
	c.bus.Publish(events.Event{Kind: events.KindStarredChanged, AccountID: accountID})
	c.pushInBackground(ctx, func(ctx context.Context) {
		c.PushStarState(ctx, accountID, articleIDs, isStarred)
	})

	return nil
}

// DeleteArticles removes articles locally only; aggregators have no delete operation.
func (c *Coordinator) DeleteArticles(ctx context.Context, accountID int64, articleIDs []int64) error {
	articleIDs, err := c.accountArticleIDs(ctx, accountID, articleIDs)
	if err != nil {
		return err
	}

	if err = c.db.DeleteArticles(ctx, articleIDs); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	c.bus.Publish(events.Event{Kind: events.KindArticlesChanged, AccountID: accountID})

	return nil
}

// PushReadState mirrors the read flag of the articles to the remote. Failures are logged and
// never returned: local state stays authoritative.
func (c *Coordinator) PushReadState(ctx context.Context, accountID int64, articleIDs []int64, isRead bool) {
	c.push(ctx, accountID, articleIDs, "read", func(ctx context.Context, client remote.Client, ids []string) error {
		return client.PushReadState(ctx, ids, isRead)
	})
}

// PushStarState mirrors the starred flag of the articles to the remote, best-effort.
func (c *Coordinator) PushStarState(ctx context.Context, accountID int64, articleIDs []int64, isStarred bool) {
	c.push(ctx, accountID, articleIDs, "starred", func(ctx context.Context, client remote.Client, ids []string) error {
		return client.PushStarState(ctx, ids, isStarred)
	})
}

func (c *Coordinator) pushInBackground(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		fn(ctx)
	}()
}

func (c *Coordinator) push(
	ctx context.Context,
	accountID int64,
	articleIDs []int64,
	state string,
	send func(ctx context.Context, client remote.Client, ids []string) error,
) {
	if len(articleIDs) == 0 {
		return
	}

	err := c.pushWithRetry(ctx, accountID, articleIDs, send)
	if err == nil {
		return
	}

	pushFailures.WithLabelValues(state).Inc()

	c.log.WarnContext(ctx, "Failed to push article state",
		"error", err,
		"accountID", accountID,
		"state", state,
		"articles", len(articleIDs))
}

func (c *Coordinator) pushWithRetry(
	ctx context.Context,
	accountID int64,
	articleIDs []int64,
	send func(ctx context.Context, client remote.Client, ids []string) error,
) error {
	account, err := c.db.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	articles, err := c.db.GetArticles(ctx, articleIDs)
	if err != nil {
		return fmt.Errorf("load articles: %w", err)
	}

	remoteIDs := lo.Uniq(lo.FilterMap(articles, func(a domain.Article, _ int) (string, bool) {
		return a.RemoteID, a.RemoteID != ""
	}))
	if len(remoteIDs) == 0 {
		return nil
	}

	client, err := c.newClient(account)
	if err != nil {
		return fmt.Errorf("build remote client: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.PushRetryInterval
	policy.MaxElapsedTime = 0

	operation := func() error {
		sendErr := send(ctx, client, remoteIDs)
		if sendErr == nil || errors.Is(sendErr, domain.ErrNetwork) {
			return sendErr
		}

		return backoff.Permanent(sendErr)
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.opts.PushRetries), ctx))
}

// accountArticleIDs drops IDs of articles that do not belong to the account.
func (c *Coordinator) accountArticleIDs(ctx context.Context, accountID int64, articleIDs []int64) ([]int64, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}

	feeds, err := c.db.ListAccountFeeds(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list feeds: %w", domain.ErrStore, err)
	}

	feedIDs := lo.SliceToMap(feeds, func(f domain.Feed) (int64, struct{}) {
		return f.ID, struct{}{}
	})

	articles, err := c.db.GetArticles(ctx, lo.Uniq(articleIDs))
	if err != nil {
		return nil, fmt.Errorf("%w: load articles: %w", domain.ErrStore, err)
	}

	return lo.FilterMap(articles, func(a domain.Article, _ int) (int64, bool) {
		_, ok := feedIDs[a.FeedID]
		return a.ID, ok
	}), nil
}
