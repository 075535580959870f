package app

import (
	"context"
	"errors"
	"fmt"

	"feedsync/internal/domain"
	"feedsync/internal/remote"
)

var ErrServerManagedFeeds = errors.New("subscriptions of this account are managed on its server")

// AddFeeds subscribes a local account to every feed found in text. Candidates that are not
// readable feeds are reported in the joined error next to the feeds that were added.
func (a *App) AddFeeds(ctx context.Context, accountID int64, text string) ([]domain.Feed, error) {
	account, err := a.DB.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.Kind != domain.AccountKindLocal {
		return nil, fmt.Errorf("%w: kind %s", ErrServerManagedFeeds, account.Kind)
	}

	descriptors, discoverErr := remote.NewLocalClient(a.httpClient, a.log).DiscoverFeeds(ctx, text)
	if len(descriptors) == 0 && discoverErr == nil {
		return nil, errors.New("no feed URLs found")
	}

	feeds := make([]domain.Feed, 0, len(descriptors))
	for _, descriptor := range descriptors {
		feedID, upsertErr := a.DB.UpsertFeed(ctx, accountID, descriptor)
		if upsertErr != nil {
			return feeds, fmt.Errorf("%w: %w", domain.ErrStore, upsertErr)
		}

		feed, getErr := a.DB.GetFeed(ctx, feedID)
		if getErr != nil {
			return feeds, fmt.Errorf("%w: %w", domain.ErrStore, getErr)
		}

		feeds = append(feeds, feed)

		a.log.InfoContext(ctx, "Feed is added",
			"accountID", accountID,
			"feedID", feedID,
			"feedURL", feed.URL)
	}

	return feeds, discoverErr
}

// AccountFeed returns the feed only when it belongs to the account.
func (a *App) AccountFeed(ctx context.Context, accountID int64, feedID int64) (domain.Feed, error) {
	feed, err := a.DB.GetFeed(ctx, feedID)
	if err != nil {
		return domain.Feed{}, err
	}

	if feed.AccountID != accountID {
		return domain.Feed{}, fmt.Errorf("feed %d does not belong to account %d", feedID, accountID)
	}

	return feed, nil
}
