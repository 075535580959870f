package syncer

import (
	"context"
	"errors"
	"fmt"

	"feedsync/internal/blacklist"
	"feedsync/internal/database"
	"feedsync/internal/domain"
	"feedsync/internal/events"
)

var ErrArticleNotFound = errors.New("article not found")

// ReapplyBlacklist classifies the visible articles of the account against the current rules and
// hides the newly matching ones. It returns how many articles were blocked.
func (c *Coordinator) ReapplyBlacklist(ctx context.Context, accountID int64) (int, error) {
	rules, err := c.db.ListBlacklistEntries(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("%w: load blacklist: %w", domain.ErrStore, err)
	}
	if len(rules) == 0 {
		return 0, nil
	}

	exceptionIDs, err := c.db.ListExceptions(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("%w: load exceptions: %w", domain.ErrStore, err)
	}
	exceptions := blacklist.NewExceptions(exceptionIDs...)

	articles, err := c.db.QueryArticles(ctx, database.ArticleQuery{AccountID: accountID})
	if err != nil {
		return 0, fmt.Errorf("%w: load articles: %w", domain.ErrStore, err)
	}

	var records []database.BlockRecord
	for _, article := range articles {
		if verdict := blacklist.Classify(article, rules, exceptions); verdict.Blocked {
			records = append(records, database.BlockRecord{ArticleID: article.ID, EntryID: verdict.Rule.ID})
		}
	}

	blocked, err := c.db.BlockArticles(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	if blocked > 0 {
		c.bus.Publish(events.Event{Kind: events.KindArticlesChanged, AccountID: accountID})
	}

	c.log.InfoContext(ctx, "Blacklist reapplied",
		"accountID", accountID,
		"rules", len(rules),
		"blocked", blocked)

	return blocked, nil
}

// ReleaseArticle makes a blocked article visible and exempts it from every rule until the
// exception is cleared.
func (c *Coordinator) ReleaseArticle(ctx context.Context, accountID int64, articleID int64) error {
	if err := c.requireAccountArticle(ctx, accountID, articleID); err != nil {
		return err
	}

	if err := c.db.ReleaseArticle(ctx, articleID); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	c.bus.Publish(events.Event{Kind: events.KindArticlesChanged, AccountID: accountID})

	return nil
}

// ClearException drops the article's exemption and re-evaluates the account's rules right away.
func (c *Coordinator) ClearException(ctx context.Context, accountID int64, articleID int64) error {
	if err := c.requireAccountArticle(ctx, accountID, articleID); err != nil {
		return err
	}

	if err := c.db.ClearException(ctx, articleID); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	_, err := c.ReapplyBlacklist(ctx, accountID)

	return err
}

func (c *Coordinator) requireAccountArticle(ctx context.Context, accountID int64, articleID int64) error {
	ids, err := c.accountArticleIDs(ctx, accountID, []int64{articleID})
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		return fmt.Errorf("%w: id %d in account %d", ErrArticleNotFound, articleID, accountID)
	}

	return nil
}
