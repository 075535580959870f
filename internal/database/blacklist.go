package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedsync/internal/domain"

	"github.com/jmoiron/sqlx"
)

var ErrBlacklistEntryNotFound = errors.New("blacklist entry not found")

type dbBlacklistEntry struct {
	ID        int64         `db:"id"`
	AccountID int64         `db:"account_id"`
	Pattern   string        `db:"pattern"`
	FeedID    sql.NullInt64 `db:"feed_id"`
}

func (d *Database) CreateBlacklistEntry(ctx context.Context, entry domain.BlacklistEntry) (int64, error) {
	pattern := strings.TrimSpace(entry.Pattern)
	if pattern == "" {
		return 0, errors.New("blacklist pattern is empty")
	}

	query := "insert into blacklist_entries (account_id, pattern, feed_id) values (?, ?, ?)"

	res, err := d.db.ExecContext(ctx, query, entry.AccountID, pattern, nullInt64(entry.FeedID))
	if err != nil {
		return 0, fmt.Errorf("insert blacklist entry: %w", err)
	}

	return res.LastInsertId()
}

// ListBlacklistEntries returns the account rules in insertion order, which is the matching order.
func (d *Database) ListBlacklistEntries(ctx context.Context, accountID int64) ([]domain.BlacklistEntry, error) {
	var rows []dbBlacklistEntry

	query := "select id, account_id, pattern, feed_id from blacklist_entries where account_id = ? order by id"
	if err := d.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, fmt.Errorf("select blacklist entries: %w", err)
	}

	entries := make([]domain.BlacklistEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, domain.BlacklistEntry{
			ID:        r.ID,
			AccountID: r.AccountID,
			Pattern:   r.Pattern,
			FeedID:    int64Ptr(r.FeedID),
		})
	}

	return entries, nil
}

// DeleteBlacklistEntry removes the rule; articles it blocked become visible again.
func (d *Database) DeleteBlacklistEntry(ctx context.Context, entryID int64) error {
	res, err := d.db.ExecContext(ctx, "delete from blacklist_entries where id = ?", entryID)
	if err != nil {
		return fmt.Errorf("delete blacklist entry: %w", err)
	}

	return requireAffected(res, ErrBlacklistEntryNotFound)
}

type dbBlockedArticle struct {
	dbArticle
	EntryID   int64     `db:"entry_id"`
	Pattern   string    `db:"pattern"`
	BlockedAt time.Time `db:"blocked_at"`
}

func (d *Database) ListBlockedArticles(ctx context.Context, accountID int64) ([]domain.BlockedArticle, error) {
	query := `select a.id as id, a.feed_id as feed_id, a.remote_id as remote_id, a.title as title,
	a.url as url, a.description_short as description_short, a.description_raw as description_raw,
	a.description_full as description_full, a.image_url as image_url, a.published_at as published_at,
	a.is_read as is_read, a.is_starred as is_starred, a.fetched_at as fetched_at,
	b.entry_id as entry_id, e.pattern as pattern, b.blocked_at as blocked_at
	from blocked_articles as b
	join articles as a on a.id = b.article_id
	join blacklist_entries as e on e.id = b.entry_id
	where e.account_id = ?
	order by a.published_at desc, a.id desc`

	var rows []dbBlockedArticle
	if err := d.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, fmt.Errorf("select blocked articles: %w", err)
	}

	blocked := make([]domain.BlockedArticle, 0, len(rows))
	for _, r := range rows {
		blocked = append(blocked, domain.BlockedArticle{
			Article:   r.dbArticle.toDomain(),
			EntryID:   r.EntryID,
			Pattern:   r.Pattern,
			BlockedAt: r.BlockedAt.UTC(),
		})
	}

	return blocked, nil
}

type BlockRecord struct {
	ArticleID int64
	EntryID   int64
}

// BlockArticles records rule matches found after the articles were stored. Articles holding an
// exception are skipped even if the caller passes them.
func (d *Database) BlockArticles(ctx context.Context, records []BlockRecord) (int, error) {
	blocked := 0

	query := `insert or ignore into blocked_articles (article_id, entry_id, blocked_at)
	select ?, ?, ?
	where not exists (select 1 from article_exceptions where article_id = ?)`

	err := d.inTx(ctx, "BlockArticles", func(tx *sqlx.Tx) error {
		now := d.now()

		for _, r := range records {
			res, err := tx.ExecContext(ctx, query, r.ArticleID, r.EntryID, now, r.ArticleID)
			if err != nil {
				return fmt.Errorf("insert blocked article (articleID = %d): %w", r.ArticleID, err)
			}

			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}

			blocked += int(affected)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return blocked, nil
}

// ReleaseArticle records a permanent exception for the article and makes it visible.
func (d *Database) ReleaseArticle(ctx context.Context, articleID int64) error {
	return d.inTx(ctx, "ReleaseArticle", func(tx *sqlx.Tx) error {
		query := "insert or ignore into article_exceptions (article_id, created_at) values (?, ?)"
		if _, err := tx.ExecContext(ctx, query, articleID, d.now()); err != nil {
			return fmt.Errorf("insert article exception: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "delete from blocked_articles where article_id = ?", articleID); err != nil {
			return fmt.Errorf("delete blocked article: %w", err)
		}

		return nil
	})
}

// ClearException drops the override; the article is re-evaluated on the next blacklist pass.
func (d *Database) ClearException(ctx context.Context, articleID int64) error {
	if _, err := d.db.ExecContext(ctx, "delete from article_exceptions where article_id = ?", articleID); err != nil {
		return fmt.Errorf("delete article exception: %w", err)
	}

	return nil
}

func (d *Database) ListExceptions(ctx context.Context, accountID int64) ([]int64, error) {
	query := `select x.article_id
	from article_exceptions as x
	join articles as a on a.id = x.article_id
	join feeds as f on f.id = a.feed_id
	where f.account_id = ?
	order by x.article_id`

	var ids []int64
	if err := d.db.SelectContext(ctx, &ids, query, accountID); err != nil {
		return nil, fmt.Errorf("select article exceptions: %w", err)
	}

	return ids, nil
}
