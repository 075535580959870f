package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"feedsync/internal/domain"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

type dbArticle struct {
	ID               int64     `db:"id"`
	FeedID           int64     `db:"feed_id"`
	RemoteID         string    `db:"remote_id"`
	Title            string    `db:"title"`
	URL              string    `db:"url"`
	DescriptionShort string    `db:"description_short"`
	DescriptionRaw   string    `db:"description_raw"`
	DescriptionFull  string    `db:"description_full"`
	ImageURL         string    `db:"image_url"`
	PublishedAt      time.Time `db:"published_at"`
	IsRead           bool      `db:"is_read"`
	IsStarred        bool      `db:"is_starred"`
	FetchedAt        time.Time `db:"fetched_at"`
}

func (a dbArticle) toDomain() domain.Article {
	return domain.Article{
		ID:               a.ID,
		FeedID:           a.FeedID,
		RemoteID:         a.RemoteID,
		Title:            a.Title,
		URL:              a.URL,
		DescriptionShort: a.DescriptionShort,
		DescriptionRaw:   a.DescriptionRaw,
		DescriptionFull:  a.DescriptionFull,
		ImageURL:         a.ImageURL,
		PublishedAt:      a.PublishedAt.UTC(),
		IsRead:           a.IsRead,
		IsStarred:        a.IsStarred,
		FetchedAt:        a.FetchedAt.UTC(),
	}
}

func toDomainArticles(rows []dbArticle) []domain.Article {
	articles := make([]domain.Article, 0, len(rows))
	for _, r := range rows {
		articles = append(articles, r.toDomain())
	}

	return articles
}

var articleSelectColumns = []string{
	"a.id AS id",
	"a.feed_id AS feed_id",
	"a.remote_id AS remote_id",
	"a.title AS title",
	"a.url AS url",
	"a.description_short AS description_short",
	"a.description_raw AS description_raw",
	"a.description_full AS description_full",
	"a.image_url AS image_url",
	"a.published_at AS published_at",
	"a.is_read AS is_read",
	"a.is_starred AS is_starred",
	"a.fetched_at AS fetched_at",
}

// ArticleQuery filters the regular (non-blocked) article listing. A zero Limit returns every row.
type ArticleQuery struct {
	AccountID   int64
	FeedID      *int64
	UnreadOnly  bool
	StarredOnly bool
	Search      string
	OldestFirst bool
	Limit       int
	Offset      int
}

func (d *Database) QueryArticles(ctx context.Context, q ArticleQuery) ([]domain.Article, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(articleSelectColumns...).From("articles AS a")
	sb.Join("feeds AS f", "f.id = a.feed_id")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "blocked_articles AS b", "b.article_id = a.id")
	sb.Where(
		sb.Equal("f.account_id", q.AccountID),
		sb.IsNull("b.article_id"),
	)

	if q.FeedID != nil {
		sb.Where(sb.Equal("a.feed_id", *q.FeedID))
	}

	if q.UnreadOnly {
		sb.Where(sb.Equal("a.is_read", false))
	}

	if q.StarredOnly {
		sb.Where(sb.Equal("a.is_starred", true))
	}

	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := "%" + search + "%"
		sb.Where(sb.Or(
			sb.Like("a.title", pattern),
			sb.Like("a.description_raw", pattern),
		))
	}

	if q.OldestFirst {
		sb.OrderBy("a.published_at ASC", "a.id ASC")
	} else {
		sb.OrderBy("a.published_at DESC", "a.id DESC")
	}

	if q.Limit > 0 {
		sb.Limit(q.Limit)
		sb.Offset(q.Offset)
	}

	query, args := sb.Build()

	var rows []dbArticle
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select articles: %w", err)
	}

	return toDomainArticles(rows), nil
}

func (d *Database) GetArticles(ctx context.Context, articleIDs []int64) ([]domain.Article, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(articleSelectColumns...).From("articles AS a")
	sb.Where(sb.In("a.id", sqlbuilder.Flatten(articleIDs)...))
	sb.OrderBy("a.id")

	query, args := sb.Build()

	var rows []dbArticle
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select articles by ID: %w", err)
	}

	return toDomainArticles(rows), nil
}

func (d *Database) SetArticlesRead(ctx context.Context, articleIDs []int64, isRead bool) error {
	return d.execIn(ctx, "update articles set is_read = ? where id in (?)", isRead, articleIDs)
}

func (d *Database) SetArticlesStarred(ctx context.Context, articleIDs []int64, isStarred bool) error {
	return d.execIn(ctx, "update articles set is_starred = ? where id in (?)", isStarred, articleIDs)
}

func (d *Database) DeleteArticles(ctx context.Context, articleIDs []int64) error {
	if len(articleIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In("delete from articles where id in (?)", articleIDs)
	if err != nil {
		return fmt.Errorf("expand query: %w", err)
	}

	if _, err = d.db.ExecContext(ctx, d.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete articles: %w", err)
	}

	return nil
}

func (d *Database) execIn(ctx context.Context, query string, value any, articleIDs []int64) error {
	if len(articleIDs) == 0 {
		return nil
	}

	expanded, args, err := sqlx.In(query, value, articleIDs)
	if err != nil {
		return fmt.Errorf("expand query: %w", err)
	}

	if _, err = d.db.ExecContext(ctx, d.db.Rebind(expanded), args...); err != nil {
		return fmt.Errorf("update articles: %w", err)
	}

	return nil
}

// ArticlesMissingFullContent lists visible articles of full-content feeds that have not been
// back-filled yet, newest first.
func (d *Database) ArticlesMissingFullContent(
	ctx context.Context,
	accountID int64,
	limit int,
) ([]domain.Article, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(articleSelectColumns...).From("articles AS a")
	sb.Join("feeds AS f", "f.id = a.feed_id")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "blocked_articles AS b", "b.article_id = a.id")
	sb.Where(
		sb.Equal("f.account_id", accountID),
		sb.Equal("f.parse_full_content", true),
		sb.Equal("a.description_full", ""),
		sb.NotEqual("a.url", ""),
		sb.IsNull("b.article_id"),
	)
	sb.OrderBy("a.published_at DESC", "a.id DESC")
	sb.Limit(limit)

	query, args := sb.Build()

	var rows []dbArticle
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select articles missing full content: %w", err)
	}

	return toDomainArticles(rows), nil
}

// UpdateArticleContent stores back-filled content. Image and short description are only replaced
// when the new value is non-empty.
func (d *Database) UpdateArticleContent(
	ctx context.Context,
	articleID int64,
	full string,
	imageURL string,
	short string,
) error {
	query := `update articles
	set description_full = ?,
	image_url = case when ? != '' then ? else image_url end,
	description_short = case when ? != '' then ? else description_short end
	where id = ?`

	_, err := d.db.ExecContext(ctx, query, full, imageURL, imageURL, short, short, articleID)
	if err != nil {
		return fmt.Errorf("update article content: %w", err)
	}

	return nil
}

type ArticleWrite struct {
	Article domain.Article
	// BlockedBy is the matching blacklist entry ID, zero for allowed articles.
	BlockedBy int64
}

type FeedSyncBatch struct {
	FeedID        int64
	Articles      []ArticleWrite
	HighWaterMark time.Time
	SyncedAt      time.Time
}

type CommitResult struct {
	Inserted int
	Blocked  int
}

// CommitFeedSync persists one feed's sync results atomically. Articles already stored under the
// same (feed, remote ID) are skipped, and the high-water mark only moves when everything else
// was written.
func (d *Database) CommitFeedSync(ctx context.Context, batch FeedSyncBatch) (CommitResult, error) {
	var result CommitResult

	insertArticle := `insert into articles (feed_id, remote_id, title, url, description_short,
	description_raw, description_full, image_url, published_at, is_read, is_starred, fetched_at)
	values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	on conflict (feed_id, remote_id) do nothing`

	insertBlocked := `insert or ignore into blocked_articles (article_id, entry_id, blocked_at)
	values (?, ?, ?)`

	err := d.inTx(ctx, "CommitFeedSync", func(tx *sqlx.Tx) error {
		for _, w := range batch.Articles {
			a := w.Article

			res, err := tx.ExecContext(ctx, insertArticle,
				batch.FeedID,
				a.RemoteID,
				a.Title,
				a.URL,
				a.DescriptionShort,
				a.DescriptionRaw,
				a.DescriptionFull,
				a.ImageURL,
				a.PublishedAt.UTC(),
				a.IsRead,
				a.IsStarred,
				batch.SyncedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("insert article (remoteID = %s): %w", a.RemoteID, err)
			}

			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if affected == 0 {
				continue
			}

			result.Inserted++

			if w.BlockedBy == 0 {
				continue
			}

			articleID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("last insert ID: %w", err)
			}

			if _, err = tx.ExecContext(ctx, insertBlocked, articleID, w.BlockedBy, batch.SyncedAt.UTC()); err != nil {
				return fmt.Errorf("insert blocked article (articleID = %d): %w", articleID, err)
			}

			result.Blocked++
		}

		query := `update feeds
		set high_water_mark = coalesce(?, high_water_mark), last_synced_at = ?
		where id = ?`

		res, err := tx.ExecContext(ctx, query, nullTime(batch.HighWaterMark), batch.SyncedAt.UTC(), batch.FeedID)
		if err != nil {
			return fmt.Errorf("advance high-water mark: %w", err)
		}

		return requireAffected(res, ErrFeedNotFound)
	})
	if err != nil {
		return CommitResult{}, err
	}

	return result, nil
}
