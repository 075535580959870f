package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedsync/internal/domain"
)

var ErrFeedNotFound = errors.New("feed not found")

type dbFeed struct {
	ID                   int64        `db:"id"`
	AccountID            int64        `db:"account_id"`
	RemoteID             string       `db:"remote_id"`
	Name                 string       `db:"name"`
	URL                  string       `db:"url"`
	GroupID              string       `db:"group_id"`
	ParseFullContent     bool         `db:"parse_full_content"`
	OpenInBrowser        bool         `db:"open_in_browser"`
	NotificationsEnabled bool         `db:"notifications_enabled"`
	RTL                  bool         `db:"rtl"`
	HighWaterMark        sql.NullTime `db:"high_water_mark"`
	LastSyncedAt         sql.NullTime `db:"last_synced_at"`
}

func (f dbFeed) toDomain() domain.Feed {
	feed := domain.Feed{
		ID:                   f.ID,
		AccountID:            f.AccountID,
		RemoteID:             strings.TrimSpace(f.RemoteID),
		Name:                 strings.TrimSpace(f.Name),
		URL:                  strings.TrimSpace(f.URL),
		GroupID:              f.GroupID,
		ParseFullContent:     f.ParseFullContent,
		OpenInBrowser:        f.OpenInBrowser,
		NotificationsEnabled: f.NotificationsEnabled,
		RTL:                  f.RTL,
	}

	if f.HighWaterMark.Valid {
		feed.HighWaterMark = f.HighWaterMark.Time.UTC()
	}
	if f.LastSyncedAt.Valid {
		feed.LastSyncedAt = f.LastSyncedAt.Time.UTC()
	}

	return feed
}

const feedColumns = `id, account_id, remote_id, name, url, group_id, parse_full_content, open_in_browser,
	notifications_enabled, rtl, high_water_mark, last_synced_at`

// UpsertFeed inserts the feed or refreshes its remote attributes. Local flags and the high-water
// mark of an existing feed are kept.
func (d *Database) UpsertFeed(
	ctx context.Context,
	accountID int64,
	descriptor domain.FeedDescriptor,
) (int64, error) {
	feedURL := strings.TrimSpace(descriptor.URL)
	if feedURL == "" {
		return 0, errors.New("feed URL is empty")
	}

	remoteID := strings.TrimSpace(descriptor.RemoteID)
	if remoteID == "" {
		remoteID = feedURL
	}

	name := strings.TrimSpace(descriptor.Name)
	if name == "" {
		name = feedURL
	}

	query := `insert into feeds (account_id, remote_id, name, url, group_id)
	values (?, ?, ?, ?, ?)
	on conflict (account_id, remote_id) do update
	set name = excluded.name, url = excluded.url, group_id = excluded.group_id`

	if _, err := d.db.ExecContext(ctx, query, accountID, remoteID, name, feedURL, descriptor.GroupID); err != nil {
		return 0, fmt.Errorf("upsert feed: %w", err)
	}

	var id int64
	err := d.db.GetContext(ctx, &id,
		"select id from feeds where account_id = ? and remote_id = ?", accountID, remoteID)
	if err != nil {
		return 0, fmt.Errorf("select feed ID: %w", err)
	}

	return id, nil
}

func (d *Database) GetFeed(ctx context.Context, feedID int64) (domain.Feed, error) {
	var f dbFeed

	err := d.db.GetContext(ctx, &f, "select "+feedColumns+" from feeds where id = ?", feedID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Feed{}, fmt.Errorf("%w: id %d", ErrFeedNotFound, feedID)
	}
	if err != nil {
		return domain.Feed{}, fmt.Errorf("select feed: %w", err)
	}

	return f.toDomain(), nil
}

func (d *Database) ListAccountFeeds(ctx context.Context, accountID int64) ([]domain.Feed, error) {
	var rows []dbFeed

	query := "select " + feedColumns + " from feeds where account_id = ? order by name, id"
	if err := d.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, fmt.Errorf("select account feeds: %w", err)
	}

	feeds := make([]domain.Feed, 0, len(rows))
	for _, r := range rows {
		feeds = append(feeds, r.toDomain())
	}

	return feeds, nil
}

func (d *Database) UpdateFeedFlags(ctx context.Context, feedID int64, flags domain.FeedFlags) error {
	query := `update feeds
	set parse_full_content = ?, open_in_browser = ?, notifications_enabled = ?, rtl = ?
	where id = ?`

	res, err := d.db.ExecContext(ctx, query,
		flags.ParseFullContent,
		flags.OpenInBrowser,
		flags.NotificationsEnabled,
		flags.RTL,
		feedID,
	)
	if err != nil {
		return fmt.Errorf("update feed flags: %w", err)
	}

	return requireAffected(res, ErrFeedNotFound)
}

func (d *Database) DeleteFeed(ctx context.Context, feedID int64) error {
	res, err := d.db.ExecContext(ctx, "delete from feeds where id = ?", feedID)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}

	return requireAffected(res, ErrFeedNotFound)
}

func (d *Database) GetSetting(ctx context.Context, key string) (string, error) {
	var value string

	err := d.db.GetContext(ctx, &value, "select value from settings where key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select setting: %w", err)
	}

	return value, nil
}

func (d *Database) SetSetting(ctx context.Context, key string, value string) error {
	query := `insert into settings (key, value)
	values (?, ?)
	on conflict (key) do update
	set value = excluded.value`

	if _, err := d.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}

	return nil
}

func (d *Database) InsertSyncLog(ctx context.Context, entry domain.SyncLog) error {
	query := `insert into sync_logs (account_id, feed_id, started_at, finished_at, new_articles,
	blocked_articles, failed_feeds, error)
	values (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		entry.AccountID,
		nullInt64(entry.FeedID),
		entry.StartedAt.UTC(),
		entry.FinishedAt.UTC(),
		entry.NewArticles,
		entry.BlockedArticles,
		entry.FailedFeeds,
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}

	return nil
}

type dbSyncLog struct {
	ID              int64         `db:"id"`
	AccountID       int64         `db:"account_id"`
	FeedID          sql.NullInt64 `db:"feed_id"`
	StartedAt       time.Time     `db:"started_at"`
	FinishedAt      time.Time     `db:"finished_at"`
	NewArticles     int64         `db:"new_articles"`
	BlockedArticles int64         `db:"blocked_articles"`
	FailedFeeds     int64         `db:"failed_feeds"`
	Error           string        `db:"error"`
}

func (d *Database) ListSyncLogs(ctx context.Context, accountID int64, limit int) ([]domain.SyncLog, error) {
	var rows []dbSyncLog

	query := `select id, account_id, feed_id, started_at, finished_at, new_articles, blocked_articles,
	failed_feeds, error
	from sync_logs
	where account_id = ?
	order by id desc
	limit ?`

	if err := d.db.SelectContext(ctx, &rows, query, accountID, limit); err != nil {
		return nil, fmt.Errorf("select sync logs: %w", err)
	}

	logs := make([]domain.SyncLog, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, domain.SyncLog{
			ID:              r.ID,
			AccountID:       r.AccountID,
			FeedID:          int64Ptr(r.FeedID),
			StartedAt:       r.StartedAt,
			FinishedAt:      r.FinishedAt,
			NewArticles:     r.NewArticles,
			BlockedArticles: r.BlockedArticles,
			FailedFeeds:     r.FailedFeeds,
			Error:           r.Error,
		})
	}

	return logs, nil
}
