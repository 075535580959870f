package domain

import "time"

type AccountKind string

const (
	AccountKindFreshRSS AccountKind = "freshrss"
	AccountKindMiniflux AccountKind = "miniflux"
	AccountKindLocal    AccountKind = "local"
)

type Account struct {
	ID                   int64
	Kind                 AccountKind
	Name                 string
	ServerURL            string
	Username             string
	Secret               string
	SyncIntervalMinutes  int64
	MaxPastDays          int64
	SyncOnStart          bool
	SyncOnlyOnWiFi       bool
	SyncOnlyWhenCharging bool
	DefaultScreen        string
	CreatedAt            time.Time
}

// SyncInterval never returns less than a minute so a zero value cannot spin the scheduler.
func (a Account) SyncInterval() time.Duration {
	return max(time.Duration(a.SyncIntervalMinutes)*time.Minute, time.Minute)
}

type Credentials struct {
	Username string
	Secret   string
}

type Feed struct {
	ID                   int64
	AccountID            int64
	RemoteID             string
	Name                 string
	URL                  string
	GroupID              string
	ParseFullContent     bool
	OpenInBrowser        bool
	NotificationsEnabled bool
	RTL                  bool
	HighWaterMark        time.Time
	LastSyncedAt         time.Time
}

type FeedFlags struct {
	ParseFullContent     bool
	OpenInBrowser        bool
	NotificationsEnabled bool
	RTL                  bool
}

type FeedDescriptor struct {
	RemoteID string
	Name     string
	URL      string
	GroupID  string
}

type Article struct {
	ID               int64
	FeedID           int64
	RemoteID         string
	Title            string
	URL              string
	DescriptionShort string
	DescriptionRaw   string
	DescriptionFull  string
	ImageURL         string
	PublishedAt      time.Time
	IsRead           bool
	IsStarred        bool
	FetchedAt        time.Time
}

type RemoteArticle struct {
	RemoteID    string
	Title       string
	URL         string
	Description string
	Content     string
	ImageURL    string
	PublishedAt time.Time
	IsRead      bool
	IsStarred   bool
	// Undated marks a PublishedAt that was filled in because the source gave no date.
	Undated bool
}

type BlacklistEntry struct {
	ID        int64
	AccountID int64
	Pattern   string
	FeedID    *int64
}

type BlockedArticle struct {
	Article   Article
	EntryID   int64
	Pattern   string
	BlockedAt time.Time
}

type SyncLog struct {
	ID              int64
	AccountID       int64
	FeedID          *int64
	StartedAt       time.Time
	FinishedAt      time.Time
	NewArticles     int64
	BlockedArticles int64
	FailedFeeds     int64
	Error           string
}
