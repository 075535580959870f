package remote

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"feedsync/internal/domain"

	"github.com/mmcdole/gofeed"
	"mvdan.cc/xurls/v2"
)

// LocalClient reads feeds straight from their publishers. There is no server, so there is nothing
// to authenticate against and no remote state to push.
type LocalClient struct {
	httpClient *http.Client
	parser     *gofeed.Parser
	log        *slog.Logger
	now        func() time.Time
}

func NewLocalClient(httpClient *http.Client, log *slog.Logger) *LocalClient {
	parser := gofeed.NewParser()
	parser.Client = httpClient

	return &LocalClient{
		httpClient: httpClient,
		parser:     parser,
		log:        log,
		now:        time.Now,
	}
}

func (c *LocalClient) Authenticate(
	_ context.Context,
	_ string,
	user string,
	_ string,
) (domain.Credentials, error) {
	return domain.Credentials{Username: user}, nil
}

// FetchFeeds returns nothing: local subscriptions live only in the store.
func (c *LocalClient) FetchFeeds(context.Context) ([]domain.FeedDescriptor, error) {
	return nil, nil
}

// FetchArticles treats feedRemoteID as the feed URL.
func (c *LocalClient) FetchArticles(
	ctx context.Context,
	feedRemoteID string,
	since time.Time,
	limit int,
) ([]domain.RemoteArticle, error) {
	feedURL := strings.TrimSpace(feedRemoteID)

	var (
		articles []domain.RemoteArticle
		err      error
	)

	if ok, slug := isTelegramChannelURL(feedURL); ok {
		articles, _, err = c.fetchTelegramChannel(ctx, slug)
	} else {
		articles, err = c.fetchFeed(ctx, feedURL)
	}
	if err != nil {
		return nil, err
	}

	articles = slices.DeleteFunc(articles, func(a domain.RemoteArticle) bool {
		return a.RemoteID == "" || (!since.IsZero() && !a.PublishedAt.After(since))
	})

	slices.SortStableFunc(articles, func(a, b domain.RemoteArticle) int {
		return a.PublishedAt.Compare(b.PublishedAt)
	})

	if limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}

	return articles, nil
}

func (c *LocalClient) fetchFeed(ctx context.Context, feedURL string) ([]domain.RemoteArticle, error) {
	parsed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed (URL = %s): %w", domain.ErrNetwork, feedURL, err)
	}

	fallback := c.now().UTC()
	if parsed.UpdatedParsed != nil {
		fallback = *parsed.UpdatedParsed
	} else if parsed.PublishedParsed != nil {
		fallback = *parsed.PublishedParsed
	}

	articles := make([]domain.RemoteArticle, 0, len(parsed.Items))

	for _, item := range parsed.Items {
		if item == nil {
			continue
		}

		articles = append(articles, feedItemToArticle(item, fallback))
	}

	return articles, nil
}

// feedItemToArticle dates undated items with fallback, normally the feed's own update time.
func feedItemToArticle(item *gofeed.Item, fallback time.Time) domain.RemoteArticle {
	published, undated := fallback, false
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	default:
		undated = true
	}

	article := domain.RemoteArticle{
		RemoteID:    cmp.Or(strings.TrimSpace(item.GUID), strings.TrimSpace(item.Link)),
		Title:       strings.TrimSpace(item.Title),
		URL:         strings.TrimSpace(item.Link),
		Description: item.Description,
		Content:     item.Content,
		PublishedAt: published.UTC(),
		Undated:     undated,
	}

	if item.Image != nil {
		article.ImageURL = strings.TrimSpace(item.Image.URL)
	}

	if article.ImageURL == "" {
		for _, enclosure := range item.Enclosures {
			if enclosure != nil && strings.HasPrefix(enclosure.Type, "image/") {
				article.ImageURL = enclosure.URL
				break
			}
		}
	}

	return article
}

func (c *LocalClient) PushReadState(context.Context, []string, bool) error {
	return nil
}

func (c *LocalClient) PushStarState(context.Context, []string, bool) error {
	return nil
}

// DiscoverFeeds pulls https URLs and @channel mentions out of free text and keeps the ones that
// resolve to a readable feed. Invalid candidates are reported in the joined error alongside the
// valid feeds.
func (c *LocalClient) DiscoverFeeds(ctx context.Context, text string) ([]domain.FeedDescriptor, error) {
	text = strings.TrimSpace(text)

	httpsURLRe, err := xurls.StrictMatchingScheme("https://")
	if err != nil {
		return nil, fmt.Errorf("create regexp: %w", err)
	}

	candidates := httpsURLRe.FindAllString(text, -1)
	for _, slug := range findTelegramMentions(text) {
		candidates = append(candidates, telegramChannelCanonicalURL(slug))
	}

	feeds := make([]domain.FeedDescriptor, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	var errs []error

	for _, candidate := range candidates {
		feed, validateErr := c.validateFeed(ctx, strings.TrimSpace(candidate))
		if validateErr != nil {
			errs = append(errs, fmt.Errorf("validate feed: %w", validateErr))
			continue
		}

		if _, ok := seen[feed.URL]; ok {
			continue
		}

		feeds = append(feeds, feed)
		seen[feed.URL] = struct{}{}
	}

	return feeds, errors.Join(errs...)
}

func (c *LocalClient) validateFeed(ctx context.Context, feedURL string) (domain.FeedDescriptor, error) {
	if feedURL == "" {
		return domain.FeedDescriptor{}, errors.New("feed URL is empty")
	}

	if _, err := url.Parse(feedURL); err != nil {
		return domain.FeedDescriptor{}, fmt.Errorf("parse URL: %w", err)
	}

	if ok, slug := isTelegramChannelURL(feedURL); ok {
		_, title, err := c.fetchTelegramChannel(ctx, slug)
		if err != nil {
			return domain.FeedDescriptor{}, fmt.Errorf("fetch Telegram channel: %w", err)
		}

		canonicalURL := telegramChannelCanonicalURL(slug)

		return domain.FeedDescriptor{
			RemoteID: canonicalURL,
			Name:     c.fallbackTitle(ctx, title, canonicalURL),
			URL:      canonicalURL,
		}, nil
	}

	parsed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return domain.FeedDescriptor{}, fmt.Errorf("%w: parse feed (URL = %s): %w", domain.ErrNetwork, feedURL, err)
	}

	return domain.FeedDescriptor{
		RemoteID: feedURL,
		Name:     c.fallbackTitle(ctx, parsed.Title, feedURL),
		URL:      feedURL,
	}, nil
}

func (c *LocalClient) fallbackTitle(ctx context.Context, title string, feedURL string) string {
	title = strings.TrimSpace(title)
	if title != "" {
		return title
	}

	c.log.WarnContext(ctx, "Empty feed title",
		"feedURL", feedURL,
		"fallbackTitle", feedURL)

	return feedURL
}
