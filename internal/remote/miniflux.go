package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"feedsync/internal/domain"

	"github.com/samber/lo"
)

const (
	minifluxStatusRead   = "read"
	minifluxStatusUnread = "unread"
)

// MinifluxClient uses the Miniflux v1 REST API. An empty username selects API token auth, where
// the secret is sent as X-Auth-Token.
type MinifluxClient struct {
	httpClient *http.Client
	log        *slog.Logger

	mu        sync.Mutex
	serverURL string
	creds     domain.Credentials
}

func NewMinifluxClient(
	serverURL string,
	creds domain.Credentials,
	httpClient *http.Client,
	log *slog.Logger,
) *MinifluxClient {
	return &MinifluxClient{
		httpClient: httpClient,
		log:        log,
		serverURL:  serverURL,
		creds:      creds,
	}
}

type minifluxCategory struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type minifluxFeed struct {
	ID       int64             `json:"id"`
	Title    string            `json:"title"`
	FeedURL  string            `json:"feed_url"`
	SiteURL  string            `json:"site_url"`
	Category *minifluxCategory `json:"category"`
}

type minifluxEnclosure struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

type minifluxEntry struct {
	ID          int64               `json:"id"`
	Title       string              `json:"title"`
	URL         string              `json:"url"`
	Content     string              `json:"content"`
	PublishedAt time.Time           `json:"published_at"`
	Status      string              `json:"status"`
	Starred     bool                `json:"starred"`
	Enclosures  []minifluxEnclosure `json:"enclosures"`
}

type minifluxEntries struct {
	Total   int             `json:"total"`
	Entries []minifluxEntry `json:"entries"`
}

type minifluxStatusUpdate struct {
	EntryIDs []int64 `json:"entry_ids"`
	Status   string  `json:"status"`
}

func (c *MinifluxClient) Authenticate(
	ctx context.Context,
	serverURL string,
	user string,
	pass string,
) (domain.Credentials, error) {
	if strings.TrimSpace(serverURL) == "" {
		return domain.Credentials{}, errEmptyServerURL
	}

	c.mu.Lock()
	c.serverURL = serverURL
	c.creds = domain.Credentials{Username: user, Secret: pass}
	c.mu.Unlock()

	if err := c.doJSON(ctx, http.MethodGet, "v1/me", nil, nil, nil, "Authenticate"); err != nil {
		return domain.Credentials{}, err
	}

	return domain.Credentials{Username: user, Secret: pass}, nil
}

func (c *MinifluxClient) FetchFeeds(ctx context.Context) ([]domain.FeedDescriptor, error) {
	var feeds []minifluxFeed
	if err := c.doJSON(ctx, http.MethodGet, "v1/feeds", nil, nil, &feeds, "FetchFeeds"); err != nil {
		return nil, err
	}

	descriptors := make([]domain.FeedDescriptor, 0, len(feeds))
	for _, f := range feeds {
		descriptor := domain.FeedDescriptor{
			RemoteID: strconv.FormatInt(f.ID, 10),
			Name:     strings.TrimSpace(f.Title),
			URL:      lo.Ternary(f.FeedURL != "", f.FeedURL, f.SiteURL),
		}

		if f.Category != nil {
			descriptor.GroupID = f.Category.Title
		}

		descriptors = append(descriptors, descriptor)
	}

	return descriptors, nil
}

func (c *MinifluxClient) FetchArticles(
	ctx context.Context,
	feedRemoteID string,
	since time.Time,
	limit int,
) ([]domain.RemoteArticle, error) {
	query := url.Values{}
	query.Set("order", "published_at")
	query.Set("direction", "asc")
	query.Set("limit", strconv.Itoa(limit))
	if !since.IsZero() {
		query.Set("after", strconv.FormatInt(since.Unix(), 10))
	}

	var result minifluxEntries
	path := "v1/feeds/" + url.PathEscape(feedRemoteID) + "/entries"
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &result, "FetchArticles"); err != nil {
		return nil, err
	}

	articles := make([]domain.RemoteArticle, 0, len(result.Entries))
	for _, e := range result.Entries {
		if !since.IsZero() && !e.PublishedAt.After(since) {
			continue
		}

		article := domain.RemoteArticle{
			RemoteID:    strconv.FormatInt(e.ID, 10),
			Title:       strings.TrimSpace(e.Title),
			URL:         e.URL,
			Description: e.Content,
			PublishedAt: e.PublishedAt.UTC(),
			IsRead:      e.Status == minifluxStatusRead,
			IsStarred:   e.Starred,
		}

		if enclosure, ok := lo.Find(e.Enclosures, func(enc minifluxEnclosure) bool {
			return strings.HasPrefix(enc.MimeType, "image/")
		}); ok {
			article.ImageURL = enclosure.URL
		}

		articles = append(articles, article)
	}

	return articles, nil
}

func (c *MinifluxClient) PushReadState(ctx context.Context, remoteIDs []string, isRead bool) error {
	ids, err := parseEntryIDs(remoteIDs)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	update := minifluxStatusUpdate{
		EntryIDs: ids,
		Status:   lo.Ternary(isRead, minifluxStatusRead, minifluxStatusUnread),
	}

	return c.doJSON(ctx, http.MethodPut, "v1/entries", nil, update, nil, "PushReadState")
}

// PushStarState toggles the bookmark only for entries whose remote state differs, since the
// Miniflux endpoint is a toggle.
func (c *MinifluxClient) PushStarState(ctx context.Context, remoteIDs []string, isStarred bool) error {
	ids, err := parseEntryIDs(remoteIDs)
	if err != nil {
		return err
	}

	for _, id := range ids {
		path := "v1/entries/" + strconv.FormatInt(id, 10)

		var entry minifluxEntry
		if err = c.doJSON(ctx, http.MethodGet, path, nil, nil, &entry, "PushStarState"); err != nil {
			return err
		}

		if entry.Starred == isStarred {
			continue
		}

		if err = c.doJSON(ctx, http.MethodPut, path+"/bookmark", nil, nil, nil, "PushStarState"); err != nil {
			return err
		}
	}

	return nil
}

func parseEntryIDs(remoteIDs []string) ([]int64, error) {
	ids := make([]int64, 0, len(remoteIDs))
	for _, remoteID := range remoteIDs {
		id, err := strconv.ParseInt(strings.TrimSpace(remoteID), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse entry ID %q: %w", remoteID, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func (c *MinifluxClient) doJSON(
	ctx context.Context,
	method string,
	path string,
	query url.Values,
	in any,
	out any,
	operation string,
) error {
	c.mu.Lock()
	serverURL, creds := c.serverURL, c.creds
	c.mu.Unlock()

	if strings.TrimSpace(serverURL) == "" {
		return errEmptyServerURL
	}

	target := joinURL(serverURL, path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}

		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if creds.Username == "" {
		req.Header.Set("X-Auth-Token", creds.Secret)
	} else {
		req.SetBasicAuth(creds.Username, creds.Secret)
	}

	resp, err := do(c.httpClient, req)
	if err != nil {
		return err
	}

	raw, err := readBody(ctx, resp, c.log, operation)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err = json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", domain.ErrNetwork, operation, err)
	}

	return nil
}
