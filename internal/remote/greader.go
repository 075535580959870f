package remote

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"feedsync/internal/domain"

	"github.com/tidwall/gjson"
)

const (
	greaderReadTag    = "user/-/state/com.google/read"
	greaderStarredTag = "user/-/state/com.google/starred"
	greaderLabelPart  = "/label/"
)

// GReaderClient speaks the Google Reader API dialect served by FreshRSS.
type GReaderClient struct {
	serverURL  string
	creds      domain.Credentials
	httpClient *http.Client
	log        *slog.Logger

	mu        sync.Mutex
	authToken string
}

func NewGReaderClient(
	serverURL string,
	creds domain.Credentials,
	httpClient *http.Client,
	log *slog.Logger,
) *GReaderClient {
	return &GReaderClient{
		serverURL:  serverURL,
		creds:      creds,
		httpClient: httpClient,
		log:        log,
		authToken:  creds.Secret,
	}
}

// Authenticate exchanges the password for a ClientLogin auth token. The token is the secret
// stored for the account.
func (c *GReaderClient) Authenticate(
	ctx context.Context,
	serverURL string,
	user string,
	pass string,
) (domain.Credentials, error) {
	if strings.TrimSpace(serverURL) == "" {
		return domain.Credentials{}, errEmptyServerURL
	}

	form := url.Values{}
	form.Set("Email", user)
	form.Set("Passwd", pass)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		joinURL(serverURL, "accounts/ClientLogin"), strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := do(c.httpClient, req)
	if err != nil {
		return domain.Credentials{}, err
	}

	body, err := readBody(ctx, resp, c.log, "ClientLogin")
	if err != nil {
		return domain.Credentials{}, err
	}

	token := parseClientLogin(body)
	if token == "" {
		return domain.Credentials{}, fmt.Errorf("%w: auth token missing in ClientLogin response", domain.ErrAuth)
	}

	c.mu.Lock()
	c.serverURL = serverURL
	c.authToken = token
	c.mu.Unlock()

	return domain.Credentials{Username: user, Secret: token}, nil
}

func parseClientLogin(body []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if ok && key == "Auth" {
			return strings.TrimSpace(value)
		}
	}

	return ""
}

func (c *GReaderClient) FetchFeeds(ctx context.Context) ([]domain.FeedDescriptor, error) {
	body, err := c.get(ctx, "reader/api/0/subscription/list", url.Values{"output": {"json"}}, "FetchFeeds")
	if err != nil {
		return nil, err
	}

	subscriptions := gjson.GetBytes(body, "subscriptions")
	if !subscriptions.IsArray() {
		return nil, fmt.Errorf("%w: subscriptions missing in response", domain.ErrNetwork)
	}

	var feeds []domain.FeedDescriptor
	subscriptions.ForEach(func(_, s gjson.Result) bool {
		feed := domain.FeedDescriptor{
			RemoteID: s.Get("id").String(),
			Name:     strings.TrimSpace(s.Get("title").String()),
			URL:      strings.TrimSpace(s.Get("url").String()),
		}

		if feed.URL == "" {
			feed.URL = strings.TrimSpace(s.Get("htmlUrl").String())
		}

		for _, category := range s.Get("categories").Array() {
			if label := category.Get("label").String(); label != "" {
				feed.GroupID = label
				break
			}

			id := category.Get("id").String()
			if _, label, ok := strings.Cut(id, greaderLabelPart); ok {
				feed.GroupID = label
				break
			}
		}

		if feed.RemoteID == "" || feed.URL == "" {
			c.log.WarnContext(ctx, "Skipping subscription without ID or URL",
				"remoteID", feed.RemoteID,
				"url", feed.URL)

			return true
		}

		feeds = append(feeds, feed)

		return true
	})

	return feeds, nil
}

func (c *GReaderClient) FetchArticles(
	ctx context.Context,
	feedRemoteID string,
	since time.Time,
	limit int,
) ([]domain.RemoteArticle, error) {
	query := url.Values{}
	query.Set("output", "json")
	query.Set("n", strconv.Itoa(limit))
	// Oldest first.
	query.Set("r", "o")
	if !since.IsZero() {
		query.Set("ot", strconv.FormatInt(since.Unix(), 10))
	}

	body, err := c.get(ctx, "reader/api/0/stream/contents/"+feedRemoteID, query, "FetchArticles")
	if err != nil {
		return nil, err
	}

	items := gjson.GetBytes(body, "items")
	if !items.Exists() {
		return nil, nil
	}

	var articles []domain.RemoteArticle
	items.ForEach(func(_, item gjson.Result) bool {
		article := parseGReaderItem(item)
		if article.RemoteID == "" {
			return true
		}

		if !since.IsZero() && !article.PublishedAt.After(since) {
			return true
		}

		articles = append(articles, article)

		return true
	})

	return articles, nil
}

func parseGReaderItem(item gjson.Result) domain.RemoteArticle {
	article := domain.RemoteArticle{
		RemoteID:    item.Get("id").String(),
		Title:       strings.TrimSpace(item.Get("title").String()),
		Description: item.Get("summary.content").String(),
		Content:     item.Get("content.content").String(),
	}

	if published := item.Get("published").Int(); published > 0 {
		article.PublishedAt = time.Unix(published, 0).UTC()
	} else if crawled := item.Get("crawlTimeMsec").Int(); crawled > 0 {
		article.PublishedAt = time.UnixMilli(crawled).UTC()
	}

	for _, path := range []string{"canonical.0.href", "alternate.0.href"} {
		if href := item.Get(path).String(); href != "" {
			article.URL = href
			break
		}
	}

	for _, enclosure := range item.Get("enclosure").Array() {
		if strings.HasPrefix(enclosure.Get("type").String(), "image/") {
			article.ImageURL = enclosure.Get("href").String()
			break
		}
	}

	for _, category := range item.Get("categories").Array() {
		switch category.String() {
		case greaderReadTag:
			article.IsRead = true
		case greaderStarredTag:
			article.IsStarred = true
		}
	}

	return article
}

func (c *GReaderClient) PushReadState(ctx context.Context, remoteIDs []string, isRead bool) error {
	return c.editTag(ctx, remoteIDs, greaderReadTag, isRead)
}

func (c *GReaderClient) PushStarState(ctx context.Context, remoteIDs []string, isStarred bool) error {
	return c.editTag(ctx, remoteIDs, greaderStarredTag, isStarred)
}

func (c *GReaderClient) editTag(ctx context.Context, remoteIDs []string, tag string, add bool) error {
	if len(remoteIDs) == 0 {
		return nil
	}

	token, err := c.writeToken(ctx)
	if err != nil {
		return fmt.Errorf("fetch write token: %w", err)
	}

	form := url.Values{}
	form.Set("T", token)
	for _, id := range remoteIDs {
		form.Add("i", id)
	}

	if add {
		form.Set("a", tag)
	} else {
		form.Set("r", tag)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "reader/api/0/edit-tag", nil, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := do(c.httpClient, req)
	if err != nil {
		return err
	}

	if _, err = readBody(ctx, resp, c.log, "editTag"); err != nil {
		return err
	}

	return nil
}

func (c *GReaderClient) writeToken(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "reader/api/0/token", nil, "writeToken")
	if err != nil {
		return "", err
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", errors.New("empty write token")
	}

	return token, nil
}

func (c *GReaderClient) get(ctx context.Context, path string, query url.Values, operation string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}

	resp, err := do(c.httpClient, req)
	if err != nil {
		return nil, err
	}

	return readBody(ctx, resp, c.log, operation)
}

func (c *GReaderClient) newRequest(
	ctx context.Context,
	method string,
	path string,
	query url.Values,
	body *strings.Reader,
) (*http.Request, error) {
	c.mu.Lock()
	serverURL, token := c.serverURL, c.authToken
	c.mu.Unlock()

	if strings.TrimSpace(serverURL) == "" {
		return nil, errEmptyServerURL
	}

	target := joinURL(serverURL, path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var (
		req *http.Request
		err error
	)
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, target, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "GoogleLogin auth="+token)

	return req, nil
}
