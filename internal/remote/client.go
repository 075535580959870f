// Package remote talks to the feed aggregator behind an account.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"feedsync/internal/domain"
)

const maxErrorBodyBytes = 512

// Client is the contract the sync coordinator needs from a remote aggregator. Clients are bound
// to one account and its credentials.
type Client interface {
	Authenticate(ctx context.Context, serverURL string, user string, pass string) (domain.Credentials, error)
	FetchFeeds(ctx context.Context) ([]domain.FeedDescriptor, error)
	// FetchArticles returns the oldest limit articles published after since, oldest first, so the
	// caller can advance its high-water mark without skipping over a truncated page.
	FetchArticles(ctx context.Context, feedRemoteID string, since time.Time, limit int) ([]domain.RemoteArticle, error)
	PushReadState(ctx context.Context, remoteIDs []string, isRead bool) error
	PushStarState(ctx context.Context, remoteIDs []string, isStarred bool) error
}

func New(account domain.Account, httpClient *http.Client, log *slog.Logger) (Client, error) {
	creds := domain.Credentials{Username: account.Username, Secret: account.Secret}

	switch account.Kind {
	case domain.AccountKindFreshRSS:
		return NewGReaderClient(account.ServerURL, creds, httpClient, log), nil
	case domain.AccountKindMiniflux:
		return NewMinifluxClient(account.ServerURL, creds, httpClient, log), nil
	case domain.AccountKindLocal:
		return NewLocalClient(httpClient, log), nil
	default:
		return nil, fmt.Errorf("unsupported account kind %q", account.Kind)
	}
}

// Authenticate validates the login for a new account before it is stored.
func Authenticate(
	ctx context.Context,
	kind domain.AccountKind,
	serverURL string,
	user string,
	pass string,
	httpClient *http.Client,
	log *slog.Logger,
) (domain.Credentials, error) {
	client, err := New(domain.Account{Kind: kind, ServerURL: serverURL}, httpClient, log)
	if err != nil {
		return domain.Credentials{}, err
	}

	return client.Authenticate(ctx, serverURL, user, pass)
}

func do(client *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	_ = resp.Body.Close()

	statusErr := fmt.Errorf("unexpected status %d (%s %s): %s",
		resp.StatusCode, req.Method, req.URL.Path, strings.TrimSpace(string(body)))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuth, statusErr)
	}

	return nil, fmt.Errorf("%w: %w", domain.ErrNetwork, statusErr)
}

func readBody(ctx context.Context, resp *http.Response, log *slog.Logger, operation string) ([]byte, error) {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"operation", operation)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrNetwork, err)
	}

	return body, nil
}

func joinURL(base string, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/" + strings.TrimLeft(path, "/")
}

var errEmptyServerURL = errors.New("server URL is empty")

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	return t.base.RoundTrip(req)
}

// NewHTTPClient returns the client shared by remote clients and the content extractor.
func NewHTTPClient(timeout time.Duration, userAgent string) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &userAgentTransport{
			base:      http.DefaultTransport,
			userAgent: userAgent,
		},
	}
}
