// Package content downloads article pages and pulls out the readable body.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"feedsync/internal/domain"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const maxPageBytes = 5 << 20

// Doer is satisfied by *http.Client and by the per-host rate limiter.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Extracted struct {
	Title    string
	Content  string
	Text     string
	Excerpt  string
	ImageURL string
}

type Extractor struct {
	doer Doer
	log  *slog.Logger
}

func NewExtractor(doer Doer, log *slog.Logger) *Extractor {
	return &Extractor{doer: doer, log: log}
}

func (e *Extractor) Extract(ctx context.Context, pageURL string) (Extracted, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return Extracted{}, fmt.Errorf("parse URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return Extracted{}, fmt.Errorf("unsupported URL scheme %q", parsedURL.Scheme)
	}

	body, err := e.download(ctx, parsedURL)
	if err != nil {
		return Extracted{}, err
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return Extracted{}, fmt.Errorf("extract readable content: %w", err)
	}

	content := strings.TrimSpace(article.Content)
	if content == "" {
		return Extracted{}, errors.New("no readable content")
	}

	extracted := Extracted{
		Title:   strings.TrimSpace(article.Title),
		Content: content,
		Text:    strings.TrimSpace(article.TextContent),
		Excerpt: strings.TrimSpace(article.Excerpt),
	}

	extracted.ImageURL = e.leadImage(ctx, body, content, article.Image, parsedURL)

	return extracted, nil
}

func (e *Extractor) download(ctx context.Context, pageURL *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := e.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %w", domain.ErrNetwork, err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			e.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"operation", "download",
				"url", pageURL.String())
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status: %d", domain.ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrNetwork, err)
	}

	return body, nil
}

// leadImage prefers the page's og:image, then the image readability picked, then the first image
// of the extracted content.
func (e *Extractor) leadImage(
	ctx context.Context,
	page []byte,
	content string,
	readabilityImage string,
	pageURL *url.URL,
) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		e.log.WarnContext(ctx, "Failed to parse page for lead image",
			"error", err,
			"url", pageURL.String())
	} else if og, ok := doc.Find("meta[property='og:image']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		return resolve(pageURL, og)
	}

	if strings.TrimSpace(readabilityImage) != "" {
		return resolve(pageURL, readabilityImage)
	}

	contentDoc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}

	if src, ok := contentDoc.Find("img[src]").First().Attr("src"); ok {
		return resolve(pageURL, src)
	}

	return ""
}

func resolve(base *url.URL, ref string) string {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}

	return base.ResolveReference(parsed).String()
}
