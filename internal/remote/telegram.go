package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"feedsync/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

const (
	minPartsForTelegramChannelSlugStartingWithS = 2
	minPartsForTelegramChannelAtSignSlug        = 3
	telegramPostTitleMaxRunes                   = 120

	telegramHost = "t.me"
)

var (
	telegramSlugRe       = regexp.MustCompile(`^\w{5,32}$`)
	telegramAtSignSlugRe = regexp.MustCompile(`(\s|^)@(\w{5,32})(\s|$)`)

	// Overridden in tests.
	telegramBaseURL = "https://" + telegramHost
)

func telegramChannelCanonicalURL(slug string) string {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return ""
	}

	return fmt.Sprintf("https://%s/s/%s", telegramHost, slug)
}

func telegramMessageCanonicalURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}

	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}

func isTelegramChannelURL(raw string) (bool, string) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host != telegramHost {
		return false, ""
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")

	slug := parts[0]
	if slug == "s" {
		if len(parts) < minPartsForTelegramChannelSlugStartingWithS {
			return false, ""
		}

		slug = parts[1]
	}

	slug = strings.TrimSpace(slug)
	if !telegramSlugRe.MatchString(slug) {
		return false, ""
	}

	return true, slug
}

func findTelegramMentions(text string) []string {
	var slugs []string

	for _, m := range telegramAtSignSlugRe.FindAllStringSubmatch(text, -1) {
		if len(m) < minPartsForTelegramChannelAtSignSlug {
			continue
		}

		slug := strings.TrimSpace(m[2])
		if telegramSlugRe.MatchString(slug) {
			slugs = append(slugs, slug)
		}
	}

	return slugs
}

// fetchTelegramChannel scrapes the public web preview of a channel. Each post becomes an article
// keyed by its message URL.
func (c *LocalClient) fetchTelegramChannel(
	ctx context.Context,
	slug string,
) ([]domain.RemoteArticle, string, error) {
	previewURL := telegramBaseURL + "/s/" + slug

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, previewURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := do(c.httpClient, req)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			c.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"operation", "fetchTelegramChannel",
				"slug", slug)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("create document from reader: %w", err)
	}

	now := c.now().UTC()

	var articles []domain.RemoteArticle
	var errs []error

	doc.Find("a.tgme_widget_message_date").Each(func(_ int, s *goquery.Selection) {
		article, processErr := telegramPostToArticle(s, now)
		if processErr != nil {
			errs = append(errs, fmt.Errorf("process channel post: %w", processErr))
			return
		}

		articles = append(articles, article)
	})

	title := strings.TrimSpace(doc.Find("meta[property='og:title']").AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").Text())
	}

	if len(errs) > 0 {
		c.log.WarnContext(ctx, "Skipped malformed channel posts",
			"error", errors.Join(errs...),
			"slug", slug)
	}

	return articles, title, nil
}

func telegramPostToArticle(s *goquery.Selection, now time.Time) (domain.RemoteArticle, error) {
	href, ok := s.Attr("href")
	if !ok || href == "" {
		return domain.RemoteArticle{}, errors.New("href empty")
	}

	href = telegramMessageCanonicalURL(href)

	var textBuilder strings.Builder
	message := s.ParentsFiltered(".tgme_widget_message").First()
	message.Find(".tgme_widget_message_text, .tgme_widget_message_caption").Each(
		func(_ int, inner *goquery.Selection) {
			inner.Find("br").Each(func(_ int, br *goquery.Selection) {
				br.ReplaceWithHtml("\n")
			})

			fragment := strings.TrimSpace(inner.Text())
			if fragment == "" {
				return
			}

			if textBuilder.Len() > 0 {
				textBuilder.WriteString("\n")
			}
			textBuilder.WriteString(fragment)
		},
	)
	text := strings.TrimSpace(textBuilder.String())

	published, undated := now, true
	if datetime := strings.TrimSpace(s.Find("time").AttrOr("datetime", "")); datetime != "" {
		parsed, err := time.Parse(time.RFC3339, datetime)
		if err != nil {
			return domain.RemoteArticle{}, fmt.Errorf("parse datetime: %w", err)
		}

		published, undated = parsed.UTC(), false
	}

	article := domain.RemoteArticle{
		RemoteID:    href,
		Title:       telegramPostTitle(text, href),
		URL:         href,
		Description: text,
		PublishedAt: published,
		Undated:     undated,
	}

	if style, ok := message.Find(".tgme_widget_message_photo_wrap").Attr("style"); ok {
		article.ImageURL = backgroundImageURL(style)
	}

	return article, nil
}

func telegramPostTitle(text string, fallback string) string {
	firstLine, _, _ := strings.Cut(text, "\n")
	firstLine = strings.TrimSpace(firstLine)
	if firstLine == "" {
		return fallback
	}

	if utf8.RuneCountInString(firstLine) <= telegramPostTitleMaxRunes {
		return firstLine
	}

	runes := []rune(firstLine)

	return strings.TrimSpace(string(runes[:telegramPostTitleMaxRunes])) + "…"
}

var backgroundImageRe = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)

func backgroundImageURL(style string) string {
	m := backgroundImageRe.FindStringSubmatch(style)
	if len(m) < 2 {
		return ""
	}

	return m[1]
}
