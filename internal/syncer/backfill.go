package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/events"
	"feedsync/internal/summarizer"

	"github.com/samber/lo"
)

var (
	ErrBackfillInProgress = errors.New("backfill already in progress")
	ErrNoExtractor        = errors.New("content extractor is not configured")
)

type BackfillResult struct {
	Candidates int
	Updated    int
	Failed     int
}

// Backfill fetches full content for articles of feeds flagged for it, in batches with a pause in
// between. A failing article is logged and counted; it never stops the pass.
func (c *Coordinator) Backfill(ctx context.Context, accountID int64) (BackfillResult, error) {
	if c.extractor == nil {
		return BackfillResult{}, ErrNoExtractor
	}

	unlock, ok := c.tryLock(c.backfillLocks, accountID)
	if !ok {
		return BackfillResult{}, ErrBackfillInProgress
	}
	defer unlock()

	articles, err := c.db.ArticlesMissingFullContent(ctx, accountID, c.opts.BackfillLimit)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	result := BackfillResult{Candidates: len(articles)}

	c.log.InfoContext(ctx, "Backfill started",
		"accountID", accountID,
		"candidates", len(articles))

	for i, batch := range lo.Chunk(articles, c.opts.BackfillBatchSize) {
		if i > 0 && c.opts.BackfillPause > 0 {
			select {
			case <-time.After(c.opts.BackfillPause):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		if err = ctx.Err(); err != nil {
			return result, err
		}

		updated, failed := c.backfillBatch(ctx, batch)
		result.Updated += updated
		result.Failed += failed

		if updated > 0 {
			c.bus.Publish(events.Event{Kind: events.KindArticlesChanged, AccountID: accountID})
		}
	}

	c.log.InfoContext(ctx, "Backfill finished",
		"accountID", accountID,
		"updated", result.Updated,
		"failed", result.Failed)

	return result, nil
}

func (c *Coordinator) backfillBatch(ctx context.Context, batch []domain.Article) (int, int) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updated int
		failed  int
	)

	for _, article := range batch {
		wg.Add(1)

		go func(article domain.Article) {
			defer wg.Done()

			err := c.backfillArticle(ctx, article)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failed++
				backfillArticles.WithLabelValues("failed").Inc()

				c.log.WarnContext(ctx, "Failed to backfill article",
					"error", err,
					"articleID", article.ID,
					"url", article.URL)

				return
			}

			updated++
			backfillArticles.WithLabelValues("updated").Inc()
		}(article)
	}

	wg.Wait()

	return updated, failed
}

func (c *Coordinator) backfillArticle(ctx context.Context, article domain.Article) error {
	extracted, err := c.extractor.Extract(ctx, article.URL)
	if err != nil {
		return fmt.Errorf("extract content: %w", err)
	}

	short := c.describe(ctx, article, extracted.Text)

	if err = c.db.UpdateArticleContent(ctx, article.ID, extracted.Content, extracted.ImageURL, short); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	return nil
}

// describe returns the new short description, or "" to keep the stored one.
func (c *Coordinator) describe(ctx context.Context, article domain.Article, text string) string {
	if c.summarizer != nil && text != "" {
		summary, err := c.summarizer.Summarize(ctx, summarizer.Input{
			Title:     article.Title,
			Text:      text,
			SourceURL: article.URL,
		})
		if err == nil {
			return summary
		}

		c.log.WarnContext(ctx, "Failed to summarize article, falling back to excerpt",
			"error", err,
			"articleID", article.ID)
	}

	if article.DescriptionShort != "" {
		return ""
	}

	return summarizer.Excerpt(text, shortDescriptionMaxRunes)
}

// Task is a back-fill running in the background.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	result BackfillResult
	err    error
}

// StartBackfill runs Backfill detached from ctx cancellation; stop it with Task.Cancel.
func (c *Coordinator) StartBackfill(ctx context.Context, accountID int64) *Task {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	task := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(task.done)
		defer cancel()

		task.result, task.err = c.Backfill(taskCtx, accountID)
		if task.err != nil && !errors.Is(task.err, context.Canceled) {
			c.log.WarnContext(taskCtx, "Background backfill failed",
				"error", task.err,
				"accountID", accountID)
		}
	}()

	return task
}

func (t *Task) Cancel() {
	if t == nil {
		return
	}

	t.cancel()
}

// Wait blocks until the task has stopped and returns its outcome.
func (t *Task) Wait() (BackfillResult, error) {
	if t == nil {
		return BackfillResult{}, nil
	}

	<-t.done

	return t.result, t.err
}
