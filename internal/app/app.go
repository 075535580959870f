// Package app holds the application context: every long-lived component and the current account.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/content"
	"feedsync/internal/database"
	"feedsync/internal/domain"
	"feedsync/internal/events"
	"feedsync/internal/ratelimiter"
	"feedsync/internal/remote"
	"feedsync/internal/scheduler"
	"feedsync/internal/summarizer"
	"feedsync/internal/syncer"
)

const (
	summaryCacheSize = 512
	summaryCacheTTL  = 24 * time.Hour
)

type App struct {
	DB          *database.Database
	Bus         *events.Bus
	Coordinator *syncer.Coordinator
	Scheduler   *scheduler.Scheduler

	httpClient *http.Client
	limiter    *ratelimiter.RateLimiter
	log        *slog.Logger

	mu        sync.RWMutex
	current   *domain.Account
	scheduled bool
	closeOnce sync.Once
}

// New opens the store and wires the sync core. conditions may be nil when the device state
// cannot be read.
func New(
	ctx context.Context,
	cfg config.Config,
	conditions scheduler.Conditions,
	log *slog.Logger,
) (*App, error) {
	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("initialize db: %w", err)
	}

	httpClient := remote.NewHTTPClient(cfg.HTTPTimeout, cfg.UserAgent)
	limiter := ratelimiter.New(httpClient, cfg.HostRequestInterval, log)
	bus := events.NewBus()

	coordinator := syncer.New(
		db,
		syncer.RemoteClientFactory(httpClient, log),
		content.NewExtractor(limiter, log),
		initSummarizer(ctx, cfg, log),
		bus,
		syncer.Options{
			FetchLimit:        cfg.FetchLimit,
			SyncTimeout:       cfg.SyncTimeout,
			BackfillBatchSize: cfg.BackfillBatchSize,
			BackfillPause:     cfg.BackfillPause,
		},
		log,
	)

	a := &App{
		DB:          db,
		Bus:         bus,
		Coordinator: coordinator,
		Scheduler:   scheduler.New(ctx, coordinator, conditions, log),
		httpClient:  httpClient,
		limiter:     limiter,
		log:         log,
	}

	if err = a.loadCurrentAccount(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}

	return a, nil
}

func initSummarizer(ctx context.Context, cfg config.Config, log *slog.Logger) summarizer.Summarizer {
	apiKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	if apiKey == "" {
		log.InfoContext(ctx, "OPENAI_API_KEY is missing so excerpts will be used",
			"envVar", "OPENAI_API_KEY")

		return nil
	}

	s, err := summarizer.NewOpenAISummarizer(summarizer.OpenAIConfig{
		APIKey: apiKey,
		Model:  cfg.OpenAIModel,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to create OpenAI summarizer so excerpts will be used",
			"error", err)

		return nil
	}

	log.InfoContext(ctx, "OpenAI summarizer is initialized",
		"provider", "openai",
		"model", cmp.Or(cfg.OpenAIModel, summarizer.DefaultOpenAIModel),
		"cacheSize", summaryCacheSize)

	return summarizer.NewCached(s, summaryCacheSize, summaryCacheTTL)
}

func (a *App) loadCurrentAccount(ctx context.Context) error {
	id, err := a.DB.CurrentAccountID(ctx)
	if errors.Is(err, domain.ErrNoAccount) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load current account ID: %w", err)
	}

	account, err := a.DB.GetAccount(ctx, id)
	if errors.Is(err, domain.ErrNoAccount) {
		a.log.WarnContext(ctx, "Stored current account no longer exists",
			"accountID", id)

		return nil
	}
	if err != nil {
		return fmt.Errorf("load current account: %w", err)
	}

	a.current = &account

	return nil
}

// StartScheduling runs the sync timer for the current account and for every account switched to
// afterwards.
func (a *App) StartScheduling(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Scheduler.Start()
	a.scheduled = true

	if a.current == nil {
		a.log.InfoContext(ctx, "No current account, sync timer is idle")
		return
	}

	a.Scheduler.Activate(*a.current)
}

// CurrentAccount returns domain.ErrNoAccount until an account is selected.
func (a *App) CurrentAccount() (domain.Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.current == nil {
		return domain.Account{}, domain.ErrNoAccount
	}

	return *a.current, nil
}

// SwitchAccount persists the selection and moves the sync timer and background back-fill to the
// new account.
func (a *App) SwitchAccount(ctx context.Context, accountID int64) (domain.Account, error) {
	account, err := a.DB.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}

	if err = a.DB.SetCurrentAccountID(ctx, accountID); err != nil {
		return domain.Account{}, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	a.mu.Lock()
	a.current = &account
	if a.scheduled {
		a.Scheduler.Activate(account)
	}
	a.mu.Unlock()

	a.log.InfoContext(ctx, "Current account is switched",
		"accountID", account.ID,
		"kind", account.Kind)

	a.Bus.Publish(events.Event{Kind: events.KindCurrentAccountChanged, AccountID: account.ID})

	return account, nil
}

// AddAccount validates the login against the server, stores the account and selects it when no
// account is current yet. Local accounts skip the login.
func (a *App) AddAccount(ctx context.Context, account domain.Account, password string) (domain.Account, error) {
	creds, err := remote.Authenticate(ctx,
		account.Kind,
		account.ServerURL,
		account.Username,
		password,
		a.httpClient,
		a.log,
	)
	if err != nil {
		return domain.Account{}, fmt.Errorf("authenticate: %w", err)
	}

	account.Username = creds.Username
	account.Secret = creds.Secret

	id, err := a.DB.CreateAccount(ctx, account)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	a.log.InfoContext(ctx, "Account is added",
		"accountID", id,
		"kind", account.Kind)

	if _, err = a.CurrentAccount(); errors.Is(err, domain.ErrNoAccount) {
		return a.SwitchAccount(ctx, id)
	}

	return a.DB.GetAccount(ctx, id)
}

// RemoveAccount deletes the account with everything it owns. Removing the current account stops
// its timer and leaves no account selected.
func (a *App) RemoveAccount(ctx context.Context, accountID int64) error {
	if _, err := a.DB.GetAccount(ctx, accountID); err != nil {
		return err
	}

	a.mu.Lock()
	wasCurrent := a.current != nil && a.current.ID == accountID
	if wasCurrent {
		a.Scheduler.Deactivate()
		a.current = nil
	}
	a.mu.Unlock()

	if err := a.DB.DeleteAccount(ctx, accountID); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	a.log.InfoContext(ctx, "Account is removed",
		"accountID", accountID,
		"wasCurrent", wasCurrent)

	if wasCurrent {
		a.Bus.Publish(events.Event{Kind: events.KindCurrentAccountChanged})
	}

	return nil
}

// Close stops the timer, waits for detached work and closes the store, in that order.
func (a *App) Close() error {
	var err error

	a.closeOnce.Do(func() {
		a.mu.RLock()
		scheduled := a.scheduled
		a.mu.RUnlock()

		if scheduled {
			a.Scheduler.Stop()
		} else {
			a.Scheduler.Deactivate()
		}

		a.Coordinator.Wait()
		a.limiter.Stop()

		if closeErr := a.DB.Close(); closeErr != nil {
			err = fmt.Errorf("close db: %w", closeErr)
		}
	})

	return err
}
