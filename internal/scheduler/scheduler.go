// Package scheduler runs the periodic sync of the current account.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/syncer"

	"github.com/robfig/cron/v3"
)

type Syncer interface {
	Sync(ctx context.Context, accountID int64, feedID *int64) (syncer.Result, error)
	StartBackfill(ctx context.Context, accountID int64) *syncer.Task
}

// Conditions reports device state for accounts restricted to wifi or charging.
type Conditions interface {
	OnWiFi() bool
	Charging() bool
}

// AlwaysSatisfied is used where the device state cannot be read.
type AlwaysSatisfied struct{}

func (AlwaysSatisfied) OnWiFi() bool   { return true }
func (AlwaysSatisfied) Charging() bool { return true }

type Scheduler struct {
	ctx        context.Context
	cron       *cron.Cron
	syncer     Syncer
	conditions Conditions
	log        *slog.Logger

	mu       sync.Mutex
	active   *domain.Account
	entryID  cron.EntryID
	backfill *syncer.Task
	wg       sync.WaitGroup
}

func New(ctx context.Context, s Syncer, conditions Conditions, log *slog.Logger) *Scheduler {
	if conditions == nil {
		conditions = AlwaysSatisfied{}
	}

	return &Scheduler{
		ctx:        ctx,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		syncer:     s,
		conditions: conditions,
		log:        log,
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the timer, cancels a running back-fill and waits for in-flight ticks.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.Deactivate()
	s.wg.Wait()
}

// Activate replaces the timer of the previously active account with one for account. With
// SyncOnStart set, a sync is triggered right away in the background.
func (s *Scheduler) Activate(account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deactivateLocked()

	interval := account.SyncInterval()
	s.active = &account
	s.entryID = s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.tick(account)
	}))

	s.log.InfoContext(s.ctx, "Sync timer activated",
		"accountID", account.ID,
		"interval", interval,
		"syncOnStart", account.SyncOnStart)

	if account.SyncOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			s.tick(account)
		}()
	}
}

// Deactivate removes the timer and cancels the background back-fill of the active account.
func (s *Scheduler) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deactivateLocked()
}

func (s *Scheduler) deactivateLocked() {
	if s.active == nil {
		return
	}

	s.cron.Remove(s.entryID)
	s.backfill.Cancel()

	s.log.InfoContext(s.ctx, "Sync timer deactivated",
		"accountID", s.active.ID)

	s.active = nil
	s.entryID = 0
	s.backfill = nil
}

func (s *Scheduler) tick(account domain.Account) {
	if s.ctx.Err() != nil {
		s.log.InfoContext(s.ctx, "Scheduler context is done",
			"error", s.ctx.Err())
		return
	}

	if !s.conditionsMet(account) {
		s.log.InfoContext(s.ctx, "Skipping scheduled sync, device conditions not met",
			"accountID", account.ID,
			"onlyOnWiFi", account.SyncOnlyOnWiFi,
			"onlyWhenCharging", account.SyncOnlyWhenCharging)
		return
	}

	result, err := s.syncer.Sync(s.ctx, account.ID, nil)

	switch {
	case errors.Is(err, domain.ErrSyncInProgress):
		s.log.InfoContext(s.ctx, "Scheduled sync skipped, another sync is running",
			"accountID", account.ID)
		return
	case err != nil && result.FailedFeeds == 0:
		s.log.ErrorContext(s.ctx, "Scheduled sync failed",
			"error", err,
			"accountID", account.ID)
		return
	case err != nil:
		s.log.WarnContext(s.ctx, "Scheduled sync partially failed",
			"error", err,
			"accountID", account.ID,
			"failedFeeds", result.FailedFeeds)
	}

	s.startBackfill(account)
}

func (s *Scheduler) conditionsMet(account domain.Account) bool {
	if account.SyncOnlyOnWiFi && !s.conditions.OnWiFi() {
		return false
	}

	if account.SyncOnlyWhenCharging && !s.conditions.Charging() {
		return false
	}

	return true
}

func (s *Scheduler) startBackfill(account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.ID != account.ID {
		return
	}

	s.backfill.Cancel()
	_, _ = s.backfill.Wait()

	s.backfill = s.syncer.StartBackfill(s.ctx, account.ID)
}
