package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"feedsync/internal/app"
	"feedsync/internal/config"
	"feedsync/internal/domain"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := rootApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, domain.UserMessage(err))
		os.Exit(1)
	}
}

func rootApp() *cli.App {
	return &cli.App{
		Name:  "feedsync",
		Usage: "Keep a local feed library in sync with FreshRSS, Miniflux or plain RSS",
		Description: `feedsync stores accounts, feeds and articles in a local SQLite database and
		synchronizes them with the account's aggregator.

		Settings are read from the environment or a .env file, e.g.:

		DB_PATH=feedsync.sqlite
		LOG_LEVEL=DEBUG
		METRICS_ADDR=:9090`,
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "Account ID to operate on, defaults to the current account",
				EnvVars: []string{"FEEDSYNC_ACCOUNT"},
			},
		},
		Commands: []*cli.Command{
			daemonCmd(),
			migrateCmd(),
			accountCmd(),
			feedCmd(),
			syncCmd(),
			backfillCmd(),
			articleCmd(),
			blacklistCmd(),
			blockedCmd(),
			logCmd(),
		},
	}
}

type session struct {
	app *app.App
	cfg config.Config
	log *slog.Logger
}

// withApp loads the configuration, opens the application context for the duration of action and
// closes it afterwards, waiting for background pushes.
func withApp(action func(c *cli.Context, sess session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(log)

		a, err := app.New(c.Context, cfg, nil, log)
		if err != nil {
			log.ErrorContext(c.Context, "Failed to initialize app",
				"error", err,
				"dbPath", cfg.DBPath)

			return err
		}

		start := time.Now()
		defer func() {
			if closeErr := a.Close(); closeErr != nil {
				log.ErrorContext(c.Context, "Failed to close app",
					"error", closeErr,
					"dbPath", cfg.DBPath)
			}

			log.DebugContext(c.Context, "Command is finished",
				"command", c.Command.FullName(),
				"durationSeconds", time.Since(start).Seconds())
		}()

		return action(c, session{app: a, cfg: cfg, log: log})
	}
}

// account resolves the --account flag or falls back to the current account.
func (sess session) account(c *cli.Context) (domain.Account, error) {
	if id := c.Int64("account"); id != 0 {
		return sess.app.DB.GetAccount(c.Context, id)
	}

	return sess.app.CurrentAccount()
}

func argIDs(c *cli.Context) ([]int64, error) {
	if c.NArg() == 0 {
		return nil, errors.New("at least one ID is required")
	}

	ids := make([]int64, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse ID %q: %w", arg, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func argID(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, errors.New("exactly one ID is required")
	}

	ids, err := argIDs(c)
	if err != nil {
		return 0, err
	}

	return ids[0], nil
}

func optionalFeedID(c *cli.Context, sess session, accountID int64) (*int64, error) {
	if !c.IsSet("feed") {
		return nil, nil
	}

	feed, err := sess.app.AccountFeed(c.Context, accountID, c.Int64("feed"))
	if err != nil {
		return nil, err
	}

	return &feed.ID, nil
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Applies pending migrations to the configured database. Creates the database if it does not exist.`,
		Action: withApp(func(c *cli.Context, sess session) error {
			fmt.Fprintln(c.App.Writer, "Database is up to date:", sess.cfg.DBPath)

			return nil
		}),
	}
}

func logCmd() *cli.Command {
	return &cli.Command{
		Name:  "log",
		Usage: "Show recent sync passes",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of entries to show",
				Value: 20,
			},
		},
		Action: withApp(func(c *cli.Context, sess session) error {
			account, err := sess.account(c)
			if err != nil {
				return err
			}

			logs, err := sess.app.DB.ListSyncLogs(c.Context, account.ID, c.Int("limit"))
			if err != nil {
				return err
			}

			return printSyncLogs(c.App.Writer, logs)
		}),
	}
}
