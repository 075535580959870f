package main

import (
	"fmt"

	"feedsync/internal/domain"

	"github.com/urfave/cli/v2"
)

func accountCmd() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Manage accounts",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add an account after checking its login",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "kind",
						Usage:    "Account kind: freshrss, miniflux or local",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Display name",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "server",
						Usage: "Aggregator base URL",
					},
					&cli.StringFlag{
						Name:  "user",
						Usage: "Login name, leave empty to use a Miniflux API token as password",
					},
					&cli.StringFlag{
						Name:    "password",
						Usage:   "Password or API token",
						EnvVars: []string{"FEEDSYNC_PASSWORD"},
					},
					&cli.Int64Flag{
						Name:  "interval",
						Usage: "Sync interval in minutes",
						Value: 60,
					},
					&cli.Int64Flag{
						Name:  "max-past-days",
						Usage: "Never fetch articles older than this many days",
						Value: 7,
					},
					&cli.BoolFlag{
						Name:  "sync-on-start",
						Usage: "Sync as soon as the account becomes active",
					},
					&cli.BoolFlag{
						Name:  "wifi-only",
						Usage: "Only run scheduled syncs on wifi",
					},
					&cli.BoolFlag{
						Name:  "charging-only",
						Usage: "Only run scheduled syncs while charging",
					},
				},
				Action: withApp(func(c *cli.Context, sess session) error {
					kind := domain.AccountKind(c.String("kind"))
					switch kind {
					case domain.AccountKindFreshRSS, domain.AccountKindMiniflux, domain.AccountKindLocal:
					default:
						return fmt.Errorf("unsupported account kind %q", kind)
					}

					account, err := sess.app.AddAccount(c.Context, domain.Account{
						Kind:                 kind,
						Name:                 c.String("name"),
						ServerURL:            c.String("server"),
						Username:             c.String("user"),
						SyncIntervalMinutes:  c.Int64("interval"),
						MaxPastDays:          c.Int64("max-past-days"),
						SyncOnStart:          c.Bool("sync-on-start"),
						SyncOnlyOnWiFi:       c.Bool("wifi-only"),
						SyncOnlyWhenCharging: c.Bool("charging-only"),
					}, c.String("password"))
					if err != nil {
						return err
					}

					fmt.Fprintf(c.App.Writer, "Account %d (%s) is added\n", account.ID, account.Name)

					return nil
				}),
			},
			{
				Name:  "list",
				Usage: "List accounts",
				Action: withApp(func(c *cli.Context, sess session) error {
					accounts, err := sess.app.DB.ListAccounts(c.Context)
					if err != nil {
						return err
					}

					var currentID int64
					if current, currentErr := sess.app.CurrentAccount(); currentErr == nil {
						currentID = current.ID
					}

					return printAccounts(c.App.Writer, accounts, currentID)
				}),
			},
			{
				Name:      "use",
				Usage:     "Make an account the current one",
				ArgsUsage: "<account ID>",
				Action: withApp(func(c *cli.Context, sess session) error {
					id, err := argID(c)
					if err != nil {
						return err
					}

					account, err := sess.app.SwitchAccount(c.Context, id)
					if err != nil {
						return err
					}

					fmt.Fprintf(c.App.Writer, "Current account is %d (%s)\n", account.ID, account.Name)

					return nil
				}),
			},
			{
				Name:      "remove",
				Usage:     "Remove an account with all its feeds and articles",
				ArgsUsage: "<account ID>",
				Action: withApp(func(c *cli.Context, sess session) error {
					id, err := argID(c)
					if err != nil {
						return err
					}

					return sess.app.RemoveAccount(c.Context, id)
				}),
			},
		},
	}
}
