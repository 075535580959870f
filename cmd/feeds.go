package main

import (
	"fmt"
	"strings"

	"feedsync/internal/domain"

	"github.com/urfave/cli/v2"
)

func feedCmd() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Manage feeds of the account",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List feeds",
				Action: withApp(func(c *cli.Context, sess session) error {
					account, err := sess.account(c)
					if err != nil {
						return err
					}

					feeds, err := sess.app.DB.ListAccountFeeds(c.Context, account.ID)
					if err != nil {
						return err
					}

					return printFeeds(c.App.Writer, feeds)
				}),
			},
			{
				Name:      "add",
				Usage:     "Subscribe a local account to feed URLs or @channel mentions found in the arguments",
				ArgsUsage: "<text>...",
				Action: withApp(func(c *cli.Context, sess session) error {
					account, err := sess.account(c)
					if err != nil {
						return err
					}

					feeds, err := sess.app.AddFeeds(c.Context, account.ID, strings.Join(c.Args().Slice(), " "))
					for _, feed := range feeds {
						fmt.Fprintf(c.App.Writer, "Feed %d (%s) is added\n", feed.ID, feed.Name)
					}

					return err
				}),
			},
			{
				Name:      "remove",
				Usage:     "Remove a feed and its articles",
				ArgsUsage: "<feed ID>",
				Action: withApp(func(c *cli.Context, sess session) error {
					account, err := sess.account(c)
					if err != nil {
						return err
					}

					id, err := argID(c)
					if err != nil {
						return err
					}

					if _, err = sess.app.AccountFeed(c.Context, account.ID, id); err != nil {
						return err
					}

					return sess.app.DB.DeleteFeed(c.Context, id)
				}),
			},
			{
				Name:      "flags",
				Usage:     "Change local feed flags",
				ArgsUsage: "<feed ID>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "full-content",
						Usage: "Back-fill full article content",
					},
					&cli.BoolFlag{
						Name:  "open-in-browser",
						Usage: "Open articles in the browser",
					},
					&cli.BoolFlag{
						Name:  "notifications",
						Usage: "Notify about new articles",
					},
					&cli.BoolFlag{
						Name:  "rtl",
						Usage: "Render right to left",
					},
				},
				Action: withApp(func(c *cli.Context, sess session) error {
					account, err := sess.account(c)
					if err != nil {
						return err
					}

					id, err := argID(c)
					if err != nil {
						return err
					}

					feed, err := sess.app.AccountFeed(c.Context, account.ID, id)
					if err != nil {
						return err
					}

					flags := domain.FeedFlags{
						ParseFullContent:     feed.ParseFullContent,
						OpenInBrowser:        feed.OpenInBrowser,
						NotificationsEnabled: feed.NotificationsEnabled,
						RTL:                  feed.RTL,
					}

					if c.IsSet("full-content") {
						flags.ParseFullContent = c.Bool("full-content")
					}
					if c.IsSet("open-in-browser") {
						flags.OpenInBrowser = c.Bool("open-in-browser")
					}
					if c.IsSet("notifications") {
						flags.NotificationsEnabled = c.Bool("notifications")
					}
					if c.IsSet("rtl") {
						flags.RTL = c.Bool("rtl")
					}

					return sess.app.DB.UpdateFeedFlags(c.Context, id, flags)
				}),
			},
		},
	}
}

func syncCmd() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync the account now",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "feed",
				Usage: "Only sync this feed",
			},
		},
		Action: withApp(func(c *cli.Context, sess session) error {
			account, err := sess.account(c)
			if err != nil {
				return err
			}

			feedID, err := optionalFeedID(c, sess, account.ID)
			if err != nil {
				return err
			}

			result, err := sess.app.Coordinator.Sync(c.Context, account.ID, feedID)
			fmt.Fprintf(c.App.Writer, "Synced %d feeds: %d new, %d blocked, %d failed\n",
				result.Feeds, result.NewArticles, result.BlockedArticles, result.FailedFeeds)

			return err
		}),
	}
}

func backfillCmd() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Download full content for feeds that ask for it",
		Action: withApp(func(c *cli.Context, sess session) error {
			account, err := sess.account(c)
			if err != nil {
				return err
			}

			result, err := sess.app.Coordinator.Backfill(c.Context, account.ID)
			fmt.Fprintf(c.App.Writer, "Back-filled %d of %d articles, %d failed\n",
				result.Updated, result.Candidates, result.Failed)

			return err
		}),
	}
}
