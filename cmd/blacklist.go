package main

import (
	"errors"
	"fmt"
	"strings"

	"feedsync/internal/domain"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
)

func blacklistCmd() *cli.Command {
	return &cli.Command{
		Name:  "blacklist",
		Usage: "Manage title blacklist rules",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Hide articles whose title contains the pattern",
				ArgsUsage: "<pattern>",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "feed",
						Usage: "Limit the rule to one feed",
					},
				},
				Action: withApp(func(c *cli.Context, sess session) error {
					account, err := sess.account(c)
					if err != nil {
						return err
					}

					pattern := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
					if pattern == "" {
						return errors.New("pattern is required")
					}

					feedID, err := optionalFeedID(c, sess, account.ID)
					if err != nil {
						return err
					}

					id, err := sess.app.DB.CreateBlacklistEntry(c.Context, domain.BlacklistEntry{
						AccountID: account.ID,
						Pattern:   pattern,
						FeedID:    feedID,
					})
					if err != nil {
						return err
					}

					fmt.Fprintf(c.App.Writer, "Rule %d is added, run \"blacklist reapply\" to hide stored articles\n", id)

					return nil
				}),
			},
			{
				Name:  "list",
				Usage: "List rules in matching order",
				Action: withApp(func(c *cli.Context, sess session) error {
					account, err := sess.account(c)
					if err != nil {
						return err
					}

					entries, err := sess.app.DB.ListBlacklistEntries(c.Context, account.ID)
					if err != nil {
						return err
					}

					return printBlacklist(c.App.Writer, entries)
				}),
			},
			{
				Name:      "remove",
				Usage:     "Remove a rule; articles it hid become visible",
				ArgsUsage: "<rule ID>",
				Action: withApp(func(c *cli.Context, sess session) error {
					account, err := sess.account(c)
					if err != nil {
						return err
					}

					id, err := argID(c)
					if err != nil {
						return err
					}

					entries, err := sess.app.DB.ListBlacklistEntries(c.Context, account.ID)
					if err != nil {
						return err
					}

					if !lo.ContainsBy(entries, func(e domain.BlacklistEntry) bool { return e.ID == id }) {
						return fmt.Errorf("rule %d does not belong to account %d", id, account.ID)
					}

					return sess.app.DB.DeleteBlacklistEntry(c.Context, id)
				}),
			},
			{
				Name:  "reapply",
				Usage: "Hide stored articles matching the current rules",
				Action: withApp(func(c *cli.Context, sess session) error {
					account, err := sess.account(c)
					if err != nil {
						return err
					}

					blocked, err := sess.app.Coordinator.ReapplyBlacklist(c.Context, account.ID)
					if err != nil {
						return err
					}

					fmt.Fprintf(c.App.Writer, "%d articles are hidden\n", blocked)

					return nil
				}),
			},
		},
	}
}

func blockedCmd() *cli.Command {
	return &cli.Command{
		Name:  "blocked",
		Usage: "Review articles hidden by the blacklist",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List hidden articles with the rule that matched",
				Action: withApp(func(c *cli.Context, sess session) error {
					account, err := sess.account(c)
					if err != nil {
						return err
					}

					blocked, err := sess.app.DB.ListBlockedArticles(c.Context, account.ID)
					if err != nil {
						return err
					}

					return printBlocked(c.App.Writer, blocked)
				}),
			},
			{
				Name:      "release",
				Usage:     "Show a hidden article and exempt it from every rule",
				ArgsUsage: "<article ID>",
				Action: withApp(func(c *cli.Context, sess session) error {
					account, err := sess.account(c)
					if err != nil {
						return err
					}

					id, err := argID(c)
					if err != nil {
						return err
					}

					return sess.app.Coordinator.ReleaseArticle(c.Context, account.ID, id)
				}),
			},
			{
				Name:      "clear",
				Usage:     "Drop an article's exemption and re-check it against the rules",
				ArgsUsage: "<article ID>",
				Action: withApp(func(c *cli.Context, sess session) error {
					account, err := sess.account(c)
					if err != nil {
						return err
					}

					id, err := argID(c)
					if err != nil {
						return err
					}

					return sess.app.Coordinator.ClearException(c.Context, account.ID, id)
				}),
			},
		},
	}
}
