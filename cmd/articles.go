package main

import (
	"context"

	"feedsync/internal/database"

	"github.com/urfave/cli/v2"
)

func articleCmd() *cli.Command {
	return &cli.Command{
		Name:  "article",
		Usage: "List and update articles",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List visible articles, newest first",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "feed",
						Usage: "Only articles of this feed",
					},
					&cli.BoolFlag{
						Name:  "unread",
						Usage: "Only unread articles",
					},
					&cli.BoolFlag{
						Name:  "starred",
						Usage: "Only starred articles",
					},
					&cli.StringFlag{
						Name:  "search",
						Usage: "Match title or description",
					},
					&cli.BoolFlag{
						Name:  "oldest",
						Usage: "Oldest first",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 50,
					},
					&cli.IntFlag{
						Name: "offset",
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

					articles, err := sess.app.DB.QueryArticles(c.Context, database.ArticleQuery{
						AccountID:   account.ID,
						FeedID:      feedID,
						UnreadOnly:  c.Bool("unread"),
						StarredOnly: c.Bool("starred"),
						Search:      c.String("search"),
						OldestFirst: c.Bool("oldest"),
						Limit:       c.Int("limit"),
						Offset:      c.Int("offset"),
					})
					if err != nil {
						return err
					}

					return printArticles(c.App.Writer, articles)
				}),
			},
			articleStateCmd("read", "Mark articles read", func(ctx context.Context, sess session, accountID int64, ids []int64) error {
				return sess.app.Coordinator.MarkRead(ctx, accountID, ids, true)
			}),
			articleStateCmd("unread", "Mark articles unread", func(ctx context.Context, sess session, accountID int64, ids []int64) error {
				return sess.app.Coordinator.MarkRead(ctx, accountID, ids, false)
			}),
			articleStateCmd("star", "Star articles", func(ctx context.Context, sess session, accountID int64, ids []int64) error {
				return sess.app.Coordinator.MarkStarred(ctx, accountID, ids, true)
			}),
			articleStateCmd("unstar", "Unstar articles", func(ctx context.Context, sess session, accountID int64, ids []int64) error {
				return sess.app.Coordinator.MarkStarred(ctx, accountID, ids, false)
			}),
			articleStateCmd("delete", "Delete articles locally", func(ctx context.Context, sess session, accountID int64, ids []int64) error {
				return sess.app.Coordinator.DeleteArticles(ctx, accountID, ids)
			}),
		},
	}
}

func articleStateCmd(
	name string,
	usage string,
	apply func(ctx context.Context, sess session, accountID int64, ids []int64) error,
) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<article ID>...",
		Action: withApp(func(c *cli.Context, sess session) error {
			account, err := sess.account(c)
			if err != nil {
				return err
			}

			ids, err := argIDs(c)
			if err != nil {
				return err
			}

			return apply(c.Context, sess, account.ID, ids)
		}),
	}
}
