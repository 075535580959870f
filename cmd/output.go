package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/summarizer"
)

const titleColumnRunes = 60

func newTable(w io.Writer, header string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header)

	return tw
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.Local().Format(time.DateTime)
}

func formatFeedID(feedID *int64) string {
	if feedID == nil {
		return "all"
	}

	return strconv.FormatInt(*feedID, 10)
}

func mark(ok bool, symbol string) string {
	if ok {
		return symbol
	}

	return " "
}

func printAccounts(w io.Writer, accounts []domain.Account, currentID int64) error {
	tw := newTable(w, " \tID\tKIND\tNAME\tSERVER\tINTERVAL\tMAX DAYS")

	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%d\n",
			mark(a.ID == currentID, "*"), a.ID, a.Kind, a.Name, a.ServerURL, a.SyncInterval(), a.MaxPastDays)
	}

	return tw.Flush()
}

func printFeeds(w io.Writer, feeds []domain.Feed) error {
	tw := newTable(w, "ID\tNAME\tGROUP\tFULL\tLAST SYNC\tURL")

	for _, f := range feeds {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			f.ID, f.Name, f.GroupID, mark(f.ParseFullContent, "+"), formatTime(f.LastSyncedAt), f.URL)
	}

	return tw.Flush()
}

func printArticles(w io.Writer, articles []domain.Article) error {
	tw := newTable(w, "ID\tFEED\tR\tS\tPUBLISHED\tTITLE")

	for _, a := range articles {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			a.ID, a.FeedID, mark(a.IsRead, "r"), mark(a.IsStarred, "*"), formatTime(a.PublishedAt),
			summarizer.Excerpt(a.Title, titleColumnRunes))
	}

	return tw.Flush()
}

func printBlacklist(w io.Writer, entries []domain.BlacklistEntry) error {
	tw := newTable(w, "ID\tFEED\tPATTERN")

	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.ID, formatFeedID(e.FeedID), e.Pattern)
	}

	return tw.Flush()
}

func printBlocked(w io.Writer, blocked []domain.BlockedArticle) error {
	tw := newTable(w, "ID\tFEED\tRULE\tPATTERN\tBLOCKED\tTITLE")

	for _, b := range blocked {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n",
			b.Article.ID, b.Article.FeedID, b.EntryID, b.Pattern, formatTime(b.BlockedAt),
			summarizer.Excerpt(b.Article.Title, titleColumnRunes))
	}

	return tw.Flush()
}

func printSyncLogs(w io.Writer, logs []domain.SyncLog) error {
	tw := newTable(w, "ID\tFEED\tSTARTED\tTOOK\tNEW\tBLOCKED\tFAILED\tERROR")

	for _, l := range logs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			l.ID, formatFeedID(l.FeedID), formatTime(l.StartedAt), l.FinishedAt.Sub(l.StartedAt).Round(time.Millisecond),
			l.NewArticles, l.BlockedArticles, l.FailedFeeds, l.Error)
	}

	return tw.Flush()
}
