// Package blacklist decides whether an incoming article is suppressed by the account rules.
package blacklist

import (
	"strings"

	"feedsync/internal/domain"

	"github.com/samber/lo"
)

// Exceptions holds article IDs released by the user; they are never blocked.
type Exceptions map[int64]struct{}

func NewExceptions(articleIDs ...int64) Exceptions {
	return lo.Associate(articleIDs, func(id int64) (int64, struct{}) {
		return id, struct{}{}
	})
}

func (e Exceptions) Contains(articleID int64) bool {
	_, ok := e[articleID]
	return ok
}

type Verdict struct {
	Blocked bool
	Rule    *domain.BlacklistEntry
}

var Allowed = Verdict{}

// Classify returns the first rule, in list order, whose pattern occurs in the article title
// (case-insensitive) and whose feed scope covers the article. Exceptions always win.
func Classify(article domain.Article, rules []domain.BlacklistEntry, exceptions Exceptions) Verdict {
	if exceptions.Contains(article.ID) {
		return Allowed
	}

	title := strings.ToLower(article.Title)

	for i := range rules {
		if matches(title, article.FeedID, rules[i]) {
			rule := rules[i]
			return Verdict{Blocked: true, Rule: &rule}
		}
	}

	return Allowed
}

func matches(lowerTitle string, feedID int64, rule domain.BlacklistEntry) bool {
	if rule.FeedID != nil && *rule.FeedID != feedID {
		return false
	}

	pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))
	if pattern == "" {
		return false
	}

	return strings.Contains(lowerTitle, pattern)
}
