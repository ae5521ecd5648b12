package notify

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/rickgao/taskstream/internal/model"
)

// Summary lengths in runes.
const (
	TitleSummaryLen = 150
	FullSummaryLen  = 300
)

var strict = bluemonday.StrictPolicy()

// Summary renders a notification as plain text for announcements. With full
// set it joins title and body; otherwise it prefers the title.
func Summary(n model.Notification, full bool) string {
	title, body := plain(n.Title), plain(n.Body)

	var text string
	limit := TitleSummaryLen
	switch {
	case full && title != "" && body != "":
		text = title + ". " + body
		limit = FullSummaryLen
	case full:
		text = title + body
		limit = FullSummaryLen
	case title != "":
		text = title
	default:
		text = body
	}
	return truncate(text, limit)
}

// plain strips markup and collapses whitespace.
func plain(s string) string {
	s = html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
