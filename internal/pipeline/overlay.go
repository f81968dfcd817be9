package pipeline

import (
	"strings"

	"github.com/TheDoctorTTV/247-steam/internal/source"
)

const overlayTitleRunes = 60

// OverlayText composes the burned-in caption for an item. VOD items show
// title and upload date, live items show where the feed comes from.
func OverlayText(item source.Item) string {
	if item.Live {
		switch {
		case item.Platform != "" && item.Channel != "":
			return item.Platform + " • " + item.Channel
		case item.Platform != "":
			return item.Platform
		case item.Channel != "":
			return item.Channel
		}
		return truncateRunes(item.Title, overlayTitleRunes)
	}

	title := truncateRunes(item.Title, overlayTitleRunes)
	if item.UploadDate.IsZero() {
		return title
	}
	return title + " • " + item.UploadDate.Format("Jan 2, 2006")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// drawtextFilter renders text white on a translucent black box in the
// top-left corner.
func drawtextFilter(text string) string {
	return "drawtext=text='" + escapeDrawtext(text) +
		"':fontcolor=white:fontsize=24:box=1:boxcolor=black@0.5:boxborderw=5:x=10:y=10"
}

// escapeDrawtext escapes text for use inside a single-quoted drawtext
// argument. Backslashes go first so later escapes are not doubled.
func escapeDrawtext(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `:`, `\:`)
	s = strings.ReplaceAll(s, `'`, `'\''`)
	return s
}
