package chat

import (
	"regexp"
	"strings"
)

// Link is a hyperlink found in message text.
type Link struct {
	Label string
	URL   string
}

var (
	// |label|(url) or [label](url)
	formattedLinkPattern = regexp.MustCompile(`(?i)\|(.*?)\|\((https?://[^\s)]+)\)|\[(.*?)\]\((https?://[^\s)]+)\)`)
	rawURLPattern        = regexp.MustCompile(`(?i)https?://[^\s<>"']+`)
)

// ReplaceLinks rewrites every link in text with fn. Formatted links take
// precedence: when any is present, bare URLs are left alone.
func ReplaceLinks(text string, fn func(Link) string) string {
	if formattedLinkPattern.MatchString(text) {
		return formattedLinkPattern.ReplaceAllStringFunc(text, func(match string) string {
			return fn(parseFormattedLink(match))
		})
	}
	return rawURLPattern.ReplaceAllStringFunc(text, func(match string) string {
		url := trimURL(match)
		return fn(Link{Label: url, URL: url}) + match[len(url):]
	})
}

// ExtractLinks returns the links in text in order of appearance.
func ExtractLinks(text string) []Link {
	var links []Link
	ReplaceLinks(text, func(l Link) string {
		links = append(links, l)
		return ""
	})
	return links
}

// FormatLinks normalises |label|(url) links to markdown [label](url).
// Markdown links and bare URLs are left unchanged.
func FormatLinks(text string) string {
	return ReplaceLinks(text, func(l Link) string {
		if l.Label == l.URL {
			return l.URL
		}
		return "[" + l.Label + "](" + l.URL + ")"
	})
}

func parseFormattedLink(match string) Link {
	m := formattedLinkPattern.FindStringSubmatch(match)
	label, url := m[1], m[2]
	if url == "" {
		label, url = m[3], m[4]
	}
	if strings.TrimSpace(label) == "" {
		label = "Link"
	}
	return Link{Label: label, URL: url}
}

// trimURL drops trailing punctuation that usually ends a sentence.
func trimURL(u string) string {
	return strings.TrimRight(u, ".,;:!?)")
}
