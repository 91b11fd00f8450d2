// Package richtext renders model output for chat transports: a markdown
// subset to Telegram-flavored HTML, plus length-aware message splitting.
package richtext

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	codeFencePattern  = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\n?(.*?)```")
	inlineCodePattern = regexp.MustCompile("`([^`\n]+)`")
	headerPattern     = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	boldPattern       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	starItalicPattern = regexp.MustCompile(`\*([^*\n\s](?:[^*\n]*[^*\n\s])?)\*`)
	underscoreItalic  = regexp.MustCompile(`(^|\s)_([^_\n]+)_($|[\s.,!?:;)])`)
	strikePattern     = regexp.MustCompile(`~~(.+?)~~`)
	spoilerPattern    = regexp.MustCompile(`\|\|(.+?)\|\|`)
	linkPattern       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
)

// ToTelegramHTML converts the markdown subset models emit into the HTML
// Telegram accepts: bold, italic, strikethrough, spoiler, links, inline code
// and fenced blocks. Everything outside markup is entity-escaped; code
// content is escaped but never re-interpreted as markup.
func ToTelegramHTML(text string) string {
	var blocks []string
	placeholder := func(rendered string) string {
		blocks = append(blocks, rendered)
		return "\x00" + strconv.Itoa(len(blocks)-1) + "\x00"
	}

	// Code is lifted out first so nothing inside it is treated as markup.
	text = codeFencePattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := codeFencePattern.FindStringSubmatch(match)
		lang, body := groups[1], groups[2]
		body = strings.TrimSuffix(body, "\n")
		if lang != "" {
			return placeholder(fmt.Sprintf(`<pre><code class="language-%s">%s</code></pre>`, lang, html.EscapeString(body)))
		}
		return placeholder("<pre>" + html.EscapeString(body) + "</pre>")
	})
	text = inlineCodePattern.ReplaceAllStringFunc(text, func(match string) string {
		body := inlineCodePattern.FindStringSubmatch(match)[1]
		return placeholder("<code>" + html.EscapeString(body) + "</code>")
	})

	text = html.EscapeString(text)

	text = linkPattern.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = headerPattern.ReplaceAllString(text, "<b>$1</b>")
	text = boldPattern.ReplaceAllString(text, "<b>$1</b>")
	text = starItalicPattern.ReplaceAllString(text, "<i>$1</i>")
	// Adjacent underscore spans share their boundary character, so one pass
	// can leave every second span unconverted.
	for i := 0; i < 3; i++ {
		next := underscoreItalic.ReplaceAllString(text, "${1}<i>${2}</i>${3}")
		if next == text {
			break
		}
		text = next
	}
	text = strikePattern.ReplaceAllString(text, "<s>$1</s>")
	text = spoilerPattern.ReplaceAllString(text, `<span class="tg-spoiler">$1</span>`)

	for i, block := range blocks {
		text = strings.Replace(text, "\x00"+strconv.Itoa(i)+"\x00", block, 1)
	}
	return text
}
