package composer

import (
	"fmt"
	"html"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	separator  = "----------------------------------------"
	timeLayout = "January 02, 2006 at 03:04 PM"
)

var (
	lineBreaks = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "\n")
	anyTag     = regexp.MustCompile(`<[^<]+?>`)
)

// Input is the alert content a message is rendered from.
type Input struct {
	Title      string
	Body       string
	SenderName string
	// Document, when set, is linked for download whether or not a photo
	// travels with the message.
	Document   string
}

// Composer renders alerts into Telegram HTML. It holds no mutable state.
type Composer struct {
	Location     *time.Location
	MediaBaseURL string
	Now          func() time.Time
}

func New(loc *time.Location, mediaBaseURL string) *Composer {
	if loc == nil {
		loc = time.UTC
	}
	return &Composer{Location: loc, MediaBaseURL: strings.TrimRight(mediaBaseURL, "/"), Now: time.Now}
}

// Compose builds the final message text.
func (c *Composer) Compose(in Input) string {
	body := CleanBody(in.Body)

	if strings.TrimSpace(in.Document) != "" {
		name := filepath.Base(in.Document)
		link := fmt.Sprintf("%s/media/uploads/%s", c.MediaBaseURL, url.PathEscape(name))
		body += fmt.Sprintf("\n\n%s\n\n<a href=\"%s\">🟢 Click here to download attachment (%s)</a>",
			separator, html.EscapeString(link), html.EscapeString(name))
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	stamp := now().In(c.Location).Format(timeLayout)

	return fmt.Sprintf("📢 Announcement: %s\n\n🕒 Time: %s\n\n👤 Author: %s\n\n%s\n\n📬 Message:\n\n%s",
		orNA(in.Title),
		html.EscapeString(stamp),
		orNA(in.SenderName),
		separator,
		body,
	)
}

// CleanBody turns stored rich text into plain text safe for HTML parse mode:
// entities are decoded, paragraph and line breaks become newlines, every
// other tag is dropped and the remaining text is escaped again.
func CleanBody(body string) string {
	if body == "" {
		return ""
	}
	text := html.UnescapeString(body)
	text = lineBreaks.Replace(text)
	text = anyTag.ReplaceAllString(text, "")
	return html.EscapeString(strings.TrimSpace(text))
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return html.EscapeString(s)
}
